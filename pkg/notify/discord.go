package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"banwatch/internal/detect"
)

// DiscordSession is the slice of *discordgo.Session the notifier uses.
type DiscordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord delivers notifications as embeds through a gateway session,
// shared with the Discord command front-end.
type Discord struct {
	session DiscordSession
}

// NewDiscord creates a Discord notifier over session.
func NewDiscord(session DiscordSession) *Discord {
	return &Discord{session: session}
}

func (d *Discord) Platform() string { return PlatformDiscord }

func (d *Discord) Send(ctx context.Context, dest Destination, ev detect.Event, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	title, body := Content(ev, fmt.Sprintf("**@%s**", username))
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: body,
		Color:       embedColor(ev.Severity),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "📱 Profile Link",
				Value: fmt.Sprintf("[Open on Instagram](%s)", ProfileURL(username)),
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Detected at: " + time.Now().UTC().Format("2006-01-02 15:04:05"),
		},
	}

	if _, err := d.session.ChannelMessageSendEmbed(strconv.FormatInt(dest.ChatID, 10), embed); err != nil {
		return fmt.Errorf("send discord message to %d: %w", dest.ChatID, err)
	}
	return nil
}

func embedColor(sev detect.Severity) int {
	switch sev {
	case detect.SeverityCritical:
		return 0xFF4444
	case detect.SeverityPositive:
		return 0x00FF00
	default:
		return 0x0099FF
	}
}
