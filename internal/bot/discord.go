package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"banwatch/internal/store"
	"banwatch/pkg/notify"
	"banwatch/pkg/source"
)

// discordReplier is the slice of *discordgo.Session the command handlers
// need to answer in-channel.
type discordReplier interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord hosts the Discord command front-end over a gateway session.
type Discord struct {
	session *discordgo.Session
	store   store.Store
	log     zerolog.Logger
	ready   chan struct{}
	once    sync.Once
}

// NewDiscord creates the Discord bot. The token must be non-empty. The
// gateway connection is opened by Start.
func NewDiscord(token string, st store.Store, log zerolog.Logger) (*Discord, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("discord token is empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Discord{
		session: session,
		store:   st,
		log:     log.With().Str("component", "discord-bot").Logger(),
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once the gateway reports the session ready. The
// scheduler uses this as part of its start gate.
func (d *Discord) Ready() <-chan struct{} { return d.ready }

// Notifier returns a Discord notifier sharing this bot's session.
func (d *Discord) Notifier() *notify.Discord { return notify.NewDiscord(d.session) }

// Start opens the gateway connection and blocks until ctx is done.
func (d *Discord) Start(ctx context.Context) error {
	d.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.log.Info().Str("bot", r.User.Username).Msg("discord gateway ready")
		d.once.Do(func() { close(d.ready) })
	})
	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.dispatch(s, m)
	})
	d.session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}

	<-ctx.Done()
	return d.session.Close()
}

// dispatch routes slash-prefixed chat messages to command handlers.
func (d *Discord) dispatch(r discordReplier, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	fields := strings.Fields(m.Content)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}

	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/ban":
		d.handleBan(r, m, arg)
	case "/unban":
		d.handleUnban(r, m, arg)
	case "/list":
		d.handleList(r, m)
	case "/history":
		d.handleHistory(r, m, arg)
	}
}

func (d *Discord) reply(r discordReplier, channelID, text string) {
	if _, err := r.ChannelMessageSend(channelID, text); err != nil {
		d.log.Warn().Err(err).Str("channel", channelID).Msg("reply failed")
	}
}

func (d *Discord) handleBan(r discordReplier, m *discordgo.MessageCreate, arg string) {
	username := source.Normalize(arg)
	if username == "" {
		d.reply(r, m.ChannelID, "❌ Please provide a valid username. Usage: /ban <username>")
		return
	}

	chatID, err := strconv.ParseInt(m.ChannelID, 10, 64)
	if err != nil {
		d.log.Error().Err(err).Str("channel", m.ChannelID).Msg("unparseable channel id")
		return
	}
	requesterID, _ := strconv.ParseInt(m.Author.ID, 10, 64)

	sub := store.Subscription{
		Username:    username,
		Platform:    notify.PlatformDiscord,
		ChatID:      chatID,
		RequesterID: requesterID,
	}
	if err := d.store.UpsertSubscription(context.Background(), sub); err != nil {
		d.log.Error().Err(err).Str("username", username).Msg("subscribe failed")
		d.reply(r, m.ChannelID, "⚠️ Could not save the subscription, try again later.")
		return
	}
	d.reply(r, m.ChannelID, fmt.Sprintf("✅ Now monitoring **@%s** for ban/unban events.", username))
}

func (d *Discord) handleUnban(r discordReplier, m *discordgo.MessageCreate, arg string) {
	username := source.Normalize(arg)
	if username == "" {
		d.reply(r, m.ChannelID, "❌ Please provide a valid username. Usage: /unban <username>")
		return
	}

	chatID, err := strconv.ParseInt(m.ChannelID, 10, 64)
	if err != nil {
		d.log.Error().Err(err).Str("channel", m.ChannelID).Msg("unparseable channel id")
		return
	}

	if err := d.store.DeactivateSubscription(context.Background(), username, notify.PlatformDiscord, chatID); err != nil {
		d.log.Error().Err(err).Str("username", username).Msg("unsubscribe failed")
		d.reply(r, m.ChannelID, "⚠️ Could not update the subscription, try again later.")
		return
	}
	d.reply(r, m.ChannelID, fmt.Sprintf("🛑 Stopped monitoring **@%s** in this channel.", username))
}

func (d *Discord) handleList(r discordReplier, m *discordgo.MessageCreate) {
	subs, err := d.store.ListActiveSubscriptions(context.Background())
	if err != nil {
		d.log.Error().Err(err).Msg("list subscriptions failed")
		d.reply(r, m.ChannelID, "⚠️ Could not read subscriptions, try again later.")
		return
	}

	var lines []string
	for _, sub := range subs {
		if sub.Platform == notify.PlatformDiscord && strconv.FormatInt(sub.ChatID, 10) == m.ChannelID {
			lines = append(lines, "• @"+sub.Username)
		}
	}
	if len(lines) == 0 {
		d.reply(r, m.ChannelID, "No profiles monitored in this channel. Use /ban <username> to add one.")
		return
	}
	d.reply(r, m.ChannelID, "Monitored profiles:\n"+strings.Join(lines, "\n"))
}

func (d *Discord) handleHistory(r discordReplier, m *discordgo.MessageCreate, arg string) {
	username := source.Normalize(arg)
	if username == "" {
		d.reply(r, m.ChannelID, "❌ Please provide a valid username. Usage: /history <username>")
		return
	}

	events, err := d.store.ListEvents(context.Background(), username, 10)
	if err != nil {
		d.log.Error().Err(err).Str("username", username).Msg("list events failed")
		d.reply(r, m.ChannelID, "⚠️ Could not read event history, try again later.")
		return
	}
	if len(events) == 0 {
		d.reply(r, m.ChannelID, fmt.Sprintf("No ban/unban events recorded for @%s yet.", username))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Events for @%s:\n", username)
	for _, ev := range events {
		fmt.Fprintf(&sb, "• %s — %s\n", ev.DetectedAt.Format("2006-01-02 15:04"), ev.Kind)
	}
	d.reply(r, m.ChannelID, sb.String())
}
