package notify

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"banwatch/internal/detect"
)

// Telegram delivers notifications through an existing telebot handle,
// shared with the command front-end.
type Telegram struct {
	bot *tele.Bot
}

// NewTelegram creates a Telegram notifier over bot.
func NewTelegram(bot *tele.Bot) *Telegram {
	return &Telegram{bot: bot}
}

func (t *Telegram) Platform() string { return PlatformTelegram }

func (t *Telegram) Send(ctx context.Context, dest Destination, ev detect.Event, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := t.bot.Send(tele.ChatID(dest.ChatID), telegramText(ev, username), &tele.SendOptions{
		ParseMode:             tele.ModeMarkdown,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("send telegram message to %d: %w", dest.ChatID, err)
	}
	return nil
}

func telegramText(ev detect.Event, username string) string {
	title, body := Content(ev, fmt.Sprintf("*@%s*", username))
	return fmt.Sprintf("*%s*\n%s\n[Open on Instagram](%s)", title, body, ProfileURL(username))
}
