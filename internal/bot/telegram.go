// Package bot hosts the Telegram command front-end: subscriptions are
// created from chat commands, and the scheduler's start is gated on the
// bot's long poller being up.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"banwatch/internal/store"
	"banwatch/pkg/notify"
	"banwatch/pkg/source"
)

// readyPoller closes ready when the bot begins pulling updates, so the
// gate reflects actual polling rather than construction.
type readyPoller struct {
	tele.Poller
	ready chan struct{}
	once  sync.Once
}

func (p *readyPoller) Poll(b *tele.Bot, dest chan tele.Update, stop chan struct{}) {
	p.once.Do(func() { close(p.ready) })
	p.Poller.Poll(b, dest, stop)
}

// Bot wraps a telebot long poller over the shared store.
type Bot struct {
	bot   *tele.Bot
	store store.Store
	log   zerolog.Logger
	ready chan struct{}
}

// New creates the Telegram bot. The token must be non-empty.
func New(token string, st store.Store, log zerolog.Logger) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	poller := &readyPoller{
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		ready:  make(chan struct{}),
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: poller,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Bot{
		bot:   b,
		store: st,
		log:   log.With().Str("component", "bot").Logger(),
		ready: poller.ready,
	}, nil
}

// Ready is closed once the bot begins polling. The scheduler uses this
// as its start gate.
func (b *Bot) Ready() <-chan struct{} { return b.ready }

// Notifier returns a Telegram notifier sharing this bot's handle.
func (b *Bot) Notifier() *notify.Telegram { return notify.NewTelegram(b.bot) }

// Start registers command handlers and blocks polling until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/ban", b.handleBan)
	b.bot.Handle("/unban", b.handleUnban)
	b.bot.Handle("/list", b.handleList)
	b.bot.Handle("/history", b.handleHistory)

	go func() {
		<-ctx.Done()
		b.bot.Stop()
	}()

	b.log.Info().Str("bot", b.bot.Me.Username).Msg("telegram bot starting")
	b.bot.Start()
}

func (b *Bot) handleStart(c tele.Context) error {
	return c.Send("Hello! I watch profiles for ban/unban events. Use /ban <username> to start.")
}

func (b *Bot) handleBan(c tele.Context) error {
	username := source.Normalize(c.Message().Payload)
	if username == "" {
		return c.Send("❌ Please provide a valid username. Usage: /ban <username>")
	}

	sub := store.Subscription{
		Username:    username,
		Platform:    notify.PlatformTelegram,
		ChatID:      c.Chat().ID,
		RequesterID: c.Sender().ID,
	}
	if err := b.store.UpsertSubscription(context.Background(), sub); err != nil {
		b.log.Error().Err(err).Str("username", username).Msg("subscribe failed")
		return c.Send("⚠️ Could not save the subscription, try again later.")
	}
	return c.Send(fmt.Sprintf("✅ Now monitoring *@%s* for ban/unban events.", username), tele.ModeMarkdown)
}

func (b *Bot) handleUnban(c tele.Context) error {
	username := source.Normalize(c.Message().Payload)
	if username == "" {
		return c.Send("❌ Please provide a valid username. Usage: /unban <username>")
	}

	err := b.store.DeactivateSubscription(context.Background(), username, notify.PlatformTelegram, c.Chat().ID)
	if err != nil {
		b.log.Error().Err(err).Str("username", username).Msg("unsubscribe failed")
		return c.Send("⚠️ Could not update the subscription, try again later.")
	}
	return c.Send(fmt.Sprintf("🛑 Stopped monitoring *@%s* in this chat.", username), tele.ModeMarkdown)
}

func (b *Bot) handleList(c tele.Context) error {
	subs, err := b.store.ListActiveSubscriptions(context.Background())
	if err != nil {
		b.log.Error().Err(err).Msg("list subscriptions failed")
		return c.Send("⚠️ Could not read subscriptions, try again later.")
	}

	var lines []string
	for _, sub := range subs {
		if sub.Platform == notify.PlatformTelegram && sub.ChatID == c.Chat().ID {
			lines = append(lines, "• @"+sub.Username)
		}
	}
	if len(lines) == 0 {
		return c.Send("No profiles monitored in this chat. Use /ban <username> to add one.")
	}
	return c.Send("Monitored profiles:\n" + strings.Join(lines, "\n"))
}

func (b *Bot) handleHistory(c tele.Context) error {
	username := source.Normalize(c.Message().Payload)
	if username == "" {
		return c.Send("❌ Please provide a valid username. Usage: /history <username>")
	}

	events, err := b.store.ListEvents(context.Background(), username, 10)
	if err != nil {
		b.log.Error().Err(err).Str("username", username).Msg("list events failed")
		return c.Send("⚠️ Could not read event history, try again later.")
	}
	if len(events) == 0 {
		return c.Send(fmt.Sprintf("No ban/unban events recorded for @%s yet.", username))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Events for @%s:\n", username)
	for _, ev := range events {
		fmt.Fprintf(&sb, "• %s — %s\n", ev.DetectedAt.Format("2006-01-02 15:04"), ev.Kind)
	}
	return c.Send(sb.String())
}
