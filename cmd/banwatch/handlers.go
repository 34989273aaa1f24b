package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"banwatch/internal/bot"
	"banwatch/internal/config"
	"banwatch/internal/scheduler"
	"banwatch/internal/store"
	"banwatch/pkg/notify"
	"banwatch/pkg/server"
	"banwatch/pkg/source"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func buildSource(cfg *config.Config) (source.Source, error) {
	return source.NewInstagram(cfg.Source.ProxyURL, cfg.Source.ParseTimeout())
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := newLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	src, err := buildSource(cfg)
	if err != nil {
		return fmt.Errorf("build source: %w", err)
	}

	var notifiers []notify.Notifier
	var gates []<-chan struct{}
	var tgBot *bot.Bot
	if cfg.Telegram.Enabled {
		tgBot, err = bot.New(cfg.Telegram.Token, db, log)
		if err != nil {
			return fmt.Errorf("start telegram bot: %w", err)
		}
		notifiers = append(notifiers, tgBot.Notifier())
		gates = append(gates, tgBot.Ready())
	}
	var dcBot *bot.Discord
	if cfg.Discord.Enabled {
		dcBot, err = bot.NewDiscord(cfg.Discord.Token, db, log)
		if err != nil {
			return fmt.Errorf("start discord bot: %w", err)
		}
		notifiers = append(notifiers, dcBot.Notifier())
		gates = append(gates, dcBot.Ready())
	}
	registry := notify.NewRegistry(notifiers...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(db, src, registry, scheduler.Options{
		Interval: cfg.Schedule.ParsePollInterval(),
		MinPause: cfg.Schedule.ParseMinPause(),
		MaxPause: cfg.Schedule.ParseMaxPause(),
	}, log)

	if dcBot != nil {
		go func() {
			if err := dcBot.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("discord bot error")
			}
		}()
	}

	go func() {
		// Polling starts once every enabled bot is connected.
		if err := sched.Run(ctx, allReady(gates...)); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("scheduler error")
		}
	}()

	if cfg.Server.Enabled {
		srv := server.New(db, cfg.Server.Port, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("status api error")
			}
		}()
	}

	if tgBot != nil {
		tgBot.Start(ctx)
		return nil
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

// allReady returns a channel closed once every gate has closed. With no
// gates it is closed immediately.
func allReady(gates ...<-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		for _, gate := range gates {
			<-gate
		}
		close(out)
	}()
	return out
}

func runCheck(username string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	src, err := buildSource(cfg)
	if err != nil {
		return fmt.Errorf("build source: %w", err)
	}

	username = source.Normalize(username)
	res, err := src.Fetch(context.Background(), username)
	if err != nil {
		return fmt.Errorf("fetch @%s: %w", username, err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("@%s: %s\n", username, res.Status)
	if res.Profile != nil {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "name\t%s\n", res.Profile.FullName)
		fmt.Fprintf(w, "followers\t%d\n", res.Profile.Followers)
		fmt.Fprintf(w, "following\t%d\n", res.Profile.Following)
		fmt.Fprintf(w, "posts\t%d\n", res.Profile.Posts)
		fmt.Fprintf(w, "private\t%t\n", res.Profile.Private)
		fmt.Fprintf(w, "verified\t%t\n", res.Profile.Verified)
		return w.Flush()
	}
	return nil
}

func runWatch(username, platform string, chatID, requester int64) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	username = source.Normalize(username)
	if username == "" {
		return fmt.Errorf("username is empty")
	}
	if platform != notify.PlatformTelegram && platform != notify.PlatformDiscord {
		return fmt.Errorf("unknown platform %q", platform)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sub := store.Subscription{
		Username:    username,
		Platform:    platform,
		ChatID:      chatID,
		RequesterID: requester,
	}
	if err := db.UpsertSubscription(context.Background(), sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	fmt.Printf("now monitoring @%s for %s chat %d\n", username, platform, chatID)
	return nil
}

func runSubs() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	subs, err := db.ListSubscriptions(context.Background())
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	if len(subs) == 0 {
		fmt.Println("no subscriptions (add one: banwatch watch <username> --chat <id>)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tPLATFORM\tCHAT\tACTIVE\tCREATED")
	for _, sub := range subs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
			sub.Username, sub.Platform, sub.ChatID, sub.Active,
			sub.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runHistory(username string, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	username = source.Normalize(username)
	ctx := context.Background()

	samples, err := db.ListSamples(ctx, username, limit)
	if err != nil {
		return fmt.Errorf("list samples: %w", err)
	}
	events, err := db.ListEvents(ctx, username, limit)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if len(events) > 0 {
		fmt.Println("events:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tDETECTED")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\n", ev.Kind, ev.DetectedAt.Format(time.RFC3339))
		}
		w.Flush()
		fmt.Println()
	}

	if len(samples) == 0 {
		fmt.Printf("no samples recorded for @%s\n", username)
		return nil
	}

	fmt.Println("samples:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tFOLLOWERS\tOBSERVED")
	for _, sm := range samples {
		followers := "-"
		if sm.FollowerCount.Valid {
			followers = fmt.Sprintf("%d", sm.FollowerCount.Int64)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", sm.Status, followers, sm.ObservedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
