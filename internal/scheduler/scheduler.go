// Package scheduler drives the periodic poll of all active subscriptions.
// One scheduling stream checks identifiers sequentially with a randomized
// pause in between, so outbound requests never burst.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"banwatch/internal/detect"
	"banwatch/internal/store"
	"banwatch/pkg/notify"
	"banwatch/pkg/source"
)

// Options controls tick pacing.
type Options struct {
	// Interval between ticks. Defaults to 5 minutes.
	Interval time.Duration
	// MinPause/MaxPause bound the uniform random delay between
	// identifiers within a tick. Default [2s, 5s].
	MinPause time.Duration
	MaxPause time.Duration
}

// Scheduler runs the poll loop over all active subscriptions.
type Scheduler struct {
	store     store.Store
	src       source.Source
	notifiers *notify.Registry
	opts      Options
	log       zerolog.Logger
}

// New creates a scheduler. Zero option fields get defaults.
func New(st store.Store, src source.Source, notifiers *notify.Registry, opts Options, log zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.MinPause <= 0 {
		opts.MinPause = 2 * time.Second
	}
	if opts.MaxPause < opts.MinPause {
		opts.MaxPause = opts.MinPause + 3*time.Second
	}
	return &Scheduler{
		store:     st,
		src:       src,
		notifiers: notifiers,
		opts:      opts,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled. Polling starts only once ready is
// closed; the host gates this on its chat platform connection.
func (s *Scheduler) Run(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
	}

	s.log.Info().Dur("interval", s.opts.Interval).Msg("monitoring started")
	s.Tick(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("monitoring stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick polls every active subscription once. Each identifier is fetched a
// single time per tick, then notifications fan out to all destinations
// subscribed to it. Any per-identifier failure is logged and isolated.
func (s *Scheduler) Tick(ctx context.Context) {
	subs, err := s.store.ListActiveSubscriptions(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list active subscriptions")
		return
	}
	if len(subs) == 0 {
		return
	}

	order, byUser := groupByIdentifier(subs)
	for i, username := range order {
		if i > 0 {
			if !s.pause(ctx) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		s.checkOne(ctx, username, byUser[username])
	}
}

// checkOne runs fetch -> read previous -> persist -> classify -> notify
// for a single identifier. Persistence failures abort this identifier
// only; delivery failures are logged per destination.
func (s *Scheduler) checkOne(ctx context.Context, username string, subs []store.Subscription) {
	log := s.log.With().Str("username", username).Logger()

	res, err := s.src.Fetch(ctx, username)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Treat an unattemptable fetch like any transient failure.
		log.Warn().Err(err).Msg("fetch failed")
		res = source.Result{Status: source.StatusError}
	}

	prev, err := s.store.LastStatus(ctx, username)
	if err != nil {
		log.Error().Err(err).Msg("read last status")
		return
	}

	if err := s.store.AppendSample(ctx, username, res.Status, res.Profile); err != nil {
		log.Error().Err(err).Msg("append sample")
		return
	}

	var previous source.Status
	if prev != nil {
		previous = prev.Status
	}
	ev, ok := detect.Classify(previous, res.Status)
	if !ok {
		return
	}

	// The event row must be durable before any delivery attempt.
	if ev.Persistent() {
		if err := s.store.AppendEvent(ctx, username, ev.Kind); err != nil {
			log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("append event")
			return
		}
	}

	log.Info().
		Str("kind", string(ev.Kind)).
		Str("previous", string(ev.Previous)).
		Str("current", string(ev.Current)).
		Msg("transition detected")

	for _, sub := range subs {
		dest := notify.Destination{Platform: sub.Platform, ChatID: sub.ChatID}
		if err := s.notifiers.Dispatch(ctx, dest, ev, username); err != nil {
			log.Warn().Err(err).
				Str("platform", sub.Platform).
				Int64("chat_id", sub.ChatID).
				Msg("notification delivery failed")
		}
	}
}

// pause sleeps for a uniform random duration in [MinPause, MaxPause].
// Returns false if ctx was cancelled while waiting.
func (s *Scheduler) pause(ctx context.Context) bool {
	span := s.opts.MaxPause - s.opts.MinPause
	delay := s.opts.MinPause
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// groupByIdentifier collapses subscriptions to one poll per identifier,
// preserving the listing order.
func groupByIdentifier(subs []store.Subscription) ([]string, map[string][]store.Subscription) {
	byUser := make(map[string][]store.Subscription)
	var order []string
	for _, sub := range subs {
		if _, seen := byUser[sub.Username]; !seen {
			order = append(order, sub.Username)
		}
		byUser[sub.Username] = append(byUser[sub.Username], sub)
	}
	return order, byUser
}
