// Package notify delivers transition notifications to chat destinations.
// Each platform implementation owns its own markup and transport; the
// registry routes by the platform tag stored on the subscription.
package notify

import (
	"context"
	"fmt"

	"banwatch/internal/detect"
)

// Platform tags stored on subscriptions.
const (
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"
)

// Destination is an addressable notification target.
type Destination struct {
	Platform string
	ChatID   int64
}

// Notifier delivers an event notification for one platform.
type Notifier interface {
	Platform() string
	Send(ctx context.Context, dest Destination, ev detect.Event, username string) error
}

// Registry routes notifications to the notifier matching the
// destination's platform tag.
type Registry struct {
	byPlatform map[string]Notifier
}

// NewRegistry creates a registry over the given notifiers.
func NewRegistry(notifiers ...Notifier) *Registry {
	r := &Registry{byPlatform: make(map[string]Notifier, len(notifiers))}
	for _, n := range notifiers {
		r.byPlatform[n.Platform()] = n
	}
	return r
}

// HasNotifiers returns true if at least one notifier is registered.
func (r *Registry) HasNotifiers() bool {
	return len(r.byPlatform) > 0
}

// Dispatch sends the event to the destination via its platform notifier.
func (r *Registry) Dispatch(ctx context.Context, dest Destination, ev detect.Event, username string) error {
	n, ok := r.byPlatform[dest.Platform]
	if !ok {
		return fmt.Errorf("no notifier for platform %q", dest.Platform)
	}
	return n.Send(ctx, dest, ev, username)
}

// Content returns the headline and body for an event. handle is the
// profile handle already wrapped in the caller's emphasis markup
// ("*@foo*" on Telegram, "**@foo**" on Discord).
func Content(ev detect.Event, handle string) (title, body string) {
	switch ev.Kind {
	case detect.KindBanned:
		return "🚨 PROFILE BANNED/DELETED!",
			fmt.Sprintf("%s has become inaccessible!", handle)
	case detect.KindUnbanned:
		return "🎉 PROFILE IS BACK!",
			fmt.Sprintf("%s is now accessible again.", handle)
	default:
		return "📊 Status Change",
			fmt.Sprintf("%s status changed from `%s` to `%s`.", handle, ev.Previous, ev.Current)
	}
}

// ProfileURL returns the public link for a profile identifier.
func ProfileURL(username string) string {
	return "https://instagram.com/" + username
}
