// Package detect classifies consecutive status samples into notification
// events. Classification is a pure function of the (previous, current) pair.
package detect

import "banwatch/pkg/source"

// Kind names a notification-worthy transition.
type Kind string

const (
	KindBanned       Kind = "banned"
	KindUnbanned     Kind = "unbanned"
	KindStatusChange Kind = "status_change"
)

// Severity drives how notifiers frame the message.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityPositive Severity = "positive"
	SeverityInfo     Severity = "info"
)

// Event describes a classified transition between two samples.
type Event struct {
	Kind     Kind
	Severity Severity
	Previous source.Status
	Current  source.Status
}

// Persistent reports whether the event is recorded in the transition log.
// Only banned/unbanned transitions are persisted; routine status changes
// are notified but not stored as events.
func (e Event) Persistent() bool {
	return e.Kind == KindBanned || e.Kind == KindUnbanned
}

// Classify decides whether the pair (previous, current) is notification
// worthy. previous == "" means no prior sample exists. Rules, in priority
// order:
//
//  1. active/private -> not_found: banned, critical
//  2. not_found -> active/private: unbanned, positive
//  3. any other change with a defined previous: status_change, info
//  4. first sample or no change: no event
func Classify(previous, current source.Status) (Event, bool) {
	if previous == "" || previous == current {
		return Event{}, false
	}

	ev := Event{Previous: previous, Current: current}
	switch {
	case accessible(previous) && current == source.StatusNotFound:
		ev.Kind, ev.Severity = KindBanned, SeverityCritical
	case previous == source.StatusNotFound && accessible(current):
		ev.Kind, ev.Severity = KindUnbanned, SeverityPositive
	default:
		ev.Kind, ev.Severity = KindStatusChange, SeverityInfo
	}
	return ev, true
}

func accessible(s source.Status) bool {
	return s == source.StatusActive || s == source.StatusPrivate
}
