package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"banwatch/internal/detect"
	"banwatch/internal/store"
	"banwatch/pkg/notify"
	"banwatch/pkg/source"
)

type fakeSource struct {
	mu      sync.Mutex
	results map[string]source.Result
	errs    map[string]error
	fetched []string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, username string) (source.Result, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, username)
	f.mu.Unlock()
	if err := f.errs[username]; err != nil {
		return source.Result{}, err
	}
	return f.results[username], nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type sentNotification struct {
	dest     notify.Destination
	event    detect.Event
	username string
}

type fakeNotifier struct {
	platform string
	fail     bool
	sent     []sentNotification
}

func (f *fakeNotifier) Platform() string { return f.platform }

func (f *fakeNotifier) Send(ctx context.Context, dest notify.Destination, ev detect.Event, username string) error {
	f.sent = append(f.sent, sentNotification{dest: dest, event: ev, username: username})
	if f.fail {
		return errors.New("delivery failed")
	}
	return nil
}

func testSetup(t *testing.T) (*store.SQLiteStore, *fakeSource, *fakeNotifier, *Scheduler) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "banwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	src := &fakeSource{results: make(map[string]source.Result), errs: make(map[string]error)}
	n := &fakeNotifier{platform: notify.PlatformTelegram}
	sched := New(st, src, notify.NewRegistry(n), Options{
		Interval: time.Hour,
		MinPause: time.Millisecond,
		MaxPause: 2 * time.Millisecond,
	}, zerolog.Nop())
	return st, src, n, sched
}

func subscribe(t *testing.T, st store.Store, username string, chatID int64) {
	t.Helper()
	err := st.UpsertSubscription(context.Background(), store.Subscription{
		Username: username,
		Platform: notify.PlatformTelegram,
		ChatID:   chatID,
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", username, err)
	}
}

func TestFirstSampleProducesNoNotification(t *testing.T) {
	st, src, n, sched := testSetup(t)
	ctx := context.Background()

	subscribe(t, st, "foo", 100)
	src.results["foo"] = source.Result{Status: source.StatusActive}

	sched.Tick(ctx)

	if len(n.sent) != 0 {
		t.Fatalf("expected no notifications, got %d", len(n.sent))
	}
	samples, _ := st.ListSamples(ctx, "foo", 0)
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample row, got %d", len(samples))
	}
	events, _ := st.ListEvents(ctx, "foo", 0)
	if len(events) != 0 {
		t.Fatalf("expected no event rows, got %d", len(events))
	}
}

func TestBanDetectedAndNotified(t *testing.T) {
	st, src, n, sched := testSetup(t)
	ctx := context.Background()

	subscribe(t, st, "foo", 100)
	if err := st.AppendSample(ctx, "foo", source.StatusActive, nil); err != nil {
		t.Fatalf("seed sample: %v", err)
	}
	src.results["foo"] = source.Result{Status: source.StatusNotFound}

	sched.Tick(ctx)

	events, _ := st.ListEvents(ctx, "foo", 0)
	if len(events) != 1 || events[0].Kind != detect.KindBanned {
		t.Fatalf("expected one banned event, got %+v", events)
	}
	if len(n.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(n.sent))
	}
	got := n.sent[0]
	if got.event.Severity != detect.SeverityCritical {
		t.Errorf("severity = %s, want critical", got.event.Severity)
	}
	if got.dest.ChatID != 100 || got.username != "foo" {
		t.Errorf("unexpected delivery: %+v", got)
	}
}

func TestUnbanSurvivesDeliveryFailure(t *testing.T) {
	st, src, n, sched := testSetup(t)
	ctx := context.Background()

	subscribe(t, st, "foo", 100)
	if err := st.AppendSample(ctx, "foo", source.StatusNotFound, nil); err != nil {
		t.Fatalf("seed sample: %v", err)
	}
	src.results["foo"] = source.Result{Status: source.StatusActive}
	n.fail = true

	sched.Tick(ctx)

	// Delivery failure must not roll back the committed sample and event.
	samples, _ := st.ListSamples(ctx, "foo", 0)
	if len(samples) != 2 {
		t.Fatalf("expected 2 sample rows, got %d", len(samples))
	}
	events, _ := st.ListEvents(ctx, "foo", 0)
	if len(events) != 1 || events[0].Kind != detect.KindUnbanned {
		t.Fatalf("expected one unbanned event, got %+v", events)
	}
	if len(n.sent) != 1 || n.sent[0].event.Severity != detect.SeverityPositive {
		t.Fatalf("expected one positive delivery attempt, got %+v", n.sent)
	}

	// Replay: next tick sees the new sample as previous, no duplicate event.
	sched.Tick(ctx)
	events, _ = st.ListEvents(ctx, "foo", 0)
	if len(events) != 1 {
		t.Fatalf("replay produced duplicate events: %d", len(events))
	}
}

func TestStatusChangeNotifiedButNotPersisted(t *testing.T) {
	st, src, n, sched := testSetup(t)
	ctx := context.Background()

	subscribe(t, st, "foo", 100)
	if err := st.AppendSample(ctx, "foo", source.StatusActive, nil); err != nil {
		t.Fatalf("seed sample: %v", err)
	}
	src.results["foo"] = source.Result{Status: source.StatusPrivate}

	sched.Tick(ctx)

	if len(n.sent) != 1 || n.sent[0].event.Kind != detect.KindStatusChange {
		t.Fatalf("expected one status_change notification, got %+v", n.sent)
	}
	events, _ := st.ListEvents(ctx, "foo", 0)
	if len(events) != 0 {
		t.Fatalf("status_change must not be persisted, got %+v", events)
	}
}

func TestTickIsolatesPerIdentifierFailures(t *testing.T) {
	st, src, n, sched := testSetup(t)
	ctx := context.Background()

	for i, username := range []string{"aaa", "bbb", "ccc"} {
		subscribe(t, st, username, int64(100+i))
		if err := st.AppendSample(ctx, username, source.StatusActive, nil); err != nil {
			t.Fatalf("seed %s: %v", username, err)
		}
	}
	src.results["aaa"] = source.Result{Status: source.StatusNotFound}
	src.errs["bbb"] = errors.New("connection reset")
	src.results["ccc"] = source.Result{Status: source.StatusPrivate}

	sched.Tick(ctx)

	if len(src.fetched) != 3 {
		t.Fatalf("all identifiers must be polled, fetched %v", src.fetched)
	}
	for _, username := range []string{"aaa", "bbb", "ccc"} {
		samples, _ := st.ListSamples(ctx, username, 0)
		if len(samples) != 2 {
			t.Errorf("%s: expected 2 samples, got %d", username, len(samples))
		}
	}

	// bbb's failed fetch becomes an error sample and a status_change.
	last, _ := st.LastStatus(ctx, "bbb")
	if last.Status != source.StatusError {
		t.Errorf("bbb last status = %s, want error", last.Status)
	}
	if len(n.sent) != 3 {
		t.Fatalf("expected 3 notifications (banned, status_change, status_change), got %d", len(n.sent))
	}
}

func TestFanOutToAllDestinations(t *testing.T) {
	st, src, n, sched := testSetup(t)
	ctx := context.Background()

	subscribe(t, st, "foo", 100)
	subscribe(t, st, "foo", 200)
	if err := st.AppendSample(ctx, "foo", source.StatusActive, nil); err != nil {
		t.Fatalf("seed sample: %v", err)
	}
	src.results["foo"] = source.Result{Status: source.StatusNotFound}

	sched.Tick(ctx)

	if len(src.fetched) != 1 {
		t.Fatalf("identifier must be fetched once per tick, got %v", src.fetched)
	}
	samples, _ := st.ListSamples(ctx, "foo", 0)
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples total, got %d", len(samples))
	}
	if len(n.sent) != 2 {
		t.Fatalf("expected delivery to both destinations, got %d", len(n.sent))
	}
	chats := map[int64]bool{n.sent[0].dest.ChatID: true, n.sent[1].dest.ChatID: true}
	if !chats[100] || !chats[200] {
		t.Errorf("deliveries missed a destination: %+v", n.sent)
	}
}

func TestInactiveSubscriptionsAreSkipped(t *testing.T) {
	st, src, n, sched := testSetup(t)
	ctx := context.Background()

	subscribe(t, st, "foo", 100)
	if err := st.DeactivateSubscription(ctx, "foo", notify.PlatformTelegram, 100); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	src.results["foo"] = source.Result{Status: source.StatusActive}

	sched.Tick(ctx)

	if len(src.fetched) != 0 {
		t.Fatalf("inactive subscription must not be polled, fetched %v", src.fetched)
	}
	if len(n.sent) != 0 {
		t.Fatalf("expected no notifications, got %d", len(n.sent))
	}
}

// failingStore errors on selected operations for one username and
// delegates everything else to the embedded store.
type failingStore struct {
	store.Store
	username   string
	failLast   bool
	failSample bool
	failEvent  bool
}

func (f *failingStore) LastStatus(ctx context.Context, username string) (*store.StatusSample, error) {
	if f.failLast && username == f.username {
		return nil, errors.New("disk I/O error")
	}
	return f.Store.LastStatus(ctx, username)
}

func (f *failingStore) AppendSample(ctx context.Context, username string, status source.Status, profile *source.Profile) error {
	if f.failSample && username == f.username {
		return errors.New("disk I/O error")
	}
	return f.Store.AppendSample(ctx, username, status, profile)
}

func (f *failingStore) AppendEvent(ctx context.Context, username string, kind detect.Kind) error {
	if f.failEvent && username == f.username {
		return errors.New("disk I/O error")
	}
	return f.Store.AppendEvent(ctx, username, kind)
}

func TestSampleWriteFailureAbortsOnlyThatIdentifier(t *testing.T) {
	st, src, n, _ := testSetup(t)
	ctx := context.Background()

	failing := &failingStore{Store: st, username: "bbb", failSample: true}
	sched := New(failing, src, notify.NewRegistry(n), Options{
		Interval: time.Hour,
		MinPause: time.Millisecond,
		MaxPause: 2 * time.Millisecond,
	}, zerolog.Nop())

	for i, username := range []string{"aaa", "bbb", "ccc"} {
		subscribe(t, st, username, int64(100+i))
		if err := st.AppendSample(ctx, username, source.StatusActive, nil); err != nil {
			t.Fatalf("seed %s: %v", username, err)
		}
	}
	for _, username := range []string{"aaa", "bbb", "ccc"} {
		src.results[username] = source.Result{Status: source.StatusNotFound}
	}

	sched.Tick(ctx)

	if src.fetchCount() != 3 {
		t.Fatalf("all identifiers must be polled, fetched %v", src.fetched)
	}

	// The identifiers with a healthy store record the ban and notify.
	for _, username := range []string{"aaa", "ccc"} {
		samples, _ := st.ListSamples(ctx, username, 0)
		if len(samples) != 2 {
			t.Errorf("%s: expected 2 samples, got %d", username, len(samples))
		}
		events, _ := st.ListEvents(ctx, username, 0)
		if len(events) != 1 || events[0].Kind != detect.KindBanned {
			t.Errorf("%s: expected one banned event, got %+v", username, events)
		}
	}

	// The failed write aborts bbb: nothing recorded, nothing sent.
	samples, _ := st.ListSamples(ctx, "bbb", 0)
	if len(samples) != 1 {
		t.Errorf("bbb: expected only the seeded sample, got %d", len(samples))
	}
	events, _ := st.ListEvents(ctx, "bbb", 0)
	if len(events) != 0 {
		t.Errorf("bbb: expected no events, got %+v", events)
	}
	if len(n.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(n.sent))
	}
	for _, s := range n.sent {
		if s.username == "bbb" {
			t.Errorf("bbb must not be notified after a failed write: %+v", s)
		}
	}
}

func TestStatusReadFailureAbortsOnlyThatIdentifier(t *testing.T) {
	st, src, n, _ := testSetup(t)
	ctx := context.Background()

	failing := &failingStore{Store: st, username: "aaa", failLast: true}
	sched := New(failing, src, notify.NewRegistry(n), Options{
		Interval: time.Hour,
		MinPause: time.Millisecond,
		MaxPause: 2 * time.Millisecond,
	}, zerolog.Nop())

	for i, username := range []string{"aaa", "bbb"} {
		subscribe(t, st, username, int64(100+i))
		if err := st.AppendSample(ctx, username, source.StatusActive, nil); err != nil {
			t.Fatalf("seed %s: %v", username, err)
		}
	}
	src.results["aaa"] = source.Result{Status: source.StatusNotFound}
	src.results["bbb"] = source.Result{Status: source.StatusNotFound}

	sched.Tick(ctx)

	// aaa aborts before any write; bbb proceeds normally.
	samples, _ := st.ListSamples(ctx, "aaa", 0)
	if len(samples) != 1 {
		t.Errorf("aaa: expected only the seeded sample, got %d", len(samples))
	}
	events, _ := st.ListEvents(ctx, "bbb", 0)
	if len(events) != 1 || events[0].Kind != detect.KindBanned {
		t.Fatalf("bbb: expected one banned event, got %+v", events)
	}
	if len(n.sent) != 1 || n.sent[0].username != "bbb" {
		t.Fatalf("expected a single delivery for bbb, got %+v", n.sent)
	}
}

func TestEventWriteFailureSkipsNotification(t *testing.T) {
	st, src, n, _ := testSetup(t)
	ctx := context.Background()

	failing := &failingStore{Store: st, username: "foo", failEvent: true}
	sched := New(failing, src, notify.NewRegistry(n), Options{
		Interval: time.Hour,
		MinPause: time.Millisecond,
		MaxPause: 2 * time.Millisecond,
	}, zerolog.Nop())

	subscribe(t, st, "foo", 100)
	if err := st.AppendSample(ctx, "foo", source.StatusActive, nil); err != nil {
		t.Fatalf("seed sample: %v", err)
	}
	src.results["foo"] = source.Result{Status: source.StatusNotFound}

	sched.Tick(ctx)

	// The sample commits, but an unrecorded event must not be announced.
	samples, _ := st.ListSamples(ctx, "foo", 0)
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	events, _ := st.ListEvents(ctx, "foo", 0)
	if len(events) != 0 {
		t.Fatalf("expected no event rows, got %+v", events)
	}
	if len(n.sent) != 0 {
		t.Fatalf("expected no notifications, got %+v", n.sent)
	}
}

func TestRunWaitsForReadyGate(t *testing.T) {
	st, src, _, sched := testSetup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscribe(t, st, "foo", 100)
	src.results["foo"] = source.Result{Status: source.StatusActive}

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx, ready) }()

	time.Sleep(50 * time.Millisecond)
	if n := src.fetchCount(); n != 0 {
		t.Fatalf("scheduler polled before ready, %d fetches", n)
	}

	close(ready)
	deadline := time.Now().Add(2 * time.Second)
	for src.fetchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if src.fetchCount() == 0 {
		t.Fatalf("scheduler did not poll after ready")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}
