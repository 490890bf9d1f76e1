package watch

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"slotwatch/internal/visa"
	"slotwatch/pkg/logx"
)

type fakeAuth struct {
	mu          sync.Mutex
	err         error
	invalidated int
}

func (f *fakeAuth) EnsureValid(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "csrf-token", nil
}

func (f *fakeAuth) Invalidate() {
	f.mu.Lock()
	f.invalidated++
	f.mu.Unlock()
}

func (f *fakeAuth) invalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fetch func(call int) ([]visa.DateSlot, error)
}

func (f *fakeSource) FetchDates(context.Context, string) ([]visa.DateSlot, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fetch(n)
}

func (f *fakeSource) FetchTimes(context.Context, string, string) ([]string, error) {
	return []string{"10:00"}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	events  []Event
	status  []Status
	systems []string
}

func (f *fakeNotifier) Event(_ context.Context, ev Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeNotifier) Status(_ context.Context, st Status) {
	f.mu.Lock()
	f.status = append(f.status, st)
	f.mu.Unlock()
}

func (f *fakeNotifier) System(_ context.Context, text string) {
	f.mu.Lock()
	f.systems = append(f.systems, text)
	f.mu.Unlock()
}

func (f *fakeNotifier) systemCount(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.systems {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

func (f *fakeNotifier) eventKinds() []EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]EventKind, 0, len(f.events))
	for _, ev := range f.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

type fakeRebooker struct {
	ok bool
}

func (f *fakeRebooker) Suitable(string) bool { return true }

func (f *fakeRebooker) Rebook(context.Context, string, string) (bool, error) {
	return f.ok, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(cfg Config, auth Authenticator, source SlotSource, n Notifier) *Manager {
	return NewManager(cfg, auth, source, n, NewState(0), logx.Nop())
}

func TestJitterIntervalBounds(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	interval := 700 * time.Second
	low := time.Duration(float64(interval) * DefaultJitterFraction)

	for i := 0; i < 1000; i++ {
		got := jitterInterval(rng, interval, DefaultJitterFraction)
		if got < low || got > interval {
			t.Fatalf("jitter %v outside [%v, %v]", got, low, interval)
		}
	}
}

func TestManagerRestartCancelsPrior(t *testing.T) {
	t.Parallel()
	auth := &fakeAuth{}
	source := &fakeSource{fetch: func(int) ([]visa.DateSlot, error) { return nil, nil }}
	n := &fakeNotifier{}
	// Long interval keeps the task parked in its sleep between cycles.
	m := newTestManager(Config{Interval: time.Hour}, auth, source, n)

	ctx := context.Background()
	m.Start(ctx, "default")
	waitFor(t, "first start message", func() bool { return n.systemCount("Starting") == 1 })

	m.Start(ctx, "default")
	waitFor(t, "restart messages", func() bool {
		return n.systemCount("Starting") == 2 && n.systemCount("stopped") == 1
	})

	if !m.Running("default") {
		t.Fatal("replacement task should be running")
	}

	if !m.Stop("default") {
		t.Fatal("Stop should report a running task")
	}
	if got := n.systemCount("stopped"); got != 2 {
		t.Fatalf("stopped messages = %d, want 2", got)
	}
}

func TestManagerAuthFailureTerminal(t *testing.T) {
	t.Parallel()
	auth := &fakeAuth{err: &visa.AuthError{Reason: visa.AuthRejected}}
	source := &fakeSource{fetch: func(int) ([]visa.DateSlot, error) { return nil, nil }}
	n := &fakeNotifier{}
	m := newTestManager(Config{Interval: time.Hour}, auth, source, n)

	m.Start(context.Background(), "default")
	waitFor(t, "task failure", func() bool {
		info, ok := m.Info("default")
		return ok && info.State == TaskFailed
	})

	if got := n.systemCount("could not sign in"); got != 1 {
		t.Fatalf("auth failure messages = %d, want 1", got)
	}
	if m.Running("default") {
		t.Fatal("failed task must not keep running")
	}
}

func TestManagerFetchErrorSkipsClassification(t *testing.T) {
	t.Parallel()
	auth := &fakeAuth{}
	source := &fakeSource{fetch: func(call int) ([]visa.DateSlot, error) {
		if call == 1 {
			return []visa.DateSlot{{Date: "2027-03-10"}}, nil
		}
		return nil, &visa.FetchError{Kind: visa.FetchMalformedPayload, Op: "days", Err: visa.ErrLoggedOut}
	}}
	n := &fakeNotifier{}
	m := newTestManager(Config{Interval: 5 * time.Millisecond, JitterFraction: 0.5}, auth, source, n)

	m.Start(context.Background(), "default")
	waitFor(t, "failed fetches", func() bool { return auth.invalidations() >= 2 })
	m.Stop("default")

	for _, kind := range n.eventKinds() {
		if kind == EventAvailabilityLost {
			t.Fatal("fetch failure must not be classified as availability lost")
		}
	}
	if got := n.eventKinds(); len(got) != 1 || got[0] != EventNewAvailability {
		t.Fatalf("events = %v, want single new-availability", got)
	}
}

func TestManagerRebookSuccessEndsTask(t *testing.T) {
	t.Parallel()
	auth := &fakeAuth{}
	source := &fakeSource{fetch: func(int) ([]visa.DateSlot, error) {
		return []visa.DateSlot{{Date: "2027-03-10"}}, nil
	}}
	n := &fakeNotifier{}
	m := newTestManager(Config{Interval: time.Hour}, auth, source, n)
	m.SetRebooker(&fakeRebooker{ok: true})

	m.Start(context.Background(), "default")
	waitFor(t, "rebooked exit", func() bool {
		info, ok := m.Info("default")
		return ok && info.State == TaskDone
	})

	if got := n.systemCount("rescheduled"); got != 1 {
		t.Fatalf("reschedule messages = %d, want 1", got)
	}
}
