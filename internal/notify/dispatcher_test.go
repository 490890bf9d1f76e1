package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"slotwatch/internal/registry"
	"slotwatch/internal/storage"
	"slotwatch/internal/transport"
	"slotwatch/internal/watch"
	"slotwatch/pkg/logx"
)

type fakeDedupStore struct {
	storage.Store
	mu      sync.Mutex
	entries map[string]time.Time
}

func (f *fakeDedupStore) SaveDedupEntry(_ context.Context, key string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = map[string]time.Time{}
	}
	f.entries[key] = until
	return nil
}

func (f *fakeDedupStore) LoadDedupEntries(context.Context) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]time.Time{}
	for k, v := range f.entries {
		out[k] = v
	}
	return out, nil
}

type sentMsg struct {
	chatID int64
	text   string
	silent bool
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sentMsg
	failChat int64
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if to.ChatID == f.failChat {
		return errors.New("chat unreachable")
	}
	silent := opt != nil && opt.Silent
	f.mu.Lock()
	f.sent = append(f.sent, sentMsg{chatID: to.ChatID, text: text, silent: silent})
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

func newTestRegistry(t *testing.T, chatIDs ...int64) *registry.Registry {
	t.Helper()
	reg := registry.New(len(chatIDs)+1, nil, logx.Nop())
	for i, id := range chatIDs {
		if _, err := reg.Subscribe(context.Background(), int64(i+1), id); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	return reg
}

func newTestDispatcher(sender *fakeSender, reg *registry.Registry, admin int64) *Dispatcher {
	d := New(Config{RatePerSec: 1000, Cooldown: time.Minute}, sender, reg, transport.ChatTarget{ChatID: admin}, logx.Nop())
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func TestBroadcastFailureIsolation(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{failChat: 102}
	d := newTestDispatcher(sender, newTestRegistry(t, 101, 102, 103), 0)

	res := d.Broadcast(context.Background(), "hello", false, "")
	if res.Sent != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 2 sent / 1 failed", res)
	}
	for _, m := range sender.messages() {
		if m.chatID == 102 {
			t.Fatal("failing chat must not appear in sent list")
		}
	}
}

func TestBroadcastCooldownDedup(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := newTestDispatcher(sender, newTestRegistry(t, 101), 0)

	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	if res := d.Broadcast(context.Background(), "x", false, "k"); res.Sent != 1 {
		t.Fatalf("first broadcast = %+v", res)
	}
	if res := d.Broadcast(context.Background(), "x", false, "k"); !res.Deduped {
		t.Fatalf("second broadcast = %+v, want deduped", res)
	}

	// Past the cooldown window the same key delivers again.
	d.now = func() time.Time { return base.Add(2 * time.Minute) }
	if res := d.Broadcast(context.Background(), "x", false, "k"); res.Deduped || res.Sent != 1 {
		t.Fatalf("post-cooldown broadcast = %+v", res)
	}
}

func TestDedupSurvivesRestart(t *testing.T) {
	t.Parallel()
	store := &fakeDedupStore{}
	sender := &fakeSender{}

	d := newTestDispatcher(sender, newTestRegistry(t, 101), 0)
	d.SetStore(store)
	if res := d.Broadcast(context.Background(), "x", false, "k"); res.Sent != 1 {
		t.Fatalf("first broadcast = %+v", res)
	}

	// A fresh dispatcher seeded from the store still suppresses the key.
	d2 := newTestDispatcher(sender, newTestRegistry(t, 101), 0)
	d2.SetStore(store)
	d2.LoadDedup(context.Background())
	if res := d2.Broadcast(context.Background(), "x", false, "k"); !res.Deduped {
		t.Fatalf("post-restart broadcast = %+v, want deduped", res)
	}
}

func TestUrgentDeliverySequence(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := newTestDispatcher(sender, newTestRegistry(t, 101), 0)

	res := d.Broadcast(context.Background(), "earlier slot!", true, "")
	if res.Sent != 1 {
		t.Fatalf("result = %+v, want 1 subscriber delivered", res)
	}

	msgs := sender.messages()
	if len(msgs) != 3 {
		t.Fatalf("urgent delivery sent %d messages, want 3", len(msgs))
	}
	if msgs[1].text != "earlier slot!" {
		t.Fatalf("middle message = %q, want the rendered event", msgs[1].text)
	}
	for i, m := range msgs {
		if m.silent {
			t.Fatalf("urgent message %d must not be silent", i)
		}
	}
}

func TestNonUrgentDeliveryIsSilent(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := newTestDispatcher(sender, newTestRegistry(t, 101), 0)

	d.Broadcast(context.Background(), "minor update", false, "")

	msgs := sender.messages()
	if len(msgs) != 1 || !msgs[0].silent {
		t.Fatalf("messages = %+v, want one silent send", msgs)
	}
}

func TestStatusRoutesToAdminOnly(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := newTestDispatcher(sender, newTestRegistry(t, 101, 102), 555)

	d.Status(context.Background(), watch.Status{Poll: 10, Earliest: "2027-03-10", DaysUntil: 190})

	msgs := sender.messages()
	if len(msgs) != 1 || msgs[0].chatID != 555 {
		t.Fatalf("messages = %+v, want single admin delivery", msgs)
	}
}

func TestStatusSkippedWithoutAdmin(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := newTestDispatcher(sender, newTestRegistry(t, 101), 0)

	d.Status(context.Background(), watch.Status{Poll: 10})
	if got := len(sender.messages()); got != 0 {
		t.Fatalf("sent %d messages, want none without an admin", got)
	}
}
