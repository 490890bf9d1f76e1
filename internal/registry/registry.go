// Package registry tracks subscriber identities and their delivery
// addresses. Bounded size; created and destroyed independently of polling.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"slotwatch/internal/storage"
	"slotwatch/internal/transport"
	"slotwatch/pkg/logx"
)

// DefaultCap bounds the number of concurrent subscribers.
const DefaultCap = 10

// ErrFull is returned when the registry is at capacity; the eviction policy
// is reject-new.
var ErrFull = errors.New("subscriber limit reached")

type Registry struct {
	log   logx.Logger
	store storage.Store // nil when persistence is disabled

	mu   sync.Mutex
	subs map[int64]int64 // user ID -> chat ID
	cap  int
}

func New(capacity int, store storage.Store, log logx.Logger) *Registry {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:   log,
		store: store,
		subs:  map[int64]int64{},
		cap:   capacity,
	}
}

// Load seeds the registry from the store. Entries beyond capacity are
// skipped (oldest first wins).
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	subs, err := r.store.ListSubscribers(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range subs {
		if len(r.subs) >= r.cap {
			r.log.Warn("persisted subscribers exceed capacity; skipping remainder", logx.Int("cap", r.cap))
			break
		}
		r.subs[s.UserID] = s.ChatID
	}
	r.log.Info("subscribers loaded", logx.Int("count", len(r.subs)))
	return nil
}

// Subscribe registers (or refreshes) a subscriber. Returns created=false for
// an already-known user. A full registry rejects new subscribers.
func (r *Registry) Subscribe(ctx context.Context, userID, chatID int64) (created bool, err error) {
	r.mu.Lock()
	_, known := r.subs[userID]
	if !known && len(r.subs) >= r.cap {
		r.mu.Unlock()
		return false, ErrFull
	}
	r.subs[userID] = chatID
	count := len(r.subs)
	r.mu.Unlock()

	if r.store != nil {
		if serr := r.store.UpsertSubscriber(ctx, storage.Subscriber{UserID: userID, ChatID: chatID, AddedAt: time.Now()}); serr != nil {
			r.log.Warn("subscriber persist failed", logx.Int64("user_id", userID), logx.Err(serr))
		}
	}

	r.log.Info("subscriber added", logx.Int64("user_id", userID), logx.Int64("chat_id", chatID), logx.Int("total", count), logx.Bool("new", !known))
	return !known, nil
}

// Unsubscribe removes a subscriber. Returns false when the user was not
// subscribed.
func (r *Registry) Unsubscribe(ctx context.Context, userID int64) bool {
	r.mu.Lock()
	_, known := r.subs[userID]
	delete(r.subs, userID)
	r.mu.Unlock()

	if known && r.store != nil {
		if serr := r.store.DeleteSubscriber(ctx, userID); serr != nil {
			r.log.Warn("subscriber delete failed", logx.Int64("user_id", userID), logx.Err(serr))
		}
	}
	return known
}

// Contains reports whether the user is currently subscribed.
func (r *Registry) Contains(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[userID]
	return ok
}

// Snapshot returns the current delivery targets in a stable order.
func (r *Registry) Snapshot() []transport.ChatTarget {
	r.mu.Lock()
	targets := make([]transport.ChatTarget, 0, len(r.subs))
	for _, chatID := range r.subs {
		targets = append(targets, transport.ChatTarget{ChatID: chatID})
	}
	r.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].ChatID < targets[j].ChatID })
	return targets
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Registry) Cap() int { return r.cap }
