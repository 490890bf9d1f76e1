// Package storage is the optional persistence layer. With storage disabled
// (the default) a restart loses active subscriptions, which is acceptable
// for single-operator deployments.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (requires the sqlite build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscriber is one persisted subscription.
type Subscriber struct {
	UserID  int64
	ChatID  int64
	AddedAt time.Time
}

// Store is the persistence API used by the subscription registry and the
// notification dispatcher's dedup cache.
type Store interface {
	UpsertSubscriber(ctx context.Context, sub Subscriber) error
	DeleteSubscriber(ctx context.Context, userID int64) error
	ListSubscribers(ctx context.Context) ([]Subscriber, error)

	// SaveDedupEntry records that a notification key is suppressed until the
	// given time; LoadDedupEntries returns the non-expired entries.
	SaveDedupEntry(ctx context.Context, key string, until time.Time) error
	LoadDedupEntries(ctx context.Context) (map[string]time.Time, error)

	Close() error
}
