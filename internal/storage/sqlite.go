//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"slotwatch/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS subscribers (
	user_id  INTEGER PRIMARY KEY,
	chat_id  INTEGER NOT NULL,
	added_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dedup_cache (
	key   TEXT PRIMARY KEY,
	until TEXT NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("sqlite storage opened", logx.String("path", cfg.Path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertSubscriber(ctx context.Context, sub Subscriber) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if sub.AddedAt.IsZero() {
		sub.AddedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(user_id, chat_id, added_at) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET chat_id=excluded.chat_id`,
		sub.UserID, sub.ChatID, sub.AddedAt.Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) DeleteSubscriber(ctx context.Context, userID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE user_id = ?`, userID)
	return err
}

func (s *sqliteStore) SaveDedupEntry(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_cache(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) LoadDedupEntries(ctx context.Context) (map[string]time.Time, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	// Expired entries are dropped on load; the table stays small.
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup_cache WHERE until < ?`, now); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, until FROM dedup_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var key, until string
		if err := rows.Scan(&key, &until); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339, until); perr == nil {
			out[key] = t
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, chat_id, added_at FROM subscribers ORDER BY added_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		var sub Subscriber
		var added string
		if err := rows.Scan(&sub.UserID, &sub.ChatID, &added); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339, added); perr == nil {
			sub.AddedAt = t
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
