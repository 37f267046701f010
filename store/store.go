// Package store persists the engine's restart-surviving state in SQLite:
// the active criteria, the last snapshot summary (counts only — the load
// list itself is cycle-scoped and never persisted), and an append-only
// booking event log.
//
// Store failures are never fatal to the engine: reads fall back to
// defaults, writes are logged and dropped.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/boardwatch/board"
)

const (
	keyCriteria        = "criteria"
	keySnapshotSummary = "last_snapshot_summary"
)

// Store is the SQLite-backed settings and event store.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the store with the production pragmas applied:
// WAL journal, busy timeout, NORMAL synchronous.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	s := &Store{DB: db, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory store for tests.
func OpenMemory(logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("store: open memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{DB: db, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS booking_events (
			event_id    TEXT PRIMARY KEY,
			entry_id    TEXT NOT NULL,
			origin      TEXT NOT NULL DEFAULT '',
			destination TEXT NOT NULL DEFAULT '',
			price       REAL NOT NULL DEFAULT 0,
			success     INTEGER NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_booking_events_entry ON booking_events (entry_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.DB.Close() }

// ---------- settings ----------

func (s *Store) load(ctx context.Context, key string, out any) error {
	var raw string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().Unix())
	return err
}

// LoadCriteria returns the persisted criteria merged over the defaults.
// Absent keys fall back silently; a read failure logs and returns defaults.
func (s *Store) LoadCriteria(ctx context.Context) board.Criteria {
	base := board.DefaultCriteria()
	var saved board.Criteria
	err := s.load(ctx, keyCriteria, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return base
	}
	if err != nil {
		s.logger.Warn("store: load criteria failed, using defaults", "error", err)
		return base
	}
	return saved.Merge(base)
}

// SaveCriteria persists the criteria. Failure is logged, not returned:
// the engine keeps running on the in-memory copy.
func (s *Store) SaveCriteria(ctx context.Context, c board.Criteria) {
	if err := s.save(ctx, keyCriteria, c); err != nil {
		s.logger.Warn("store: save criteria failed", "error", err)
	}
}

// LoadSummary returns the last persisted snapshot summary, or nil.
func (s *Store) LoadSummary(ctx context.Context) *board.SnapshotSummary {
	var sum board.SnapshotSummary
	err := s.load(ctx, keySnapshotSummary, &sum)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("store: load summary failed", "error", err)
		}
		return nil
	}
	return &sum
}

// SaveSummary persists the per-cycle counts for restart continuity.
func (s *Store) SaveSummary(ctx context.Context, sum board.SnapshotSummary) {
	if err := s.save(ctx, keySnapshotSummary, sum); err != nil {
		s.logger.Warn("store: save summary failed", "error", err)
	}
}

// ---------- booking events ----------

// LogOutcome appends a booking outcome. Non-blocking contract: errors are
// logged, never propagated, so a failing store never blocks the executor.
func (s *Store) LogOutcome(ctx context.Context, o board.Outcome) {
	eventID := "bke_" + uuid.Must(uuid.NewV7()).String()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO booking_events (
			event_id, entry_id, origin, destination, price, success, reason, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		eventID, o.EntryID, o.Load.Origin, o.Load.Destination, o.Load.Price,
		o.Success, string(o.Reason), o.At.Unix())
	if err != nil {
		s.logger.Warn("store: booking event log failed", "error", err, "entry", o.EntryID)
	}
}

// RecentOutcomes returns the most recent booking events, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]board.Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT entry_id, origin, destination, price, success, reason, created_at
		FROM booking_events ORDER BY created_at DESC, event_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []board.Outcome
	for rows.Next() {
		var o board.Outcome
		var reason string
		var created int64
		if err := rows.Scan(&o.EntryID, &o.Load.Origin, &o.Load.Destination,
			&o.Load.Price, &o.Success, &reason, &created); err != nil {
			return nil, err
		}
		o.Reason = board.FailReason(reason)
		o.At = time.Unix(created, 0)
		out = append(out, o)
	}
	return out, rows.Err()
}
