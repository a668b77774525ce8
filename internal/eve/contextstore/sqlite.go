package contextstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists conversation contexts in SQLite so they survive a
// restart. Two tables: contexts carries the per-key TTL anchor and LRU
// timestamp, turns carries the ordered turn rows. Chronological order is
// the rowid insertion order.
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger

	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema exists. If logger is nil, the default slog logger is used.
func NewSQLiteStore(dbPath string, cfg Config, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("contextstore: open database: %w", err)
	}

	// SQLite is single-writer by design. Keep a single shared connection so
	// concurrent callers are serialized by database/sql instead of fighting
	// for write locks, and so the pragmas below apply to every statement —
	// db.Exec configures only the connection that runs it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("contextstore: set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS contexts (
			key        TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			touched_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS turns (
			key        TEXT NOT NULL REFERENCES contexts(key) ON DELETE CASCADE,
			id         TEXT NOT NULL,
			utterance  TEXT NOT NULL,
			reply      TEXT NOT NULL,
			ref        TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_key ON turns(key);
	`)
	if err != nil {
		return fmt.Errorf("contextstore: create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the turns for key in insertion order, dropping the whole
// context first when its TTL window has elapsed.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]Turn, error) {
	now := s.now()

	expired, err := s.expireIfStale(ctx, key, now)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, utterance, reply, ref, created_at
		FROM turns WHERE key = ? ORDER BY rowid`, key)
	if err != nil {
		return nil, fmt.Errorf("contextstore: query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Utterance, &t.Reply, &t.Ref, &createdAt); err != nil {
			return nil, fmt.Errorf("contextstore: scan turn: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			s.logger.Warn("contextstore: skip turn with malformed timestamp", "key", key, "err", err)
			continue
		}
		t.CreatedAt = ts
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contextstore: iterate turns: %w", err)
	}

	if len(turns) > 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE contexts SET touched_at = ? WHERE key = ?`,
			now.UTC().Format(time.RFC3339Nano), key); err != nil {
			s.logger.Warn("contextstore: update touched_at", "key", key, "err", err)
		}
	}
	return turns, nil
}

// Append inserts a turn, trims the key to MaxTurns (oldest rows first), and
// evicts the least-recently-touched key when the namespace cap is exceeded.
func (s *SQLiteStore) Append(ctx context.Context, key string, turn Turn) error {
	now := s.now()

	if _, err := s.expireIfStale(ctx, key, now); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("contextstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	nowStr := now.UTC().Format(time.RFC3339Nano)

	// Create the context row if absent; created_at is the TTL anchor and is
	// never updated afterwards.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contexts (key, created_at, touched_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET touched_at = excluded.touched_at`,
		key, nowStr, nowStr); err != nil {
		return fmt.Errorf("contextstore: upsert context: %w", err)
	}

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (key, id, utterance, reply, ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key, turn.ID, turn.Utterance, turn.Reply, turn.Ref,
		createdAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("contextstore: insert turn: %w", err)
	}

	// FIFO trim: keep only the newest MaxTurns rows for this key.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM turns WHERE key = ? AND rowid NOT IN (
			SELECT rowid FROM turns WHERE key = ? ORDER BY rowid DESC LIMIT ?
		)`, key, key, s.cfg.MaxTurns); err != nil {
		return fmt.Errorf("contextstore: trim turns: %w", err)
	}

	// Namespace LRU eviction.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM contexts WHERE key IN (
			SELECT key FROM contexts WHERE key != ? ORDER BY touched_at ASC
			LIMIT max((SELECT count(*) FROM contexts) - ?, 0)
		)`, key, s.cfg.MaxKeys); err != nil {
		return fmt.Errorf("contextstore: evict keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("contextstore: commit: %w", err)
	}
	return nil
}

// expireIfStale deletes the context when its TTL window has elapsed.
// Reports whether an expiry happened.
func (s *SQLiteStore) expireIfStale(ctx context.Context, key string, now time.Time) (bool, error) {
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM contexts WHERE key = ?`, key).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("contextstore: query context: %w", err)
	}

	anchor, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		// Malformed anchor: treat as expired so the context self-heals.
		s.logger.Warn("contextstore: malformed TTL anchor, dropping context", "key", key, "err", err)
		anchor = time.Time{}
	}
	if now.Sub(anchor) <= s.cfg.TTL {
		return false, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE key = ?`, key); err != nil {
		return false, fmt.Errorf("contextstore: delete expired context: %w", err)
	}
	return true, nil
}

var _ Store = (*SQLiteStore)(nil)
