// Copyright 2026 AX Platform
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package store implements the durable per-agent mention queue.
//
// Mentions pile up while an agent is busy; this store persists them to SQLite
// so nothing is lost across monitor restarts. Rows are keyed on (id, agent) so
// a mention addressed to several agents yields one independent row per agent.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "github.com/ax-platform/relay/internal/sqlitedriver"
)

// StoredMessage is one persisted mention.
type StoredMessage struct {
	ID                    string
	Agent                 string
	Sender                string
	Content               string
	EnqueuedAt            time.Time
	Processed             bool
	ProcessingStartedAt   time.Time
	ProcessingCompletedAt time.Time
	RetryCount            int
	Dead                  bool
}

// PutResult is the outcome of Put.
type PutResult int

const (
	// PutAccepted means a new row was inserted.
	PutAccepted PutResult = iota
	// PutIgnored means the (id, agent) row already existed.
	PutIgnored
	// PutRejected means a transient storage error; the caller may retry.
	PutRejected
)

// Stats summarises an agent's queue.
type Stats struct {
	Total             int
	Pending           int
	Completed         int
	Dead              int
	AvgProcessingTime time.Duration
}

// Store is a SQLite-backed message store. All operations are safe for one
// writer per agent; writes are serialised through a process-wide mutex so
// multiple engines may share one Store.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT NOT NULL,
	agent TEXT NOT NULL,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL,
	processed INTEGER DEFAULT 0,
	processing_started_at INTEGER,
	processing_completed_at INTEGER,
	retry_count INTEGER DEFAULT 0,
	dead INTEGER DEFAULT 0,
	created_at INTEGER DEFAULT (strftime('%s', 'now')),
	PRIMARY KEY (id, agent)
);

CREATE INDEX IF NOT EXISTS idx_agent_processed
ON messages(agent, processed, enqueued_at);

CREATE TABLE IF NOT EXISTS agent_status (
	agent TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'active',
	paused_at INTEGER,
	paused_reason TEXT,
	resume_at INTEGER,
	updated_at INTEGER
);
`

// Open opens (and creates if needed) the store at dbPath. Use ":memory:" for
// an in-memory store in tests.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := dbPath
	if dbPath == ":memory:" {
		// Shared cache keeps every connection of the pool on the same
		// in-memory database.
		dsn = "file::memory:?mode=memory&cache=shared&_busy_timeout=5000"
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			logger.Warn("failed to enable WAL mode", zap.Error(err))
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		logger.Warn("failed to set busy timeout", zap.Error(err))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, path: dbPath, logger: logger}, nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts a mention. Duplicate (id, agent) rows are ignored, never an
// error: re-delivery of the same mention is normal under at-least-once
// transports.
func (s *Store) Put(ctx context.Context, id, agent, sender, content string) PutResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, agent, sender, content, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, agent, sender, content, time.Now().UnixMilli())
	if err != nil {
		s.logger.Warn("failed to store message",
			zap.String("message_id", id),
			zap.String("agent", agent),
			zap.Error(err))
		return PutRejected
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return PutIgnored
	}
	return PutAccepted
}

// PeekPending returns up to limit unprocessed rows for agent in FIFO order
// (enqueued_at ascending). Dead-lettered rows are excluded.
func (s *Store) PeekPending(ctx context.Context, agent string, limit int) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent, sender, content, enqueued_at,
		       processed, processing_started_at, processing_completed_at,
		       retry_count, dead
		FROM messages
		WHERE agent = ? AND processed = 0 AND dead = 0
		ORDER BY enqueued_at ASC
		LIMIT ?
	`, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("peek pending: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MarkProcessing stamps processing_started_at on one (id, agent) row.
func (s *Store) MarkProcessing(ctx context.Context, id, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET processing_started_at = ?
		WHERE id = ? AND agent = ?
	`, time.Now().UnixMilli(), id, agent)
	return err
}

// MarkProcessed finalises one (id, agent) row. Once processed the row is
// never returned by PeekPending again.
func (s *Store) MarkProcessed(ctx context.Context, id, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET processed = 1, processing_completed_at = ?
		WHERE id = ? AND agent = ?
	`, time.Now().UnixMilli(), id, agent)
	return err
}

// FailureDisposition is the outcome of MarkFailed under the retry policy.
type FailureDisposition int

const (
	// FailureCompleted means the row was marked processed (no-retry policy).
	FailureCompleted FailureDisposition = iota
	// FailureRetry means the row stays pending and will be re-peeked.
	FailureRetry
	// FailureDead means the row moved to the dead-letter partition.
	FailureDead
)

// MarkFailed records a handler or reply failure for one row. With
// maxRetries == 0 the historical policy applies: the row is marked processed
// and never retried. Otherwise the row is retried until retry_count reaches
// maxRetries, then dead-lettered.
func (s *Store) MarkFailed(ctx context.Context, id, agent string, maxRetries int) (FailureDisposition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if maxRetries <= 0 {
		_, err := s.db.ExecContext(ctx, `
			UPDATE messages SET processed = 1, processing_completed_at = ?
			WHERE id = ? AND agent = ?
		`, now, id, agent)
		return FailureCompleted, err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET retry_count = retry_count + 1
		WHERE id = ? AND agent = ?
	`, id, agent)
	if err != nil {
		return FailureRetry, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT retry_count FROM messages WHERE id = ? AND agent = ?`,
		id, agent).Scan(&count); err != nil {
		return FailureRetry, err
	}

	if count < maxRetries {
		return FailureRetry, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE messages SET dead = 1, processed = 1, processing_completed_at = ?
		WHERE id = ? AND agent = ?
	`, now, id, agent)
	return FailureDead, err
}

// DeadLetters returns the dead-lettered rows for an agent, oldest first.
func (s *Store) DeadLetters(ctx context.Context, agent string) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent, sender, content, enqueued_at,
		       processed, processing_started_at, processing_completed_at,
		       retry_count, dead
		FROM messages
		WHERE agent = ? AND dead = 1
		ORDER BY enqueued_at ASC
	`, agent)
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// CountPending returns the number of unprocessed rows for agent.
func (s *Store) CountPending(ctx context.Context, agent string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE agent = ? AND processed = 0 AND dead = 0`,
		agent).Scan(&n)
	return n, err
}

// ClearAgent deletes all rows for agent and returns the count.
func (s *Store) ClearAgent(ctx context.Context, agent string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE agent = ?`, agent)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearAllPending deletes the unprocessed rows of every agent. Used by the
// emergency kill-all path.
func (s *Store) ClearAllPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE processed = 0`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearPending deletes only the unprocessed rows for agent. Used by the #done
// command to drop backlog while keeping processed history.
func (s *Store) ClearPending(ctx context.Context, agent string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearPendingLocked(ctx, agent)
}

func (s *Store) clearPendingLocked(ctx context.Context, agent string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE agent = ? AND processed = 0`, agent)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Cleanup deletes processed rows completed before olderThan and returns the
// count.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE processed = 1 AND processing_completed_at < ?
	`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetStats summarises the agent's queue.
func (s *Store) GetStats(ctx context.Context, agent string) (Stats, error) {
	var st Stats
	var avgMS sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN processed = 0 AND dead = 0 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN processed = 1 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN dead = 1 THEN 1 ELSE 0 END),
		       AVG(CASE
		           WHEN processing_completed_at IS NOT NULL
		            AND processing_started_at IS NOT NULL
		           THEN processing_completed_at - processing_started_at
		           ELSE NULL
		       END)
		FROM messages WHERE agent = ?
	`, agent).Scan(&st.Total, nullInt{&st.Pending}, nullInt{&st.Completed}, nullInt{&st.Dead}, &avgMS)
	if err != nil {
		return Stats{}, err
	}
	if avgMS.Valid {
		st.AvgProcessingTime = time.Duration(avgMS.Float64) * time.Millisecond
	}
	return st, nil
}

// nullInt scans a nullable integer into *int, treating NULL as zero.
type nullInt struct{ p *int }

func (n nullInt) Scan(v any) error {
	if v == nil {
		*n.p = 0
		return nil
	}
	switch t := v.(type) {
	case int64:
		*n.p = int(t)
	case float64:
		*n.p = int(t)
	default:
		return fmt.Errorf("unexpected type %T for integer column", v)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]StoredMessage, error) {
	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var enqueued int64
		var processed, dead int
		var started, completed sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Agent, &m.Sender, &m.Content, &enqueued,
			&processed, &started, &completed, &m.RetryCount, &dead); err != nil {
			return nil, err
		}
		m.EnqueuedAt = time.UnixMilli(enqueued)
		m.Processed = processed != 0
		m.Dead = dead != 0
		if started.Valid {
			m.ProcessingStartedAt = time.UnixMilli(started.Int64)
		}
		if completed.Valid {
			m.ProcessingCompletedAt = time.UnixMilli(completed.Int64)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
