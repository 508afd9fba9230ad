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
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Agent status values.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// DoneReasonPrefix marks a pause that should drop the pending backlog when
// the agent resumes. Set by the #done command.
const DoneReasonPrefix = "Done:"

// AgentStatus is the persisted pause state of one agent.
type AgentStatus struct {
	Agent    string
	Status   string
	PausedAt time.Time
	Reason   string
	ResumeAt time.Time // zero when paused indefinitely
}

// Paused reports whether the agent is currently paused.
func (a AgentStatus) Paused() bool {
	return a.Status == StatusPaused
}

// Pause marks the agent paused. A zero resumeAt pauses indefinitely; otherwise
// the agent auto-resumes once resumeAt has passed (see CheckAutoResume).
func (s *Store) Pause(ctx context.Context, agent, reason string, resumeAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resume any
	if !resumeAt.IsZero() {
		resume = resumeAt.UnixMilli()
	}
	now := time.Now().UnixMilli()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_status (agent, status, paused_at, paused_reason, resume_at, updated_at)
		VALUES (?, 'paused', ?, ?, ?, ?)
		ON CONFLICT(agent) DO UPDATE SET
			status = 'paused',
			paused_at = excluded.paused_at,
			paused_reason = excluded.paused_reason,
			resume_at = excluded.resume_at,
			updated_at = excluded.updated_at
	`, agent, now, reason, resume, now)
	if err != nil {
		return err
	}

	s.logger.Info("agent paused",
		zap.String("agent", agent),
		zap.String("reason", reason),
		zap.Time("resume_at", resumeAt))
	return nil
}

// Resume marks the agent active again. If the pause reason carried the
// DoneReasonPrefix the pending backlog is cleared in the same transaction, so
// a crash between the two steps cannot resume with a stale backlog.
func (s *Store) Resume(ctx context.Context, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeLocked(ctx, agent)
}

func (s *Store) resumeLocked(ctx context.Context, agent string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var reason sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT paused_reason FROM agent_status WHERE agent = ? AND status = 'paused'`,
		agent).Scan(&reason)
	if err == sql.ErrNoRows {
		return nil // already active
	}
	if err != nil {
		return err
	}

	cleared := 0
	if reason.Valid && strings.HasPrefix(reason.String, DoneReasonPrefix) {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE agent = ? AND processed = 0`, agent)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		cleared = int(n)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE agent_status
		SET status = 'active', paused_at = NULL, paused_reason = NULL,
		    resume_at = NULL, updated_at = ?
		WHERE agent = ?
	`, time.Now().UnixMilli(), agent)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Info("agent resumed",
		zap.String("agent", agent),
		zap.Int("backlog_cleared", cleared))
	return nil
}

// GetStatus returns the agent's pause state. Agents with no row are active.
func (s *Store) GetStatus(ctx context.Context, agent string) (AgentStatus, error) {
	st := AgentStatus{Agent: agent, Status: StatusActive}

	var status string
	var pausedAt, resumeAt sql.NullInt64
	var reason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT status, paused_at, paused_reason, resume_at
		FROM agent_status WHERE agent = ?
	`, agent).Scan(&status, &pausedAt, &reason, &resumeAt)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, err
	}

	st.Status = status
	if pausedAt.Valid {
		st.PausedAt = time.UnixMilli(pausedAt.Int64)
	}
	if reason.Valid {
		st.Reason = reason.String
	}
	if resumeAt.Valid {
		st.ResumeAt = time.UnixMilli(resumeAt.Int64)
	}
	return st, nil
}

// CheckAutoResume resumes the agent if it is paused with a resume_at in the
// past. Returns true when a resume happened. Engines call this once per
// processing tick so a timed pause never needs an external actor to end it.
func (s *Store) CheckAutoResume(ctx context.Context, agent string) (bool, error) {
	st, err := s.GetStatus(ctx, agent)
	if err != nil {
		return false, err
	}
	if !st.Paused() || st.ResumeAt.IsZero() || time.Now().Before(st.ResumeAt) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resumeLocked(ctx, agent); err != nil {
		return false, err
	}
	return true, nil
}
