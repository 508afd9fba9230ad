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
package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ax-platform/relay/internal/version"
	"github.com/ax-platform/relay/pkg/config"
	"github.com/ax-platform/relay/pkg/heartbeat"
)

// Manager opens every transport an agent declares, in declaration order, and
// keeps remote sessions alive with heartbeats. The primary transport is the
// messaging channel the queue engine drives; secondary transports are opened
// for handlers that call their tools.
type Manager struct {
	agentID  string
	logger   *zap.Logger
	sessions []namedSession
	primary  *Session
	hb       *heartbeat.Manager
}

type namedSession struct {
	name    string
	session *Session
}

// ManagerConfig configures transport opening.
type ManagerConfig struct {
	Agent             *config.AgentConfig
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// Open launches and initializes the agent's transports. A failure on the
// primary transport is fatal; failed secondaries are logged and skipped so a
// broken side channel cannot take the agent down.
func Open(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	interval := cfg.HeartbeatInterval
	if interval == 0 {
		interval = heartbeat.DefaultInterval
	}

	primary, err := cfg.Agent.Primary()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		agentID: cfg.Agent.AgentID,
		logger:  cfg.Logger,
		hb:      heartbeat.NewManager(interval, cfg.Logger),
	}

	for _, t := range cfg.Agent.Transports {
		session, err := m.open(ctx, t)
		if err != nil {
			if t.Name == primary.Name {
				m.Close()
				return nil, fmt.Errorf("primary transport %s: %w", t.Name, err)
			}
			cfg.Logger.Warn("skipping failed transport",
				zap.String("transport", t.Name),
				zap.Error(err))
			continue
		}

		m.sessions = append(m.sessions, namedSession{name: t.Name, session: session})
		if t.Name == primary.Name {
			m.primary = session
		}

		// Only networked endpoints idle out; local tool servers need no
		// keep-alive traffic.
		if t.Spec.Remote() {
			m.hb.Start(ctx, session, fmt.Sprintf("%s/%s", cfg.Agent.AgentID, t.Name))
		}
	}

	if m.primary == nil {
		m.Close()
		return nil, fmt.Errorf("agent %s: primary transport %s did not open", cfg.Agent.AgentID, primary.Name)
	}

	cfg.Logger.Info("transports open",
		zap.String("agent", cfg.Agent.AgentID),
		zap.Int("count", len(m.sessions)),
		zap.String("primary", primary.Name))
	return m, nil
}

func (m *Manager) open(ctx context.Context, t config.NamedTransport) (*Session, error) {
	conn, err := NewStdioConn(StdioConfig{
		Command: t.Spec.Command,
		Args:    t.Spec.Args,
		Env:     t.Spec.Env,
		Logger:  m.logger.With(zap.String("transport", t.Name)),
	})
	if err != nil {
		return nil, err
	}

	session := NewSession(SessionConfig{
		Conn:   conn,
		Logger: m.logger.With(zap.String("transport", t.Name)),
	})

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := session.Initialize(initCtx, Implementation{
		Name:    "relay",
		Version: version.Version,
	}); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// Primary returns the messaging session.
func (m *Manager) Primary() *Session {
	return m.primary
}

// Session returns a session by transport name.
func (m *Manager) Session(name string) (*Session, bool) {
	for _, s := range m.sessions {
		if s.name == name {
			return s.session, true
		}
	}
	return nil, false
}

// Sessions returns the open sessions in declaration order.
func (m *Manager) Sessions() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.session)
	}
	return out
}

// Close stops heartbeats and tears sessions down in reverse declaration
// order.
func (m *Manager) Close() {
	m.hb.StopAll()
	for i := len(m.sessions) - 1; i >= 0; i-- {
		if err := m.sessions[i].session.Close(); err != nil {
			m.logger.Warn("failed to close transport",
				zap.String("transport", m.sessions[i].name),
				zap.Error(err))
		}
	}
	m.sessions = nil
	m.primary = nil
}
