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
// Package heartbeat keeps remote sessions alive with periodic pings.
//
// Hosted endpoints drop idle connections after about five minutes; a ping
// every four minutes holds them open indefinitely. Ping failures are logged
// and retried, never fatal, since the session may recover on its own.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the ping cadence, chosen to stay under typical
// five-minute idle timeouts.
const DefaultInterval = 240 * time.Second

// failureBackoff is the pause after a failed ping before rejoining the
// normal cadence.
const failureBackoff = 5 * time.Second

// Pinger is the minimal session surface a heartbeat needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeepAlive pings the session every interval until ctx is cancelled. An
// interval <= 0 disables the heartbeat and returns immediately.
func KeepAlive(ctx context.Context, session Pinger, interval time.Duration, name string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session", name))

	if interval <= 0 {
		logger.Info("heartbeat disabled")
		return
	}

	logger.Info("heartbeat started", zap.Duration("interval", interval))

	pings, failures := 0, 0
	defer func() {
		if pings > 0 || failures > 0 {
			logger.Info("heartbeat stopped",
				zap.Int("pings", pings),
				zap.Int("failures", failures))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		if err := session.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			logger.Error("ping failed, connection may be lost",
				zap.Int("failure_count", failures),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(failureBackoff):
			}
			continue
		}

		pings++
		logger.Debug("ping ok",
			zap.Int("ping_count", pings),
			zap.Duration("took", time.Since(start)))
	}
}

// Manager tracks heartbeats for multiple sessions and stops them together.
type Manager struct {
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager with a default interval for all sessions.
func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		interval: interval,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start begins a heartbeat for the named session. Starting a name twice
// replaces the previous heartbeat.
func (m *Manager) Start(ctx context.Context, session Pinger, name string) {
	m.mu.Lock()
	if cancel, ok := m.cancels[name]; ok {
		m.logger.Warn("heartbeat already running, replacing",
			zap.String("session", name))
		cancel()
	}
	hbCtx, cancel := context.WithCancel(ctx)
	m.cancels[name] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		KeepAlive(hbCtx, session, m.interval, name, m.logger)
	}()
}

// Stop cancels the named heartbeat.
func (m *Manager) Stop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[name]; ok {
		cancel()
		delete(m.cancels, name)
	}
}

// StopAll cancels every heartbeat and waits for them to finish.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for name, cancel := range m.cancels {
		cancel()
		delete(m.cancels, name)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Active returns the number of running heartbeats.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}
