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
// Package supervisor spawns and manages monitor child processes, one per
// agent.
//
// Each monitor is a `relay monitor <agent>` child in its own process group.
// The supervisor enforces one monitor per agent, reaps orphans left behind by
// crashed supervisors, and persists ownership so a restart never kills
// processes it does not own.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ax-platform/relay/pkg/config"
	"github.com/ax-platform/relay/pkg/killswitch"
	"github.com/ax-platform/relay/pkg/store"
)

var (
	// ErrAlreadyRunning is returned when a monitor for the agent exists.
	// Callers decide whether to stop first; the supervisor never silently
	// replaces a live monitor.
	ErrAlreadyRunning = errors.New("monitor already running for agent")
	// ErrNotFound is returned for unknown monitor ids.
	ErrNotFound = errors.New("monitor not found")
	// ErrStillRunning is returned when deleting a live monitor.
	ErrStillRunning = errors.New("monitor still running")
)

// stopGrace is how long a SIGTERM'd monitor gets before SIGKILL.
const stopGrace = 5 * time.Second

// Status of a tracked monitor.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
)

// StartSpec describes a monitor to start.
type StartSpec struct {
	AgentID string
	Handler string // handler kind: echo, llm
	Model   string // optional model override for llm handlers
	GroupID string // deployment group that started it, if any
	// ProcessBacklog false drops the agent's pending queue before start,
	// so a re-deployed agent does not storm through stale mentions.
	ProcessBacklog bool
}

// MonitorRecord is one tracked monitor.
type MonitorRecord struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Handler   string    `json:"handler"`
	Model     string    `json:"model,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	Status    string    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
	LogFile   string    `json:"log_file"`
	// Orphan marks monitors discovered by system scan but not tracked
	// here.
	Orphan bool `json:"orphan,omitempty"`
}

// Config configures a Supervisor.
type Config struct {
	// BinPath is the monitor executable, normally this binary itself.
	BinPath string
	LogDir  string
	// OwnershipPath is the persisted monitor ownership file.
	OwnershipPath string
	Store         *store.Store
	KillSwitch    *killswitch.Switch
	Logger        *zap.Logger
}

// Supervisor manages monitor child processes.
type Supervisor struct {
	id         string
	binPath    string
	logDir     string
	store      *store.Store
	killSwitch *killswitch.Switch
	ownership  *ownershipFile
	logger     *zap.Logger

	mu       sync.Mutex
	monitors map[string]*MonitorRecord // by monitor id
}

// New creates a supervisor and reaps monitors left over from a previous
// supervisor run.
func New(cfg Config) (*Supervisor, error) {
	if cfg.BinPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		cfg.BinPath = exe
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	s := &Supervisor{
		id:         uuid.NewString(),
		binPath:    cfg.BinPath,
		logDir:     cfg.LogDir,
		store:      cfg.Store,
		killSwitch: cfg.KillSwitch,
		ownership:  newOwnershipFile(cfg.OwnershipPath),
		logger:     cfg.Logger,
		monitors:   make(map[string]*MonitorRecord),
	}

	s.reapPredecessors()
	if err := s.persist(); err != nil {
		s.logger.Warn("failed to persist ownership", zap.Error(err))
	}
	return s, nil
}

// ID returns the supervisor instance id.
func (s *Supervisor) ID() string {
	return s.id
}

// Start launches a monitor for the spec's agent.
func (s *Supervisor) Start(ctx context.Context, spec StartSpec) (*MonitorRecord, error) {
	if err := config.ValidateAgentID(spec.AgentID); err != nil {
		return nil, err
	}
	if spec.Handler == "" {
		spec.Handler = "echo"
	}

	// The duplicate check and the claim must be one critical section: two
	// concurrent Starts for the same agent would otherwise both pass the
	// check before either records its child. The placeholder claims the
	// agent while the spawn runs outside the lock.
	s.mu.Lock()
	for _, rec := range s.monitors {
		if rec.AgentID != spec.AgentID {
			continue
		}
		if rec.Status == StatusStarting || (rec.Status == StatusRunning && pidAlive(rec.PID)) {
			s.mu.Unlock()
			return nil, fmt.Errorf("agent %s: %w", spec.AgentID, ErrAlreadyRunning)
		}
	}
	// Drop stale stopped records for this agent.
	for id, rec := range s.monitors {
		if rec.AgentID == spec.AgentID {
			delete(s.monitors, id)
		}
	}
	placeholderID := "starting_" + spec.AgentID
	s.monitors[placeholderID] = &MonitorRecord{
		ID:      placeholderID,
		AgentID: spec.AgentID,
		Status:  StatusStarting,
	}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.monitors, placeholderID)
		s.mu.Unlock()
	}

	if !spec.ProcessBacklog && s.store != nil {
		if n, err := s.store.ClearAgent(ctx, spec.AgentID); err != nil {
			s.logger.Warn("failed to clear backlog, starting anyway",
				zap.String("agent", spec.AgentID), zap.Error(err))
		} else if n > 0 {
			s.logger.Info("cleared backlog before start",
				zap.String("agent", spec.AgentID), zap.Int("cleared", n))
		}
	}

	// A competing monitor for the same agent would double-process the
	// queue; orphans from dead supervisors go first.
	if killed := s.killAgentOrphans(spec.AgentID); killed > 0 {
		s.logger.Info("killed orphaned monitors",
			zap.String("agent", spec.AgentID), zap.Int("count", killed))
		time.Sleep(500 * time.Millisecond)
	}

	s.rotateAgentLogs(spec.AgentID)

	rec, err := s.spawn(spec)
	if err != nil {
		release()
		return nil, err
	}

	s.mu.Lock()
	delete(s.monitors, placeholderID)
	s.monitors[rec.ID] = rec
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.logger.Warn("failed to persist ownership", zap.Error(err))
	}

	s.logger.Info("monitor started",
		zap.String("monitor_id", rec.ID),
		zap.String("agent", rec.AgentID),
		zap.String("handler", rec.Handler),
		zap.Int("pid", rec.PID))
	return rec, nil
}

// Stop terminates a monitor gracefully: SIGTERM to its process group, then
// SIGKILL after the grace period. Stopping a stopped monitor is not an
// error.
func (s *Supervisor) Stop(monitorID string) error {
	s.mu.Lock()
	rec, ok := s.monitors[monitorID]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if rec.Status == StatusStopped || !pidAlive(rec.PID) {
		s.markStopped(rec)
		return nil
	}

	if err := terminateGroup(rec.PID, syscall.SIGTERM); err != nil {
		s.logger.Warn("SIGTERM failed, escalating",
			zap.String("monitor_id", monitorID), zap.Error(err))
	}

	if !waitExit(rec.PID, stopGrace) {
		s.logger.Warn("monitor did not exit, force killing",
			zap.String("monitor_id", monitorID), zap.Int("pid", rec.PID))
		_ = terminateGroup(rec.PID, syscall.SIGKILL)
		waitExit(rec.PID, 2*time.Second)
	}

	s.appendLogLine(rec, fmt.Sprintf("=== Monitor stopped at %s ===", time.Now().Format(time.RFC3339)))
	s.markStopped(rec)
	s.logger.Info("monitor stopped", zap.String("monitor_id", monitorID))
	return nil
}

// Kill force kills a monitor's whole process group immediately.
func (s *Supervisor) Kill(monitorID string) error {
	s.mu.Lock()
	rec, ok := s.monitors[monitorID]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if pidAlive(rec.PID) {
		_ = terminateGroup(rec.PID, syscall.SIGKILL)
		waitExit(rec.PID, 2*time.Second)
	}
	s.appendLogLine(rec, fmt.Sprintf("=== Monitor killed (forced) at %s ===", time.Now().Format(time.RFC3339)))
	s.markStopped(rec)
	s.logger.Info("monitor killed", zap.String("monitor_id", monitorID))
	return nil
}

// Restart stops and restarts a monitor with its original spec.
func (s *Supervisor) Restart(ctx context.Context, monitorID string, processBacklog bool) (*MonitorRecord, error) {
	s.mu.Lock()
	rec, ok := s.monitors[monitorID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	if err := s.Stop(monitorID); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.Start(ctx, StartSpec{
		AgentID:        rec.AgentID,
		Handler:        rec.Handler,
		Model:          rec.Model,
		GroupID:        rec.GroupID,
		ProcessBacklog: processBacklog,
	})
}

// Get returns a tracked monitor by id.
func (s *Supervisor) Get(monitorID string) (MonitorRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.monitors[monitorID]
	if !ok {
		return MonitorRecord{}, false
	}
	if rec.Status == StatusRunning && !pidAlive(rec.PID) {
		rec.Status = StatusStopped
	}
	return *rec, true
}

// Delete removes a stopped monitor's record.
func (s *Supervisor) Delete(monitorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.monitors[monitorID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status == StatusRunning && pidAlive(rec.PID) {
		return ErrStillRunning
	}
	delete(s.monitors, rec.ID)
	return nil
}

// List returns tracked monitors merged with a system scan, so orphans from
// other supervisors show up too. Sorted by agent id.
func (s *Supervisor) List() []MonitorRecord {
	s.mu.Lock()
	tracked := make(map[int]*MonitorRecord, len(s.monitors))
	out := make([]MonitorRecord, 0, len(s.monitors))
	for _, rec := range s.monitors {
		if rec.Status == StatusRunning && !pidAlive(rec.PID) {
			rec.Status = StatusStopped
			rec.PID = 0
		}
		if rec.PID != 0 {
			tracked[rec.PID] = rec
		}
		out = append(out, *rec)
	}
	s.mu.Unlock()

	for _, found := range s.scanSystem() {
		if _, ok := tracked[found.PID]; ok {
			continue
		}
		found.Orphan = true
		found.ID = fmt.Sprintf("orphan_%d", found.PID)
		out = append(out, found)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentID != out[j].AgentID {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// StopAll stops every tracked running monitor.
func (s *Supervisor) StopAll() int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.monitors))
	for id, rec := range s.monitors {
		if rec.Status == StatusRunning {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	stopped := 0
	for _, id := range ids {
		if err := s.Stop(id); err == nil {
			stopped++
		}
	}
	return stopped
}

// KillAllAndClear is the emergency stop: it engages the kill switch, kills
// every monitor on the host (tracked or orphaned), and drops all pending
// backlog.
func (s *Supervisor) KillAllAndClear(ctx context.Context) (killed, cleared int, err error) {
	if s.killSwitch != nil {
		if err := s.killSwitch.Activate("kill-all requested"); err != nil {
			return 0, 0, fmt.Errorf("activate kill switch: %w", err)
		}
	}

	killed = s.killEveryMonitor()

	if s.store != nil {
		n, clearErr := s.store.ClearAllPending(ctx)
		if clearErr != nil {
			return killed, 0, fmt.Errorf("clear backlog: %w", clearErr)
		}
		cleared = n
	}

	s.logger.Warn("kill-all executed",
		zap.Int("killed", killed),
		zap.Int("backlog_cleared", cleared))
	return killed, cleared, nil
}

func (s *Supervisor) markStopped(rec *MonitorRecord) {
	s.mu.Lock()
	rec.Status = StatusStopped
	s.mu.Unlock()
	if err := s.persist(); err != nil {
		s.logger.Warn("failed to persist ownership", zap.Error(err))
	}
}

func (s *Supervisor) appendLogLine(rec *MonitorRecord, line string) {
	if rec.LogFile == "" {
		return
	}
	f, err := os.OpenFile(rec.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "\n%s\n", line)
}

// rotateAgentLogs removes old log files for the agent so a fresh start reads
// from a clean log.
func (s *Supervisor) rotateAgentLogs(agentID string) {
	matches, err := filepath.Glob(filepath.Join(s.logDir, agentID+"_*.log"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err == nil {
			s.logger.Debug("removed old log file", zap.String("path", path))
		}
	}
}
