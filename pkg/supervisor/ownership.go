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
package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// ownedMonitor is one persisted child entry. StartTime guards against pid
// reuse: a recycled pid will not share the recorded create time.
type ownedMonitor struct {
	MonitorID string    `json:"monitor_id"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
}

// ownershipState is the on-disk shape of monitors.json.
type ownershipState struct {
	SupervisorID string                  `json:"supervisor_id"`
	UpdatedAt    time.Time               `json:"updated_at"`
	Monitors     map[string]ownedMonitor `json:"monitors"` // by agent id
}

type ownershipFile struct {
	path string
}

func newOwnershipFile(path string) *ownershipFile {
	return &ownershipFile{path: path}
}

func (o *ownershipFile) load() (*ownershipState, error) {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ownershipState{Monitors: map[string]ownedMonitor{}}, nil
		}
		return nil, err
	}
	var state ownershipState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse ownership file %s: %w", o.path, err)
	}
	if state.Monitors == nil {
		state.Monitors = map[string]ownedMonitor{}
	}
	return &state, nil
}

// save writes the state atomically via rename.
func (o *ownershipFile) save(state *ownershipState) error {
	if o.path == "" {
		return nil
	}
	state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return err
	}
	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, o.path)
}

// persist writes the supervisor's current children to the ownership file.
func (s *Supervisor) persist() error {
	state := &ownershipState{
		SupervisorID: s.id,
		Monitors:     map[string]ownedMonitor{},
	}

	s.mu.Lock()
	for _, rec := range s.monitors {
		if rec.Status != StatusRunning || rec.PID == 0 {
			continue
		}
		state.Monitors[rec.AgentID] = ownedMonitor{
			MonitorID: rec.ID,
			PID:       rec.PID,
			StartTime: rec.StartedAt,
		}
	}
	s.mu.Unlock()

	return s.ownership.save(state)
}

// reapPredecessors kills monitors recorded by a previous supervisor run.
// Each recorded pid is verified three ways before any signal: it must be
// alive, its create time must match the record within a small window, and
// its command line must look like a monitor for the recorded agent. Any
// mismatch means the pid was recycled and the process is left alone.
func (s *Supervisor) reapPredecessors() {
	state, err := s.ownership.load()
	if err != nil {
		s.logger.Warn("failed to load ownership file, skipping reap", zap.Error(err))
		return
	}
	if len(state.Monitors) == 0 {
		return
	}

	self := os.Getpid()
	for agent, owned := range state.Monitors {
		if owned.PID <= 0 || owned.PID == self || !pidAlive(owned.PID) {
			continue
		}
		if !s.verifyOwnedProcess(agent, owned) {
			s.logger.Info("recorded pid reused by another process, not touching it",
				zap.String("agent", agent), zap.Int("pid", owned.PID))
			continue
		}

		s.logger.Warn("reaping monitor from previous supervisor run",
			zap.String("agent", agent),
			zap.String("monitor_id", owned.MonitorID),
			zap.Int("pid", owned.PID))
		if err := terminateGroup(owned.PID, syscall.SIGTERM); err != nil {
			_ = syscall.Kill(owned.PID, syscall.SIGTERM)
		}
		if !waitExit(owned.PID, stopGrace) {
			_ = terminateGroup(owned.PID, syscall.SIGKILL)
		}
	}
}

// verifyOwnedProcess checks that the live process behind a recorded pid is
// still the monitor the record described.
func (s *Supervisor) verifyOwnedProcess(agent string, owned ownedMonitor) bool {
	p, err := process.NewProcess(int32(owned.PID))
	if err != nil {
		return false
	}

	if !owned.StartTime.IsZero() {
		created, err := p.CreateTime()
		if err != nil {
			return false
		}
		diff := time.UnixMilli(created).Sub(owned.StartTime)
		if diff < -2*time.Second || diff > 2*time.Second {
			return false
		}
	}

	args, err := p.CmdlineSlice()
	if err != nil {
		return false
	}
	got, ok := monitorCmdline(args)
	return ok && got == agent
}
