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
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// monitorCmdline matches a process command line against the shape of a
// spawned monitor: <bin> monitor <agent> [flags]. Returns the agent id and
// whether it matched. "monitor" must be the first argument after the binary
// path or the match is too loose.
func monitorCmdline(args []string) (string, bool) {
	if len(args) < 3 || args[1] != "monitor" {
		return "", false
	}
	agent := args[2]
	if agent == "" || agent[0] == '-' {
		return "", false
	}
	return agent, true
}

// scanSystem walks the process table looking for monitor processes,
// regardless of which supervisor started them.
func (s *Supervisor) scanSystem() []MonitorRecord {
	procs, err := process.Processes()
	if err != nil {
		s.logger.Warn("process scan failed", zap.Error(err))
		return nil
	}

	var found []MonitorRecord
	for _, p := range procs {
		args, err := p.CmdlineSlice()
		if err != nil || len(args) < 3 {
			continue
		}
		agent, ok := monitorCmdline(args)
		if !ok {
			continue
		}
		rec := MonitorRecord{
			AgentID: agent,
			Status:  StatusRunning,
			PID:     int(p.Pid),
		}
		if created, err := p.CreateTime(); err == nil {
			rec.StartedAt = time.UnixMilli(created)
		}
		found = append(found, rec)
	}
	return found
}

// killAgentOrphans kills every monitor process for the agent that this
// supervisor does not track. The supervisor's own pid is never signalled.
func (s *Supervisor) killAgentOrphans(agentID string) int {
	self := os.Getpid()

	s.mu.Lock()
	owned := make(map[int]bool, len(s.monitors))
	for _, rec := range s.monitors {
		owned[rec.PID] = true
	}
	s.mu.Unlock()

	killed := 0
	for _, rec := range s.scanSystem() {
		if rec.AgentID != agentID || rec.PID == self || owned[rec.PID] {
			continue
		}
		s.logger.Warn("killing orphaned monitor",
			zap.String("agent", agentID), zap.Int("pid", rec.PID))
		if err := terminateGroup(rec.PID, syscall.SIGKILL); err != nil {
			// Group kill fails for processes that kept our group; fall
			// back to the single pid.
			_ = syscall.Kill(rec.PID, syscall.SIGKILL)
		}
		killed++
	}
	return killed
}

// killEveryMonitor kills all monitor processes on the host, tracked and
// orphaned alike. Used by the emergency stop.
func (s *Supervisor) killEveryMonitor() int {
	self := os.Getpid()
	killed := 0

	s.mu.Lock()
	recs := make([]*MonitorRecord, 0, len(s.monitors))
	for _, rec := range s.monitors {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	for _, rec := range recs {
		if rec.Status == StatusRunning && pidAlive(rec.PID) {
			_ = terminateGroup(rec.PID, syscall.SIGKILL)
			killed++
		}
		s.markStopped(rec)
	}

	for _, rec := range s.scanSystem() {
		if rec.PID == self || !pidAlive(rec.PID) {
			continue
		}
		if err := terminateGroup(rec.PID, syscall.SIGKILL); err != nil {
			_ = syscall.Kill(rec.PID, syscall.SIGKILL)
		}
		killed++
	}
	return killed
}
