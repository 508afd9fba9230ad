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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// newMonitorID builds a unique monitor id. The random suffix keeps rapid
// stop/start cycles within the same second from colliding.
func newMonitorID(agentID, handler string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%d_%s", agentID, handler, now.Unix(), uuid.NewString()[:8])
}

// spawn launches the monitor child. The child gets its own process group so
// stop and kill can take the whole tree down with one signal, and its stdout
// and stderr go to the per-monitor log file.
func (s *Supervisor) spawn(spec StartSpec) (*MonitorRecord, error) {
	now := time.Now()
	monitorID := newMonitorID(spec.AgentID, spec.Handler, now)
	logPath := filepath.Join(s.logDir, monitorID+".log")

	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open monitor log: %w", err)
	}
	defer logFile.Close()

	writeLogHeader(logFile, monitorID, spec, now)

	args := []string{"monitor", spec.AgentID, "--handler", spec.Handler}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}

	cmd := exec.Command(s.binPath, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil // child never reads our stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start monitor: %w", err)
	}
	pid := cmd.Process.Pid

	// Reap the child when it exits so it never lingers as a zombie.
	go func() {
		err := cmd.Wait()
		s.logger.Info("monitor process exited",
			zap.String("monitor_id", monitorID),
			zap.Int("pid", pid),
			zap.Error(err))
	}()

	return &MonitorRecord{
		ID:        monitorID,
		AgentID:   spec.AgentID,
		Handler:   spec.Handler,
		Model:     spec.Model,
		GroupID:   spec.GroupID,
		Status:    StatusRunning,
		PID:       pid,
		StartedAt: now,
		LogFile:   logPath,
	}, nil
}

func writeLogHeader(f *os.File, monitorID string, spec StartSpec, now time.Time) {
	fmt.Fprintf(f, "================================================================\n")
	fmt.Fprintf(f, "Monitor:  %s\n", monitorID)
	fmt.Fprintf(f, "Agent:    %s\n", spec.AgentID)
	fmt.Fprintf(f, "Handler:  %s\n", spec.Handler)
	if spec.Model != "" {
		fmt.Fprintf(f, "Model:    %s\n", spec.Model)
	}
	fmt.Fprintf(f, "Started:  %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(f, "================================================================\n")
}

// pidAlive reports whether pid is running. Signal 0 probes without touching
// the process.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// terminateGroup signals pid's whole process group.
func terminateGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// waitExit polls until pid is gone or the timeout elapses.
func waitExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !pidAlive(pid)
}
