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
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ax-platform/relay/pkg/config"
	"github.com/ax-platform/relay/pkg/store"
)

// writeStubMonitor creates a fake monitor binary that just stays alive. Its
// post-exec command line never matches a real monitor, so the orphan scan
// ignores it and tests cannot interfere with each other.
func writeStubMonitor(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay-stub")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	return path
}

func newTestSupervisor(t *testing.T, st *store.Store) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	sup, err := New(Config{
		BinPath:       writeStubMonitor(t),
		LogDir:        filepath.Join(dir, "logs"),
		OwnershipPath: filepath.Join(dir, "monitors.json"),
		Store:         st,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sup.StopAll() })
	return sup
}

func TestMonitorCmdline(t *testing.T) {
	cases := []struct {
		name  string
		args  []string
		agent string
		ok    bool
	}{
		{"monitor command", []string{"/usr/local/bin/relay", "monitor", "alice"}, "alice", true},
		{"monitor with flags", []string{"relay", "monitor", "bob", "--handler", "llm"}, "bob", true},
		{"other subcommand", []string{"relay", "queue", "stats"}, "", false},
		{"monitor without agent", []string{"relay", "monitor"}, "", false},
		{"flag where agent expected", []string{"relay", "monitor", "--handler"}, "", false},
		{"unrelated process", []string{"/bin/sleep", "60"}, "", false},
		{"empty", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agent, ok := monitorCmdline(tc.args)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.agent, agent)
		})
	}
}

func TestOwnershipRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitors.json")
	file := newOwnershipFile(path)

	started := time.Now().Truncate(time.Millisecond)
	state := &ownershipState{
		SupervisorID: "sup-1",
		Monitors: map[string]ownedMonitor{
			"alice": {MonitorID: "alice_echo_1700000000", PID: 4242, StartTime: started},
		},
	}
	require.NoError(t, file.save(state))

	loaded, err := file.load()
	require.NoError(t, err)
	assert.Equal(t, "sup-1", loaded.SupervisorID)
	require.Contains(t, loaded.Monitors, "alice")
	assert.Equal(t, 4242, loaded.Monitors["alice"].PID)
	assert.True(t, loaded.Monitors["alice"].StartTime.Equal(started))
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestOwnershipLoadMissingFile(t *testing.T) {
	file := newOwnershipFile(filepath.Join(t.TempDir(), "absent.json"))
	state, err := file.load()
	require.NoError(t, err)
	assert.Empty(t, state.Monitors)
}

func TestOwnershipLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitors.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := newOwnershipFile(path).load()
	assert.Error(t, err)
}

func TestResolveGroupSpecDefaults(t *testing.T) {
	yes := true
	no := false
	group := config.DeploymentGroup{
		ID: "team",
		Defaults: config.GroupDefaults{
			Handler:        "llm",
			Model:          "claude-sonnet-4-5",
			StartDelayMS:   250,
			ProcessBacklog: &no,
		},
		Agents: []config.GroupAgent{
			{ID: "alice"},
			{ID: "bob", Handler: "echo", StartDelayMS: 1000, ProcessBacklog: &yes},
		},
	}

	alice := resolveGroupSpec(group, group.Agents[0])
	assert.Equal(t, "llm", alice.Handler)
	assert.Equal(t, "claude-sonnet-4-5", alice.Model)
	assert.Equal(t, "team", alice.GroupID)
	assert.False(t, alice.ProcessBacklog)
	assert.Equal(t, 250*time.Millisecond, resolveStartDelay(group, group.Agents[0]))

	bob := resolveGroupSpec(group, group.Agents[1])
	assert.Equal(t, "echo", bob.Handler)
	assert.True(t, bob.ProcessBacklog)
	assert.Equal(t, time.Second, resolveStartDelay(group, group.Agents[1]))
}

func TestResolveGroupSpecNoDefaults(t *testing.T) {
	group := config.DeploymentGroup{
		ID:     "bare",
		Agents: []config.GroupAgent{{ID: "carol"}},
	}
	spec := resolveGroupSpec(group, group.Agents[0])
	assert.Empty(t, spec.Handler)
	// Unspecified everywhere means do not process the backlog.
	assert.False(t, spec.ProcessBacklog)
	assert.Zero(t, resolveStartDelay(group, group.Agents[0]))
}

func TestStartRejectsSecondMonitorForAgent(t *testing.T) {
	sup := newTestSupervisor(t, nil)
	ctx := context.Background()

	first, err := sup.Start(ctx, StartSpec{AgentID: "dupagent"})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, first.Status)
	assert.True(t, pidAlive(first.PID))

	_, err = sup.Start(ctx, StartSpec{AgentID: "dupagent"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// Stopping frees the agent for a fresh start.
	require.NoError(t, sup.Stop(first.ID))
	second, err := sup.Start(ctx, StartSpec{AgentID: "dupagent"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestConcurrentStartsSpawnExactlyOneMonitor(t *testing.T) {
	sup := newTestSupervisor(t, nil)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sup.Start(ctx, StartSpec{AgentID: "racer"})
		}(i)
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		if err == nil {
			started++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyRunning)
		}
	}
	assert.Equal(t, 1, started)

	running := 0
	for _, rec := range sup.List() {
		if rec.AgentID == "racer" && rec.Status == StatusRunning {
			running++
		}
	}
	assert.Equal(t, 1, running)
}

func TestStopTerminatesChild(t *testing.T) {
	sup := newTestSupervisor(t, nil)

	rec, err := sup.Start(context.Background(), StartSpec{AgentID: "stopme"})
	require.NoError(t, err)
	require.True(t, pidAlive(rec.PID))

	require.NoError(t, sup.Stop(rec.ID))

	got, ok := sup.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, StatusStopped, got.Status)
	assert.False(t, pidAlive(rec.PID))

	// Stopping again is idempotent; deleting now works.
	require.NoError(t, sup.Stop(rec.ID))
	require.NoError(t, sup.Delete(rec.ID))
	assert.True(t, errors.Is(sup.Stop(rec.ID), ErrNotFound))
}

func TestStartDropsAgentRowsUnlessBacklogRequested(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "sup.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	st.Put(ctx, "old-1", "fresh", "bob", "@fresh stale mention")
	st.Put(ctx, "old-2", "fresh", "bob", "@fresh done already")
	require.NoError(t, st.MarkProcessed(ctx, "old-2", "fresh"))

	sup := newTestSupervisor(t, st)
	rec, err := sup.Start(ctx, StartSpec{AgentID: "fresh"})
	require.NoError(t, err)

	// Pending and processed history are both gone.
	stats, err := st.GetStats(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)

	require.NoError(t, sup.Stop(rec.ID))

	// With ProcessBacklog the rows survive the restart.
	st.Put(ctx, "keep-1", "fresh", "bob", "@fresh keep me")
	_, err = sup.Start(ctx, StartSpec{AgentID: "fresh", ProcessBacklog: true})
	require.NoError(t, err)

	n, err := st.CountPending(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewMonitorIDUniqueWithinSameSecond(t *testing.T) {
	now := time.Now()
	a := newMonitorID("alice", "echo", now)
	b := newMonitorID("alice", "echo", now)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "alice_echo_")
}

func TestPidAliveRejectsBadPids(t *testing.T) {
	assert.False(t, pidAlive(0))
	assert.False(t, pidAlive(-1))
	assert.True(t, pidAlive(os.Getpid()))
}
