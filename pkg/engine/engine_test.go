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
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ax-platform/relay/pkg/handler"
	"github.com/ax-platform/relay/pkg/killswitch"
	"github.com/ax-platform/relay/pkg/store"
	"github.com/ax-platform/relay/pkg/transport"
)

type sentReply struct {
	content  string
	parentID string
}

// fakeMessenger scripts check payloads and records sends. When the script
// runs out, checks block until the context ends, like a real wait=true call.
type fakeMessenger struct {
	mu      sync.Mutex
	checks  []*transport.CheckPayload
	sends   []sentReply
	sendErr error
}

func (f *fakeMessenger) CheckMessages(ctx context.Context, opts transport.CheckOptions) (*transport.CheckPayload, error) {
	f.mu.Lock()
	if len(f.checks) > 0 {
		next := f.checks[0]
		f.checks = f.checks[1:]
		f.mu.Unlock()
		return next, nil
	}
	f.mu.Unlock()

	if !opts.Wait {
		return &transport.CheckPayload{Text: "No mentions found"}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeMessenger) SendReply(ctx context.Context, content, parentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, sentReply{content: content, parentID: parentID})
	return nil
}

func (f *fakeMessenger) Ping(ctx context.Context) error { return nil }

func (f *fakeMessenger) sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReply(nil), f.sends...)
}

func textPayload(sender, agent, body, id string) *transport.CheckPayload {
	return &transport.CheckPayload{
		Text: fmt.Sprintf("• %s: @%s %s [id:%s]", sender, agent, body, id),
	}
}

type testEnv struct {
	store     *store.Store
	messenger *fakeMessenger
	engine    *Engine
	cancel    context.CancelFunc
	done      chan struct{}
}

func startEngine(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	s := cfg.Store
	if s == nil {
		var err error
		s, err = store.Open(filepath.Join(t.TempDir(), "engine.db"), zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
	}

	if cfg.AgentID == "" {
		cfg.AgentID = "alice"
	}
	cfg.Store = s
	if cfg.Session == nil {
		cfg.Session = &fakeMessenger{}
	}
	if cfg.Handler == nil {
		cfg.Handler = handler.NewEcho()
	}
	cfg.Logger = zaptest.NewLogger(t)
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}

	e, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	env := &testEnv{
		store:     s,
		messenger: cfg.Session.(*fakeMessenger),
		engine:    e,
		cancel:    cancel,
		done:      done,
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return env
}

func TestEngineProcessesMentionAndReplies(t *testing.T) {
	m := &fakeMessenger{
		checks: []*transport.CheckPayload{
			textPayload("bob", "alice", "hello there", "aaaabbbb-1111"),
		},
	}
	env := startEngine(t, Config{Session: m})

	require.Eventually(t, func() bool {
		return len(m.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	reply := m.sent()[0]
	assert.Contains(t, reply.content, "Echo received at")
	assert.Contains(t, reply.content, "from @bob")
	// Replies are threaded to the mention they answer.
	assert.Equal(t, "aaaabbbb-1111", reply.parentID)

	// The row ends up processed, not pending.
	assert.Eventually(t, func() bool {
		n, err := env.store.CountPending(context.Background(), "alice")
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineSilentReplySendsNothing(t *testing.T) {
	m := &fakeMessenger{
		checks: []*transport.CheckPayload{
			textPayload("bob", "alice", "quiet please", "cafecafe-2222"),
		},
	}
	silent := handler.Func(func(ctx context.Context, msg handler.Incoming) (string, error) {
		return "", nil
	})
	env := startEngine(t, Config{Session: m, Handler: silent})

	require.Eventually(t, func() bool {
		st, err := env.store.GetStats(context.Background(), "alice")
		return err == nil && st.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, m.sent())
}

func TestEngineHandlerErrorConsumesMention(t *testing.T) {
	m := &fakeMessenger{
		checks: []*transport.CheckPayload{
			textPayload("bob", "alice", "boom", "deadbeef-3333"),
		},
	}
	failing := handler.Func(func(ctx context.Context, msg handler.Incoming) (string, error) {
		return "", errors.New("handler exploded")
	})
	env := startEngine(t, Config{Session: m, Handler: failing})

	// With the default no-retry policy the mention is consumed, not looped.
	require.Eventually(t, func() bool {
		n, err := env.store.CountPending(context.Background(), "alice")
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, m.sent())
}

func TestEngineRetryPolicyDeadLetters(t *testing.T) {
	m := &fakeMessenger{
		checks: []*transport.CheckPayload{
			textPayload("bob", "alice", "always fails", "feedface-4444"),
		},
	}
	failing := handler.Func(func(ctx context.Context, msg handler.Incoming) (string, error) {
		return "", errors.New("still broken")
	})
	env := startEngine(t, Config{Session: m, Handler: failing, MaxRetries: 2})

	require.Eventually(t, func() bool {
		dead, err := env.store.DeadLetters(context.Background(), "alice")
		return err == nil && len(dead) == 1
	}, 5*time.Second, 10*time.Millisecond)

	dead, err := env.store.DeadLetters(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, dead[0].RetryCount)
}

func TestEngineDoneThrottlePausesAndStripsMention(t *testing.T) {
	m := &fakeMessenger{
		checks: []*transport.CheckPayload{
			textPayload("bob", "alice", "wrap it up", "beefbeef-5555"),
		},
	}
	doneHandler := handler.Func(func(ctx context.Context, msg handler.Incoming) (string, error) {
		return "all finished @alice #done", nil
	})
	env := startEngine(t, Config{Session: m, Handler: doneHandler})

	require.Eventually(t, func() bool {
		return len(m.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The reply goes out without the agent's own mention.
	assert.Equal(t, "all finished #done", m.sent()[0].content)

	// The agent is paused with an auto-resume and a backlog-clearing reason.
	require.Eventually(t, func() bool {
		st, err := env.store.GetStatus(context.Background(), "alice")
		return err == nil && st.Paused()
	}, 2*time.Second, 10*time.Millisecond)

	st, err := env.store.GetStatus(context.Background(), "alice")
	require.NoError(t, err)
	assert.Contains(t, st.Reason, "Done:")
	assert.WithinDuration(t, time.Now().Add(DoneResumeDelay), st.ResumeAt, 5*time.Second)
}

func TestEnginePausedAgentLeavesBacklogAlone(t *testing.T) {
	m := &fakeMessenger{}
	env := startEngine(t, Config{Session: m})

	ctx := context.Background()
	require.NoError(t, env.store.Pause(ctx, "alice", "manual pause", time.Time{}))
	env.store.Put(ctx, "msg-1", "alice", "bob", "@alice while paused")

	// Give the processor time to (wrongly) pick it up.
	time.Sleep(100 * time.Millisecond)

	n, err := env.store.CountPending(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, m.sent())
}

func TestEngineKillSwitchHaltsProcessingNotPolling(t *testing.T) {
	swPath := filepath.Join(t.TempDir(), "KILL_SWITCH")
	sw := killswitch.New(swPath)
	require.NoError(t, sw.Activate("test"))

	m := &fakeMessenger{
		checks: []*transport.CheckPayload{
			textPayload("bob", "alice", "during kill switch", "abadcafe-6666"),
		},
	}
	env := startEngine(t, Config{Session: m, KillSwitch: sw})

	// The poller still persists the mention.
	require.Eventually(t, func() bool {
		n, err := env.store.CountPending(context.Background(), "alice")
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	// But nothing is processed while the switch is on.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, m.sent())

	// Deactivating lets the backlog drain.
	require.NoError(t, sw.Deactivate())
	require.Eventually(t, func() bool {
		return len(m.sent()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngineStartupSweepDrainsBacklog(t *testing.T) {
	m := &fakeMessenger{
		checks: []*transport.CheckPayload{
			textPayload("bob", "alice", "missed one", "11111111-aaaa"),
			textPayload("carol", "alice", "missed two", "22222222-bbbb"),
			{Text: "No mentions found"},
		},
	}
	env := startEngine(t, Config{Session: m, StartupSweep: true, SweepLimit: 10})

	require.Eventually(t, func() bool {
		st, err := env.store.GetStats(context.Background(), "alice")
		return err == nil && st.Total == 2
	}, 5*time.Second, 20*time.Millisecond)

	// Swept mentions flow through the normal processor.
	require.Eventually(t, func() bool {
		return len(m.sent()) == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEngineResumesInterruptedMessage(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// A crash mid-processing leaves the row claimed but unprocessed.
	ctx := context.Background()
	require.Equal(t, store.PutAccepted, s.Put(ctx, "44444444-dddd", "alice", "bob", "@alice interrupted work"))
	require.NoError(t, s.MarkProcessing(ctx, "44444444-dddd", "alice"))

	m := &fakeMessenger{}
	startEngine(t, Config{Session: m, Store: s})

	// A restarted engine picks the claimed row back up and finishes it.
	require.Eventually(t, func() bool {
		return len(m.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "44444444-dddd", m.sent()[0].parentID)

	require.Eventually(t, func() bool {
		n, err := s.CountPending(ctx, "alice")
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineDeduplicatesRedelivery(t *testing.T) {
	payload := textPayload("bob", "alice", "same mention twice", "33333333-cccc")
	m := &fakeMessenger{checks: []*transport.CheckPayload{payload, payload}}
	env := startEngine(t, Config{Session: m})

	require.Eventually(t, func() bool {
		return len(m.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	st, err := env.store.GetStats(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Len(t, m.sent(), 1)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{AgentID: "alice"})
	assert.Error(t, err)
}
