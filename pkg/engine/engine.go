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
// Package engine runs the per-agent queue loop: a poller that persists
// incoming mentions, and a processor that works the backlog in FIFO order.
//
// The two run as independent goroutines over a shared durable store, so a
// slow handler never drops a mention: the poller keeps draining the server
// while the processor catches up.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ax-platform/relay/pkg/handler"
	"github.com/ax-platform/relay/pkg/killswitch"
	"github.com/ax-platform/relay/pkg/mention"
	"github.com/ax-platform/relay/pkg/store"
	"github.com/ax-platform/relay/pkg/transport"
)

const (
	// DefaultPollInterval is the processor's idle sleep.
	DefaultPollInterval = time.Second
	// DefaultSweepLimit caps the startup backlog fetch. Zero means
	// unlimited (bounded by maxSweepIterations).
	DefaultSweepLimit = 10

	// errorBackoff is the pause after a poller or processor error.
	errorBackoff = 5 * time.Second
	// killSwitchInterval is how often a halted processor rechecks the
	// switch.
	killSwitchInterval = 2 * time.Second

	// maxSweepIterations bounds the startup sweep regardless of limit.
	maxSweepIterations = 200
	// sweepDelay paces sweep calls to stay under server rate limits
	// (~85 requests per minute).
	sweepDelay = 700 * time.Millisecond
)

// Config configures an Engine.
type Config struct {
	AgentID    string
	Store      *store.Store
	Session    transport.Messenger
	Handler    handler.Handler
	KillSwitch *killswitch.Switch
	Logger     *zap.Logger

	// PollInterval is the processor's idle sleep; zero means
	// DefaultPollInterval.
	PollInterval time.Duration
	// MarkRead marks mentions read as the poller receives them. Off by
	// default: unread state is what lets a restarted engine recover
	// missed mentions.
	MarkRead bool
	// StartupSweep drains unread backlog before polling begins.
	StartupSweep bool
	// SweepLimit caps the sweep; zero sweeps until empty.
	SweepLimit int
	// MaxRetries is the per-message retry budget on failures. Zero keeps
	// the historical policy: fail once, never retry.
	MaxRetries int
}

// Engine is one agent's queue runtime.
type Engine struct {
	cfg    Config
	parser *mention.Parser
	logger *zap.Logger
}

// New validates the config and creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("engine: agent id required")
	}
	if cfg.Store == nil || cfg.Session == nil || cfg.Handler == nil {
		return nil, fmt.Errorf("engine: store, session and handler required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	logger := cfg.Logger.With(zap.String("agent", cfg.AgentID))
	return &Engine{
		cfg:    cfg,
		parser: mention.NewParser(cfg.AgentID, logger),
		logger: logger,
	}, nil
}

// Run executes the startup sweep, then the poller and processor until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	stats, err := e.cfg.Store.GetStats(ctx, e.cfg.AgentID)
	if err == nil {
		e.logger.Info("queue engine starting",
			zap.Int("pending", stats.Pending),
			zap.Int("completed", stats.Completed))
	}

	if e.cfg.StartupSweep {
		e.sweep(ctx)
	}

	done := make(chan struct{}, 2)
	go func() {
		e.pollLoop(ctx)
		done <- struct{}{}
	}()
	go func() {
		e.processLoop(ctx)
		done <- struct{}{}
	}()

	<-done
	<-done

	if stats, err := e.cfg.Store.GetStats(ctx, e.cfg.AgentID); err == nil {
		e.logger.Info("queue engine stopped",
			zap.Int("pending", stats.Pending),
			zap.Int("completed", stats.Completed),
			zap.Duration("avg_processing_time", stats.AvgProcessingTime))
	}
	return ctx.Err()
}

// sweep fetches unread backlog one mention at a time before polling starts,
// so an engine joining late catches up on what it missed. Fetched mentions
// are marked read immediately to keep them from being fetched twice.
func (e *Engine) sweep(ctx context.Context) {
	limit := e.cfg.SweepLimit
	e.logger.Info("starting unread sweep", zap.Int("limit", limit))

	fetched := 0
	for iteration := 0; iteration < maxSweepIterations; iteration++ {
		if ctx.Err() != nil {
			return
		}
		if limit > 0 && fetched >= limit {
			e.logger.Info("sweep limit reached", zap.Int("fetched", fetched))
			return
		}

		payload, err := e.cfg.Session.CheckMessages(ctx, transport.CheckOptions{
			Wait:        false,
			MarkRead:    true,
			Mode:        "unread",
			Limit:       1,
			FilterAgent: e.cfg.AgentID,
		})
		if err != nil {
			e.logger.Error("sweep check failed, continuing with polling", zap.Error(err))
			return
		}

		m := e.parser.Parse(toEvents(payload.Events), payload.Text)
		if m == nil {
			e.logger.Info("sweep complete", zap.Int("fetched", fetched))
			return
		}

		if e.cfg.Store.Put(ctx, m.ID, e.cfg.AgentID, m.Sender, m.Content) == store.PutAccepted {
			fetched++
			e.logger.Info("sweep stored mention",
				zap.String("message_id", shortID(m.ID)),
				zap.String("sender", m.Sender),
				zap.Int("fetched", fetched))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sweepDelay):
		}
	}
	e.logger.Warn("sweep hit iteration cap", zap.Int("fetched", fetched))
}

// pollLoop blocks on the server until a mention arrives, persists it, and
// waits again.
func (e *Engine) pollLoop(ctx context.Context) {
	e.logger.Info("poller started")

	for ctx.Err() == nil {
		payload, err := e.cfg.Session.CheckMessages(ctx, transport.CheckOptions{
			Wait:     true,
			MarkRead: e.cfg.MarkRead,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			e.logger.Error("poll failed", zap.Error(err))
			sleep(ctx, errorBackoff)
			continue
		}

		m := e.parser.Parse(toEvents(payload.Events), payload.Text)
		if m == nil {
			continue
		}

		switch e.cfg.Store.Put(ctx, m.ID, e.cfg.AgentID, m.Sender, m.Content) {
		case store.PutAccepted:
			backlog, _ := e.cfg.Store.CountPending(ctx, e.cfg.AgentID)
			e.logger.Info("stored mention",
				zap.String("message_id", shortID(m.ID)),
				zap.String("sender", m.Sender),
				zap.Int("backlog", backlog))
		case store.PutIgnored:
			e.logger.Debug("duplicate mention ignored",
				zap.String("message_id", shortID(m.ID)))
		case store.PutRejected:
			e.logger.Warn("failed to store mention",
				zap.String("message_id", shortID(m.ID)))
		}
	}
	e.logger.Info("poller stopped")
}

// processLoop works the backlog strictly FIFO, one mention at a time.
func (e *Engine) processLoop(ctx context.Context) {
	e.logger.Info("processor started")

	for ctx.Err() == nil {
		if e.cfg.KillSwitch != nil && e.cfg.KillSwitch.Active() {
			e.logger.Warn("kill switch active, processing halted")
			sleep(ctx, killSwitchInterval)
			continue
		}

		// Timed pauses end themselves; nobody has to remember to resume.
		if resumed, err := e.cfg.Store.CheckAutoResume(ctx, e.cfg.AgentID); err != nil {
			e.logger.Error("auto-resume check failed", zap.Error(err))
		} else if resumed {
			e.logger.Info("auto-resumed")
		}

		status, err := e.cfg.Store.GetStatus(ctx, e.cfg.AgentID)
		if err != nil {
			e.logger.Error("status check failed", zap.Error(err))
			sleep(ctx, errorBackoff)
			continue
		}
		if status.Paused() {
			sleep(ctx, e.cfg.PollInterval)
			continue
		}

		msgs, err := e.cfg.Store.PeekPending(ctx, e.cfg.AgentID, 1)
		if err != nil {
			e.logger.Error("peek failed", zap.Error(err))
			sleep(ctx, errorBackoff)
			continue
		}
		if len(msgs) == 0 {
			sleep(ctx, e.cfg.PollInterval)
			continue
		}

		e.processOne(ctx, msgs[0])
	}
	e.logger.Info("processor stopped")
}

func (e *Engine) processOne(ctx context.Context, msg store.StoredMessage) {
	backlog, _ := e.cfg.Store.CountPending(ctx, e.cfg.AgentID)
	e.logger.Info("processing mention",
		zap.String("message_id", shortID(msg.ID)),
		zap.String("sender", msg.Sender),
		zap.Int("backlog", backlog))

	if err := e.cfg.Store.MarkProcessing(ctx, msg.ID, e.cfg.AgentID); err != nil {
		e.logger.Error("failed to mark processing", zap.Error(err))
	}

	reply, err := e.cfg.Handler.Handle(ctx, handler.Incoming{
		ID:         msg.ID,
		Sender:     msg.Sender,
		Content:    msg.Content,
		EnqueuedAt: msg.EnqueuedAt,
	})
	if err != nil {
		e.fail(ctx, msg, fmt.Errorf("handler: %w", err))
		return
	}

	throttle := DetectThrottle(reply)
	reply = StripSelfMention(reply, e.cfg.AgentID)

	if reply != "" {
		if err := e.cfg.Session.SendReply(ctx, reply, msg.ID); err != nil {
			e.fail(ctx, msg, fmt.Errorf("send reply: %w", err))
			return
		}
		e.logger.Info("replied",
			zap.String("message_id", shortID(msg.ID)),
			zap.String("preview", preview(reply)))
	} else {
		e.logger.Info("handled silently", zap.String("message_id", shortID(msg.ID)))
	}

	if throttle != nil {
		if err := e.cfg.Store.Pause(ctx, e.cfg.AgentID, throttle.Reason, throttle.ResumeAt); err != nil {
			e.logger.Error("self-pause failed", zap.Error(err))
		} else {
			e.logger.Info("self-throttled",
				zap.String("reason", throttle.Reason),
				zap.Bool("done", throttle.Done))
		}
	}

	if err := e.cfg.Store.MarkProcessed(ctx, msg.ID, e.cfg.AgentID); err != nil {
		e.logger.Error("failed to mark processed", zap.Error(err))
	}
}

// fail applies the retry policy after a handler or send failure.
func (e *Engine) fail(ctx context.Context, msg store.StoredMessage, cause error) {
	e.logger.Error("processing failed",
		zap.String("message_id", shortID(msg.ID)),
		zap.Error(cause))

	disp, err := e.cfg.Store.MarkFailed(ctx, msg.ID, e.cfg.AgentID, e.cfg.MaxRetries)
	if err != nil {
		e.logger.Error("failed to record failure", zap.Error(err))
		return
	}
	switch disp {
	case store.FailureCompleted:
		e.logger.Warn("mention marked failed, not retrying",
			zap.String("message_id", shortID(msg.ID)))
	case store.FailureRetry:
		e.logger.Info("mention will be retried",
			zap.String("message_id", shortID(msg.ID)))
		sleep(ctx, e.cfg.PollInterval)
	case store.FailureDead:
		e.logger.Warn("mention dead-lettered",
			zap.String("message_id", shortID(msg.ID)),
			zap.Int("retries", e.cfg.MaxRetries))
	}
}

func toEvents(events []transport.EventPayload) []mention.Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]mention.Event, len(events))
	for i, ev := range events {
		out[i] = mention.Event{ID: ev.ID, SenderName: ev.SenderName, Content: ev.Content}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func preview(s string) string {
	if len(s) > 50 {
		return s[:50] + "..."
	}
	return s
}
