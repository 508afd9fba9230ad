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
package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type countingPinger struct {
	count atomic.Int64
	err   error
}

func (p *countingPinger) Ping(ctx context.Context) error {
	p.count.Add(1)
	return p.err
}

func TestKeepAlivePingsOnInterval(t *testing.T) {
	p := &countingPinger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		KeepAlive(ctx, p, 10*time.Millisecond, "alice", zaptest.NewLogger(t))
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return p.count.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("KeepAlive did not stop on cancellation")
	}
}

func TestKeepAliveDisabledInterval(t *testing.T) {
	p := &countingPinger{}
	done := make(chan struct{})
	go func() {
		KeepAlive(context.Background(), p, 0, "alice", zaptest.NewLogger(t))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("KeepAlive with zero interval should return immediately")
	}
	assert.Zero(t, p.count.Load())
}

func TestKeepAliveSurvivesPingFailures(t *testing.T) {
	p := &countingPinger{err: errors.New("connection reset")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})

	go func() {
		KeepAlive(ctx, p, 5*time.Millisecond, "alice", zaptest.NewLogger(t))
		close(done)
	}()

	// Failures do not stop the loop.
	assert.Eventually(t, func() bool {
		return p.count.Load() >= 1
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestManagerStartStop(t *testing.T) {
	m := NewManager(10*time.Millisecond, zaptest.NewLogger(t))
	p := &countingPinger{}

	m.Start(context.Background(), p, "alice")
	m.Start(context.Background(), p, "bob")
	assert.Equal(t, 2, m.Active())

	m.Stop("alice")
	assert.Equal(t, 1, m.Active())

	m.StopAll()
	assert.Equal(t, 0, m.Active())
}

func TestManagerReplacesDuplicate(t *testing.T) {
	m := NewManager(10*time.Millisecond, zaptest.NewLogger(t))
	p := &countingPinger{}

	m.Start(context.Background(), p, "alice")
	m.Start(context.Background(), p, "alice")
	assert.Equal(t, 1, m.Active())

	m.StopAll()
}
