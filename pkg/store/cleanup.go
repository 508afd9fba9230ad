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
package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CleanupScheduler periodically prunes processed rows older than the
// retention window.
type CleanupScheduler struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	logger    *zap.Logger
}

// NewCleanupScheduler creates a scheduler that deletes processed rows older
// than retention. A retention of zero disables pruning.
func NewCleanupScheduler(s *Store, retention time.Duration, logger *zap.Logger) *CleanupScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupScheduler{
		store:     s,
		retention: retention,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start registers the daily prune job and runs one prune immediately.
func (c *CleanupScheduler) Start(ctx context.Context) error {
	if c.retention <= 0 {
		c.logger.Info("store cleanup disabled")
		return nil
	}

	if _, err := c.cron.AddFunc("@daily", func() { c.run(ctx) }); err != nil {
		return err
	}
	c.cron.Start()
	c.run(ctx)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (c *CleanupScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CleanupScheduler) run(ctx context.Context) {
	cutoff := time.Now().Add(-c.retention)
	n, err := c.store.Cleanup(ctx, cutoff)
	if err != nil {
		c.logger.Warn("store cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		c.logger.Info("store cleanup pruned processed messages",
			zap.Int("count", n),
			zap.Time("cutoff", cutoff))
	}
}
