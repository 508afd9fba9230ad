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
	"time"

	"go.uber.org/zap"

	"github.com/ax-platform/relay/pkg/mention"
	"github.com/ax-platform/relay/pkg/transport"
)

// DrainRemote discards the agent's unread mentions on the server without
// processing them. Each fetch marks the mention read, so the backlog is gone
// for good. Returns how many mentions were discarded.
//
// A limit of zero drains until the server reports empty, bounded by the same
// iteration cap as the startup sweep.
func DrainRemote(ctx context.Context, session transport.Messenger, agentID string, limit int, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := mention.NewParser(agentID, logger)

	drained := 0
	for iteration := 0; iteration < maxSweepIterations; iteration++ {
		if ctx.Err() != nil {
			return drained, ctx.Err()
		}
		if limit > 0 && drained >= limit {
			return drained, nil
		}

		payload, err := session.CheckMessages(ctx, transport.CheckOptions{
			Wait:        false,
			MarkRead:    true,
			Mode:        "unread",
			Limit:       1,
			FilterAgent: agentID,
		})
		if err != nil {
			return drained, err
		}

		m := parser.Parse(toEvents(payload.Events), payload.Text)
		if m == nil {
			return drained, nil
		}

		drained++
		logger.Info("drained unread mention",
			zap.String("message_id", shortID(m.ID)),
			zap.String("sender", m.Sender))

		select {
		case <-ctx.Done():
			return drained, ctx.Err()
		case <-time.After(sweepDelay):
		}
	}
	logger.Warn("drain hit iteration cap", zap.Int("drained", drained))
	return drained, nil
}
