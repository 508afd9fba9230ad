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
	"time"

	"go.uber.org/zap"

	"github.com/ax-platform/relay/pkg/config"
)

// GroupResult reports the outcome per agent of a group start or stop.
type GroupResult struct {
	AgentID   string `json:"agent_id"`
	MonitorID string `json:"monitor_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// resolveGroupSpec merges group defaults into one agent entry.
func resolveGroupSpec(group config.DeploymentGroup, agent config.GroupAgent) StartSpec {
	spec := StartSpec{
		AgentID: agent.ID,
		Handler: agent.Handler,
		Model:   agent.Model,
		GroupID: group.ID,
	}
	if spec.Handler == "" {
		spec.Handler = group.Defaults.Handler
	}
	if spec.Model == "" {
		spec.Model = group.Defaults.Model
	}

	backlog := agent.ProcessBacklog
	if backlog == nil {
		backlog = group.Defaults.ProcessBacklog
	}
	if backlog != nil {
		spec.ProcessBacklog = *backlog
	}
	return spec
}

func resolveStartDelay(group config.DeploymentGroup, agent config.GroupAgent) time.Duration {
	ms := agent.StartDelayMS
	if ms == 0 {
		ms = group.Defaults.StartDelayMS
	}
	return time.Duration(ms) * time.Millisecond
}

// StartGroup starts every agent in the group in declaration order, honoring
// per-agent start delays. One agent failing does not abort the rest; an
// already running agent is reported but not treated as fatal.
func (s *Supervisor) StartGroup(ctx context.Context, group config.DeploymentGroup) []GroupResult {
	results := make([]GroupResult, 0, len(group.Agents))
	for i, agent := range group.Agents {
		if i > 0 {
			if delay := resolveStartDelay(group, agent); delay > 0 {
				select {
				case <-ctx.Done():
					results = append(results, GroupResult{AgentID: agent.ID, Error: ctx.Err().Error()})
					continue
				case <-time.After(delay):
				}
			}
		}

		rec, err := s.Start(ctx, resolveGroupSpec(group, agent))
		res := GroupResult{AgentID: agent.ID}
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			res.Error = "already running"
		case err != nil:
			res.Error = err.Error()
			s.logger.Warn("group agent failed to start",
				zap.String("group", group.ID),
				zap.String("agent", agent.ID),
				zap.Error(err))
		default:
			res.MonitorID = rec.ID
		}
		results = append(results, res)
	}
	return results
}

// StopGroup stops every tracked monitor started by the group.
func (s *Supervisor) StopGroup(groupID string) []GroupResult {
	s.mu.Lock()
	var targets []*MonitorRecord
	for _, rec := range s.monitors {
		if rec.GroupID == groupID && rec.Status == StatusRunning {
			targets = append(targets, rec)
		}
	}
	s.mu.Unlock()

	results := make([]GroupResult, 0, len(targets))
	for _, rec := range targets {
		res := GroupResult{AgentID: rec.AgentID, MonitorID: rec.ID}
		if err := s.Stop(rec.ID); err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}
