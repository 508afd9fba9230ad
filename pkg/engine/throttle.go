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
	"regexp"
	"strings"
	"time"

	"github.com/ax-platform/relay/pkg/store"
)

// DoneResumeDelay is how long a #done pause lasts before auto-resume.
const DoneResumeDelay = 60 * time.Second

// Throttle is a self-throttle request detected in a handler reply. Agents
// embed #pause, #stop or #done in their replies to ask for a break; #done
// additionally schedules an auto-resume and drops the backlog on resume.
type Throttle struct {
	Done     bool
	Reason   string
	ResumeAt time.Time // zero for indefinite pause
}

// DetectThrottle scans a reply for throttle tokens, case-insensitively.
// Returns nil when the reply carries none.
func DetectThrottle(reply string) *Throttle {
	lower := strings.ToLower(reply)
	if !strings.Contains(lower, "#pause") &&
		!strings.Contains(lower, "#stop") &&
		!strings.Contains(lower, "#done") {
		return nil
	}

	if strings.Contains(lower, "#done") {
		return &Throttle{
			Done:     true,
			Reason:   store.DoneReasonPrefix + " Auto-resuming in 60 seconds",
			ResumeAt: time.Now().Add(DoneResumeDelay),
		}
	}
	return &Throttle{Reason: "Self-paused: Agent requested pause"}
}

// StripSelfMention removes the agent's own @mention from an outgoing reply.
// Echoing one's own mention back would re-trigger the sender's queue, so the
// strip applies to every reply, throttled or not.
func StripSelfMention(reply, agentID string) string {
	if agentID == "" {
		return reply
	}
	pattern := regexp.MustCompile(`\s*@` + regexp.QuoteMeta(agentID) + `\b`)
	return strings.TrimSpace(pattern.ReplaceAllString(reply, ""))
}
