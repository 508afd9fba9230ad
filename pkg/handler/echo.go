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
package handler

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// echoMarker identifies our own replies. Messages containing it are consumed
// silently, otherwise two echo agents mentioning each other loop forever.
const echoMarker = "Echo received at"

var mentionBody = regexp.MustCompile(`@\S+\s+(.+)`)

// Echo replies to every mention with a timestamped copy of its text. The
// simplest possible handler, useful for connectivity testing.
type Echo struct {
	// now is swappable for tests.
	now func() time.Time
}

// NewEcho creates an echo handler.
func NewEcho() *Echo {
	return &Echo{now: time.Now}
}

// Handle implements Handler.
func (e *Echo) Handle(ctx context.Context, msg Incoming) (string, error) {
	body := msg.Content
	if m := mentionBody.FindStringSubmatch(msg.Content); m != nil {
		body = m[1]
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "...")

	if strings.Contains(body, echoMarker) {
		return "", nil
	}

	shortID := msg.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	var b strings.Builder
	b.WriteString(echoMarker)
	b.WriteString(" ")
	b.WriteString(e.now().Format("15:04:05"))
	b.WriteString(" from @")
	b.WriteString(msg.Sender)
	b.WriteString(" [id:")
	b.WriteString(shortID)
	b.WriteString("]: ")
	b.WriteString(body)
	return b.String(), nil
}
