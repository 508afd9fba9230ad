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
// Package mention extracts addressed mentions from transport check payloads.
//
// Servers answer a check call in one of two shapes: a structured event list,
// or a formatted text blob containing status lines, [id:...] tags and bullet
// lines of the form "• sender: @target body". The parser normalises both into
// a single Mention, or nothing when the payload is a status message or not
// addressed to this agent.
package mention

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var (
	idPattern     = regexp.MustCompile(`\[id:([a-f0-9-]+)\]`)
	bulletPattern = regexp.MustCompile(`• ([^:]+): (@\S+)\s+(.+)`)
)

// Status payload markers. Payloads containing these carry no mention.
const (
	waitSuccessMarker = "WAIT SUCCESS"
	noMentionsMarker  = "No mentions"
)

// Event is one structured entry of a check payload.
type Event struct {
	ID         string
	SenderName string
	Content    string
}

// Mention is a parsed, validated mention addressed to the parsing agent.
type Mention struct {
	ID      string
	Sender  string
	Content string
}

// Parser validates payloads for one agent.
type Parser struct {
	agentID string
	logger  *zap.Logger
}

// NewParser returns a parser bound to agentID.
func NewParser(agentID string, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{agentID: agentID, logger: logger}
}

// Parse extracts a mention from a check payload. The structured event list
// takes precedence; the text form is parsed only when events is empty. A nil
// result means the payload held nothing actionable, which is normal, not an
// error.
func (p *Parser) Parse(events []Event, text string) *Mention {
	if len(events) > 0 {
		ev := events[0]
		id := ev.ID
		if id == "" {
			id = "unknown"
		}
		sender := ev.SenderName
		if sender == "" {
			sender = "unknown"
		}
		return &Mention{ID: id, Sender: sender, Content: ev.Content}
	}

	if text == "" {
		return nil
	}

	if strings.Contains(text, waitSuccessMarker) || strings.Contains(text, noMentionsMarker) {
		p.logger.Debug("skipping status payload", zap.String("text", truncate(text, 100)))
		return nil
	}

	idMatch := idPattern.FindStringSubmatch(text)
	if idMatch == nil {
		p.logger.Warn("no message id in payload", zap.String("text", truncate(text, 100)))
		return nil
	}

	bullet := bulletPattern.FindStringSubmatch(text)
	if bullet == nil {
		p.logger.Debug("no mention line in payload")
		return nil
	}

	// The payload must mention this agent somewhere, not just anyone.
	if !strings.Contains(text, "@"+p.agentID) {
		p.logger.Debug("payload does not mention this agent",
			zap.String("agent", p.agentID))
		return nil
	}

	sender := bullet[1]
	if sender == p.agentID {
		p.logger.Warn("skipping self-mention", zap.String("agent", p.agentID))
		return nil
	}

	// Content is the full payload: handlers may want the surrounding context,
	// not just the bullet body.
	return &Mention{ID: idMatch[1], Sender: sender, Content: text}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
