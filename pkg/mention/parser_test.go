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
package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newParser(t *testing.T, agent string) *Parser {
	t.Helper()
	return NewParser(agent, zaptest.NewLogger(t))
}

func TestParseStructuredEvents(t *testing.T) {
	p := newParser(t, "alice")

	m := p.Parse([]Event{
		{ID: "abc-123", SenderName: "bob", Content: "hello @alice"},
		{ID: "def-456", SenderName: "carol", Content: "second"},
	}, "")
	require.NotNil(t, m)
	assert.Equal(t, "abc-123", m.ID)
	assert.Equal(t, "bob", m.Sender)
	assert.Equal(t, "hello @alice", m.Content)
}

func TestParseStructuredEventDefaults(t *testing.T) {
	p := newParser(t, "alice")

	m := p.Parse([]Event{{Content: "hi"}}, "")
	require.NotNil(t, m)
	assert.Equal(t, "unknown", m.ID)
	assert.Equal(t, "unknown", m.Sender)
}

func TestParseTextMention(t *testing.T) {
	p := newParser(t, "alice")

	text := "New mentions:\n• bob: @alice can you take a look? [id:a1b2c3d4-e5f6]"
	m := p.Parse(nil, text)
	require.NotNil(t, m)
	assert.Equal(t, "a1b2c3d4-e5f6", m.ID)
	assert.Equal(t, "bob", m.Sender)
	// Content carries the whole payload, not just the bullet body.
	assert.Equal(t, text, m.Content)
}

func TestParseSkipsStatusPayloads(t *testing.T) {
	p := newParser(t, "alice")

	assert.Nil(t, p.Parse(nil, "✅ WAIT SUCCESS: Found 1 mentions"))
	assert.Nil(t, p.Parse(nil, "No mentions found for @alice"))
	assert.Nil(t, p.Parse(nil, ""))
}

func TestParseRequiresMessageID(t *testing.T) {
	p := newParser(t, "alice")

	assert.Nil(t, p.Parse(nil, "• bob: @alice hello there"))
}

func TestParseRequiresBulletLine(t *testing.T) {
	p := newParser(t, "alice")

	assert.Nil(t, p.Parse(nil, "something about @alice [id:deadbeef]"))
}

func TestParseRequiresOwnMention(t *testing.T) {
	p := newParser(t, "alice")

	// Addressed to someone else entirely.
	assert.Nil(t, p.Parse(nil, "• bob: @carol hello [id:deadbeef]"))
}

func TestParseSkipsSelfMention(t *testing.T) {
	p := newParser(t, "alice")

	assert.Nil(t, p.Parse(nil, "• alice: @alice talking to myself [id:deadbeef]"))
}
