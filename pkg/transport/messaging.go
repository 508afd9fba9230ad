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
package transport

import (
	"context"
)

// MessagesTool is the conventional name of the messaging tool on the primary
// transport.
const MessagesTool = "messages"

// CheckOptions parameterises a messages check call.
type CheckOptions struct {
	// Wait blocks the call server-side until a mention arrives.
	Wait bool
	// MarkRead marks returned mentions read on the server.
	MarkRead bool
	// Mode selects the server-side view, e.g. "unread". Empty means the
	// server default.
	Mode string
	// Limit caps the number of returned mentions. Zero means the server
	// default.
	Limit int
	// FilterAgent restricts results to mentions of one agent.
	FilterAgent string
}

// CheckPayload is the normalised result of a check call.
type CheckPayload struct {
	Events []EventPayload
	Text   string
}

// Messenger is the messaging surface the queue engine drives. *Session
// implements it; tests substitute fakes.
type Messenger interface {
	CheckMessages(ctx context.Context, opts CheckOptions) (*CheckPayload, error)
	SendReply(ctx context.Context, content, parentID string) error
	Ping(ctx context.Context) error
}

// CheckMessages polls the messages tool for new mentions.
func (s *Session) CheckMessages(ctx context.Context, opts CheckOptions) (*CheckPayload, error) {
	args := map[string]any{
		"action":    "check",
		"wait":      opts.Wait,
		"mark_read": opts.MarkRead,
	}
	if opts.Mode != "" {
		args["mode"] = opts.Mode
	}
	if opts.Limit > 0 {
		args["limit"] = opts.Limit
	}
	if opts.FilterAgent != "" {
		args["filter_agent"] = opts.FilterAgent
	}

	result, err := s.CallTool(ctx, MessagesTool, args)
	if err != nil {
		return nil, err
	}
	return &CheckPayload{Events: result.Events, Text: result.Text()}, nil
}

// SendReply posts content. A non-empty parentID threads the message as a
// reply to the mention it answers.
func (s *Session) SendReply(ctx context.Context, content, parentID string) error {
	args := map[string]any{
		"action":  "send",
		"content": content,
	}
	if parentID != "" {
		args["parent_message_id"] = parentID
	}
	_, err := s.CallTool(ctx, MessagesTool, args)
	return err
}
