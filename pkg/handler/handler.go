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
// Package handler defines the pluggable message processing interface and the
// built-in handlers.
package handler

import (
	"context"
	"fmt"
	"time"
)

// Incoming is one dequeued mention handed to a handler.
type Incoming struct {
	ID         string
	Sender     string
	Content    string
	EnqueuedAt time.Time
}

// Handler processes one mention and returns the reply text. An empty reply
// with a nil error means "handled, say nothing": the mention is consumed
// without an outgoing message.
type Handler interface {
	Handle(ctx context.Context, msg Incoming) (string, error)
}

// Func adapts a plain function to Handler.
type Func func(ctx context.Context, msg Incoming) (string, error)

// Handle implements Handler.
func (f Func) Handle(ctx context.Context, msg Incoming) (string, error) {
	return f(ctx, msg)
}

// Kind names a built-in handler.
type Kind string

const (
	KindEcho Kind = "echo"
	KindLLM  Kind = "llm"
)

// ParseKind validates a handler name from config or CLI flags.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindEcho, KindLLM:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown handler %q (want echo or llm)", s)
}
