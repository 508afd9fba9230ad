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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Session is a JSON-RPC session with one tool server. It multiplexes
// concurrent requests over a single Conn and correlates responses by id, so
// the poller, processor and heartbeat can share it safely.
type Session struct {
	conn   Conn
	logger *zap.Logger

	nextID    int64
	pending   map[string]chan *Response
	pendingMu sync.Mutex

	initialized bool
	serverInfo  Implementation

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// SessionConfig configures a session.
type SessionConfig struct {
	Conn   Conn
	Logger *zap.Logger
}

// NewSession wraps a Conn and starts the response receiver. Call Initialize
// before issuing tool calls.
func NewSession(config SessionConfig) *Session {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:    config.Conn,
		logger:  config.Logger,
		pending: make(map[string]chan *Response),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.wg.Add(1)
	go s.receiveLoop()
	return s
}

// Initialize performs the protocol handshake.
func (s *Session) Initialize(ctx context.Context, clientInfo Implementation) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("already initialized")
	}
	s.mu.Unlock()

	params, err := json.Marshal(initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo,
	})
	if err != nil {
		return err
	}

	resp, err := s.call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	s.mu.Lock()
	s.initialized = true
	s.serverInfo = result.ServerInfo
	s.mu.Unlock()

	s.logger.Info("session initialized",
		zap.String("server", result.ServerInfo.Name),
		zap.String("server_version", result.ServerInfo.Version),
		zap.String("protocol", result.ProtocolVersion))

	// The initialized notification completes the handshake. Notifications
	// carry no id.
	note, err := json.Marshal(&Request{
		JSONRPC: JSONRPCVersion,
		Method:  "notifications/initialized",
	})
	if err != nil {
		return err
	}
	if err := s.conn.Send(ctx, note); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// ServerInfo returns the peer's reported identity.
func (s *Session) ServerInfo() Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverInfo
}

// Ping checks connection health.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.call(ctx, "ping", json.RawMessage(`{}`))
	return err
}

// ListTools returns the server's tool catalogue.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	resp, err := s.call(ctx, "tools/list", json.RawMessage(`{}`))
	if err != nil {
		return nil, err
	}
	var result toolListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool. A result flagged isError is returned as a Go
// error carrying the result text.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (*CallToolResult, error) {
	params, err := json.Marshal(callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}

	resp, err := s.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var result CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	if result.IsError {
		if text := result.Text(); text != "" {
			return nil, fmt.Errorf("tool %s: %s", name, text)
		}
		return nil, fmt.Errorf("tool %s returned an error", name)
	}
	return &result, nil
}

// Close tears the session down and waits for the receiver to exit.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func (s *Session) call(ctx context.Context, method string, params json.RawMessage) (*Response, error) {
	id := NumericID(atomic.AddInt64(&s.nextID, 1))
	req := &Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}

	respChan := make(chan *Response, 1)
	key := id.String()

	s.pendingMu.Lock()
	s.pending[key] = respChan
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, key)
		s.pendingMu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if err := s.conn.Send(ctx, data); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, fmt.Errorf("session closed while waiting for %s", method)
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	}
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		data, err := s.conn.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			s.logger.Error("receive failed", zap.Error(err))
			// Avoid a tight error loop on a wedged connection.
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if len(data) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err == nil && resp.ID != nil {
			s.dispatch(&resp)
			continue
		}

		// Server-initiated requests and notifications are not supported by
		// this client; log and move on.
		s.logger.Debug("ignoring unsolicited message", zap.ByteString("data", data))
	}
}

func (s *Session) dispatch(resp *Response) {
	key := resp.ID.String()

	s.pendingMu.Lock()
	ch, ok := s.pending[key]
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Warn("response for unknown request", zap.String("id", key))
		return
	}
	select {
	case ch <- resp:
	default:
	}
}
