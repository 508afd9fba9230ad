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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conn is a bidirectional newline-delimited message stream. Session drives a
// Conn; tests substitute an in-memory one.
type Conn interface {
	Send(ctx context.Context, message []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// StdioConn launches a tool server subprocess and exchanges newline-delimited
// JSON with it over stdin/stdout.
type StdioConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	reader *bufio.Reader
	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

// StdioConfig configures a stdio connection.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Logger  *zap.Logger
}

// NewStdioConn starts the launcher subprocess. The child inherits the parent
// environment with the config's overlay applied on top.
func NewStdioConn(config StdioConfig) (*StdioConn, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	// #nosec G204 -- launcher command comes from the operator's agent descriptor
	cmd := exec.Command(config.Command, config.Args...)
	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", config.Command, err)
	}

	c := &StdioConn{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		// bufio.Reader, not Scanner: responses can be arbitrarily large.
		reader: bufio.NewReader(stdout),
		logger: config.Logger,
	}

	go c.drainStderr()

	config.Logger.Info("transport launcher started",
		zap.String("command", config.Command),
		zap.Int("pid", cmd.Process.Pid))

	return c, nil
}

// drainStderr consumes the child's stderr so it cannot block on a full pipe.
// Launchers log to their own files; their stderr is discarded here.
func (c *StdioConn) drainStderr() {
	reader := bufio.NewReader(c.stderr)
	for {
		if _, err := reader.ReadBytes('\n'); err != nil {
			if err != io.EOF {
				c.logger.Debug("stderr read ended", zap.Error(err))
			}
			return
		}
	}
}

// Send writes one message followed by a newline.
func (c *StdioConn) Send(ctx context.Context, message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if _, err := c.stdin.Write(message); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if _, err := c.stdin.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write delimiter: %w", err)
	}
	return nil
}

// Receive reads one newline-delimited message, honouring ctx cancellation.
func (c *StdioConn) Receive(ctx context.Context) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}
	resultChan := make(chan readResult, 1)

	go func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			resultChan <- readResult{nil, fmt.Errorf("connection closed")}
			return
		}
		c.mu.Unlock()

		data, err := c.reader.ReadBytes('\n')
		if err != nil {
			resultChan <- readResult{nil, err}
			return
		}
		for len(data) > 0 && (data[len(data)-1] == '\n' || data[len(data)-1] == '\r') {
			data = data[:len(data)-1]
		}
		resultChan <- readResult{data, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.data, result.err
	}
}

// Close shuts stdin to signal the child, waits up to five seconds, then
// kills it.
func (c *StdioConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Info("closing transport launcher", zap.Int("pid", c.cmd.Process.Pid))
	c.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			c.logger.Warn("launcher exited with error", zap.Error(err))
		}
	case <-time.After(5 * time.Second):
		c.logger.Warn("launcher did not exit, killing")
		if err := c.cmd.Process.Kill(); err != nil {
			c.logger.Error("failed to kill launcher", zap.Error(err))
		}
		<-done
	}

	c.stdout.Close()
	c.stderr.Close()
	return nil
}
