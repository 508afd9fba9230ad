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
// Package logtail follows monitor log files for the control-plane streaming
// API.
package logtail

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const pollDelay = 100 * time.Millisecond

// Line is one emitted log line, newline stripped.
type Line struct {
	MonitorID string
	Text      string
}

// Tailer follows one log file. Truncation (log clearing) resets the read
// position to the start instead of wedging at a stale offset.
type Tailer struct {
	path      string
	monitorID string
	logger    *zap.Logger
}

// New creates a tailer for path. monitorID labels emitted lines.
func New(path, monitorID string, logger *zap.Logger) *Tailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tailer{path: path, monitorID: monitorID, logger: logger}
}

// Dump returns the file's current contents, sanitised for transport.
func (t *Tailer) Dump() (string, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return "", err
	}
	return sanitize(string(data)), nil
}

// Follow streams lines appended after the current end of file into out until
// ctx is cancelled or the file disappears. The channel is closed on return.
func (t *Tailer) Follow(ctx context.Context, out chan<- Line) error {
	defer close(out)

	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	offset, err := f.Seek(0, 2)
	if err != nil {
		return fmt.Errorf("seek log end: %w", err)
	}
	reader := bufio.NewReader(f)
	truncationSeen := false

	for {
		if ctx.Err() != nil {
			return nil
		}

		info, err := os.Stat(t.path)
		if err != nil {
			// Deleted out from under us; stop quietly like a closed stream.
			return nil
		}
		if info.Size() < offset {
			if _, err := f.Seek(0, 0); err != nil {
				return fmt.Errorf("seek after truncation: %w", err)
			}
			reader.Reset(f)
			offset = 0
			if !truncationSeen {
				t.logger.Info("log truncated, restarting from top",
					zap.String("path", t.path))
				truncationSeen = true
			}
		} else {
			truncationSeen = false
		}

		line, err := reader.ReadString('\n')
		if err == nil {
			offset += int64(len(line))
			select {
			case out <- Line{MonitorID: t.monitorID, Text: sanitize(strings.TrimRight(line, "\r\n"))}:
			case <-ctx.Done():
				return nil
			}
			continue
		}

		// Partial line at EOF: push the offset back so it is re-read whole
		// once the writer finishes it.
		if len(line) > 0 {
			if _, serr := f.Seek(offset, 0); serr != nil {
				return fmt.Errorf("seek partial line: %w", serr)
			}
			reader.Reset(f)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollDelay):
		}
	}
}

// sanitize replaces invalid UTF-8 so lines survive JSON encoding. Monitor
// child processes occasionally emit raw bytes into their logs.
func sanitize(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}
