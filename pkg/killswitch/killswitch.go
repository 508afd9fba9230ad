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
// Package killswitch implements the emergency processing halt.
//
// The switch is a sentinel file shared by every engine on the host. While it
// exists engines keep polling and persisting mentions but process none of
// them, so activating the switch freezes all outbound traffic without losing
// inbound messages.
package killswitch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Switch is a file-backed kill switch.
type Switch struct {
	path string
}

// New returns a switch backed by the sentinel at path.
func New(path string) *Switch {
	return &Switch{path: path}
}

// Path returns the sentinel path.
func (s *Switch) Path() string {
	return s.path
}

// Active reports whether the switch is engaged. Any error reading the
// sentinel other than absence counts as engaged: failing open would let
// engines keep sending when the operator asked for silence.
func (s *Switch) Active() bool {
	_, err := os.Stat(s.path)
	if err == nil {
		return true
	}
	return !os.IsNotExist(err)
}

// Activate engages the switch. Idempotent.
func (s *Switch) Activate(reason string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create kill switch dir: %w", err)
	}
	body := fmt.Sprintf("activated: %s\nreason: %s\n",
		time.Now().Format(time.RFC3339), reason)
	if err := os.WriteFile(s.path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("activate kill switch: %w", err)
	}
	return nil
}

// Deactivate disengages the switch. Idempotent.
func (s *Switch) Deactivate() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deactivate kill switch: %w", err)
	}
	return nil
}
