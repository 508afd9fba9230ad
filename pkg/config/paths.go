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
// Package config resolves runtime paths, daemon settings, agent descriptors
// and deployment groups.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetDataDir returns the relay data directory.
//
// Priority:
// 1. RELAY_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.relay (default)
//
// The returned path is always absolute. Tilde (~) in RELAY_DATA_DIR is
// expanded to the user's home directory; relative paths are converted to
// absolute paths.
func GetDataDir() string {
	if dataDir := os.Getenv("RELAY_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir cannot be determined
		return ".relay"
	}
	return filepath.Join(homeDir, ".relay")
}

// GetDataSubDir returns a subdirectory within the data directory, creating it
// if necessary.
func GetDataSubDir(name string) (string, error) {
	dir := filepath.Join(GetDataDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// GetLogDir returns the per-monitor log directory (<data_dir>/logs).
func GetLogDir() string {
	return filepath.Join(GetDataDir(), "logs")
}

// GetAgentConfigDir returns the agent descriptor directory
// (<data_dir>/agents).
func GetAgentConfigDir() string {
	return filepath.Join(GetDataDir(), "agents")
}

// GetMessageStorePath returns the default embedded database path
// (<data_dir>/message_backlog.db).
func GetMessageStorePath() string {
	return filepath.Join(GetDataDir(), "message_backlog.db")
}

// GetKillSwitchPath returns the kill-switch sentinel path
// (<data_dir>/KILL_SWITCH).
func GetKillSwitchPath() string {
	return filepath.Join(GetDataDir(), "KILL_SWITCH")
}

// GetOwnershipPath returns the supervisor's persisted child-ownership file
// (<data_dir>/monitors.json).
func GetOwnershipPath() string {
	return filepath.Join(GetDataDir(), "monitors.json")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
