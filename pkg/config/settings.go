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
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Settings carries the daemon-wide tunables. Values come from
// <data_dir>/relayd.yaml overridden by RELAY_* environment variables and
// flags bound by the CLI.
type Settings struct {
	DataDir string `mapstructure:"data_dir"`
	DBPath  string `mapstructure:"db_path"`
	LogDir  string `mapstructure:"log_dir"`

	// Engine defaults.
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MarkRead          bool          `mapstructure:"mark_read"`
	StartupSweep      bool          `mapstructure:"startup_sweep"`
	StartupSweepLimit int           `mapstructure:"startup_sweep_limit"`

	// Store policy.
	CleanupAfterDays int `mapstructure:"cleanup_after_days"`
	MaxRetries       int `mapstructure:"max_retries"`

	// Control plane.
	HTTPAddr string `mapstructure:"http_addr"`
}

// SetDefaults installs the default settings on a viper instance.
func SetDefaults(v *viper.Viper) {
	dataDir := GetDataDir()
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("db_path", filepath.Join(dataDir, "message_backlog.db"))
	v.SetDefault("log_dir", filepath.Join(dataDir, "logs"))
	v.SetDefault("poll_interval", time.Second)
	v.SetDefault("heartbeat_interval", 240*time.Second)
	v.SetDefault("mark_read", false)
	v.SetDefault("startup_sweep", true)
	v.SetDefault("startup_sweep_limit", 10)
	v.SetDefault("cleanup_after_days", 7)
	v.SetDefault("max_retries", 0)
	v.SetDefault("http_addr", "127.0.0.1:8900")
}

// LoadSettings reads relayd.yaml from the data directory (if present) and
// unmarshals the effective settings.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	SetDefaults(v)

	v.SetConfigName("relayd")
	v.SetConfigType("yaml")
	v.AddConfigPath(GetDataDir())
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &s, nil
}
