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
// relayd supervises a fleet of agent monitors and serves the HTTP control
// plane. Monitors are spawned as "relay monitor <agent>" children of the
// relay binary found next to this one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ax-platform/relay/internal/log"
	"github.com/ax-platform/relay/internal/version"
	"github.com/ax-platform/relay/pkg/config"
	"github.com/ax-platform/relay/pkg/killswitch"
	"github.com/ax-platform/relay/pkg/server"
	"github.com/ax-platform/relay/pkg/store"
	"github.com/ax-platform/relay/pkg/supervisor"
)

var (
	flagHTTPAddr   string
	flagGroupsFile string
	flagStartGroup string
)

var rootCmd = &cobra.Command{
	Use:     "relayd",
	Short:   "Relay supervisor daemon",
	Long:    `relayd runs the monitor supervisor: it spawns one queue monitor per agent, watches deployment groups, schedules store cleanup, and exposes the HTTP control plane.`,
	Version: version.Get(),
	RunE:    runDaemon,
}

func init() {
	rootCmd.Flags().StringVar(&flagHTTPAddr, "http", "", "Control plane listen address (overrides config)")
	rootCmd.Flags().StringVar(&flagGroupsFile, "groups", "", "Deployment groups YAML file (default <data_dir>/groups.yaml)")
	rootCmd.Flags().StringVar(&flagStartGroup, "start-group", "", "Start this deployment group on boot")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings(viper.New())
	if err != nil {
		return err
	}
	if flagHTTPAddr != "" {
		settings.HTTPAddr = flagHTTPAddr
	}
	groupsPath := flagGroupsFile
	if groupsPath == "" {
		groupsPath = filepath.Join(settings.DataDir, "groups.yaml")
	}

	logger := log.Logger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(settings.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sw := killswitch.New(config.GetKillSwitchPath())

	groups, err := config.NewGroupLoader(groupsPath, logger)
	if err != nil {
		return fmt.Errorf("load deployment groups: %w", err)
	}
	if err := groups.Watch(); err != nil {
		logger.Warn("group hot reload unavailable", zap.Error(err))
	}
	defer groups.Close()

	relayBin, err := findRelayBinary()
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Config{
		BinPath:       relayBin,
		LogDir:        settings.LogDir,
		OwnershipPath: config.GetOwnershipPath(),
		Store:         st,
		KillSwitch:    sw,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}

	retention := time.Duration(settings.CleanupAfterDays) * 24 * time.Hour
	cleaner := store.NewCleanupScheduler(st, retention, logger)
	if err := cleaner.Start(ctx); err != nil {
		logger.Warn("cleanup scheduler failed to start", zap.Error(err))
	}
	defer cleaner.Stop()

	if flagStartGroup != "" {
		group, ok := groups.Get(flagStartGroup)
		if !ok {
			return fmt.Errorf("deployment group %q not found in %s", flagStartGroup, groupsPath)
		}
		go func() {
			results := sup.StartGroup(ctx, group)
			for _, res := range results {
				if res.Error != "" {
					logger.Warn("boot group agent failed",
						zap.String("agent", res.AgentID),
						zap.String("error", res.Error))
				}
			}
		}()
	}

	srv := server.New(server.Config{
		Addr:       settings.HTTPAddr,
		Supervisor: sup,
		Store:      st,
		KillSwitch: sw,
		Groups:     groups,
		Logger:     logger,
	})

	err = srv.ListenAndServe(ctx)

	stopped := sup.StopAll()
	logger.Info("daemon shutting down", zap.Int("monitors_stopped", stopped))
	return err
}

// findRelayBinary locates the relay CLI used to spawn monitors: first next
// to relayd, then on PATH.
func findRelayBinary() (string, error) {
	exe, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "relay")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath("relay"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("relay binary not found next to relayd or on PATH")
}
