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
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ax-platform/relay/internal/log"
	"github.com/ax-platform/relay/pkg/config"
	"github.com/ax-platform/relay/pkg/engine"
	"github.com/ax-platform/relay/pkg/store"
	"github.com/ax-platform/relay/pkg/transport"
)

var (
	queueClearAll   bool
	queueDrainLimit int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage agent queues",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats <agent>",
	Short: "Show queue statistics for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, settings, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		stats, err := st.GetStats(ctx, args[0])
		if err != nil {
			return err
		}
		status, err := st.GetStatus(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("agent:      %s\n", args[0])
		fmt.Printf("database:   %s\n", settings.DBPath)
		fmt.Printf("total:      %d\n", stats.Total)
		fmt.Printf("pending:    %d\n", stats.Pending)
		fmt.Printf("completed:  %d\n", stats.Completed)
		fmt.Printf("dead:       %d\n", stats.Dead)
		if stats.AvgProcessingTime > 0 {
			fmt.Printf("avg time:   %s\n", stats.AvgProcessingTime.Round(time.Millisecond))
		}
		if status.Paused() {
			fmt.Printf("paused:     yes (%s)\n", status.Reason)
			if !status.ResumeAt.IsZero() {
				fmt.Printf("resumes:    %s\n", status.ResumeAt.Format(time.RFC3339))
			}
		}
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear <agent>",
	Short: "Delete an agent's pending backlog (or all rows with --all)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		var n int
		if queueClearAll {
			n, err = st.ClearAgent(ctx, args[0])
		} else {
			n, err = st.ClearPending(ctx, args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("cleared %d message(s) for %s\n", n, args[0])
		return nil
	},
}

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune processed messages past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, settings, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		cutoff := time.Now().AddDate(0, 0, -settings.CleanupAfterDays)
		n, err := st.Cleanup(context.Background(), cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d processed message(s) older than %s\n", n, cutoff.Format("2006-01-02"))
		return nil
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain <agent>",
	Short: "Discard the agent's unread mentions on the server",
	Long: `Fetches and marks read the agent's unread mentions without processing
them. Use after an agent has been offline long enough that its backlog is
stale. The local queue is untouched; clear it separately if needed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := args[0]
		if err := config.ValidateAgentID(agentID); err != nil {
			return err
		}
		settings, err := config.LoadSettings(viper.New())
		if err != nil {
			return err
		}
		logger := log.Logger()
		defer log.Sync()

		agentCfg, err := config.FindAgentConfig(config.GetAgentConfigDir(), agentID)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		manager, err := transport.Open(ctx, transport.ManagerConfig{
			Agent:             agentCfg,
			HeartbeatInterval: settings.HeartbeatInterval,
			Logger:            logger,
		})
		if err != nil {
			return err
		}
		defer manager.Close()

		n, err := engine.DrainRemote(ctx, manager.Primary(), agentID, queueDrainLimit, logger)
		if err != nil {
			return err
		}
		fmt.Printf("drained %d unread mention(s) for %s\n", n, agentID)
		return nil
	},
}

func openStore() (*store.Store, *config.Settings, error) {
	settings, err := config.LoadSettings(viper.New())
	if err != nil {
		return nil, nil, err
	}
	logger := zap.NewNop()
	st, err := store.Open(settings.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, settings, nil
}

func init() {
	queueClearCmd.Flags().BoolVar(&queueClearAll, "all", false, "Delete processed history too, not just pending rows")
	queueDrainCmd.Flags().IntVar(&queueDrainLimit, "limit", 0, "Stop after this many mentions (0 drains until empty)")

	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueClearCmd)
	queueCmd.AddCommand(queueCleanupCmd)
	queueCmd.AddCommand(queueDrainCmd)
}
