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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ax-platform/relay/internal/log"
	"github.com/ax-platform/relay/pkg/config"
	"github.com/ax-platform/relay/pkg/engine"
	"github.com/ax-platform/relay/pkg/handler"
	"github.com/ax-platform/relay/pkg/killswitch"
	"github.com/ax-platform/relay/pkg/store"
	"github.com/ax-platform/relay/pkg/transport"
)

var (
	monitorHandler string
	monitorModel   string
	monitorSystem  string
	monitorNoSweep bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <agent>",
	Short: "Run one agent's queue monitor in the foreground",
	Long: `Runs the full queue loop for one agent: opens its transports, sweeps
unread backlog, then polls for mentions and works the queue until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&monitorHandler, "handler", "echo", "Reply handler (echo or llm)")
	monitorCmd.Flags().StringVar(&monitorModel, "model", "", "Model override for the llm handler")
	monitorCmd.Flags().StringVar(&monitorSystem, "system", "", "System prompt for the llm handler")
	monitorCmd.Flags().BoolVar(&monitorNoSweep, "no-sweep", false, "Skip the startup unread sweep")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	agentID := args[0]
	if err := config.ValidateAgentID(agentID); err != nil {
		return err
	}
	kind, err := handler.ParseKind(monitorHandler)
	if err != nil {
		return err
	}

	settings, err := config.LoadSettings(viper.New())
	if err != nil {
		return err
	}

	logger := log.Logger().With(zap.String("agent", agentID))
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
		return fmt.Errorf("open transports: %w", err)
	}
	defer manager.Close()

	st, err := store.Open(settings.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	h, err := buildHandler(kind, manager, logger)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Config{
		AgentID:      agentID,
		Store:        st,
		Session:      manager.Primary(),
		Handler:      h,
		KillSwitch:   killswitch.New(config.GetKillSwitchPath()),
		Logger:       logger,
		PollInterval: settings.PollInterval,
		MarkRead:     settings.MarkRead,
		StartupSweep: settings.StartupSweep && !monitorNoSweep,
		SweepLimit:   settings.StartupSweepLimit,
		MaxRetries:   settings.MaxRetries,
	})
	if err != nil {
		return err
	}

	err = eng.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func buildHandler(kind handler.Kind, manager *transport.Manager, logger *zap.Logger) (handler.Handler, error) {
	switch kind {
	case handler.KindLLM:
		return handler.NewLLM(handler.LLMConfig{
			Model:   monitorModel,
			System:  monitorSystem,
			Toolbox: manager.Primary(),
			Logger:  logger,
		})
	default:
		return handler.NewEcho(), nil
	}
}
