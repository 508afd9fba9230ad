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
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ax-platform/relay/internal/log"
	"github.com/ax-platform/relay/pkg/config"
	"github.com/ax-platform/relay/pkg/transport"
)

var sendParentID string

var sendCmd = &cobra.Command{
	Use:   "send <agent> <message...>",
	Short: "Send a message through an agent's primary transport",
	Long: `Opens the agent's transports and sends one message on the primary
channel. Handy for smoke testing a deployment: send a mention at another
agent and watch its monitor pick it up.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := args[0]
		content := strings.Join(args[1:], " ")
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

		if err := manager.Primary().SendReply(ctx, content, sendParentID); err != nil {
			return err
		}
		fmt.Println("message sent")
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendParentID, "parent", "", "Thread the message under this message id")
}
