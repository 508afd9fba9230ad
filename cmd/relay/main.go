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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ax-platform/relay/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "relay",
	Short:   "Relay - agent queue runtime",
	Long:    `Relay runs per-agent message monitors: a durable FIFO queue between a messaging transport and a reply handler. Use "relay monitor <agent>" to run one agent in the foreground, or relayd to supervise a fleet.`,
	Version: version.Get(),
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(killSwitchCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
