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
	"strings"

	"github.com/spf13/cobra"

	"github.com/ax-platform/relay/pkg/config"
	"github.com/ax-platform/relay/pkg/killswitch"
)

var killSwitchCmd = &cobra.Command{
	Use:   "killswitch",
	Short: "Inspect or toggle the processing kill switch",
	Long: `The kill switch halts message processing on every monitor sharing this
data directory. Polling continues, so mentions keep accumulating in the queue
and are worked once the switch is released.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sw := killswitch.New(config.GetKillSwitchPath())
		if sw.Active() {
			fmt.Println("kill switch: ACTIVE (processing halted)")
		} else {
			fmt.Println("kill switch: inactive")
		}
		return nil
	},
}

var killSwitchOnCmd = &cobra.Command{
	Use:   "on [reason...]",
	Short: "Activate the kill switch",
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := strings.Join(args, " ")
		if reason == "" {
			reason = "activated via CLI"
		}
		sw := killswitch.New(config.GetKillSwitchPath())
		if err := sw.Activate(reason); err != nil {
			return err
		}
		fmt.Println("kill switch activated; processing halted, polling continues")
		return nil
	},
}

var killSwitchOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Deactivate the kill switch",
	RunE: func(cmd *cobra.Command, args []string) error {
		sw := killswitch.New(config.GetKillSwitchPath())
		if err := sw.Deactivate(); err != nil {
			return err
		}
		fmt.Println("kill switch deactivated; queued backlog will drain")
		return nil
	},
}

func init() {
	killSwitchCmd.AddCommand(killSwitchOnCmd)
	killSwitchCmd.AddCommand(killSwitchOffCmd)
}
