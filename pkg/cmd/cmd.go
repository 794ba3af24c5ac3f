// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"os"

	"github.com/pingcap/tiactor/pkg/cmd/ping"
	"github.com/pingcap/tiactor/pkg/cmd/server"
	"github.com/pingcap/tiactor/pkg/cmd/util"
	"github.com/pingcap/tiactor/pkg/cmd/version"
	"github.com/spf13/cobra"
)

// NewCmd creates the root command.
func NewCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use: "tiactor",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := util.LoadEnvFile(envFile); err != nil {
				return err
			}
			return util.ApplyEnv(cmd.Flags(), util.EnvPrefix)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path of a dotenv file setting TIACTOR_* variables")
	return cmd
}

// AddTiActorSubCommands adds all tiactor sub-commands to cmd.
func AddTiActorSubCommands(cmd *cobra.Command) {
	cmd.AddCommand(server.NewCmdServer())
	cmd.AddCommand(ping.NewCmdPing())
	cmd.AddCommand(version.NewCmdVersion())
}

// Run runs the root command.
func Run() {
	cmd := NewCmd()

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	AddTiActorSubCommands(cmd)

	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln(err)
		os.Exit(1)
	}
}
