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

package server

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/cmd/util"
	"github.com/pingcap/tiactor/pkg/config"
	"github.com/pingcap/tiactor/pkg/server"
	"github.com/pingcap/tiactor/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// options defines flags for the `server` command.
type options struct {
	serverConfigFilePath string
	serverConfig         *config.Config
}

// newOptions creates new options for the `server` command.
func newOptions() *options {
	return &options{
		serverConfig: config.GetDefaultConfig(),
	}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *options) addFlags(cmd *cobra.Command) {
	defaultConfig := config.GetDefaultConfig()
	cmd.Flags().StringVar(&o.serverConfig.Addr, "addr", defaultConfig.Addr, "Set the address the echo actor is published on")
	cmd.Flags().StringVar(&o.serverConfig.StatusAddr, "status-addr", defaultConfig.StatusAddr, "Set the address of the status server, empty to disable it")
	cmd.Flags().StringSliceVar(&o.serverConfig.Peers, "peers", defaultConfig.Peers, "Addresses of nodes to connect on start. Use ',' to separate multiple peers")
	cmd.Flags().StringVar(&o.serverConfig.Log.File, "log-file", defaultConfig.Log.File, "log file path")
	cmd.Flags().StringVar(&o.serverConfig.Log.Level, "log-level", defaultConfig.Log.Level, "log level (etc: debug|info|warn|error)")
	cmd.Flags().IntVar(&o.serverConfig.Scheduler.WorkerCount, "worker-count", defaultConfig.Scheduler.WorkerCount, "number of scheduler workers, 0 means the number of CPUs")
	cmd.Flags().IntVar(&o.serverConfig.Scheduler.MaxThroughput, "max-throughput", defaultConfig.Scheduler.MaxThroughput, "maximum number of messages an actor handles per resume")
	cmd.Flags().StringSliceVar(&o.serverConfig.Middleman.AppIdentifiers, "app-id", defaultConfig.Middleman.AppIdentifiers, "application identifiers announced in the handshake")
	cmd.Flags().DurationVar((*time.Duration)(&o.serverConfig.Middleman.HeartbeatInterval), "heartbeat-interval", defaultConfig.Middleman.HeartbeatInterval.Duration(), "interval of BASP heartbeats, 0 disables heartbeats")
	cmd.Flags().IntVar(&o.serverConfig.Middleman.BASPWorkers, "basp-workers", defaultConfig.Middleman.BASPWorkers, "number of workers decoding inbound messages")

	cmd.Flags().StringVar(&o.serverConfigFilePath, "config", "", "Path of the configuration file")
}

// complete adapts from the command line args and config file to the data required.
func (o *options) complete(cmd *cobra.Command) error {
	conf := config.GetDefaultConfig()
	if len(o.serverConfigFilePath) > 0 {
		if err := util.StrictDecodeFile(o.serverConfigFilePath, "TiActor server", conf); err != nil {
			return err
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "addr":
			conf.Addr = o.serverConfig.Addr
		case "status-addr":
			conf.StatusAddr = o.serverConfig.StatusAddr
		case "peers":
			conf.Peers = o.serverConfig.Peers
		case "log-file":
			conf.Log.File = o.serverConfig.Log.File
		case "log-level":
			conf.Log.Level = o.serverConfig.Log.Level
		case "worker-count":
			conf.Scheduler.WorkerCount = o.serverConfig.Scheduler.WorkerCount
		case "max-throughput":
			conf.Scheduler.MaxThroughput = o.serverConfig.Scheduler.MaxThroughput
		case "app-id":
			conf.Middleman.AppIdentifiers = o.serverConfig.Middleman.AppIdentifiers
		case "heartbeat-interval":
			conf.Middleman.HeartbeatInterval = o.serverConfig.Middleman.HeartbeatInterval
		case "basp-workers":
			conf.Middleman.BASPWorkers = o.serverConfig.Middleman.BASPWorkers
		case "config", "env-file":
			// do nothing
		default:
			log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
		}
	})
	if err := conf.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	if conf.Middleman.HeartbeatInterval == 0 {
		cmd.Print(color.HiYellowString("[WARN] heartbeats are disabled, " +
			"connections to crashed peers are only closed by the operating system.\n"))
	}
	o.serverConfig = conf
	return nil
}

// run runs the server.
func (o *options) run(cmd *cobra.Command) error {
	ctx, cancel := util.InitCmd(cmd, o.serverConfig.Log)
	defer cancel()

	version.Log()
	log.Info("tiactor server config", zap.Stringer("config", o.serverConfig))

	srv, err := server.New(o.serverConfig)
	if err != nil {
		return errors.Annotate(err, "new server")
	}
	closed := make(chan struct{})
	util.InitSignalHandling(func() <-chan struct{} {
		cancel()
		return closed
	}, cancel)

	err = srv.Run(ctx)
	if closeErr := srv.Close(); closeErr != nil {
		log.Warn("close server", zap.Error(closeErr))
	}
	close(closed)
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Error("run server", zap.String("error", errors.ErrorStack(err)))
		return errors.Annotate(err, "run server")
	}
	log.Info("tiactor server exits successfully")
	return nil
}

// NewCmdServer creates the `server` command.
func NewCmdServer() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "server",
		Short: "Start an actor node publishing an echo actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}
