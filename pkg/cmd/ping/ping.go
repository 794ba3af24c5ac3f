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

package ping

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/cmd/util"
	"github.com/pingcap/tiactor/pkg/config"
	"github.com/pingcap/tiactor/pkg/io/middleman"
	"github.com/pingcap/tiactor/pkg/logutil"
	"github.com/pingcap/tiactor/pkg/node"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// options defines flags for the `ping` command.
type options struct {
	addr     string
	count    int
	interval time.Duration
	timeout  time.Duration
	payload  string
	appIDs   []string
	logLevel string
}

// newOptions creates new options for the `ping` command.
func newOptions() *options {
	return &options{}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *options) addFlags(cmd *cobra.Command) {
	defaultMiddleman := config.DefaultMiddlemanConfig()
	cmd.Flags().StringVar(&o.addr, "addr", "127.0.0.1:4242", "Address of the node to ping")
	cmd.Flags().IntVarP(&o.count, "count", "c", 3, "Number of requests to send")
	cmd.Flags().DurationVarP(&o.interval, "interval", "i", time.Second, "Wait interval between requests")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 10*time.Second, "Timeout of connecting and of each request")
	cmd.Flags().StringVar(&o.payload, "payload", "ping", "Content of the requests")
	cmd.Flags().StringSliceVar(&o.appIDs, "app-id", defaultMiddleman.AppIdentifiers, "application identifiers announced in the handshake")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "warn", "log level (etc: debug|info|warn|error)")
}

// validate checks that the provided ping options are specified.
func (o *options) validate() error {
	if _, _, err := config.SplitHostPort(o.addr); err != nil {
		return errors.Trace(err)
	}
	if o.count <= 0 {
		return errors.Errorf("count must be positive, got %d", o.count)
	}
	if o.timeout <= 0 {
		return errors.Errorf("timeout must be positive, got %s", o.timeout)
	}
	return nil
}

// ping connects to the node at o.addr and sends o.count requests to its
// published actor, printing every reply to out.
func (o *options) ping(ctx context.Context, out io.Writer) (err error) {
	host, port, err := config.SplitHostPort(o.addr)
	if err != nil {
		return errors.Trace(err)
	}
	schedCfg := config.DefaultSchedulerConfig()
	schedCfg.WorkerCount = 1
	if err := schedCfg.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	mmCfg := config.DefaultMiddlemanConfig()
	mmCfg.AppIdentifiers = o.appIDs
	mmCfg.HeartbeatInterval = 0
	mmCfg.ConnectionTimeout = config.TomlDuration(o.timeout)
	if err := mmCfg.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}

	sched := scheduler.NewCoordinator("ping", schedCfg, nil)
	sched.Start()
	defer sched.Stop()
	sys := actor.NewSystem(node.New(), sched)
	defer sys.Shutdown()
	mm, err := middleman.New(sys, mmCfg)
	if err != nil {
		return errors.Trace(err)
	}
	if err := mm.Start(); err != nil {
		return errors.Trace(err)
	}
	defer func() {
		err = multierr.Append(err, mm.Stop())
	}()

	connCtx, cancel := context.WithTimeout(ctx, o.timeout)
	target, err := mm.RemoteActor(connCtx, host, port)
	cancel()
	if err != nil {
		return errors.Annotatef(err, "connect to %s", o.addr)
	}
	fmt.Fprintf(out, "PING %s (%s)\n", o.addr, target)

	received := 0
	for seq := 0; seq < o.count; seq++ {
		if seq > 0 {
			select {
			case <-ctx.Done():
				return errors.Trace(ctx.Err())
			case <-time.After(o.interval):
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
		start := time.Now()
		resp, err := sys.Ask(reqCtx, target, o.payload)
		cancel()
		if err != nil {
			fmt.Fprint(out, color.HiRedString("request seq=%d failed: %v\n", seq, err))
			log.Warn("ping request failed", zap.Int("seq", seq), zap.Error(err))
			continue
		}
		received++
		fmt.Fprintf(out, "reply from %s: seq=%d content=%v time=%s\n",
			target.Node(), seq, resp, time.Since(start))
	}
	fmt.Fprintf(out, "%d requests transmitted, %d replies received\n", o.count, received)
	if received == 0 {
		return errors.Errorf("no reply from %s", o.addr)
	}
	return nil
}

// NewCmdPing creates the `ping` command.
func NewCmdPing() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "ping",
		Short: "Send requests to the actor published by a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			ctx, cancel := util.InitCmd(cmd, &logutil.Config{Level: o.logLevel})
			defer cancel()
			return o.ping(ctx, cmd.OutOrStdout())
		},
	}

	o.addFlags(command)

	return command
}
