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
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingcap/tiactor/pkg/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestAddUnknownFlag(t *testing.T) {
	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)

	require.Regexp(t, ".*unknown flag: --PD.*", cmd.ParseFlags([]string{"--PD="}).Error())
}

func TestDefaultCfg(t *testing.T) {
	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)

	require.Nil(t, cmd.ParseFlags([]string{}))
	require.Nil(t, o.complete(cmd))

	defaultCfg := config.GetDefaultConfig()
	require.Nil(t, defaultCfg.ValidateAndAdjust())
	require.Equal(t, defaultCfg, o.serverConfig)
}

func TestParseCfg(t *testing.T) {
	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)

	require.Nil(t, cmd.ParseFlags([]string{
		"--addr", "127.5.5.1:8833",
		"--status-addr", "127.5.5.1:8834",
		"--peers", "127.5.5.2:8833,127.5.5.3:8833",
		"--log-file", "/root/tiactor.log",
		"--log-level", "debug",
		"--worker-count", "3",
		"--max-throughput", "50",
		"--app-id", "a,b",
		"--heartbeat-interval", "150ms",
		"--basp-workers", "0",
	}))
	require.Nil(t, o.complete(cmd))

	expected := config.GetDefaultConfig()
	expected.Addr = "127.5.5.1:8833"
	expected.StatusAddr = "127.5.5.1:8834"
	expected.Peers = []string{"127.5.5.2:8833", "127.5.5.3:8833"}
	expected.Log.File = "/root/tiactor.log"
	expected.Log.Level = "debug"
	expected.Scheduler.WorkerCount = 3
	expected.Scheduler.MaxThroughput = 50
	expected.Middleman.AppIdentifiers = []string{"a", "b"}
	expected.Middleman.HeartbeatInterval = config.TomlDuration(150 * time.Millisecond)
	expected.Middleman.BASPWorkers = 0
	require.Nil(t, expected.ValidateAndAdjust())
	require.Equal(t, expected, o.serverConfig)
}

func TestDecodeCfgWithFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	content := `
addr = "127.0.0.1:9000"
peers = ["127.0.0.1:9001"]

[log]
level = "warn"

[scheduler]
worker-count = 2

[middleman]
basp-workers = 1
`
	require.Nil(t, os.WriteFile(path, []byte(content), 0o644))

	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)
	require.Nil(t, cmd.ParseFlags([]string{
		"--config", path,
		"--worker-count", "5",
	}))
	require.Nil(t, o.complete(cmd))
	require.Equal(t, "127.0.0.1:9000", o.serverConfig.Addr)
	require.Equal(t, []string{"127.0.0.1:9001"}, o.serverConfig.Peers)
	require.Equal(t, "warn", o.serverConfig.Log.Level)
	// Flags win over the config file.
	require.Equal(t, 5, o.serverConfig.Scheduler.WorkerCount)
	require.Equal(t, 1, o.serverConfig.Middleman.BASPWorkers)
}

func TestDecodeUnknownCfg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.Nil(t, os.WriteFile(path, []byte(`unknown = "x"`), 0o644))

	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)
	require.Nil(t, cmd.ParseFlags([]string{"--config", path}))
	err := o.complete(cmd)
	require.Regexp(t, ".*contained unknown configuration options: unknown.*", err)
}

func TestInvalidAddr(t *testing.T) {
	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)

	require.Nil(t, cmd.ParseFlags([]string{"--addr", "127.0.0.1"}))
	err := o.complete(cmd)
	require.Regexp(t, ".*invalid config.*", err)
}

func TestWarnHeartbeatDisabled(t *testing.T) {
	cmd := new(cobra.Command)
	var out bytes.Buffer
	cmd.SetOut(&out)
	o := newOptions()
	o.addFlags(cmd)

	require.Nil(t, cmd.ParseFlags([]string{"--heartbeat-interval", "0s"}))
	require.Nil(t, o.complete(cmd))
	require.Contains(t, out.String(), "[WARN] heartbeats are disabled")
}
