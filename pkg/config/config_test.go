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

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultConfig()
	require.Nil(t, cfg.ValidateAndAdjust())
	require.Equal(t, runtime.NumCPU(), cfg.Scheduler.WorkerCount)
	require.Equal(t, 300, cfg.Scheduler.MaxThroughput)
	require.Equal(t, 5*time.Second, cfg.Middleman.HeartbeatInterval.Duration())
	require.Equal(t, 30*time.Second, cfg.Middleman.ConnectionTimeout.Duration())
	require.Equal(t, []string{"tiactor"}, cfg.Middleman.AppIdentifiers)

	// The defaults must not be modified through a returned config.
	cfg.Middleman.AppIdentifiers[0] = "changed"
	require.Equal(t, []string{"tiactor"}, GetDefaultConfig().Middleman.AppIdentifiers)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "node.toml")
	content := `
[log]
level = "debug"

[scheduler]
worker-count = 2
max-throughput = 10

[middleman]
app-identifiers = ["a", "b"]
heartbeat-interval = "250ms"
basp-workers = 0
`
	require.Nil(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.Nil(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 2, cfg.Scheduler.WorkerCount)
	require.Equal(t, 10, cfg.Scheduler.MaxThroughput)
	require.Equal(t, []string{"a", "b"}, cfg.Middleman.AppIdentifiers)
	require.Equal(t, 250*time.Millisecond, cfg.Middleman.HeartbeatInterval.Duration())
	require.Equal(t, 0, cfg.Middleman.BASPWorkers)
	// Unset values keep their defaults.
	require.Equal(t, 30*time.Second, cfg.Middleman.ConnectionTimeout.Duration())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.True(t, cerrors.Is(err, cerrors.ErrInvalidConfig))
}

func TestValidateAndAdjust(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		mutate      func(c *Config)
		expectedErr string
	}{
		{func(c *Config) { c.Scheduler.WorkerCount = -1 }, ".*worker-count must not be negative.*"},
		{func(c *Config) { c.Scheduler.MaxThroughput = -1 }, ".*max-throughput must not be negative.*"},
		{func(c *Config) { c.Middleman.HeartbeatInterval = -1 }, ".*heartbeat-interval must not be negative.*"},
		{func(c *Config) { c.Middleman.AppIdentifiers = []string{""} }, ".*empty identifier.*"},
		{func(c *Config) { c.Middleman.BASPWorkers = -2 }, ".*basp-workers must not be negative.*"},
		{func(c *Config) { c.Middleman.ConnectRetries = -1 }, ".*connect-retries must not be negative.*"},
		{func(c *Config) { c.Addr = "127.0.0.1" }, ".*invalid config: 127.0.0.1.*"},
		{func(c *Config) { c.Addr = "127.0.0.1:70000" }, ".*invalid config: 127.0.0.1:70000.*"},
		{func(c *Config) { c.StatusAddr = "nope" }, ".*invalid config: status-addr.*"},
		{func(c *Config) { c.Peers = []string{"127.0.0.1:1", "peer"} }, ".*invalid config: peer.*"},
	}
	for _, tc := range testCases {
		cfg := GetDefaultConfig()
		tc.mutate(cfg)
		err := cfg.ValidateAndAdjust()
		require.Error(t, err)
		require.Regexp(t, tc.expectedErr, err.Error())
	}

	cfg := &Config{}
	require.Nil(t, cfg.ValidateAndAdjust())
	require.NotNil(t, cfg.Log)
	require.NotNil(t, cfg.Scheduler)
	require.NotNil(t, cfg.Middleman)
	require.Equal(t, "127.0.0.1:4242", cfg.Addr)
	require.Empty(t, cfg.StatusAddr)
}

func TestSplitHostPort(t *testing.T) {
	t.Parallel()

	host, port, err := SplitHostPort("localhost:4242")
	require.Nil(t, err)
	require.Equal(t, "localhost", host)
	require.Equal(t, uint16(4242), port)

	_, _, err = SplitHostPort("localhost:http")
	require.True(t, cerrors.Is(err, cerrors.ErrInvalidConfig))
}

func TestTomlRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultConfig()
	cfg.Middleman.HeartbeatInterval = TomlDuration(time.Second)
	cfg.Peers = []string{"127.0.0.1:4244"}
	s, err := cfg.Toml()
	require.Nil(t, err)

	decoded := &Config{}
	_, err = toml.Decode(s, decoded)
	require.Nil(t, err)
	require.Equal(t, cfg, decoded)
	require.Equal(t, cfg, cfg.Clone())
	require.Contains(t, cfg.String(), `"heartbeat-interval":"1s"`)
}
