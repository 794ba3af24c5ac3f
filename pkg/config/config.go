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
	"bytes"
	"encoding/json"
	"net"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/logutil"
	"go.uber.org/zap"
)

// Config is the configuration of an actor node.
type Config struct {
	// Addr is the host:port the node publishes its echo actor on.
	Addr string `toml:"addr" json:"addr"`
	// StatusAddr serves /status, /metrics and pprof, empty disables it.
	StatusAddr string `toml:"status-addr" json:"status-addr"`
	// Peers are host:port addresses of nodes to connect on start.
	Peers []string `toml:"peers" json:"peers"`

	Log       *logutil.Config  `toml:"log" json:"log"`
	Scheduler *SchedulerConfig `toml:"scheduler" json:"scheduler"`
	Middleman *MiddlemanConfig `toml:"middleman" json:"middleman"`
}

const (
	defaultAddr       = "127.0.0.1:4242"
	defaultStatusAddr = "127.0.0.1:4243"
)

// GetDefaultConfig returns the default config.
func GetDefaultConfig() *Config {
	return &Config{
		Addr:       defaultAddr,
		StatusAddr: defaultStatusAddr,
		Log:        logutil.DefaultConfig(),
		Scheduler:  defaultSchedulerConfig.Clone(),
		Middleman:  defaultMiddlemanConfig.Clone(),
	}
}

// LoadFile decodes the toml file at path on top of the default config.
func LoadFile(path string) (*Config, error) {
	cfg := GetDefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, cerrors.ErrInvalidConfig.Wrap(err).GenWithStackByArgs(path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warn("unknown config items", zap.Any("items", undecoded))
	}
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// ValidateAndAdjust validates and adjusts the config.
func (c *Config) ValidateAndAdjust() error {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if _, _, err := SplitHostPort(c.Addr); err != nil {
		return errors.Trace(err)
	}
	if c.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatusAddr); err != nil {
			return cerrors.ErrInvalidConfig.Wrap(err).GenWithStackByArgs("status-addr")
		}
	}
	for _, peer := range c.Peers {
		if _, _, err := SplitHostPort(peer); err != nil {
			return errors.Trace(err)
		}
	}
	if c.Log == nil {
		c.Log = logutil.DefaultConfig()
	}
	c.Log.Adjust()
	if c.Scheduler == nil {
		c.Scheduler = defaultSchedulerConfig.Clone()
	}
	if err := c.Scheduler.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	if c.Middleman == nil {
		c.Middleman = defaultMiddlemanConfig.Clone()
	}
	return errors.Trace(c.Middleman.ValidateAndAdjust())
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := &Config{
		Addr:       c.Addr,
		StatusAddr: c.StatusAddr,
		Peers:      append([]string(nil), c.Peers...),
	}
	if c.Log != nil {
		l := *c.Log
		clone.Log = &l
	}
	if c.Scheduler != nil {
		clone.Scheduler = c.Scheduler.Clone()
	}
	if c.Middleman != nil {
		clone.Middleman = c.Middleman.Clone()
	}
	return clone
}

// SplitHostPort splits addr into a host and a port in [0, 65535].
func SplitHostPort(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, cerrors.ErrInvalidConfig.Wrap(err).GenWithStackByArgs(addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, cerrors.ErrInvalidConfig.Wrap(err).GenWithStackByArgs(addr)
	}
	return host, uint16(port), nil
}

// String implements fmt.Stringer.
func (c *Config) String() string {
	s, err := json.Marshal(c)
	if err != nil {
		log.Error("fail to marshal config to json", zap.Error(err))
	}
	return string(s)
}

// Toml encodes the config in toml format.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", errors.Trace(err)
	}
	return b.String(), nil
}
