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
	"time"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
)

// MiddlemanConfig configs the network layer and the BASP broker.
type MiddlemanConfig struct {
	// AppIdentifiers must share at least one entry with the peer's list.
	AppIdentifiers []string `toml:"app-identifiers" json:"app-identifiers"`
	// HeartbeatInterval is the period of heartbeats, 0 disables heartbeats.
	// A connection silent for three intervals is closed.
	HeartbeatInterval TomlDuration `toml:"heartbeat-interval" json:"heartbeat-interval"`
	// ConnectionTimeout bounds the time between accepting or opening a
	// connection and completing its handshake.
	ConnectionTimeout TomlDuration `toml:"connection-timeout" json:"connection-timeout"`
	// BASPWorkers is the number of workers decoding inbound messages,
	// 0 means decoding on the multiplexer goroutine.
	BASPWorkers int `toml:"basp-workers" json:"basp-workers"`
	// MaxPayloadSize is the largest payload a peer may announce.
	MaxPayloadSize uint32 `toml:"max-payload-size" json:"max-payload-size"`
	// ConnectRetries is the number of dial retries before Connect fails.
	ConnectRetries int `toml:"connect-retries" json:"connect-retries"`
	// ReadBufferSize is the initial read buffer of a connection.
	ReadBufferSize int `toml:"read-buffer-size" json:"read-buffer-size"`
}

// read only
var defaultMiddlemanConfig = &MiddlemanConfig{
	AppIdentifiers:    []string{"tiactor"},
	HeartbeatInterval: TomlDuration(5 * time.Second),
	ConnectionTimeout: TomlDuration(30 * time.Second),
	BASPWorkers:       4,
	MaxPayloadSize:    64 * 1024 * 1024, // 64MB
	ConnectRetries:    3,
	ReadBufferSize:    64 * 1024,
}

// DefaultMiddlemanConfig returns the default middleman config.
func DefaultMiddlemanConfig() *MiddlemanConfig {
	return defaultMiddlemanConfig.Clone()
}

// Clone returns a deep copy of the config.
func (c *MiddlemanConfig) Clone() *MiddlemanConfig {
	clone := *c
	clone.AppIdentifiers = append([]string(nil), c.AppIdentifiers...)
	return &clone
}

// ValidateAndAdjust validates and adjusts the middleman config.
func (c *MiddlemanConfig) ValidateAndAdjust() error {
	if len(c.AppIdentifiers) == 0 {
		c.AppIdentifiers = append([]string(nil), defaultMiddlemanConfig.AppIdentifiers...)
	}
	for _, id := range c.AppIdentifiers {
		if id == "" {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("middleman.app-identifiers contains an empty identifier")
		}
	}
	if c.HeartbeatInterval < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("middleman.heartbeat-interval must not be negative")
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = defaultMiddlemanConfig.ConnectionTimeout
	}
	if c.BASPWorkers < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("middleman.basp-workers must not be negative")
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = defaultMiddlemanConfig.MaxPayloadSize
	}
	if c.ConnectRetries < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("middleman.connect-retries must not be negative")
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultMiddlemanConfig.ReadBufferSize
	}
	return nil
}
