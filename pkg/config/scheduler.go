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
	"runtime"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
)

// SchedulerConfig configs the worker pool that runs resumables.
type SchedulerConfig struct {
	// WorkerCount is the number of worker goroutines, 0 means runtime.NumCPU().
	WorkerCount int `toml:"worker-count" json:"worker-count"`
	// MaxThroughput caps the number of messages an actor handles per resume.
	MaxThroughput int `toml:"max-throughput" json:"max-throughput"`
	// RoundSize is the maximum number of resumables a worker runs in one round.
	RoundSize int `toml:"round-size" json:"round-size"`
}

// read only
var defaultSchedulerConfig = &SchedulerConfig{
	WorkerCount:   0,
	MaxThroughput: 300,
	RoundSize:     16,
}

// DefaultSchedulerConfig returns the default scheduler config.
func DefaultSchedulerConfig() *SchedulerConfig {
	return defaultSchedulerConfig.Clone()
}

// Clone returns a copy of the config.
func (c *SchedulerConfig) Clone() *SchedulerConfig {
	clone := *c
	return &clone
}

// ValidateAndAdjust validates and adjusts the scheduler config.
func (c *SchedulerConfig) ValidateAndAdjust() error {
	if c.WorkerCount < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("scheduler.worker-count must not be negative")
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = runtime.NumCPU()
	}
	if c.MaxThroughput < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("scheduler.max-throughput must not be negative")
	}
	if c.MaxThroughput == 0 {
		c.MaxThroughput = defaultSchedulerConfig.MaxThroughput
	}
	if c.RoundSize <= 0 {
		c.RoundSize = defaultSchedulerConfig.RoundSize
	}
	return nil
}
