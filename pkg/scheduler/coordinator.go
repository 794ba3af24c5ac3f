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

package scheduler

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/config"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Coordinator owns a fixed pool of workers running resumables.
type Coordinator struct {
	name    string
	cfg     *config.SchedulerConfig
	clock   clock.Clock
	hub     *hub
	workers []*worker
	eg      errgroup.Group

	started atomic.Bool
	stopped atomic.Bool
}

// NewCoordinator creates a coordinator. cfg must have been validated.
func NewCoordinator(name string, cfg *config.SchedulerConfig, clk clock.Clock) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	c := &Coordinator{
		name:  name,
		cfg:   cfg.Clone(),
		clock: clk,
		hub:   newHub(),
	}
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workers = append(c.workers, newWorker(i, c))
	}
	return c
}

// Start spawns the workers.
func (c *Coordinator) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	totalWorkers.WithLabelValues(c.name).Set(float64(len(c.workers)))
	for _, w := range c.workers {
		w := w
		c.eg.Go(func() error {
			w.run()
			return nil
		})
	}
	log.Info("scheduler started",
		zap.String("name", c.name),
		zap.Int("workers", len(c.workers)),
		zap.Int("max-throughput", c.cfg.MaxThroughput))
}

// Enqueue schedules r. Resumables enqueued before Start run once the
// workers are up.
func (c *Coordinator) Enqueue(r Resumable) error {
	if !c.hub.push(r) {
		return cerrors.ErrSchedulerStopped.GenWithStackByArgs()
	}
	return nil
}

// Exec implements ExecutionUnit.
func (c *Coordinator) Exec(r Resumable) {
	if err := c.Enqueue(r); err != nil {
		log.Warn("drop resumable enqueued after stop", zap.String("name", c.name))
	}
}

// Delay enqueues r after d elapsed on the coordinator's clock.
func (c *Coordinator) Delay(d time.Duration, r Resumable) *Timer {
	return &Timer{t: c.clock.AfterFunc(d, func() { c.Exec(r) })}
}

// MaxThroughput returns the fairness cap passed to Resume.
func (c *Coordinator) MaxThroughput() int {
	return c.cfg.MaxThroughput
}

// Clock returns the clock timers are scheduled on.
func (c *Coordinator) Clock() clock.Clock {
	return c.clock
}

// Stop stops all workers after they have run every resumable enqueued
// before the call. Work that is produced while stopping is drained on the
// calling goroutine, later enqueues fail with ErrSchedulerStopped.
func (c *Coordinator) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	if c.started.Load() {
		for range c.workers {
			c.hub.push(shutdownHelper{})
		}
		_ = c.eg.Wait()
	}
	drained := 0
	for {
		r, ok := c.hub.tryPop()
		if !ok {
			break
		}
		if _, ok := r.(shutdownHelper); ok {
			continue
		}
		drained++
		if resume(c, r, c.cfg.MaxThroughput) == ResumeLater {
			c.hub.push(r)
		}
	}
	c.hub.close()
	totalWorkers.DeleteLabelValues(c.name)
	log.Info("scheduler stopped", zap.String("name", c.name), zap.Int("drained", drained))
}

// Timer is a pending delayed enqueue.
type Timer struct {
	t *clock.Timer
}

// Stop cancels the timer, it returns false if the resumable has already
// been enqueued.
func (t *Timer) Stop() bool {
	return t.t.Stop()
}
