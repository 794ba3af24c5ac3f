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
	"runtime/debug"
	"time"

	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// worker runs resumables taken from the shared hub in rounds.
type worker struct {
	id    int
	coord *Coordinator
	batch []Resumable

	metricResumed prometheus.Counter
	metricBusy    prometheus.Counter
}

func newWorker(id int, coord *Coordinator) *worker {
	return &worker{
		id:            id,
		coord:         coord,
		batch:         make([]Resumable, 0, coord.cfg.RoundSize),
		metricResumed: resumedCounter.WithLabelValues(coord.name),
		metricBusy:    workerBusyDuration.WithLabelValues(coord.name),
	}
}

// Exec implements ExecutionUnit.
func (w *worker) Exec(r Resumable) {
	w.coord.Exec(r)
}

func (w *worker) run() {
	log.Debug("scheduler worker started",
		zap.String("name", w.coord.name), zap.Int("id", w.id))
	workingWorkers.WithLabelValues(w.coord.name).Inc()
	defer workingWorkers.WithLabelValues(w.coord.name).Dec()
	for {
		res := w.round()
		if res.StopAll {
			log.Debug("scheduler worker stopped",
				zap.String("name", w.coord.name), zap.Int("id", w.id))
			return
		}
	}
}

// round takes a batch from the hub and resumes each resumable once.
func (w *worker) round() RoundResult {
	var ok bool
	w.batch, ok = w.coord.hub.takeBatch(w.batch[:0], cap(w.batch))
	if !ok {
		return RoundResult{StopAll: true}
	}
	var res RoundResult
	startTime := time.Now()
	for i, r := range w.batch {
		w.batch[i] = nil
		if _, ok := r.(shutdownHelper); ok {
			res.StopAll = true
			continue
		}
		res.ConsumedItems = true
		w.metricResumed.Inc()
		switch resume(w, r, w.coord.cfg.MaxThroughput) {
		case ResumeLater:
			w.coord.Exec(r)
		case ShutdownExecutionUnit:
			log.Debug("resumable shut down", zap.String("name", w.coord.name))
		}
	}
	w.metricBusy.Add(time.Since(startTime).Seconds())
	return res
}

// resume runs r once. A panicking resumable is treated as terminal.
func resume(unit ExecutionUnit, r Resumable, maxThroughput int) (res ResumeResult) {
	defer func() {
		if v := recover(); v != nil {
			log.Error("resumable panicked",
				zap.Any("panic", v), zap.ByteString("stack", debug.Stack()))
			res = ShutdownExecutionUnit
		}
	}()
	return r.Resume(unit, maxThroughput)
}
