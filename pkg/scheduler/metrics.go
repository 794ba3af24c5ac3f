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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	totalWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "scheduler",
			Name:      "number_of_workers",
			Help:      "The total number of workers in a scheduler.",
		}, []string{"name"})
	workingWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "scheduler",
			Name:      "number_of_running_workers",
			Help:      "The number of running workers in a scheduler.",
		}, []string{"name"})
	resumedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "scheduler",
			Name:      "resumed_total",
			Help:      "Total number of resumed resumables.",
		}, []string{"name"})
	workerBusyDuration = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "scheduler",
			Name:      "workers_busy_seconds_total",
			Help:      "Total time spent by workers running resumables.",
		}, []string{"name"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(totalWorkers)
	registry.MustRegister(workingWorkers)
	registry.MustRegister(resumedCounter)
	registry.MustRegister(workerBusyDuration)
}
