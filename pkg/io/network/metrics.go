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

package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registeredSockets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "multiplexer",
			Name:      "registered_sockets",
			Help:      "The number of sockets registered in multiplexers.",
		})
	dispatchedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "multiplexer",
			Name:      "dispatched_total",
			Help:      "Total number of resumables dispatched to multiplexers.",
		})
	acceptedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "multiplexer",
			Name:      "accepted_connections_total",
			Help:      "Total number of accepted connections.",
		})
	bytesReadCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "multiplexer",
			Name:      "read_bytes_total",
			Help:      "Total number of bytes read from streams.",
		})
	bytesWrittenCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "multiplexer",
			Name:      "written_bytes_total",
			Help:      "Total number of bytes written to streams.",
		})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(registeredSockets)
	registry.MustRegister(dispatchedCounter)
	registry.MustRegister(acceptedCounter)
	registry.MustRegister(bytesReadCounter)
	registry.MustRegister(bytesWrittenCounter)
}
