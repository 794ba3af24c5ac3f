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

package middleman

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectionGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "middleman",
			Name:      "connections",
			Help:      "The number of open BASP connections.",
		})
	connectCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "middleman",
			Name:      "connect_total",
			Help:      "Total number of outgoing connection attempts.",
		}, []string{"result"})
	unknownReceiverCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "middleman",
			Name:      "unknown_receiver_total",
			Help:      "Total number of inbound messages for actors that do not exist.",
		})
	decodeFailureCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "middleman",
			Name:      "decode_failures_total",
			Help:      "Total number of inbound messages that could not be decoded.",
		})
	unreachableNodeCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "middleman",
			Name:      "unreachable_nodes_total",
			Help:      "Total number of nodes that became unreachable.",
		})
)

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(connectionGauge)
	registry.MustRegister(connectCounter)
	registry.MustRegister(unknownReceiverCounter)
	registry.MustRegister(decodeFailureCounter)
	registry.MustRegister(unreachableNodeCounter)
}
