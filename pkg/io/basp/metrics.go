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

package basp

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	receivedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "basp",
			Name:      "received_messages_total",
			Help:      "Total number of received BASP messages by type.",
		}, []string{"type"})
	sentCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "basp",
			Name:      "sent_messages_total",
			Help:      "Total number of sent BASP messages by type.",
		}, []string{"type"})
	protocolErrorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "basp",
			Name:      "protocol_errors_total",
			Help:      "Total number of connections closed by protocol errors.",
		})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(receivedCounter)
	registry.MustRegister(sentCounter)
	registry.MustRegister(protocolErrorCounter)
}
