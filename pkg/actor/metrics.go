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

package actor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	spawnedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "spawned_total",
			Help:      "Total number of spawned actors.",
		})
	liveActors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "number_of_actors",
			Help:      "The number of local actors that have not terminated.",
		})
	liveProxies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "number_of_proxies",
			Help:      "The number of proxies of remote actors.",
		})
	mailboxEnqueueCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "mailbox_enqueue_total",
			Help:      "Total number of mailbox enqueues by result.",
		}, []string{"result"})
	bouncedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "bounced_requests_total",
			Help:      "Total number of requests answered with receiver down.",
		})
	droppedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "dropped_messages_total",
			Help:      "Total number of undeliverable messages that were dropped.",
		})
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "poll_duration_seconds",
			Help:      "Bucketed histogram of actor poll time (s).",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 18),
		})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(spawnedCounter)
	registry.MustRegister(liveActors)
	registry.MustRegister(liveProxies)
	registry.MustRegister(mailboxEnqueueCounter)
	registry.MustRegister(bouncedCounter)
	registry.MustRegister(droppedCounter)
	registry.MustRegister(pollDuration)
}
