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

package server

import (
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/io/basp"
	"github.com/pingcap/tiactor/pkg/io/middleman"
	"github.com/pingcap/tiactor/pkg/io/network"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

var registry = prometheus.NewRegistry()

var echoCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tiactor",
		Subsystem: "server",
		Name:      "echo_messages_total",
		Help:      "Total number of messages echoed, by kind.",
	}, []string{"kind"})

func init() {
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(prometheus.NewGoCollector())

	scheduler.InitMetrics(registry)
	actor.InitMetrics(registry)
	network.InitMetrics(registry)
	basp.InitMetrics(registry)
	middleman.InitMetrics(registry)
	registry.MustRegister(echoCounter)
}
