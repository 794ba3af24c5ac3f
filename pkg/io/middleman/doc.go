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

/*
Package middleman connects actor systems over TCP.

A Middleman owns one network.Multiplexer and one basp.Instance. Every
socket, the routing table and the BASP state machines are touched only
on the multiplexer goroutine. Other goroutines talk to the broker by
dispatching functions to that goroutine.

	proxy.Enqueue ──encode──► Dispatch ──► basp.Instance.Dispatch ──► Stream.Write
	                                                 │
	Stream.Consume ──► basp.Instance.Handle ──► broker.Deliver
	                                                 │
	                         WorkerHub (decode) ──► MessageQueue ──► Ref.Enqueue

Inbound messages are decoded by a fixed set of BASP workers running on
the actor scheduler, the MessageQueue releases them in arrival order.
*/
package middleman
