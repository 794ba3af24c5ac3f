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
	"time"

	"github.com/pingcap/tiactor/pkg/io/network"
	"github.com/pingcap/tiactor/pkg/node"
)

// HandshakeResult is what a connecting node learns from the server
// handshake.
type HandshakeResult struct {
	Node node.ID
	// ActorID is the actor published on the remote port, zero if none.
	ActorID   uint64
	Interface []string
}

// HandshakeCallback resolves a pending connect.
type HandshakeCallback func(res HandshakeResult, err error)

// EndpointContext is the per-connection state of the BASP state machine.
type EndpointContext struct {
	State ConnectionState
	// Header is the last received header.
	Header Header
	Hdl    network.ConnectionHandle
	// ID is the remote node, known once the handshake completed.
	ID         node.ID
	RemotePort uint16
	LocalPort  uint16
	// Outgoing is true if this node initiated the connection.
	Outgoing bool
	// LastSeen is the last time bytes arrived on the connection.
	LastSeen time.Time
	// Callback is resolved once, on handshake completion or on close.
	Callback HandshakeCallback
}

// NewEndpointContext creates the context of a fresh connection.
func NewEndpointContext(hdl network.ConnectionHandle, outgoing bool, now time.Time) *EndpointContext {
	return &EndpointContext{
		State:    AwaitHandshakeHeader,
		Hdl:      hdl,
		Outgoing: outgoing,
		LastSeen: now,
	}
}

// NextReadSize returns the number of bytes the current state expects.
func (ctx *EndpointContext) NextReadSize() int {
	if ctx.State.awaitsPayload() {
		return int(ctx.Header.PayloadLen)
	}
	return HeaderSize
}

// HandshakeDone returns true once the remote node is known.
func (ctx *EndpointContext) HandshakeDone() bool {
	return ctx.State == AwaitHeader || ctx.State == AwaitPayload
}

// Resolve calls the pending callback, if any.
func (ctx *EndpointContext) Resolve(res HandshakeResult, err error) {
	if ctx.Callback == nil {
		return
	}
	cb := ctx.Callback
	ctx.Callback = nil
	cb(res, err)
}
