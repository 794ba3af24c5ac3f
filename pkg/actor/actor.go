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
	"github.com/pingcap/tiactor/pkg/actor/message"
)

// Actor is a universal primitive of concurrent computation.
// See more https://en.wikipedia.org/wiki/Actor_model
type Actor interface {
	// Poll handles messages that are taken from the actor's mailbox.
	//
	// The system never polls an actor concurrently, so an actor needs no
	// locking for its own state. Poll must not block, at most
	// max-throughput messages are passed per call.
	//
	// If it returns false, the actor terminates with a normal exit reason.
	// Requests left in its mailbox are answered with a receiver down
	// error.
	Poll(ctx *Context, msgs []message.Message) (running bool)
}

// ExitTrapper is implemented by actors that receive exit messages of
// linked actors as regular messages instead of terminating.
type ExitTrapper interface {
	TrapExit() bool
}

// ActorFunc adapts a function to the Actor interface.
type ActorFunc func(ctx *Context, msgs []message.Message) bool

// Poll implements Actor.
func (f ActorFunc) Poll(ctx *Context, msgs []message.Message) bool {
	return f(ctx, msgs)
}

// Context is passed to Poll, it is only valid during the call.
type Context struct {
	self Ref
	quit bool
	exit message.ExitReason
}

// Self returns the polled actor.
func (c *Context) Self() Ref {
	return c.self
}

// System returns the system the actor belongs to.
func (c *Context) System() *System {
	return c.self.sys
}

// Send sends content to dest with normal priority.
func (c *Context) Send(dest Ref, content interface{}) EnqueueResult {
	return dest.Enqueue(message.New(c.self.addr, content))
}

// SendUrgent sends content to dest ahead of its normal messages.
func (c *Context) SendUrgent(dest Ref, content interface{}) EnqueueResult {
	return dest.Enqueue(message.NewUrgent(c.self.addr, content))
}

// Request sends content to dest as a request and returns its id. The
// response arrives as a regular message with ID.IsResponse() set and the
// same request id.
func (c *Context) Request(dest Ref, content interface{}) message.MessageID {
	id := c.self.sys.NextRequestID()
	dest.Enqueue(message.Message{Sender: c.self.addr, ID: id, Content: content})
	return id
}

// Reply answers req. It is a no-op if req is not a request.
func (c *Context) Reply(req message.Message, content interface{}) {
	c.self.sys.Reply(c.self.addr, req, content)
}

// Quit terminates the actor with reason after Poll returns.
func (c *Context) Quit(reason message.ExitReason) {
	c.quit = true
	c.exit = reason
}
