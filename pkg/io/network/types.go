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

import "fmt"

// ConnectionHandle identifies a stream for the lifetime of its
// multiplexer. Unlike file descriptors, handles are never reused.
type ConnectionHandle uint64

// AcceptHandle identifies an acceptor.
type AcceptHandle uint64

// Operation is the kind of readiness reported for a socket.
type Operation int

// Operations.
const (
	OpRead Operation = iota
	OpWrite
	OpPropagateError
)

func (op Operation) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpPropagateError:
		return "propagate_error"
	default:
		return fmt.Sprintf("operation(%d)", int(op))
	}
}

// ReceivePolicyFlag selects how many bytes a stream collects before it
// hands them to its manager.
type ReceivePolicyFlag int

// Receive policy flags.
const (
	// Exactly collects exactly Size bytes.
	Exactly ReceivePolicyFlag = iota
	// AtMost hands over whatever one read returned, up to Size bytes.
	AtMost
	// AtLeast collects at least Size bytes.
	AtLeast
)

func (f ReceivePolicyFlag) String() string {
	switch f {
	case Exactly:
		return "exactly"
	case AtMost:
		return "at_most"
	case AtLeast:
		return "at_least"
	default:
		return fmt.Sprintf("receive_policy(%d)", int(f))
	}
}

// ReceivePolicy configures the reads of a stream.
type ReceivePolicy struct {
	Flag ReceivePolicyFlag
	Size int
}

// ExactlyPolicy returns a policy collecting exactly n bytes.
func ExactlyPolicy(n int) ReceivePolicy {
	return ReceivePolicy{Flag: Exactly, Size: n}
}

// AtMostPolicy returns a policy handing over up to n bytes per read.
func AtMostPolicy(n int) ReceivePolicy {
	return ReceivePolicy{Flag: AtMost, Size: n}
}

// AtLeastPolicy returns a policy collecting at least n bytes.
func AtLeastPolicy(n int) ReceivePolicy {
	return ReceivePolicy{Flag: AtLeast, Size: n}
}

func (p ReceivePolicy) String() string {
	return fmt.Sprintf("%s(%d)", p.Flag, p.Size)
}

// bufferSize is the size of the read buffer needed by p.
func (p ReceivePolicy) bufferSize() int {
	if p.Flag == AtLeast {
		// Leave some room to avoid reading one byte at a time.
		return p.Size + p.Size/10 + 1
	}
	return p.Size
}

// threshold is the number of bytes that triggers Consume.
func (p ReceivePolicy) threshold() int {
	if p.Flag == AtMost {
		return 1
	}
	return p.Size
}

// StreamManager consumes the events of a stream. All methods are called
// on the multiplexer goroutine.
type StreamManager interface {
	// Consume handles data received by s. data is only valid during the
	// call. Returning false stops reading.
	Consume(s *Stream, data []byte) bool
	// DataTransferred reports written bytes when write acknowledgement is
	// enabled on s.
	DataTransferred(s *Stream, written, remaining int)
	// IOFailure reports a fatal error, s is closed afterwards.
	IOFailure(s *Stream, op Operation, err error)
}

// AcceptorManager consumes the events of an acceptor. All methods are
// called on the multiplexer goroutine.
type AcceptorManager interface {
	// NewConnection hands over an accepted stream that is not started yet.
	NewConnection(a *Acceptor, s *Stream)
	// IOFailure reports a fatal error, a is closed afterwards.
	IOFailure(a *Acceptor, op Operation, err error)
}

type eventMask uint8

const (
	maskRead eventMask = 1 << iota
	maskWrite
)

// eventHandler is a socket registered in the multiplexer.
type eventHandler interface {
	fd() int
	handleEvent(op Operation)
	// shutdown closes the socket once pending output is flushed.
	shutdown()
	// forceClose releases the socket without flushing.
	forceClose()
}
