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

package errors

import (
	"github.com/pingcap/errors"
)

// errors
var (
	// scheduler related errors
	ErrSchedulerStopped = errors.Normalize(
		"scheduler has been stopped",
		errors.RFCCodeText("ACTOR:ErrSchedulerStopped"),
	)
	ErrSchedulerNotStarted = errors.Normalize(
		"scheduler has not been started",
		errors.RFCCodeText("ACTOR:ErrSchedulerNotStarted"),
	)

	// actor and mailbox related errors
	ErrMailboxClosed = errors.Normalize(
		"mailbox of actor %s is closed",
		errors.RFCCodeText("ACTOR:ErrMailboxClosed"),
	)
	ErrRequestReceiverDown = errors.Normalize(
		"request receiver %s is down",
		errors.RFCCodeText("ACTOR:ErrRequestReceiverDown"),
	)
	ErrStaleActorHandle = errors.Normalize(
		"actor handle %s is stale",
		errors.RFCCodeText("ACTOR:ErrStaleActorHandle"),
	)
	ErrActorNameConflict = errors.Normalize(
		"actor name %s is already registered",
		errors.RFCCodeText("ACTOR:ErrActorNameConflict"),
	)
	ErrActorNotFound = errors.Normalize(
		"actor %s not found",
		errors.RFCCodeText("ACTOR:ErrActorNotFound"),
	)
	ErrEncodeFailed = errors.Normalize(
		"encode message failed",
		errors.RFCCodeText("ACTOR:ErrEncodeFailed"),
	)
	ErrDecodeFailed = errors.Normalize(
		"decode message failed",
		errors.RFCCodeText("ACTOR:ErrDecodeFailed"),
	)

	// network related errors
	ErrMultiplexerClosed = errors.Normalize(
		"multiplexer has been closed",
		errors.RFCCodeText("ACTOR:ErrMultiplexerClosed"),
	)
	ErrSocketIO = errors.Normalize(
		"socket %s failed",
		errors.RFCCodeText("ACTOR:ErrSocketIO"),
	)
	ErrConnectFailed = errors.Normalize(
		"connect to %s failed",
		errors.RFCCodeText("ACTOR:ErrConnectFailed"),
	)
	ErrConnectTimeout = errors.Normalize(
		"handshake with %s timed out",
		errors.RFCCodeText("ACTOR:ErrConnectTimeout"),
	)
	ErrConnectionClosed = errors.Normalize(
		"connection %d closed before handshake completed",
		errors.RFCCodeText("ACTOR:ErrConnectionClosed"),
	)
	ErrPortInUse = errors.Normalize(
		"cannot listen on %s",
		errors.RFCCodeText("ACTOR:ErrPortInUse"),
	)
	ErrNoRouteToNode = errors.Normalize(
		"no route to node %s",
		errors.RFCCodeText("ACTOR:ErrNoRouteToNode"),
	)
	ErrNoActorPublished = errors.Normalize(
		"no actor published at %s",
		errors.RFCCodeText("ACTOR:ErrNoActorPublished"),
	)
	ErrMiddlemanStopped = errors.Normalize(
		"middleman has been stopped",
		errors.RFCCodeText("ACTOR:ErrMiddlemanStopped"),
	)

	// BASP protocol errors
	ErrBASPInvalidHeader = errors.Normalize(
		"invalid BASP header %s",
		errors.RFCCodeText("ACTOR:ErrBASPInvalidHeader"),
	)
	ErrBASPVersionMismatch = errors.Normalize(
		"BASP version mismatch, expected %d, got %d",
		errors.RFCCodeText("ACTOR:ErrBASPVersionMismatch"),
	)
	ErrBASPUnexpectedMessage = errors.Normalize(
		"unexpected BASP message %s in state %s",
		errors.RFCCodeText("ACTOR:ErrBASPUnexpectedMessage"),
	)
	ErrBASPInvalidPayload = errors.Normalize(
		"invalid BASP payload: %s",
		errors.RFCCodeText("ACTOR:ErrBASPInvalidPayload"),
	)
	ErrBASPAppIDMismatch = errors.Normalize(
		"application identifiers mismatch, local %v, remote %v",
		errors.RFCCodeText("ACTOR:ErrBASPAppIDMismatch"),
	)
	ErrBASPPayloadTooLarge = errors.Normalize(
		"BASP payload of %d bytes exceeds limit %d",
		errors.RFCCodeText("ACTOR:ErrBASPPayloadTooLarge"),
	)

	// config related errors
	ErrInvalidConfig = errors.Normalize(
		"invalid config: %s",
		errors.RFCCodeText("ACTOR:ErrInvalidConfig"),
	)
)
