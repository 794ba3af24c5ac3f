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

package message

import (
	"fmt"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
)

// ExitReason describes why an actor terminated.
type ExitReason uint8

// Exit reasons.
const (
	// ExitNormal means the behavior finished regularly.
	ExitNormal ExitReason = iota
	// ExitUnhandledError means the behavior failed.
	ExitUnhandledError
	// ExitUnknown means the actor is unknown or terminated with an
	// unknown reason.
	ExitUnknown
	// ExitUserShutdown means the actor was stopped on request.
	ExitUserShutdown
	// ExitKill means the actor was killed by an exit message.
	ExitKill
	// ExitRemoteLinkUnreachable means the connection to the node of a
	// remote actor was lost.
	ExitRemoteLinkUnreachable
	// ExitUnreachable means the actor cannot be reached anymore.
	ExitUnreachable
)

var exitReasonNames = map[ExitReason]string{
	ExitNormal:                "normal",
	ExitUnhandledError:        "unhandled_error",
	ExitUnknown:               "unknown",
	ExitUserShutdown:          "user_shutdown",
	ExitKill:                  "kill",
	ExitRemoteLinkUnreachable: "remote_link_unreachable",
	ExitUnreachable:           "unreachable",
}

func (r ExitReason) String() string {
	if s, ok := exitReasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("exit_reason(%d)", uint8(r))
}

// DownMsg is sent to monitors of a terminated actor.
type DownMsg struct {
	Source Addr
	Reason ExitReason
}

// ExitMsg is sent to linked actors of a terminated actor. A non-normal
// reason terminates the receiver unless it traps exits.
type ExitMsg struct {
	Source Addr
	Reason ExitReason
}

// ErrorMsg is the content of an error response.
type ErrorMsg struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

// NewErrorMsg converts err to an ErrorMsg carrying its RFC code.
func NewErrorMsg(err error) ErrorMsg {
	code, ok := cerrors.RFCCode(err)
	if !ok {
		code = "ACTOR:ErrUnknown"
	}
	return ErrorMsg{Code: string(code), Message: err.Error()}
}

// Error implements the error interface.
func (e ErrorMsg) Error() string {
	return e.Message
}

// IsError returns true if e was created from an instance of target.
func (e ErrorMsg) IsError(target *errors.Error) bool {
	return e.Code == string(target.RFCCode())
}
