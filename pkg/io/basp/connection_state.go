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

import "fmt"

// ConnectionState is the state of the BASP state machine of one
// connection. Every state but CloseConnection expects a known number of
// bytes next.
type ConnectionState int

// Connection states.
const (
	// AwaitHandshakeHeader expects the header of a handshake.
	AwaitHandshakeHeader ConnectionState = iota
	// AwaitHandshakePayload expects the payload of a handshake.
	AwaitHandshakePayload
	// AwaitHeader expects the header of any frame but a handshake.
	AwaitHeader
	// AwaitPayload expects the payload of the last header.
	AwaitPayload
	// CloseConnection is terminal.
	CloseConnection
)

var connectionStateNames = [...]string{
	AwaitHandshakeHeader:  "await_handshake_header",
	AwaitHandshakePayload: "await_handshake_payload",
	AwaitHeader:           "await_header",
	AwaitPayload:          "await_payload",
	CloseConnection:       "close_connection",
}

func (s ConnectionState) String() string {
	if s >= 0 && int(s) < len(connectionStateNames) {
		return connectionStateNames[s]
	}
	return fmt.Sprintf("connection_state(%d)", int(s))
}

func (s ConnectionState) awaitsPayload() bool {
	return s == AwaitHandshakePayload || s == AwaitPayload
}
