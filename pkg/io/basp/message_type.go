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

// MessageType is the operation of a BASP frame.
type MessageType uint8

// Message types, the values are part of the wire format.
const (
	// ServerHandshake is sent by the accepting node in response to a
	// ClientHandshake. Its payload carries the node id, the application
	// identifiers and the actor published on the port.
	ServerHandshake MessageType = 0
	// ClientHandshake is the first frame of a connecting node.
	ClientHandshake MessageType = 1
	// DirectMessage carries an actor message between adjacent nodes.
	DirectMessage MessageType = 2
	// RoutedMessage carries an actor message with explicit source and
	// destination nodes, possibly over several hops.
	RoutedMessage MessageType = 3
	// ProxyCreation announces that the sender created a proxy for an actor
	// of the receiver.
	ProxyCreation MessageType = 4
	// ProxyDestruction tells the receiver to kill its proxy for an actor
	// of the sender.
	ProxyDestruction MessageType = 5
	// Heartbeat is a periodic keep-alive without payload.
	Heartbeat MessageType = 6
)

var messageTypeNames = [...]string{
	ServerHandshake:  "server_handshake",
	ClientHandshake:  "client_handshake",
	DirectMessage:    "direct_message",
	RoutedMessage:    "routed_message",
	ProxyCreation:    "proxy_creation",
	ProxyDestruction: "proxy_destruction",
	Heartbeat:        "heartbeat",
}

// Valid returns true if t is a known message type.
func (t MessageType) Valid() bool {
	return int(t) < len(messageTypeNames)
}

func (t MessageType) String() string {
	if t.Valid() {
		return messageTypeNames[t]
	}
	return fmt.Sprintf("message_type(%d)", uint8(t))
}
