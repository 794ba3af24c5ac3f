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

	"github.com/pingcap/tiactor/pkg/node"
)

// Addr identifies an actor across the network.
type Addr struct {
	Node node.ID
	ID   uint64
}

// IsZero returns true if a addresses no actor, e.g. the sender of an
// anonymous message.
func (a Addr) IsZero() bool {
	return a.ID == 0
}

func (a Addr) String() string {
	return fmt.Sprintf("%d@%s", a.ID, a.Node)
}

// Message is a mailbox element.
type Message struct {
	// Sender is zero for anonymous messages.
	Sender Addr
	// ID correlates requests and responses and carries the priority.
	ID MessageID
	// Content is the payload of the message.
	Content interface{}
}

// New creates an asynchronous message with normal priority.
func New(sender Addr, content interface{}) Message {
	return Message{Sender: sender, Content: content}
}

// NewUrgent creates an asynchronous message that bypasses normal messages.
func NewUrgent(sender Addr, content interface{}) Message {
	return Message{Sender: sender, ID: MakeMessageID(CategoryUrgent), Content: content}
}

// IsUrgent returns true if the message is dequeued ahead of normal ones.
func (m Message) IsUrgent() bool {
	return m.ID.Category() == CategoryUrgent
}

func (m Message) String() string {
	return fmt.Sprintf("Message{sender: %s, id: %s, content: %v}", m.Sender, m.ID, m.Content)
}
