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

import "fmt"

// Category is the priority class of a message.
type Category uint8

// Message categories.
const (
	CategoryNormal Category = 0
	CategoryUrgent Category = 1
)

func (c Category) String() string {
	switch c {
	case CategoryNormal:
		return "normal"
	case CategoryUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// MessageID has the following layout:
//
//	bit 63     response flag
//	bit 62     answered flag
//	bits 60-61 category
//	bits 0-59  request id, 0 for asynchronous messages
type MessageID uint64

const (
	responseFlagMask MessageID = 1 << 63
	answeredFlagMask MessageID = 1 << 62
	categoryOffset             = 60
	categoryMask     MessageID = 0x3 << categoryOffset
	requestIDMask    MessageID = 1<<categoryOffset - 1
)

// MakeMessageID returns an asynchronous message id of category c.
func MakeMessageID(c Category) MessageID {
	return MessageID(c) << categoryOffset
}

// MakeRequestID returns the id of request number id.
func MakeRequestID(id uint64, c Category) MessageID {
	return MessageID(c)<<categoryOffset | MessageID(id)&requestIDMask
}

// RequestID returns the request number, 0 for asynchronous messages.
func (m MessageID) RequestID() uint64 {
	return uint64(m & requestIDMask)
}

// Category returns the priority class.
func (m MessageID) Category() Category {
	return Category((m & categoryMask) >> categoryOffset)
}

// IsResponse returns true if m answers a request.
func (m MessageID) IsResponse() bool {
	return m&responseFlagMask != 0
}

// IsRequest returns true if the sender expects a response.
func (m MessageID) IsRequest() bool {
	return !m.IsResponse() && m.RequestID() != 0
}

// IsAsync returns true if m is neither a request nor a response.
func (m MessageID) IsAsync() bool {
	return m.RequestID() == 0
}

// IsAnswered returns true if the request has been answered.
func (m MessageID) IsAnswered() bool {
	return m&answeredFlagMask != 0
}

// WithCategory returns m with category c.
func (m MessageID) WithCategory(c Category) MessageID {
	return m&^categoryMask | MessageID(c)<<categoryOffset
}

// ResponseID returns the id of the response to request m, or an
// asynchronous id if m is not a request.
func (m MessageID) ResponseID() MessageID {
	if !m.IsRequest() {
		return MakeMessageID(m.Category())
	}
	return m | responseFlagMask
}

// MarkAnswered returns m with the answered flag set.
func (m MessageID) MarkAnswered() MessageID {
	return m | answeredFlagMask
}

func (m MessageID) String() string {
	kind := "async"
	switch {
	case m.IsResponse():
		kind = "response"
	case m.IsRequest():
		kind = "request"
	}
	return fmt.Sprintf("%s#%d(%s)", kind, m.RequestID(), m.Category())
}
