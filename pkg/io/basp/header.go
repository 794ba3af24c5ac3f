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
	"encoding/binary"
	"fmt"

	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
)

// HeaderSize is the size of an encoded Header.
const HeaderSize = 32

// Header is the fixed-size prefix of every BASP frame. All fields are
// encoded in network byte order:
//
//	0      1      2      3      4            8                16           24           32
//	+------+------+------+------+------------+----------------+------------+------------+
//	| type | pad  | pad  | flags| payload_len| operation_data | src actor  | dst actor  |
//	+------+------+------+------+------------+----------------+------------+------------+
type Header struct {
	Type  MessageType
	Flags uint8
	// PayloadLen is the number of bytes following the header.
	PayloadLen uint32
	// OperationData is the version for handshakes and the message id for
	// actor messages.
	OperationData uint64
	SourceActor   uint64
	DestActor     uint64
}

// Version returns the protocol version of a handshake header.
func (h *Header) Version() uint64 {
	return h.OperationData
}

// MessageID returns the message id of an actor message header.
func (h *Header) MessageID() message.MessageID {
	return message.MessageID(h.OperationData)
}

// IsHandshake returns true for server and client handshakes.
func (h *Header) IsHandshake() bool {
	return h.Type == ServerHandshake || h.Type == ClientHandshake
}

// IsHeartbeat returns true for heartbeats.
func (h *Header) IsHeartbeat() bool {
	return h.Type == Heartbeat
}

// AppendTo appends the encoded header to buf.
func (h *Header) AppendTo(buf []byte) []byte {
	var b [HeaderSize]byte
	b[0] = byte(h.Type)
	b[3] = h.Flags
	binary.BigEndian.PutUint32(b[4:8], h.PayloadLen)
	binary.BigEndian.PutUint64(b[8:16], h.OperationData)
	binary.BigEndian.PutUint64(b[16:24], h.SourceActor)
	binary.BigEndian.PutUint64(b[24:32], h.DestActor)
	return append(buf, b[:]...)
}

// Encode returns the encoded header.
func (h *Header) Encode() []byte {
	return h.AppendTo(make([]byte, 0, HeaderSize))
}

// DecodeHeader decodes a header from exactly HeaderSize bytes. It does not
// check the validity of the fields, see Header.Valid.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, cerrors.ErrBASPInvalidHeader.GenWithStackByArgs(
			fmt.Sprintf("header has %d bytes", len(buf)))
	}
	if buf[1] != 0 || buf[2] != 0 {
		return Header{}, cerrors.ErrBASPInvalidHeader.GenWithStackByArgs("non-zero padding")
	}
	return Header{
		Type:          MessageType(buf[0]),
		Flags:         buf[3],
		PayloadLen:    binary.BigEndian.Uint32(buf[4:8]),
		OperationData: binary.BigEndian.Uint64(buf[8:16]),
		SourceActor:   binary.BigEndian.Uint64(buf[16:24]),
		DestActor:     binary.BigEndian.Uint64(buf[24:32]),
	}, nil
}

// Valid checks the fields of h against its message type.
func (h *Header) Valid() bool {
	switch h.Type {
	case ServerHandshake, ClientHandshake:
		return h.OperationData != 0 && h.PayloadLen > 0 &&
			h.SourceActor == 0 && h.DestActor == 0
	case DirectMessage, RoutedMessage:
		return h.DestActor != 0 && h.PayloadLen > 0
	case ProxyCreation:
		return h.DestActor != 0 && h.PayloadLen > 0
	case ProxyDestruction:
		return h.SourceActor != 0 && h.PayloadLen > 0
	case Heartbeat:
		return h.Flags == 0 && h.PayloadLen == 0 && h.OperationData == 0 &&
			h.SourceActor == 0 && h.DestActor == 0
	default:
		return false
	}
}

func (h Header) String() string {
	return fmt.Sprintf("Header{type: %s, flags: %d, payload_len: %d, operation_data: %d, src: %d, dst: %d}",
		h.Type, h.Flags, h.PayloadLen, h.OperationData, h.SourceActor, h.DestActor)
}
