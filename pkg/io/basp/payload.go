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
	"github.com/pingcap/tiactor/pkg/node"
)

// maxListLen bounds the number of strings in a decoded list.
const maxListLen = 1024

type payloadWriter struct {
	buf []byte
}

func (w *payloadWriter) node(id node.ID) {
	w.buf = id.AppendBinary(w.buf)
}

func (w *payloadWriter) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *payloadWriter) u64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *payloadWriter) str(s string) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *payloadWriter) strs(ss []string) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

func (w *payloadWriter) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// payloadReader decodes fields until the first error, which sticks.
type payloadReader struct {
	buf []byte
	err error
}

func (r *payloadReader) fail(what string) {
	if r.err == nil {
		r.err = cerrors.ErrBASPInvalidPayload.GenWithStackByArgs(what)
	}
}

func (r *payloadReader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.fail(fmt.Sprintf("truncated %s", what))
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *payloadReader) node() node.ID {
	var id node.ID
	b := r.take(node.Size, "node id")
	if b != nil {
		if err := id.UnmarshalBinary(b); err != nil {
			r.fail("node id")
		}
	}
	return id
}

func (r *payloadReader) u8() uint8 {
	b := r.take(1, "u8")
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *payloadReader) u64() uint64 {
	b := r.take(8, "u64")
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *payloadReader) u32() uint32 {
	b := r.take(4, "length")
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *payloadReader) str() string {
	n := r.u32()
	return string(r.take(int(n), "string"))
}

func (r *payloadReader) strs() []string {
	n := r.u32()
	if n > maxListLen {
		r.fail(fmt.Sprintf("list of %d strings", n))
		return nil
	}
	var ss []string
	for i := uint32(0); i < n && r.err == nil; i++ {
		ss = append(ss, r.str())
	}
	return ss
}

// rest returns the remaining bytes without copying.
func (r *payloadReader) rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf
	r.buf = nil
	return b
}

// finish fails if there are unread bytes.
func (r *payloadReader) finish() error {
	if r.err == nil && len(r.buf) != 0 {
		r.fail(fmt.Sprintf("%d trailing bytes", len(r.buf)))
	}
	return r.err
}

// ClientHandshakePayload is the payload of a client handshake.
type ClientHandshakePayload struct {
	Node   node.ID
	AppIDs []string
}

// Encode encodes p.
func (p *ClientHandshakePayload) Encode() []byte {
	w := payloadWriter{}
	w.node(p.Node)
	w.strs(p.AppIDs)
	return w.buf
}

// Decode decodes p from buf.
func (p *ClientHandshakePayload) Decode(buf []byte) error {
	r := payloadReader{buf: buf}
	p.Node = r.node()
	p.AppIDs = r.strs()
	return r.finish()
}

// ServerHandshakePayload is the payload of a server handshake.
type ServerHandshakePayload struct {
	Node   node.ID
	AppIDs []string
	// ActorID is the actor published on the accepting port, zero if none.
	ActorID   uint64
	Interface []string
}

// Encode encodes p.
func (p *ServerHandshakePayload) Encode() []byte {
	w := payloadWriter{}
	w.node(p.Node)
	w.strs(p.AppIDs)
	w.u64(p.ActorID)
	w.strs(p.Interface)
	return w.buf
}

// Decode decodes p from buf.
func (p *ServerHandshakePayload) Decode(buf []byte) error {
	r := payloadReader{buf: buf}
	p.Node = r.node()
	p.AppIDs = r.strs()
	p.ActorID = r.u64()
	p.Interface = r.strs()
	return r.finish()
}

// RoutedPayload is the payload of a routed message. Content is the
// encoded message content.
type RoutedPayload struct {
	Source  node.ID
	Dest    node.ID
	Content []byte
}

// Encode encodes p.
func (p *RoutedPayload) Encode() []byte {
	w := payloadWriter{buf: make([]byte, 0, 2*node.Size+len(p.Content))}
	w.node(p.Source)
	w.node(p.Dest)
	w.raw(p.Content)
	return w.buf
}

// Decode decodes p from buf. Content aliases buf.
func (p *RoutedPayload) Decode(buf []byte) error {
	r := payloadReader{buf: buf}
	p.Source = r.node()
	p.Dest = r.node()
	p.Content = r.rest()
	if r.err == nil && len(p.Content) == 0 {
		r.fail("empty routed content")
	}
	return r.err
}

// ProxyPayload is the payload of proxy creation and destruction messages.
// Reason is only meaningful for destruction.
type ProxyPayload struct {
	Source node.ID
	Dest   node.ID
	Reason message.ExitReason
}

// Encode encodes p.
func (p *ProxyPayload) Encode() []byte {
	w := payloadWriter{}
	w.node(p.Source)
	w.node(p.Dest)
	w.u8(uint8(p.Reason))
	return w.buf
}

// Decode decodes p from buf.
func (p *ProxyPayload) Decode(buf []byte) error {
	r := payloadReader{buf: buf}
	p.Source = r.node()
	p.Dest = r.node()
	p.Reason = message.ExitReason(r.u8())
	return r.finish()
}

// peekRouting decodes the source and destination nodes that prefix the
// payloads of routed and proxy messages.
func peekRouting(buf []byte) (src, dst node.ID, err error) {
	r := payloadReader{buf: buf}
	src = r.node()
	dst = r.node()
	return src, dst, r.err
}
