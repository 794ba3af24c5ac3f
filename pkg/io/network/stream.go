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

import (
	"io"

	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Stream is a buffered, non-blocking byte stream registered in a
// Multiplexer. It collects incoming bytes according to its receive
// policy and writes outgoing bytes in the background.
//
// A Stream is not thread-safe: use it on the multiplexer goroutine only.
type Stream struct {
	mpx       *Multiplexer
	sock      int
	hdl       ConnectionHandle
	remote    string
	localPort uint16
	mgr       StreamManager

	policy    ReceivePolicy
	rdBuf     []byte
	collected int
	reading   bool

	// wrBuf is the buffer being written, offline collects new data
	// until the next flush.
	wrBuf     []byte
	written   int
	offline   []byte
	writing   bool
	ackWrites bool

	shutdownAfterFlush bool
	closed             bool
	mask               eventMask
}

// NewStream registers the connected, non-blocking socket fd in m. The
// stream owns fd afterwards. Reading starts with Start.
func (m *Multiplexer) NewStream(fd int, remote string, localPort uint16) (*Stream, error) {
	s := &Stream{
		mpx:       m,
		sock:      fd,
		hdl:       m.NextConnectionHandle(),
		remote:    remote,
		localPort: localPort,
		policy:    AtMostPolicy(m.readBufferSize),
	}
	s.rdBuf = make([]byte, s.policy.bufferSize())
	if err := m.register(s, 0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stream) fd() int { return s.sock }

// Handle returns the handle of s.
func (s *Stream) Handle() ConnectionHandle { return s.hdl }

// RemoteAddr returns the address of the peer.
func (s *Stream) RemoteAddr() string { return s.remote }

// LocalPort returns the local port the connection was accepted on, zero
// for outgoing connections.
func (s *Stream) LocalPort() uint16 { return s.localPort }

// Closed returns true if s is closed.
func (s *Stream) Closed() bool { return s.closed }

// Policy returns the current receive policy.
func (s *Stream) Policy() ReceivePolicy { return s.policy }

// Configure changes the receive policy. It may be called from Consume and
// affects the next chunk.
func (s *Stream) Configure(p ReceivePolicy) {
	if p.Size <= 0 {
		log.Warn("ignore invalid receive policy",
			zap.Uint64("handle", uint64(s.hdl)), zap.Stringer("policy", p))
		return
	}
	s.policy = p
	size := p.bufferSize()
	if cap(s.rdBuf) < size {
		buf := make([]byte, size)
		copy(buf, s.rdBuf[:s.collected])
		s.rdBuf = buf
		return
	}
	s.rdBuf = s.rdBuf[:size]
}

// AckWrites enables or disables DataTransferred callbacks.
func (s *Stream) AckWrites(enable bool) { s.ackWrites = enable }

// Write appends p to the write buffer. p is copied.
func (s *Stream) Write(p []byte) {
	if s.closed || s.shutdownAfterFlush {
		return
	}
	s.offline = append(s.offline, p...)
}

// PendingBytes returns the number of bytes not yet written.
func (s *Stream) PendingBytes() int {
	return len(s.wrBuf) - s.written + len(s.offline)
}

// Flush starts writing the buffered data.
func (s *Stream) Flush() {
	if s.closed || s.writing || len(s.offline) == 0 {
		return
	}
	s.swapBuffers()
	s.setMask(s.mask | maskWrite)
}

func (s *Stream) swapBuffers() {
	s.wrBuf, s.offline = s.offline, s.wrBuf[:0]
	s.written = 0
	s.writing = true
}

// Start starts reading, mgr receives all further events.
func (s *Stream) Start(mgr StreamManager) {
	s.mgr = mgr
	if s.closed {
		return
	}
	s.reading = true
	s.setMask(s.mask | maskRead)
}

// StopReading stops reading without closing the stream.
func (s *Stream) StopReading() {
	s.reading = false
	s.setMask(s.mask &^ maskRead)
}

// GracefulShutdown stops reading and closes the stream once all buffered
// data has been written.
func (s *Stream) GracefulShutdown() {
	if s.closed {
		return
	}
	s.StopReading()
	if !s.writing && len(s.offline) == 0 {
		s.Close()
		return
	}
	s.Flush()
	s.shutdownAfterFlush = true
}

// Close closes the stream immediately, discarding buffered data.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.reading = false
	s.writing = false
	s.mpx.unregister(s)
	if err := unix.Close(s.sock); err != nil {
		log.Debug("close stream socket failed",
			zap.Uint64("handle", uint64(s.hdl)), zap.Error(err))
	}
}

func (s *Stream) shutdown() { s.GracefulShutdown() }

func (s *Stream) forceClose() { s.Close() }

func (s *Stream) setMask(mask eventMask) {
	if s.closed {
		return
	}
	s.mask = mask
	if err := s.mpx.update(s, mask); err != nil {
		s.fail(OpPropagateError, err)
	}
}

func (s *Stream) fail(op Operation, err error) {
	if s.closed {
		return
	}
	if s.mgr != nil {
		s.mgr.IOFailure(s, op, err)
	}
	s.Close()
}

func (s *Stream) handleEvent(op Operation) {
	switch op {
	case OpRead:
		s.handleRead()
	case OpWrite:
		s.handleWrite()
	case OpPropagateError:
		errno, err := unix.GetsockoptInt(s.sock, unix.SOL_SOCKET, unix.SO_ERROR)
		if err == nil && errno != 0 {
			err = unix.Errno(errno)
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		s.fail(op, cerrors.WrapError(cerrors.ErrSocketIO, err, op.String()))
	}
}

func (s *Stream) handleRead() {
	for i := 0; i < maxConsecutiveReads && s.reading && !s.closed; i++ {
		n, err := unix.Read(s.sock, s.rdBuf[s.collected:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err == nil && n == 0 {
			err = io.EOF
		}
		if err != nil {
			s.fail(OpRead, cerrors.WrapError(cerrors.ErrSocketIO, err, OpRead.String()))
			return
		}
		bytesReadCounter.Add(float64(n))
		s.collected += n
		if s.collected < s.policy.threshold() {
			continue
		}
		data := s.rdBuf[:s.collected]
		s.collected = 0
		if !s.mgr.Consume(s, data) {
			s.StopReading()
		}
	}
}

func (s *Stream) handleWrite() {
	for s.writing && s.written < len(s.wrBuf) {
		n, err := unix.Write(s.sock, s.wrBuf[s.written:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			s.fail(OpWrite, cerrors.WrapError(cerrors.ErrSocketIO, err, OpWrite.String()))
			return
		}
		bytesWrittenCounter.Add(float64(n))
		s.written += n
	}
	if s.closed {
		return
	}
	written := s.written
	s.writing = false
	if len(s.offline) > 0 {
		s.swapBuffers()
	} else {
		s.wrBuf = s.wrBuf[:0]
		s.written = 0
		s.setMask(s.mask &^ maskWrite)
	}
	if s.ackWrites && s.mgr != nil {
		s.mgr.DataTransferred(s, written, s.PendingBytes())
	}
	if !s.writing && s.shutdownAfterFlush && len(s.offline) == 0 {
		s.Close()
	}
}
