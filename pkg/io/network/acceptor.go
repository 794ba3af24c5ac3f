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
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Acceptor accepts connections on a listening socket and hands them to
// its manager as unstarted streams.
type Acceptor struct {
	mpx    *Multiplexer
	sock   int
	hdl    AcceptHandle
	port   uint16
	mgr    AcceptorManager
	closed bool
}

// NewAcceptor registers the listening, non-blocking socket fd in m. The
// acceptor owns fd afterwards.
func (m *Multiplexer) NewAcceptor(fd int, port uint16) (*Acceptor, error) {
	a := &Acceptor{
		mpx:  m,
		sock: fd,
		hdl:  m.NextAcceptHandle(),
		port: port,
	}
	if err := m.register(a, 0); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Acceptor) fd() int { return a.sock }

// Handle returns the handle of a.
func (a *Acceptor) Handle() AcceptHandle { return a.hdl }

// Port returns the listening port.
func (a *Acceptor) Port() uint16 { return a.port }

// Closed returns true if a is closed.
func (a *Acceptor) Closed() bool { return a.closed }

// Start starts accepting connections.
func (a *Acceptor) Start(mgr AcceptorManager) {
	a.mgr = mgr
	if a.closed {
		return
	}
	if err := a.mpx.update(a, maskRead); err != nil {
		a.fail(OpPropagateError, err)
	}
}

// Close stops accepting and closes the listening socket.
func (a *Acceptor) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.mpx.unregister(a)
	if err := unix.Close(a.sock); err != nil {
		log.Debug("close acceptor socket failed",
			zap.Uint64("handle", uint64(a.hdl)), zap.Error(err))
	}
}

func (a *Acceptor) shutdown() { a.Close() }

func (a *Acceptor) forceClose() { a.Close() }

func (a *Acceptor) fail(op Operation, err error) {
	if a.closed {
		return
	}
	if a.mgr != nil {
		a.mgr.IOFailure(a, op, err)
	}
	a.Close()
}

func (a *Acceptor) handleEvent(op Operation) {
	if op != OpRead {
		a.fail(op, cerrors.ErrSocketIO.GenWithStackByArgs(op.String()))
		return
	}
	for i := 0; i < maxConsecutiveReads && !a.closed; i++ {
		nfd, sa, err := accept(a.sock)
		switch err {
		case nil:
		case unix.EAGAIN:
			return
		case unix.EINTR, unix.ECONNABORTED:
			continue
		default:
			a.fail(op, cerrors.WrapError(cerrors.ErrSocketIO, err, "accept"))
			return
		}
		if err := setNoDelay(nfd); err != nil {
			log.Debug("set TCP_NODELAY failed", zap.Error(err))
		}
		s, err := a.mpx.NewStream(nfd, sockaddrString(sa), a.port)
		if err != nil {
			log.Warn("register accepted connection failed", zap.Error(err))
			unix.Close(nfd)
			continue
		}
		acceptedCounter.Inc()
		a.mgr.NewConnection(a, s)
	}
}
