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
	"sync"
	"time"

	"github.com/edwingeng/deque"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	defaultMaxThroughput  = 300
	defaultReadBufferSize = 64 * 1024
	maxEventsPerWait      = 64
	maxConsecutiveReads   = 50
	defaultFlushTimeout   = 5 * time.Second
)

// Option customizes a Multiplexer.
type Option func(m *Multiplexer)

// WithMaxThroughput sets the throughput passed to resumables run on the
// multiplexer.
func WithMaxThroughput(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.maxThroughput = n
		}
	}
}

// WithFlushTimeout sets how long Close waits for streams to flush their
// output before closing them anyway.
func WithFlushTimeout(d time.Duration) Option {
	return func(m *Multiplexer) {
		if d > 0 {
			m.flushTimeout = d
		}
	}
}

// WithReadBufferSize sets the initial read buffer size of new streams.
func WithReadBufferSize(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.readBufferSize = n
		}
	}
}

type registration struct {
	h    eventHandler
	mask eventMask
}

// Multiplexer is a single-goroutine I/O event loop. It owns a set of
// non-blocking sockets and runs resumables dispatched from any goroutine.
//
// Everything except Dispatch, Exec, NextConnectionHandle,
// NextAcceptHandle and Close must only be called on the loop goroutine,
// i.e. from inside a dispatched function or a manager callback.
type Multiplexer struct {
	poller poller
	pipeR  int
	pipeW  int

	maxThroughput  int
	readBufferSize int
	flushTimeout   time.Duration

	// Accessed by the loop goroutine only.
	handlers map[int]*registration
	internal deque.Deque
	closing  bool

	mu         sync.Mutex
	dispatched deque.Deque
	// released is set once the pipe is closed, guarded by mu.
	released bool

	stateMu sync.Mutex
	running bool
	closed  bool

	nextHandle atomic.Uint64
	done       chan struct{}
}

// NewMultiplexer creates a multiplexer. Run must be called to start the
// event loop.
func NewMultiplexer(opts ...Option) (*Multiplexer, error) {
	p, err := newPoller()
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrSocketIO, err, "create poller")
	}
	r, w, err := newPipe()
	if err != nil {
		_ = p.close()
		return nil, cerrors.WrapError(cerrors.ErrSocketIO, err, "create pipe")
	}
	if err := p.add(r, maskRead); err != nil {
		_ = p.close()
		unix.Close(r)
		unix.Close(w)
		return nil, cerrors.WrapError(cerrors.ErrSocketIO, err, "register pipe")
	}
	m := &Multiplexer{
		poller:         p,
		pipeR:          r,
		pipeW:          w,
		maxThroughput:  defaultMaxThroughput,
		readBufferSize: defaultReadBufferSize,
		flushTimeout:   defaultFlushTimeout,
		handlers:       make(map[int]*registration),
		internal:       deque.NewDeque(),
		dispatched:     deque.NewDeque(),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NextConnectionHandle returns a fresh connection handle.
func (m *Multiplexer) NextConnectionHandle() ConnectionHandle {
	return ConnectionHandle(m.nextHandle.Inc())
}

// NextAcceptHandle returns a fresh accept handle.
func (m *Multiplexer) NextAcceptHandle() AcceptHandle {
	return AcceptHandle(m.nextHandle.Inc())
}

// Run runs the event loop on the calling goroutine until Close.
func (m *Multiplexer) Run() error {
	m.stateMu.Lock()
	if m.closed || m.running {
		m.stateMu.Unlock()
		return cerrors.ErrMultiplexerClosed.GenWithStackByArgs()
	}
	m.running = true
	m.stateMu.Unlock()

	defer close(m.done)
	defer m.release()

	events := make([]event, maxEventsPerWait)
	for {
		timeout := -1
		if !m.internal.Empty() {
			timeout = 0
		}
		n, err := m.poller.wait(events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Error("multiplexer wait failed", zap.Error(err))
			m.closeHandlers()
			return cerrors.WrapError(cerrors.ErrSocketIO, err, "wait")
		}
		for i := 0; i < n; i++ {
			if events[i].fd == m.pipeR {
				m.handleWakeup()
				continue
			}
			m.handleSocketEvent(events[i])
		}
		m.runInternal()
		if m.closing && len(m.handlers) == 0 {
			return nil
		}
	}
}

// Exec implements scheduler.ExecutionUnit. r is resumed on the loop
// goroutine. Resumables dispatched after Close are dropped.
func (m *Multiplexer) Exec(r scheduler.Resumable) {
	if err := m.dispatch(r, false); err != nil {
		log.Debug("drop resumable dispatched to a closed multiplexer")
	}
}

// Dispatch runs fn on the loop goroutine.
func (m *Multiplexer) Dispatch(fn func()) error {
	return m.dispatch(scheduler.FuncResumable(fn), false)
}

// Post queues r behind the resumables already posted on the loop. It must
// only be called on the loop goroutine, r runs after the current event
// batch has been handled.
func (m *Multiplexer) Post(r scheduler.Resumable) {
	m.internal.PushBack(r)
}

func (m *Multiplexer) dispatch(r scheduler.Resumable, force bool) error {
	m.stateMu.Lock()
	if m.closed && !force {
		m.stateMu.Unlock()
		return cerrors.ErrMultiplexerClosed.GenWithStackByArgs()
	}
	m.stateMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return cerrors.ErrMultiplexerClosed.GenWithStackByArgs()
	}
	wasEmpty := m.dispatched.Empty()
	m.dispatched.PushBack(r)
	dispatchedCounter.Inc()
	if wasEmpty {
		m.wakeup()
	}
	return nil
}

func (m *Multiplexer) wakeup() {
	var b [1]byte
	for {
		_, err := unix.Write(m.pipeW, b[:])
		// A full pipe already guarantees a pending wakeup.
		if err == unix.EINTR {
			continue
		}
		if err != nil && err != unix.EAGAIN {
			log.Warn("multiplexer wakeup failed", zap.Error(err))
		}
		return
	}
}

func (m *Multiplexer) handleWakeup() {
	var buf [128]byte
	for {
		n, err := unix.Read(m.pipeR, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < len(buf) {
			break
		}
	}
	m.mu.Lock()
	items := make([]scheduler.Resumable, 0, m.dispatched.Len())
	for !m.dispatched.Empty() {
		items = append(items, m.dispatched.PopFront().(scheduler.Resumable))
	}
	m.mu.Unlock()
	for _, r := range items {
		m.resume(r)
	}
}

func (m *Multiplexer) runInternal() {
	// Resumables re-posted during this pass wait for the next one.
	n := m.internal.Len()
	for i := 0; i < n; i++ {
		r := m.internal.PopFront().(scheduler.Resumable)
		m.resume(r)
	}
}

func (m *Multiplexer) resume(r scheduler.Resumable) {
	res := func() (res scheduler.ResumeResult) {
		defer func() {
			if v := recover(); v != nil {
				log.Error("resumable panicked on multiplexer",
					zap.Any("panic", v), zap.Stack("stack"))
				res = scheduler.ShutdownExecutionUnit
			}
		}()
		return r.Resume(m, m.maxThroughput)
	}()
	if res == scheduler.ResumeLater {
		m.internal.PushBack(r)
	}
}

func (m *Multiplexer) handleSocketEvent(ev event) {
	reg, ok := m.handlers[ev.fd]
	if !ok {
		return
	}
	if ev.read && reg.mask&maskRead != 0 {
		reg.h.handleEvent(OpRead)
	}
	if ev.write {
		if reg, ok = m.lookup(ev.fd, reg.h); ok && reg.mask&maskWrite != 0 {
			reg.h.handleEvent(OpWrite)
		}
	}
	if ev.err {
		if reg, ok = m.lookup(ev.fd, reg.h); ok {
			reg.h.handleEvent(OpPropagateError)
		}
	}
}

func (m *Multiplexer) lookup(fd int, h eventHandler) (*registration, bool) {
	reg, ok := m.handlers[fd]
	if !ok || reg.h != h {
		return nil, false
	}
	return reg, true
}

func (m *Multiplexer) register(h eventHandler, mask eventMask) error {
	fd := h.fd()
	if err := m.poller.add(fd, mask); err != nil {
		return cerrors.WrapError(cerrors.ErrSocketIO, err, "register socket")
	}
	m.handlers[fd] = &registration{h: h, mask: mask}
	registeredSockets.Inc()
	return nil
}

// update sets the event mask of a registered handler.
func (m *Multiplexer) update(h eventHandler, mask eventMask) error {
	reg, ok := m.lookup(h.fd(), h)
	if !ok || reg.mask == mask {
		return nil
	}
	if err := m.poller.mod(h.fd(), mask); err != nil {
		return cerrors.WrapError(cerrors.ErrSocketIO, err, "modify socket")
	}
	reg.mask = mask
	return nil
}

func (m *Multiplexer) unregister(h eventHandler) {
	fd := h.fd()
	if _, ok := m.lookup(fd, h); !ok {
		return
	}
	delete(m.handlers, fd)
	registeredSockets.Dec()
	if err := m.poller.del(fd); err != nil {
		log.Warn("unregister socket failed", zap.Int("fd", fd), zap.Error(err))
	}
}

// NumHandlers returns the number of registered sockets.
func (m *Multiplexer) NumHandlers() int {
	return len(m.handlers)
}

func (m *Multiplexer) registered() []eventHandler {
	handlers := make([]eventHandler, 0, len(m.handlers))
	for _, reg := range m.handlers {
		handlers = append(handlers, reg.h)
	}
	return handlers
}

func (m *Multiplexer) closeHandlers() {
	for _, h := range m.registered() {
		h.forceClose()
	}
}

// Close stops the event loop and waits for Run to return. Acceptors are
// closed right away, streams are closed once their output is flushed.
// Streams still writing after the flush timeout are closed without
// flushing. Close is safe to call from any goroutine except the loop
// goroutine itself.
func (m *Multiplexer) Close() error {
	m.stateMu.Lock()
	if m.closed {
		m.stateMu.Unlock()
		return nil
	}
	m.closed = true
	running := m.running
	m.stateMu.Unlock()

	if !running {
		m.release()
		return nil
	}
	start := time.Now()
	_ = m.dispatch(scheduler.FuncResumable(func() {
		m.closing = true
		for _, h := range m.registered() {
			h.shutdown()
		}
	}), true)
	timer := time.NewTimer(m.flushTimeout)
	defer timer.Stop()
	select {
	case <-m.done:
	case <-timer.C:
		log.Warn("multiplexer flush timed out, close remaining sockets",
			zap.Duration("timeout", m.flushTimeout))
		_ = m.dispatch(scheduler.FuncResumable(m.closeHandlers), true)
		<-m.done
	}
	log.Debug("multiplexer closed", zap.Duration("duration", time.Since(start)))
	return nil
}

// Done is closed once Run has returned.
func (m *Multiplexer) Done() <-chan struct{} {
	return m.done
}

func (m *Multiplexer) release() {
	if err := m.poller.close(); err != nil {
		log.Warn("close poller failed", zap.Error(err))
	}
	m.mu.Lock()
	m.released = true
	unix.Close(m.pipeR)
	unix.Close(m.pipeW)
	m.mu.Unlock()
}
