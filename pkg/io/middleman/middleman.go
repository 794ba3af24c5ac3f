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

package middleman

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/actor/message"
	"github.com/pingcap/tiactor/pkg/config"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/io/basp"
	"github.com/pingcap/tiactor/pkg/io/network"
	"github.com/pingcap/tiactor/pkg/node"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	connectBackoffBase = 100 * time.Millisecond
	connectBackoffMax  = 2 * time.Second
)

type options struct {
	codec message.Codec
}

// Option customizes a Middleman.
type Option func(o *options)

// WithCodec sets the codec of message contents. Both sides of a
// connection must use the same codec.
func WithCodec(codec message.Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// Middleman makes the actors of a system reachable over TCP and creates
// proxies for actors on other nodes.
type Middleman struct {
	sys *actor.System
	cfg *config.MiddlemanConfig
	mpx *network.Multiplexer
	b   *broker
	eg  errgroup.Group

	started atomic.Bool
	stopped atomic.Bool
}

// New creates a middleman for sys. Timers run on the clock of the
// system's scheduler.
func New(sys *actor.System, cfg *config.MiddlemanConfig, opts ...Option) (*Middleman, error) {
	o := options{codec: message.MsgpackCodec{}}
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.Clone()
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, errors.Trace(err)
	}
	sched := sys.Scheduler()
	mpx, err := network.NewMultiplexer(
		network.WithMaxThroughput(sched.MaxThroughput()),
		network.WithReadBufferSize(cfg.ReadBufferSize))
	if err != nil {
		return nil, errors.Trace(err)
	}
	b := &broker{
		sys:               sys,
		mpx:               mpx,
		sched:             sched,
		clock:             sched.Clock(),
		codec:             o.codec,
		heartbeatInterval: cfg.HeartbeatInterval.Duration(),
		handshakeTimeout:  cfg.ConnectionTimeout.Duration(),
		queue:             basp.NewMessageQueue(),
		conns:             make(map[network.ConnectionHandle]*connection),
		acceptors:         make(map[uint16]*network.Acceptor),
		warnRL:            rate.NewLimiter(rate.Every(5*time.Second), 3 /*burst*/),
	}
	b.inst = basp.NewInstance(sys.Node(), cfg.AppIdentifiers, o.codec, b, cfg.MaxPayloadSize)
	if cfg.BASPWorkers > 0 {
		b.hub = basp.NewWorkerHub(cfg.BASPWorkers, b.queue, sched, b.decode)
	}
	return &Middleman{sys: sys, cfg: cfg, mpx: mpx, b: b}, nil
}

// Node returns the id of the local node.
func (m *Middleman) Node() node.ID {
	return m.sys.Node()
}

// Start runs the multiplexer and installs the middleman as the backend
// of the system's proxies.
func (m *Middleman) Start() error {
	if m.stopped.Load() {
		return cerrors.ErrMiddlemanStopped.GenWithStackByArgs()
	}
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}
	m.sys.Proxies().SetBackend(m.b)
	m.eg.Go(m.mpx.Run)
	if err := m.mpx.Dispatch(m.b.scheduleHeartbeat); err != nil {
		return errors.Trace(err)
	}
	log.Info("middleman started",
		zap.Stringer("node", m.sys.Node()),
		zap.Strings("appIDs", m.cfg.AppIdentifiers),
		zap.Int("workers", m.cfg.BASPWorkers),
		zap.Duration("heartbeat", m.cfg.HeartbeatInterval.Duration()),
		zap.String("max-payload-size", humanize.IBytes(uint64(m.cfg.MaxPayloadSize))))
	return nil
}

// Stop closes all connections and acceptors and stops the multiplexer.
// Proxies of remote actors are killed with ExitRemoteLinkUnreachable.
func (m *Middleman) Stop() error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	m.sys.Proxies().SetBackend(nil)
	var err error
	if m.started.Load() {
		done := make(chan struct{})
		if derr := m.mpx.Dispatch(func() {
			defer close(done)
			m.b.shutdown()
		}); derr == nil {
			<-done
		}
	}
	err = multierr.Append(err, m.mpx.Close())
	if m.started.Load() {
		err = multierr.Append(err, m.eg.Wait())
	}
	if m.b.hub != nil {
		m.b.hub.AwaitIdle()
	}
	killed := m.sys.Proxies().EraseAll(message.ExitRemoteLinkUnreachable)
	log.Info("middleman stopped",
		zap.Stringer("node", m.sys.Node()),
		zap.Int("proxies", killed),
		zap.Error(err))
	return err
}

// call runs fn on the multiplexer goroutine and waits for its result.
func (m *Middleman) call(ctx context.Context, fn func() error) error {
	if !m.started.Load() || m.stopped.Load() {
		return cerrors.ErrMiddlemanStopped.GenWithStackByArgs()
	}
	errCh := make(chan error, 1)
	if err := m.mpx.Dispatch(func() { errCh <- fn() }); err != nil {
		return cerrors.ErrMiddlemanStopped.Wrap(err).GenWithStackByArgs()
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// Publish makes ref reachable on host:port and returns the actual port.
// Port zero picks a free port, reuse sets SO_REUSEPORT on the socket.
func (m *Middleman) Publish(
	ctx context.Context, ref actor.Ref, host string, port uint16, reuse bool,
) (_ uint16, err error) {
	ctx, span := startSpan(ctx, "Middleman.Publish", trace.WithAttributes(
		attribute.String("host", host), attribute.Int("port", int(port))))
	defer func() { endSpan(span, err) }()

	if !m.started.Load() || m.stopped.Load() {
		return 0, cerrors.ErrMiddlemanStopped.GenWithStackByArgs()
	}
	if ref.IsZero() || ref.IsRemote() {
		return 0, cerrors.ErrActorNotFound.GenWithStackByArgs(ref.String())
	}
	fd, actual, err := network.ListenTCP(host, port, reuse)
	if err != nil {
		return 0, errors.Trace(err)
	}
	err = m.call(ctx, func() error {
		if _, ok := m.b.acceptors[actual]; ok {
			_ = network.CloseSocket(fd)
			return cerrors.ErrPortInUse.GenWithStackByArgs(net.JoinHostPort(host, strconv.Itoa(int(actual))))
		}
		a, err := m.mpx.NewAcceptor(fd, actual)
		if err != nil {
			_ = network.CloseSocket(fd)
			return errors.Trace(err)
		}
		m.b.acceptors[actual] = a
		m.b.inst.AddPublished(actual, ref.ID(), nil)
		a.Start(doorman{b: m.b})
		return nil
	})
	if cerrors.Is(err, cerrors.ErrMiddlemanStopped) {
		_ = network.CloseSocket(fd)
	}
	if err != nil {
		return 0, err
	}
	log.Info("actor published",
		zap.Stringer("actor", ref),
		zap.String("host", host),
		zap.Uint16("port", actual))
	return actual, nil
}

// Unpublish closes the port ref is published on, or all its ports if
// port is zero.
func (m *Middleman) Unpublish(ctx context.Context, ref actor.Ref, port uint16) error {
	return m.call(ctx, func() error {
		ports := m.b.inst.RemovePublished(ref.ID(), port)
		if len(ports) == 0 {
			return cerrors.ErrNoActorPublished.GenWithStackByArgs(fmt.Sprintf("%s on port %d", ref, port))
		}
		for _, p := range ports {
			m.b.closeAcceptor(p)
		}
		log.Info("actor unpublished", zap.Stringer("actor", ref), zap.Any("ports", ports))
		return nil
	})
}

// Connect connects to the node listening on host:port and returns its
// id. Connecting to a node that is already reachable succeeds without a
// second connection.
func (m *Middleman) Connect(ctx context.Context, host string, port uint16) (node.ID, error) {
	res, err := m.connect(ctx, host, port)
	if err != nil {
		return node.ID{}, err
	}
	return res.Node, nil
}

// RemoteActor connects to host:port and returns the actor published on
// that port.
func (m *Middleman) RemoteActor(ctx context.Context, host string, port uint16) (_ actor.Ref, err error) {
	ctx, span := startSpan(ctx, "Middleman.RemoteActor", trace.WithAttributes(
		attribute.String("host", host), attribute.Int("port", int(port))))
	defer func() { endSpan(span, err) }()

	res, err := m.connect(ctx, host, port)
	if err != nil {
		return actor.Ref{}, err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	if res.ActorID == 0 {
		return actor.Ref{}, cerrors.ErrNoActorPublished.GenWithStackByArgs(addr)
	}
	target := message.Addr{Node: res.Node, ID: res.ActorID}
	ref, ok := m.sys.Resolve(target)
	if !ok {
		return actor.Ref{}, cerrors.ErrActorNotFound.GenWithStackByArgs(target.String())
	}
	return ref, nil
}

func (m *Middleman) connect(ctx context.Context, host string, port uint16) (res basp.HandshakeResult, err error) {
	ctx, span := startSpan(ctx, "Middleman.Connect", trace.WithAttributes(
		attribute.String("host", host), attribute.Int("port", int(port))))
	defer func() { endSpan(span, err) }()

	if !m.started.Load() || m.stopped.Load() {
		return res, cerrors.ErrMiddlemanStopped.GenWithStackByArgs()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = connectBackoffBase
	bo.MaxInterval = connectBackoffMax
	bo.MaxElapsedTime = 0
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		var err error
		res, err = m.connectOnce(ctx, host, port)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		log.Info("connect failed, retrying",
			zap.String("host", host),
			zap.Uint16("port", port),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.cfg.ConnectRetries)), ctx))
	if err != nil {
		connectCounter.WithLabelValues("failure").Inc()
		return res, err
	}
	connectCounter.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.String("node", res.Node.String()))
	return res, nil
}

func (m *Middleman) connectOnce(ctx context.Context, host string, port uint16) (basp.HandshakeResult, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectionTimeout.Duration())
	fd, remote, err := network.DialTCP(dialCtx, host, port)
	cancel()
	if err != nil {
		return basp.HandshakeResult{}, err
	}
	type result struct {
		res basp.HandshakeResult
		err error
	}
	resCh := make(chan result, 1)
	err = m.mpx.Dispatch(func() {
		s, err := m.mpx.NewStream(fd, remote, 0)
		if err != nil {
			_ = network.CloseSocket(fd)
			resCh <- result{err: err}
			return
		}
		if m.b.stopped {
			s.Close()
			resCh <- result{err: cerrors.ErrMiddlemanStopped.GenWithStackByArgs()}
			return
		}
		m.b.addConnection(s, port, true, func(res basp.HandshakeResult, err error) {
			resCh <- result{res: res, err: err}
		})
	})
	if err != nil {
		_ = network.CloseSocket(fd)
		return basp.HandshakeResult{}, cerrors.ErrMiddlemanStopped.Wrap(err).GenWithStackByArgs()
	}
	select {
	case r := <-resCh:
		return r.res, r.err
	case <-ctx.Done():
		return basp.HandshakeResult{}, errors.Trace(ctx.Err())
	}
}

// retryable returns true for failures a later attempt may not hit again.
func retryable(err error) bool {
	switch {
	case cerrors.Is(err, cerrors.ErrConnectFailed),
		cerrors.Is(err, cerrors.ErrConnectTimeout),
		cerrors.Is(err, cerrors.ErrConnectionClosed):
		return true
	}
	return false
}
