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
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/io/basp"
	"github.com/pingcap/tiactor/pkg/io/network"
	"github.com/pingcap/tiactor/pkg/node"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// heartbeatTolerance is the number of heartbeat intervals a connection
// may stay silent.
const heartbeatTolerance = 3

type connection struct {
	stream *network.Stream
	ctx    *basp.EndpointContext
	// handshake timer, nil once the handshake completed.
	timer *scheduler.Timer
}

// broker glues streams, the BASP instance and the proxy registry
// together. Unless noted otherwise its methods run on the multiplexer
// goroutine.
type broker struct {
	sys   *actor.System
	mpx   *network.Multiplexer
	sched *scheduler.Coordinator
	clock clock.Clock
	codec message.Codec

	heartbeatInterval time.Duration
	handshakeTimeout  time.Duration

	inst  *basp.Instance
	queue *basp.MessageQueue
	hub   *basp.WorkerHub

	conns     map[network.ConnectionHandle]*connection
	acceptors map[uint16]*network.Acceptor
	heartbeat *scheduler.Timer
	stopped   bool

	// limits warnings caused by misbehaving peers, shared by BASP workers.
	warnRL *rate.Limiter
}

var (
	_ network.StreamManager = (*broker)(nil)
	_ basp.Callee           = (*broker)(nil)
	_ actor.ProxyBackend    = (*broker)(nil)
)

// doorman turns accepted sockets into BASP connections.
type doorman struct {
	b *broker
}

var _ network.AcceptorManager = doorman{}

func (d doorman) NewConnection(a *network.Acceptor, s *network.Stream) {
	if d.b.stopped {
		s.Close()
		return
	}
	log.Debug("accepted connection",
		zap.Uint16("port", a.Port()),
		zap.String("remote", s.RemoteAddr()))
	d.b.addConnection(s, 0, false, nil)
}

func (d doorman) IOFailure(a *network.Acceptor, op network.Operation, err error) {
	log.Warn("acceptor failed",
		zap.Uint16("port", a.Port()),
		zap.Stringer("op", op),
		zap.Error(err))
	d.b.closeAcceptor(a.Port())
}

func (b *broker) addConnection(s *network.Stream, remotePort uint16, outgoing bool, cb basp.HandshakeCallback) {
	ctx := basp.NewEndpointContext(s.Handle(), outgoing, b.clock.Now())
	ctx.LocalPort = s.LocalPort()
	ctx.RemotePort = remotePort
	ctx.Callback = cb
	c := &connection{stream: s, ctx: ctx}
	b.conns[s.Handle()] = c
	connectionGauge.Inc()

	hdl := s.Handle()
	c.timer = b.sched.Delay(b.handshakeTimeout, scheduler.FuncResumable(func() {
		_ = b.mpx.Dispatch(func() { b.handshakeExpired(hdl) })
	}))
	s.Configure(network.ExactlyPolicy(ctx.NextReadSize()))
	s.Start(b)
	if outgoing {
		b.inst.SendClientHandshake(hdl)
	}
}

func (b *broker) handshakeExpired(hdl network.ConnectionHandle) {
	c, ok := b.conns[hdl]
	if !ok || c.ctx.HandshakeDone() {
		return
	}
	log.Warn("handshake timed out",
		zap.Uint64("connection", uint64(hdl)),
		zap.String("remote", c.stream.RemoteAddr()))
	b.closeConnection(c, cerrors.ErrConnectTimeout.GenWithStackByArgs(c.stream.RemoteAddr()), false)
}

// Consume implements network.StreamManager.
func (b *broker) Consume(s *network.Stream, data []byte) bool {
	c, ok := b.conns[s.Handle()]
	if !ok {
		return false
	}
	c.ctx.LastSeen = b.clock.Now()
	state, err := b.inst.Handle(c.ctx, data)
	if state == basp.CloseConnection {
		if err != nil {
			log.Warn("close connection on protocol error",
				zap.Uint64("connection", uint64(s.Handle())),
				zap.String("remote", s.RemoteAddr()),
				zap.Error(err))
		}
		b.closeConnection(c, err, true)
		return false
	}
	if c.timer != nil && c.ctx.HandshakeDone() {
		c.timer.Stop()
		c.timer = nil
	}
	s.Configure(network.ExactlyPolicy(c.ctx.NextReadSize()))
	return true
}

// DataTransferred implements network.StreamManager.
func (b *broker) DataTransferred(s *network.Stream, written, remaining int) {
	log.Debug("data transferred",
		zap.Uint64("connection", uint64(s.Handle())),
		zap.Int("written", written),
		zap.Int("remaining", remaining))
}

// IOFailure implements network.StreamManager.
func (b *broker) IOFailure(s *network.Stream, op network.Operation, err error) {
	c, ok := b.conns[s.Handle()]
	if !ok {
		return
	}
	log.Info("connection lost",
		zap.Uint64("connection", uint64(s.Handle())),
		zap.String("remote", s.RemoteAddr()),
		zap.Stringer("peer", c.ctx.ID),
		zap.Stringer("op", op),
		zap.Error(err))
	b.closeConnection(c, err, false)
}

// closeConnection drops c and every route through it. Proxies of nodes
// that became unreachable are killed.
func (b *broker) closeConnection(c *connection, cause error, graceful bool) {
	hdl := c.stream.Handle()
	if _, ok := b.conns[hdl]; !ok {
		return
	}
	delete(b.conns, hdl)
	connectionGauge.Dec()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if graceful {
		c.stream.GracefulShutdown()
	} else {
		c.stream.Close()
	}
	if cause == nil {
		cause = cerrors.ErrConnectionClosed.GenWithStackByArgs(uint64(hdl))
	}
	c.ctx.Resolve(basp.HandshakeResult{}, cause)
	b.inst.Table().Erase(hdl, b.nodeUnreachable)
}

func (b *broker) nodeUnreachable(nid node.ID) {
	unreachableNodeCounter.Inc()
	killed := b.sys.Proxies().EraseNode(nid, message.ExitRemoteLinkUnreachable)
	log.Info("node unreachable", zap.Stringer("node", nid), zap.Int("proxies", killed))
}

func (b *broker) closeAcceptor(port uint16) {
	a, ok := b.acceptors[port]
	if !ok {
		return
	}
	delete(b.acceptors, port)
	a.Close()
	if pa, ok := b.inst.Published(port); ok {
		b.inst.RemovePublished(pa.ActorID, port)
	}
}

// Write implements basp.Callee.
func (b *broker) Write(hdl network.ConnectionHandle, frame []byte) {
	c, ok := b.conns[hdl]
	if !ok {
		log.Debug("drop frame for closed connection", zap.Uint64("connection", uint64(hdl)))
		return
	}
	c.stream.Write(frame)
	c.stream.Flush()
}

// Deliver implements basp.Callee.
func (b *broker) Deliver(lastHop node.ID, hdr *basp.Header, src message.Addr, content []byte) {
	if !src.IsZero() && src.Node != b.inst.Node() {
		// Create the proxy of the sender before the message shows up.
		b.sys.Proxies().GetOrPut(src.Node, src.ID)
	}
	if _, ok := b.sys.Lookup(hdr.DestActor); !ok {
		b.unknownReceiver(hdr, src)
		return
	}
	job := &basp.Job{LastHop: lastHop, Header: *hdr, Source: src, Content: content}
	id := b.queue.NewID()
	if b.hub != nil {
		if w := b.hub.Pop(); w != nil {
			w.Launch(id, job)
			return
		}
	}
	b.queue.Push(id, b.decode(job))
}

func (b *broker) unknownReceiver(hdr *basp.Header, src message.Addr) {
	unknownReceiverCounter.Inc()
	dead := message.Addr{Node: b.inst.Node(), ID: hdr.DestActor}
	if b.warnRL.Allow() {
		log.Warn("message for unknown actor",
			zap.Stringer("receiver", dead),
			zap.Stringer("sender", src))
	}
	b.sys.Bounce(message.Message{Sender: src, ID: hdr.MessageID()}, dead)
	if src.IsZero() || src.Node == b.inst.Node() {
		return
	}
	// The bounce is already in the dispatch queue, the sender sees the
	// error before the proxy of dead goes down.
	err := b.mpx.Dispatch(func() {
		b.sendProxyDestruction(src.Node, dead.ID, message.ExitUnknown)
	})
	if err != nil {
		log.Debug("cannot announce unknown actor",
			zap.Stringer("receiver", dead), zap.Error(err))
	}
}

// decode turns a job into a delivery. It runs on a BASP worker or, with
// no idle worker, on the multiplexer goroutine.
func (b *broker) decode(job *basp.Job) func() {
	content, err := b.codec.Decode(job.Content)
	if err != nil {
		decodeFailureCounter.Inc()
		if b.warnRL.Allow() {
			log.Warn("drop undecodable message",
				zap.Stringer("sender", job.Source),
				zap.Uint64("receiver", job.Header.DestActor),
				zap.Error(err))
		}
		return nil
	}
	msg := message.Message{Sender: job.Source, ID: job.Header.MessageID(), Content: content}
	dest := message.Addr{Node: b.inst.Node(), ID: job.Header.DestActor}
	sys := b.sys
	return func() {
		ref, ok := sys.Lookup(dest.ID)
		if !ok {
			sys.Bounce(msg, dest)
			return
		}
		ref.Enqueue(msg)
	}
}

// LearnedNewNodeDirectly implements basp.Callee.
func (b *broker) LearnedNewNodeDirectly(nid node.ID, wasIndirect bool) {
	log.Info("new direct route", zap.Stringer("node", nid), zap.Bool("wasIndirect", wasIndirect))
}

// LearnedNewNodeIndirectly implements basp.Callee.
func (b *broker) LearnedNewNodeIndirectly(nid node.ID) {
	log.Info("new indirect route", zap.Stringer("node", nid))
}

// ProxyAnnounced implements basp.Callee. The peer created a proxy of a
// local actor, it learns about the termination of that actor.
func (b *broker) ProxyAnnounced(nid node.ID, aid uint64) {
	ref, ok := b.sys.Lookup(aid)
	if !ok {
		b.sendProxyDestruction(nid, aid, message.ExitUnknown)
		return
	}
	attached := b.sys.AttachFunc(ref, func(reason message.ExitReason) {
		_ = b.mpx.Dispatch(func() { b.sendProxyDestruction(nid, aid, reason) })
	})
	if !attached {
		b.sendProxyDestruction(nid, aid, message.ExitUnknown)
	}
}

// KillProxy implements basp.Callee. The kill is ordered behind the
// messages of the same peer that are still being decoded.
func (b *broker) KillProxy(nid node.ID, aid uint64, reason message.ExitReason) {
	proxies := b.sys.Proxies()
	b.queue.Push(b.queue.NewID(), func() {
		if proxies.Erase(nid, aid, reason) {
			log.Debug("proxy killed",
				zap.Stringer("actor", message.Addr{Node: nid, ID: aid}),
				zap.Stringer("reason", reason))
		}
	})
}

func (b *broker) sendProxyDestruction(nid node.ID, aid uint64, reason message.ExitReason) {
	if b.stopped {
		return
	}
	if err := b.inst.SendProxyDestruction(nid, aid, reason); err != nil {
		log.Debug("cannot announce actor termination",
			zap.Stringer("node", nid), zap.Uint64("actor", aid), zap.Error(err))
	}
}

// ForwardMessage implements actor.ProxyBackend. It is called on the
// goroutine of the sender, the content is encoded there.
func (b *broker) ForwardMessage(dest message.Addr, msg message.Message) {
	data, err := b.codec.Encode(msg.Content)
	if err != nil {
		log.Warn("cannot encode message",
			zap.Stringer("receiver", dest),
			zap.Stringer("sender", msg.Sender),
			zap.Error(err))
		b.sys.Bounce(msg, dest)
		return
	}
	err = b.mpx.Dispatch(func() {
		if b.stopped {
			b.sys.Bounce(msg, dest)
			return
		}
		if err := b.inst.Dispatch(msg.Sender, dest, msg.ID, data); err != nil {
			log.Debug("cannot send message", zap.Stringer("receiver", dest), zap.Error(err))
			b.sys.Bounce(msg, dest)
		}
	})
	if err != nil {
		b.sys.Bounce(msg, dest)
	}
}

// ProxyCreated implements actor.ProxyBackend. It may be called from any
// goroutine.
func (b *broker) ProxyCreated(addr message.Addr) {
	proxies := b.sys.Proxies()
	err := b.mpx.Dispatch(func() {
		if b.stopped {
			proxies.Erase(addr.Node, addr.ID, message.ExitRemoteLinkUnreachable)
			return
		}
		if err := b.inst.SendProxyCreation(addr.Node, addr.ID); err != nil {
			log.Debug("proxy of unreachable actor", zap.Stringer("actor", addr), zap.Error(err))
			proxies.Erase(addr.Node, addr.ID, message.ExitRemoteLinkUnreachable)
		}
	})
	if err != nil {
		proxies.Erase(addr.Node, addr.ID, message.ExitRemoteLinkUnreachable)
	}
}

func (b *broker) scheduleHeartbeat() {
	if b.heartbeatInterval <= 0 || b.stopped {
		return
	}
	b.heartbeat = b.sched.Delay(b.heartbeatInterval, scheduler.FuncResumable(func() {
		_ = b.mpx.Dispatch(b.handleHeartbeat)
	}))
}

// handleHeartbeat closes silent connections and pings the rest.
func (b *broker) handleHeartbeat() {
	if b.stopped {
		return
	}
	now := b.clock.Now()
	limit := heartbeatTolerance * b.heartbeatInterval
	for _, c := range b.sortedConnections() {
		if !c.ctx.HandshakeDone() {
			continue
		}
		if silent := now.Sub(c.ctx.LastSeen); silent > limit {
			log.Warn("connection timed out",
				zap.Stringer("peer", c.ctx.ID),
				zap.String("remote", c.stream.RemoteAddr()),
				zap.Duration("silent", silent))
			b.closeConnection(c, cerrors.ErrConnectTimeout.GenWithStackByArgs(c.stream.RemoteAddr()), false)
		}
	}
	b.inst.SendHeartbeats()
	b.scheduleHeartbeat()
}

func (b *broker) sortedConnections() []*connection {
	conns := make([]*connection, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].stream.Handle() < conns[j].stream.Handle()
	})
	return conns
}

// shutdown closes every acceptor and shuts connections down once their
// pending frames are written. Pending handshakes fail with
// ErrMiddlemanStopped.
func (b *broker) shutdown() {
	if b.stopped {
		return
	}
	b.stopped = true
	if b.heartbeat != nil {
		b.heartbeat.Stop()
	}
	ports := make([]int, 0, len(b.acceptors))
	for port := range b.acceptors {
		ports = append(ports, int(port))
	}
	sort.Ints(ports)
	for _, port := range ports {
		b.closeAcceptor(uint16(port))
	}
	for _, c := range b.sortedConnections() {
		b.closeConnection(c, cerrors.ErrMiddlemanStopped.GenWithStackByArgs(), true)
	}
}
