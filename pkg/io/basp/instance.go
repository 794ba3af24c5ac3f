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
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/io/network"
	"github.com/pingcap/tiactor/pkg/node"
	"go.uber.org/zap"
)

// Callee receives the events of an Instance. All methods are called on
// the goroutine driving the instance.
type Callee interface {
	// Write queues a complete frame on the connection hdl.
	Write(hdl network.ConnectionHandle, frame []byte)
	// Deliver hands over an actor message addressed to this node. content
	// aliases the receive buffer and is only valid during the call.
	Deliver(lastHop node.ID, hdr *Header, src message.Addr, content []byte)
	// LearnedNewNodeDirectly is called after a handshake added a direct
	// route to nid.
	LearnedNewNodeDirectly(nid node.ID, wasIndirect bool)
	// LearnedNewNodeIndirectly is called when a routed message revealed a
	// new node.
	LearnedNewNodeIndirectly(nid node.ID)
	// ProxyAnnounced is called when nid created a proxy for our actor aid.
	ProxyAnnounced(nid node.ID, aid uint64)
	// KillProxy is called when nid reports that its actor aid is gone.
	KillProxy(nid node.ID, aid uint64, reason message.ExitReason)
}

// PublishedActor is an actor reachable through the handshake of a port.
type PublishedActor struct {
	ActorID   uint64
	Interface []string
}

// Instance implements the BASP state machine and the routing of frames
// for one node. Except for its routing table, an Instance must only be
// used from one goroutine.
type Instance struct {
	this       node.ID
	appIDs     []string
	codec      message.Codec
	callee     Callee
	maxPayload uint32
	tbl        *RoutingTable
	published  map[uint16]PublishedActor
}

// NewInstance creates an instance for the node this.
func NewInstance(
	this node.ID, appIDs []string, codec message.Codec, callee Callee, maxPayload uint32,
) *Instance {
	return &Instance{
		this:       this,
		appIDs:     appIDs,
		codec:      codec,
		callee:     callee,
		maxPayload: maxPayload,
		tbl:        NewRoutingTable(),
		published:  make(map[uint16]PublishedActor),
	}
}

// Node returns the local node.
func (i *Instance) Node() node.ID {
	return i.this
}

// Table returns the routing table.
func (i *Instance) Table() *RoutingTable {
	return i.tbl
}

// AddPublished publishes aid on port, replacing any previous actor.
func (i *Instance) AddPublished(port uint16, aid uint64, iface []string) {
	i.published[port] = PublishedActor{ActorID: aid, Interface: iface}
}

// Published returns the actor published on port.
func (i *Instance) Published(port uint16) (PublishedActor, bool) {
	pa, ok := i.published[port]
	return pa, ok
}

// RemovePublished unpublishes aid from port, or from all its ports if
// port is zero. It returns the ports that were removed.
func (i *Instance) RemovePublished(aid uint64, port uint16) []uint16 {
	var removed []uint16
	if port != 0 {
		if pa, ok := i.published[port]; ok && pa.ActorID == aid {
			delete(i.published, port)
			removed = append(removed, port)
		}
		return removed
	}
	for p, pa := range i.published {
		if pa.ActorID == aid {
			delete(i.published, p)
			removed = append(removed, p)
		}
	}
	return removed
}

// Handle consumes the bytes requested by ctx.NextReadSize and advances
// ctx.State. It returns CloseConnection with a non-nil error on protocol
// errors and with a nil error when the connection is redundant.
func (i *Instance) Handle(ctx *EndpointContext, data []byte) (ConnectionState, error) {
	next, err := i.handle(ctx, data)
	if err != nil {
		protocolErrorCounter.Inc()
		next = CloseConnection
	}
	ctx.State = next
	return next, err
}

func (i *Instance) handle(ctx *EndpointContext, data []byte) (ConnectionState, error) {
	switch ctx.State {
	case AwaitHandshakeHeader, AwaitHeader:
		hdr, err := DecodeHeader(data)
		if err != nil {
			return CloseConnection, err
		}
		if err := i.checkHeader(ctx, &hdr); err != nil {
			return CloseConnection, err
		}
		ctx.Header = hdr
		if hdr.PayloadLen > 0 {
			if ctx.State == AwaitHandshakeHeader {
				return AwaitHandshakePayload, nil
			}
			return AwaitPayload, nil
		}
		return i.handleFrame(ctx, nil)
	case AwaitHandshakePayload, AwaitPayload:
		if len(data) != int(ctx.Header.PayloadLen) {
			return CloseConnection, cerrors.ErrBASPInvalidPayload.GenWithStackByArgs("payload size mismatch")
		}
		return i.handleFrame(ctx, data)
	default:
		return CloseConnection, cerrors.ErrBASPUnexpectedMessage.GenWithStackByArgs(
			"data", ctx.State.String())
	}
}

func (i *Instance) checkHeader(ctx *EndpointContext, hdr *Header) error {
	if !hdr.Type.Valid() {
		return cerrors.ErrBASPInvalidHeader.GenWithStackByArgs(hdr.String())
	}
	// A version mismatch is fatal before anything else is interpreted.
	if hdr.IsHandshake() && hdr.Version() != Version {
		return cerrors.ErrBASPVersionMismatch.GenWithStackByArgs(Version, hdr.Version())
	}
	if !hdr.Valid() {
		return cerrors.ErrBASPInvalidHeader.GenWithStackByArgs(hdr.String())
	}
	expected := !hdr.IsHandshake()
	if ctx.State == AwaitHandshakeHeader {
		if ctx.Outgoing {
			expected = hdr.Type == ServerHandshake
		} else {
			expected = hdr.Type == ClientHandshake
		}
	}
	if !expected {
		return cerrors.ErrBASPUnexpectedMessage.GenWithStackByArgs(hdr.Type.String(), ctx.State.String())
	}
	if hdr.PayloadLen > i.maxPayload {
		return cerrors.ErrBASPPayloadTooLarge.GenWithStackByArgs(hdr.PayloadLen, i.maxPayload)
	}
	return nil
}

func (i *Instance) handleFrame(ctx *EndpointContext, payload []byte) (ConnectionState, error) {
	hdr := ctx.Header
	receivedCounter.WithLabelValues(hdr.Type.String()).Inc()
	switch hdr.Type {
	case ClientHandshake:
		return i.handleClientHandshake(ctx, payload)
	case ServerHandshake:
		return i.handleServerHandshake(ctx, payload)
	case DirectMessage:
		src := message.Addr{Node: ctx.ID, ID: hdr.SourceActor}
		i.callee.Deliver(ctx.ID, &hdr, src, payload)
	case RoutedMessage:
		var rp RoutedPayload
		if err := rp.Decode(payload); err != nil {
			return CloseConnection, err
		}
		if rp.Dest != i.this {
			i.forward(&hdr, payload, rp.Source, rp.Dest)
			break
		}
		if !rp.Source.IsZero() && rp.Source != i.this && rp.Source != ctx.ID &&
			i.tbl.AddIndirect(ctx.ID, rp.Source) {
			log.Info("learned new node indirectly",
				zap.Stringer("node", rp.Source), zap.Stringer("hop", ctx.ID))
			i.callee.LearnedNewNodeIndirectly(rp.Source)
		}
		src := message.Addr{Node: rp.Source, ID: hdr.SourceActor}
		i.callee.Deliver(ctx.ID, &hdr, src, rp.Content)
	case ProxyCreation, ProxyDestruction:
		var pp ProxyPayload
		if err := pp.Decode(payload); err != nil {
			return CloseConnection, err
		}
		if pp.Dest != i.this {
			i.forward(&hdr, payload, pp.Source, pp.Dest)
			break
		}
		if hdr.Type == ProxyCreation {
			i.callee.ProxyAnnounced(pp.Source, hdr.DestActor)
		} else {
			i.callee.KillProxy(pp.Source, hdr.SourceActor, pp.Reason)
		}
	case Heartbeat:
	}
	return AwaitHeader, nil
}

func (i *Instance) appIDsMatch(remote []string) bool {
	for _, r := range remote {
		for _, l := range i.appIDs {
			if r == l {
				return true
			}
		}
	}
	return false
}

func (i *Instance) handleClientHandshake(ctx *EndpointContext, payload []byte) (ConnectionState, error) {
	var p ClientHandshakePayload
	if err := p.Decode(payload); err != nil {
		return CloseConnection, err
	}
	if !i.appIDsMatch(p.AppIDs) {
		return CloseConnection, cerrors.ErrBASPAppIDMismatch.GenWithStackByArgs(i.appIDs, p.AppIDs)
	}
	if p.Node.IsZero() {
		return CloseConnection, cerrors.ErrBASPInvalidPayload.GenWithStackByArgs("invalid node id")
	}
	// The peer needs our handshake even if we close, to resolve its connect.
	i.writeServerHandshake(ctx.Hdl, ctx.LocalPort)
	if p.Node == i.this {
		log.Info("close connection to self", zap.Uint64("handle", uint64(ctx.Hdl)))
		return CloseConnection, nil
	}
	if _, ok := i.tbl.LookupDirect(p.Node); ok {
		log.Info("close redundant connection",
			zap.Stringer("node", p.Node), zap.Uint64("handle", uint64(ctx.Hdl)))
		return CloseConnection, nil
	}
	i.learnDirect(ctx, p.Node)
	return AwaitHeader, nil
}

func (i *Instance) handleServerHandshake(ctx *EndpointContext, payload []byte) (ConnectionState, error) {
	var p ServerHandshakePayload
	if err := p.Decode(payload); err != nil {
		return CloseConnection, err
	}
	if !i.appIDsMatch(p.AppIDs) {
		return CloseConnection, cerrors.ErrBASPAppIDMismatch.GenWithStackByArgs(i.appIDs, p.AppIDs)
	}
	if p.Node.IsZero() {
		return CloseConnection, cerrors.ErrBASPInvalidPayload.GenWithStackByArgs("invalid node id")
	}
	res := HandshakeResult{Node: p.Node, ActorID: p.ActorID, Interface: p.Interface}
	if p.Node == i.this {
		log.Info("close connection to self", zap.Uint64("handle", uint64(ctx.Hdl)))
		ctx.Resolve(res, nil)
		return CloseConnection, nil
	}
	if _, ok := i.tbl.LookupDirect(p.Node); ok {
		log.Info("close redundant connection",
			zap.Stringer("node", p.Node), zap.Uint64("handle", uint64(ctx.Hdl)))
		ctx.Resolve(res, nil)
		return CloseConnection, nil
	}
	i.learnDirect(ctx, p.Node)
	ctx.Resolve(res, nil)
	return AwaitHeader, nil
}

func (i *Instance) learnDirect(ctx *EndpointContext, nid node.ID) {
	i.tbl.AddDirect(ctx.Hdl, nid)
	ctx.ID = nid
	wasIndirect := i.tbl.EraseIndirect(nid)
	log.Info("learned new node directly",
		zap.Stringer("node", nid),
		zap.Uint64("handle", uint64(ctx.Hdl)),
		zap.Bool("wasIndirect", wasIndirect))
	i.callee.LearnedNewNodeDirectly(nid, wasIndirect)
}

// forward relays a frame addressed to another node. Requests that cannot
// be relayed are answered with an error.
func (i *Instance) forward(hdr *Header, payload []byte, src, dst node.ID) {
	route, ok := i.tbl.Lookup(dst)
	if ok {
		i.write(route.Hdl, *hdr, payload)
		return
	}
	log.Warn("cannot forward frame, no route to destination",
		zap.Stringer("header", hdr), zap.Stringer("dest", dst))
	mid := hdr.MessageID()
	if hdr.Type != RoutedMessage || !mid.IsRequest() || hdr.SourceActor == 0 {
		return
	}
	dead := message.Addr{Node: dst, ID: hdr.DestActor}
	err := cerrors.ErrRequestReceiverDown.GenWithStackByArgs(dead.String())
	content, err := i.codec.Encode(message.NewErrorMsg(err))
	if err != nil {
		log.Warn("encode bounced request failed", zap.Error(err))
		return
	}
	if err := i.Dispatch(dead, message.Addr{Node: src, ID: hdr.SourceActor}, mid.ResponseID(), content); err != nil {
		log.Debug("cannot bounce request", zap.Error(err))
	}
}

func (i *Instance) write(hdl network.ConnectionHandle, hdr Header, payload []byte) {
	hdr.PayloadLen = uint32(len(payload))
	frame := hdr.AppendTo(make([]byte, 0, HeaderSize+len(payload)))
	frame = append(frame, payload...)
	sentCounter.WithLabelValues(hdr.Type.String()).Inc()
	i.callee.Write(hdl, frame)
}

// SendClientHandshake starts the handshake on an outgoing connection.
func (i *Instance) SendClientHandshake(hdl network.ConnectionHandle) {
	p := ClientHandshakePayload{Node: i.this, AppIDs: i.appIDs}
	i.write(hdl, Header{Type: ClientHandshake, OperationData: Version}, p.Encode())
}

func (i *Instance) writeServerHandshake(hdl network.ConnectionHandle, port uint16) {
	p := ServerHandshakePayload{Node: i.this, AppIDs: i.appIDs}
	if pa, ok := i.published[port]; ok {
		p.ActorID = pa.ActorID
		p.Interface = pa.Interface
	}
	i.write(hdl, Header{Type: ServerHandshake, OperationData: Version}, p.Encode())
}

// SendHeartbeats writes a heartbeat to every directly connected node.
func (i *Instance) SendHeartbeats() {
	for _, hdl := range i.tbl.DirectHandles() {
		i.write(hdl, Header{Type: Heartbeat}, nil)
	}
}

// SendProxyCreation tells dst that we created a proxy for its actor aid.
func (i *Instance) SendProxyCreation(dst node.ID, aid uint64) error {
	route, ok := i.tbl.Lookup(dst)
	if !ok {
		return cerrors.ErrNoRouteToNode.GenWithStackByArgs(dst.String())
	}
	p := ProxyPayload{Source: i.this, Dest: dst}
	i.write(route.Hdl, Header{Type: ProxyCreation, DestActor: aid}, p.Encode())
	return nil
}

// SendProxyDestruction tells dst that our actor aid is gone.
func (i *Instance) SendProxyDestruction(dst node.ID, aid uint64, reason message.ExitReason) error {
	route, ok := i.tbl.Lookup(dst)
	if !ok {
		return cerrors.ErrNoRouteToNode.GenWithStackByArgs(dst.String())
	}
	p := ProxyPayload{Source: i.this, Dest: dst, Reason: reason}
	i.write(route.Hdl, Header{Type: ProxyDestruction, SourceActor: aid}, p.Encode())
	return nil
}

// Dispatch sends an encoded actor message from src to the remote actor
// dst. Messages of local senders to adjacent nodes travel as direct
// messages, everything else is routed.
func (i *Instance) Dispatch(src, dst message.Addr, mid message.MessageID, content []byte) error {
	route, ok := i.tbl.Lookup(dst.Node)
	if !ok {
		return cerrors.ErrNoRouteToNode.GenWithStackByArgs(dst.Node.String())
	}
	srcNode := src.Node
	if src.IsZero() || srcNode.IsZero() {
		srcNode = i.this
	}
	hdr := Header{
		OperationData: uint64(mid),
		SourceActor:   src.ID,
		DestActor:     dst.ID,
	}
	var payload []byte
	if route.Direct && srcNode == i.this {
		hdr.Type = DirectMessage
		payload = content
	} else {
		hdr.Type = RoutedMessage
		rp := RoutedPayload{Source: srcNode, Dest: dst.Node, Content: content}
		payload = rp.Encode()
	}
	if uint64(len(payload)) > uint64(i.maxPayload) {
		return cerrors.ErrBASPPayloadTooLarge.GenWithStackByArgs(len(payload), i.maxPayload)
	}
	i.write(route.Hdl, hdr, payload)
	return nil
}
