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
	"testing"
	"time"

	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/io/network"
	"github.com/pingcap/tiactor/pkg/node"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testMaxPayload = 1 << 20

type sentFrame struct {
	hdl     network.ConnectionHandle
	hdr     Header
	payload []byte
}

type mockCallee struct {
	mock.Mock
	frames []sentFrame
}

func (c *mockCallee) Write(hdl network.ConnectionHandle, frame []byte) {
	hdr, err := DecodeHeader(frame[:HeaderSize])
	if err != nil {
		panic(err)
	}
	c.frames = append(c.frames, sentFrame{
		hdl:     hdl,
		hdr:     hdr,
		payload: append([]byte(nil), frame[HeaderSize:]...),
	})
}

func (c *mockCallee) Deliver(lastHop node.ID, hdr *Header, src message.Addr, content []byte) {
	c.Called(lastHop, *hdr, src, append([]byte(nil), content...))
}

func (c *mockCallee) LearnedNewNodeDirectly(nid node.ID, wasIndirect bool) {
	c.Called(nid, wasIndirect)
}

func (c *mockCallee) LearnedNewNodeIndirectly(nid node.ID) {
	c.Called(nid)
}

func (c *mockCallee) ProxyAnnounced(nid node.ID, aid uint64) {
	c.Called(nid, aid)
}

func (c *mockCallee) KillProxy(nid node.ID, aid uint64, reason message.ExitReason) {
	c.Called(nid, aid, reason)
}

func (c *mockCallee) takeFrames() []sentFrame {
	frames := c.frames
	c.frames = nil
	return frames
}

func newTestInstance(b byte) (*Instance, *mockCallee) {
	c := &mockCallee{}
	inst := NewInstance(testNode(b), []string{"tiactor"}, message.MsgpackCodec{}, c, testMaxPayload)
	return inst, c
}

// feed passes one frame through the state machine the way a connection
// would, header first.
func feed(t *testing.T, inst *Instance, ctx *EndpointContext, hdr Header, payload []byte) (ConnectionState, error) {
	hdr.PayloadLen = uint32(len(payload))
	state, err := inst.Handle(ctx, hdr.Encode())
	if err != nil || len(payload) == 0 {
		return state, err
	}
	require.True(t, state.awaitsPayload(), state.String())
	require.Equal(t, len(payload), ctx.NextReadSize())
	return inst.Handle(ctx, payload)
}

// accept runs the accepting side of a handshake with peer on hdl.
func accept(t *testing.T, inst *Instance, c *mockCallee, hdl network.ConnectionHandle, peer node.ID) *EndpointContext {
	ctx := NewEndpointContext(hdl, false, time.Now())
	c.On("LearnedNewNodeDirectly", peer, mock.Anything).Once()
	p := ClientHandshakePayload{Node: peer, AppIDs: []string{"tiactor"}}
	state, err := feed(t, inst, ctx, Header{Type: ClientHandshake, OperationData: Version}, p.Encode())
	require.Nil(t, err)
	require.Equal(t, AwaitHeader, state)
	c.takeFrames()
	return ctx
}

func TestAcceptorHandshake(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	inst.AddPublished(5000, 42, []string{"echo"})
	ctx := NewEndpointContext(1, false, time.Now())
	ctx.LocalPort = 5000
	require.Equal(t, HeaderSize, ctx.NextReadSize())
	peer := testNode(2)

	payload := (&ClientHandshakePayload{Node: peer, AppIDs: []string{"other", "tiactor"}}).Encode()
	hdr := Header{Type: ClientHandshake, OperationData: Version, PayloadLen: uint32(len(payload))}
	state, err := inst.Handle(ctx, hdr.Encode())
	require.Nil(t, err)
	require.Equal(t, AwaitHandshakePayload, state)
	require.Equal(t, AwaitHandshakePayload, ctx.State)
	require.False(t, ctx.HandshakeDone())

	c.On("LearnedNewNodeDirectly", peer, false).Once()
	state, err = inst.Handle(ctx, payload)
	require.Nil(t, err)
	require.Equal(t, AwaitHeader, state)
	require.True(t, ctx.HandshakeDone())
	require.Equal(t, peer, ctx.ID)
	hdl, ok := inst.Table().LookupDirect(peer)
	require.True(t, ok)
	require.Equal(t, network.ConnectionHandle(1), hdl)

	frames := c.takeFrames()
	require.Len(t, frames, 1)
	require.Equal(t, ServerHandshake, frames[0].hdr.Type)
	require.Equal(t, Version, frames[0].hdr.Version())
	var sh ServerHandshakePayload
	require.Nil(t, sh.Decode(frames[0].payload))
	require.Equal(t, ServerHandshakePayload{
		Node:      testNode(1),
		AppIDs:    []string{"tiactor"},
		ActorID:   42,
		Interface: []string{"echo"},
	}, sh)
	c.AssertExpectations(t)
}

func TestVersionMismatchClosesWithoutPayload(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	ctx := NewEndpointContext(1, false, time.Now())
	hdr := Header{Type: ClientHandshake, OperationData: Version + 1, PayloadLen: 100}
	state, err := inst.Handle(ctx, hdr.Encode())
	require.True(t, cerrors.Is(err, cerrors.ErrBASPVersionMismatch), err)
	require.True(t, cerrors.IsProtocolError(err))
	require.Equal(t, CloseConnection, state)
	require.Equal(t, CloseConnection, ctx.State)
	require.Empty(t, c.takeFrames())
	c.AssertExpectations(t)
}

func TestUnexpectedMessages(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	peer := testNode(2)

	// Only a client handshake opens an incoming connection.
	for _, hdr := range []Header{
		{Type: DirectMessage, DestActor: 1, PayloadLen: 1},
		{Type: Heartbeat},
		{Type: ServerHandshake, OperationData: Version, PayloadLen: 1},
	} {
		ctx := NewEndpointContext(1, false, time.Now())
		state, err := inst.Handle(ctx, hdr.Encode())
		require.True(t, cerrors.Is(err, cerrors.ErrBASPUnexpectedMessage), hdr.String())
		require.Equal(t, CloseConnection, state)
	}

	ctx := NewEndpointContext(1, true, time.Now())
	_, err := inst.Handle(ctx, (&Header{Type: ClientHandshake, OperationData: Version, PayloadLen: 1}).Encode())
	require.True(t, cerrors.Is(err, cerrors.ErrBASPUnexpectedMessage))

	ctx = NewEndpointContext(1, false, time.Now())
	_, err = inst.Handle(ctx, (&Header{Type: MessageType(9)}).Encode())
	require.True(t, cerrors.Is(err, cerrors.ErrBASPInvalidHeader))

	ctx = accept(t, inst, c, 2, peer)
	_, err = inst.Handle(ctx, (&Header{Type: ClientHandshake, OperationData: Version, PayloadLen: 1}).Encode())
	require.True(t, cerrors.Is(err, cerrors.ErrBASPUnexpectedMessage))

	ctx.State = AwaitHeader
	_, err = inst.Handle(ctx, (&Header{Type: DirectMessage, DestActor: 1, PayloadLen: testMaxPayload + 1}).Encode())
	require.True(t, cerrors.Is(err, cerrors.ErrBASPPayloadTooLarge))

	ctx.State = AwaitHeader
	_, err = inst.Handle(ctx, make([]byte, HeaderSize-1))
	require.True(t, cerrors.Is(err, cerrors.ErrBASPInvalidHeader))
	c.AssertExpectations(t)
}

func TestConnectorHandshake(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	ctx := NewEndpointContext(3, true, time.Now())
	var (
		resolved int
		result   HandshakeResult
	)
	ctx.Callback = func(res HandshakeResult, err error) {
		require.Nil(t, err)
		resolved++
		result = res
	}

	inst.SendClientHandshake(ctx.Hdl)
	frames := c.takeFrames()
	require.Len(t, frames, 1)
	require.Equal(t, ClientHandshake, frames[0].hdr.Type)
	require.Equal(t, Version, frames[0].hdr.Version())
	var ch ClientHandshakePayload
	require.Nil(t, ch.Decode(frames[0].payload))
	require.Equal(t, testNode(1), ch.Node)

	peer := testNode(2)
	c.On("LearnedNewNodeDirectly", peer, false).Once()
	sh := ServerHandshakePayload{Node: peer, AppIDs: []string{"tiactor"}, ActorID: 42, Interface: []string{"echo"}}
	state, err := feed(t, inst, ctx, Header{Type: ServerHandshake, OperationData: Version}, sh.Encode())
	require.Nil(t, err)
	require.Equal(t, AwaitHeader, state)
	require.Equal(t, 1, resolved)
	require.Equal(t, HandshakeResult{Node: peer, ActorID: 42, Interface: []string{"echo"}}, result)
	require.Empty(t, c.takeFrames())

	ctx.Resolve(HandshakeResult{}, nil)
	require.Equal(t, 1, resolved)
	c.AssertExpectations(t)
}

func TestAppIDMismatch(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	ctx := NewEndpointContext(1, false, time.Now())
	p := ClientHandshakePayload{Node: testNode(2), AppIDs: []string{"other"}}
	state, err := feed(t, inst, ctx, Header{Type: ClientHandshake, OperationData: Version}, p.Encode())
	require.True(t, cerrors.Is(err, cerrors.ErrBASPAppIDMismatch))
	require.Equal(t, CloseConnection, state)
	require.Empty(t, c.takeFrames())
	_, ok := inst.Table().LookupDirect(testNode(2))
	require.False(t, ok)
}

func TestSelfAndRedundantConnections(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	peer := testNode(2)

	// Incoming connection from ourselves.
	ctx := NewEndpointContext(1, false, time.Now())
	p := ClientHandshakePayload{Node: testNode(1), AppIDs: []string{"tiactor"}}
	state, err := feed(t, inst, ctx, Header{Type: ClientHandshake, OperationData: Version}, p.Encode())
	require.Nil(t, err)
	require.Equal(t, CloseConnection, state)
	require.Len(t, c.takeFrames(), 1)
	_, ok := inst.Table().LookupNode(1)
	require.False(t, ok)

	// A second incoming connection from peer.
	accept(t, inst, c, 2, peer)
	ctx = NewEndpointContext(3, false, time.Now())
	p = ClientHandshakePayload{Node: peer, AppIDs: []string{"tiactor"}}
	state, err = feed(t, inst, ctx, Header{Type: ClientHandshake, OperationData: Version}, p.Encode())
	require.Nil(t, err)
	require.Equal(t, CloseConnection, state)
	hdl, ok := inst.Table().LookupDirect(peer)
	require.True(t, ok)
	require.Equal(t, network.ConnectionHandle(2), hdl)

	// Outgoing connections to ourselves and to peer resolve the callback.
	for _, nid := range []node.ID{testNode(1), peer} {
		ctx = NewEndpointContext(4, true, time.Now())
		var got node.ID
		ctx.Callback = func(res HandshakeResult, err error) {
			require.Nil(t, err)
			got = res.Node
		}
		sh := ServerHandshakePayload{Node: nid, AppIDs: []string{"tiactor"}}
		state, err = feed(t, inst, ctx, Header{Type: ServerHandshake, OperationData: Version}, sh.Encode())
		require.Nil(t, err)
		require.Equal(t, CloseConnection, state)
		require.Equal(t, nid, got)
	}
	c.AssertExpectations(t)
}

func TestDirectMessageDelivery(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	peer := testNode(2)
	ctx := accept(t, inst, c, 1, peer)

	mid := message.MakeRequestID(5, message.CategoryNormal)
	hdr := Header{Type: DirectMessage, OperationData: uint64(mid), SourceActor: 3, DestActor: 7}
	c.On("Deliver", peer, mock.MatchedBy(func(h Header) bool {
		return h.DestActor == 7 && h.MessageID() == mid
	}), message.Addr{Node: peer, ID: 3}, []byte("abc")).Once()
	state, err := feed(t, inst, ctx, hdr, []byte("abc"))
	require.Nil(t, err)
	require.Equal(t, AwaitHeader, state)

	state, err = feed(t, inst, ctx, Header{Type: Heartbeat}, nil)
	require.Nil(t, err)
	require.Equal(t, AwaitHeader, state)
	c.AssertExpectations(t)
}

func TestRoutedMessages(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	hop, next, far, unknown := testNode(2), testNode(3), testNode(4), testNode(5)
	ctx := accept(t, inst, c, 1, hop)
	accept(t, inst, c, 2, next)

	// Frames for other nodes are relayed unchanged.
	rp := RoutedPayload{Source: hop, Dest: next, Content: []byte("relay")}
	hdr := Header{Type: RoutedMessage, SourceActor: 1, DestActor: 2}
	_, err := feed(t, inst, ctx, hdr, rp.Encode())
	require.Nil(t, err)
	frames := c.takeFrames()
	require.Len(t, frames, 1)
	require.Equal(t, network.ConnectionHandle(2), frames[0].hdl)
	hdr.PayloadLen = uint32(len(rp.Encode()))
	require.Equal(t, hdr, frames[0].hdr)
	require.Equal(t, rp.Encode(), frames[0].payload)

	// The final hop learns an indirect route to the source.
	c.On("LearnedNewNodeIndirectly", far).Once()
	c.On("Deliver", hop, mock.Anything, message.Addr{Node: far, ID: 5}, []byte("hello")).Once()
	rp = RoutedPayload{Source: far, Dest: testNode(1), Content: []byte("hello")}
	_, err = feed(t, inst, ctx, Header{Type: RoutedMessage, SourceActor: 5, DestActor: 7}, rp.Encode())
	require.Nil(t, err)
	route, ok := inst.Table().Lookup(far)
	require.True(t, ok)
	require.Equal(t, Route{Hdl: 1, NextHop: hop}, route)

	// Unroutable requests are answered, other messages are dropped.
	rp = RoutedPayload{Source: far, Dest: unknown, Content: []byte("lost")}
	_, err = feed(t, inst, ctx, Header{Type: RoutedMessage, SourceActor: 5, DestActor: 8}, rp.Encode())
	require.Nil(t, err)
	require.Empty(t, c.takeFrames())

	mid := message.MakeRequestID(11, message.CategoryNormal)
	hdr = Header{Type: RoutedMessage, OperationData: uint64(mid), SourceActor: 5, DestActor: 8}
	state, err := feed(t, inst, ctx, hdr, rp.Encode())
	require.Nil(t, err)
	require.Equal(t, AwaitHeader, state)
	frames = c.takeFrames()
	require.Len(t, frames, 1)
	require.Equal(t, network.ConnectionHandle(1), frames[0].hdl)
	require.Equal(t, RoutedMessage, frames[0].hdr.Type)
	require.Equal(t, mid.ResponseID(), frames[0].hdr.MessageID())
	require.Equal(t, uint64(8), frames[0].hdr.SourceActor)
	require.Equal(t, uint64(5), frames[0].hdr.DestActor)
	var bounced RoutedPayload
	require.Nil(t, bounced.Decode(frames[0].payload))
	require.Equal(t, unknown, bounced.Source)
	require.Equal(t, far, bounced.Dest)
	content, err := message.MsgpackCodec{}.Decode(bounced.Content)
	require.Nil(t, err)
	require.True(t, content.(message.ErrorMsg).IsError(cerrors.ErrRequestReceiverDown))
	c.AssertExpectations(t)
}

func TestProxyMessages(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	peer, other := testNode(2), testNode(3)
	ctx := accept(t, inst, c, 1, peer)
	accept(t, inst, c, 2, other)

	c.On("ProxyAnnounced", peer, uint64(7)).Once()
	pp := ProxyPayload{Source: peer, Dest: testNode(1)}
	_, err := feed(t, inst, ctx, Header{Type: ProxyCreation, DestActor: 7}, pp.Encode())
	require.Nil(t, err)

	c.On("KillProxy", peer, uint64(9), message.ExitKill).Once()
	pp = ProxyPayload{Source: peer, Dest: testNode(1), Reason: message.ExitKill}
	_, err = feed(t, inst, ctx, Header{Type: ProxyDestruction, SourceActor: 9}, pp.Encode())
	require.Nil(t, err)

	pp = ProxyPayload{Source: peer, Dest: other, Reason: message.ExitNormal}
	_, err = feed(t, inst, ctx, Header{Type: ProxyDestruction, SourceActor: 9}, pp.Encode())
	require.Nil(t, err)
	frames := c.takeFrames()
	require.Len(t, frames, 1)
	require.Equal(t, network.ConnectionHandle(2), frames[0].hdl)
	require.Equal(t, ProxyDestruction, frames[0].hdr.Type)

	state, err := feed(t, inst, ctx, Header{Type: ProxyCreation, DestActor: 7}, []byte{1, 2, 3})
	require.True(t, cerrors.Is(err, cerrors.ErrBASPInvalidPayload))
	require.Equal(t, CloseConnection, state)
	c.AssertExpectations(t)
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	this, peer, far := testNode(1), testNode(2), testNode(3)
	accept(t, inst, c, 1, peer)
	require.True(t, inst.Table().AddIndirect(peer, far))
	mid := message.MakeRequestID(3, message.CategoryUrgent)

	require.Nil(t, inst.Dispatch(message.Addr{Node: this, ID: 5}, message.Addr{Node: peer, ID: 7}, mid, []byte("x")))
	require.Nil(t, inst.Dispatch(message.Addr{}, message.Addr{Node: peer, ID: 7}, 0, []byte("y")))
	frames := c.takeFrames()
	require.Len(t, frames, 2)
	require.Equal(t, Header{
		Type: DirectMessage, PayloadLen: 1, OperationData: uint64(mid), SourceActor: 5, DestActor: 7,
	}, frames[0].hdr)
	require.Equal(t, []byte("x"), frames[0].payload)
	require.Equal(t, uint64(0), frames[1].hdr.SourceActor)
	require.Equal(t, DirectMessage, frames[1].hdr.Type)

	// Remote senders and non-adjacent nodes need routed messages.
	require.Nil(t, inst.Dispatch(message.Addr{Node: far, ID: 4}, message.Addr{Node: peer, ID: 7}, 0, []byte("z")))
	require.Nil(t, inst.Dispatch(message.Addr{Node: this, ID: 5}, message.Addr{Node: far, ID: 6}, 0, []byte("w")))
	frames = c.takeFrames()
	require.Len(t, frames, 2)
	var rp RoutedPayload
	require.Equal(t, RoutedMessage, frames[0].hdr.Type)
	require.Nil(t, rp.Decode(frames[0].payload))
	require.Equal(t, RoutedPayload{Source: far, Dest: peer, Content: []byte("z")}, rp)
	require.Equal(t, RoutedMessage, frames[1].hdr.Type)
	require.Equal(t, network.ConnectionHandle(1), frames[1].hdl)
	require.Nil(t, rp.Decode(frames[1].payload))
	require.Equal(t, RoutedPayload{Source: this, Dest: far, Content: []byte("w")}, rp)

	err := inst.Dispatch(message.Addr{}, message.Addr{Node: testNode(9), ID: 1}, 0, []byte("v"))
	require.True(t, cerrors.Is(err, cerrors.ErrNoRouteToNode))
	err = inst.Dispatch(message.Addr{}, message.Addr{Node: peer, ID: 1}, 0, make([]byte, testMaxPayload+1))
	require.True(t, cerrors.Is(err, cerrors.ErrBASPPayloadTooLarge))
	require.Empty(t, c.takeFrames())
}

func TestSendNotifications(t *testing.T) {
	t.Parallel()

	inst, c := newTestInstance(1)
	peer, other := testNode(2), testNode(3)
	accept(t, inst, c, 1, peer)
	accept(t, inst, c, 2, other)

	inst.SendHeartbeats()
	frames := c.takeFrames()
	require.Len(t, frames, 2)
	for _, f := range frames {
		require.Equal(t, Header{Type: Heartbeat}, f.hdr)
		require.Empty(t, f.payload)
	}

	require.Nil(t, inst.SendProxyCreation(peer, 7))
	require.Nil(t, inst.SendProxyDestruction(other, 8, message.ExitUnknown))
	frames = c.takeFrames()
	require.Len(t, frames, 2)
	require.Equal(t, ProxyCreation, frames[0].hdr.Type)
	require.Equal(t, uint64(7), frames[0].hdr.DestActor)
	var pp ProxyPayload
	require.Nil(t, pp.Decode(frames[0].payload))
	require.Equal(t, ProxyPayload{Source: testNode(1), Dest: peer}, pp)
	require.Equal(t, ProxyDestruction, frames[1].hdr.Type)
	require.Equal(t, uint64(8), frames[1].hdr.SourceActor)
	require.Nil(t, pp.Decode(frames[1].payload))
	require.Equal(t, message.ExitUnknown, pp.Reason)

	err := inst.SendProxyCreation(testNode(9), 1)
	require.True(t, cerrors.Is(err, cerrors.ErrNoRouteToNode))
}

func TestPublishedActors(t *testing.T) {
	t.Parallel()

	inst, _ := newTestInstance(1)
	inst.AddPublished(1000, 1, nil)
	inst.AddPublished(1001, 1, nil)
	inst.AddPublished(1002, 2, []string{"x"})

	require.Empty(t, inst.RemovePublished(2, 1000))
	require.Equal(t, []uint16{1002}, inst.RemovePublished(2, 1002))
	require.ElementsMatch(t, []uint16{1000, 1001}, inst.RemovePublished(1, 0))
	_, ok := inst.Published(1000)
	require.False(t, ok)
}
