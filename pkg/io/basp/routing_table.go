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
	"sync"

	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/io/network"
	"github.com/pingcap/tiactor/pkg/node"
	"go.uber.org/zap"
)

// Route is the next step towards a node.
type Route struct {
	// Hdl is the connection to write to.
	Hdl network.ConnectionHandle
	// NextHop is the node at the other end of Hdl.
	NextHop node.ID
	// Direct is true if NextHop is the target itself.
	Direct bool
}

// RoutingTable keeps direct routes (a connection per node) and indirect
// routes (nodes reachable through a directly connected hop). A direct
// route always supersedes indirect ones. It is safe for concurrent use.
type RoutingTable struct {
	mu           sync.RWMutex
	directByHdl  map[network.ConnectionHandle]node.ID
	directByNode map[node.ID]network.ConnectionHandle
	// indirect maps a node to its hops in the order they were learned.
	indirect map[node.ID][]node.ID
}

// NewRoutingTable creates an empty routing table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		directByHdl:  make(map[network.ConnectionHandle]node.ID),
		directByNode: make(map[node.ID]network.ConnectionHandle),
		indirect:     make(map[node.ID][]node.ID),
	}
}

// AddDirect adds a direct route to nid through hdl.
func (t *RoutingTable) AddDirect(hdl network.ConnectionHandle, nid node.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.directByHdl[hdl]; ok && old != nid {
		log.Panic("connection is already bound to another node",
			zap.Uint64("handle", uint64(hdl)),
			zap.Stringer("node", old),
			zap.Stringer("newNode", nid))
	}
	t.directByHdl[hdl] = nid
	t.directByNode[nid] = hdl
}

// EraseDirect removes the direct route through hdl and returns the node
// it led to.
func (t *RoutingTable) EraseDirect(hdl network.ConnectionHandle) (node.ID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nid, ok := t.directByHdl[hdl]
	if !ok {
		return node.ID{}, false
	}
	delete(t.directByHdl, hdl)
	delete(t.directByNode, nid)
	return nid, true
}

// LookupDirect returns the connection to nid if it is directly connected.
func (t *RoutingTable) LookupDirect(nid node.ID) (network.ConnectionHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hdl, ok := t.directByNode[nid]
	return hdl, ok
}

// LookupNode returns the node at the other end of hdl.
func (t *RoutingTable) LookupNode(hdl network.ConnectionHandle) (node.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nid, ok := t.directByHdl[hdl]
	return nid, ok
}

// AddIndirect adds hop as a way to reach dest. It returns true if dest
// was unreachable before, i.e. neither direct nor indirect routes existed.
func (t *RoutingTable) AddIndirect(hop, dest node.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.directByNode[dest]; ok {
		return false
	}
	hops := t.indirect[dest]
	for _, h := range hops {
		if h == hop {
			return false
		}
	}
	t.indirect[dest] = append(hops, hop)
	return len(hops) == 0
}

// EraseIndirect removes all indirect routes to dest and returns true if
// there were any.
func (t *RoutingTable) EraseIndirect(dest node.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.indirect[dest]
	delete(t.indirect, dest)
	return ok
}

// Lookup returns a route to target, preferring the direct one.
func (t *RoutingTable) Lookup(target node.ID) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if hdl, ok := t.directByNode[target]; ok {
		return Route{Hdl: hdl, NextHop: target, Direct: true}, true
	}
	for _, hop := range t.indirect[target] {
		if hdl, ok := t.directByNode[hop]; ok {
			return Route{Hdl: hdl, NextHop: hop}, true
		}
	}
	return Route{}, false
}

// Erase removes the direct route through hdl and every indirect route
// using its node as hop. onUnreachable is called, after releasing the
// lock, for each node that became unreachable: first the direct peer,
// then the indirect nodes in sorted order.
func (t *RoutingTable) Erase(hdl network.ConnectionHandle, onUnreachable func(node.ID)) {
	t.mu.Lock()
	hop, ok := t.directByHdl[hdl]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.directByHdl, hdl)
	delete(t.directByNode, hop)
	lost := []node.ID{hop}
	var indirect []node.ID
	for dest, hops := range t.indirect {
		kept := hops[:0]
		for _, h := range hops {
			if h != hop {
				kept = append(kept, h)
			}
		}
		if len(kept) > 0 {
			t.indirect[dest] = kept
			continue
		}
		delete(t.indirect, dest)
		indirect = append(indirect, dest)
	}
	t.mu.Unlock()

	sortNodes(indirect)
	lost = append(lost, indirect...)
	if onUnreachable == nil {
		return
	}
	for _, nid := range lost {
		onUnreachable(nid)
	}
}

// DirectHandles returns the connections of all direct routes.
func (t *RoutingTable) DirectHandles() []network.ConnectionHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hdls := make([]network.ConnectionHandle, 0, len(t.directByHdl))
	for hdl := range t.directByHdl {
		hdls = append(hdls, hdl)
	}
	return hdls
}

// Reachable returns all nodes with a route, sorted.
func (t *RoutingTable) Reachable() []node.ID {
	t.mu.RLock()
	nodes := make([]node.ID, 0, len(t.directByNode)+len(t.indirect))
	for nid := range t.directByNode {
		nodes = append(nodes, nid)
	}
	for nid := range t.indirect {
		if _, ok := t.directByNode[nid]; !ok {
			nodes = append(nodes, nid)
		}
	}
	t.mu.RUnlock()
	sortNodes(nodes)
	return nodes
}
