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

package server

import (
	"context"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/config"
	"github.com/pingcap/tiactor/pkg/io/middleman"
	"github.com/pingcap/tiactor/pkg/node"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	schedulerName      = "actor-system"
	peerConnectTimeout = 10 * time.Second
	closeTimeout       = 5 * time.Second
)

// Server runs an actor node. It publishes an echo actor on the configured
// address and connects to the configured peers.
type Server struct {
	cfg   *config.Config
	sched *scheduler.Coordinator
	sys   *actor.System
	mm    *middleman.Middleman

	echo         actor.Ref
	port         atomic.Uint32
	statusServer *http.Server
	statusAddr   net.Addr
	eg           errgroup.Group

	peersMu sync.Mutex
	peers   map[string]node.ID

	started atomic.Bool
	closed  atomic.Bool
}

// New creates a server from cfg.
func New(cfg *config.Config) (*Server, error) {
	cfg = cfg.Clone()
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, errors.Trace(err)
	}
	sched := scheduler.NewCoordinator(schedulerName, cfg.Scheduler, nil)
	sys := actor.NewSystem(node.New(), sched)
	mm, err := middleman.New(sys, cfg.Middleman)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Server{
		cfg:   cfg,
		sched: sched,
		sys:   sys,
		mm:    mm,
		peers: make(map[string]node.ID),
	}, nil
}

// System returns the actor system of the node.
func (s *Server) System() *actor.System {
	return s.sys
}

// Middleman returns the network layer of the node.
func (s *Server) Middleman() *middleman.Middleman {
	return s.mm
}

// Port returns the port the echo actor is published on, it is only valid
// after Start.
func (s *Server) Port() uint16 {
	return uint16(s.port.Load())
}

// StatusAddr returns the address of the status server, nil if disabled.
func (s *Server) StatusAddr() net.Addr {
	return s.statusAddr
}

// Start starts the node. Peers that cannot be reached are logged and
// skipped.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.sched.Start()
	if err := s.mm.Start(); err != nil {
		return errors.Trace(err)
	}

	s.echo = s.sys.Spawn(echoActor{})
	if err := s.sys.Register(EchoName, s.echo); err != nil {
		return errors.Trace(err)
	}
	host, port, err := config.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return errors.Trace(err)
	}
	actual, err := s.mm.Publish(ctx, s.echo, host, port, true)
	if err != nil {
		return errors.Trace(err)
	}
	s.port.Store(uint32(actual))

	if s.cfg.StatusAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.StatusAddr)
		if err != nil {
			return errors.Annotatef(err, "listen status address %s", s.cfg.StatusAddr)
		}
		s.statusAddr = ln.Addr()
		s.startStatusHTTP(ln)
	}

	for _, peer := range s.cfg.Peers {
		s.connectPeer(ctx, peer)
	}
	log.Info("server started",
		zap.Stringer("node", s.sys.Node()),
		zap.String("addr", s.cfg.Addr),
		zap.Uint16("port", actual),
		zap.Int("peers", len(s.connectedPeers())))
	return nil
}

func (s *Server) connectPeer(ctx context.Context, peer string) {
	host, port, err := config.SplitHostPort(peer)
	if err != nil {
		log.Warn("invalid peer address", zap.String("peer", peer), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, peerConnectTimeout)
	defer cancel()
	nid, err := s.mm.Connect(ctx, host, port)
	if err != nil {
		log.Warn("fail to connect peer", zap.String("peer", peer), zap.Error(err))
		return
	}
	s.peersMu.Lock()
	s.peers[peer] = nid
	s.peersMu.Unlock()
	log.Info("peer connected", zap.String("peer", peer), zap.Stringer("node", nid))
}

func (s *Server) connectedPeers() []string {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	peers := make([]string, 0, len(s.peers))
	for peer := range s.peers {
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	return peers
}

// Run starts the node and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return errors.Trace(err)
	}
	<-ctx.Done()
	return nil
}

// Close stops the node. It is safe to call more than once.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.statusServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		err = multierr.Append(err, s.statusServer.Shutdown(ctx))
		cancel()
	}
	err = multierr.Append(err, s.eg.Wait())
	err = multierr.Append(err, s.mm.Stop())
	s.sys.Shutdown()
	s.sched.Stop()
	log.Info("server closed", zap.Stringer("node", s.sys.Node()), zap.Error(err))
	return errors.Trace(err)
}
