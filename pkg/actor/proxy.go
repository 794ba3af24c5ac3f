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

package actor

import (
	"sync"

	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor/message"
	"go.uber.org/zap"
)

// ProxyBackend ships messages for proxies. Both methods may be called from
// any goroutine and must not block.
type ProxyBackend interface {
	// ForwardMessage sends msg to the remote actor dest.
	ForwardMessage(dest message.Addr, msg message.Message)
	// ProxyCreated is called once for every new proxy.
	ProxyCreated(addr message.Addr)
}

// proxy stands in for a remote actor.
type proxy struct {
	sys     *System
	self    Ref
	backend ProxyBackend

	mu       sync.Mutex
	attached []attachable
	killed   bool
	reason   message.ExitReason
}

func (p *proxy) enqueue(msg message.Message) EnqueueResult {
	p.mu.Lock()
	killed := p.killed
	p.mu.Unlock()
	if killed {
		p.sys.Bounce(msg, p.self.addr)
		return EnqueueClosed
	}
	p.backend.ForwardMessage(p.self.addr, msg)
	return EnqueueSuccess
}

func (p *proxy) attach(at attachable) (bool, message.ExitReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return false, p.reason
	}
	p.attached = append(p.attached, at)
	return true, message.ExitNormal
}

func (p *proxy) detach(match func(attachable) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = detachFirst(p.attached, match)
}

// kill notifies all monitors and links synchronously, then frees the
// slot of the proxy.
func (p *proxy) kill(reason message.ExitReason) {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return
	}
	p.killed = true
	p.reason = reason
	attached := p.attached
	p.attached = nil
	p.mu.Unlock()

	for _, at := range attached {
		at.actorExited(p.self.addr, reason)
	}
	p.sys.arena.release(p.self.h)
	log.Debug("proxy killed",
		zap.Stringer("proxy", p.self),
		zap.Stringer("reason", reason),
		zap.Int("notified", len(attached)))
}
