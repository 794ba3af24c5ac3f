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
	"github.com/pingcap/tiactor/pkg/actor/message"
)

// attachable is notified when an actor or proxy terminates.
type attachable interface {
	actorExited(source message.Addr, reason message.ExitReason)
}

// monitor sends a DownMsg to its watcher.
type monitor struct {
	watcher Ref
}

func (m monitor) actorExited(source message.Addr, reason message.ExitReason) {
	m.watcher.Enqueue(message.New(source, message.DownMsg{Source: source, Reason: reason}))
}

// link sends an urgent ExitMsg to its peer.
type link struct {
	peer Ref
}

func (l link) actorExited(source message.Addr, reason message.ExitReason) {
	l.peer.Enqueue(message.NewUrgent(source, message.ExitMsg{Source: source, Reason: reason}))
}

// funcAttachable calls a function.
type funcAttachable struct {
	fn func(reason message.ExitReason)
}

func (f *funcAttachable) actorExited(_ message.Addr, reason message.ExitReason) {
	f.fn(reason)
}

func detachFirst(list []attachable, match func(attachable) bool) []attachable {
	for i, at := range list {
		if match(at) {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// attachTo adds at to the actor or proxy behind target. If target is gone
// it returns false and the exit reason, ExitUnknown if the reason is lost.
func (s *System) attachTo(target Ref, at attachable) (bool, message.ExitReason) {
	cb, ok := s.arena.get(target.h)
	if !ok {
		return false, message.ExitUnknown
	}
	if cb.proxy != nil {
		return cb.proxy.attach(at)
	}
	return cb.local.attach(at)
}

func (s *System) detachFrom(target Ref, match func(attachable) bool) {
	cb, ok := s.arena.get(target.h)
	if !ok {
		return
	}
	if cb.proxy != nil {
		cb.proxy.detach(match)
		return
	}
	cb.local.detach(match)
}

// Monitor makes watcher receive a DownMsg once target terminates. If
// target has already terminated, the DownMsg is sent immediately.
func (s *System) Monitor(watcher, target Ref) {
	m := monitor{watcher: watcher}
	if ok, reason := s.attachTo(target, m); !ok {
		m.actorExited(target.addr, reason)
	}
}

// Demonitor removes one monitor of watcher on target.
func (s *System) Demonitor(watcher, target Ref) {
	s.detachFrom(target, func(at attachable) bool {
		m, ok := at.(monitor)
		return ok && m.watcher.addr == watcher.addr
	})
}

// Link makes each of a and b receive an ExitMsg when the other terminates.
func (s *System) Link(a, b Ref) {
	la, lb := link{peer: b}, link{peer: a}
	if ok, reason := s.attachTo(a, la); !ok {
		la.actorExited(a.addr, reason)
		return
	}
	if ok, reason := s.attachTo(b, lb); !ok {
		s.detachFrom(a, func(at attachable) bool {
			l, ok := at.(link)
			return ok && l.peer.addr == b.addr
		})
		lb.actorExited(b.addr, reason)
	}
}

// Unlink removes the link between a and b.
func (s *System) Unlink(a, b Ref) {
	s.detachFrom(a, func(at attachable) bool {
		l, ok := at.(link)
		return ok && l.peer.addr == b.addr
	})
	s.detachFrom(b, func(at attachable) bool {
		l, ok := at.(link)
		return ok && l.peer.addr == a.addr
	})
}

// AttachFunc calls fn with the exit reason once target terminates. It
// returns false without calling fn if target is already gone.
func (s *System) AttachFunc(target Ref, fn func(reason message.ExitReason)) bool {
	ok, _ := s.attachTo(target, &funcAttachable{fn: fn})
	return ok
}
