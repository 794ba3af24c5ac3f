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

//go:build linux

package network

import (
	"github.com/pingcap/errors"
	"golang.org/x/sys/unix"
)

// epollPoller implements poller using epoll(7) in level-triggered mode.
type epollPoller struct {
	epfd int
	buf  []unix.EpollEvent
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &epollPoller{epfd: fd}, nil
}

func epollEvents(mask eventMask) uint32 {
	var events uint32
	if mask&maskRead != 0 {
		events |= unix.EPOLLIN
	}
	if mask&maskWrite != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func (p *epollPoller) add(fd int, mask eventMask) error {
	ev := unix.EpollEvent{Events: epollEvents(mask), Fd: int32(fd)}
	return errors.Trace(unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev))
}

func (p *epollPoller) mod(fd int, mask eventMask) error {
	ev := unix.EpollEvent{Events: epollEvents(mask), Fd: int32(fd)}
	return errors.Trace(unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev))
}

func (p *epollPoller) del(fd int) error {
	return errors.Trace(unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (p *epollPoller) wait(events []event, timeoutMs int) (int, error) {
	if cap(p.buf) < len(events) {
		p.buf = make([]unix.EpollEvent, len(events))
	}
	buf := p.buf[:len(events)]
	n, err := unix.EpollWait(p.epfd, buf, timeoutMs)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		ev := buf[i].Events
		events[i] = event{
			fd:    int(buf[i].Fd),
			read:  ev&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			write: ev&unix.EPOLLOUT != 0,
			err:   ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		}
	}
	return n, nil
}

func (p *epollPoller) close() error {
	return errors.Trace(unix.Close(p.epfd))
}
