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

//go:build unix && !linux

package network

import (
	"github.com/pingcap/errors"
	"golang.org/x/sys/unix"
)

// pollPoller implements poller using poll(2).
type pollPoller struct {
	fds   []unix.PollFd
	index map[int]int
}

func newPoller() (poller, error) {
	return &pollPoller{index: make(map[int]int)}, nil
}

func pollEvents(mask eventMask) int16 {
	var events int16
	if mask&maskRead != 0 {
		events |= unix.POLLIN
	}
	if mask&maskWrite != 0 {
		events |= unix.POLLOUT
	}
	return events
}

func (p *pollPoller) add(fd int, mask eventMask) error {
	if _, ok := p.index[fd]; ok {
		return errors.Errorf("fd %d is already registered", fd)
	}
	p.index[fd] = len(p.fds)
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: pollEvents(mask)})
	return nil
}

func (p *pollPoller) mod(fd int, mask eventMask) error {
	i, ok := p.index[fd]
	if !ok {
		return errors.Errorf("fd %d is not registered", fd)
	}
	p.fds[i].Events = pollEvents(mask)
	return nil
}

func (p *pollPoller) del(fd int) error {
	i, ok := p.index[fd]
	if !ok {
		return errors.Errorf("fd %d is not registered", fd)
	}
	last := len(p.fds) - 1
	if i != last {
		p.fds[i] = p.fds[last]
		p.index[int(p.fds[i].Fd)] = i
	}
	p.fds = p.fds[:last]
	delete(p.index, fd)
	return nil
}

func (p *pollPoller) wait(events []event, timeoutMs int) (int, error) {
	for i := range p.fds {
		p.fds[i].Revents = 0
	}
	if _, err := unix.Poll(p.fds, timeoutMs); err != nil {
		return 0, err
	}
	n := 0
	for _, pfd := range p.fds {
		if pfd.Revents == 0 {
			continue
		}
		if n == len(events) {
			break
		}
		events[n] = event{
			fd:    int(pfd.Fd),
			read:  pfd.Revents&unix.POLLIN != 0,
			write: pfd.Revents&unix.POLLOUT != 0,
			err:   pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0,
		}
		n++
	}
	return n, nil
}

func (p *pollPoller) close() error {
	p.fds = nil
	p.index = make(map[int]int)
	return nil
}
