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

package network

// event is a readiness notification for one file descriptor.
type event struct {
	fd    int
	read  bool
	write bool
	err   bool
}

// poller abstracts the readiness-wait syscall.
type poller interface {
	add(fd int, mask eventMask) error
	mod(fd int, mask eventMask) error
	del(fd int) error
	// wait blocks up to timeoutMs milliseconds, forever if negative.
	wait(events []event, timeoutMs int) (int, error)
	close() error
}
