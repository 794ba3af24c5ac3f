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

package scheduler

// ResumeResult is the outcome of resuming a Resumable once.
type ResumeResult int

// Resume results.
const (
	// ResumeDone means the resumable has no pending work. Whoever gives it
	// new work is responsible for scheduling it again.
	ResumeDone ResumeResult = iota
	// ResumeLater means the resumable made progress and has more work.
	ResumeLater
	// ShutdownExecutionUnit means the resumable is terminal and must not
	// be resumed again.
	ShutdownExecutionUnit
)

func (r ResumeResult) String() string {
	switch r {
	case ResumeDone:
		return "done"
	case ResumeLater:
		return "resume_later"
	case ShutdownExecutionUnit:
		return "shutdown_execution_unit"
	default:
		return "unknown"
	}
}

// Resumable is a unit of cooperative work.
//
// Resume must not block. Work that cannot complete synchronously must be
// split into steps, each bounded by maxThroughput, returning ResumeLater
// in between.
type Resumable interface {
	Resume(unit ExecutionUnit, maxThroughput int) ResumeResult
}

// ExecutionUnit runs resumables. Exec is safe to call from any goroutine.
type ExecutionUnit interface {
	Exec(r Resumable)
}

// FuncResumable runs a function once.
type FuncResumable func()

// Resume implements Resumable.
func (f FuncResumable) Resume(ExecutionUnit, int) ResumeResult {
	f()
	return ResumeDone
}

// shutdownHelper stops the worker that resumes it.
type shutdownHelper struct{}

func (shutdownHelper) Resume(ExecutionUnit, int) ResumeResult {
	return ShutdownExecutionUnit
}
