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

// Package actor provides an actor system. Actors are polled by the workers
// of a scheduler.Coordinator and may live on remote nodes, in which case
// they are represented by proxies.
//
// The following diagram shows how a message reaches a local actor.
//
//	,---.          ,-------.          ,-----------.          ,-----.
//	|Ref|          |Mailbox|          |Coordinator|          |Actor|
//	`-+-'          `---+---'          `-----+-----'          `--+--'
//	  |  Enqueue(msg)  |                    |                   |
//	  |--------------->|                    |                   |
//	  |                |                    |                   |
//	  | unblocked_reader                    |                   |
//	  |<---------------|                    |                   |
//	  |                |                    |                   |
//	  |        Exec(localActor)             |                   |
//	  |------------------------------------>|                   |
//	  |                |                    |                   |
//	  |                |   TryDequeue       |                   |
//	  |                |<-------------------|                   |
//	  |                |                    |                   |
//	  |                |                    |  Poll(ctx, msgs)  |
//	  |                |                    |------------------>|
//	  |                |                    |                   |
//	  |                |   TryBlock         |                   |
//	  |                |<-------------------|                   |
//	,-+-.          ,---+---.          ,-----+-----.          ,--+--.
//	|Ref|          |Mailbox|          |Coordinator|          |Actor|
//	`---'          `-------'          `-----------'          `-----'
//
// Only the enqueue that unblocks the mailbox schedules the actor, and the
// actor stays scheduled until TryBlock succeeds on an empty mailbox, so an
// actor is never polled concurrently.
//
// Control blocks of actors and proxies live in an arena and are addressed
// by generation-checked handles. They are released by an explicit
// teardown: a terminating actor closes its mailbox, bounces pending
// requests, notifies its monitors and links, then frees its slot. Refs to
// a freed slot are stale.
package actor
