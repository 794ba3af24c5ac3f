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
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/tiactor/pkg/actor/message"
)

// Ask sends content to dest as a request from a temporary actor and
// blocks until the response arrives or ctx is done. An error response is
// returned as a message.ErrorMsg error.
func (s *System) Ask(ctx context.Context, dest Ref, content interface{}) (interface{}, error) {
	respCh := make(chan message.Message, 1)
	self := s.Spawn(ActorFunc(func(_ *Context, msgs []message.Message) bool {
		for _, msg := range msgs {
			if msg.ID.IsResponse() {
				respCh <- msg
				return false
			}
		}
		return true
	}))
	dest.Enqueue(message.Message{Sender: self.Addr(), ID: s.NextRequestID(), Content: content})

	select {
	case resp := <-respCh:
		if e, ok := resp.Content.(message.ErrorMsg); ok {
			return nil, e
		}
		return resp.Content, nil
	case <-ctx.Done():
		s.Exit(self, message.ExitUserShutdown)
		return nil, errors.Trace(ctx.Err())
	}
}
