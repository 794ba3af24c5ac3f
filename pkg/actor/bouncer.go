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
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/zap"
)

// Bounce handles a message that could not be delivered to dead. Requests
// are answered with a receiver down error, everything else is dropped.
func (s *System) Bounce(msg message.Message, dead message.Addr) {
	if !msg.ID.IsRequest() || msg.Sender.IsZero() {
		droppedCounter.Inc()
		return
	}
	sender, ok := s.Resolve(msg.Sender)
	if !ok {
		log.Debug("cannot bounce request, sender is unreachable",
			zap.Stringer("sender", msg.Sender),
			zap.Stringer("receiver", dead))
		droppedCounter.Inc()
		return
	}
	bouncedCounter.Inc()
	err := cerrors.ErrRequestReceiverDown.GenWithStackByArgs(dead.String())
	sender.Enqueue(message.Message{
		Sender:  dead,
		ID:      msg.ID.ResponseID(),
		Content: message.NewErrorMsg(err),
	})
}

// Reply sends content from from as the response to req. It is a no-op
// if req is not a request.
func (s *System) Reply(from message.Addr, req message.Message, content interface{}) {
	if !req.ID.IsRequest() || req.Sender.IsZero() {
		return
	}
	dest, ok := s.Resolve(req.Sender)
	if !ok {
		log.Debug("cannot reply, requester is unreachable",
			zap.Stringer("requester", req.Sender))
		return
	}
	dest.Enqueue(message.Message{Sender: from, ID: req.ID.ResponseID(), Content: content})
}
