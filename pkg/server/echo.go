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
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/actor/message"
)

// EchoName is the name the echo actor is registered under.
const EchoName = "echo"

// echoActor answers every request with its content and sends any other
// message back to a known sender.
type echoActor struct{}

func (echoActor) Poll(ctx *actor.Context, msgs []message.Message) bool {
	for _, msg := range msgs {
		switch msg.Content.(type) {
		case message.DownMsg, message.ExitMsg, message.ErrorMsg:
			continue
		}
		if msg.ID.IsRequest() {
			echoCounter.WithLabelValues("request").Inc()
			ctx.Reply(msg, msg.Content)
			continue
		}
		sender, ok := ctx.System().Resolve(msg.Sender)
		if !ok {
			continue
		}
		echoCounter.WithLabelValues("async").Inc()
		ctx.Send(sender, msg.Content)
	}
	return true
}
