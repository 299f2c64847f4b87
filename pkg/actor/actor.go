// Copyright 2025 The mqbridge-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package actor

import "context"

// Actor defines the interface for a long-running concurrent unit of work.
// Forwarding tasks and other background loops in the bridge implement this
// interface so they can be hosted by a supervisor.
type Actor interface {
	// Start runs the actor until it terminates or the context is cancelled.
	// The method blocks for the lifetime of the actor. It returns nil on
	// normal termination and an error on abnormal termination; the
	// supervisor uses the distinction to apply its restart strategy.
	Start(ctx context.Context) error
}

// Mailbox is a channel-based message queue. The in-process backend uses one
// mailbox per consumer as its delivery queue.
type Mailbox struct {
	messages chan any
}

// NewMailbox creates a new mailbox with the given buffer size.
// A larger size can help to avoid blocking the sender if the receiver is
// busy, but it also increases memory consumption.
func NewMailbox(size int) *Mailbox {
	return &Mailbox{
		messages: make(chan any, size),
	}
}

// Send puts a message into the mailbox. It blocks while the buffer is full.
func (mb *Mailbox) Send(msg any) {
	mb.messages <- msg
}

// TrySend puts a message into the mailbox without blocking. It reports
// whether the message was accepted; a full buffer rejects the message.
func (mb *Mailbox) TrySend(msg any) bool {
	select {
	case mb.messages <- msg:
		return true
	default:
		return false
	}
}

// Receive blocks until a message is received from the mailbox or the context
// is cancelled. If the context is cancelled, it returns nil and the
// context's error.
func (mb *Mailbox) Receive(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-mb.messages:
		return msg, nil
	}
}

// Chan returns the underlying message channel. The returned channel is
// read-only so that senders cannot bypass the mailbox.
func (mb *Mailbox) Chan() <-chan any {
	return mb.messages
}
