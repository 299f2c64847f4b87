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

// Package backend defines the abstract producer and consumer handles the
// bridge uses to talk to the log-based messaging system. Implementations
// own the network transport and on-wire serialization; the bridge core
// only sends, receives and acknowledges opaque payloads.
package backend

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when a producer or consumer cannot be created
// or when the backend rejects an operation because it is unreachable.
var ErrUnavailable = errors.New("backend unavailable")

// MessageID identifies a single message within the backend for
// acknowledgement purposes. The format is implementation specific.
type MessageID string

// Message is one message received from the backend.
type Message struct {
	ID      MessageID
	Topic   string
	Payload []byte
}

// Producer is a handle for publishing payloads to one backend topic.
type Producer interface {
	// Send publishes payload and blocks until the backend has accepted it.
	Send(ctx context.Context, payload []byte) (MessageID, error)
	// SendAsync publishes payload without blocking the caller. The callback
	// is invoked exactly once with the outcome.
	SendAsync(payload []byte, callback func(MessageID, error))
	Close() error
}

// Consumer is a handle for receiving payloads from one backend topic.
type Consumer interface {
	// Receive blocks until a message is available or ctx is cancelled.
	Receive(ctx context.Context) (*Message, error)
	// Ack acknowledges a previously received message. Unacknowledged
	// messages are eligible for redelivery by the backend.
	Ack(ctx context.Context, id MessageID) error
	Close() error
}

// Client creates producer and consumer handles for backend topics.
type Client interface {
	CreateProducer(ctx context.Context, topic string) (Producer, error)
	// CreateConsumer subscribes to topic under the given group. Handles
	// created with distinct groups each receive every message on the
	// topic; implementations without group semantics may ignore it.
	CreateConsumer(ctx context.Context, topic, group string) (Consumer, error)
	Close() error
}
