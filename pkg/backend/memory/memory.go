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

// Package memory provides an in-process implementation of the backend
// client. It routes messages between producers and consumers through
// per-consumer mailboxes and keeps no history: a message published while no
// consumer is attached to the topic is dropped. It is intended for tests
// and single-node local runs.
package memory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/turtacn/mqbridge-go/pkg/actor"
	"github.com/turtacn/mqbridge-go/pkg/backend"
)

// mailboxSize bounds the number of undelivered messages per consumer.
// Producers drop messages for consumers whose mailbox is full.
const mailboxSize = 128

// Broker is an in-process message broker implementing backend.Client.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string][]*consumer
	acked  map[backend.MessageID]bool
	seq    atomic.Int64
	closed atomic.Bool
}

// NewBroker creates an empty in-process broker.
func NewBroker() *Broker {
	return &Broker{
		subs:  make(map[string][]*consumer),
		acked: make(map[backend.MessageID]bool),
	}
}

// CreateProducer returns a producer handle bound to topic.
func (b *Broker) CreateProducer(_ context.Context, topic string) (backend.Producer, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("create producer for %q: %w", topic, backend.ErrUnavailable)
	}
	return &producer{broker: b, topic: topic}, nil
}

// CreateConsumer returns a consumer handle subscribed to topic. Every
// consumer receives every message, so the group name is ignored.
func (b *Broker) CreateConsumer(_ context.Context, topic, _ string) (backend.Consumer, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("create consumer for %q: %w", topic, backend.ErrUnavailable)
	}
	c := &consumer{broker: b, topic: topic, mb: actor.NewMailbox(mailboxSize)}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], c)
	b.mu.Unlock()
	return c, nil
}

// Close shuts the broker down. Subsequent handle creation and sends fail
// with backend.ErrUnavailable.
func (b *Broker) Close() error {
	b.closed.Store(true)
	return nil
}

// ConsumerCount returns the number of live consumers for topic.
func (b *Broker) ConsumerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Acked reports whether the message with the given ID has been acknowledged.
func (b *Broker) Acked(id backend.MessageID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.acked[id]
}

// publish fans the payload out to every consumer mailbox on the topic.
func (b *Broker) publish(topic string, payload []byte) (backend.MessageID, error) {
	if b.closed.Load() {
		return "", fmt.Errorf("publish to %q: %w", topic, backend.ErrUnavailable)
	}
	id := backend.MessageID(fmt.Sprintf("%s:%d", topic, b.seq.Add(1)))
	msg := &backend.Message{ID: id, Topic: topic, Payload: payload}

	b.mu.RLock()
	consumers := b.subs[topic]
	b.mu.RUnlock()

	for _, c := range consumers {
		if !c.mb.TrySend(msg) {
			log.Printf("memory broker: consumer mailbox full, dropping message on %s", topic)
		}
	}
	return id, nil
}

func (b *Broker) recordAck(id backend.MessageID) {
	b.mu.Lock()
	b.acked[id] = true
	b.mu.Unlock()
}

func (b *Broker) removeConsumer(c *consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[c.topic]
	for i, existing := range list {
		if existing == c {
			b.subs[c.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[c.topic]) == 0 {
		delete(b.subs, c.topic)
	}
}

type producer struct {
	broker *Broker
	topic  string
	closed atomic.Bool
}

func (p *producer) Send(_ context.Context, payload []byte) (backend.MessageID, error) {
	if p.closed.Load() {
		return "", fmt.Errorf("producer for %q closed: %w", p.topic, backend.ErrUnavailable)
	}
	return p.broker.publish(p.topic, payload)
}

func (p *producer) SendAsync(payload []byte, callback func(backend.MessageID, error)) {
	go func() {
		id, err := p.Send(context.Background(), payload)
		callback(id, err)
	}()
}

func (p *producer) Close() error {
	p.closed.Store(true)
	return nil
}

type consumer struct {
	broker *Broker
	topic  string
	mb     *actor.Mailbox
	closed atomic.Bool
}

func (c *consumer) Receive(ctx context.Context) (*backend.Message, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("consumer for %q closed: %w", c.topic, backend.ErrUnavailable)
	}
	msg, err := c.mb.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return msg.(*backend.Message), nil
}

func (c *consumer) Ack(_ context.Context, id backend.MessageID) error {
	if c.closed.Load() {
		return fmt.Errorf("consumer for %q closed: %w", c.topic, backend.ErrUnavailable)
	}
	c.broker.recordAck(id)
	return nil
}

func (c *consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.broker.removeConsumer(c)
	return nil
}
