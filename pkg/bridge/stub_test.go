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

package bridge

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/turtacn/mqbridge-go/pkg/backend"
)

// fakeProducer records sent payloads.
type fakeProducer struct {
	topic   string
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  atomic.Int32
}

func (p *fakeProducer) Send(ctx context.Context, payload []byte) (backend.MessageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sent = append(p.sent, payload)
	return backend.MessageID(fmt.Sprintf("%s/%d", p.topic, len(p.sent))), nil
}

func (p *fakeProducer) SendAsync(payload []byte, callback func(backend.MessageID, error)) {
	id, err := p.Send(context.Background(), payload)
	callback(id, err)
}

func (p *fakeProducer) Close() error {
	p.closed.Add(1)
	return nil
}

func (p *fakeProducer) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// fakeConsumer feeds messages and errors via channels.
type fakeConsumer struct {
	topic  string
	msgs   chan *backend.Message
	errs   chan error
	mu     sync.Mutex
	acked  []backend.MessageID
	ackErr error
	closed atomic.Int32
}

func newFakeConsumer(topic string) *fakeConsumer {
	return &fakeConsumer{
		topic: topic,
		msgs:  make(chan *backend.Message, 16),
		errs:  make(chan error, 1),
	}
}

func (c *fakeConsumer) Receive(ctx context.Context) (*backend.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-c.errs:
		return nil, err
	case msg := <-c.msgs:
		return msg, nil
	}
}

func (c *fakeConsumer) Ack(ctx context.Context, id backend.MessageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ackErr != nil {
		return c.ackErr
	}
	c.acked = append(c.acked, id)
	return nil
}

func (c *fakeConsumer) Close() error {
	c.closed.Add(1)
	return nil
}

func (c *fakeConsumer) ackedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acked)
}

// fakeClient hands out fakeProducer/fakeConsumer handles and counts
// creations.
type fakeClient struct {
	mu              sync.Mutex
	producers       map[string]*fakeProducer
	consumers       map[string]*fakeConsumer
	groups          map[string][]string
	producerCreates int
	consumerCreates int
	unavailable     bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		producers: make(map[string]*fakeProducer),
		consumers: make(map[string]*fakeConsumer),
		groups:    make(map[string][]string),
	}
}

func (f *fakeClient) CreateProducer(ctx context.Context, topic string) (backend.Producer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, backend.ErrUnavailable
	}
	f.producerCreates++
	p := &fakeProducer{topic: topic}
	f.producers[topic] = p
	return p, nil
}

func (f *fakeClient) CreateConsumer(ctx context.Context, topic, group string) (backend.Consumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, backend.ErrUnavailable
	}
	f.consumerCreates++
	c := newFakeConsumer(topic)
	f.consumers[topic] = c
	f.groups[topic] = append(f.groups[topic], group)
	return c, nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) producer(topic string) *fakeProducer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.producers[topic]
}

func (f *fakeClient) consumer(topic string) *fakeConsumer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumers[topic]
}

func (f *fakeClient) consumerGroups(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.groups[topic]...)
}

// fakeConn records the packets written to it.
type fakeConn struct {
	id       string
	mu       sync.Mutex
	written  []packets.Packet
	writeErr error
	pids     atomic.Uint32
	closed   atomic.Bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1883}
}

func (c *fakeConn) WritePacket(pk *packets.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, *pk)
	return nil
}

func (c *fakeConn) NextPacketID() uint16 {
	return uint16((c.pids.Add(1)-1)%65535) + 1
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) packets() []packets.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]packets.Packet, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) packetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

// staticAuth accepts or rejects everything.
type staticAuth struct{ allow bool }

func (a staticAuth) Allow(username string, password []byte, clientID string) bool {
	return a.allow
}

// prefixResolver scopes topics by username the way the default
// namespace pattern does.
type prefixResolver struct{}

func (prefixResolver) Resolve(username, clientID, topic string) string {
	return username + "." + topic
}
