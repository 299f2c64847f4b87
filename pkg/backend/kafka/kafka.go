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

// Package kafka implements the backend client on top of Apache Kafka.
// Producers use a synchronous Sarama producer per topic; consumers use a
// consumer group per (session, topic) binding so that acknowledgements map
// to offset commits and unacknowledged messages are redelivered when a
// consumer is recreated.
package kafka

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"github.com/turtacn/mqbridge-go/pkg/backend"
)

// Config holds the settings needed to reach the Kafka cluster.
type Config struct {
	Brokers []string
	// GroupPrefix is prepended to the caller's group name to form the
	// consumer group ID of each consumer handle.
	GroupPrefix string
	// Version is the Kafka protocol version, e.g. "3.6.0". Empty selects
	// the Sarama default.
	Version  string
	ClientID string
}

// Client implements backend.Client for Kafka.
type Client struct {
	cfg    Config
	sarama *sarama.Config
}

// NewClient validates cfg and prepares a Sarama configuration. No network
// connection is made until a producer or consumer is created.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	if sc.ClientID == "" {
		sc.ClientID = "mqbridge-go"
	}
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", cfg.Version, err)
		}
		sc.Version = v
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest

	return &Client{cfg: cfg, sarama: sc}, nil
}

// CreateProducer opens a synchronous producer bound to topic.
func (c *Client) CreateProducer(_ context.Context, topic string) (backend.Producer, error) {
	sp, err := sarama.NewSyncProducer(c.cfg.Brokers, c.sarama)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer for %q: %w: %v", topic, backend.ErrUnavailable, err)
	}
	return &producer{topic: topic, sp: sp}, nil
}

// CreateConsumer joins the consumer group named by group (prefixed per
// the client config) and starts the claim loop in the background. Two
// handles with distinct groups both receive every message on the topic.
func (c *Client) CreateConsumer(_ context.Context, topic, group string) (backend.Consumer, error) {
	cg, err := sarama.NewConsumerGroup(c.cfg.Brokers, groupID(c.cfg.GroupPrefix, group), c.sarama)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer for %q: %w: %v", topic, backend.ErrUnavailable, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	cons := &consumer{
		topic:   topic,
		group:   cg,
		cancel:  cancel,
		msgs:    make(chan *inflight, 64),
		pending: make(map[backend.MessageID]*inflight),
	}
	go cons.consumeLoop(loopCtx)
	return cons, nil
}

// Close is a no-op: the client holds no connection of its own; producers
// and consumers own their connections.
func (c *Client) Close() error {
	return nil
}

type producer struct {
	topic string
	sp    sarama.SyncProducer
}

func (p *producer) Send(_ context.Context, payload []byte) (backend.MessageID, error) {
	partition, offset, err := p.sp.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return "", fmt.Errorf("send to kafka topic %q: %w: %v", p.topic, backend.ErrUnavailable, err)
	}
	return messageID(p.topic, partition, offset), nil
}

func (p *producer) SendAsync(payload []byte, callback func(backend.MessageID, error)) {
	go func() {
		id, err := p.Send(context.Background(), payload)
		callback(id, err)
	}()
}

func (p *producer) Close() error {
	return p.sp.Close()
}

// inflight pairs a received message with the commit that acknowledges it.
type inflight struct {
	msg *backend.Message
	ack func()
}

type consumer struct {
	topic  string
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	msgs   chan *inflight

	mu      sync.Mutex
	pending map[backend.MessageID]*inflight
	closed  bool
}

// consumeLoop keeps the consumer group session alive until the consumer is
// closed. Consume returns on every rebalance and must be called again.
func (c *consumer) consumeLoop(ctx context.Context) {
	handler := &claimHandler{ctx: ctx, out: c.msgs, topic: c.topic}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			log.Printf("kafka consumer for %s: consume error: %v", c.topic, err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *consumer) Receive(ctx context.Context) (*backend.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case inf, ok := <-c.msgs:
		if !ok {
			return nil, fmt.Errorf("kafka consumer for %q closed: %w", c.topic, backend.ErrUnavailable)
		}
		c.mu.Lock()
		c.pending[inf.msg.ID] = inf
		c.mu.Unlock()
		return inf.msg, nil
	}
}

func (c *consumer) Ack(_ context.Context, id backend.MessageID) error {
	c.mu.Lock()
	inf, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("kafka consumer for %q: unknown message id %s", c.topic, id)
	}
	inf.ack()
	return nil
}

func (c *consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	return c.group.Close()
}

// claimHandler adapts the Sarama consumer group callbacks to the consumer's
// message channel. Offsets are marked only when the bridge acknowledges.
type claimHandler struct {
	ctx   context.Context
	out   chan<- *inflight
	topic string
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-h.ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			inf := &inflight{
				msg: &backend.Message{
					ID:      messageID(msg.Topic, msg.Partition, msg.Offset),
					Topic:   msg.Topic,
					Payload: msg.Value,
				},
				ack: func() { sess.MarkMessage(msg, "") },
			}
			select {
			case <-h.ctx.Done():
				return nil
			case h.out <- inf:
			}
		}
	}
}

func messageID(topic string, partition int32, offset int64) backend.MessageID {
	return backend.MessageID(fmt.Sprintf("%s/%d/%d", topic, partition, offset))
}

// groupID builds a consumer group ID from the configured prefix and the
// caller's group name, mapping characters Kafka tooling chokes on to
// dots.
func groupID(prefix, group string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(group))
	b.WriteString(prefix)
	for _, r := range group {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('.')
		}
	}
	return b.String()
}
