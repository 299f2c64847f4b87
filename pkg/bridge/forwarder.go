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
	"errors"
	"log"
	"sync/atomic"

	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/turtacn/mqbridge-go/pkg/backend"
	"github.com/turtacn/mqbridge-go/pkg/connection"
	"github.com/turtacn/mqbridge-go/pkg/metrics"
)

// ForwarderState is the lifecycle state of a forwarder.
type ForwarderState int32

const (
	// ForwarderRunning means the loop is receiving from the backend.
	ForwarderRunning ForwarderState = iota
	// ForwarderStopped means the loop exited after cancellation.
	ForwarderStopped
	// ForwarderFailed means the loop exited on a backend receive error.
	ForwarderFailed
)

// String returns the state name.
func (s ForwarderState) String() string {
	switch s {
	case ForwarderRunning:
		return "running"
	case ForwarderStopped:
		return "stopped"
	case ForwarderFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Forwarder moves messages from one backend consumer to one client
// connection for the lifetime of a subscription. Each message is
// written to the client before it is acknowledged to the backend, so
// an interrupted forwarder leaves unacknowledged messages for
// redelivery. Forwarder implements actor.Actor and is run under a
// supervisor with a no-restart strategy: a failed forwarder stays down
// until the client subscribes again.
type Forwarder struct {
	key      ForwardKey
	topic    string
	qos      byte
	conn     connection.Conn
	consumer backend.Consumer
	state    atomic.Int32
}

// NewForwarder creates a forwarder delivering messages from consumer to
// conn. The topic is the client-facing name echoed in delivery frames;
// qos is the granted subscription level.
func NewForwarder(key ForwardKey, topic string, qos byte, conn connection.Conn, consumer backend.Consumer) *Forwarder {
	return &Forwarder{
		key:      key,
		topic:    topic,
		qos:      qos,
		conn:     conn,
		consumer: consumer,
	}
}

// State returns the forwarder's current state.
func (f *Forwarder) State() ForwarderState {
	return ForwarderState(f.state.Load())
}

// Start runs the forwarding loop until ctx is cancelled or the backend
// receive fails.
func (f *Forwarder) Start(ctx context.Context) error {
	f.state.Store(int32(ForwarderRunning))
	log.Printf("Forwarder %s started (qos %d)", f.key, f.qos)

	for {
		msg, err := f.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				f.state.Store(int32(ForwarderStopped))
				log.Printf("Forwarder %s stopped", f.key)
				return nil
			}
			f.state.Store(int32(ForwarderFailed))
			metrics.ForwarderFailuresTotal.Inc()
			log.Printf("Forwarder %s failed receiving from backend: %v", f.key, err)
			return err
		}

		// QoS 0 deliveries carry no packet identifier; QoS 1 needs a
		// nonzero one for the client's PUBACK.
		pk := &packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: f.qos},
			TopicName:   f.topic,
			Payload:     msg.Payload,
		}
		if f.qos > 0 {
			pk.PacketID = f.conn.NextPacketID()
		}
		if err := f.conn.WritePacket(pk); err != nil {
			log.Printf("Forwarder %s failed writing to client: %v", f.key, err)
		} else {
			metrics.MessagesForwardedTotal.Inc()
		}

		// Ack only after the delivery write has been issued. On ack
		// failure the backend redelivers, keeping at-least-once.
		if err := f.consumer.Ack(ctx, msg.ID); err != nil {
			if ctx.Err() != nil {
				f.state.Store(int32(ForwarderStopped))
				log.Printf("Forwarder %s stopped", f.key)
				return nil
			}
			log.Printf("Forwarder %s failed to ack message %s: %v", f.key, msg.ID, err)
		}
	}
}
