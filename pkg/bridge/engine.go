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
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/turtacn/mqbridge-go/pkg/backend"
	"github.com/turtacn/mqbridge-go/pkg/connection"
	"github.com/turtacn/mqbridge-go/pkg/metrics"
	"github.com/turtacn/mqbridge-go/pkg/supervisor"
)

// Authenticator decides whether a client's credentials are acceptable.
// auth.Chain satisfies it.
type Authenticator interface {
	Allow(username string, password []byte, clientID string) bool
}

// TopicResolver maps a client-facing topic name onto a backend topic
// name. namespace.Resolver satisfies it.
type TopicResolver interface {
	Resolve(username, clientID, topic string) string
}

// Engine is the bridge session engine: one handler per MQTT operation,
// each taking the originating connection and the decoded packet.
// Handlers for different connections run concurrently; all shared state
// lives in the Registry and the engine's session attachment map.
type Engine struct {
	ctx      context.Context
	registry *Registry
	auth     Authenticator
	resolver TopicResolver
	sup      supervisor.Supervisor

	mu       sync.RWMutex
	sessions map[string]SessionKey
}

// NewEngine creates an engine. ctx bounds the lifetime of every
// forwarder the engine starts; cancelling it stops them all.
func NewEngine(ctx context.Context, registry *Registry, auth Authenticator, resolver TopicResolver) *Engine {
	return &Engine{
		ctx:      ctx,
		registry: registry,
		auth:     auth,
		resolver: resolver,
		sup:      supervisor.NewOneForOneSupervisor(),
		sessions: make(map[string]SessionKey),
	}
}

// Session returns the session attached to the connection, if any.
func (e *Engine) Session(connID string) (SessionKey, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[connID]
	return s, ok
}

// HandleConnect processes a CONNECT packet. decodeErr carries the
// decode failure for a malformed packet; the reply code depends on the
// failure category.
func (e *Engine) HandleConnect(conn connection.Conn, pk *packets.Packet, decodeErr error) {
	if decodeErr != nil {
		if code, ok := rejectCode(decodeErr); ok {
			e.refuseConnect(conn, code)
		} else {
			log.Printf("Undecodable CONNECT from %s: %v", conn.RemoteAddr(), decodeErr)
			conn.Close()
		}
		return
	}

	if v := pk.ProtocolVersion; v != 3 && v != 4 {
		log.Printf("Unsupported protocol version %d from %s", v, conn.RemoteAddr())
		e.refuseConnect(conn, packets.Err3UnsupportedProtocolVersion.Code)
		return
	}

	clientID := pk.Connect.ClientIdentifier
	username := string(pk.Connect.Username)
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(username) == "" {
		log.Printf("Rejected CONNECT with blank identity from %s", conn.RemoteAddr())
		e.refuseConnect(conn, packets.Err3ClientIdentifierNotValid.Code)
		return
	}

	if !e.auth.Allow(username, pk.Connect.Password, clientID) {
		log.Printf("Authentication failed for client %s user %s", clientID, username)
		e.refuseConnect(conn, packets.ErrUseAnotherServer.Code)
		return
	}

	session := SessionKey{ClientID: clientID, Username: username}

	// Attach and initialize atomically so other handlers referencing
	// this session observe it fully registered.
	e.mu.Lock()
	e.sessions[conn.ID()] = session
	e.registry.InitSession(session)
	e.mu.Unlock()

	metrics.ConnectionsTotal.Inc()
	log.Printf("Session %s connected from %s", session, conn.RemoteAddr())

	e.writeConnack(conn, packets.CodeSuccess.Code)
}

// HandlePublish processes a PUBLISH packet. QoS 2 and invalid QoS
// levels are logged no-ops; the connection stays open.
func (e *Engine) HandlePublish(conn connection.Conn, pk *packets.Packet) {
	session, ok := e.Session(conn.ID())
	if !ok {
		log.Printf("PUBLISH without session from %s, closing", conn.RemoteAddr())
		conn.Close()
		return
	}

	qos := pk.FixedHeader.Qos
	if qos >= 2 {
		log.Printf("Unsupported publish qos %d from %s, ignoring", qos, session)
		return
	}

	topic := e.resolver.Resolve(session.Username, session.ClientID, pk.TopicName)
	producer, err := e.registry.GetOrCreateProducer(e.ctx, session, topic)
	if err != nil {
		log.Printf("Cannot create producer for %s: %v, closing connection", session, err)
		conn.Close()
		return
	}

	switch qos {
	case 0:
		producer.SendAsync(pk.Payload, func(id backend.MessageID, err error) {
			if err != nil {
				log.Printf("Async publish to %s failed: %v", topic, err)
				return
			}
			metrics.MessagesPublishedTotal.WithLabelValues("0").Inc()
		})
	case 1:
		if _, err := producer.Send(e.ctx, pk.Payload); err != nil {
			// No PUBACK: the client retransmits on its own timeout.
			log.Printf("Publish to %s failed: %v", topic, err)
			return
		}
		metrics.MessagesPublishedTotal.WithLabelValues("1").Inc()
		e.writePacket(conn, &packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Puback},
			PacketID:    pk.PacketID,
		})
	}
}

// HandleSubscribe processes a SUBSCRIBE packet. The SUBACK is written
// before any forwarder starts, so the acknowledgement always precedes
// the first delivery. Granted QoS equals requested QoS.
func (e *Engine) HandleSubscribe(conn connection.Conn, pk *packets.Packet) {
	session, ok := e.Session(conn.ID())
	if !ok {
		log.Printf("SUBSCRIBE without session from %s, closing", conn.RemoteAddr())
		conn.Close()
		return
	}

	codes := make([]byte, len(pk.Filters))
	for i, sub := range pk.Filters {
		codes[i] = sub.Qos
	}
	e.writePacket(conn, &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Suback},
		PacketID:    pk.PacketID,
		ReasonCodes: codes,
	})

	for _, sub := range pk.Filters {
		topic := e.resolver.Resolve(session.Username, session.ClientID, sub.Filter)
		consumer, err := e.registry.GetOrCreateConsumer(e.ctx, session, topic)
		if err != nil {
			// Partial success: other topics in the same SUBSCRIBE still
			// get forwarders.
			log.Printf("Cannot create consumer for %s topic %s: %v", session, topic, err)
			continue
		}

		key := ForwardKey{ConnID: conn.ID(), Topic: topic}
		fwd := NewForwarder(key, sub.Filter, sub.Qos, conn, consumer)
		cancel := e.sup.StartChild(e.ctx, supervisor.Spec{
			ID:      fmt.Sprintf("forwarder-%s", key),
			Actor:   fwd,
			Restart: supervisor.RestartTemporary,
		})
		e.registry.RegisterForwarder(session, key, fwd, cancel)
	}
}

// HandleUnsubscribe processes an UNSUBSCRIBE packet: it stops the
// forwarder and drops the consumer handle for each topic, then replies
// with an UNSUBACK echoing the packet identifier.
func (e *Engine) HandleUnsubscribe(conn connection.Conn, pk *packets.Packet) {
	session, ok := e.Session(conn.ID())
	if !ok {
		log.Printf("UNSUBSCRIBE without session from %s, closing", conn.RemoteAddr())
		conn.Close()
		return
	}

	for _, sub := range pk.Filters {
		topic := e.resolver.Resolve(session.Username, session.ClientID, sub.Filter)
		e.registry.CancelForwarder(ForwardKey{ConnID: conn.ID(), Topic: topic})
		e.registry.DropConsumer(session, topic)
	}

	e.writePacket(conn, &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Unsuback},
		PacketID:    pk.PacketID,
	})
}

// HandlePing replies with a PINGRESP.
func (e *Engine) HandlePing(conn connection.Conn) {
	e.writePacket(conn, &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Pingresp},
	})
}

// HandleDisconnect releases the session's resources and closes the
// connection.
func (e *Engine) HandleDisconnect(conn connection.Conn) {
	e.cleanup(conn)
	conn.Close()
}

// HandleConnectionLost releases the session's resources after a
// connection dropped without a DISCONNECT. Safe to call when no session
// was ever attached.
func (e *Engine) HandleConnectionLost(conn connection.Conn) {
	e.cleanup(conn)
	conn.Close()
}

// cleanup detaches the session and tears down its registry state.
func (e *Engine) cleanup(conn connection.Conn) {
	e.mu.Lock()
	session, ok := e.sessions[conn.ID()]
	delete(e.sessions, conn.ID())
	e.mu.Unlock()

	e.registry.CancelConnForwarders(conn.ID())
	if ok {
		e.registry.CloseSession(session)
		log.Printf("Session %s disconnected", session)
	}
}

// refuseConnect writes a rejecting CONNACK and closes the connection.
func (e *Engine) refuseConnect(conn connection.Conn, code byte) {
	e.writeConnack(conn, code)
	conn.Close()
}

func (e *Engine) writeConnack(conn connection.Conn, code byte) {
	e.writePacket(conn, &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Connack},
		ReasonCode:  code,
	})
}

func (e *Engine) writePacket(conn connection.Conn, pk *packets.Packet) {
	if err := conn.WritePacket(pk); err != nil {
		log.Printf("Error writing %v packet to %s: %v", pk.FixedHeader.Type, conn.RemoteAddr(), err)
	}
}

// rejectCode maps a CONNECT decode failure onto the MQTT 3 CONNACK
// return code the client should see. Failures outside the categories
// the protocol defines a reply for get none.
func rejectCode(err error) (byte, bool) {
	var code packets.Code
	if !errors.As(err, &code) {
		return 0, false
	}
	switch code.Code {
	case packets.ErrUnsupportedProtocolVersion.Code, packets.Err3UnsupportedProtocolVersion.Code:
		return packets.Err3UnsupportedProtocolVersion.Code, true
	case packets.ErrClientIdentifierNotValid.Code, packets.Err3ClientIdentifierNotValid.Code:
		return packets.Err3ClientIdentifierNotValid.Code, true
	default:
		return 0, false
	}
}
