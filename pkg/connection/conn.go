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

// Package connection wraps a client transport behind a small interface
// the bridge engine writes packets to. Writes are serialized so that
// protocol replies and forwarded deliveries from concurrent goroutines
// never interleave on the wire.
package connection

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mochi-mqtt/server/v2/packets"
)

// ErrClosed is returned when writing to a connection that has been
// closed.
var ErrClosed = errors.New("connection closed")

// Conn is the engine's view of a client connection.
type Conn interface {
	// ID returns a stable identifier unique for the lifetime of the
	// process.
	ID() string
	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
	// WritePacket encodes and writes a single MQTT packet. Safe for
	// concurrent use.
	WritePacket(pk *packets.Packet) error
	// NextPacketID returns the next identifier for a server-to-client
	// packet that needs one. Never zero; wraps within 1..65535.
	NextPacketID() uint16
	// Close closes the underlying transport. Subsequent writes return
	// ErrClosed. Close is idempotent.
	Close() error
}

// TCPConn implements Conn over a net.Conn.
type TCPConn struct {
	id     string
	conn   net.Conn
	mu     sync.Mutex
	pids   atomic.Uint32
	closed atomic.Bool
}

// NewTCPConn wraps a net.Conn with a fresh connection identifier.
func NewTCPConn(conn net.Conn) *TCPConn {
	return &TCPConn{
		id:   uuid.NewString(),
		conn: conn,
	}
}

// ID returns the connection identifier.
func (c *TCPConn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *TCPConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// NextPacketID returns the next outbound packet identifier. Zero is
// reserved by the protocol, so the counter cycles through 1..65535.
func (c *TCPConn) NextPacketID() uint16 {
	return uint16((c.pids.Add(1)-1)%65535) + 1
}

// WritePacket encodes pk and writes it to the client.
func (c *TCPConn) WritePacket(pk *packets.Packet) error {
	if c.closed.Load() {
		return ErrClosed
	}

	var buf bytes.Buffer
	if err := encodePacket(&buf, pk); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	_, err := c.conn.Write(buf.Bytes())
	return err
}

// Close closes the underlying transport.
func (c *TCPConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// encodePacket encodes the server-to-client packet types the bridge
// emits.
func encodePacket(buf *bytes.Buffer, pk *packets.Packet) error {
	switch pk.FixedHeader.Type {
	case packets.Connack:
		return pk.ConnackEncode(buf)
	case packets.Suback:
		return pk.SubackEncode(buf)
	case packets.Unsuback:
		return pk.UnsubackEncode(buf)
	case packets.Puback:
		return pk.PubackEncode(buf)
	case packets.Pingresp:
		return pk.PingrespEncode(buf)
	case packets.Publish:
		return pk.PublishEncode(buf)
	default:
		return fmt.Errorf("unsupported packet type for writing: %v", pk.FixedHeader.Type)
	}
}
