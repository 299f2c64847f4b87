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

// Package server contains the MQTT listener of the bridge. It reads
// packets off client connections and dispatches them to the bridge
// engine's handlers.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/turtacn/mqbridge-go/pkg/bridge"
	"github.com/turtacn/mqbridge-go/pkg/connection"
)

// Server accepts MQTT client connections and feeds the bridge engine.
type Server struct {
	nodeID string
	engine *bridge.Engine
}

// New creates a server dispatching to the given engine.
func New(nodeID string, engine *bridge.Engine) *Server {
	return &Server{
		nodeID: nodeID,
		engine: engine,
	}
}

// Serve begins listening for incoming TCP connections on the specified
// address and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer listener.Close()
	log.Printf("MQTT bridge %s listening on %s", s.nodeID, listener.Addr())

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					log.Printf("Failed to accept connection: %v", err)
				}
				continue
			}
			go s.handleConnection(conn)
		}
	}()

	<-ctx.Done()
	log.Println("Listener is shutting down.")
	return nil
}

// handleConnection reads packets off one client connection until it
// drops. Whatever way the loop exits, the engine is told the connection
// is gone so the session's resources are released.
func (s *Server) handleConnection(netConn net.Conn) {
	conn := connection.NewTCPConn(netConn)
	defer s.engine.HandleConnectionLost(conn)
	log.Printf("Accepted connection from %s", conn.RemoteAddr())

	reader := bufio.NewReader(netConn)
	for {
		pk, decodeErr, err := readPacket(reader)
		if err != nil {
			if err != io.EOF {
				log.Printf("Error reading packet from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		if decodeErr != nil {
			if pk.FixedHeader.Type == packets.Connect {
				// The engine picks the rejection code matching the
				// failure category.
				s.engine.HandleConnect(conn, nil, decodeErr)
			} else {
				log.Printf("Error decoding packet from %s: %v", conn.RemoteAddr(), decodeErr)
			}
			return
		}

		switch pk.FixedHeader.Type {
		case packets.Connect:
			s.engine.HandleConnect(conn, pk, nil)
		case packets.Publish:
			s.engine.HandlePublish(conn, pk)
		case packets.Subscribe:
			s.engine.HandleSubscribe(conn, pk)
		case packets.Unsubscribe:
			s.engine.HandleUnsubscribe(conn, pk)
		case packets.Pingreq:
			s.engine.HandlePing(conn)
		case packets.Disconnect:
			s.engine.HandleDisconnect(conn)
			return
		case packets.Puback, packets.Pubrec, packets.Pubrel, packets.Pubcomp:
			// QoS 2 is unsupported; these are protocol-compliant no-ops.
		default:
			log.Printf("Received unhandled packet type: %v", pk.FixedHeader.Type)
		}
	}
}

// readPacket reads one full MQTT packet. A transport failure comes back
// in err; a malformed body comes back in decodeErr with the fixed
// header preserved so the caller knows the packet type.
func readPacket(r *bufio.Reader) (*packets.Packet, error, error) {
	fh := new(packets.FixedHeader)
	b, err := r.ReadByte()
	if err != nil {
		return nil, nil, err
	}
	if err := fh.Decode(b); err != nil {
		return nil, nil, err
	}
	rem, _, err := packets.DecodeLength(r)
	if err != nil {
		return nil, nil, err
	}
	fh.Remaining = rem

	buf := make([]byte, fh.Remaining)
	if fh.Remaining > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, err
		}
	}

	pk := &packets.Packet{FixedHeader: *fh}
	var decodeErr error
	switch pk.FixedHeader.Type {
	case packets.Connect:
		decodeErr = pk.ConnectDecode(buf)
	case packets.Publish:
		decodeErr = pk.PublishDecode(buf)
	case packets.Subscribe:
		decodeErr = pk.SubscribeDecode(buf)
	case packets.Unsubscribe:
		decodeErr = pk.UnsubscribeDecode(buf)
	case packets.Puback:
		decodeErr = pk.PubackDecode(buf)
	case packets.Pubrec:
		decodeErr = pk.PubrecDecode(buf)
	case packets.Pubrel:
		decodeErr = pk.PubrelDecode(buf)
	case packets.Pubcomp:
		decodeErr = pk.PubcompDecode(buf)
	case packets.Pingreq:
		decodeErr = pk.PingreqDecode(buf)
	case packets.Disconnect:
		decodeErr = pk.DisconnectDecode(buf)
	}
	return pk, decodeErr, nil
}
