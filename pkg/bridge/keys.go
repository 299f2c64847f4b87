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

// Package bridge implements the MQTT-to-backend session engine: it maps
// sessions and topics onto backend producer and consumer handles,
// drives one forwarder per active subscription, and tears everything
// down when a session ends.
package bridge

import "fmt"

// SessionKey identifies one logical client session for the lifetime of
// one connection. Comparable by value.
type SessionKey struct {
	ClientID string
	Username string
}

// String renders the key for logging.
func (k SessionKey) String() string {
	return fmt.Sprintf("%s@%s", k.ClientID, k.Username)
}

// TopicKey identifies one producer or one consumer handle, scoped to a
// session and a resolved backend topic. Two subscriptions to the same
// resolved topic under the same session share one key.
type TopicKey struct {
	Topic   string
	Session SessionKey
}

// String renders the key for logging.
func (k TopicKey) String() string {
	return fmt.Sprintf("%s/%s", k.Session, k.Topic)
}

// ForwardKey identifies one running forwarder: the pairing of a live
// connection and the backend topic feeding it.
type ForwardKey struct {
	ConnID string
	Topic  string
}

// String renders the key for logging.
func (k ForwardKey) String() string {
	return fmt.Sprintf("%s/%s", k.ConnID, k.Topic)
}
