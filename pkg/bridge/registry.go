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
	"sync"

	"github.com/turtacn/mqbridge-go/pkg/backend"
	"github.com/turtacn/mqbridge-go/pkg/metrics"
)

// ErrSessionClosed is returned when a handle is requested for a session
// that is not registered, typically because it was torn down while the
// request was in flight.
var ErrSessionClosed = errors.New("session not registered")

// task pairs a running forwarder with the cancel function that stops it
// and the session that owns it.
type task struct {
	fwd    *Forwarder
	cancel context.CancelFunc
	owner  SessionKey
}

// Registry owns every backend producer, consumer and forwarder handle
// in the process. All five maps are guarded by one lock so that
// get-or-create and teardown are atomic: two concurrent callers for
// the same TopicKey always observe a single handle.
type Registry struct {
	client backend.Client

	mu               sync.RWMutex
	sessionProducers map[SessionKey]map[TopicKey]struct{}
	sessionConsumers map[SessionKey]map[TopicKey]struct{}
	producers        map[TopicKey]backend.Producer
	consumers        map[TopicKey]backend.Consumer
	forwarders       map[ForwardKey]task
}

// NewRegistry creates an empty registry backed by the given client.
func NewRegistry(client backend.Client) *Registry {
	return &Registry{
		client:           client,
		sessionProducers: make(map[SessionKey]map[TopicKey]struct{}),
		sessionConsumers: make(map[SessionKey]map[TopicKey]struct{}),
		producers:        make(map[TopicKey]backend.Producer),
		consumers:        make(map[TopicKey]backend.Consumer),
		forwarders:       make(map[ForwardKey]task),
	}
}

// InitSession records a new session with empty binding sets. Calling it
// for a session that already exists keeps the existing bindings.
func (r *Registry) InitSession(session SessionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessionProducers[session]; !ok {
		r.sessionProducers[session] = make(map[TopicKey]struct{})
	}
	if _, ok := r.sessionConsumers[session]; !ok {
		r.sessionConsumers[session] = make(map[TopicKey]struct{})
	}
	metrics.SessionsActive.Set(float64(len(r.sessionProducers)))
}

// HasSession reports whether the session is currently registered.
func (r *Registry) HasSession(session SessionKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessionProducers[session]
	return ok
}

// GetOrCreateProducer returns the producer handle for (session, topic),
// creating it if absent. The check-then-create sequence runs under the
// exclusive lock so concurrent callers never create duplicates. Sessions
// are never resurrected here: a request for a session that InitSession
// has not registered (or CloseSession already purged) fails with
// ErrSessionClosed.
func (r *Registry) GetOrCreateProducer(ctx context.Context, session SessionKey, topic string) (backend.Producer, error) {
	key := TopicKey{Topic: topic, Session: session}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessionProducers[session]
	if !ok {
		return nil, fmt.Errorf("create producer for %s: %w", key, ErrSessionClosed)
	}

	if p, ok := r.producers[key]; ok {
		return p, nil
	}

	p, err := r.client.CreateProducer(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create producer for %s: %w", key, err)
	}

	r.producers[key] = p
	set[key] = struct{}{}
	return p, nil
}

// GetOrCreateConsumer returns the consumer handle for (session, topic),
// creating it if absent, with the same atomicity and session-liveness
// rules as GetOrCreateProducer. The binding is recorded under the
// session's consumer set even when the handle already existed. Each
// binding gets its own backend subscription group so that every session
// subscribed to a topic receives every message.
func (r *Registry) GetOrCreateConsumer(ctx context.Context, session SessionKey, topic string) (backend.Consumer, error) {
	key := TopicKey{Topic: topic, Session: session}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessionConsumers[session]
	if !ok {
		return nil, fmt.Errorf("create consumer for %s: %w", key, ErrSessionClosed)
	}

	if c, ok := r.consumers[key]; ok {
		set[key] = struct{}{}
		return c, nil
	}

	c, err := r.client.CreateConsumer(ctx, topic, key.String())
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", key, err)
	}

	r.consumers[key] = c
	set[key] = struct{}{}
	return c, nil
}

// RegisterForwarder records a running forwarder owned by session,
// stopping any forwarder previously registered under the same key. If
// the session was torn down after the caller looked it up, the new
// forwarder is cancelled instead of registered, so a disconnect racing
// a subscribe never leaves an orphaned entry behind.
func (r *Registry) RegisterForwarder(session SessionKey, key ForwardKey, fwd *Forwarder, cancel context.CancelFunc) {
	r.mu.Lock()
	if _, live := r.sessionConsumers[session]; !live {
		r.mu.Unlock()
		log.Printf("Session %s gone, not registering forwarder for %s", session, key)
		cancel()
		return
	}
	prev, existed := r.forwarders[key]
	r.forwarders[key] = task{fwd: fwd, cancel: cancel, owner: session}
	count := len(r.forwarders)
	r.mu.Unlock()

	if existed {
		log.Printf("Replacing forwarder for %s", key)
		prev.cancel()
	}
	metrics.ForwardersActive.Set(float64(count))
}

// CancelForwarder stops the forwarder registered for the key and drops
// the entry. It is a no-op for unknown keys.
func (r *Registry) CancelForwarder(key ForwardKey) {
	r.mu.Lock()
	entry, ok := r.forwarders[key]
	if ok {
		delete(r.forwarders, key)
	}
	count := len(r.forwarders)
	r.mu.Unlock()

	if ok {
		entry.cancel()
	}
	metrics.ForwardersActive.Set(float64(count))
}

// CancelConnForwarders stops every forwarder bound to the given
// connection.
func (r *Registry) CancelConnForwarders(connID string) {
	r.mu.Lock()
	var cancelled []task
	for key, entry := range r.forwarders {
		if key.ConnID == connID {
			cancelled = append(cancelled, entry)
			delete(r.forwarders, key)
		}
	}
	count := len(r.forwarders)
	r.mu.Unlock()

	for _, entry := range cancelled {
		entry.cancel()
	}
	metrics.ForwardersActive.Set(float64(count))
}

// DropConsumer closes and forgets the consumer handle for (session,
// topic). Used by unsubscribe; a later subscribe creates a fresh
// handle.
func (r *Registry) DropConsumer(session SessionKey, topic string) {
	key := TopicKey{Topic: topic, Session: session}

	r.mu.Lock()
	c, ok := r.consumers[key]
	if ok {
		delete(r.consumers, key)
	}
	if set, exists := r.sessionConsumers[session]; exists {
		delete(set, key)
	}
	r.mu.Unlock()

	if ok {
		if err := c.Close(); err != nil {
			log.Printf("Error closing consumer for %s: %v", key, err)
		}
	}
}

// CloseSession stops every forwarder owned by the session, closes every
// producer and consumer handle it owns, and purges its entries from all
// maps. Unknown sessions are a no-op, so it is safe to call on
// connection loss without a session.
func (r *Registry) CloseSession(session SessionKey) {
	r.mu.Lock()
	var producers []backend.Producer
	var consumers []backend.Consumer
	var closedKeys []TopicKey
	var cancelled []task

	for key, entry := range r.forwarders {
		if entry.owner == session {
			cancelled = append(cancelled, entry)
			delete(r.forwarders, key)
		}
	}

	for key := range r.sessionProducers[session] {
		if p, ok := r.producers[key]; ok {
			producers = append(producers, p)
			closedKeys = append(closedKeys, key)
			delete(r.producers, key)
		}
	}
	for key := range r.sessionConsumers[session] {
		if c, ok := r.consumers[key]; ok {
			consumers = append(consumers, c)
			closedKeys = append(closedKeys, key)
			delete(r.consumers, key)
		}
	}
	delete(r.sessionProducers, session)
	delete(r.sessionConsumers, session)
	metrics.SessionsActive.Set(float64(len(r.sessionProducers)))
	metrics.ForwardersActive.Set(float64(len(r.forwarders)))
	r.mu.Unlock()

	for _, entry := range cancelled {
		entry.cancel()
	}
	for _, p := range producers {
		if err := p.Close(); err != nil {
			log.Printf("Error closing producer for session %s: %v", session, err)
		}
	}
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Printf("Error closing consumer for session %s: %v", session, err)
		}
	}
	if len(closedKeys) > 0 {
		log.Printf("Closed %d backend handles for session %s", len(closedKeys), session)
	}
}

// ProducerCount returns the number of live producer handles.
func (r *Registry) ProducerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers)
}

// ConsumerCount returns the number of live consumer handles.
func (r *Registry) ConsumerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}

// ForwarderCount returns the number of registered forwarders.
func (r *Registry) ForwarderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forwarders)
}
