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

// Package namespace maps client-facing topic names onto backend topic
// names. Each connection publishes and subscribes under short topic
// names; the resolver expands them with the session's identity so that
// different tenants land on different backend topics while a publisher
// and a subscriber of the same tenant meet on the same one.
package namespace

import (
	"fmt"
	"strings"
)

// DefaultPattern scopes backend topics by username. All sessions of one
// user share the resulting topic for a given client topic name.
const DefaultPattern = "{username}.{topic}"

// Resolver expands a topic pattern into a backend topic name.
type Resolver struct {
	pattern string
}

// NewResolver creates a resolver for the given pattern. The pattern may
// contain the tokens {username}, {clientid} and {topic}; it must contain
// {topic}. An empty pattern selects DefaultPattern.
func NewResolver(pattern string) (*Resolver, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !strings.Contains(pattern, "{topic}") {
		return nil, fmt.Errorf("namespace pattern must contain {topic}: %q", pattern)
	}
	return &Resolver{pattern: pattern}, nil
}

// Pattern returns the pattern this resolver expands.
func (r *Resolver) Pattern() string {
	return r.pattern
}

// Resolve expands the pattern for the given identity and client topic.
// The result only contains characters safe for backend topic names;
// anything else is replaced with '_'.
func (r *Resolver) Resolve(username, clientID, topic string) string {
	out := r.pattern
	out = strings.ReplaceAll(out, "{username}", sanitize(username))
	out = strings.ReplaceAll(out, "{clientid}", sanitize(clientID))
	out = strings.ReplaceAll(out, "{topic}", sanitize(topic))
	return out
}

// sanitize replaces characters outside [a-zA-Z0-9._-] so the resolved
// name is a legal Kafka topic. MQTT topic level separators become dots.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '.' || c == '_' || c == '-':
			b.WriteRune(c)
		case c == '/':
			b.WriteByte('.')
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
