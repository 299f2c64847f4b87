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

package auth

import (
	"fmt"
	"log"
	"sync"
)

// MemoryAuthenticator provides username/password authentication using
// in-memory storage. The client identifier is accepted but not used for
// policy decisions; it is available to alternative implementations.
type MemoryAuthenticator struct {
	users   map[string]*User
	enabled bool
	mu      sync.RWMutex
}

// NewMemoryAuthenticator creates a new memory-based authenticator
func NewMemoryAuthenticator() *MemoryAuthenticator {
	return &MemoryAuthenticator{
		users:   make(map[string]*User),
		enabled: true,
	}
}

// Name returns the name of this authenticator
func (ma *MemoryAuthenticator) Name() string {
	return "memory"
}

// Enabled returns whether this authenticator is enabled
func (ma *MemoryAuthenticator) Enabled() bool {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return ma.enabled
}

// SetEnabled enables or disables this authenticator
func (ma *MemoryAuthenticator) SetEnabled(enabled bool) {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.enabled = enabled
}

// AddUser adds a user to the authenticator
func (ma *MemoryAuthenticator) AddUser(username, password string, algorithm HashAlgorithm) error {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	// Generate salt for SHA256
	salt := ""
	if algorithm == HashSHA256 {
		salt = username // Simple salt using username, in production use random salt
	}

	passwordHash, err := hashPassword(password, salt, algorithm)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	ma.users[username] = &User{
		Username:     username,
		PasswordHash: passwordHash,
		Algorithm:    algorithm,
		Salt:         salt,
		Enabled:      true,
	}
	return nil
}

// RemoveUser removes a user from the authenticator
func (ma *MemoryAuthenticator) RemoveUser(username string) error {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	if _, exists := ma.users[username]; !exists {
		return fmt.Errorf("user not found: %s", username)
	}

	delete(ma.users, username)
	return nil
}

// SetUserEnabled enables or disables a specific user
func (ma *MemoryAuthenticator) SetUserEnabled(username string, enabled bool) error {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	user, exists := ma.users[username]
	if !exists {
		return fmt.Errorf("user not found: %s", username)
	}

	user.Enabled = enabled
	return nil
}

// ListUsers returns a list of all usernames
func (ma *MemoryAuthenticator) ListUsers() []string {
	ma.mu.RLock()
	defer ma.mu.RUnlock()

	users := make([]string, 0, len(ma.users))
	for username := range ma.users {
		users = append(users, username)
	}
	return users
}

// Count returns the number of users
func (ma *MemoryAuthenticator) Count() int {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return len(ma.users)
}

// Authenticate verifies the provided credentials
func (ma *MemoryAuthenticator) Authenticate(username string, password []byte, clientID string) AuthResult {
	ma.mu.RLock()
	defer ma.mu.RUnlock()

	if !ma.enabled {
		return AuthIgnore
	}

	if username == "" {
		return AuthIgnore
	}

	user, exists := ma.users[username]
	if !exists {
		log.Printf("[DEBUG] User not found in memory authenticator: %s (client %s)", username, clientID)
		return AuthIgnore
	}

	if !user.Enabled {
		log.Printf("[WARN] User %s is disabled", username)
		return AuthFailure
	}

	if verifyPassword(string(password), user.PasswordHash, user.Salt, user.Algorithm) {
		return AuthSuccess
	}

	log.Printf("[WARN] Password verification failed for user: %s (client %s)", username, clientID)
	return AuthFailure
}
