// Copyright 2025 Keepsake AI
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

// Package continuity keeps conversational state across sessions.
//
// Storage is two-tier: a remote cache (Redis) first, a bounded in-process
// fallback second. The first remote failure flips the manager to the
// fallback for its lifetime; a senior mid-story should never wait on a
// reconnect loop.
package continuity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// SessionTTL bounds how long a resumable session lives.
	SessionTTL = 24 * time.Hour

	// TopicTTL bounds per-user topic sets.
	TopicTTL = 30 * 24 * time.Hour
)

// ErrCacheMiss is returned by RemoteCache.Get for absent keys.
var ErrCacheMiss = errors.New("cache miss")

// RemoteCache is the remote key-value port.
type RemoteCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	SAdd(ctx context.Context, key string, member string, ttl time.Duration) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Close() error
}

// SessionRecord is the resumable state of one user's last conversation.
type SessionRecord struct {
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	LastGoal    string    `json:"last_goal,omitempty"`
	LastAnswer  string    `json:"last_answer,omitempty"`
	Mood        string    `json:"mood,omitempty"`
	OpenThreads []string  `json:"open_threads,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Manager is the two-tier continuity store. Safe for concurrent use.
type Manager struct {
	remote RemoteCache
	local  *localStore

	mu             sync.Mutex
	redisAvailable bool

	logger *slog.Logger
}

// NewManager builds a manager. remote may be nil, in which case only the
// local fallback is used.
func NewManager(remote RemoteCache) *Manager {
	return &Manager{
		remote:         remote,
		local:          newLocalStore(),
		redisAvailable: remote != nil,
		logger:         slog.Default().With("component", "continuity"),
	}
}

func sessionKey(userID string) string { return "keepsake:session:" + userID }
func topicsKey(userID string) string  { return "keepsake:topics:" + userID }

// remoteUsable reports whether the remote tier is still trusted.
func (m *Manager) remoteUsable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redisAvailable
}

// markRemoteDown flips this manager instance to the local fallback.
func (m *Manager) markRemoteDown(op string, err error) {
	m.mu.Lock()
	wasUp := m.redisAvailable
	m.redisAvailable = false
	m.mu.Unlock()

	if wasUp {
		m.logger.Warn("remote cache unavailable, using local fallback",
			"operation", op,
			"error", err)
	}
}

// RemoteAvailable reports the current tier for health endpoints.
func (m *Manager) RemoteAvailable() bool { return m.remoteUsable() }

// SaveSession persists a session record with the standard TTL.
func (m *Manager) SaveSession(ctx context.Context, rec SessionRecord) error {
	if rec.UserID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	rec.UpdatedAt = time.Now()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if m.remoteUsable() {
		if err := m.remote.Set(ctx, sessionKey(rec.UserID), string(data), SessionTTL); err == nil {
			return nil
		} else {
			m.markRemoteDown("save_session", err)
		}
	}

	m.local.set(sessionKey(rec.UserID), string(data), SessionTTL)
	return nil
}

// LoadSession returns the user's resumable session, if any.
func (m *Manager) LoadSession(ctx context.Context, userID string) (SessionRecord, bool, error) {
	if userID == "" {
		return SessionRecord{}, false, fmt.Errorf("user ID cannot be empty")
	}

	var raw string
	var found bool

	if m.remoteUsable() {
		value, err := m.remote.Get(ctx, sessionKey(userID))
		switch {
		case err == nil:
			raw, found = value, true
		case errors.Is(err, ErrCacheMiss):
			// Fall through to the local tier.
		default:
			m.markRemoteDown("load_session", err)
		}
	}
	if !found {
		raw, found = m.local.get(sessionKey(userID))
	}
	if !found {
		return SessionRecord{}, false, nil
	}

	var rec SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return SessionRecord{}, false, fmt.Errorf("failed to decode session: %w", err)
	}
	return rec, true, nil
}

// ClearSession drops a user's session from both tiers.
func (m *Manager) ClearSession(ctx context.Context, userID string) error {
	if m.remoteUsable() {
		if err := m.remote.Del(ctx, sessionKey(userID)); err != nil {
			m.markRemoteDown("clear_session", err)
		}
	}
	m.local.del(sessionKey(userID))
	return nil
}

// RecordTopic adds a conversation topic to the user's set.
func (m *Manager) RecordTopic(ctx context.Context, userID, topic string) error {
	if userID == "" || topic == "" {
		return fmt.Errorf("user ID and topic cannot be empty")
	}

	if m.remoteUsable() {
		if err := m.remote.SAdd(ctx, topicsKey(userID), topic, TopicTTL); err == nil {
			return nil
		} else {
			m.markRemoteDown("record_topic", err)
		}
	}

	m.local.addTopic(userID, topic, TopicTTL)
	return nil
}

// Topics returns the user's recorded topics.
func (m *Manager) Topics(ctx context.Context, userID string) ([]string, error) {
	if m.remoteUsable() {
		members, err := m.remote.SMembers(ctx, topicsKey(userID))
		if err == nil {
			return members, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			m.markRemoteDown("topics", err)
		}
	}
	return m.local.topics(userID), nil
}

// Close releases the remote connection.
func (m *Manager) Close() error {
	if m.remote == nil {
		return nil
	}
	return m.remote.Close()
}
