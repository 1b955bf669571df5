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

package continuity

import (
	"sync"
	"time"
)

const (
	// maxLocalEntries caps the fallback key-value map.
	maxLocalEntries = 1000

	// maxTopicsPerUser and maxTopicUsers cap the fallback topic sets.
	maxTopicsPerUser = 100
	maxTopicUsers    = 500
)

type localEntry struct {
	value   string
	expires time.Time
}

type userTopics struct {
	set     map[string]struct{}
	order   []string
	expires time.Time
}

// localStore is the bounded in-process fallback tier. Eviction is FIFO
// by insertion order.
type localStore struct {
	mu sync.Mutex

	entries map[string]localEntry
	order   []string

	topicsByUser map[string]*userTopics
	userOrder    []string
}

func newLocalStore() *localStore {
	return &localStore{
		entries:      make(map[string]localEntry),
		topicsByUser: make(map[string]*userTopics),
	}
}

func (s *localStore) set(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		if len(s.entries) >= maxLocalEntries {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.entries, oldest)
		}
		s.order = append(s.order, key)
	}
	s.entries[key] = localEntry{value: value, expires: time.Now().Add(ttl)}
}

func (s *localStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expires) {
		s.deleteLocked(key)
		return "", false
	}
	return entry.value, true
}

func (s *localStore) del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
}

func (s *localStore) deleteLocked(key string) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	for i, existing := range s.order {
		if existing == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *localStore) addTopic(userID, topic string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ut, ok := s.topicsByUser[userID]
	if ok && time.Now().After(ut.expires) {
		s.dropUserLocked(userID)
		ok = false
	}
	if !ok {
		if len(s.topicsByUser) >= maxTopicUsers {
			oldest := s.userOrder[0]
			s.dropUserLocked(oldest)
		}
		ut = &userTopics{set: make(map[string]struct{})}
		s.topicsByUser[userID] = ut
		s.userOrder = append(s.userOrder, userID)
	}
	ut.expires = time.Now().Add(ttl)

	if _, exists := ut.set[topic]; exists {
		return
	}
	if len(ut.set) >= maxTopicsPerUser {
		oldest := ut.order[0]
		ut.order = ut.order[1:]
		delete(ut.set, oldest)
	}
	ut.set[topic] = struct{}{}
	ut.order = append(ut.order, topic)
}

func (s *localStore) topics(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ut, ok := s.topicsByUser[userID]
	if !ok {
		return nil
	}
	if time.Now().After(ut.expires) {
		s.dropUserLocked(userID)
		return nil
	}
	out := make([]string, len(ut.order))
	copy(out, ut.order)
	return out
}

func (s *localStore) dropUserLocked(userID string) {
	if _, ok := s.topicsByUser[userID]; !ok {
		return
	}
	delete(s.topicsByUser, userID)
	for i, existing := range s.userOrder {
		if existing == userID {
			s.userOrder = append(s.userOrder[:i], s.userOrder[i+1:]...)
			break
		}
	}
}
