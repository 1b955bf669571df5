package continuity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeRemote is a scriptable RemoteCache.
type fakeRemote struct {
	mu     sync.Mutex
	data   map[string]string
	sets   map[string][]string
	broken bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string]string), sets: make(map[string][]string)}
}

var errRemoteDown = errors.New("connection refused")

func (f *fakeRemote) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return "", errRemoteDown
	}
	v, ok := f.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (f *fakeRemote) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errRemoteDown
	}
	f.data[key] = value
	return nil
}

func (f *fakeRemote) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errRemoteDown
	}
	delete(f.data, key)
	return nil
}

func (f *fakeRemote) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errRemoteDown
	}
	f.sets[key] = append(f.sets[key], member)
	return nil
}

func (f *fakeRemote) SMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return nil, errRemoteDown
	}
	return append([]string(nil), f.sets[key]...), nil
}

func (f *fakeRemote) Close() error { return nil }

func (f *fakeRemote) setBroken(broken bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = broken
}

func TestSaveAndLoadSession_Remote(t *testing.T) {
	remote := newFakeRemote()
	m := NewManager(remote)
	ctx := context.Background()

	rec := SessionRecord{UserID: "margaret", SessionID: "s1", LastGoal: "tell me about Bob"}
	if err := m.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	loaded, found, err := m.LoadSession(ctx, "margaret")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if !found {
		t.Fatal("session not found")
	}
	if loaded.LastGoal != "tell me about Bob" {
		t.Errorf("LastGoal = %q", loaded.LastGoal)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
	if !m.RemoteAvailable() {
		t.Error("remote should still be trusted")
	}
}

func TestSaveSession_FailoverToLocal(t *testing.T) {
	remote := newFakeRemote()
	remote.setBroken(true)
	m := NewManager(remote)
	ctx := context.Background()

	if err := m.SaveSession(ctx, SessionRecord{UserID: "margaret", SessionID: "s1"}); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	if m.RemoteAvailable() {
		t.Error("remote failure should flip redisAvailable")
	}

	// The remote recovering must not matter for this manager instance;
	// reads keep coming from the local tier.
	remote.setBroken(false)
	_, found, err := m.LoadSession(ctx, "margaret")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if !found {
		t.Error("session lost on failover")
	}
}

func TestLoadSession_MissIsNotError(t *testing.T) {
	m := NewManager(newFakeRemote())

	_, found, err := m.LoadSession(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if found {
		t.Error("found a session that was never saved")
	}
}

func TestNilRemote_LocalOnly(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	if m.RemoteAvailable() {
		t.Error("nil remote reported available")
	}
	if err := m.SaveSession(ctx, SessionRecord{UserID: "margaret", SessionID: "s1"}); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	_, found, err := m.LoadSession(ctx, "margaret")
	if err != nil || !found {
		t.Fatalf("LoadSession() = found=%v err=%v", found, err)
	}
}

func TestTopics_RemoteAndFallback(t *testing.T) {
	remote := newFakeRemote()
	m := NewManager(remote)
	ctx := context.Background()

	if err := m.RecordTopic(ctx, "margaret", "the old mill"); err != nil {
		t.Fatalf("RecordTopic() error = %v", err)
	}
	topics, err := m.Topics(ctx, "margaret")
	if err != nil {
		t.Fatalf("Topics() error = %v", err)
	}
	if len(topics) != 1 || topics[0] != "the old mill" {
		t.Errorf("Topics = %v", topics)
	}

	remote.setBroken(true)
	if err := m.RecordTopic(ctx, "margaret", "the seaside"); err != nil {
		t.Fatalf("RecordTopic() after failure error = %v", err)
	}
	topics, err = m.Topics(ctx, "margaret")
	if err != nil {
		t.Fatalf("Topics() error = %v", err)
	}
	// Only the local tier is consulted now.
	if len(topics) != 1 || topics[0] != "the seaside" {
		t.Errorf("Topics after failover = %v", topics)
	}
}

func TestLocalStore_TTLExpiry(t *testing.T) {
	s := newLocalStore()

	s.set("k", "v", 10*time.Millisecond)
	if _, ok := s.get("k"); !ok {
		t.Fatal("entry missing before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := s.get("k"); ok {
		t.Error("entry survived past TTL")
	}
}

func TestLocalStore_FIFOEviction(t *testing.T) {
	s := newLocalStore()

	for i := 0; i < maxLocalEntries+1; i++ {
		s.set(fmt.Sprintf("key-%d", i), "v", time.Hour)
	}

	if _, ok := s.get("key-0"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := s.get(fmt.Sprintf("key-%d", maxLocalEntries)); !ok {
		t.Error("newest entry evicted")
	}
	if len(s.entries) != maxLocalEntries {
		t.Errorf("entries = %d, want %d", len(s.entries), maxLocalEntries)
	}
}

func TestLocalStore_TopicCaps(t *testing.T) {
	s := newLocalStore()

	for i := 0; i < maxTopicsPerUser+5; i++ {
		s.addTopic("margaret", fmt.Sprintf("topic-%d", i), time.Hour)
	}
	topics := s.topics("margaret")
	if len(topics) != maxTopicsPerUser {
		t.Errorf("topics = %d, want %d", len(topics), maxTopicsPerUser)
	}
	// FIFO: earliest topics are gone.
	if topics[0] != "topic-5" {
		t.Errorf("oldest surviving topic = %s, want topic-5", topics[0])
	}

	for i := 0; i < maxTopicUsers+1; i++ {
		s.addTopic(fmt.Sprintf("user-%d", i), "t", time.Hour)
	}
	if got := s.topics("user-0"); got != nil {
		t.Error("oldest user survived user-cap eviction")
	}
}

func TestLocalStore_DuplicateTopicIgnored(t *testing.T) {
	s := newLocalStore()
	s.addTopic("margaret", "garden", time.Hour)
	s.addTopic("margaret", "garden", time.Hour)

	if topics := s.topics("margaret"); len(topics) != 1 {
		t.Errorf("topics = %v, want single entry", topics)
	}
}
