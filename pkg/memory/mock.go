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

package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HashEmbedder is a deterministic, dependency-free embedder for tests and
// offline runs. It hashes word tokens into a fixed-size bag-of-words
// vector, so texts sharing words land near each other under cosine
// similarity. Not a real embedding model.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%e.dim]++
	}

	// L2-normalize so chromem's cosine similarity behaves
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (e *HashEmbedder) Dimension() int { return e.dim }
func (e *HashEmbedder) Model() string  { return "hash-embedder" }
func (e *HashEmbedder) Close() error   { return nil }

var _ Embedder = (*HashEmbedder)(nil)

// InMemoryStore is a Store backed by a plain slice with word-overlap
// scoring. Useful in tests that should not touch a vector index.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Save(ctx context.Context, rec Record) (Record, error) {
	saved, err := normalizeRecord(rec)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, saved)
	return saved, nil
}

func (s *InMemoryStore) Retrieve(ctx context.Context, userID, query string, topK int) ([]Scored, error) {
	if topK <= 0 {
		topK = 5
	}
	queryWords := wordSet(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Scored
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		score := overlapScore(queryWords, wordSet(rec.Text))
		if score > 0 || len(queryWords) == 0 {
			hits = append(hits, Scored{Record: rec, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *InMemoryStore) Forget(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rec := range s.records {
		if rec.ID == id && rec.UserID == userID {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func normalizeRecord(rec Record) (Record, error) {
	if rec.UserID == "" {
		return Record{}, fmt.Errorf("user ID cannot be empty")
	}
	if rec.Text == "" {
		return Record{}, fmt.Errorf("memory text cannot be empty")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return rec, nil
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,!?\"'")] = struct{}{}
	}
	return set
}

func overlapScore(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for w := range query {
		if _, ok := doc[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

var _ Store = (*InMemoryStore)(nil)
