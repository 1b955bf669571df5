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

// Package memory provides episodic memory storage and retrieval for the
// biographer runtime.
//
// A Record is one remembered fact or story fragment scoped to a user. The
// Store port hides the backing index; the default implementation composes
// an Embedder with a VectorStore (chromem-go in-process by default).
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one episodic memory belonging to a user.
type Record struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Text      string         `json:"text"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Scored pairs a retrieved record with its similarity score (0..1, higher
// is closer).
type Scored struct {
	Record
	Score float64 `json:"score"`
}

// Store is the episodic memory port.
type Store interface {
	// Save persists a record. A missing ID is assigned; a zero CreatedAt
	// is stamped with the current time.
	Save(ctx context.Context, rec Record) (Record, error)

	// Retrieve returns up to topK records for the user most similar to
	// the query, best first.
	Retrieve(ctx context.Context, userID, query string, topK int) ([]Scored, error)

	// Forget removes a record by ID.
	Forget(ctx context.Context, userID, id string) error

	Close() error
}

// Embedder produces vector embeddings from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
	Close() error
}

// Result is one vector search hit.
type Result struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]any
}

// VectorStore abstracts the similarity index.
type VectorStore interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// memoriesCollection is the single collection episodic records live in;
// user scoping happens through metadata filters.
const memoriesCollection = "memories"

// EpisodicStore implements Store on top of an Embedder and a VectorStore.
type EpisodicStore struct {
	embedder Embedder
	vectors  VectorStore
}

func NewEpisodicStore(embedder Embedder, vectors VectorStore) (*EpisodicStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	return &EpisodicStore{embedder: embedder, vectors: vectors}, nil
}

func (s *EpisodicStore) Save(ctx context.Context, rec Record) (Record, error) {
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

	vector, err := s.embedder.Embed(ctx, rec.Text)
	if err != nil {
		return Record{}, fmt.Errorf("failed to embed memory: %w", err)
	}

	metadata := map[string]any{
		"content":    rec.Text,
		"user_id":    rec.UserID,
		"created_at": rec.CreatedAt.Format(time.RFC3339),
	}
	for i, tag := range rec.Tags {
		metadata[fmt.Sprintf("tag_%d", i)] = tag
	}
	for k, v := range rec.Metadata {
		metadata["meta_"+k] = v
	}

	if err := s.vectors.Upsert(ctx, memoriesCollection, rec.ID, vector, metadata); err != nil {
		return Record{}, fmt.Errorf("failed to store memory: %w", err)
	}
	return rec, nil
}

func (s *EpisodicStore) Retrieve(ctx context.Context, userID, query string, topK int) ([]Scored, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}
	if topK <= 0 {
		topK = 5
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.vectors.Search(ctx, memoriesCollection, vector, topK,
		map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	out := make([]Scored, 0, len(hits))
	for _, hit := range hits {
		rec := Record{
			ID:     hit.ID,
			UserID: userID,
			Text:   hit.Content,
		}
		if ts, ok := hit.Metadata["created_at"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				rec.CreatedAt = parsed
			}
		}
		out = append(out, Scored{Record: rec, Score: hit.Score})
	}
	return out, nil
}

func (s *EpisodicStore) Forget(ctx context.Context, userID, id string) error {
	if id == "" {
		return fmt.Errorf("memory ID cannot be empty")
	}
	return s.vectors.Delete(ctx, memoriesCollection, id)
}

func (s *EpisodicStore) Close() error {
	embErr := s.embedder.Close()
	vecErr := s.vectors.Close()
	if embErr != nil {
		return embErr
	}
	return vecErr
}

var _ Store = (*EpisodicStore)(nil)
