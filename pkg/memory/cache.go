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
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultEmbedCacheSize bounds the embedding cache. Seniors revisit the
// same stories often, so hit rates are high even with a modest cap.
const defaultEmbedCacheSize = 512

// CachingEmbedder wraps an Embedder with a bounded LRU cache keyed by a
// hash of the input text. Identical texts embed once.
type CachingEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

func NewCachingEmbedder(inner Embedder, size int) (*CachingEmbedder, error) {
	if inner == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if size <= 0 {
		size = defaultEmbedCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachingEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embedCacheKey(c.inner.Model(), text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

func (c *CachingEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *CachingEmbedder) Model() string  { return c.inner.Model() }
func (c *CachingEmbedder) Close() error   { return c.inner.Close() }

// Len reports how many embeddings are currently cached.
func (c *CachingEmbedder) Len() int { return c.cache.Len() }

func embedCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

var _ Embedder = (*CachingEmbedder)(nil)
