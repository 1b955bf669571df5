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

// Package contextmgr assembles prompt context under a token budget.
//
// Callers register content sources with priorities; Optimize picks the
// highest-value subset that fits the cap and reports a stable-prefix
// fingerprint so upstream prompt caches can be keyed on the invariant
// leading portion of the assembled context.
package contextmgr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/keepsake-ai/keepsake/pkg/tokens"
)

// SourceType labels what kind of content a source carries.
type SourceType string

const (
	SourceSystemPrompt SourceType = "system_prompt"
	SourcePersona      SourceType = "persona"
	SourceMemory       SourceType = "memory"
	SourceHistory      SourceType = "history"
	SourceToolDefs     SourceType = "tool_defs"
	SourceUserInput    SourceType = "user_input"
	SourceScratch      SourceType = "scratch"
)

// Source is one candidate piece of prompt context.
type Source struct {
	ID       string
	Type     SourceType
	Content  string
	Priority int
	Required bool
}

// Assembly is the result of one Optimize call.
type Assembly struct {
	// Included sources in final prompt order (priority descending,
	// insertion order breaking ties).
	Included []Source

	// Content is the included sources' content joined by blank lines,
	// ready for prompt embedding.
	Content string

	// TotalTokens is the estimated token count of Content.
	TotalTokens int

	// ExcludedIDs lists sources dropped to fit the cap.
	ExcludedIDs []string

	// StablePrefixSources counts the leading included sources whose
	// content is byte-identical to the previous assembly.
	StablePrefixSources int

	// StablePrefixLen is the byte length of that stable leading portion
	// of Content.
	StablePrefixLen int

	// StablePrefixHash is the SHA-256 hex digest of the stable prefix,
	// usable as a prompt-cache key. Empty when no prefix is stable.
	StablePrefixHash string
}

// Manager holds the source set and the previous assembly's shape for
// stable-prefix detection. Safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	capTokens int
	sources   map[string]Source
	order     []string

	// previous assembly's (id, content hash) pairs in included order
	prevShape []sourceShape
}

type sourceShape struct {
	id   string
	hash [32]byte
}

// NewManager creates a manager with the given token cap.
func NewManager(capTokens int) *Manager {
	if capTokens <= 0 {
		capTokens = 4000
	}
	return &Manager{
		capTokens: capTokens,
		sources:   make(map[string]Source),
	}
}

// SetSource adds or replaces a source by ID.
func (m *Manager) SetSource(src Source) error {
	if src.ID == "" {
		return fmt.Errorf("source ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sources[src.ID]; !exists {
		m.order = append(m.order, src.ID)
	}
	m.sources[src.ID] = src
	return nil
}

// RemoveSource drops a source; unknown IDs are a no-op.
func (m *Manager) RemoveSource(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sources[id]; !exists {
		return
	}
	delete(m.sources, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Cap returns the configured token cap.
func (m *Manager) Cap() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capTokens
}

// Optimize assembles the best-fitting context.
//
// Required sources are always included, even when they alone exceed the
// cap (the overflow is logged, not fatal). Optional sources are appended
// greedily in priority order while their estimated tokens still fit.
func (m *Manager) Optimize() Assembly {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]Source, 0, len(m.order))
	for _, id := range m.order {
		candidates = append(candidates, m.sources[id])
	}
	// Stable sort keeps insertion order between equal priorities.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	var included []Source
	var excluded []string
	used := 0

	for _, src := range candidates {
		cost := tokens.Estimate(src.Content)
		if src.Required {
			included = append(included, src)
			used += cost
			continue
		}
		if used+cost <= m.capTokens {
			included = append(included, src)
			used += cost
		} else {
			excluded = append(excluded, src.ID)
		}
	}

	if used > m.capTokens {
		slog.Warn("required context sources exceed token cap",
			"estimated_tokens", used,
			"cap", m.capTokens)
	}

	parts := make([]string, len(included))
	shape := make([]sourceShape, len(included))
	for i, src := range included {
		parts[i] = src.Content
		shape[i] = sourceShape{id: src.ID, hash: sha256.Sum256([]byte(src.Content))}
	}
	content := strings.Join(parts, "\n\n")

	assembly := Assembly{
		Included:    included,
		Content:     content,
		TotalTokens: tokens.Estimate(content),
		ExcludedIDs: excluded,
	}

	stable := stablePrefixCount(m.prevShape, shape)
	if stable > 0 {
		prefix := strings.Join(parts[:stable], "\n\n")
		sum := sha256.Sum256([]byte(prefix))
		assembly.StablePrefixSources = stable
		assembly.StablePrefixLen = len(prefix)
		assembly.StablePrefixHash = hex.EncodeToString(sum[:])
	}
	m.prevShape = shape

	return assembly
}

func stablePrefixCount(prev, curr []sourceShape) int {
	n := 0
	for n < len(prev) && n < len(curr) {
		if prev[n].id != curr[n].id || prev[n].hash != curr[n].hash {
			break
		}
		n++
	}
	return n
}
