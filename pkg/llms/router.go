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

package llms

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// budgetFloorCents is the remaining-budget threshold below which the router
// forces a flash-tier model regardless of score.
const budgetFloorCents = 5.0

// nominalRequestTokens sizes the per-request cost estimate the cap check
// uses; actual usage is unknown at routing time.
const nominalRequestTokens = 2000

// complexityMarkers is scanned in priority order; the first group with a hit
// wins. Case-insensitive substring match.
var complexityMarkers = []struct {
	complexity TaskComplexity
	markers    []string
}{
	{ComplexitySafetyCritical, []string{"harm", "hurt", "emergency", "danger"}},
	{ComplexityReasoning, []string{"plan", "reason", "step by step", "analyze"}},
	{ComplexityExtraction, []string{"extract", "list", "entities"}},
	{ComplexitySummarization, []string{"summarize", "tldr", "brief"}},
}

// shortPromptThreshold classifies very short prompts as CLASSIFICATION when
// no marker matched.
const shortPromptThreshold = 100

// InferComplexity classifies a prompt when the caller supplies no hint.
func InferComplexity(prompt string) TaskComplexity {
	lower := strings.ToLower(prompt)
	for _, group := range complexityMarkers {
		for _, marker := range group.markers {
			if strings.Contains(lower, marker) {
				return group.complexity
			}
		}
	}
	if len(prompt) < shortPromptThreshold {
		return ComplexityClassification
	}
	return ComplexityReasoning
}

// Router picks a model for a prompt under a budget.
//
// Models are considered in registration order; score ties keep the earlier
// registration.
type Router struct {
	mu     sync.RWMutex
	models []ModelInfo
	byID   map[string]int
}

func NewRouter() *Router {
	return &Router{byID: make(map[string]int)}
}

// NewRouterWithProfile builds a router preloaded with the preset lineup for
// the given profile.
func NewRouterWithProfile(profile Profile) *Router {
	r := NewRouter()
	for _, info := range ProfileModels(profile) {
		// Preset IDs are unique; registration cannot fail.
		_ = r.RegisterModel(info)
	}
	return r
}

// RegisterModel adds a routable model. Duplicate IDs are rejected.
func (r *Router) RegisterModel(info ModelInfo) error {
	if info.ID == "" {
		return fmt.Errorf("model ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[info.ID]; exists {
		return fmt.Errorf("model '%s' already registered", info.ID)
	}
	r.byID[info.ID] = len(r.models)
	r.models = append(r.models, info)
	return nil
}

// Models returns the registered models in registration order.
func (r *Router) Models() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelInfo, len(r.models))
	copy(out, r.models)
	return out
}

// Route selects a model for the prompt. hint may be empty, in which case the
// complexity is inferred from the prompt text.
func (r *Router) Route(prompt string, hint TaskComplexity, budget Budget) (Decision, error) {
	complexity := hint
	if complexity == "" {
		complexity = InferComplexity(prompt)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.models) == 0 {
		return Decision{}, fmt.Errorf("no models registered")
	}

	var candidates []ModelInfo
	for _, m := range r.models {
		if m.QualityFor(complexity) >= budget.MinQuality {
			candidates = append(candidates, m)
		}
	}

	if len(candidates) == 0 {
		// Nothing meets the quality floor; degrade loudly rather than fail
		// the run.
		fallback := r.models[0]
		reason := fmt.Sprintf("warning: no model meets min quality %.2f for %s, falling back to %s",
			budget.MinQuality, complexity, fallback.ID)
		slog.Warn("model router falling back below quality floor",
			"complexity", string(complexity),
			"min_quality", budget.MinQuality,
			"model", fallback.ID)
		return Decision{ModelID: fallback.ID, Info: fallback, Complexity: complexity, Reason: reason}, nil
	}

	if budget.PerRequestCapCents > 0 {
		var affordable []ModelInfo
		for _, m := range candidates {
			if estimatedRequestCost(m) <= budget.PerRequestCapCents {
				affordable = append(affordable, m)
			}
		}
		if len(affordable) == 0 {
			// Every qualifying model blows the per-request cap; degrade
			// loudly to the cheapest rather than fail the run.
			cheapest := candidates[0]
			for _, m := range candidates[1:] {
				if m.AvgCostPer1K < cheapest.AvgCostPer1K {
					cheapest = m
				}
			}
			reason := fmt.Sprintf("warning: no model fits per-request cap %.2f¢, falling back to cheapest %s",
				budget.PerRequestCapCents, cheapest.ID)
			slog.Warn("model router falling back above per-request cap",
				"cap_cents", budget.PerRequestCapCents,
				"model", cheapest.ID)
			return Decision{ModelID: cheapest.ID, Info: cheapest, Complexity: complexity, Reason: reason}, nil
		}
		candidates = affordable
	}

	if budget.RemainingCents < budgetFloorCents {
		for _, m := range candidates {
			if m.Tier == TierFlash {
				return Decision{
					ModelID:    m.ID,
					Info:       m,
					Complexity: complexity,
					Reason: fmt.Sprintf("budget %.1f¢ remaining forces flash tier: %s",
						budget.RemainingCents, m.ID),
				}, nil
			}
		}
	}

	best := candidates[0]
	bestScore := routeScore(best, complexity)
	for _, m := range candidates[1:] {
		if score := routeScore(m, complexity); score > bestScore {
			best = m
			bestScore = score
		}
	}

	return Decision{
		ModelID:    best.ID,
		Info:       best,
		Complexity: complexity,
		Reason: fmt.Sprintf("selected %s for %s (quality %.2f, cost %.2f¢/1K)",
			best.ID, complexity, best.QualityFor(complexity), best.AvgCostPer1K),
	}, nil
}

// estimatedRequestCost approximates one call's cost at the nominal request
// size.
func estimatedRequestCost(m ModelInfo) float64 {
	return m.AvgCostPer1K * nominalRequestTokens / 1000
}

// routeScore balances quality against cost. The +0.1 keeps free models from
// dividing by zero while still rewarding cheapness.
func routeScore(m ModelInfo, task TaskComplexity) float64 {
	return m.QualityFor(task) / (m.AvgCostPer1K + 0.1)
}

// ProfileModels returns the preset lineup for a profile. The first entry is
// the fallback model when nothing qualifies.
func ProfileModels(profile Profile) []ModelInfo {
	flash := ModelInfo{
		ID:           "gemini-2.0-flash",
		Tier:         TierFlash,
		AvgCostPer1K: 0.02,
		MaxTokens:    2048,
		Temperature:  0.4,
		QualityScores: map[TaskComplexity]float64{
			ComplexityClassification: 0.85,
			ComplexityExtraction:     0.80,
			ComplexitySummarization:  0.78,
			ComplexityReasoning:      0.62,
			ComplexitySafetyCritical: 0.55,
		},
	}
	standard := ModelInfo{
		ID:           "gpt-4o-mini",
		Tier:         TierStandard,
		AvgCostPer1K: 0.06,
		MaxTokens:    4096,
		Temperature:  0.5,
		QualityScores: map[TaskComplexity]float64{
			ComplexityClassification: 0.88,
			ComplexityExtraction:     0.86,
			ComplexitySummarization:  0.85,
			ComplexityReasoning:      0.78,
			ComplexitySafetyCritical: 0.72,
		},
	}
	pro := ModelInfo{
		ID:           "claude-sonnet-4",
		Tier:         TierPro,
		AvgCostPer1K: 0.9,
		MaxTokens:    8192,
		Temperature:  0.6,
		QualityScores: map[TaskComplexity]float64{
			ComplexityClassification: 0.92,
			ComplexityExtraction:     0.93,
			ComplexitySummarization:  0.94,
			ComplexityReasoning:      0.95,
			ComplexitySafetyCritical: 0.96,
		},
	}

	switch profile {
	case ProfileFast:
		return []ModelInfo{flash, standard}
	case ProfileReasoning:
		return []ModelInfo{pro, standard, flash}
	case ProfileSafety:
		return []ModelInfo{pro, flash}
	case ProfileBalanced:
		fallthrough
	default:
		return []ModelInfo{standard, flash, pro}
	}
}
