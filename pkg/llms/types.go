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

// Package llms defines the LLM provider port and the complexity-aware
// model router.
//
// Concrete vendors live behind the Provider interface; the runtime only
// routes, budgets, and parses. Providers must surface vendor errors as
// returned errors - the runtime categorizes them, never swallows them.
package llms

import (
	"context"
)

// Options configures a single generation request.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider is the LLM port. Implementations wrap one vendor endpoint.
type Provider interface {
	// GenerateText performs a plain completion request.
	GenerateText(ctx context.Context, prompt string, opts Options) (string, error)

	// GenerateJSON requests a JSON document conforming to schema (may be
	// nil). The returned text is the raw payload; callers parse it with
	// pkg/llmjson so fenced or damaged output still recovers.
	GenerateJSON(ctx context.Context, prompt string, schema map[string]any, opts Options) (string, error)

	// ModelName returns the default model identifier for this provider.
	ModelName() string

	Close() error
}

// TaskComplexity classifies what a prompt demands from a model.
type TaskComplexity string

const (
	ComplexitySafetyCritical TaskComplexity = "SAFETY_CRITICAL"
	ComplexityReasoning      TaskComplexity = "REASONING"
	ComplexityExtraction     TaskComplexity = "EXTRACTION"
	ComplexitySummarization  TaskComplexity = "SUMMARIZATION"
	ComplexityClassification TaskComplexity = "CLASSIFICATION"
)

// Tier groups models by cost/latency class.
type Tier string

const (
	// TierFlash marks cheap low-latency models the router falls back to
	// when the remaining budget runs out.
	TierFlash    Tier = "flash"
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

// ModelInfo describes one routable model.
type ModelInfo struct {
	ID            string
	Tier          Tier
	AvgCostPer1K  float64 // cents per 1K tokens, blended input/output
	MaxTokens     int
	Temperature   float64
	QualityScores map[TaskComplexity]float64 // 0..1 per task type
}

// QualityFor returns the model's quality score for a task, 0 when unknown.
func (m ModelInfo) QualityFor(task TaskComplexity) float64 {
	if m.QualityScores == nil {
		return 0
	}
	return m.QualityScores[task]
}

// Budget constrains a routing decision.
type Budget struct {
	RemainingCents     float64
	PerRequestCapCents float64
	MinQuality         float64
}

// Decision is the outcome of a route: the chosen model, the complexity the
// router worked with, and a human-readable reason for audit logs.
type Decision struct {
	ModelID    string
	Info       ModelInfo
	Complexity TaskComplexity
	Reason     string
}

// Profile selects a preset model lineup for the router.
type Profile string

const (
	ProfileFast      Profile = "FAST"
	ProfileBalanced  Profile = "BALANCED"
	ProfileReasoning Profile = "REASONING"
	ProfileSafety    Profile = "SAFETY"
)
