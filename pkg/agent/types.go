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

package agent

import (
	"time"

	"github.com/keepsake-ai/keepsake/pkg/wellbeing"
)

// Message is one prior conversation turn, newest last.
type Message struct {
	Role    string
	Content string
}

// Context is the per-invocation bundle handed to Run by the caller.
// It is not mutated during the run.
type Context struct {
	UserID    string
	SessionID string
	Messages  []Message
	Memories  []string
}

// Intent labels what the user wants from this turn.
type Intent string

const (
	IntentRecallMemory Intent = "RECALL_MEMORY"
	IntentRecordMemory Intent = "RECORD_MEMORY"
	IntentQuestion     Intent = "QUESTION"
	IntentGreeting     Intent = "GREETING"
	IntentTask         Intent = "TASK"
	IntentOther        Intent = "OTHER"
)

// RecognizedIntent is the classifier's output.
type RecognizedIntent struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Topic      string  `json:"topic,omitempty"`
}

// ObservationType classifies what a step's result told us.
type ObservationType string

const (
	ObservationInformation  ObservationType = "INFORMATION"
	ObservationConfirmation ObservationType = "CONFIRMATION"
	ObservationContradict   ObservationType = "CONTRADICTION"
	ObservationDiscovery    ObservationType = "DISCOVERY"
	ObservationError        ObservationType = "ERROR"
	ObservationInsufficient ObservationType = "INSUFFICIENT"
)

// ProcessedObservation is the structured interpretation of one step
// result.
type ProcessedObservation struct {
	Type            ObservationType
	Insight         string
	Confidence      float64
	InvalidatesPlan bool
	Raw             string
}

// Result is the bundle every run returns. The runtime never propagates
// raw errors to callers; failures surface here as a fallback answer with
// Success=false.
type Result struct {
	Success      bool
	FinalAnswer  string
	Steps        []Step
	HaltReason   HaltReason
	Tokens       int
	CostCents    float64
	ReplanCount  int
	Duration     time.Duration
	TraceID      string
	Intent       RecognizedIntent
	Observations []ProcessedObservation
	Wellbeing    *wellbeing.Assessment
}

// Config tunes one runner instance.
type Config struct {
	AgentID string

	MaxSteps          int
	TimeoutMs         int
	TokenBudget       int
	CostBudgetCents   float64
	MaxReplanAttempts int

	// SkipIntentForSimple fast-tracks goals shorter than
	// SimpleQueryThreshold straight to synthesis.
	SkipIntentForSimple  bool
	SimpleQueryThreshold int

	// MaxThoughtLength caps stored chain-of-thought; the original text is
	// kept on the step for tracing.
	MaxThoughtLength int

	// EnableCompanionFeatures turns on wellbeing screening and response
	// post-processing.
	EnableCompanionFeatures bool

	// ValidatePlans rejects ReAct steps naming tools the registry does not
	// hold, without dispatching them.
	ValidatePlans bool

	SystemPrompt    string
	ContextTokenCap int
}

// DefaultConfig returns the standard budgets and thresholds.
func DefaultConfig() Config {
	return Config{
		AgentID:                 "biographer",
		MaxSteps:                5,
		TimeoutMs:               30000,
		TokenBudget:             8000,
		CostBudgetCents:         20,
		MaxReplanAttempts:       2,
		SkipIntentForSimple:     true,
		SimpleQueryThreshold:    50,
		MaxThoughtLength:        1000,
		EnableCompanionFeatures: true,
		ValidatePlans:           true,
		SystemPrompt:            "You are a warm, patient voice biographer helping an elderly user preserve their life stories.",
		ContextTokenCap:         4000,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.AgentID == "" {
		c.AgentID = d.AgentID
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = d.TimeoutMs
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = d.TokenBudget
	}
	if c.CostBudgetCents <= 0 {
		c.CostBudgetCents = d.CostBudgetCents
	}
	if c.MaxReplanAttempts <= 0 {
		c.MaxReplanAttempts = d.MaxReplanAttempts
	}
	if c.SimpleQueryThreshold <= 0 {
		c.SimpleQueryThreshold = d.SimpleQueryThreshold
	}
	if c.MaxThoughtLength <= 0 {
		c.MaxThoughtLength = d.MaxThoughtLength
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.ContextTokenCap <= 0 {
		c.ContextTokenCap = d.ContextTokenCap
	}
}

func (c Config) budgets() Budgets {
	return Budgets{
		MaxSteps:        c.MaxSteps,
		Timeout:         time.Duration(c.TimeoutMs) * time.Millisecond,
		TokenBudget:     c.TokenBudget,
		CostBudgetCents: c.CostBudgetCents,
	}
}
