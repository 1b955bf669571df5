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
	"sync"
	"time"
)

// HaltReason names why a run stopped before completing normally.
type HaltReason string

const (
	HaltMaxSteps      HaltReason = "MAX_STEPS"
	HaltTimeout       HaltReason = "TIMEOUT"
	HaltTokenBudget   HaltReason = "TOKEN_BUDGET"
	HaltCostBudget    HaltReason = "COST_BUDGET"
	HaltReplanLimit   HaltReason = "REPLAN_LIMIT"
	HaltUserInterrupt HaltReason = "USER_INTERRUPT"
	HaltUnrecoverable HaltReason = "UNRECOVERABLE"
)

// Step is one executed reasoning step.
type Step struct {
	Index       int
	Thought     string
	RawThought  string
	Action      string
	ActionInput map[string]any
	Observation string
	Success     bool
	Tokens      int
	CostCents   float64
	Duration    time.Duration
}

// RunContext is the mutable state of one run. The owning runner mutates
// it only through the named operations below; everything else sees
// read-only copies. Counters are monotonically non-decreasing.
type RunContext struct {
	mu sync.Mutex

	goal      string
	userID    string
	sessionID string
	startedAt time.Time

	steps        []Step
	intermediate map[string]any

	tokens      int
	costCents   float64
	replanCount int
	maxReplans  int

	lastError   error
	haltReason  HaltReason
	finalAnswer string
}

// NewRunContext creates the context for one run.
func NewRunContext(goal, userID, sessionID string, maxReplans int) *RunContext {
	return &RunContext{
		goal:         goal,
		userID:       userID,
		sessionID:    sessionID,
		startedAt:    time.Now(),
		intermediate: make(map[string]any),
		maxReplans:   maxReplans,
	}
}

func (rc *RunContext) Goal() string      { return rc.goal }
func (rc *RunContext) UserID() string    { return rc.userID }
func (rc *RunContext) SessionID() string { return rc.sessionID }

// AddStep appends a step, stamping its index.
func (rc *RunContext) AddStep(s Step) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	s.Index = len(rc.steps)
	rc.steps = append(rc.steps, s)
}

// Steps returns a copy of the executed steps in order.
func (rc *RunContext) Steps() []Step {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]Step, len(rc.steps))
	copy(out, rc.steps)
	return out
}

func (rc *RunContext) StepCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.steps)
}

// RecordUsage charges tokens and cost to the run.
func (rc *RunContext) RecordUsage(tokens int, costCents float64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if tokens > 0 {
		rc.tokens += tokens
	}
	if costCents > 0 {
		rc.costCents += costCents
	}
}

func (rc *RunContext) Tokens() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.tokens
}

func (rc *RunContext) CostCents() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.costCents
}

// RecordReplan increments the replan counter and returns the new count.
func (rc *RunContext) RecordReplan() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.replanCount++
	return rc.replanCount
}

func (rc *RunContext) ReplanCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.replanCount
}

// SetHaltReason records why the run stopped; the first reason wins.
func (rc *RunContext) SetHaltReason(reason HaltReason) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.haltReason == "" {
		rc.haltReason = reason
	}
}

func (rc *RunContext) HaltReason() HaltReason {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.haltReason
}

// SetFinalAnswer stores the answer returned to the user.
func (rc *RunContext) SetFinalAnswer(answer string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.finalAnswer = answer
}

func (rc *RunContext) FinalAnswer() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.finalAnswer
}

// SetIntermediateResult stores a named intermediate value (plan, tool
// descriptions, optimized context).
func (rc *RunContext) SetIntermediateResult(name string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.intermediate[name] = value
}

// IntermediateResult fetches a named intermediate value.
func (rc *RunContext) IntermediateResult(name string) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.intermediate[name]
	return v, ok
}

// SetLastError records the most recent handler failure.
func (rc *RunContext) SetLastError(err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.lastError = err
}

func (rc *RunContext) LastError() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lastError
}

// Elapsed returns the wall-clock time since the run started.
func (rc *RunContext) Elapsed() time.Duration {
	return time.Since(rc.startedAt)
}
