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

// Package team orchestrates linear pipelines of agents with handoffs,
// approval gates, and critique.
package team

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keepsake-ai/keepsake/pkg/agent"
)

// MessageType labels inter-agent messages.
type MessageType string

const (
	MessageHandoff   MessageType = "HANDOFF"
	MessageRequest   MessageType = "REQUEST"
	MessageResponse  MessageType = "RESPONSE"
	MessageCritique  MessageType = "CRITIQUE"
	MessageApproval  MessageType = "APPROVAL"
	MessageRejection MessageType = "REJECTION"
)

// Message is one immutable inter-agent record.
type Message struct {
	ID        string
	From      string
	To        string
	Type      MessageType
	Payload   string
	Context   map[string]any
	Timestamp time.Time
}

// maxMessageHistory bounds the retained message log.
const maxMessageHistory = 500

// messageLog is a bounded, queryable history of pipeline messages.
type messageLog struct {
	mu       sync.Mutex
	messages []Message
}

func (l *messageLog) record(from, to string, t MessageType, payload string, ctx map[string]any) Message {
	msg := Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Type:      t,
		Payload:   payload,
		Context:   ctx,
		Timestamp: time.Now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
	if len(l.messages) > maxMessageHistory {
		l.messages = l.messages[len(l.messages)-maxMessageHistory:]
	}
	return msg
}

func (l *messageLog) all() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *messageLog) byAgent(agentID string) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Message
	for _, m := range l.messages {
		if m.From == agentID || m.To == agentID {
			out = append(out, m)
		}
	}
	return out
}

// TransferredContext is the shared state carried between stages: named
// data, accumulated observations, and the remaining pipeline budget.
type TransferredContext struct {
	mu sync.Mutex

	data         map[string]any
	observations []string

	remainingTokens    int
	remainingCostCents float64
}

// NewTransferredContext creates a context with a pipeline-wide budget.
func NewTransferredContext(tokenBudget int, costBudgetCents float64) *TransferredContext {
	return &TransferredContext{
		data:               make(map[string]any),
		remainingTokens:    tokenBudget,
		remainingCostCents: costBudgetCents,
	}
}

// Set stores a named value visible to later stages.
func (tc *TransferredContext) Set(key string, value any) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.data[key] = value
}

// Get fetches a named value.
func (tc *TransferredContext) Get(key string) (any, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	v, ok := tc.data[key]
	return v, ok
}

// Charge subtracts a stage's observed usage from the remaining budget.
func (tc *TransferredContext) Charge(tokens int, costCents float64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.remainingTokens -= tokens
	tc.remainingCostCents -= costCents
}

// Remaining reports the budget left for later stages.
func (tc *TransferredContext) Remaining() (int, float64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.remainingTokens, tc.remainingCostCents
}

// AddObservations appends stage observations for downstream stages.
func (tc *TransferredContext) AddObservations(obs ...string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.observations = append(tc.observations, obs...)
}

// Observations returns the accumulated observations in order.
func (tc *TransferredContext) Observations() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]string, len(tc.observations))
	copy(out, tc.observations)
	return out
}

// snapshot renders the context for message records and approval
// requests.
func (tc *TransferredContext) snapshot() map[string]any {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	data := make(map[string]any, len(tc.data))
	for k, v := range tc.data {
		data[k] = v
	}
	return map[string]any{
		"data":                 data,
		"observations":         len(tc.observations),
		"remaining_tokens":     tc.remainingTokens,
		"remaining_cost_cents": tc.remainingCostCents,
	}
}

// FailurePolicy tells a pipeline what to do when a stage fails.
type FailurePolicy string

const (
	FailAbort FailurePolicy = "abort"
	FailSkip  FailurePolicy = "skip"
	FailRetry FailurePolicy = "retry"
)

// Stage is one position in a pipeline, occupied by exactly one agent.
type Stage struct {
	Name    string
	AgentID string

	// InputTransform builds the stage's goal from the previous stage's
	// output. Nil passes the previous output through unchanged.
	InputTransform func(prevOutput string, tc *TransferredContext) string

	ApprovalRequired bool
	OnFailure        FailurePolicy
	MaxRetries       int

	// SkipIf short-circuits the stage with a skipped-success result.
	SkipIf func(tc *TransferredContext) bool

	// TimeoutMs overrides the stage's run deadline. Zero uses the
	// caller's context as-is.
	TimeoutMs int
}

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
	StageRejected  StageStatus = "rejected"
)

// StageResult records one stage's outcome.
type StageResult struct {
	Stage    string
	AgentID  string
	Status   StageStatus
	Output   string
	Attempts int
	Error    string
	Run      *agent.Result
}

// PipelineResult is the outcome of a whole pipeline.
type PipelineResult struct {
	Success     bool
	Stages      []StageResult
	FinalOutput string
}

// ApprovalRequest asks an external gatekeeper to sign off on a stage's
// output.
type ApprovalRequest struct {
	Checkpoint string
	Data       string
	Context    map[string]any
	TimeoutMs  int
}

// ApprovalDecision is the gatekeeper's verdict.
type ApprovalDecision struct {
	Approved  bool
	Approver  string
	Comments  string
	Timestamp time.Time
}

// CritiqueResult is a critic agent's structured review.
type CritiqueResult struct {
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Summary     string   `json:"summary,omitempty"`
}
