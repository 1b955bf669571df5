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

// Package improve mines agent execution history for recurring failure,
// success, timeout, and cost patterns, and turns them into prioritized
// tuning suggestions.
package improve

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxExecutions  = 1000
	maxPatterns    = 100
	maxSuggestions = 50
	maxAgeDays     = 90

	// emaAlpha weights new samples in the rolling baselines.
	emaAlpha = 0.1

	// anomalyFactor flags executions above this multiple of baseline.
	anomalyFactor = 2.0

	// baselineMinSamples gates anomaly detection until the baseline has
	// seen enough runs to be trustworthy.
	baselineMinSamples = 10
)

// Anomaly tags appended to a record's error tags.
const (
	TagUnusuallySlow      = "unusually_slow"
	TagUnusuallyExpensive = "unusually_expensive"
	TagHighTokenUsage     = "high_token_usage"
)

// PatternFamily names the four mined families.
type PatternFamily string

const (
	FamilyFailure PatternFamily = "failure"
	FamilySuccess PatternFamily = "success"
	FamilyTimeout PatternFamily = "timeout"
	FamilyCost    PatternFamily = "cost"
)

// Execution is one completed agent run.
type Execution struct {
	ID           string
	AgentID      string
	Goal         string
	Success      bool
	TimedOut     bool
	Steps        int
	Duration     time.Duration
	Tokens       int
	CostCents    float64
	Satisfaction float64
	ToolsUsed    []string
	ErrorTags    []string
	Timestamp    time.Time
}

// Baseline is a per-agent exponential moving average over run metrics.
type Baseline struct {
	Samples      int
	SuccessRate  float64
	Duration     time.Duration
	Tokens       float64
	CostCents    float64
	Satisfaction float64
}

// Condition operators.
const (
	OpEquals      = "equals"
	OpContains    = "contains"
	OpGreaterThan = "gt"
	OpLessThan    = "lt"
	OpExists      = "exists"
)

// Condition is one machine-checkable predicate over an execution feature,
// so a pattern can be matched against future runs.
type Condition struct {
	Feature  string
	Operator string
	Value    any
}

// Matches reports whether an execution satisfies every condition of the
// pattern. Unknown features never match.
func (p Pattern) Matches(e Execution) bool {
	for _, c := range p.Conditions {
		if !c.matches(e) {
			return false
		}
	}
	return true
}

func (c Condition) matches(e Execution) bool {
	switch c.Feature {
	case "success":
		return c.Operator == OpEquals && c.Value == e.Success
	case "timed_out":
		return c.Operator == OpEquals && c.Value == e.TimedOut
	case "goal":
		return matchString(c, strings.ToLower(e.Goal))
	case "error_tags":
		return matchList(c, e.ErrorTags)
	case "tools_used":
		return matchList(c, e.ToolsUsed)
	case "steps":
		return matchNumber(c, float64(e.Steps))
	case "tokens":
		return matchNumber(c, float64(e.Tokens))
	case "cost_cents":
		return matchNumber(c, e.CostCents)
	default:
		return false
	}
}

func matchString(c Condition, s string) bool {
	want, ok := c.Value.(string)
	switch c.Operator {
	case OpEquals:
		return ok && s == want
	case OpContains:
		return ok && strings.Contains(s, want)
	case OpExists:
		return s != ""
	default:
		return false
	}
}

func matchList(c Condition, list []string) bool {
	if c.Operator == OpExists {
		return len(list) > 0
	}
	want, ok := c.Value.(string)
	if !ok || c.Operator != OpContains {
		return false
	}
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func matchNumber(c Condition, n float64) bool {
	want, ok := toFloat(c.Value)
	switch c.Operator {
	case OpEquals:
		return ok && n == want
	case OpGreaterThan:
		return ok && n > want
	case OpLessThan:
		return ok && n < want
	case OpExists:
		return n != 0
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

// Pattern is one mined observation.
type Pattern struct {
	ID             string
	Family         PatternFamily
	Signature      string
	Description    string
	Recommendation string
	Conditions     []Condition
	Confidence     float64

	// Impact weighs confidence by how much of the history the pattern
	// covers.
	Impact float64

	Observations int
	UpdatedAt    time.Time
}

// Suggestion is an actionable tuning hint derived from a pattern.
type Suggestion struct {
	ID          string
	PatternID   string
	Family      PatternFamily
	Description string
	Confidence  float64
	Priority    float64
	CreatedAt   time.Time
}

// Manager records executions and mines them. A single lock covers record,
// baseline update, anomaly tagging, and mining; runs are short and the
// simplicity is worth more than the parallelism.
type Manager struct {
	mu         sync.Mutex
	executions []Execution
	patterns   map[string]*Pattern // keyed by signature
	baselines  map[string]*Baseline
}

func NewManager() *Manager {
	return &Manager{
		patterns:  make(map[string]*Pattern),
		baselines: make(map[string]*Baseline),
	}
}

// RecordExecution stores a run, updates baselines, tags anomalies, and
// re-mines patterns.
func (m *Manager) RecordExecution(e Execution) Execution {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tagAnomalies(&e)
	m.updateBaseline(&e)

	m.executions = append(m.executions, e)
	if len(m.executions) > maxExecutions {
		m.executions = m.executions[len(m.executions)-maxExecutions:]
	}

	m.mine()
	return e
}

// Baseline returns a copy of an agent's rolling baseline.
func (m *Manager) Baseline(agentID string) (Baseline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.baselines[agentID]
	if !ok {
		return Baseline{}, false
	}
	return *b, true
}

// Patterns returns the mined patterns, most recently updated first.
func (m *Manager) Patterns() []Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Suggestions derives prioritized suggestions from patterns with
// confidence at or above 0.5, highest priority first.
func (m *Manager) Suggestions() []Suggestion {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Suggestion
	for _, p := range m.patterns {
		if p.Confidence < 0.5 {
			continue
		}
		priority := 1.0 + minFloat(2, float64(p.Observations)/5) + 2*p.Confidence
		if p.Family == FamilyFailure {
			priority++
		}
		out = append(out, Suggestion{
			ID:          uuid.NewString(),
			PatternID:   p.ID,
			Family:      p.Family,
			Description: p.Recommendation,
			Confidence:  p.Confidence,
			Priority:    priority,
			CreatedAt:   p.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

// Prune drops executions past the age cap and re-enforces size caps by
// recency.
func (m *Manager) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	kept := m.executions[:0]
	for _, e := range m.executions {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	m.executions = kept
	if len(m.executions) > maxExecutions {
		m.executions = m.executions[len(m.executions)-maxExecutions:]
	}
	m.enforcePatternCap()
}

func (m *Manager) tagAnomalies(e *Execution) {
	b, ok := m.baselines[e.AgentID]
	if !ok || b.Samples < baselineMinSamples {
		return
	}
	if b.Duration > 0 && float64(e.Duration) > anomalyFactor*float64(b.Duration) {
		e.ErrorTags = append(e.ErrorTags, TagUnusuallySlow)
	}
	if b.CostCents > 0 && e.CostCents > anomalyFactor*b.CostCents {
		e.ErrorTags = append(e.ErrorTags, TagUnusuallyExpensive)
	}
	if b.Tokens > 0 && float64(e.Tokens) > anomalyFactor*b.Tokens {
		e.ErrorTags = append(e.ErrorTags, TagHighTokenUsage)
	}
}

func (m *Manager) updateBaseline(e *Execution) {
	b, ok := m.baselines[e.AgentID]
	if !ok {
		success := 0.0
		if e.Success {
			success = 1.0
		}
		m.baselines[e.AgentID] = &Baseline{
			Samples:      1,
			SuccessRate:  success,
			Duration:     e.Duration,
			Tokens:       float64(e.Tokens),
			CostCents:    e.CostCents,
			Satisfaction: e.Satisfaction,
		}
		return
	}

	success := 0.0
	if e.Success {
		success = 1.0
	}
	b.Samples++
	b.SuccessRate = ema(b.SuccessRate, success)
	b.Duration = time.Duration(ema(float64(b.Duration), float64(e.Duration)))
	b.Tokens = ema(b.Tokens, float64(e.Tokens))
	b.CostCents = ema(b.CostCents, e.CostCents)
	b.Satisfaction = ema(b.Satisfaction, e.Satisfaction)
}

func ema(prev, sample float64) float64 {
	return prev + emaAlpha*(sample-prev)
}

// mine recomputes the four pattern families over the stored executions.
// Caller holds the lock.
func (m *Manager) mine() {
	m.mineFailures()
	m.mineSuccesses()
	m.mineTimeouts()
	m.mineCosts()
	m.enforcePatternCap()
}

func (m *Manager) upsertPattern(family PatternFamily, signature, description, recommendation string, conditions []Condition, confidence float64, observations int) {
	impact := confidence * m.coverage(observations)
	key := string(family) + ":" + signature
	if p, ok := m.patterns[key]; ok {
		p.Confidence = confidence
		p.Impact = impact
		p.Observations = observations
		p.Description = description
		p.Recommendation = recommendation
		p.Conditions = conditions
		p.UpdatedAt = time.Now()
		return
	}
	m.patterns[key] = &Pattern{
		ID:             uuid.NewString(),
		Family:         family,
		Signature:      signature,
		Description:    description,
		Recommendation: recommendation,
		Conditions:     conditions,
		Confidence:     confidence,
		Impact:         impact,
		Observations:   observations,
		UpdatedAt:      time.Now(),
	}
}

// coverage is the share of stored history a pattern's observations span.
// Caller holds the lock.
func (m *Manager) coverage(observations int) float64 {
	if len(m.executions) == 0 {
		return 0
	}
	return minFloat(1, float64(observations)/float64(len(m.executions)))
}

func (m *Manager) mineFailures() {
	var failures []Execution
	for _, e := range m.executions {
		if !e.Success {
			failures = append(failures, e)
		}
	}
	if len(failures) < 3 {
		return
	}

	counts := make(map[string]int)
	for _, e := range failures {
		for _, tag := range e.ErrorTags {
			counts[tag]++
		}
	}
	tag, count := "", 0
	for t, c := range counts {
		if c > count || (c == count && t < tag) {
			tag, count = t, c
		}
	}
	if count < 2 {
		return
	}

	m.upsertPattern(FamilyFailure, tag,
		fmt.Sprintf("%d of %d failures share error tag %q", count, len(failures), tag),
		fmt.Sprintf("Investigate recurring failure cause %q", tag),
		[]Condition{
			{Feature: "success", Operator: OpEquals, Value: false},
			{Feature: "error_tags", Operator: OpContains, Value: tag},
		},
		float64(count)/float64(len(failures)), count)
}

func (m *Manager) mineSuccesses() {
	var successes []Execution
	for _, e := range m.executions {
		if e.Success {
			successes = append(successes, e)
		}
	}
	if len(successes) == 0 {
		return
	}

	usage := make(map[string]int)
	for _, e := range successes {
		seen := make(map[string]struct{})
		for _, tool := range e.ToolsUsed {
			if _, dup := seen[tool]; dup {
				continue
			}
			seen[tool] = struct{}{}
			usage[tool]++
		}
	}

	var tools []string
	var ratioSum float64
	for tool, c := range usage {
		ratio := float64(c) / float64(len(successes))
		if ratio >= 0.5 {
			tools = append(tools, tool)
			ratioSum += ratio
		}
	}
	if len(tools) == 0 {
		return
	}
	sort.Strings(tools)

	conditions := []Condition{{Feature: "success", Operator: OpEquals, Value: true}}
	for _, tool := range tools {
		conditions = append(conditions, Condition{Feature: "tools_used", Operator: OpContains, Value: tool})
	}
	m.upsertPattern(FamilySuccess, strings.Join(tools, "+"),
		fmt.Sprintf("Tools %s appear in at least half of %d successful runs", strings.Join(tools, ", "), len(successes)),
		fmt.Sprintf("Prefer plans that reach for %s early", strings.Join(tools, ", ")),
		conditions,
		ratioSum/float64(len(tools)), len(successes))
}

func (m *Manager) mineTimeouts() {
	var timeouts []Execution
	for _, e := range m.executions {
		if e.TimedOut {
			timeouts = append(timeouts, e)
		}
	}
	if len(timeouts) < 2 {
		return
	}

	var steps, tokens int
	for _, e := range timeouts {
		steps += e.Steps
		tokens += e.Tokens
	}
	meanSteps := float64(steps) / float64(len(timeouts))
	meanTokens := float64(tokens) / float64(len(timeouts))

	m.upsertPattern(FamilyTimeout, "timeouts",
		fmt.Sprintf("%d timed-out runs averaged %.1f steps and %.0f tokens", len(timeouts), meanSteps, meanTokens),
		"Raise the run timeout or reduce task complexity",
		[]Condition{{Feature: "timed_out", Operator: OpEquals, Value: true}},
		minFloat(1, float64(len(timeouts))/4), len(timeouts))
}

func (m *Manager) mineCosts() {
	if len(m.executions) == 0 {
		return
	}
	var total float64
	for _, e := range m.executions {
		total += e.CostCents
	}
	mean := total / float64(len(m.executions))
	if mean <= 0 {
		return
	}

	var expensive []Execution
	for _, e := range m.executions {
		if e.CostCents > 1.5*mean {
			expensive = append(expensive, e)
		}
	}
	if len(expensive) == 0 {
		return
	}

	wordCounts := make(map[string]int)
	for _, e := range expensive {
		seen := make(map[string]struct{})
		for _, w := range strings.Fields(strings.ToLower(e.Goal)) {
			w = strings.Trim(w, ".,!?\"'")
			if len(w) <= 3 {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			wordCounts[w]++
		}
	}
	var words []string
	for w, c := range wordCounts {
		if float64(c)/float64(len(expensive)) >= 0.5 {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return
	}
	sort.Strings(words)

	conditions := []Condition{{Feature: "cost_cents", Operator: OpGreaterThan, Value: 1.5 * mean}}
	for _, w := range words {
		conditions = append(conditions, Condition{Feature: "goal", Operator: OpContains, Value: w})
	}
	m.upsertPattern(FamilyCost, strings.Join(words, "+"),
		fmt.Sprintf("%d high-cost runs share goal terms: %s", len(expensive), strings.Join(words, ", ")),
		fmt.Sprintf("Route goals mentioning %s to cheaper models", strings.Join(words, ", ")),
		conditions,
		minFloat(1, float64(len(expensive))/4), len(expensive))
}

// enforcePatternCap drops the least recently updated patterns over the
// cap. Caller holds the lock.
func (m *Manager) enforcePatternCap() {
	if len(m.patterns) <= maxPatterns {
		return
	}
	all := make([]*Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.Before(all[j].UpdatedAt) })
	for _, p := range all[:len(all)-maxPatterns] {
		delete(m.patterns, string(p.Family)+":"+p.Signature)
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
