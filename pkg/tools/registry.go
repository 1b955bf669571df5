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

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	// rateWindow is the sliding window for per-tool rate limits.
	rateWindow = 60 * time.Second

	// maxAuditEntries bounds the audit log; eviction drops the oldest
	// entries and keeps the tail.
	maxAuditEntries = 1000
)

// registeredTool pairs a contract with its compiled validators.
type registeredTool struct {
	contract     Contract
	inputSchema  *jsonschema.Schema
	outputSchema *jsonschema.Schema
}

// Registry holds tool contracts and dispatches calls through the fixed
// pipeline. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
	order []string

	// dispatches holds per-tool timestamps inside the rate window
	dispatches map[string][]time.Time

	audit []LogEntry

	logger *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]*registeredTool),
		dispatches: make(map[string][]time.Time),
		logger:     slog.Default().With("component", "tools"),
	}
}

// Register adds a contract. Schemas are compiled here so dispatch never
// pays compilation cost.
func (r *Registry) Register(c Contract) error {
	if c.ID == "" {
		return fmt.Errorf("tool ID cannot be empty")
	}
	if c.Execute == nil {
		return fmt.Errorf("tool '%s' has no execute function", c.ID)
	}

	rt := &registeredTool{contract: c}

	if c.InputSchema != nil {
		schema, err := compileSchema(c.InputSchema)
		if err != nil {
			return fmt.Errorf("tool '%s' input schema: %w", c.ID, err)
		}
		rt.inputSchema = schema
	}
	if c.OutputSchema != nil {
		schema, err := compileSchema(c.OutputSchema)
		if err != nil {
			return fmt.Errorf("tool '%s' output schema: %w", c.ID, err)
		}
		rt.outputSchema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[c.ID]; exists {
		return fmt.Errorf("tool '%s' already registered", c.ID)
	}
	r.tools[c.ID] = rt
	r.order = append(r.order, c.ID)
	return nil
}

// Get returns a contract copy by ID.
func (r *Registry) Get(id string) (Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.tools[id]
	if !ok {
		return Contract{}, false
	}
	return rt.contract, true
}

// List returns all contracts in registration order.
func (r *Registry) List() []Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Contract, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tools[id].contract)
	}
	return out
}

// SetEnabled flips a tool's enabled flag.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.tools[id]
	if !ok {
		return fmt.Errorf("tool '%s' not found", id)
	}
	rt.contract.Enabled = enabled
	return nil
}

// Describe renders a tool list for prompt embedding: name, description,
// and parameter names per line.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, id := range r.order {
		c := r.tools[id].contract
		if !c.Enabled {
			continue
		}
		b.WriteString("- ")
		b.WriteString(c.ID)
		b.WriteString(": ")
		b.WriteString(c.Description)
		if params := schemaParamNames(c.InputSchema); len(params) > 0 {
			b.WriteString(" (input: ")
			b.WriteString(strings.Join(params, ", "))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func schemaParamNames(schema map[string]any) []string {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches one tool call through the pipeline. The returned
// error, when non-nil, is always a *ToolError; Result.Error carries the
// same value for callers that prefer inspecting the bundle.
func (r *Registry) Execute(ctx context.Context, toolID string, input map[string]any, ec ExecutionContext) (Result, error) {
	start := time.Now()
	result := Result{ToolID: toolID, DryRun: ec.DryRun}

	fail := func(terr *ToolError) (Result, error) {
		result.Error = terr
		result.Duration = time.Since(start)
		r.appendLog(toolID, result, ec, input)
		return result, terr
	}

	r.mu.RLock()
	rt, exists := r.tools[toolID]
	r.mu.RUnlock()

	if !exists {
		return fail(newToolError(ErrToolNotFound, false, "tool '%s' not found", toolID))
	}

	contract := rt.contract
	result.Permission = ec.effectivePermission(&contract)

	if !contract.Enabled {
		return fail(newToolError(ErrToolDisabled, false, "tool '%s' is disabled", toolID))
	}

	if result.Permission == PermissionBlocked {
		return fail(newToolError(ErrPermissionDenied, false, "tool '%s' is blocked", toolID))
	}

	if retryAfter, limited := r.checkRate(toolID, contract.RatePerMinute); limited {
		terr := newToolError(ErrRateLimit, true, "tool '%s' rate limit of %d/min exceeded, retry in %s",
			toolID, contract.RatePerMinute, retryAfter.Round(time.Millisecond))
		return fail(terr)
	}

	if rt.inputSchema != nil {
		if err := validateValue(rt.inputSchema, input); err != nil {
			terr := newToolError(ErrInvalidInput, false, "tool '%s' input invalid", toolID)
			terr.Cause = err
			return fail(terr)
		}
	}

	if ec.DryRun {
		result.Success = true
		result.Output = "dry run: input validated, not executed"
		result.Duration = time.Since(start)
		r.appendLog(toolID, result, ec, input)
		return result, nil
	}

	// Input has cleared every gate; this dispatch consumes rate budget
	// whether or not the execution itself succeeds.
	r.recordDispatch(toolID)

	output, err := contract.Execute(ctx, input, ec)
	result.Duration = time.Since(start)

	if err != nil {
		terr, ok := err.(*ToolError)
		if !ok {
			terr = &ToolError{Code: ErrExecution, Message: "tool execution failed", Retryable: true, Cause: err}
		}
		result.Error = terr
		r.appendLog(toolID, result, ec, input)
		return result, terr
	}

	result.Success = true
	result.Output = output

	if rt.outputSchema != nil {
		if verr := validateValue(rt.outputSchema, output); verr != nil {
			// Output drift is logged, never fatal.
			r.logger.Warn("tool output failed schema validation",
				"tool", toolID,
				"error", verr)
		}
	}

	r.appendLog(toolID, result, ec, input)
	return result, nil
}

// checkRate reports whether a dispatch would exceed the tool's sliding
// window. Expired timestamps are pruned in place.
func (r *Registry) checkRate(toolID string, perMinute int) (time.Duration, bool) {
	if perMinute <= 0 {
		return 0, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	window := r.dispatches[toolID]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.dispatches[toolID] = kept

	if len(kept) >= perMinute {
		return kept[0].Add(rateWindow).Sub(now), true
	}
	return 0, false
}

func (r *Registry) recordDispatch(toolID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches[toolID] = append(r.dispatches[toolID], time.Now())
}

func (r *Registry) appendLog(toolID string, result Result, ec ExecutionContext, input map[string]any) {
	entry := LogEntry{
		ID:         uuid.NewString(),
		ToolID:     toolID,
		Timestamp:  time.Now(),
		Duration:   result.Duration,
		Success:    result.Success,
		DryRun:     result.DryRun,
		Permission: result.Permission,
		UserID:     ec.UserID,
		SessionID:  ec.SessionID,

		// Shape only; input values never enter the log.
		InputSummary: summarizeInput(input),
	}
	if result.Error != nil {
		entry.ErrorCode = result.Error.Code
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.audit = append(r.audit, entry)
	if len(r.audit) > maxAuditEntries {
		r.audit = r.audit[len(r.audit)-maxAuditEntries:]
	}
}

// Log returns a copy of the audit log, oldest first.
func (r *Registry) Log() []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LogEntry, len(r.audit))
	copy(out, r.audit)
	return out
}

// ToolStats aggregates the audit log per tool.
func (r *Registry) ToolStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type agg struct {
		latencies []time.Duration
		successes int
		last      time.Time
	}
	byTool := make(map[string]*agg)
	for _, e := range r.audit {
		a := byTool[e.ToolID]
		if a == nil {
			a = &agg{}
			byTool[e.ToolID] = a
		}
		a.latencies = append(a.latencies, e.Duration)
		if e.Success {
			a.successes++
		}
		if e.Timestamp.After(a.last) {
			a.last = e.Timestamp
		}
	}

	out := make(map[string]Stats, len(byTool))
	for id, a := range byTool {
		stats := Stats{
			ToolID:   id,
			Calls:    len(a.latencies),
			LastUsed: a.last,
		}
		if stats.Calls > 0 {
			stats.SuccessRate = float64(a.successes) / float64(stats.Calls)

			var total time.Duration
			for _, d := range a.latencies {
				total += d
			}
			stats.MeanLatency = total / time.Duration(stats.Calls)

			sorted := make([]time.Duration, len(a.latencies))
			copy(sorted, a.latencies)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			idx := (95*len(sorted) + 99) / 100
			if idx > 0 {
				idx--
			}
			stats.P95Latency = sorted[idx]
		}
		out[id] = stats
	}
	return out
}
