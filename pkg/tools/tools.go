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

// Package tools implements the tool contract registry.
//
// Every tool is a self-contained contract: metadata, input/output schemas,
// and an execute function. The registry runs a fixed dispatch pipeline
// (existence, enabled, permission, rate limit, validation, dry run,
// execute, output check, audit) and always returns structured errors from
// a closed code set.
package tools

import (
	"context"
	"fmt"
	"time"
)

// ErrorCode is the closed set of tool dispatch failure codes.
type ErrorCode string

const (
	ErrToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	ErrToolDisabled     ErrorCode = "TOOL_DISABLED"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrRateLimit        ErrorCode = "RATE_LIMIT"
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrExecution        ErrorCode = "EXECUTION_ERROR"
)

// ToolError is the structured error every failed dispatch returns.
type ToolError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

func (e *ToolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Cause }

func newToolError(code ErrorCode, retryable bool, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

// Permission is a tool's access level.
type Permission string

const (
	// PermissionAllowed dispatches without any gate.
	PermissionAllowed Permission = "ALLOWED"
	// PermissionConfirm asks the user before dispatch when an approval
	// handler is attached; treated as allowed otherwise.
	PermissionConfirm Permission = "CONFIRM"
	// PermissionApprove requires a caregiver sign-off when an approval
	// handler is attached; treated as allowed otherwise.
	PermissionApprove Permission = "APPROVE"
	// PermissionBlocked always denies.
	PermissionBlocked Permission = "BLOCKED"
)

// ExecuteFunc performs the tool's work. Input has already passed schema
// validation when it arrives here.
type ExecuteFunc func(ctx context.Context, input map[string]any, ec ExecutionContext) (any, error)

// Contract is one registered tool.
type Contract struct {
	ID          string
	Name        string
	Description string
	Category    string

	Enabled           bool
	DefaultPermission Permission

	// RatePerMinute caps dispatches over a 60-second sliding window.
	// Zero means unlimited.
	RatePerMinute int

	// Capabilities tags what the tool can do (e.g. "memory.read"), for
	// planner-side tool selection.
	Capabilities []string

	// EstimatedCostCents and EstimatedLatencyMs are advisory planning
	// metadata, not enforced limits.
	EstimatedCostCents float64
	EstimatedLatencyMs int

	// InputSchema and OutputSchema are JSON Schema documents. A nil
	// InputSchema accepts anything; OutputSchema failures are logged,
	// never fatal.
	InputSchema  map[string]any
	OutputSchema map[string]any

	Execute ExecuteFunc
}

// ExecutionContext carries per-call identity and policy.
type ExecutionContext struct {
	UserID    string
	SessionID string
	AgentID   string

	// DryRun short-circuits after validation without executing.
	DryRun bool

	// PermissionOverrides replace a contract's default permission for
	// this call, keyed by tool ID.
	PermissionOverrides map[string]Permission
}

// effectivePermission resolves the override-then-default chain.
func (ec ExecutionContext) effectivePermission(c *Contract) Permission {
	if p, ok := ec.PermissionOverrides[c.ID]; ok {
		return p
	}
	if c.DefaultPermission == "" {
		return PermissionAllowed
	}
	return c.DefaultPermission
}

// Result is the outcome of one dispatch.
type Result struct {
	ToolID     string
	Success    bool
	Output     any
	Error      *ToolError
	Duration   time.Duration
	DryRun     bool
	Permission Permission
}

// LogEntry is one audit log record. Input is summarized shape-only so
// sensitive values never land in the log.
type LogEntry struct {
	ID           string
	ToolID       string
	Timestamp    time.Time
	Duration     time.Duration
	Success      bool
	ErrorCode    ErrorCode
	InputSummary map[string]string
	DryRun       bool
	Permission   Permission
	UserID       string
	SessionID    string
}

// Stats aggregates the audit log per tool.
type Stats struct {
	ToolID       string
	Calls        int
	SuccessRate  float64
	MeanLatency  time.Duration
	P95Latency   time.Duration
	LastUsed     time.Time
}

// summarizeInput reduces an input map to key -> type tag.
func summarizeInput(input map[string]any) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = typeTag(v)
	}
	return out
}

func typeTag(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("string(%d)", len(t))
	case bool:
		return "bool"
	case int, int32, int64, float32, float64:
		return "number"
	case []any:
		return fmt.Sprintf("array(%d)", len(t))
	case map[string]any:
		return fmt.Sprintf("object(%d keys)", len(t))
	default:
		return fmt.Sprintf("%T", v)
	}
}
