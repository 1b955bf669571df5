package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func echoContract(id string) Contract {
	return Contract{
		ID:          id,
		Name:        id,
		Description: "echoes its input",
		Enabled:     true,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
		Execute: func(ctx context.Context, input map[string]any, ec ExecutionContext) (any, error) {
			return input["text"], nil
		},
	}
}

func TestExecute_HappyPath(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoContract("echo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hello"}, ExecutionContext{UserID: "margaret"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Error("result not successful")
	}
	if result.Output != "hello" {
		t.Errorf("Output = %v, want hello", result.Output)
	}
}

func TestExecute_ToolNotFound(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), "missing", nil, ExecutionContext{})
	assertCode(t, err, ErrToolNotFound, false)
}

func TestExecute_Disabled(t *testing.T) {
	r := NewRegistry()
	c := echoContract("echo")
	c.Enabled = false
	_ = r.Register(c)

	_, err := r.Execute(context.Background(), "echo", map[string]any{"text": "x"}, ExecutionContext{})
	assertCode(t, err, ErrToolDisabled, false)
}

func TestExecute_PermissionBlocked(t *testing.T) {
	r := NewRegistry()
	c := echoContract("echo")
	c.DefaultPermission = PermissionBlocked
	_ = r.Register(c)

	_, err := r.Execute(context.Background(), "echo", map[string]any{"text": "x"}, ExecutionContext{})
	assertCode(t, err, ErrPermissionDenied, false)
}

func TestExecute_PermissionOverrideWins(t *testing.T) {
	r := NewRegistry()
	c := echoContract("echo")
	c.DefaultPermission = PermissionBlocked
	_ = r.Register(c)

	ec := ExecutionContext{
		PermissionOverrides: map[string]Permission{"echo": PermissionAllowed},
	}
	result, err := r.Execute(context.Background(), "echo", map[string]any{"text": "x"}, ec)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Permission != PermissionAllowed {
		t.Errorf("Permission = %s, want ALLOWED", result.Permission)
	}
}

func TestExecute_ConfirmTreatedAsAllowedStandalone(t *testing.T) {
	r := NewRegistry()
	c := echoContract("echo")
	c.DefaultPermission = PermissionConfirm
	_ = r.Register(c)

	result, err := r.Execute(context.Background(), "echo", map[string]any{"text": "x"}, ExecutionContext{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Error("CONFIRM without an approval handler should dispatch")
	}
}

func TestExecute_InvalidInput(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoContract("echo"))

	_, err := r.Execute(context.Background(), "echo", map[string]any{"text": 42}, ExecutionContext{})
	assertCode(t, err, ErrInvalidInput, false)

	_, err = r.Execute(context.Background(), "echo", map[string]any{}, ExecutionContext{})
	assertCode(t, err, ErrInvalidInput, false)
}

func TestExecute_DryRunShortCircuits(t *testing.T) {
	executed := false
	r := NewRegistry()
	c := echoContract("echo")
	c.Execute = func(ctx context.Context, input map[string]any, ec ExecutionContext) (any, error) {
		executed = true
		return nil, nil
	}
	_ = r.Register(c)

	result, err := r.Execute(context.Background(), "echo", map[string]any{"text": "x"}, ExecutionContext{DryRun: true})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if executed {
		t.Error("dry run must not execute the tool")
	}
	if !result.Success || !result.DryRun {
		t.Errorf("result = %+v, want successful dry run", result)
	}
}

func TestExecute_ExecutionError(t *testing.T) {
	r := NewRegistry()
	c := echoContract("echo")
	c.Execute = func(ctx context.Context, input map[string]any, ec ExecutionContext) (any, error) {
		return nil, errors.New("backend unavailable")
	}
	_ = r.Register(c)

	_, err := r.Execute(context.Background(), "echo", map[string]any{"text": "x"}, ExecutionContext{})
	assertCode(t, err, ErrExecution, true)
}

func TestExecute_RateLimit(t *testing.T) {
	r := NewRegistry()
	c := echoContract("echo")
	c.RatePerMinute = 2
	_ = r.Register(c)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := r.Execute(ctx, "echo", map[string]any{"text": "x"}, ExecutionContext{}); err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
	}

	_, err := r.Execute(ctx, "echo", map[string]any{"text": "x"}, ExecutionContext{})
	assertCode(t, err, ErrRateLimit, true)
}

func TestExecute_ValidationFailuresDoNotConsumeRate(t *testing.T) {
	r := NewRegistry()
	c := echoContract("echo")
	c.RatePerMinute = 1
	_ = r.Register(c)

	ctx := context.Background()
	// Invalid calls must not consume the single slot.
	for i := 0; i < 3; i++ {
		_, _ = r.Execute(ctx, "echo", map[string]any{}, ExecutionContext{})
	}

	if _, err := r.Execute(ctx, "echo", map[string]any{"text": "x"}, ExecutionContext{}); err != nil {
		t.Fatalf("valid call after invalid ones error = %v", err)
	}
}

func TestAuditLog_RecordsShapeOnly(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoContract("echo"))

	_, _ = r.Execute(context.Background(), "echo", map[string]any{"text": "my social security number"}, ExecutionContext{UserID: "margaret"})

	log := r.Log()
	if len(log) != 1 {
		t.Fatalf("log length = %d, want 1", len(log))
	}
	entry := log[0]
	if entry.ToolID != "echo" || !entry.Success {
		t.Errorf("entry = %+v", entry)
	}
	if got := entry.InputSummary["text"]; got != fmt.Sprintf("string(%d)", len("my social security number")) {
		t.Errorf("InputSummary[text] = %q, want type tag only", got)
	}
	for _, v := range entry.InputSummary {
		if v == "my social security number" {
			t.Error("audit log leaked an input value")
		}
	}
}

func TestAuditLog_TailPreservingEviction(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoContract("echo"))

	ctx := context.Background()
	for i := 0; i < maxAuditEntries+10; i++ {
		_, _ = r.Execute(ctx, "echo", map[string]any{"text": "x"}, ExecutionContext{})
	}

	log := r.Log()
	if len(log) != maxAuditEntries {
		t.Fatalf("log length = %d, want %d", len(log), maxAuditEntries)
	}
	// The newest entry survives eviction.
	if log[len(log)-1].Timestamp.Before(log[0].Timestamp) {
		t.Error("log is not oldest-first")
	}
}

func TestToolStats(t *testing.T) {
	r := NewRegistry()
	c := echoContract("echo")
	fail := false
	c.Execute = func(ctx context.Context, input map[string]any, ec ExecutionContext) (any, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return "ok", nil
	}
	_ = r.Register(c)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = r.Execute(ctx, "echo", map[string]any{"text": "x"}, ExecutionContext{})
	}
	fail = true
	_, _ = r.Execute(ctx, "echo", map[string]any{"text": "x"}, ExecutionContext{})

	stats := r.ToolStats()["echo"]
	if stats.Calls != 4 {
		t.Errorf("Calls = %d, want 4", stats.Calls)
	}
	if stats.SuccessRate != 0.75 {
		t.Errorf("SuccessRate = %.2f, want 0.75", stats.SuccessRate)
	}
	if stats.LastUsed.IsZero() {
		t.Error("LastUsed not recorded")
	}
	if stats.P95Latency < 0 || stats.MeanLatency < 0 {
		t.Error("negative latency aggregate")
	}
}

func TestSetEnabled(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoContract("echo"))

	if err := r.SetEnabled("echo", false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	_, err := r.Execute(context.Background(), "echo", map[string]any{"text": "x"}, ExecutionContext{})
	assertCode(t, err, ErrToolDisabled, false)

	if err := r.SetEnabled("missing", true); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestDescribe_ListsEnabledOnly(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoContract("echo"))
	hidden := echoContract("hidden")
	hidden.Enabled = false
	_ = r.Register(hidden)

	desc := r.Describe()
	if !containsLine(desc, "echo") {
		t.Errorf("Describe() missing echo: %q", desc)
	}
	if containsLine(desc, "hidden") {
		t.Errorf("Describe() lists disabled tool: %q", desc)
	}
}

func containsLine(text, toolID string) bool {
	return len(text) > 0 && (stringContains(text, "- "+toolID+": "))
}

func stringContains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func assertCode(t *testing.T, err error, code ErrorCode, retryable bool) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	var terr *ToolError
	if !errors.As(err, &terr) {
		t.Fatalf("error %T is not *ToolError", err)
	}
	if terr.Code != code {
		t.Errorf("Code = %s, want %s", terr.Code, code)
	}
	if terr.Retryable != retryable {
		t.Errorf("Retryable = %v, want %v", terr.Retryable, retryable)
	}
}

func TestRegister_Validation(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Contract{Execute: func(ctx context.Context, i map[string]any, ec ExecutionContext) (any, error) { return nil, nil }}); err == nil {
		t.Error("expected error for empty ID")
	}
	if err := r.Register(Contract{ID: "noexec"}); err == nil {
		t.Error("expected error for missing execute function")
	}
	if err := r.Register(echoContract("dup")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(echoContract("dup")); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestRateWindowConstant(t *testing.T) {
	if rateWindow != 60*time.Second {
		t.Errorf("rateWindow = %s, want 60s", rateWindow)
	}
}
