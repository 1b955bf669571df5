package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("agent_id: biographer\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Runner.MaxSteps != 5 {
		t.Errorf("MaxSteps = %d, want 5", cfg.Runner.MaxSteps)
	}
	if cfg.Runner.TimeoutMs != 30000 {
		t.Errorf("TimeoutMs = %d, want 30000", cfg.Runner.TimeoutMs)
	}
	if cfg.Runner.TokenBudget != 8000 {
		t.Errorf("TokenBudget = %d, want 8000", cfg.Runner.TokenBudget)
	}
	if cfg.Runner.CostBudgetCents != 20 {
		t.Errorf("CostBudgetCents = %v, want 20", cfg.Runner.CostBudgetCents)
	}
	if cfg.Runner.MaxReplanAttempts != 2 {
		t.Errorf("MaxReplanAttempts = %d, want 2", cfg.Runner.MaxReplanAttempts)
	}
	if cfg.Runner.SimpleQueryThreshold != 50 {
		t.Errorf("SimpleQueryThreshold = %d, want 50", cfg.Runner.SimpleQueryThreshold)
	}
	if cfg.Runner.MaxThoughtLength != 1000 {
		t.Errorf("MaxThoughtLength = %d, want 1000", cfg.Runner.MaxThoughtLength)
	}
	if cfg.Router.Profile != "BALANCED" {
		t.Errorf("Profile = %q, want BALANCED", cfg.Router.Profile)
	}
}

func TestParseOverrides(t *testing.T) {
	yaml := `
runner:
  max_steps: 8
  token_budget: 16000
router:
  profile: REASONING
wellbeing:
  enabled: true
  min_confidence: 0.5
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Runner.MaxSteps != 8 {
		t.Errorf("MaxSteps = %d, want 8", cfg.Runner.MaxSteps)
	}
	if cfg.Runner.TokenBudget != 16000 {
		t.Errorf("TokenBudget = %d, want 16000", cfg.Runner.TokenBudget)
	}
	// Unset fields still get defaults.
	if cfg.Runner.MaxReplanAttempts != 2 {
		t.Errorf("MaxReplanAttempts = %d, want 2", cfg.Runner.MaxReplanAttempts)
	}
	if cfg.Router.Profile != "REASONING" {
		t.Errorf("Profile = %q, want REASONING", cfg.Router.Profile)
	}
	if cfg.Wellbeing.MinConfidence != 0.5 {
		t.Errorf("MinConfidence = %v, want 0.5", cfg.Wellbeing.MinConfidence)
	}
}

func TestParseRejectsBadProfile(t *testing.T) {
	_, err := Parse([]byte("router:\n  profile: TURBO\n"))
	if err == nil {
		t.Fatal("expected error for invalid profile")
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("KEEPSAKE_REDIS_ADDR", "redis.internal:6380")

	yaml := `
continuity:
  redis_addr: ${KEEPSAKE_REDIS_ADDR}
  redis_db: ${KEEPSAKE_REDIS_DB:-3}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Continuity.RedisAddr != "redis.internal:6380" {
		t.Errorf("RedisAddr = %q", cfg.Continuity.RedisAddr)
	}
	if cfg.Continuity.RedisDB != 3 {
		t.Errorf("RedisDB = %d, want 3 from default", cfg.Continuity.RedisDB)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("KS_TEST_VAL", "hello")
	os.Unsetenv("KS_TEST_MISSING")

	tests := []struct {
		in   string
		want string
	}{
		{"${KS_TEST_VAL}", "hello"},
		{"$KS_TEST_VAL", "hello"},
		{"${KS_TEST_MISSING:-fallback}", "fallback"},
		{"${KS_TEST_VAL:-fallback}", "hello"},
		{"${KS_TEST_MISSING}", ""},
		{"prefix-${KS_TEST_VAL}-suffix", "prefix-hello-suffix"},
		{"no vars here", "no vars here"},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseValueCoercion(t *testing.T) {
	if v := parseValue("true"); v != true {
		t.Errorf("parseValue(true) = %v", v)
	}
	if v := parseValue("42"); v != 42 {
		t.Errorf("parseValue(42) = %v", v)
	}
	if v := parseValue("0.75"); v != 0.75 {
		t.Errorf("parseValue(0.75) = %v", v)
	}
	if v := parseValue("plain"); v != "plain" {
		t.Errorf("parseValue(plain) = %v", v)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keepsake.yaml")
	content := []byte("agent_id: test-agent\nrunner:\n  max_steps: 3\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentID != "test-agent" {
		t.Errorf("AgentID = %q", cfg.AgentID)
	}
	if cfg.Runner.MaxSteps != 3 {
		t.Errorf("MaxSteps = %d, want 3", cfg.Runner.MaxSteps)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/keepsake.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() invalid: %v", err)
	}
}

func TestParseBoolDefaultsSurviveDecoding(t *testing.T) {
	cfg, err := Parse([]byte("agent_id: test-agent\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !cfg.Runner.ValidatePlans {
		t.Error("ValidatePlans should default to true when the key is absent")
	}
	if !cfg.Wellbeing.Enabled {
		t.Error("Wellbeing.Enabled should default to true when the key is absent")
	}

	cfg, err = Parse([]byte("runner:\n  validate_plans: false\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Runner.ValidatePlans {
		t.Error("an explicit validate_plans: false must win over the default")
	}
}

func TestParseProviderDefaultsToOffline(t *testing.T) {
	cfg, err := Parse([]byte("agent_id: test-agent\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Router.Provider != "offline" {
		t.Errorf("Provider = %q, want offline", cfg.Router.Provider)
	}

	cfg, err = Parse([]byte("router:\n  provider: anthropic\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Router.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", cfg.Router.Provider)
	}
}
