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

// Package config loads and validates the runtime configuration.
//
// Configuration is YAML with ${VAR} and ${VAR:-default} environment
// expansion; .env files are loaded first so local development needs no
// exported shell state.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keepsake-ai/keepsake/pkg/observability"
)

// RunnerConfig bounds one agent run.
type RunnerConfig struct {
	MaxSteps             int     `yaml:"max_steps"`
	TimeoutMs            int     `yaml:"timeout_ms"`
	TokenBudget          int     `yaml:"token_budget"`
	CostBudgetCents      float64 `yaml:"cost_budget_cents"`
	MaxReplanAttempts    int     `yaml:"max_replan_attempts"`
	SimpleQueryThreshold int     `yaml:"simple_query_threshold"`
	MaxThoughtLength     int     `yaml:"max_thought_length"`

	SystemPrompt            string `yaml:"system_prompt"`
	EnableCompanionFeatures bool   `yaml:"enable_companion_features"`
	ValidatePlans           bool   `yaml:"validate_plans"`
	ContextTokenCap         int    `yaml:"context_token_cap"`
}

// DefaultRunnerConfig returns the standard budgets.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxSteps:             5,
		TimeoutMs:            30000,
		TokenBudget:          8000,
		CostBudgetCents:      20,
		MaxReplanAttempts:    2,
		SimpleQueryThreshold: 50,
		MaxThoughtLength:     1000,
		SystemPrompt:         "You are a warm, patient voice biographer helping an elderly user preserve their life stories.",
		ValidatePlans:        true,
		ContextTokenCap:      4000,
	}
}

// applyDefaults fills zero fields from DefaultRunnerConfig.
func (c *RunnerConfig) applyDefaults() {
	d := DefaultRunnerConfig()
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

// RouterConfig selects the model lineup and provider.
type RouterConfig struct {
	Profile    string  `yaml:"profile"` // FAST | BALANCED | REASONING | SAFETY
	Provider   string  `yaml:"provider"`
	MinQuality float64 `yaml:"min_quality"`
}

// WellbeingConfig tunes the guard.
type WellbeingConfig struct {
	Enabled             bool    `yaml:"enabled"`
	MinConfidence       float64 `yaml:"min_confidence"`
	RecurrenceThreshold int     `yaml:"recurrence_threshold"`
}

// ContinuityConfig configures the two-tier session store.
type ContinuityConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// MemoryConfig configures episodic memory persistence.
type MemoryConfig struct {
	PersistPath string `yaml:"persist_path"`
	Compress    bool   `yaml:"compress"`
	CacheSize   int    `yaml:"embed_cache_size"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Color   bool   `yaml:"color"`
	Verbose bool   `yaml:"verbose"`
}

// Config is the root document.
type Config struct {
	AgentID string `yaml:"agent_id"`

	Runner     RunnerConfig                `yaml:"runner"`
	Router     RouterConfig                `yaml:"router"`
	Wellbeing  WellbeingConfig             `yaml:"wellbeing"`
	Continuity ContinuityConfig            `yaml:"continuity"`
	Memory     MemoryConfig                `yaml:"memory"`
	Logging    LoggingConfig               `yaml:"logging"`
	Tracing    observability.TracerConfig  `yaml:"tracing"`
	Metrics    observability.MetricsConfig `yaml:"metrics"`
}

// Default returns a runnable zero-config setup.
func Default() *Config {
	cfg := &Config{
		AgentID: "biographer",
		Runner:  DefaultRunnerConfig(),
		Router:  RouterConfig{Profile: "BALANCED", Provider: "offline"},
		Wellbeing: WellbeingConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
	return cfg
}

// Load reads, expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes with env expansion and applies defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded := ExpandEnvVarsInData(raw)

	// Re-encode so typed decoding sees the expanded values.
	normalized, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}

	// Decode over the defaults so absent keys inherit them while an
	// explicit false still wins.
	cfg := Default()
	if err := yaml.Unmarshal(normalized, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AgentID == "" {
		c.AgentID = "biographer"
	}
	c.Runner.applyDefaults()
	if c.Router.Profile == "" {
		c.Router.Profile = "BALANCED"
	}
	if c.Router.Provider == "" {
		c.Router.Provider = "offline"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	switch c.Router.Profile {
	case "FAST", "BALANCED", "REASONING", "SAFETY":
	default:
		return fmt.Errorf("invalid router profile %q", c.Router.Profile)
	}
	if c.Router.MinQuality < 0 || c.Router.MinQuality > 1 {
		return fmt.Errorf("router min_quality must be in [0,1], got %v", c.Router.MinQuality)
	}
	if c.Wellbeing.MinConfidence < 0 || c.Wellbeing.MinConfidence > 1 {
		return fmt.Errorf("wellbeing min_confidence must be in [0,1], got %v", c.Wellbeing.MinConfidence)
	}
	if c.Runner.MaxSteps > 100 {
		return fmt.Errorf("runner max_steps %d is unreasonably large", c.Runner.MaxSteps)
	}
	return nil
}
