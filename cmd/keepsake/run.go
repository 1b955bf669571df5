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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keepsake-ai/keepsake/pkg/agent"
	"github.com/keepsake-ai/keepsake/pkg/config"
	"github.com/keepsake-ai/keepsake/pkg/continuity"
	"github.com/keepsake-ai/keepsake/pkg/improve"
	"github.com/keepsake-ai/keepsake/pkg/llms"
	"github.com/keepsake-ai/keepsake/pkg/memory"
	"github.com/keepsake-ai/keepsake/pkg/observability"
	"github.com/keepsake-ai/keepsake/pkg/tools"
	"github.com/keepsake-ai/keepsake/pkg/wellbeing"
)

// RunCmd runs one goal through the reasoning loop and prints the result.
// Without a real provider configured it uses the offline mock, which is
// enough to exercise routing, budgets, wellbeing screening, and memory
// tools end to end.
type RunCmd struct {
	Goal string `arg:"" help:"What the user said."`

	User    string `help:"User identifier." default:"local"`
	Session string `help:"Session identifier." default:"cli"`
	Trace   bool   `help:"Print the step trace after the answer."`
	Answer  string `help:"Canned answer for the offline mock model." default:"What a lovely thing to talk about. Tell me more when you're ready."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	cleanup, err := setupLogging(cli, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Interrupted, halting run")
		cancel()
	}()

	if cfg.Tracing.Enabled {
		if _, err := observability.InitGlobalTracer(ctx, cfg.Tracing); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	var metrics observability.Metrics = observability.NoopMetrics{}
	if cfg.Metrics.Enabled {
		prom, err := observability.InitMetrics(ctx, cfg.Metrics)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		metrics = prom
	}

	runner, err := c.buildRunner(cfg, metrics)
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, c.Goal, agent.Context{
		UserID:    c.User,
		SessionID: c.Session,
	})
	if err != nil {
		return err
	}

	fmt.Println(result.FinalAnswer)
	fmt.Println()
	status := "completed"
	if !result.Success {
		status = "halted"
		if result.HaltReason != "" {
			status = fmt.Sprintf("halted (%s)", result.HaltReason)
		}
	}
	fmt.Printf("[%s in %s, %d steps, %d tokens, %.2f¢]\n",
		status, result.Duration.Round(time.Millisecond), len(result.Steps), result.Tokens, result.CostCents)

	if c.Trace {
		for _, step := range result.Steps {
			outcome := "ok"
			if !step.Success {
				outcome = "failed"
			}
			fmt.Printf("  %d. %s (%s): %s\n", step.Index+1, step.Action, outcome, step.Thought)
		}
	}
	return nil
}

// buildRunner assembles the full runtime from config.
func (c *RunCmd) buildRunner(cfg *config.Config, metrics observability.Metrics) (*agent.Runner, error) {
	store, err := buildMemoryStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterMemoryTools(registry, store); err != nil {
		return nil, err
	}

	var guard *wellbeing.Guard
	if cfg.Wellbeing.Enabled {
		guard = wellbeing.NewGuard(wellbeing.Config{
			MinConfidence:       cfg.Wellbeing.MinConfidence,
			RecurrenceThreshold: cfg.Wellbeing.RecurrenceThreshold,
		})
	}

	sessions, err := buildContinuity(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := c.resolveProvider(cfg)
	if err != nil {
		return nil, err
	}

	return agent.NewRunner(agent.RunnerOptions{
		Config:     runnerConfig(cfg),
		Provider:   provider,
		Router:     llms.NewRouterWithProfile(llms.Profile(cfg.Router.Profile)),
		Tools:      registry,
		Guard:      guard,
		Memories:   store,
		Continuity: sessions,
		Improve:    improve.NewManager(),
		Metrics:    metrics,
	})
}

// resolveProvider looks up the configured provider by name. Real vendor
// providers register here as they are added; the offline mock is always
// available.
func (c *RunCmd) resolveProvider(cfg *config.Config) (llms.Provider, error) {
	providers := llms.NewRegistry()
	if err := providers.RegisterProvider("offline", c.offlineProvider()); err != nil {
		return nil, err
	}

	name := cfg.Router.Provider
	if name == "" {
		name = "offline"
	}
	return providers.GetProvider(name)
}

// offlineProvider scripts the mock so a run reaches a final answer
// without any network access.
func (c *RunCmd) offlineProvider() llms.Provider {
	return llms.NewMockProvider("keepsake-offline").
		Respond("Classify the intent", `{"intent":"QUESTION","confidence":0.85,"topic":"conversation"}`).
		Respond("Think about the next step",
			fmt.Sprintf(`{"thought":"I can answer this directly.","action":"Final Answer","actionInput":{"answer":%q}}`, c.Answer)).
		Default(c.Answer)
}

func runnerConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		AgentID:                 cfg.AgentID,
		MaxSteps:                cfg.Runner.MaxSteps,
		TimeoutMs:               cfg.Runner.TimeoutMs,
		TokenBudget:             cfg.Runner.TokenBudget,
		CostBudgetCents:         cfg.Runner.CostBudgetCents,
		MaxReplanAttempts:       cfg.Runner.MaxReplanAttempts,
		SkipIntentForSimple:     true,
		SimpleQueryThreshold:    cfg.Runner.SimpleQueryThreshold,
		MaxThoughtLength:        cfg.Runner.MaxThoughtLength,
		EnableCompanionFeatures: cfg.Runner.EnableCompanionFeatures,
		ValidatePlans:           cfg.Runner.ValidatePlans,
		SystemPrompt:            cfg.Runner.SystemPrompt,
		ContextTokenCap:         cfg.Runner.ContextTokenCap,
	}
}

// buildMemoryStore returns a persistent chromem-backed store when a
// persist path is configured, otherwise the in-process store.
func buildMemoryStore(cfg *config.Config) (memory.Store, error) {
	if cfg.Memory.PersistPath == "" {
		return memory.NewInMemoryStore(), nil
	}

	vectors, err := memory.NewChromemStore(memory.ChromemConfig{
		PersistPath: cfg.Memory.PersistPath,
		Compress:    cfg.Memory.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	var embedder memory.Embedder = memory.NewHashEmbedder(256)
	if cfg.Memory.CacheSize > 0 {
		embedder, err = memory.NewCachingEmbedder(embedder, cfg.Memory.CacheSize)
		if err != nil {
			return nil, err
		}
	}
	return memory.NewEpisodicStore(embedder, vectors)
}

// buildContinuity wires the session store, with Redis when configured
// and the local fallback otherwise.
func buildContinuity(cfg *config.Config) (*continuity.Manager, error) {
	if cfg.Continuity.RedisAddr == "" {
		return continuity.NewManager(nil), nil
	}

	cache, err := continuity.NewRedisCache(context.Background(), continuity.RedisConfig{
		Addr:     cfg.Continuity.RedisAddr,
		Password: cfg.Continuity.RedisPassword,
		DB:       cfg.Continuity.RedisDB,
	})
	if err != nil {
		// The manager degrades to its local tier; a missing Redis should
		// not stop a conversation.
		slog.Warn("Redis unavailable, using local session store", "error", err)
		return continuity.NewManager(nil), nil
	}
	return continuity.NewManager(cache), nil
}
