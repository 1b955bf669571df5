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

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// InitMetrics wires the OTel meter to a Prometheus exporter and returns
// the recorder. When cfg.Port is set, a /metrics HTTP server is started.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("keepsake")

	runDuration, err := meter.Float64Histogram(
		"keepsake_run_duration_seconds",
		metric.WithDescription("Agent run duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	runsTotal, err := meter.Int64Counter(
		"keepsake_runs_total",
		metric.WithDescription("Total agent runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	runsHalted, err := meter.Int64Counter(
		"keepsake_runs_halted_total",
		metric.WithDescription("Agent runs halted by budget or interrupt"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create halted runs counter: %w", err)
	}

	runTokens, err := meter.Int64Counter(
		"keepsake_run_tokens_total",
		metric.WithDescription("Total tokens consumed by runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run tokens counter: %w", err)
	}

	runCostCents, err := meter.Float64Counter(
		"keepsake_run_cost_cents_total",
		metric.WithDescription("Total run cost in cents"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run cost counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"keepsake_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"keepsake_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		"keepsake_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		"keepsake_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		"keepsake_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLMs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		"keepsake_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLMs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		"keepsake_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	wellbeingAlerts, err := meter.Int64Counter(
		"keepsake_wellbeing_alerts_total",
		metric.WithDescription("Wellbeing assessments at or above HIGH risk"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create wellbeing alerts counter: %w", err)
	}

	m := &PrometheusMetrics{
		runDuration:     runDuration,
		runsTotal:       runsTotal,
		runsHalted:      runsHalted,
		runTokens:       runTokens,
		runCostCents:    runCostCents,
		toolDuration:    toolDuration,
		toolCallsTotal:  toolCalls,
		toolErrorsTotal: toolErrors,
		llmDuration:     llmDuration,
		llmInputTokens:  llmInputTokens,
		llmOutputTokens: llmOutputTokens,
		llmErrorsTotal:  llmErrors,
		wellbeingAlerts: wellbeingAlerts,
	}

	if cfg.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		m.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			_ = m.server.ListenAndServe()
		}()
	}

	return m, nil
}
