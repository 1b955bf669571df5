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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunTracer records one span per run phase under a root agent_run span.
type RunTracer struct {
	tracer trace.Tracer
}

func NewRunTracer() *RunTracer {
	return &RunTracer{tracer: GetTracer("keepsake/agent")}
}

// StartRun opens the root span and returns its trace ID for the result
// bundle.
func (t *RunTracer) StartRun(ctx context.Context, agentID, userID, sessionID, goal string) (context.Context, trace.Span, string) {
	ctx, span := t.tracer.Start(ctx, SpanAgentRun, trace.WithAttributes(
		attribute.String(AttrAgentID, agentID),
		attribute.String(AttrUserID, userID),
		attribute.String(AttrSessionID, sessionID),
		attribute.String(AttrGoal, goal),
	))
	return ctx, span, span.SpanContext().TraceID().String()
}

// StartPhase opens a child span named after the run phase.
func (t *RunTracer) StartPhase(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndPhase closes a phase span, recording the error if present.
func (t *RunTracer) EndPhase(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ContextStabilized emits the prompt-cache fingerprint event on the
// current span.
func (t *RunTracer) ContextStabilized(ctx context.Context, prefixLen int, prefixHash string) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(EventContextStabilized, trace.WithAttributes(
		attribute.Int("prefix_len", prefixLen),
		attribute.String("prefix_hash", prefixHash),
	))
}

// TaskDecomposed records the subgoal split on the current span.
func (t *RunTracer) TaskDecomposed(ctx context.Context, subgoals int) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(EventTaskDecomposed, trace.WithAttributes(
		attribute.Int("subgoals", subgoals),
	))
}

// ToolResult records a tool dispatch outcome on the current span.
func (t *RunTracer) ToolResult(ctx context.Context, toolID string, success bool, durationMs int64) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(EventToolResult, trace.WithAttributes(
		attribute.String(AttrToolID, toolID),
		attribute.Bool("success", success),
		attribute.Int64("duration_ms", durationMs),
	))
}

// InteractionLearned records that a run was fed to the improvement
// miner.
func (t *RunTracer) InteractionLearned(ctx context.Context, agentID string, success bool) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(EventInteractionLearned, trace.WithAttributes(
		attribute.String(AttrAgentID, agentID),
		attribute.Bool("success", success),
	))
}

// MemoriesRetrieved records a long-term memory pull into the planning
// context.
func (t *RunTracer) MemoriesRetrieved(ctx context.Context, count int) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(EventLongTermMemoryRetrieved, trace.WithAttributes(
		attribute.Int("memories", count),
	))
}
