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

const (
	AttrAgentID     = "agent.id"
	AttrUserID      = "user.id"
	AttrSessionID   = "session.id"
	AttrGoal        = "run.goal"
	AttrState       = "run.state"
	AttrHaltReason  = "run.halt_reason"
	AttrToolID      = "tool.id"
	AttrModelID     = "llm.model"
	AttrComplexity  = "llm.complexity"
	AttrTokensInput = "llm.tokens.input"
	AttrErrorType   = "error.type"

	// Span names, one per run phase.
	SpanAgentRun       = "agent_run"
	SpanIntent         = "intent_recognition"
	SpanDecomposition  = "task_decomposition"
	SpanPlanning       = "planning"
	SpanExecuteStep    = "execute_step"
	SpanToolExecution  = "tool_execution"
	SpanObservation    = "observation_processing"
	SpanReflection     = "reflection"
	SpanSynthesis      = "synthesis"
	SpanReplanning     = "replanning"

	// Run events, emitted on the active span.
	//
	// EventContextStabilized fires when the context assembly reports a
	// non-empty stable prefix usable for prompt caching.
	EventContextStabilized = "context_stabilized"
	// EventTaskDecomposed fires when a goal is split into subgoals.
	EventTaskDecomposed = "task_decomposed"
	// EventToolResult fires after every tool dispatch.
	EventToolResult = "tool_result"
	// EventInteractionLearned fires when a run is recorded for
	// self-improvement mining.
	EventInteractionLearned = "interaction_learned"
	// EventLongTermMemoryRetrieved fires when episodic memories are
	// pulled into the planning context.
	EventLongTermMemoryRetrieved = "long_term_memory_retrieved"

	DefaultServiceName = "keepsake"
)
