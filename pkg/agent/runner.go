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

// Package agent implements the reasoning runtime: an explicit state
// machine driving an enhanced ReAct loop under step, time, token, and
// cost budgets.
//
// The runner is the single entry point for a run. It composes the model
// router, tool registry, context manager, prompt registry, and the
// optional wellbeing, memory, continuity, and self-improvement
// collaborators; all of them are injected, none are global.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/keepsake-ai/keepsake/pkg/continuity"
	"github.com/keepsake-ai/keepsake/pkg/contextmgr"
	"github.com/keepsake-ai/keepsake/pkg/improve"
	"github.com/keepsake-ai/keepsake/pkg/llmjson"
	"github.com/keepsake-ai/keepsake/pkg/llms"
	"github.com/keepsake-ai/keepsake/pkg/memory"
	"github.com/keepsake-ai/keepsake/pkg/observability"
	"github.com/keepsake-ai/keepsake/pkg/prompts"
	"github.com/keepsake-ai/keepsake/pkg/tools"
	"github.com/keepsake-ai/keepsake/pkg/wellbeing"
)

const (
	// finalAnswerAction is the ReAct action that ends the loop.
	finalAnswerAction = "Final Answer"

	// errorMarker prefixes failed-step observations.
	errorMarker = "Error:"

	// estimatedOutputTokens approximates completion size for budget
	// accounting; actual usage is unavailable until vendors report it.
	estimatedOutputTokens = 200

	// pastStepWindow bounds how many prior steps the ReAct prompt carries.
	pastStepWindow = 5

	// lowConfidenceFloor routes uncertain intents down the simple path.
	lowConfidenceFloor = 0.3

	// memoryRecallTopK bounds how many long-term memories planning pulls
	// into the context.
	memoryRecallTopK = 5

	fallbackAnswer = "I'm sorry, I lost my train of thought just now. Could we try that again together?"
)

// Intermediate result names cached on the run context.
const (
	resultPlan       = "plan"
	resultToolDescs  = "tool_descriptions"
	resultContext    = "optimized_context"
	resultSubgoals   = "subgoals"
	resultPrefixHash = "context_prefix_hash"
)

// RunnerOptions wires a runner's collaborators. Provider, Router, Tools,
// and Prompts are required; the rest are optional side channels.
type RunnerOptions struct {
	Config   Config
	Provider llms.Provider
	Router   *llms.Router
	Tools    *tools.Registry
	Prompts  *prompts.Registry

	Guard      *wellbeing.Guard
	Empathy    wellbeing.ResponseAdapter
	Memories   memory.Store
	Continuity *continuity.Manager
	Improve    *improve.Manager
	Metrics    observability.Metrics
	Logger     *slog.Logger
}

// Runner drives goals through the reasoning cycle. Safe for concurrent
// use; each run owns its state exclusively.
type Runner struct {
	cfg        Config
	provider   llms.Provider
	router     *llms.Router
	tools      *tools.Registry
	prompts    *prompts.Registry
	guard      *wellbeing.Guard
	empathy    wellbeing.ResponseAdapter
	memories   memory.Store
	continuity *continuity.Manager
	improve    *improve.Manager
	metrics    observability.Metrics
	tracer     *observability.RunTracer
	logger     *slog.Logger
}

// NewRunner validates the options and builds a runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if opts.Prompts == nil {
		opts.Prompts = prompts.NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NoopMetrics{}
	}
	if opts.Empathy == nil {
		opts.Empathy = wellbeing.NewRuleBasedAdapter()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cfg := opts.Config
	cfg.applyDefaults()

	return &Runner{
		cfg:        cfg,
		provider:   opts.Provider,
		router:     opts.Router,
		tools:      opts.Tools,
		prompts:    opts.Prompts,
		guard:      opts.Guard,
		empathy:    opts.Empathy,
		memories:   opts.Memories,
		continuity: opts.Continuity,
		improve:    opts.Improve,
		metrics:    opts.Metrics,
		tracer:     observability.NewRunTracer(),
		logger:     opts.Logger.With("component", "runner", "agent", cfg.AgentID),
	}, nil
}

// run bundles the per-invocation state the handlers operate on.
type run struct {
	r       *Runner
	rc      *RunContext
	machine *Machine
	actx    Context
	ctxmgr  *contextmgr.Manager

	intent         RecognizedIntent
	assessment     *wellbeing.Assessment
	shortCircuited bool
	observations   []ProcessedObservation
	recovered      bool
	toolsUsed      []string
}

// Run executes one goal and always returns a result bundle; the error is
// non-nil only for unusable arguments.
func (r *Runner) Run(ctx context.Context, goal string, actx Context) (Result, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return Result{}, fmt.Errorf("goal cannot be empty")
	}

	rc := NewRunContext(goal, actx.UserID, actx.SessionID, r.cfg.MaxReplanAttempts)
	rn := &run{
		r:       r,
		rc:      rc,
		machine: NewMachine(rc, r.logger),
		actx:    actx,
	}

	ctx, rootSpan, traceID := r.tracer.StartRun(ctx, r.cfg.AgentID, actx.UserID, actx.SessionID, goal)
	defer rootSpan.End()

	start := time.Now()
	rn.machine.Fire(TriggerStart)
	rn.loop(ctx)

	result := rn.buildResult(traceID, time.Since(start))
	r.finish(ctx, rn, result)
	return result, nil
}

// loop dispatches state handlers until the machine reaches an absorbing
// state. Cancellation is observed at every state boundary.
func (rn *run) loop(ctx context.Context) {
	for {
		state := rn.machine.State()
		if state.Terminal() {
			return
		}
		if ctx.Err() != nil {
			rn.rc.SetHaltReason(HaltUserInterrupt)
			rn.machine.Fire(TriggerUserInterrupt)
			return
		}

		switch state {
		case StateRecognizingIntent:
			rn.handleIntent(ctx)
		case StateDecomposingTask:
			rn.handleDecomposition(ctx)
		case StatePlanning:
			rn.handlePlanning(ctx)
		case StateExecuting:
			rn.handleExecuting(ctx)
		case StateObserving:
			rn.handleObserving(ctx)
		case StateReflecting:
			rn.handleReflecting(ctx)
		case StateSynthesizing:
			rn.handleSynthesizing(ctx)
		case StateReplanning:
			rn.handleReplanning(ctx)
		case StateError:
			rn.handleError(ctx)
		}

		if rn.machine.State() == state {
			// A handler failed to fire any transition; stop rather than
			// spin.
			rn.r.logger.Error("state handler made no transition", "state", string(state))
			rn.rc.SetHaltReason(HaltUnrecoverable)
			rn.machine.Fire(TriggerUserInterrupt)
			return
		}
	}
}

func (rn *run) handleIntent(ctx context.Context) {
	ctx, span := rn.r.tracer.StartPhase(ctx, observability.SpanIntent)
	defer rn.r.tracer.EndPhase(span, nil)

	goal := rn.rc.Goal()

	if rn.r.cfg.EnableCompanionFeatures && rn.r.guard != nil {
		assessment := rn.r.guard.Assess(ctx, goal, nil)
		rn.assessment = &assessment
		if assessment.ShortCircuits() {
			rn.r.metrics.RecordWellbeingAlert(ctx, string(assessment.Risk))
			rn.r.logger.Warn("wellbeing short-circuit",
				"risk", string(assessment.Risk),
				"response_type", string(assessment.ResponseType))
			rn.rc.SetFinalAnswer(assessment.SuggestedResponse)
			rn.intent = RecognizedIntent{Intent: IntentOther, Confidence: 1.0}
			rn.shortCircuited = true
			rn.machine.Fire(TriggerSimpleIntent)
			return
		}
	}

	if rn.r.cfg.SkipIntentForSimple && len(goal) < rn.r.cfg.SimpleQueryThreshold {
		rn.intent = RecognizedIntent{Intent: IntentGreeting, Confidence: 1.0}
		rn.machine.Fire(TriggerSimpleIntent)
		return
	}

	prompt, err := rn.r.prompts.Render(prompts.IntentPrompt, map[string]any{"Goal": goal})
	if err != nil {
		rn.rc.SetLastError(err)
		rn.machine.Fire(TriggerIntentError)
		return
	}

	var recognized RecognizedIntent
	if err := rn.generateJSON(ctx, prompt, llms.ComplexityClassification, &recognized); err != nil {
		rn.rc.SetLastError(err)
		rn.machine.Fire(TriggerIntentError)
		return
	}
	rn.intent = recognized

	if recognized.Intent == IntentGreeting || recognized.Confidence < lowConfidenceFloor {
		rn.machine.Fire(TriggerSimpleIntent)
		return
	}
	rn.machine.Fire(TriggerIntentRecognized)
}

// decomposeThreshold is the goal length above which a decomposition call
// is worth its cost.
const decomposeThreshold = 200

func (rn *run) handleDecomposition(ctx context.Context) {
	ctx, span := rn.r.tracer.StartPhase(ctx, observability.SpanDecomposition)
	defer rn.r.tracer.EndPhase(span, nil)

	goal := rn.rc.Goal()
	if len(goal) > decomposeThreshold {
		prompt, err := rn.r.prompts.Render(prompts.DecomposePrompt, map[string]any{"Goal": goal})
		if err == nil {
			var parsed struct {
				Subgoals []string `json:"subgoals"`
			}
			// Decomposition is advisory; a parse failure keeps the
			// monolithic goal.
			if err := rn.generateJSON(ctx, prompt, llms.ComplexityReasoning, &parsed); err == nil && len(parsed.Subgoals) > 0 {
				rn.rc.SetIntermediateResult(resultSubgoals, parsed.Subgoals)
				rn.r.tracer.TaskDecomposed(ctx, len(parsed.Subgoals))
			} else if err != nil {
				rn.r.logger.Debug("task decomposition unparsable, keeping goal monolithic", "error", err)
			}
		}
	}
	rn.machine.Fire(TriggerTaskDecomposed)
}

func (rn *run) handlePlanning(ctx context.Context) {
	ctx, span := rn.r.tracer.StartPhase(ctx, observability.SpanPlanning)
	defer rn.r.tracer.EndPhase(span, nil)

	// One manager per run, so a replan's second Optimize can detect the
	// stable prompt prefix against the first.
	if rn.ctxmgr == nil {
		rn.ctxmgr = contextmgr.NewManager(rn.r.cfg.ContextTokenCap)
	}
	mgr := rn.ctxmgr
	_ = mgr.SetSource(contextmgr.Source{
		ID: "system_prompt", Type: contextmgr.SourceSystemPrompt,
		Content: rn.r.cfg.SystemPrompt, Priority: 100, Required: true,
	})
	_ = mgr.SetSource(contextmgr.Source{
		ID: "goal", Type: contextmgr.SourceUserInput,
		Content: rn.rc.Goal(), Priority: 90, Required: true,
	})
	if len(rn.actx.Memories) > 0 {
		_ = mgr.SetSource(contextmgr.Source{
			ID: "memories", Type: contextmgr.SourceMemory,
			Content: "Known memories:\n" + strings.Join(rn.actx.Memories, "\n"), Priority: 60,
		})
	}
	if recalled := rn.recallMemories(ctx); recalled != "" {
		_ = mgr.SetSource(contextmgr.Source{
			ID: "long_term_memories", Type: contextmgr.SourceMemory,
			Content: recalled, Priority: 55,
		})
	}
	if len(rn.actx.Messages) > 0 {
		var b strings.Builder
		for _, msg := range rn.actx.Messages {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		_ = mgr.SetSource(contextmgr.Source{
			ID: "history", Type: contextmgr.SourceHistory,
			Content: b.String(), Priority: 50,
		})
	}

	assembly := mgr.Optimize()
	if assembly.StablePrefixHash != "" {
		rn.r.tracer.ContextStabilized(ctx, assembly.StablePrefixLen, assembly.StablePrefixHash)
		rn.rc.SetIntermediateResult(resultPrefixHash, assembly.StablePrefixHash)
	}

	rn.rc.SetIntermediateResult(resultContext, assembly.Content)
	rn.rc.SetIntermediateResult(resultToolDescs, rn.r.tools.Describe())
	// The ReAct plan is one virtual step that unrolls dynamically.
	rn.rc.SetIntermediateResult(resultPlan, []string{"REACT_LOOP"})

	rn.machine.Fire(TriggerPlanReady)
}

// recallMemories pulls the most relevant long-term memories for the goal
// into a context block. Retrieval failures degrade to an empty block.
func (rn *run) recallMemories(ctx context.Context) string {
	if rn.r.memories == nil {
		return ""
	}
	hits, err := rn.r.memories.Retrieve(ctx, rn.rc.UserID(), rn.rc.Goal(), memoryRecallTopK)
	if err != nil {
		rn.r.logger.Debug("long-term memory retrieval failed", "error", err)
		return ""
	}
	rn.r.tracer.MemoriesRetrieved(ctx, len(hits))
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Remembered from earlier conversations:")
	for _, h := range hits {
		b.WriteString("\n- ")
		b.WriteString(h.Text)
	}
	return b.String()
}

// reactOutput is the model's step decision.
type reactOutput struct {
	Thought     string         `json:"thought"`
	Action      string         `json:"action"`
	ActionInput map[string]any `json:"actionInput"`
}

func (rn *run) handleExecuting(ctx context.Context) {
	if reason, hit := rn.r.cfg.budgets().Check(rn.rc); hit {
		rn.r.logger.Warn("budget limit reached", "reason", string(reason))
		rn.rc.SetHaltReason(reason)
		rn.machine.Fire(TriggerBudgetExceeded)
		return
	}

	ctx, span := rn.r.tracer.StartPhase(ctx, observability.SpanExecuteStep)
	defer rn.r.tracer.EndPhase(span, nil)

	toolDescs, _ := rn.rc.IntermediateResult(resultToolDescs)
	optimized, _ := rn.rc.IntermediateResult(resultContext)

	steps := rn.rc.Steps()
	past := steps
	if len(past) > pastStepWindow {
		past = past[len(past)-pastStepWindow:]
	}

	prompt, err := rn.r.prompts.Render(prompts.ReactPrompt, map[string]any{
		"SystemPrompt":     rn.r.cfg.SystemPrompt,
		"ToolDescriptions": toolDescs,
		"Context":          optimized,
		"Goal":             rn.rc.Goal(),
		"PastSteps":        past,
	})
	if err != nil {
		rn.rc.SetLastError(err)
		rn.machine.Fire(TriggerStepError)
		return
	}

	stepStart := time.Now()
	var decision reactOutput
	usedTokens, usedCost, genErr := rn.generateJSONUsage(ctx, prompt, llms.ComplexityReasoning, &decision)
	if genErr != nil {
		rn.rc.SetLastError(genErr)
		rn.machine.Fire(TriggerStepError)
		return
	}

	rawThought := decision.Thought
	thought := truncateThought(rawThought, rn.r.cfg.MaxThoughtLength)

	step := Step{
		Thought:     thought,
		RawThought:  rawThought,
		Action:      decision.Action,
		ActionInput: decision.ActionInput,
		Tokens:      usedTokens,
		CostCents:   usedCost,
	}

	if strings.EqualFold(decision.Action, finalAnswerAction) {
		answer := rawThought
		if v, ok := decision.ActionInput["answer"].(string); ok && v != "" {
			answer = v
		}
		rn.rc.SetFinalAnswer(answer)
		step.Action = finalAnswerAction
		step.Observation = "final answer ready"
		step.Success = true
		step.Duration = time.Since(stepStart)
		rn.rc.AddStep(step)
		rn.machine.Fire(TriggerStepComplete)
		return
	}

	if rn.r.cfg.ValidatePlans {
		if _, ok := rn.r.tools.Get(decision.Action); !ok {
			step.Observation = fmt.Sprintf("%s plan step references unknown tool %q", errorMarker, decision.Action)
			step.Duration = time.Since(stepStart)
			rn.rc.AddStep(step)
			rn.machine.Fire(TriggerStepComplete)
			return
		}
	}

	observation, ok := rn.executeTool(ctx, decision.Action, decision.ActionInput)
	step.Observation = observation
	step.Success = ok
	step.Duration = time.Since(stepStart)
	rn.rc.AddStep(step)
	rn.machine.Fire(TriggerStepComplete)
}

// truncateThought caps a thought at max bytes without splitting a rune.
func truncateThought(thought string, max int) string {
	if max <= 0 || len(thought) <= max {
		return thought
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(thought[cut]) {
		cut--
	}
	return thought[:cut]
}

// executeTool dispatches through the registry and renders the outcome as
// an observation string. Failures become "Error: ..." observations, never
// run failures.
func (rn *run) executeTool(ctx context.Context, toolID string, input map[string]any) (string, bool) {
	ctx, span := rn.r.tracer.StartPhase(ctx, observability.SpanToolExecution)

	ec := tools.ExecutionContext{
		UserID:    rn.rc.UserID(),
		SessionID: rn.rc.SessionID(),
		AgentID:   rn.r.cfg.AgentID,
	}

	start := time.Now()
	result, err := rn.r.tools.Execute(ctx, toolID, input, ec)
	elapsed := time.Since(start)
	rn.r.metrics.RecordToolExecution(ctx, toolID, elapsed, err)
	rn.r.tracer.ToolResult(ctx, toolID, err == nil && result.Success, elapsed.Milliseconds())
	rn.r.tracer.EndPhase(span, err)

	rn.toolsUsed = append(rn.toolsUsed, toolID)

	if err != nil {
		return fmt.Sprintf("%s %v", errorMarker, err), false
	}
	if !result.Success && result.Error != nil {
		return fmt.Sprintf("%s %s", errorMarker, result.Error.Message), false
	}
	return renderToolOutput(result.Output), true
}

func renderToolOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return "(no output)"
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func (rn *run) handleObserving(ctx context.Context) {
	ctx, span := rn.r.tracer.StartPhase(ctx, observability.SpanObservation)
	defer rn.r.tracer.EndPhase(span, nil)
	_ = ctx

	steps := rn.rc.Steps()
	if len(steps) == 0 {
		rn.machine.Fire(TriggerContinuePlan)
		return
	}
	last := steps[len(steps)-1]

	if rn.rc.FinalAnswer() != "" {
		rn.observations = append(rn.observations, ProcessedObservation{
			Type:       ObservationConfirmation,
			Insight:    "goal satisfied",
			Confidence: 1.0,
			Raw:        last.Observation,
		})
		rn.machine.Fire(TriggerPlanComplete)
		return
	}

	if strings.HasPrefix(last.Observation, errorMarker) {
		rn.observations = append(rn.observations, ProcessedObservation{
			Type:            ObservationError,
			Insight:         last.Observation,
			Confidence:      1.0,
			InvalidatesPlan: true,
			Raw:             last.Observation,
		})
		// The guard rejects this once replans are exhausted; the loop then
		// continues the plan and lets the step budget bound it.
		if rn.machine.Fire(TriggerObservationInvalidates) {
			return
		}
		rn.machine.Fire(TriggerContinuePlan)
		return
	}

	rn.observations = append(rn.observations, ProcessedObservation{
		Type:       ObservationInformation,
		Insight:    last.Observation,
		Confidence: 0.8,
		Raw:        last.Observation,
	})
	rn.machine.Fire(TriggerContinuePlan)
}

func (rn *run) handleReflecting(ctx context.Context) {
	ctx, span := rn.r.tracer.StartPhase(ctx, observability.SpanReflection)
	defer rn.r.tracer.EndPhase(span, nil)
	_ = ctx

	if rn.rc.FinalAnswer() != "" {
		rn.machine.Fire(TriggerReflectionComplete)
		return
	}
	if rn.machine.Fire(TriggerReflectionInsufficient) {
		return
	}
	// Replans exhausted: fall through to synthesis over whatever was
	// observed.
	rn.machine.Fire(TriggerReflectionComplete)
}

func (rn *run) handleSynthesizing(ctx context.Context) {
	ctx, span := rn.r.tracer.StartPhase(ctx, observability.SpanSynthesis)
	defer rn.r.tracer.EndPhase(span, nil)

	if rn.rc.FinalAnswer() == "" {
		var obs []string
		for _, step := range rn.rc.Steps() {
			if step.Observation != "" {
				obs = append(obs, step.Observation)
			}
		}
		if len(obs) == 0 {
			obs = []string{"(no observations were gathered)"}
		}

		prompt, err := rn.r.prompts.Render(prompts.SynthesisPrompt, map[string]any{
			"Goal":         rn.rc.Goal(),
			"Observations": obs,
		})
		if err != nil {
			rn.rc.SetLastError(err)
			rn.machine.Fire(TriggerSynthesisError)
			return
		}

		answer, genErr := rn.generateText(ctx, prompt, llms.ComplexitySummarization)
		if genErr != nil {
			rn.rc.SetLastError(genErr)
			rn.machine.Fire(TriggerSynthesisError)
			return
		}
		rn.rc.SetFinalAnswer(strings.TrimSpace(answer))
	}

	if rn.r.cfg.EnableCompanionFeatures {
		rn.postProcess(ctx)
	}
	rn.machine.Fire(TriggerAnswerReady)
}

// postProcess applies companion adjustments to the final answer and
// records the turn for session continuity.
func (rn *run) postProcess(ctx context.Context) {
	answer := rn.r.empathy.Adapt(rn.rc.FinalAnswer(), rn.assessment)
	if adjusted, applied := wellbeing.ApplyMedicalDisclaimer(answer); applied {
		answer = adjusted
	}
	rn.rc.SetFinalAnswer(answer)

	if rn.r.continuity == nil {
		return
	}
	if rn.intent.Topic != "" {
		if err := rn.r.continuity.RecordTopic(ctx, rn.rc.UserID(), rn.intent.Topic); err != nil {
			rn.r.logger.Debug("failed to record topic", "error", err)
		}
	}
}

func (rn *run) handleReplanning(ctx context.Context) {
	ctx, span := rn.r.tracer.StartPhase(ctx, observability.SpanReplanning)
	defer rn.r.tracer.EndPhase(span, nil)
	_ = ctx

	count := rn.rc.RecordReplan()
	if count > rn.r.cfg.MaxReplanAttempts {
		rn.rc.SetHaltReason(HaltReplanLimit)
		rn.machine.Fire(TriggerReplanLimit)
		return
	}
	rn.r.logger.Info("replanning", "attempt", count, "max", rn.r.cfg.MaxReplanAttempts)
	rn.machine.Fire(TriggerReplanReady)
}

func (rn *run) handleError(ctx context.Context) {
	_ = ctx

	if !rn.recovered {
		rn.recovered = true
		rn.r.logger.Warn("recovering run with fallback answer", "error", rn.rc.LastError())
		rn.rc.SetFinalAnswer(fallbackAnswer)
		if rn.machine.Fire(TriggerRecoverWithFallback) {
			return
		}
	}
	rn.rc.SetHaltReason(HaltUnrecoverable)
	rn.machine.Fire(TriggerUnrecoverable)
}

// buildResult assembles the caller-facing bundle. A halted run without an
// answer still returns a fallback message.
func (rn *run) buildResult(traceID string, duration time.Duration) Result {
	state := rn.machine.State()
	haltReason := rn.rc.HaltReason()
	answer := rn.rc.FinalAnswer()

	success := state == StateDone && haltReason == "" && !rn.recovered && answer != ""
	if answer == "" {
		answer = fallbackAnswer
	}

	return Result{
		Success:      success,
		FinalAnswer:  answer,
		Steps:        rn.rc.Steps(),
		HaltReason:   haltReason,
		Tokens:       rn.rc.Tokens(),
		CostCents:    rn.rc.CostCents(),
		ReplanCount:  rn.rc.ReplanCount(),
		Duration:     duration,
		TraceID:      traceID,
		Intent:       rn.intent,
		Observations: rn.observations,
		Wellbeing:    rn.assessment,
	}
}

// finish reports the run to the side channels: metrics, episodic memory,
// session continuity, and the self-improvement miner.
func (r *Runner) finish(ctx context.Context, rn *run, result Result) {
	r.metrics.RecordRun(ctx, result.Duration, result.Tokens, result.CostCents,
		result.HaltReason != "", rn.rc.LastError())

	if result.Success && r.memories != nil && !rn.shortCircuited {
		rec := memory.Record{
			UserID: rn.rc.UserID(),
			Text:   fmt.Sprintf("They asked: %s\nI answered: %s", rn.rc.Goal(), result.FinalAnswer),
			Tags:   []string{"conversation", "assistant"},
		}
		if _, err := r.memories.Save(ctx, rec); err != nil {
			r.logger.Debug("failed to store episodic memory", "error", err)
		}
	}

	if r.continuity != nil {
		sess := continuity.SessionRecord{
			UserID:     rn.rc.UserID(),
			SessionID:  rn.rc.SessionID(),
			LastGoal:   rn.rc.Goal(),
			LastAnswer: result.FinalAnswer,
		}
		if err := r.continuity.SaveSession(ctx, sess); err != nil {
			r.logger.Debug("failed to save session", "error", err)
		}
	}

	if r.improve != nil {
		var errorTags []string
		if result.HaltReason != "" {
			errorTags = append(errorTags, strings.ToLower(string(result.HaltReason)))
		}
		r.improve.RecordExecution(improve.Execution{
			ID:        uuid.NewString(),
			AgentID:   r.cfg.AgentID,
			Goal:      rn.rc.Goal(),
			Success:   result.Success,
			TimedOut:  result.HaltReason == HaltTimeout,
			Steps:     len(result.Steps),
			Duration:  result.Duration,
			Tokens:    result.Tokens,
			CostCents: result.CostCents,
			ToolsUsed: uniqueStrings(rn.toolsUsed),
			ErrorTags: errorTags,
			Timestamp: time.Now(),
		})
		r.tracer.InteractionLearned(ctx, r.cfg.AgentID, result.Success)
	}
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// routeBudget converts the remaining run budget into a routing budget.
func (rn *run) routeBudget() llms.Budget {
	return llms.Budget{
		RemainingCents: rn.r.cfg.CostBudgetCents - rn.rc.CostCents(),
	}
}

// charge records approximate usage for one LLM call and returns the
// charged tokens and cost.
func (rn *run) charge(ctx context.Context, prompt string, info llms.ModelInfo, duration time.Duration, err error) (int, float64) {
	inputTokens := len(prompt) / 4
	total := inputTokens + estimatedOutputTokens
	cost := info.AvgCostPer1K * float64(total) / 1000
	rn.rc.RecordUsage(total, cost)
	rn.r.metrics.RecordLLMCall(ctx, info.ID, duration, inputTokens, estimatedOutputTokens, err)
	return total, cost
}

// generateJSON routes, calls, charges, and parses. One re-prompt with a
// JSON-only directive is attempted before giving up.
func (rn *run) generateJSON(ctx context.Context, prompt string, complexity llms.TaskComplexity, v any) error {
	_, _, err := rn.generateJSONUsage(ctx, prompt, complexity, v)
	return err
}

func (rn *run) generateJSONUsage(ctx context.Context, prompt string, complexity llms.TaskComplexity, v any) (int, float64, error) {
	decision, err := rn.r.router.Route(prompt, complexity, rn.routeBudget())
	if err != nil {
		return 0, 0, err
	}
	opts := llms.Options{
		Model:       decision.ModelID,
		MaxTokens:   decision.Info.MaxTokens,
		Temperature: decision.Info.Temperature,
	}

	start := time.Now()
	text, err := rn.r.provider.GenerateJSON(ctx, prompt, nil, opts)
	tokens, cost := rn.charge(ctx, prompt, decision.Info, time.Since(start), err)
	if err != nil {
		return tokens, cost, err
	}
	if err := llmjson.Unmarshal(text, v); err == nil {
		return tokens, cost, nil
	}

	retryPrompt := prompt + llmjson.RetryDirective
	start = time.Now()
	text, err = rn.r.provider.GenerateJSON(ctx, retryPrompt, nil, opts)
	t2, c2 := rn.charge(ctx, retryPrompt, decision.Info, time.Since(start), err)
	tokens += t2
	cost += c2
	if err != nil {
		return tokens, cost, err
	}
	if err := llmjson.Unmarshal(text, v); err != nil {
		return tokens, cost, fmt.Errorf("unparsable model output after retry: %w", err)
	}
	return tokens, cost, nil
}

func (rn *run) generateText(ctx context.Context, prompt string, complexity llms.TaskComplexity) (string, error) {
	decision, err := rn.r.router.Route(prompt, complexity, rn.routeBudget())
	if err != nil {
		return "", err
	}
	opts := llms.Options{
		Model:       decision.ModelID,
		MaxTokens:   decision.Info.MaxTokens,
		Temperature: decision.Info.Temperature,
	}

	start := time.Now()
	text, err := rn.r.provider.GenerateText(ctx, prompt, opts)
	rn.charge(ctx, prompt, decision.Info, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return text, nil
}
