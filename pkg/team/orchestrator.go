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

package team

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keepsake-ai/keepsake/pkg/agent"
	"github.com/keepsake-ai/keepsake/pkg/llmjson"
	"github.com/keepsake-ai/keepsake/pkg/prompts"
)

// AgentRunner is what the orchestrator needs from an agent.
type AgentRunner interface {
	Run(ctx context.Context, goal string, actx agent.Context) (agent.Result, error)
}

// AgentFactory builds an agent for an id. Called at most once per id per
// pipeline; results are cached and the cache is cleared between
// pipelines.
type AgentFactory func(id string) (AgentRunner, error)

// ApprovalHandler gates a stage's output. A nil handler approves
// everything.
type ApprovalHandler func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)

const (
	// orchestratorName is the From of the first handoff in a pipeline.
	orchestratorName = "orchestrator"

	// defaultMaxDepth bounds nested pipelines; agents may themselves run
	// pipelines through the same orchestrator.
	defaultMaxDepth = 4

	// defaultApprovalTimeoutMs is used when a stage does not override it.
	defaultApprovalTimeoutMs = 30000
)

type depthKey struct{}

// Orchestrator runs pipelines of agents resolved by id.
type Orchestrator struct {
	factory   AgentFactory
	approvals ApprovalHandler
	prompts   *prompts.Registry
	logger    *slog.Logger
	maxDepth  int

	log messageLog

	mu    sync.Mutex
	cache map[string]AgentRunner
}

// OrchestratorOptions configures an orchestrator. Factory is required.
type OrchestratorOptions struct {
	Factory   AgentFactory
	Approvals ApprovalHandler
	Prompts   *prompts.Registry
	Logger    *slog.Logger
	MaxDepth  int
}

func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("agent factory is required")
	}
	if opts.Prompts == nil {
		opts.Prompts = prompts.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	return &Orchestrator{
		factory:   opts.Factory,
		approvals: opts.Approvals,
		prompts:   opts.Prompts,
		logger:    opts.Logger.With("component", "orchestrator"),
		maxDepth:  opts.MaxDepth,
		cache:     make(map[string]AgentRunner),
	}, nil
}

// Messages returns the full bounded message history.
func (o *Orchestrator) Messages() []Message {
	return o.log.all()
}

// MessagesFor returns the history involving one agent.
func (o *Orchestrator) MessagesFor(agentID string) []Message {
	return o.log.byAgent(agentID)
}

// resolve returns the cached agent for an id, building it on first use.
func (o *Orchestrator) resolve(id string) (AgentRunner, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if a, ok := o.cache[id]; ok {
		return a, nil
	}
	a, err := o.factory(id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent '%s': %w", id, err)
	}
	o.cache[id] = a
	return a, nil
}

// clearCache drops per-pipeline agents so the next pipeline resolves
// fresh ones.
func (o *Orchestrator) clearCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache = make(map[string]AgentRunner)
}

// RunPipeline executes stages in order, threading each stage's output
// into the next. Stage failures follow the stage's failure policy; a
// failed pipeline still returns every completed stage result.
func (o *Orchestrator) RunPipeline(ctx context.Context, stages []Stage, input string, actx agent.Context, tc *TransferredContext) (PipelineResult, error) {
	if len(stages) == 0 {
		return PipelineResult{}, fmt.Errorf("pipeline has no stages")
	}

	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= o.maxDepth {
		return PipelineResult{}, fmt.Errorf("pipeline nesting depth %d exceeds limit %d", depth, o.maxDepth)
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	if tc == nil {
		tc = NewTransferredContext(0, 0)
	}

	defer o.clearCache()

	result := PipelineResult{Success: true}
	prevOutput := input
	prevStage := orchestratorName

	for _, stage := range stages {
		if stage.SkipIf != nil && stage.SkipIf(tc) {
			result.Stages = append(result.Stages, StageResult{
				Stage:   stage.Name,
				AgentID: stage.AgentID,
				Status:  StageSkipped,
				Output:  prevOutput,
			})
			continue
		}

		runner, err := o.resolve(stage.AgentID)
		if err != nil {
			result.Stages = append(result.Stages, StageResult{
				Stage:   stage.Name,
				AgentID: stage.AgentID,
				Status:  StageFailed,
				Error:   err.Error(),
			})
			result.Success = false
			return result, nil
		}

		o.log.record(prevStage, stage.AgentID, MessageHandoff, prevOutput, tc.snapshot())

		goal := prevOutput
		if stage.InputTransform != nil {
			goal = stage.InputTransform(prevOutput, tc)
		}

		stageResult := o.runStage(ctx, stage, runner, goal, actx)
		tcChargeFromResult(tc, stageResult.Run)

		if stageResult.Status == StageFailed {
			result.Stages = append(result.Stages, stageResult)
			switch stage.OnFailure {
			case FailSkip:
				o.logger.Warn("stage failed, skipping", "stage", stage.Name, "error", stageResult.Error)
				continue
			default: // abort
				result.Success = false
				return result, nil
			}
		}

		if stage.ApprovalRequired {
			decision, err := o.requestApproval(ctx, stage, stageResult.Output, tc)
			if err != nil || !decision.Approved {
				stageResult.Status = StageRejected
				if err != nil {
					stageResult.Error = err.Error()
				} else {
					stageResult.Error = decision.Comments
				}
				o.log.record(stage.AgentID, prevStage, MessageRejection, stageResult.Error, tc.snapshot())
				result.Stages = append(result.Stages, stageResult)
				if stage.OnFailure == FailSkip {
					continue
				}
				result.Success = false
				return result, nil
			}
			o.log.record(stage.AgentID, prevStage, MessageApproval, decision.Approver, tc.snapshot())
		}

		if stageResult.Run != nil {
			for _, obs := range stageResult.Run.Observations {
				tc.AddObservations(obs.Insight)
			}
		}
		o.log.record(stage.AgentID, orchestratorName, MessageResponse, stageResult.Output, tc.snapshot())

		result.Stages = append(result.Stages, stageResult)
		prevOutput = stageResult.Output
		prevStage = stage.AgentID
	}

	result.FinalOutput = prevOutput
	return result, nil
}

// runStage executes one stage with its retry budget and timeout
// override.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, runner AgentRunner, goal string, actx agent.Context) StageResult {
	attempts := 1
	if stage.OnFailure == FailRetry && stage.MaxRetries > 0 {
		attempts += stage.MaxRetries
	}

	sr := StageResult{Stage: stage.Name, AgentID: stage.AgentID}

	for attempt := 1; attempt <= attempts; attempt++ {
		sr.Attempts = attempt

		stageCtx := ctx
		var cancel context.CancelFunc
		if stage.TimeoutMs > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, time.Duration(stage.TimeoutMs)*time.Millisecond)
		}

		runResult, err := runner.Run(stageCtx, goal, actx)
		if cancel != nil {
			cancel()
		}

		if err == nil && runResult.Success {
			sr.Status = StageSucceeded
			sr.Output = runResult.FinalAnswer
			sr.Run = &runResult
			return sr
		}

		if err != nil {
			sr.Error = err.Error()
		} else {
			sr.Error = fmt.Sprintf("run halted: %s", runResult.HaltReason)
			sr.Run = &runResult
		}
		o.logger.Warn("stage attempt failed",
			"stage", stage.Name,
			"attempt", attempt,
			"error", sr.Error)
	}

	sr.Status = StageFailed
	return sr
}

func (o *Orchestrator) requestApproval(ctx context.Context, stage Stage, output string, tc *TransferredContext) (ApprovalDecision, error) {
	if o.approvals == nil {
		return ApprovalDecision{Approved: true, Approver: "auto", Timestamp: time.Now()}, nil
	}

	timeoutMs := stage.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultApprovalTimeoutMs
	}
	return o.approvals(ctx, ApprovalRequest{
		Checkpoint: stage.Name,
		Data:       output,
		Context:    tc.snapshot(),
		TimeoutMs:  timeoutMs,
	})
}

func tcChargeFromResult(tc *TransferredContext, run *agent.Result) {
	if run == nil {
		return
	}
	tc.Charge(run.Tokens, run.CostCents)
}

// Critique asks a critic agent to review an answer. Unparseable critic
// output defaults to a conservative pass.
func (o *Orchestrator) Critique(ctx context.Context, criticID, goal, answer string, actx agent.Context) (CritiqueResult, error) {
	critic, err := o.resolve(criticID)
	if err != nil {
		return CritiqueResult{}, err
	}

	prompt, err := o.prompts.Render(prompts.CritiquePrompt, map[string]any{
		"Goal":   goal,
		"Answer": answer,
	})
	if err != nil {
		return CritiqueResult{}, err
	}

	o.log.record(orchestratorName, criticID, MessageRequest, prompt, nil)

	runResult, err := critic.Run(ctx, prompt, actx)
	if err != nil {
		return CritiqueResult{}, err
	}

	var critique CritiqueResult
	if parseErr := llmjson.Unmarshal(runResult.FinalAnswer, &critique); parseErr != nil {
		o.logger.Warn("critic output unparseable, defaulting to pass", "error", parseErr)
		critique = CritiqueResult{Passed: true, Score: 0.7, Summary: "critic output unparseable"}
	}

	o.log.record(criticID, orchestratorName, MessageCritique, runResult.FinalAnswer, nil)
	return critique, nil
}
