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

package agent

import (
	"log/slog"
	"sync"
	"time"
)

// State is one phase of the reasoning cycle.
type State string

const (
	StateIdle              State = "IDLE"
	StateRecognizingIntent State = "RECOGNIZING_INTENT"
	StateDecomposingTask   State = "DECOMPOSING_TASK"
	StatePlanning          State = "PLANNING"
	StateExecuting         State = "EXECUTING"
	StateObserving         State = "OBSERVING"
	StateReflecting        State = "REFLECTING"
	StateSynthesizing      State = "SYNTHESIZING"
	StateReplanning        State = "REPLANNING"
	StateDone              State = "DONE"
	StateHalted            State = "HALTED"
	StateError             State = "ERROR"
)

// Terminal reports whether the run loop stops at this state. ERROR is
// recoverable through RECOVER_WITH_FALLBACK, so only DONE and HALTED are
// absorbing.
func (s State) Terminal() bool {
	return s == StateDone || s == StateHalted
}

// Trigger names a transition cause.
type Trigger string

const (
	TriggerStart                  Trigger = "START"
	TriggerSimpleIntent           Trigger = "SIMPLE_INTENT"
	TriggerIntentRecognized       Trigger = "INTENT_RECOGNIZED"
	TriggerIntentError            Trigger = "INTENT_ERROR"
	TriggerTaskDecomposed         Trigger = "TASK_DECOMPOSED"
	TriggerPlanReady              Trigger = "PLAN_READY"
	TriggerStepComplete           Trigger = "STEP_COMPLETE"
	TriggerStepError              Trigger = "STEP_ERROR"
	TriggerBudgetExceeded         Trigger = "BUDGET_EXCEEDED"
	TriggerPlanComplete           Trigger = "PLAN_COMPLETE"
	TriggerObservationInvalidates Trigger = "OBSERVATION_INVALIDATES"
	TriggerContinuePlan           Trigger = "CONTINUE_PLAN"
	TriggerReflectionComplete     Trigger = "REFLECTION_COMPLETE"
	TriggerReflectionInsufficient Trigger = "REFLECTION_INSUFFICIENT"
	TriggerReplanReady            Trigger = "REPLAN_READY"
	TriggerReplanLimit            Trigger = "REPLAN_LIMIT"
	TriggerAnswerReady            Trigger = "ANSWER_READY"
	TriggerSynthesisError         Trigger = "SYNTHESIS_ERROR"
	TriggerRecoverWithFallback    Trigger = "RECOVER_WITH_FALLBACK"
	TriggerUnrecoverable          Trigger = "UNRECOVERABLE"
	TriggerUserInterrupt          Trigger = "USER_INTERRUPT"
)

// Guard vets a transition against the run context. A nil guard always
// passes.
type Guard func(rc *RunContext) bool

type transitionRow struct {
	from    State
	trigger Trigger
	to      State
	guard   Guard
}

// transitionTable is the static (from, trigger) -> to declaration. Rows
// are matched in order; the first row whose guard passes wins.
var transitionTable = []transitionRow{
	{StateIdle, TriggerStart, StateRecognizingIntent, nil},

	{StateRecognizingIntent, TriggerSimpleIntent, StateSynthesizing, nil},
	{StateRecognizingIntent, TriggerIntentRecognized, StateDecomposingTask, nil},
	{StateRecognizingIntent, TriggerIntentError, StateError, nil},

	{StateDecomposingTask, TriggerTaskDecomposed, StatePlanning, nil},

	{StatePlanning, TriggerPlanReady, StateExecuting, nil},

	{StateExecuting, TriggerStepComplete, StateObserving, nil},
	{StateExecuting, TriggerStepError, StateError, nil},
	{StateExecuting, TriggerBudgetExceeded, StateHalted, nil},

	{StateObserving, TriggerPlanComplete, StateReflecting, nil},
	{StateObserving, TriggerObservationInvalidates, StateReplanning, func(rc *RunContext) bool {
		return rc.ReplanCount() < rc.maxReplans
	}},
	{StateObserving, TriggerContinuePlan, StateExecuting, nil},
	{StateObserving, TriggerStepError, StateError, nil},

	{StateReflecting, TriggerReflectionComplete, StateSynthesizing, nil},
	{StateReflecting, TriggerReflectionInsufficient, StateReplanning, func(rc *RunContext) bool {
		return rc.ReplanCount() < rc.maxReplans
	}},

	{StateReplanning, TriggerReplanReady, StatePlanning, func(rc *RunContext) bool {
		return rc.ReplanCount() <= rc.maxReplans
	}},
	{StateReplanning, TriggerReplanLimit, StateHalted, nil},

	{StateSynthesizing, TriggerAnswerReady, StateDone, nil},
	{StateSynthesizing, TriggerSynthesisError, StateError, nil},

	{StateError, TriggerRecoverWithFallback, StateSynthesizing, nil},
	{StateError, TriggerUnrecoverable, StateHalted, nil},
}

// Event is one successful transition, delivered to listeners.
type Event struct {
	From      State
	To        State
	Trigger   Trigger
	Timestamp time.Time
}

// Listener observes transitions. Panics are caught and logged; they never
// affect the machine.
type Listener func(Event)

// Machine drives one run through the phase graph. All mutation goes
// through Fire.
type Machine struct {
	mu        sync.Mutex
	state     State
	rc        *RunContext
	listeners []Listener
	history   []Event
	logger    *slog.Logger
}

// NewMachine creates a machine in IDLE bound to a run context.
func NewMachine(rc *RunContext, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{state: StateIdle, rc: rc, logger: logger}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a transition listener.
func (m *Machine) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Fire attempts a transition. It returns false, without changing state,
// when no row matches the current state and trigger or the row's guard
// rejects. USER_INTERRUPT is valid from every non-terminal state.
func (m *Machine) Fire(trigger Trigger) bool {
	m.mu.Lock()

	if m.state == StateDone || m.state == StateHalted {
		m.mu.Unlock()
		return false
	}

	var target State
	found := false

	if trigger == TriggerUserInterrupt {
		target = StateHalted
		found = true
	} else {
		for _, row := range transitionTable {
			if row.from != m.state || row.trigger != trigger {
				continue
			}
			if row.guard != nil && !row.guard(m.rc) {
				continue
			}
			target = row.to
			found = true
			break
		}
	}

	if !found {
		m.mu.Unlock()
		return false
	}

	ev := Event{From: m.state, To: target, Trigger: trigger, Timestamp: time.Now()}
	m.state = target
	m.history = append(m.history, ev)
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		m.notify(l, ev)
	}
	return true
}

func (m *Machine) notify(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state machine listener panicked",
				"trigger", string(ev.Trigger),
				"to", string(ev.To),
				"panic", r)
		}
	}()
	l(ev)
}

// AvailableTriggers returns the triggers that would currently fire.
func (m *Machine) AvailableTriggers() []Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDone || m.state == StateHalted {
		return nil
	}

	var out []Trigger
	seen := make(map[Trigger]bool)
	for _, row := range transitionTable {
		if row.from != m.state || seen[row.trigger] {
			continue
		}
		if row.guard != nil && !row.guard(m.rc) {
			continue
		}
		seen[row.trigger] = true
		out = append(out, row.trigger)
	}
	out = append(out, TriggerUserInterrupt)
	return out
}

// History returns the transitions so far, in order.
func (m *Machine) History() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}

// Snapshot is a read-only view of the machine and its run context.
type Snapshot struct {
	State             State
	Steps             int
	Tokens            int
	CostCents         float64
	ReplanCount       int
	ElapsedMs         int64
	AvailableTriggers []Trigger
}

// Snapshot captures the current state without exposing mutation.
func (m *Machine) Snapshot() Snapshot {
	triggers := m.AvailableTriggers()

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	return Snapshot{
		State:             state,
		Steps:             m.rc.StepCount(),
		Tokens:            m.rc.Tokens(),
		CostCents:         m.rc.CostCents(),
		ReplanCount:       m.rc.ReplanCount(),
		ElapsedMs:         m.rc.Elapsed().Milliseconds(),
		AvailableTriggers: triggers,
	}
}
