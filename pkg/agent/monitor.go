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

import "time"

// Budgets is the quadruple bounding one run.
type Budgets struct {
	MaxSteps        int
	Timeout         time.Duration
	TokenBudget     int
	CostBudgetCents float64
}

// Check evaluates the four guards in fixed order MAX_STEPS, TIMEOUT,
// TOKEN_BUDGET, COST_BUDGET; the first hit wins.
func (b Budgets) Check(rc *RunContext) (HaltReason, bool) {
	if b.MaxSteps > 0 && rc.StepCount() >= b.MaxSteps {
		return HaltMaxSteps, true
	}
	if b.Timeout > 0 && rc.Elapsed() >= b.Timeout {
		return HaltTimeout, true
	}
	if b.TokenBudget > 0 && rc.Tokens() >= b.TokenBudget {
		return HaltTokenBudget, true
	}
	if b.CostBudgetCents > 0 && rc.CostCents() >= b.CostBudgetCents {
		return HaltCostBudget, true
	}
	return "", false
}
