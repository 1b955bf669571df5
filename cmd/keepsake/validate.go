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
	"fmt"

	"github.com/keepsake-ai/keepsake/pkg/config"
)

// ValidateCmd checks a configuration file without running anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("no config file specified (use --config)")
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	fmt.Printf("✓ %s is valid\n", cli.Config)
	fmt.Printf("  agent: %s\n", cfg.AgentID)
	fmt.Printf("  router profile: %s\n", cfg.Router.Profile)
	fmt.Printf("  budgets: %d steps, %d tokens, %.0f¢, %dms\n",
		cfg.Runner.MaxSteps, cfg.Runner.TokenBudget, cfg.Runner.CostBudgetCents, cfg.Runner.TimeoutMs)
	return nil
}
