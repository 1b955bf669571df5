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

// Package prompts holds the runtime's prompt templates.
//
// Templates are standard text/template documents registered by name; the
// defaults cover the reasoning loop and can be overridden per deployment
// without code changes.
package prompts

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Template names used by the runner.
const (
	IntentPrompt    = "intent"
	ReactPrompt     = "react"
	DecomposePrompt = "decompose"
	SynthesisPrompt = "synthesis"
	CritiquePrompt  = "critique"
)

// Registry maps names to parsed templates. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewRegistry returns a registry preloaded with the default templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*template.Template)}
	for name, text := range defaults {
		// Defaults are compile-time constants; parsing cannot fail.
		r.templates[name] = template.Must(template.New(name).Parse(text))
	}
	return r
}

// Register parses and stores a template, replacing any existing one with
// the same name.
func (r *Registry) Register(name, text string) error {
	if name == "" {
		return fmt.Errorf("template name cannot be empty")
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse template '%s': %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = tmpl
	return nil
}

// Render executes a template with the given data.
func (r *Registry) Render(name string, data any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("template '%s' not found", name)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render template '%s': %w", name, err)
	}
	return b.String(), nil
}

// Names returns the registered template names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.templates))
	for name := range r.templates {
		out = append(out, name)
	}
	return out
}

var defaults = map[string]string{
	IntentPrompt: `Classify the intent of the following message from an elderly user talking with their voice biographer.

Message: {{.Goal}}

Respond with JSON only:
{"intent": "<RECALL_MEMORY|RECORD_MEMORY|QUESTION|GREETING|TASK|OTHER>", "confidence": <0.0-1.0>, "topic": "<short topic>"}`,

	ReactPrompt: `{{.SystemPrompt}}

You can use these tools:
{{.ToolDescriptions}}

Context:
{{.Context}}

Goal: {{.Goal}}
{{if .PastSteps}}
Previous steps:
{{range .PastSteps}}Thought: {{.Thought}}
Action: {{.Action}}
Observation: {{.Observation}}
{{end}}{{end}}
Think about the next step. Respond with JSON only:
{"thought": "<your reasoning>", "action": "<tool id or Final Answer>", "actionInput": {<tool input or {"answer": "..."}>}}`,

	DecomposePrompt: `Break this goal into a short ordered list of subgoals. Keep each subgoal self-contained.

Goal: {{.Goal}}

Respond with JSON only:
{"subgoals": ["<first>", "<second>", ...]}`,

	SynthesisPrompt: `You are a warm voice biographer speaking with an elderly user. Using the observations below, answer their request in plain, unhurried language.

Request: {{.Goal}}

Observations:
{{range .Observations}}- {{.}}
{{end}}
Answer directly and kindly. Do not mention tools or observations.`,

	CritiquePrompt: `Review the answer below for factual grounding, warmth, and suitability for an elderly listener.

Request: {{.Goal}}

Answer: {{.Answer}}

Respond with JSON only:
{"passed": <true|false>, "score": <0.0-1.0>, "issues": ["..."], "suggestions": ["..."], "summary": "<one line>"}`,
}
