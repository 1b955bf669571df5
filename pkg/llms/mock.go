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

package llms

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a scripted provider for tests and offline runs.
//
// Responses are matched against prompt substrings in registration order; the
// default response answers anything unmatched. A nil default makes unmatched
// prompts an error.
type MockProvider struct {
	mu       sync.Mutex
	model    string
	rules    []mockRule
	fallback *string
	calls    []string
	errs     []error
}

type mockRule struct {
	contains string
	response string
}

func NewMockProvider(model string) *MockProvider {
	return &MockProvider{model: model}
}

// Respond registers a response for prompts containing the given substring.
func (m *MockProvider) Respond(contains, response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{contains: contains, response: response})
	return m
}

// Default sets the response for prompts no rule matches.
func (m *MockProvider) Default(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &response
	return m
}

// FailNext queues an error returned ahead of any scripted response. Each
// queued error is consumed by one call.
func (m *MockProvider) FailNext(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return m
}

func (m *MockProvider) GenerateText(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, prompt)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}

	for _, rule := range m.rules {
		if rule.contains != "" && containsFold(prompt, rule.contains) {
			return rule.response, nil
		}
	}
	if m.fallback != nil {
		return *m.fallback, nil
	}
	return "", fmt.Errorf("mock provider: no scripted response for prompt")
}

func (m *MockProvider) GenerateJSON(ctx context.Context, prompt string, schema map[string]any, opts Options) (string, error) {
	return m.GenerateText(ctx, prompt, opts)
}

func (m *MockProvider) ModelName() string {
	return m.model
}

func (m *MockProvider) Close() error {
	return nil
}

// Calls returns the prompts seen so far, in order.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func containsFold(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	if len(haystack) < len(needle) {
		return false
	}
	// Simple ASCII case folding is enough for prompt matching.
	lower := func(b byte) byte {
		if b >= 'A' && b <= 'Z' {
			return b + 'a' - 'A'
		}
		return b
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := 0; j < len(needle); j++ {
			if lower(haystack[i+j]) != lower(needle[j]) {
				continue outer
			}
		}
		return true
	}
	return false
}
