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

package wellbeing

import "strings"

// ResponseAdapter reshapes a final answer for the listener before it is
// spoken: empathy acknowledgment, pacing, cognitive load. Implementations
// must leave crisis responses untouched.
type ResponseAdapter interface {
	Adapt(answer string, assessment *Assessment) string
}

const (
	// empathyPrefix acknowledges a disclosed emotional concern before the
	// substantive answer.
	empathyPrefix = "I'm really glad you shared that with me. "

	// pacingOffer is appended when the answer is dense enough that an
	// elderly listener may want it repeated.
	pacingOffer = "Would you like me to go over any part of that again?"
)

// emotionalConcerns are the categories that warrant an empathy
// acknowledgment; safety categories are handled by the guard's own
// suggested responses instead.
var emotionalConcerns = map[ConcernType]bool{
	ConcernLoneliness: true,
	ConcernDepression: true,
	ConcernDistress:   true,
}

// RuleBasedAdapter is the default ResponseAdapter: a handful of fixed
// rules, no model call.
type RuleBasedAdapter struct {
	// MaxSentenceWords is the sentence length above which the pacing
	// offer is appended.
	MaxSentenceWords int
}

func NewRuleBasedAdapter() *RuleBasedAdapter {
	return &RuleBasedAdapter{MaxSentenceWords: 25}
}

// Adapt applies the empathy prefix, terminal punctuation, and the pacing
// offer. Short-circuiting assessments pass through unchanged so curated
// crisis text is never rewritten.
func (a *RuleBasedAdapter) Adapt(answer string, assessment *Assessment) string {
	out := strings.TrimSpace(answer)
	if out == "" {
		return out
	}
	if assessment != nil && assessment.ShortCircuits() {
		return out
	}

	if needsEmpathy(assessment) && !strings.HasPrefix(out, empathyPrefix) {
		out = empathyPrefix + out
	}

	if !strings.ContainsAny(out[len(out)-1:], ".!?") {
		out += "."
	}

	if longestSentenceWords(out) > a.MaxSentenceWords && !strings.HasSuffix(out, pacingOffer) {
		out += " " + pacingOffer
	}
	return out
}

func needsEmpathy(assessment *Assessment) bool {
	if assessment == nil {
		return false
	}
	for _, c := range assessment.Concerns {
		if emotionalConcerns[c.Type] {
			return true
		}
	}
	return false
}

func longestSentenceWords(text string) int {
	longest := 0
	count := 0
	for _, w := range strings.Fields(text) {
		count++
		if strings.ContainsAny(w[len(w)-1:], ".!?") {
			if count > longest {
				longest = count
			}
			count = 0
		}
	}
	if count > longest {
		longest = count
	}
	return longest
}
