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

// Package llmjson extracts structured JSON from LLM output.
//
// Model output rarely arrives as clean JSON: it comes wrapped in markdown
// fences, prefixed with prose, or with trailing commas and unquoted keys.
// Unmarshal strips the wrapping and falls back to jsonrepair before giving
// up, so callers only re-prompt when the payload is genuinely unusable.
package llmjson

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// RetryDirective is appended to a prompt on the single re-prompt attempt
// after a parse failure.
const RetryDirective = "\n\nRespond with JSON only. No prose, no markdown fences."

// Unmarshal parses LLM output into v, tolerating markdown fences,
// surrounding prose, and minor syntax damage.
func Unmarshal(text string, v any) error {
	candidate := Extract(text)
	if candidate == "" {
		return fmt.Errorf("no JSON object found in output")
	}

	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return fmt.Errorf("failed to repair JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("failed to parse repaired JSON: %w", err)
	}
	return nil
}

// Extract returns the most plausible JSON payload embedded in text:
// the content of a ```json fence if present, otherwise the span between the
// first opening brace/bracket and its matching closer, otherwise "".
func Extract(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if fenced := extractFenced(text); fenced != "" {
		return fenced
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}

	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	// Unbalanced: return the tail and let jsonrepair close it.
	return text[start:]
}

func extractFenced(text string) string {
	for _, marker := range []string{"```json", "```"} {
		idx := strings.Index(text, marker)
		if idx < 0 {
			continue
		}
		rest := text[idx+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		body := strings.TrimSpace(rest[:end])
		if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
			return body
		}
	}
	return ""
}
