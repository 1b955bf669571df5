package prompts

import (
	"strings"
	"testing"
)

func TestDefaultsPresent(t *testing.T) {
	r := NewRegistry()

	for _, name := range []string{IntentPrompt, ReactPrompt, DecomposePrompt, SynthesisPrompt, CritiquePrompt} {
		found := false
		for _, registered := range r.Names() {
			if registered == name {
				found = true
			}
		}
		if !found {
			t.Errorf("default template %q missing", name)
		}
	}
}

func TestRenderIntent(t *testing.T) {
	r := NewRegistry()

	out, err := r.Render(IntentPrompt, map[string]any{"Goal": "Who is my best friend?"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "Who is my best friend?") {
		t.Errorf("rendered prompt missing goal: %q", out)
	}
	if !strings.Contains(out, "JSON only") {
		t.Error("intent prompt should demand JSON output")
	}
}

func TestRenderReactWithSteps(t *testing.T) {
	r := NewRegistry()

	type step struct {
		Thought, Action, Observation string
	}
	out, err := r.Render(ReactPrompt, map[string]any{
		"SystemPrompt":     "You are a biographer.",
		"ToolDescriptions": "- RetrieveMemories: search memories",
		"Context":          "ctx",
		"Goal":             "find Bob",
		"PastSteps": []step{
			{Thought: "look it up", Action: "RetrieveMemories", Observation: "found Bob"},
		},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"You are a biographer.", "RetrieveMemories", "found Bob", "Final Answer"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt missing %q", want)
		}
	}
}

func TestRegisterOverride(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(SynthesisPrompt, "Custom: {{.Goal}}"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	out, err := r.Render(SynthesisPrompt, map[string]any{"Goal": "g"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if out != "Custom: g" {
		t.Errorf("override not applied: %q", out)
	}
}

func TestRegisterInvalid(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("", "x"); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register("bad", "{{.Unclosed"); err == nil {
		t.Error("expected parse error")
	}
}

func TestRenderUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Render("missing", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}
