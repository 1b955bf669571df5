package llmjson

import (
	"testing"
)

type intentPayload struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func TestUnmarshal_CleanJSON(t *testing.T) {
	var p intentPayload
	err := Unmarshal(`{"intent":"RECALL_MEMORY","confidence":0.92}`, &p)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Intent != "RECALL_MEMORY" {
		t.Errorf("Intent = %q, want RECALL_MEMORY", p.Intent)
	}
	if p.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", p.Confidence)
	}
}

func TestUnmarshal_MarkdownFence(t *testing.T) {
	text := "Here is the classification:\n```json\n{\"intent\": \"GREETING\", \"confidence\": 0.8}\n```\nDone."
	var p intentPayload
	if err := Unmarshal(text, &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Intent != "GREETING" {
		t.Errorf("Intent = %q, want GREETING", p.Intent)
	}
}

func TestUnmarshal_ProseWrapped(t *testing.T) {
	text := `Sure! The answer is {"intent": "QUESTION", "confidence": 0.5} as requested.`
	var p intentPayload
	if err := Unmarshal(text, &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Intent != "QUESTION" {
		t.Errorf("Intent = %q, want QUESTION", p.Intent)
	}
}

func TestUnmarshal_RepairsTrailingComma(t *testing.T) {
	var p intentPayload
	if err := Unmarshal(`{"intent": "GREETING", "confidence": 0.8,}`, &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Intent != "GREETING" {
		t.Errorf("Intent = %q, want GREETING", p.Intent)
	}
}

func TestUnmarshal_NoJSON(t *testing.T) {
	var p intentPayload
	if err := Unmarshal("no structured data here", &p); err == nil {
		t.Error("expected error when output contains no JSON")
	}
}

func TestExtract_NestedBraces(t *testing.T) {
	text := `prefix {"a": {"b": "c"}, "d": [1, 2]} suffix`
	got := Extract(text)
	want := `{"a": {"b": "c"}, "d": [1, 2]}`
	if got != want {
		t.Errorf("Extract() = %q, want %q", got, want)
	}
}

func TestExtract_BracesInsideStrings(t *testing.T) {
	text := `{"msg": "use } carefully"}`
	if got := Extract(text); got != text {
		t.Errorf("Extract() = %q, want %q", got, text)
	}
}
