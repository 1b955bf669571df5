package wellbeing

import (
	"context"
	"strings"
	"testing"
)

func TestAssess_SuicidalIdeationIsCriticalEmergency(t *testing.T) {
	g := NewGuard(Config{})

	a := g.Assess(context.Background(), "I don't want to live anymore", nil)

	if a.Risk != SeverityCritical {
		t.Errorf("Risk = %s, want CRITICAL", a.Risk)
	}
	if a.ResponseType != ResponseEmergency {
		t.Errorf("ResponseType = %s, want EMERGENCY", a.ResponseType)
	}
	if !strings.Contains(a.SuggestedResponse, "988") {
		t.Errorf("SuggestedResponse missing the 988 lifeline: %q", a.SuggestedResponse)
	}
	if !a.ShortCircuits() {
		t.Error("critical assessment must short-circuit the runner")
	}

	wantActions := map[ActionType]int{ActionCallEmergency: 1, ActionNotifyCaregiver: 1, ActionLog: 3}
	for _, action := range a.Actions {
		if p, ok := wantActions[action.Type]; ok && action.Priority != p {
			t.Errorf("action %s priority = %d, want %d", action.Type, action.Priority, p)
		}
		delete(wantActions, action.Type)
	}
	if len(wantActions) != 0 {
		t.Errorf("missing actions: %v", wantActions)
	}
	if a.Actions[0].Priority != 1 {
		t.Error("actions not sorted by priority")
	}
}

func TestAssess_MedicalEmergency(t *testing.T) {
	g := NewGuard(Config{})

	a := g.Assess(context.Background(), "I have chest pain and I can't breathe", nil)

	if a.Risk != SeverityCritical {
		t.Errorf("Risk = %s, want CRITICAL", a.Risk)
	}
	if a.ResponseType != ResponseEmergency {
		t.Errorf("ResponseType = %s, want EMERGENCY", a.ResponseType)
	}
	if !strings.Contains(a.SuggestedResponse, "911") {
		t.Errorf("SuggestedResponse missing 911 guidance: %q", a.SuggestedResponse)
	}
}

func TestAssess_GrandparentScam(t *testing.T) {
	g := NewGuard(Config{})

	a := g.Assess(context.Background(), "someone called saying my grandchild needs bail money", nil)

	if len(a.Scams) == 0 {
		t.Fatal("no scam detected")
	}
	scam := a.Scams[0]
	if scam.Type != ScamGrandparent {
		t.Errorf("scam type = %s, want GRANDPARENT", scam.Type)
	}
	if scam.Severity != SeverityCritical {
		t.Errorf("scam severity = %s, want CRITICAL", scam.Severity)
	}
	if !strings.Contains(strings.ToLower(a.SuggestedResponse), "do not send money") {
		t.Errorf("SuggestedResponse missing the no-money instruction: %q", a.SuggestedResponse)
	}
}

func TestAssess_LonelinessWithEmotionBonus(t *testing.T) {
	g := NewGuard(Config{})

	// One keyword hit: 0.3 * 1.0 = 0.3, under the 0.4 floor.
	without := g.Assess(context.Background(), "I feel so lonely today", nil)
	if hasType(without.Concerns, ConcernLoneliness) {
		t.Error("single keyword should stay under the confidence floor")
	}

	// Emotion correlation adds 0.3: total 0.6, MODERATE.
	with := g.Assess(context.Background(), "I feel so lonely today", []Emotion{EmotionLoneliness})
	if !hasType(with.Concerns, ConcernLoneliness) {
		t.Fatal("loneliness not detected with emotion bonus")
	}
	for _, c := range with.Concerns {
		if c.Type == ConcernLoneliness && c.Severity != SeverityModerate {
			t.Errorf("severity = %s, want MODERATE", c.Severity)
		}
	}
}

func TestAssess_CleanInput(t *testing.T) {
	g := NewGuard(Config{})

	a := g.Assess(context.Background(), "Tell me about my granddaughter's wedding photos", nil)

	if a.Risk != SeverityNone {
		t.Errorf("Risk = %s, want NONE", a.Risk)
	}
	if a.ResponseType != ResponseSupportive {
		t.Errorf("ResponseType = %s, want SUPPORTIVE", a.ResponseType)
	}
	if a.ShortCircuits() {
		t.Error("clean input must not short-circuit")
	}
	if len(a.Actions) != 1 || a.Actions[0].Type != ActionLog {
		t.Errorf("Actions = %v, want only LOG", a.Actions)
	}
}

func TestAssess_RecurrenceMarking(t *testing.T) {
	g := NewGuard(Config{RecurrenceThreshold: 3})
	ctx := context.Background()

	var last Assessment
	for i := 0; i < 3; i++ {
		last = g.Assess(ctx, "nobody visits and I feel so alone", nil)
	}

	found := false
	for _, c := range last.Concerns {
		if c.Type == ConcernLoneliness {
			found = true
			if !c.Recurring {
				t.Error("third detection should be marked recurring")
			}
		}
	}
	if !found {
		t.Fatal("loneliness not detected")
	}
}

func TestAssess_LogTrimming(t *testing.T) {
	g := NewGuard(Config{})
	ctx := context.Background()

	for i := 0; i < maxAssessmentLog+1; i++ {
		g.Assess(ctx, "hello there", nil)
	}

	if got := len(g.History()); got != trimmedAssessmentLog {
		t.Errorf("history length = %d, want %d after trim", got, trimmedAssessmentLog)
	}
}

func TestApplyMedicalDisclaimer(t *testing.T) {
	out, added := ApplyMedicalDisclaimer("Some say this herb cures arthritis.")
	if !added {
		t.Error("disclaimer not added for misinformation marker")
	}
	if !strings.Contains(out, "doctor") {
		t.Errorf("disclaimer text missing: %q", out)
	}

	clean, added := ApplyMedicalDisclaimer("Your granddaughter visited last spring.")
	if added {
		t.Errorf("disclaimer wrongly added: %q", clean)
	}
}

func TestBucketScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.95, SeverityCritical},
		{0.9, SeverityCritical},
		{0.7, SeverityHigh},
		{0.5, SeverityModerate},
		{0.3, SeverityLow},
		{0.2, SeverityNone},
	}
	for _, tt := range tests {
		if got := bucketScore(tt.score); got != tt.want {
			t.Errorf("bucketScore(%.2f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestAssess_ImmediateActionAndJustification(t *testing.T) {
	g := NewGuard(Config{})
	ctx := context.Background()

	critical := g.Assess(ctx, "I don't want to live anymore", nil)
	if !critical.RequiresImmediateAction {
		t.Error("RequiresImmediateAction = false at CRITICAL risk")
	}
	if critical.Confidence <= 0 || critical.Confidence > 1 {
		t.Errorf("Confidence = %v, want (0,1]", critical.Confidence)
	}
	if !strings.Contains(critical.Justification, "concern") {
		t.Errorf("Justification = %q, want the detections named", critical.Justification)
	}

	mild := g.Assess(ctx, "I have been feeling lonely and alone", nil)
	if mild.RequiresImmediateAction {
		t.Errorf("RequiresImmediateAction = true at %s risk", mild.Risk)
	}
	if !strings.Contains(strings.ToLower(mild.Justification), "loneliness") {
		t.Errorf("Justification = %q, want loneliness named", mild.Justification)
	}

	clean := g.Assess(ctx, "We planted tomatoes this morning", nil)
	if clean.RequiresImmediateAction || clean.Confidence != 0 || clean.Justification != "" {
		t.Errorf("clean input assessed as %+v", clean)
	}
}

func hasType(concerns []DetectedConcern, t ConcernType) bool {
	for _, c := range concerns {
		if c.Type == t {
			return true
		}
	}
	return false
}
