package improve

import (
	"testing"
	"time"
)

func TestBaseline_EMAUpdate(t *testing.T) {
	m := NewManager()

	m.RecordExecution(Execution{AgentID: "bio", Success: true, Tokens: 1000, CostCents: 10})
	b, ok := m.Baseline("bio")
	if !ok {
		t.Fatal("baseline missing")
	}
	if b.Samples != 1 || b.Tokens != 1000 {
		t.Errorf("first sample should initialize baseline, got %+v", b)
	}

	m.RecordExecution(Execution{AgentID: "bio", Success: true, Tokens: 2000, CostCents: 10})
	b, _ = m.Baseline("bio")
	// 1000 + 0.1*(2000-1000) = 1100
	if b.Tokens != 1100 {
		t.Errorf("Tokens = %.0f, want 1100 (alpha=0.1)", b.Tokens)
	}
	if b.Samples != 2 {
		t.Errorf("Samples = %d, want 2", b.Samples)
	}
}

func TestAnomalyTagging_RequiresSamples(t *testing.T) {
	m := NewManager()

	// Nine cheap runs: baseline not yet trusted.
	for i := 0; i < 9; i++ {
		m.RecordExecution(Execution{AgentID: "bio", Success: true, Tokens: 100, CostCents: 1, Duration: time.Second})
	}
	rec := m.RecordExecution(Execution{AgentID: "bio", Success: true, Tokens: 10000, CostCents: 1, Duration: time.Second})
	if containsTag(rec.ErrorTags, TagHighTokenUsage) {
		t.Error("anomaly tagged before baseline had 10 samples")
	}

	// Baseline now has 10 samples; the next outlier gets tagged.
	rec = m.RecordExecution(Execution{AgentID: "bio", Success: true, Tokens: 10000, CostCents: 50, Duration: time.Minute})
	if !containsTag(rec.ErrorTags, TagHighTokenUsage) {
		t.Errorf("missing %s tag: %v", TagHighTokenUsage, rec.ErrorTags)
	}
	if !containsTag(rec.ErrorTags, TagUnusuallyExpensive) {
		t.Errorf("missing %s tag: %v", TagUnusuallyExpensive, rec.ErrorTags)
	}
	if !containsTag(rec.ErrorTags, TagUnusuallySlow) {
		t.Errorf("missing %s tag: %v", TagUnusuallySlow, rec.ErrorTags)
	}
}

func TestMineFailures(t *testing.T) {
	m := NewManager()

	for i := 0; i < 3; i++ {
		m.RecordExecution(Execution{AgentID: "bio", Success: false, ErrorTags: []string{"tool_unreachable"}})
	}

	var found *Pattern
	for _, p := range m.Patterns() {
		if p.Family == FamilyFailure {
			found = &p
			break
		}
	}
	if found == nil {
		t.Fatal("no failure pattern mined")
	}
	if found.Signature != "tool_unreachable" {
		t.Errorf("Signature = %q", found.Signature)
	}
	if found.Confidence != 1.0 {
		t.Errorf("Confidence = %.2f, want 1.0 (3/3)", found.Confidence)
	}
	// All three stored runs are failures with the tag, so the pattern
	// covers the full history.
	if found.Impact != 1.0 {
		t.Errorf("Impact = %.2f, want 1.0", found.Impact)
	}

	var hasTagCondition bool
	for _, c := range found.Conditions {
		if c.Feature == "error_tags" && c.Operator == OpContains && c.Value == "tool_unreachable" {
			hasTagCondition = true
		}
	}
	if !hasTagCondition {
		t.Errorf("Conditions = %+v, want error_tags contains tool_unreachable", found.Conditions)
	}

	if !found.Matches(Execution{Success: false, ErrorTags: []string{"tool_unreachable"}}) {
		t.Error("pattern should match a failure carrying its tag")
	}
	if found.Matches(Execution{Success: true, ErrorTags: []string{"tool_unreachable"}}) {
		t.Error("pattern should not match a successful run")
	}
}

func TestConditionOperators(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		exec Execution
		want bool
	}{
		{"equals bool", Condition{Feature: "timed_out", Operator: OpEquals, Value: true}, Execution{TimedOut: true}, true},
		{"contains goal word", Condition{Feature: "goal", Operator: OpContains, Value: "garden"}, Execution{Goal: "Tell me about the garden"}, true},
		{"contains misses", Condition{Feature: "goal", Operator: OpContains, Value: "garden"}, Execution{Goal: "the old house"}, false},
		{"gt cost", Condition{Feature: "cost_cents", Operator: OpGreaterThan, Value: 5.0}, Execution{CostCents: 6}, true},
		{"lt steps", Condition{Feature: "steps", Operator: OpLessThan, Value: 3}, Execution{Steps: 2}, true},
		{"lt steps misses", Condition{Feature: "steps", Operator: OpLessThan, Value: 3}, Execution{Steps: 3}, false},
		{"exists tags", Condition{Feature: "error_tags", Operator: OpExists}, Execution{ErrorTags: []string{"x"}}, true},
		{"exists empty tags", Condition{Feature: "error_tags", Operator: OpExists}, Execution{}, false},
		{"unknown feature", Condition{Feature: "moon_phase", Operator: OpEquals, Value: "full"}, Execution{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Pattern{Conditions: []Condition{tt.cond}}
			if got := p.Matches(tt.exec); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMineSuccesses(t *testing.T) {
	m := NewManager()

	for i := 0; i < 4; i++ {
		m.RecordExecution(Execution{AgentID: "bio", Success: true, ToolsUsed: []string{"RetrieveMemories"}})
	}
	m.RecordExecution(Execution{AgentID: "bio", Success: true, ToolsUsed: []string{"StoreMemory"}})

	var found *Pattern
	for _, p := range m.Patterns() {
		if p.Family == FamilySuccess {
			found = &p
			break
		}
	}
	if found == nil {
		t.Fatal("no success pattern mined")
	}
	// RetrieveMemories: 4/5 = 0.8 >= 0.5; StoreMemory: 1/5 excluded.
	if found.Signature != "RetrieveMemories" {
		t.Errorf("Signature = %q", found.Signature)
	}
}

func TestMineTimeouts(t *testing.T) {
	m := NewManager()

	m.RecordExecution(Execution{AgentID: "bio", TimedOut: true, Steps: 4, Tokens: 4000})
	m.RecordExecution(Execution{AgentID: "bio", TimedOut: true, Steps: 6, Tokens: 6000})

	var found *Pattern
	for _, p := range m.Patterns() {
		if p.Family == FamilyTimeout {
			found = &p
			break
		}
	}
	if found == nil {
		t.Fatal("no timeout pattern mined")
	}
	if found.Observations != 2 {
		t.Errorf("Observations = %d, want 2", found.Observations)
	}
}

func TestMineCosts(t *testing.T) {
	m := NewManager()

	for i := 0; i < 4; i++ {
		m.RecordExecution(Execution{AgentID: "bio", Success: true, Goal: "quick greeting", CostCents: 1})
	}
	m.RecordExecution(Execution{AgentID: "bio", Success: true, Goal: "write a complete biography chapter", CostCents: 20})
	m.RecordExecution(Execution{AgentID: "bio", Success: true, Goal: "write another biography chapter", CostCents: 25})

	var found *Pattern
	for _, p := range m.Patterns() {
		if p.Family == FamilyCost {
			found = &p
			break
		}
	}
	if found == nil {
		t.Fatal("no cost pattern mined")
	}
	if !containsSub(found.Description, "biography") {
		t.Errorf("Description = %q, want shared term 'biography'", found.Description)
	}
}

func TestSuggestions_PriorityAndCap(t *testing.T) {
	m := NewManager()

	// Failure pattern with full confidence.
	for i := 0; i < 5; i++ {
		m.RecordExecution(Execution{AgentID: "bio", Success: false, ErrorTags: []string{"llm_refusal"}})
	}

	suggestions := m.Suggestions()
	if len(suggestions) == 0 {
		t.Fatal("no suggestions derived")
	}
	top := suggestions[0]
	if top.Family != FamilyFailure {
		t.Errorf("top family = %s, want failure", top.Family)
	}
	// 1 + min(2, 5/5) + 2*1.0 + 1 = 5
	if top.Priority != 5 {
		t.Errorf("Priority = %.2f, want 5", top.Priority)
	}
	for i := 1; i < len(suggestions); i++ {
		if suggestions[i].Priority > suggestions[i-1].Priority {
			t.Error("suggestions not sorted by priority descending")
		}
	}
}

func TestExecutionCap(t *testing.T) {
	m := NewManager()

	for i := 0; i < maxExecutions+5; i++ {
		m.RecordExecution(Execution{AgentID: "bio", Success: true})
	}

	m.mu.Lock()
	got := len(m.executions)
	m.mu.Unlock()
	if got != maxExecutions {
		t.Errorf("executions = %d, want %d", got, maxExecutions)
	}
}

func TestPrune_DropsOldRecords(t *testing.T) {
	m := NewManager()

	old := Execution{AgentID: "bio", Success: true, Timestamp: time.Now().AddDate(0, 0, -(maxAgeDays + 1))}
	m.RecordExecution(old)
	m.RecordExecution(Execution{AgentID: "bio", Success: true})

	m.Prune()

	m.mu.Lock()
	got := len(m.executions)
	m.mu.Unlock()
	if got != 1 {
		t.Errorf("executions after prune = %d, want 1", got)
	}
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func containsSub(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
