package contextmgr

import (
	"strings"
	"testing"
)

func TestOptimize_RequiredAlwaysIncluded(t *testing.T) {
	m := NewManager(10)

	if err := m.SetSource(Source{ID: "sys", Type: SourceSystemPrompt, Content: strings.Repeat("x", 200), Priority: 100, Required: true}); err != nil {
		t.Fatalf("SetSource() error = %v", err)
	}
	if err := m.SetSource(Source{ID: "mem", Type: SourceMemory, Content: strings.Repeat("y", 200), Priority: 50}); err != nil {
		t.Fatalf("SetSource() error = %v", err)
	}

	a := m.Optimize()
	if len(a.Included) != 1 || a.Included[0].ID != "sys" {
		t.Fatalf("Included = %v, want only the required source", ids(a.Included))
	}
	if len(a.ExcludedIDs) != 1 || a.ExcludedIDs[0] != "mem" {
		t.Errorf("ExcludedIDs = %v, want [mem]", a.ExcludedIDs)
	}
}

func TestOptimize_GreedyByPriority(t *testing.T) {
	m := NewManager(100)

	// ~25 estimated tokens each (100 chars)
	for _, s := range []Source{
		{ID: "low", Priority: 1, Content: strings.Repeat("a", 100)},
		{ID: "high", Priority: 10, Content: strings.Repeat("b", 100)},
		{ID: "mid", Priority: 5, Content: strings.Repeat("c", 100)},
	} {
		if err := m.SetSource(s); err != nil {
			t.Fatalf("SetSource() error = %v", err)
		}
	}

	a := m.Optimize()
	got := ids(a.Included)
	want := []string{"high", "mid", "low"}
	if len(got) != len(want) {
		t.Fatalf("Included = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Included = %v, want %v", got, want)
		}
	}
}

func TestOptimize_DropsLowestWhenOverCap(t *testing.T) {
	m := NewManager(60)

	for _, s := range []Source{
		{ID: "high", Priority: 10, Content: strings.Repeat("b", 100)},
		{ID: "mid", Priority: 5, Content: strings.Repeat("c", 100)},
		{ID: "low", Priority: 1, Content: strings.Repeat("a", 100)},
	} {
		if err := m.SetSource(s); err != nil {
			t.Fatalf("SetSource() error = %v", err)
		}
	}

	a := m.Optimize()
	got := ids(a.Included)
	if len(got) != 2 || got[0] != "high" || got[1] != "mid" {
		t.Fatalf("Included = %v, want [high mid]", got)
	}
	if len(a.ExcludedIDs) != 1 || a.ExcludedIDs[0] != "low" {
		t.Errorf("ExcludedIDs = %v, want [low]", a.ExcludedIDs)
	}
}

func TestOptimize_TieBreaksByInsertionOrder(t *testing.T) {
	m := NewManager(1000)

	_ = m.SetSource(Source{ID: "first", Priority: 5, Content: "one"})
	_ = m.SetSource(Source{ID: "second", Priority: 5, Content: "two"})

	a := m.Optimize()
	got := ids(a.Included)
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("Included = %v, want insertion order preserved", got)
	}
}

func TestOptimize_StablePrefixAcrossInvocations(t *testing.T) {
	m := NewManager(1000)

	_ = m.SetSource(Source{ID: "sys", Priority: 100, Content: "You are a gentle biographer.", Required: true})
	_ = m.SetSource(Source{ID: "persona", Priority: 90, Content: "Speak warmly."})
	_ = m.SetSource(Source{ID: "input", Priority: 10, Content: "Tell me about the war years."})

	first := m.Optimize()
	if first.StablePrefixSources != 0 {
		t.Errorf("first assembly StablePrefixSources = %d, want 0", first.StablePrefixSources)
	}

	// Only the trailing user input changes between turns.
	_ = m.SetSource(Source{ID: "input", Priority: 10, Content: "What happened after that?"})

	second := m.Optimize()
	if second.StablePrefixSources != 2 {
		t.Fatalf("StablePrefixSources = %d, want 2", second.StablePrefixSources)
	}
	if second.StablePrefixHash == "" {
		t.Error("StablePrefixHash is empty")
	}
	wantPrefix := "You are a gentle biographer.\n\nSpeak warmly."
	if second.StablePrefixLen != len(wantPrefix) {
		t.Errorf("StablePrefixLen = %d, want %d", second.StablePrefixLen, len(wantPrefix))
	}

	// Unchanged context keeps the same fingerprint.
	third := m.Optimize()
	if third.StablePrefixSources != 3 {
		t.Errorf("StablePrefixSources = %d, want all 3 stable", third.StablePrefixSources)
	}
}

func TestOptimize_PrefixBreaksOnLeadingChange(t *testing.T) {
	m := NewManager(1000)

	_ = m.SetSource(Source{ID: "sys", Priority: 100, Content: "v1", Required: true})
	_ = m.SetSource(Source{ID: "persona", Priority: 90, Content: "unchanged"})

	m.Optimize()
	_ = m.SetSource(Source{ID: "sys", Priority: 100, Content: "v2", Required: true})

	a := m.Optimize()
	if a.StablePrefixSources != 0 {
		t.Errorf("StablePrefixSources = %d, want 0 when the head changes", a.StablePrefixSources)
	}
	if a.StablePrefixHash != "" {
		t.Error("StablePrefixHash should be empty with no stable prefix")
	}
}

func TestRemoveSource(t *testing.T) {
	m := NewManager(1000)

	_ = m.SetSource(Source{ID: "a", Priority: 1, Content: "alpha"})
	_ = m.SetSource(Source{ID: "b", Priority: 1, Content: "beta"})
	m.RemoveSource("a")
	m.RemoveSource("missing")

	a := m.Optimize()
	got := ids(a.Included)
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("Included = %v, want [b]", got)
	}
}

func TestSetSource_EmptyID(t *testing.T) {
	m := NewManager(100)
	if err := m.SetSource(Source{Content: "x"}); err == nil {
		t.Error("expected error for empty source ID")
	}
}

func ids(sources []Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.ID
	}
	return out
}
