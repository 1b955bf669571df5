package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/keepsake-ai/keepsake/pkg/memory"
)

func TestMemoryTools_RoundTrip(t *testing.T) {
	r := NewRegistry()
	store := memory.NewInMemoryStore()
	if err := RegisterMemoryTools(r, store); err != nil {
		t.Fatalf("RegisterMemoryTools() error = %v", err)
	}

	ctx := context.Background()
	ec := ExecutionContext{UserID: "margaret", SessionID: "s1"}

	storeResult, err := r.Execute(ctx, ToolStoreMemory, map[string]any{
		"text": "Best friend is Bob, met 1990",
		"tags": []any{"friends"},
	}, ec)
	if err != nil {
		t.Fatalf("StoreMemory error = %v", err)
	}
	if !storeResult.Success {
		t.Fatal("StoreMemory did not succeed")
	}

	retrieveResult, err := r.Execute(ctx, ToolRetrieveMemories, map[string]any{
		"query": "best friend",
	}, ec)
	if err != nil {
		t.Fatalf("RetrieveMemories error = %v", err)
	}
	output, ok := retrieveResult.Output.(string)
	if !ok {
		t.Fatalf("Output type = %T, want string", retrieveResult.Output)
	}
	if !strings.Contains(output, "Bob") {
		t.Errorf("Output = %q, want it to mention Bob", output)
	}
}

func TestMemoryTools_EmptyRetrieval(t *testing.T) {
	r := NewRegistry()
	if err := RegisterMemoryTools(r, memory.NewInMemoryStore()); err != nil {
		t.Fatalf("RegisterMemoryTools() error = %v", err)
	}

	result, err := r.Execute(context.Background(), ToolRetrieveMemories, map[string]any{
		"query": "anything at all",
	}, ExecutionContext{UserID: "margaret"})
	if err != nil {
		t.Fatalf("RetrieveMemories error = %v", err)
	}
	if result.Output != "No matching memories found." {
		t.Errorf("Output = %v", result.Output)
	}
}

func TestMemoryTools_InputValidated(t *testing.T) {
	r := NewRegistry()
	if err := RegisterMemoryTools(r, memory.NewInMemoryStore()); err != nil {
		t.Fatalf("RegisterMemoryTools() error = %v", err)
	}

	// query is required
	_, err := r.Execute(context.Background(), ToolRetrieveMemories, map[string]any{}, ExecutionContext{UserID: "margaret"})
	assertCode(t, err, ErrInvalidInput, false)
}

func TestMemoryTools_NilStore(t *testing.T) {
	if err := RegisterMemoryTools(NewRegistry(), nil); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestMemoryTools_PlanningMetadata(t *testing.T) {
	r := NewRegistry()
	if err := RegisterMemoryTools(r, memory.NewInMemoryStore()); err != nil {
		t.Fatalf("RegisterMemoryTools() error = %v", err)
	}

	retrieve, ok := r.Get(ToolRetrieveMemories)
	if !ok {
		t.Fatal("RetrieveMemories not registered")
	}
	if !hasCapability(retrieve.Capabilities, "memory.read") {
		t.Errorf("Capabilities = %v, want memory.read", retrieve.Capabilities)
	}
	if retrieve.EstimatedCostCents <= 0 || retrieve.EstimatedLatencyMs <= 0 {
		t.Errorf("missing cost/latency estimates: %+v", retrieve)
	}

	store, ok := r.Get(ToolStoreMemory)
	if !ok {
		t.Fatal("StoreMemory not registered")
	}
	if !hasCapability(store.Capabilities, "memory.write") {
		t.Errorf("Capabilities = %v, want memory.write", store.Capabilities)
	}
}

func hasCapability(caps []string, want string) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}
