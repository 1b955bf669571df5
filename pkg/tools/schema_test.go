package tools

import (
	"testing"
)

type sampleArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=20"`
}

func TestGenerateSchema(t *testing.T) {
	schema, err := GenerateSchema[sampleArgs]()
	if err != nil {
		t.Fatalf("GenerateSchema() error = %v", err)
	}

	if schema["type"] != "object" {
		t.Errorf("type = %v, want object", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing: %v", schema)
	}
	if _, ok := props["query"]; !ok {
		t.Error("query property missing")
	}
	if _, ok := props["limit"]; !ok {
		t.Error("limit property missing")
	}
}

func TestCompileAndValidate(t *testing.T) {
	schema, err := GenerateSchema[sampleArgs]()
	if err != nil {
		t.Fatalf("GenerateSchema() error = %v", err)
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		t.Fatalf("compileSchema() error = %v", err)
	}

	if err := validateValue(compiled, map[string]any{"query": "friends", "limit": 5}); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}
	if err := validateValue(compiled, map[string]any{"limit": 5}); err == nil {
		t.Error("missing required query accepted")
	}
	if err := validateValue(compiled, map[string]any{"query": "x", "limit": 100}); err == nil {
		t.Error("limit over maximum accepted")
	}
}

func TestValidate_IntNormalization(t *testing.T) {
	schema, err := GenerateSchema[sampleArgs]()
	if err != nil {
		t.Fatalf("GenerateSchema() error = %v", err)
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		t.Fatalf("compileSchema() error = %v", err)
	}

	// Go ints must validate like decoded JSON numbers.
	if err := validateValue(compiled, map[string]any{"query": "x", "limit": int(3)}); err != nil {
		t.Errorf("int input rejected: %v", err)
	}
}

func TestDecodeArgs(t *testing.T) {
	var args sampleArgs
	input := map[string]any{"query": "the mill", "limit": "7"}

	if err := DecodeArgs(input, &args); err != nil {
		t.Fatalf("DecodeArgs() error = %v", err)
	}
	if args.Query != "the mill" {
		t.Errorf("Query = %q", args.Query)
	}
	if args.Limit != 7 {
		t.Errorf("Limit = %d, want 7 (weakly typed)", args.Limit)
	}
}
