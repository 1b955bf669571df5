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

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/keepsake-ai/keepsake/pkg/memory"
)

// Builtin tool IDs.
const (
	ToolRetrieveMemories = "RetrieveMemories"
	ToolStoreMemory      = "StoreMemory"
)

type retrieveArgs struct {
	Query string `json:"query" jsonschema:"required,description=What to look for in the user's memories"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Maximum results,minimum=1,maximum=20"`
}

type storeArgs struct {
	Text string   `json:"text" jsonschema:"required,description=The memory to record, in the user's words"`
	Tags []string `json:"tags,omitempty" jsonschema:"description=Topic tags such as family or career"`
}

// RegisterMemoryTools wires the episodic memory store into the registry
// as the RetrieveMemories and StoreMemory contracts.
func RegisterMemoryTools(r *Registry, store memory.Store) error {
	if store == nil {
		return fmt.Errorf("memory store cannot be nil")
	}

	retrieve := Contract{
		ID:                 ToolRetrieveMemories,
		Name:               "Retrieve Memories",
		Description:        "Search the user's recorded memories for facts and stories relevant to a query",
		Category:           "memory",
		Enabled:            true,
		DefaultPermission:  PermissionAllowed,
		Capabilities:       []string{"memory.read", "search"},
		EstimatedCostCents: 0.01,
		EstimatedLatencyMs: 50,
		InputSchema:        MustSchema[retrieveArgs](),
		Execute: func(ctx context.Context, input map[string]any, ec ExecutionContext) (any, error) {
			var args retrieveArgs
			if err := DecodeArgs(input, &args); err != nil {
				return nil, err
			}
			hits, err := store.Retrieve(ctx, ec.UserID, args.Query, args.TopK)
			if err != nil {
				return nil, err
			}
			return formatMemories(hits), nil
		},
	}

	storeMem := Contract{
		ID:                 ToolStoreMemory,
		Name:               "Store Memory",
		Description:        "Record a new fact or story fragment the user shared",
		Category:           "memory",
		Enabled:            true,
		DefaultPermission:  PermissionConfirm,
		Capabilities:       []string{"memory.write"},
		EstimatedCostCents: 0.01,
		EstimatedLatencyMs: 50,
		InputSchema:        MustSchema[storeArgs](),
		Execute: func(ctx context.Context, input map[string]any, ec ExecutionContext) (any, error) {
			var args storeArgs
			if err := DecodeArgs(input, &args); err != nil {
				return nil, err
			}
			rec, err := store.Save(ctx, memory.Record{
				UserID: ec.UserID,
				Text:   args.Text,
				Tags:   args.Tags,
			})
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Stored memory %s", rec.ID), nil
		},
	}

	if err := r.Register(retrieve); err != nil {
		return err
	}
	return r.Register(storeMem)
}

// formatMemories renders retrieval hits as an observation string the
// model can read back.
func formatMemories(hits []memory.Scored) string {
	if len(hits) == 0 {
		return "No matching memories found."
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, h.Text)
	}
	return b.String()
}
