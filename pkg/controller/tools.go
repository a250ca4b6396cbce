package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dataworks-io/sqlgate/pkg/llmprovider"
	"github.com/dataworks-io/sqlgate/pkg/tool"
)

// toolSchemas gives each known tool an explicit JSON Schema for its
// arguments, since tool.Tool itself carries only a human-readable
// description (spec.md §9: "tools receive destination through the
// explicit ctx, not through ambient module state" — so destination fields
// are optional overrides here, never required).
var toolSchemas = map[string]string{
	"get_table_schema": `{"type":"object","properties":{
		"table_name":{"type":"string","description":"Table to describe; omit for a summary of all tables."}
	}}`,
	"query_database": `{"type":"object","properties":{
		"sql":{"type":"string","description":"A read-only SELECT or WITH statement."},
		"limit":{"type":"integer","description":"Maximum rows to return, default 100."}
	},"required":["sql"]}`,
	"search_knowledge": `{"type":"object","properties":{
		"query":{"type":"string","description":"Natural-language question to search the knowledge base for."},
		"mode":{"type":"string","description":"Retrieval mode, default mix."},
		"top_k":{"type":"integer","description":"Number of passages to retrieve, default 5."}
	},"required":["query"]}`,
}

// ToolSet is the fixed collection of tools available to the step executor's
// sub-agent.
type ToolSet struct {
	tools map[string]tool.Tool
	order []string
}

// NewToolSet builds a ToolSet from the catalog, SQL, and knowledge tools.
func NewToolSet(tools ...tool.Tool) *ToolSet {
	ts := &ToolSet{tools: make(map[string]tool.Tool, len(tools))}
	for _, t := range tools {
		ts.tools[t.Name()] = t
		ts.order = append(ts.order, t.Name())
	}
	return ts
}

// Definitions renders every tool as an llmprovider.ToolDefinition, in
// stable registration order.
func (ts *ToolSet) Definitions() []llmprovider.ToolDefinition {
	out := make([]llmprovider.ToolDefinition, 0, len(ts.order))
	for _, name := range ts.order {
		t := ts.tools[name]
		out = append(out, llmprovider.ToolDefinition{
			Name:             t.Name(),
			Description:      t.Description(),
			ParametersSchema: toolSchemas[name],
		})
	}
	return out
}

// Names lists every tool name, in stable registration order.
func (ts *ToolSet) Names() []string {
	out := make([]string, len(ts.order))
	copy(out, ts.order)
	return out
}

// Invoke dispatches a tool call by name, returning its envelope JSON (or a
// synthesized error envelope if the name is unknown).
func (ts *ToolSet) Invoke(ctx context.Context, call llmprovider.ToolCall) (tool.Envelope, error) {
	t, ok := ts.tools[call.Name]
	if !ok {
		return tool.Failure(1001, "INVALID_PARAMS", fmt.Sprintf("unknown tool %q", call.Name)), nil
	}
	return t.Invoke(ctx, json.RawMessage(call.Arguments))
}

// ClassOf reports the ToolClass of a tool by name, for telemetry counters
// in the dispatcher; the zero value if unknown.
func (ts *ToolSet) ClassOf(name string) tool.Class {
	if t, ok := ts.tools[name]; ok {
		return t.Class()
	}
	return ""
}
