// Package tool implements the three externally-callable tool families the
// controller's sub-agent may invoke: catalog (C4), SQL (C5), and knowledge
// (C6). Grounded on the teacher's agent.ToolExecutor/ToolResult shape
// (pkg/mcp/executor.go) and on original_source/tools/{execute_sql_tool,
// get_table_schema_tool,search_knowledge_tool}.py for the concrete
// pipelines and envelope fields.
package tool

import (
	"context"
	"encoding/json"

	"github.com/dataworks-io/sqlgate/pkg/models"
)

// Class mirrors models.ToolClass for the tool-invocation boundary.
type Class = models.ToolClass

// Envelope is the JSON result every tool call returns to the controller's
// sub-agent, success or failure, matching the {success, data, columns,
// row_count, execution_time_ms, message} shape original_source's
// execute_sql_query returns.
type Envelope struct {
	Success         bool             `json:"success"`
	Message         string           `json:"message,omitempty"`
	Data            []map[string]any `json:"data,omitempty"`
	Columns         []string         `json:"columns,omitempty"`
	RowCount        int              `json:"row_count,omitempty"`
	ExecutionTimeMS int64            `json:"execution_time_ms,omitempty"`
	Text            string           `json:"text,omitempty"`
	Code            int              `json:"code,omitempty"`
	CodeName        string           `json:"code_name,omitempty"`
}

// JSON renders the envelope for inclusion in a tool-result message.
func (e Envelope) JSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"success":false,"message":"failed to encode tool result"}`
	}
	return string(b)
}

// Success builds a successful tabular envelope.
func Success(data []map[string]any, columns []string, execMS int64, message string) Envelope {
	return Envelope{
		Success:         true,
		Data:            data,
		Columns:         columns,
		RowCount:        len(data),
		ExecutionTimeMS: execMS,
		Message:         message,
	}
}

// SuccessText builds a successful free-text envelope (catalog, knowledge).
func SuccessText(text string) Envelope {
	return Envelope{Success: true, Text: text, Message: text}
}

// Failure builds a failed envelope carrying a stable error code.
func Failure(code int, codeName, message string) Envelope {
	return Envelope{Success: false, Code: code, CodeName: codeName, Message: message}
}

// Call is one invocation request the controller's sub-agent issues.
type Call struct {
	Name string
	Args json.RawMessage
}

// Tool is implemented by each of the three callable tool families.
type Tool interface {
	// Name is the tool's externally-visible name, e.g. "query_database".
	Name() string
	// Class identifies which ToolClass this tool belongs to, for telemetry.
	Class() Class
	// Description is surfaced to the LLM as the tool's docstring.
	Description() string
	// Invoke executes the tool and returns its result envelope. Invoke
	// itself never returns a Go error for tool-domain failures — those are
	// encoded in the envelope, malformed arguments JSON included — only for
	// conditions an envelope cannot carry.
	Invoke(ctx context.Context, args json.RawMessage) (Envelope, error)
}
