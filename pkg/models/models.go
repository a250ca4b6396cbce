// Package models defines the gateway's persisted entities, grounded on
// spec.md §3 and on the teacher's pkg/models conventions (plain structs
// with json tags, no ORM annotations — persistence mapping lives in
// pkg/ctldb alongside the hand-written SQL).
package models

import "time"

// DBMapping resolves a symbolic destination name to a connection record.
// Owned exclusively by the Mapping Store; created/mutated by operator
// tooling, never by the request path.
type DBMapping struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Database  string    `json:"database"`
	Type      string    `json:"type"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResolvedConn is the in-memory connection tuple derived from a DBMapping.
// It excludes the symbolic name and audit fields — only what a pool engine
// needs to dial the destination.
type ResolvedConn struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// PoolKey identifies a pool entry. Deliberately excludes Password so that
// rotating a destination's password does not change pool identity
// (spec.md §3, §9 "Password-insensitive pool keys").
type PoolKey struct {
	Host     string
	Port     int
	Username string
	Database string
}

// PoolKeyFrom derives the pool key from a resolved connection tuple.
func PoolKeyFrom(c ResolvedConn) PoolKey {
	return PoolKey{Host: c.Host, Port: c.Port, Username: c.Username, Database: c.Database}
}

// SessionStatus enumerates the lifecycle of an analytics session.
type SessionStatus string

// UserSessionLog is the analytics-session record: one per live streaming
// connection (or group of duplicates), deduplicated per spec.md §4.10.
type UserSessionLog struct {
	SessionID      string     `json:"session_id"`
	ClientIP       string     `json:"client_ip"`
	UserAgent      string     `json:"user_agent"`
	PrimaryDB      string     `json:"primary_db"`
	DataSourcesUsed []string  `json:"data_sources_used"`
	RequestCount   int        `json:"request_count"`
	SuccessCount   int        `json:"success_count"`
	ErrorCount     int        `json:"error_count"`
	StartTime      time.Time  `json:"start_time"`
	LastActivity   time.Time  `json:"last_activity"`
	EndTime        *time.Time `json:"end_time,omitempty"`
}

// RequestStatus enumerates the terminal outcome of a data_agent invocation.
type RequestStatus string

const (
	RequestStatusSuccess RequestStatus = "success"
	RequestStatusError   RequestStatus = "error"
	RequestStatusTimeout RequestStatus = "timeout"
)

// AgentExecutionLog is the per-`data_agent`-invocation record.
type AgentExecutionLog struct {
	RequestID     string        `json:"request_id"`
	SessionID     string        `json:"session_id"`
	DataSource    string        `json:"data_source"`
	UserQuery     string        `json:"user_query"`
	Status        RequestStatus `json:"status"`
	DurationMS    int64         `json:"duration_ms"`
	PlanSteps     int           `json:"plan_steps"`
	ExecutedSteps int           `json:"executed_steps"`
	Iterations    int           `json:"iterations"`
	ToolsInvoked  []string      `json:"tools_invoked"`
	SQLToolCount  int           `json:"sql_tool_count"`
	SchemaToolCount int         `json:"schema_tool_count"`
	KnowledgeToolCount int      `json:"knowledge_tool_count"`
	ResponseLength int          `json:"response_length"`
	HasData       bool          `json:"has_data"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ToolClass enumerates the three tool families the controller may invoke.
type ToolClass string

const (
	ToolClassSQL       ToolClass = "sql"
	ToolClassSchema    ToolClass = "schema"
	ToolClassKnowledge ToolClass = "knowledge"
)

// ToolCallLog is one tool invocation within a request.
type ToolCallLog struct {
	ID            int64     `json:"id"`
	RequestID     string    `json:"request_id"`
	ToolName      string    `json:"tool_name"`
	ToolClass     ToolClass `json:"tool_class"`
	Parameters    string    `json:"parameters"` // sanitized JSON
	DurationMS    int64     `json:"duration_ms"`
	Status        string    `json:"status"`
	ResultSummary string    `json:"result_summary,omitempty"`
	// SQL-specific fields, empty for non-SQL tool calls.
	ExecutedSQL     string  `json:"executed_sql,omitempty"`
	ExecutionTimeMS int64   `json:"execution_time_ms,omitempty"`
	Destination     string  `json:"destination,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// QueryType is the heuristic SQL-shape classification for SQLQueryLog.
type QueryType string

const (
	QueryTypeSimple      QueryType = "simple"
	QueryTypeJoin        QueryType = "join"
	QueryTypeAggregation QueryType = "aggregation"
	QueryTypeSubquery    QueryType = "subquery"
)

// SQLQueryLog is one executed SELECT, hashed rather than stored verbatim.
type SQLQueryLog struct {
	ID              int64     `json:"id"`
	RequestID       string    `json:"request_id"`
	QueryHash       string    `json:"query_hash"`
	QueryType       QueryType `json:"query_type"`
	TablesAccessed  []string  `json:"tables_accessed"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	RowsReturned    int       `json:"rows_returned"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// ErrorLog is a stable-coded error record, optionally tied to a request
// and/or session.
type ErrorLog struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Code        int       `json:"code"`
	CodeName    string    `json:"code_name"`
	Message     string    `json:"message"`
	Component   string    `json:"component"`
	Function    string    `json:"function"`
	CreatedAt   time.Time `json:"created_at"`
}

// KnowledgeGraphLog records one knowledge-tool invocation, kept in its own
// table apart from ToolCallLog (spec.md §6 schema table list includes
// knowledge_graph_log). It is written whenever the telemetry Recorder is
// enabled (ANALYTICS_ENABLED); it has no switch of its own.
type KnowledgeGraphLog struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Query      string    `json:"query"`
	Mode       string    `json:"mode"`
	TopK       int       `json:"top_k"`
	Status     string    `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
