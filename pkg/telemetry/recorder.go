// Package telemetry implements C7: persistence for every request, tool
// call, SQL execution, and error. Every write opens against the shared
// control-db pool but is independently committed and its error swallowed
// into structured logging — telemetry must never fail the user-visible
// request, per spec.md §5/§7. Grounded on the teacher's
// pkg/services/session_service.go write-then-log-on-failure shape,
// translated from ent transactions to hand-written pgx SQL.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataworks-io/sqlgate/pkg/models"
	"github.com/dataworks-io/sqlgate/pkg/reqctx"
)

// Recorder writes telemetry rows to the control database. Every method
// swallows its own error after logging — callers never need to check a
// return value, matching spec.md §7 "logged but never surfaced."
type Recorder struct {
	pool    *pgxpool.Pool
	enabled bool
}

// NewRecorder constructs a Recorder. When enabled is false (ANALYTICS_ENABLED=false)
// every method becomes a no-op, per SPEC_FULL.md's supplemented toggle.
func NewRecorder(pool *pgxpool.Pool, enabled bool) *Recorder {
	return &Recorder{pool: pool, enabled: enabled}
}

func (r *Recorder) log(op string, err error) {
	if err != nil {
		slog.Error("telemetry write failed", "op", op, "error", err)
	}
}

// StartSession inserts a new user_session_log row; a repeated call for the
// same session id is a no-op. Callers decide new-vs-reuse for a duplicate
// (client_ip, primary_db) pair via the session reference-count table in
// pkg/transport, so this method only ever inserts once per session id.
func (r *Recorder) StartSession(ctx context.Context, s models.UserSessionLog) {
	if !r.enabled {
		return
	}
	const q = `INSERT INTO user_session_log
		(session_id, client_ip, user_agent, primary_db, data_sources_used, request_count, success_count, error_count, start_time, last_activity)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (session_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, s.SessionID, s.ClientIP, s.UserAgent, s.PrimaryDB,
		s.DataSourcesUsed, s.RequestCount, s.SuccessCount, s.ErrorCount, s.StartTime, s.LastActivity)
	r.log("start_session", err)
}

// EndSession sets end_time for a session, once its reference count drops
// to zero (decided by the caller in pkg/transport).
func (r *Recorder) EndSession(ctx context.Context, sessionID string) {
	if !r.enabled {
		return
	}
	const q = `UPDATE user_session_log SET end_time = now() WHERE session_id = $1`
	_, err := r.pool.Exec(ctx, q, sessionID)
	r.log("end_session", err)
}

// TouchSession bumps last_activity, request/success/error counters, and
// appends a destination to data_sources_used if new.
func (r *Recorder) TouchSession(ctx context.Context, sessionID, destination string, success bool) {
	if !r.enabled {
		return
	}
	successDelta, errorDelta := 0, 0
	if success {
		successDelta = 1
	} else {
		errorDelta = 1
	}
	const q = `UPDATE user_session_log SET
		last_activity = now(),
		request_count = request_count + 1,
		success_count = success_count + $2,
		error_count = error_count + $3,
		data_sources_used = CASE WHEN $4 = ANY(data_sources_used) THEN data_sources_used ELSE array_append(data_sources_used, $4) END
		WHERE session_id = $1`
	_, err := r.pool.Exec(ctx, q, sessionID, successDelta, errorDelta, destination)
	r.log("touch_session", err)
}

// RecordExecution inserts one agent_execution_log row, per invocation of
// data_agent.
func (r *Recorder) RecordExecution(ctx context.Context, e models.AgentExecutionLog) {
	if !r.enabled {
		return
	}
	const q = `INSERT INTO agent_execution_log
		(request_id, session_id, data_source, user_query, status, duration_ms, plan_steps, executed_steps,
		 iterations, tools_invoked, sql_tool_count, schema_tool_count, knowledge_tool_count, response_length, has_data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := r.pool.Exec(ctx, q, e.RequestID, e.SessionID, e.DataSource, e.UserQuery, e.Status, e.DurationMS,
		e.PlanSteps, e.ExecutedSteps, e.Iterations, e.ToolsInvoked, e.SQLToolCount, e.SchemaToolCount,
		e.KnowledgeToolCount, e.ResponseLength, e.HasData, e.CreatedAt)
	r.log("record_execution", err)
}

// RecordToolCall inserts one tool_call_log row, with parameters sanitized
// by the caller before reaching here (pkg/masking).
func (r *Recorder) RecordToolCall(ctx context.Context, t models.ToolCallLog) {
	if !r.enabled {
		return
	}
	params := t.Parameters
	if params == "" {
		params = "{}"
	}
	const q = `INSERT INTO tool_call_log
		(request_id, tool_name, tool_class, parameters, duration_ms, status, result_summary, executed_sql, execution_time_ms, destination, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.pool.Exec(ctx, q, t.RequestID, t.ToolName, t.ToolClass, json.RawMessage(params), t.DurationMS,
		t.Status, t.ResultSummary, t.ExecutedSQL, t.ExecutionTimeMS, t.Destination, time.Now())
	r.log("record_tool_call", err)
}

// RecordSQLQuery implements tool.QueryRecorder, inserting one sql_query_log
// row. The request id is pulled from ctx via reqctx — kept out of the
// SQLQueryLog struct itself so pkg/tool's pipeline does not need to thread
// it through every call site.
func (r *Recorder) RecordSQLQuery(ctx context.Context, entry models.SQLQueryLog) {
	if !r.enabled {
		return
	}
	if id, ok := reqctx.RequestID(ctx); ok {
		entry.RequestID = id
	}
	const q = `INSERT INTO sql_query_log
		(request_id, query_hash, query_type, tables_accessed, execution_time_ms, rows_returned, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.pool.Exec(ctx, q, entry.RequestID, entry.QueryHash, entry.QueryType, entry.TablesAccessed,
		entry.ExecutionTimeMS, entry.RowsReturned, entry.Status, entry.CreatedAt)
	r.log("record_sql_query", err)
}

// RecordKnowledgeQuery implements tool.KnowledgeRecorder, inserting one
// knowledge_graph_log row.
func (r *Recorder) RecordKnowledgeQuery(ctx context.Context, entry models.KnowledgeGraphLog) {
	if !r.enabled {
		return
	}
	if id, ok := reqctx.RequestID(ctx); ok {
		entry.RequestID = id
	}
	const q = `INSERT INTO knowledge_graph_log (request_id, query, mode, top_k, status, duration_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.pool.Exec(ctx, q, entry.RequestID, entry.Query, entry.Mode, entry.TopK, entry.Status, entry.DurationMS, entry.CreatedAt)
	r.log("record_knowledge_query", err)
}

// RecordError inserts one error_log row.
func (r *Recorder) RecordError(ctx context.Context, e models.ErrorLog) {
	if !r.enabled {
		return
	}
	const q = `INSERT INTO error_log (request_id, session_id, code, code_name, message, component, function, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.pool.Exec(ctx, q, nullIfEmpty(e.RequestID), nullIfEmpty(e.SessionID), e.Code, e.CodeName,
		e.Message, e.Component, e.Function, time.Now())
	r.log("record_error", err)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
