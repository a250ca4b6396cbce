package tool

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/dataworks-io/sqlgate/pkg/apierr"
	"github.com/dataworks-io/sqlgate/pkg/models"
	"github.com/dataworks-io/sqlgate/pkg/sqlvalidator"
)

// SQLArgs are the JSON arguments for the SQL tool, spec.md §4.5.
type SQLArgs struct {
	SQL      string `json:"sql"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
	Limit    *int   `json:"limit,omitempty"`
}

// QueryRecorder receives telemetry for one SQL tool invocation. Separated
// from the engine so the tool has no direct dependency on pkg/telemetry's
// concrete writer, mirroring spec.md §4.5 step 7.
type QueryRecorder interface {
	RecordSQLQuery(ctx context.Context, entry models.SQLQueryLog)
}

// SQLTool implements C5: validate, limit, execute, classify.
type SQLTool struct {
	engine   Engine
	recorder QueryRecorder
}

// NewSQLTool constructs a SQLTool backed by engine and recorder. recorder
// may be nil to disable telemetry (e.g. in isolated unit tests).
func NewSQLTool(engine Engine, recorder QueryRecorder) *SQLTool {
	return &SQLTool{engine: engine, recorder: recorder}
}

func (t *SQLTool) Name() string        { return "query_database" }
func (t *SQLTool) Class() Class        { return models.ToolClassSQL }
func (t *SQLTool) Description() string {
	return "Executes a read-only SELECT/WITH statement against the active destination and returns the resulting rows."
}

// Invoke implements Tool.
func (t *SQLTool) Invoke(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args SQLArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Failure(int(apierr.CodeInvalidParams), apierr.CodeInvalidParams.Name(), "malformed arguments"), nil
	}

	sql := strings.TrimSpace(args.SQL)
	if sql == "" {
		return Failure(int(apierr.CodeInvalidParams), apierr.CodeInvalidParams.Name(), "sql must not be empty"), nil
	}

	dest, err := resolveDestination(ctx, args.Host, args.Port, args.Username, args.Password, args.Database)
	if err != nil {
		ae := apierr.From(err, apierr.CodeMissingDBConfig)
		return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
	}

	if res := sqlvalidator.Validate(sql, true); !res.OK {
		t.record(ctx, sql, 0, 0, "error")
		return Failure(int(apierr.CodeSQLValidationError), apierr.CodeSQLValidationError.Name(), res.Reason), nil
	}

	limit := sqlvalidator.SanitizeLimit(args.Limit)
	finalSQL := sqlvalidator.ApplyLimit(sql, limit)

	pool, err := t.engine.GetEngine(ctx, dest)
	if err != nil {
		ae := apierr.From(err, apierr.CodeDBConnectionError)
		t.record(ctx, finalSQL, 0, 0, "error")
		return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
	}

	start := time.Now()
	rows, err := pool.Query(ctx, finalSQL)
	if err != nil {
		execMS := time.Since(start).Milliseconds()
		t.record(ctx, finalSQL, execMS, 0, "error")
		ae := apierr.From(err, apierr.CodeDBQueryError)
		return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
	}
	defer rows.Close()

	data, columns, err := collectRows(rows)
	execMS := time.Since(start).Milliseconds()
	if err != nil {
		t.record(ctx, finalSQL, execMS, 0, "error")
		ae := apierr.From(err, apierr.CodeDBQueryError)
		return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
	}

	t.record(ctx, finalSQL, execMS, len(data), "success")
	return Success(data, columns, execMS, ""), nil
}

func (t *SQLTool) record(ctx context.Context, sql string, execMS int64, rowCount int, status string) {
	if t.recorder == nil {
		return
	}
	t.recorder.RecordSQLQuery(ctx, models.SQLQueryLog{
		QueryType:       classifyQuery(sql),
		TablesAccessed:  extractTables(sql),
		ExecutionTimeMS: execMS,
		RowsReturned:    rowCount,
		Status:          status,
		CreatedAt:       time.Now(),
		QueryHash:       hashQuery(sql),
	})
}

// collectRows materializes every row into a column-named map, converting
// time values to UTC "YYYY-MM-DDTHH:MM:SS" text (no zone suffix), byte
// slices to utf-8 or a hex fallback, and float32 to float64. Other values,
// NUMERIC/decimal columns included, are returned as pgx decodes them; they
// are not converted to float64.
func collectRows(rows pgx.Rows) ([]map[string]any, []string, error) {
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, v := range vals {
			row[columns[i]] = convertValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return out, columns, nil
}

func convertValue(v any) any {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC().Format("2006-01-02T15:04:05")
	case []byte:
		if utf8.Valid(tv) {
			return string(tv)
		}
		return hex.EncodeToString(tv)
	case float32:
		return float64(tv)
	default:
		return v
	}
}

var (
	fromJoinRe = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+"?([a-zA-Z_][a-zA-Z0-9_]*)"?`)
	joinRe     = regexp.MustCompile(`(?i)\bJOIN\b`)
	groupByRe  = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	subqueryRe = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
)

// extractTables heuristically pulls identifiers following FROM/JOIN,
// per spec.md §4.5 step 7.
func extractTables(sql string) []string {
	matches := fromJoinRe.FindAllStringSubmatch(sql, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// classifyQuery heuristically classifies SQL shape, per spec.md §4.5 step 7.
func classifyQuery(sql string) models.QueryType {
	switch {
	case subqueryRe.MatchString(sql):
		return models.QueryTypeSubquery
	case groupByRe.MatchString(sql):
		return models.QueryTypeAggregation
	case joinRe.MatchString(sql):
		return models.QueryTypeJoin
	default:
		return models.QueryTypeSimple
	}
}

// hashQuery fingerprints the executed statement; sql_query_log stores this
// hash, not the statement text (spec.md §3).
func hashQuery(sql string) string {
	h := fnv.New64a()
	h.Write([]byte(sql))
	return hex.EncodeToString(h.Sum(nil))
}
