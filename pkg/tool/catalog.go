package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataworks-io/sqlgate/pkg/apierr"
	"github.com/dataworks-io/sqlgate/pkg/models"
	"github.com/dataworks-io/sqlgate/pkg/reqctx"
)

// Engine is the subset of dbpool.Registry the catalog and SQL tools need.
type Engine interface {
	GetEngine(ctx context.Context, dest models.ResolvedConn) (*pgxpool.Pool, error)
}

// CatalogArgs are the JSON arguments for the catalog tool, spec.md §4.4.
type CatalogArgs struct {
	TableName string               `json:"table_name,omitempty"`
	Host      string               `json:"host,omitempty"`
	Port      int                  `json:"port,omitempty"`
	Username  string               `json:"username,omitempty"`
	Password  string               `json:"password,omitempty"`
	Database  string               `json:"database,omitempty"`
}

// CatalogTool implements C4: table/column introspection over
// information_schema, via the shared connection-pool registry.
type CatalogTool struct {
	engine Engine
}

// NewCatalogTool constructs a CatalogTool backed by engine.
func NewCatalogTool(engine Engine) *CatalogTool {
	return &CatalogTool{engine: engine}
}

func (t *CatalogTool) Name() string        { return "get_table_schema" }
func (t *CatalogTool) Class() Class        { return models.ToolClassSchema }
func (t *CatalogTool) Description() string {
	return "Returns schema information for one table, or a summary of all tables when table_name is omitted."
}

// Invoke implements Tool.
func (t *CatalogTool) Invoke(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args CatalogArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return Failure(int(apierr.CodeInvalidParams), apierr.CodeInvalidParams.Name(), "malformed arguments"), nil
		}
	}

	dest, err := resolveDestination(ctx, args.Host, args.Port, args.Username, args.Password, args.Database)
	if err != nil {
		ae := apierr.From(err, apierr.CodeMissingDBConfig)
		return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
	}

	pool, err := t.engine.GetEngine(ctx, dest)
	if err != nil {
		ae := apierr.From(err, apierr.CodeDBConnectionError)
		return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
	}

	if strings.TrimSpace(args.TableName) == "" {
		return t.summarizeAllTables(ctx, pool, dest.Database)
	}
	return t.describeTable(ctx, pool, dest.Database, args.TableName)
}

func (t *CatalogTool) summarizeAllTables(ctx context.Context, pool *pgxpool.Pool, database string) (Envelope, error) {
	const q = `
SELECT t.table_name,
       obj_description(('"' || t.table_name || '"')::regclass, 'pg_class') AS comment,
       COALESCE(s.n_live_tup, 0) AS est_rows
FROM information_schema.tables t
LEFT JOIN pg_stat_user_tables s ON s.relname = t.table_name
WHERE t.table_catalog = $1 AND t.table_type = 'BASE TABLE' AND t.table_schema = 'public'
ORDER BY t.table_name`

	rows, err := pool.Query(ctx, q, database)
	if err != nil {
		ae := apierr.From(err, apierr.CodeDBQueryError)
		return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
	}
	defer rows.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "Tables in %s:\n", database)
	count := 0
	for rows.Next() {
		var name string
		var comment *string
		var estRows int64
		if err := rows.Scan(&name, &comment, &estRows); err != nil {
			ae := apierr.From(err, apierr.CodeDBQueryError)
			return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
		}
		count++
		line := fmt.Sprintf("  - %s (~%d rows)", name, estRows)
		if comment != nil && *comment != "" {
			line += ": " + *comment
		}
		b.WriteString(line + "\n")
	}
	if count == 0 {
		return SuccessText(fmt.Sprintf("No base tables found in %s.", database)), nil
	}
	fmt.Fprintf(&b, "\n%d table(s).", count)
	return SuccessText(b.String()), nil
}

func (t *CatalogTool) describeTable(ctx context.Context, pool *pgxpool.Pool, database, tableName string) (Envelope, error) {
	const existsQ = `SELECT table_name FROM information_schema.tables
		WHERE table_catalog = $1 AND table_schema = 'public' AND lower(table_name) = lower($2)`

	var resolved string
	err := pool.QueryRow(ctx, existsQ, database, tableName).Scan(&resolved)
	if err != nil {
		const fuzzyQ = `SELECT table_name FROM information_schema.tables
			WHERE table_catalog = $1 AND table_schema = 'public' AND table_name ILIKE '%' || $2 || '%'
			ORDER BY table_name LIMIT 10`
		rows, qErr := pool.Query(ctx, fuzzyQ, database, tableName)
		if qErr != nil {
			ae := apierr.From(qErr, apierr.CodeDBQueryError)
			return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
		}
		defer rows.Close()

		var suggestions []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err == nil {
				suggestions = append(suggestions, n)
			}
		}
		if len(suggestions) == 0 {
			return SuccessText(fmt.Sprintf("Table %q does not exist.", tableName)), nil
		}
		return SuccessText(fmt.Sprintf("Table %q does not exist. Did you mean: %s?", tableName, strings.Join(suggestions, ", "))), nil
	}

	const colQ = `
SELECT c.column_name, c.data_type, c.is_nullable, c.column_default, c.ordinal_position,
       COALESCE(pgd.description, '') AS comment,
       COALESCE(
         (SELECT true FROM information_schema.key_column_usage kcu
          JOIN information_schema.table_constraints tc
            ON tc.constraint_name = kcu.constraint_name AND tc.constraint_type = 'PRIMARY KEY'
          WHERE kcu.table_name = c.table_name AND kcu.column_name = c.column_name
          LIMIT 1), false) AS is_pk
FROM information_schema.columns c
LEFT JOIN pg_catalog.pg_statio_all_tables st ON st.relname = c.table_name
LEFT JOIN pg_catalog.pg_description pgd ON pgd.objoid = st.relid AND pgd.objsubid = c.ordinal_position
WHERE c.table_catalog = $1 AND c.table_schema = 'public' AND c.table_name = $2
ORDER BY c.ordinal_position`

	rows, err := pool.Query(ctx, colQ, database, resolved)
	if err != nil {
		ae := apierr.From(err, apierr.CodeDBQueryError)
		return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
	}
	defer rows.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n\nColumns:\n", resolved)
	count := 0
	for rows.Next() {
		var name, dataType, nullable string
		var def *string
		var ordinal int
		var comment string
		var isPK bool
		if err := rows.Scan(&name, &dataType, &nullable, &def, &ordinal, &comment, &isPK); err != nil {
			ae := apierr.From(err, apierr.CodeDBQueryError)
			return Failure(int(ae.Code), ae.Code.Name(), ae.Message), nil
		}
		count++

		var marks []string
		if isPK {
			marks = append(marks, "主键")
		}
		if nullable == "NO" {
			marks = append(marks, "非空")
		}
		if def != nil && *def != "" {
			marks = append(marks, *def)
		}

		line := fmt.Sprintf("  - %s (%s)", name, dataType)
		if comment != "" {
			line += ": " + comment
		}
		if len(marks) > 0 {
			line += " [" + strings.Join(marks, ", ") + "]"
		}
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "\n%d column(s).", count)
	return SuccessText(b.String()), nil
}

// resolveDestination back-fills an empty connection tuple from the
// request-scoped destination stored in ctx, per spec.md §4.4's "defaulting
// rule" shared between the catalog and SQL tools.
func resolveDestination(ctx context.Context, host string, port int, username, password, database string) (models.ResolvedConn, error) {
	if host != "" && database != "" {
		return models.ResolvedConn{Host: host, Port: port, Username: username, Password: password, Database: database}, nil
	}
	conn, ok := reqctx.ResolvedConn(ctx)
	if !ok {
		return models.ResolvedConn{}, apierr.New(apierr.CodeMissingDBConfig, "no destination connection available in request context")
	}
	return conn, nil
}
