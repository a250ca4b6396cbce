package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dataworks-io/sqlgate/pkg/ctldb"
	"github.com/dataworks-io/sqlgate/pkg/models"
	"github.com/dataworks-io/sqlgate/pkg/reqctx"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("sqlgate_ctl"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := ctldb.NewClient(ctx, ctldb.Config{
		Host: host, Port: port.Int(), User: "test", Password: "test", Database: "sqlgate_ctl",
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return NewRecorder(client.Pool, true)
}

func TestRecorder_StartAndTouchAndEndSession(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	r.StartSession(ctx, models.UserSessionLog{
		SessionID: "s1", ClientIP: "1.2.3.4", PrimaryDB: "sales_prod",
		StartTime: time.Now(), LastActivity: time.Now(),
	})
	r.TouchSession(ctx, "s1", "sales_prod", true)
	r.TouchSession(ctx, "s1", "warehouse", false)
	r.EndSession(ctx, "s1")

	var requestCount, successCount, errorCount int
	var endTimeSet bool
	err := r.pool.QueryRow(ctx,
		`SELECT request_count, success_count, error_count, end_time IS NOT NULL FROM user_session_log WHERE session_id = $1`,
		"s1").Scan(&requestCount, &successCount, &errorCount, &endTimeSet)
	require.NoError(t, err)
	require.Equal(t, 2, requestCount)
	require.Equal(t, 1, successCount)
	require.Equal(t, 1, errorCount)
	require.True(t, endTimeSet)
}

func TestRecorder_RecordExecutionAndToolCall(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	r.StartSession(ctx, models.UserSessionLog{SessionID: "s2", ClientIP: "1.1.1.1", PrimaryDB: "d", StartTime: time.Now(), LastActivity: time.Now()})
	r.RecordExecution(ctx, models.AgentExecutionLog{
		RequestID: "r1", SessionID: "s2", DataSource: "d", UserQuery: "how many orders",
		Status: models.RequestStatusSuccess, CreatedAt: time.Now(),
	})
	r.RecordToolCall(ctx, models.ToolCallLog{RequestID: "r1", ToolName: "query_database", ToolClass: models.ToolClassSQL, Status: "success"})

	var execCount, toolCount int
	require.NoError(t, r.pool.QueryRow(ctx, `SELECT count(*) FROM agent_execution_log WHERE request_id = $1`, "r1").Scan(&execCount))
	require.NoError(t, r.pool.QueryRow(ctx, `SELECT count(*) FROM tool_call_log WHERE request_id = $1`, "r1").Scan(&toolCount))
	require.Equal(t, 1, execCount)
	require.Equal(t, 1, toolCount)
}

func TestRecorder_RecordSQLQueryPullsRequestIDFromContext(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	r.StartSession(ctx, models.UserSessionLog{SessionID: "s3", ClientIP: "1.1.1.1", PrimaryDB: "d", StartTime: time.Now(), LastActivity: time.Now()})
	r.RecordExecution(ctx, models.AgentExecutionLog{RequestID: "r2", SessionID: "s3", DataSource: "d", UserQuery: "q", Status: models.RequestStatusSuccess, CreatedAt: time.Now()})

	rctx := reqctx.WithRequestID(ctx, "r2")
	r.RecordSQLQuery(rctx, models.SQLQueryLog{QueryHash: "abc", QueryType: models.QueryTypeSimple, Status: "success", CreatedAt: time.Now()})

	var count int
	require.NoError(t, r.pool.QueryRow(ctx, `SELECT count(*) FROM sql_query_log WHERE request_id = $1`, "r2").Scan(&count))
	require.Equal(t, 1, count)
}

func TestRecorder_DisabledRecorderIsNoOp(t *testing.T) {
	r := newTestRecorder(t)
	r.enabled = false
	ctx := context.Background()

	r.RecordError(ctx, models.ErrorLog{Code: 1000, CodeName: "UNKNOWN_ERROR", Message: "boom"})

	var count int
	require.NoError(t, r.pool.QueryRow(ctx, `SELECT count(*) FROM error_log`).Scan(&count))
	require.Equal(t, 0, count)
}
