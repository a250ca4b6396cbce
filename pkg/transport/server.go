package transport

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dataworks-io/sqlgate/pkg/dbpool"
	"github.com/dataworks-io/sqlgate/pkg/models"
	"github.com/dataworks-io/sqlgate/pkg/reqctx"
	"github.com/dataworks-io/sqlgate/pkg/version"
)

// DispatcherRunner is the dispatcher.Dispatcher dependency the server needs.
type DispatcherRunner interface {
	Handle(ctx context.Context, sessionID, destinationName, userQuery string) string
}

// MappingRefresher is the mapping.Store dependency for GET /refresh.
type MappingRefresher interface {
	Refresh(ctx context.Context) error
	Names() []string
}

// SessionRecorder is the telemetry.Recorder slice used for session
// lifecycle rows; RecordExecution/RecordToolCall/RecordError are reached
// through the dispatcher instead, not here.
type SessionRecorder interface {
	StartSession(ctx context.Context, s models.UserSessionLog)
	EndSession(ctx context.Context, sessionID string)
}

// ControlDBPinger reports control-database reachability for /health.
// *pgxpool.Pool satisfies this directly.
type ControlDBPinger interface {
	Ping(ctx context.Context) error
}

// MappingWriter is the ctldb.Client dependency behind POST /mappings,
// the operator-only registration path named in SPEC_FULL.md's
// supplemented features (never reachable from the SSE request path).
type MappingWriter interface {
	UpsertMapping(ctx context.Context, m models.DBMapping) error
}

// PoolStatsProvider is the dbpool.Registry dependency surfaced on
// /health, grounded on original_source/db_mcp/connection_pool.py's pool
// statistics helpers.
type PoolStatsProvider interface {
	StatsSnapshot() []dbpool.Stats
}

// Server is the streaming RPC transport (C10): an Echo v5 HTTP server
// exposing data_agent over MCP/SSE, plus plain HTTP routes for health and
// mapping refresh. Grounded on the teacher's pkg/api.Server
// (echo.Echo/http.Server pairing, route setup, graceful start/shutdown).
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	dispatcher DispatcherRunner
	mappings   MappingRefresher
	recorder   SessionRecorder
	ctldb      ControlDBPinger
	sessions   *SessionTracker

	mappingWriter  MappingWriter
	poolStats      PoolStatsProvider
	metricsHandler http.Handler
	adminToken     string
}

// NewServer constructs a Server and wires its routes.
func NewServer(dispatcher DispatcherRunner, mappings MappingRefresher, recorder SessionRecorder, ctldb ControlDBPinger) *Server {
	s := &Server{
		echo:       echo.New(),
		dispatcher: dispatcher,
		mappings:   mappings,
		recorder:   recorder,
		ctldb:      ctldb,
		sessions:   NewSessionTracker(),
	}
	s.setupRoutes()
	return s
}

// SetMappingWriter wires the operator-only POST /mappings endpoint,
// grounded on the teacher's Set* dependency-injection methods
// (pkg/api/server.go).
func (s *Server) SetMappingWriter(w MappingWriter, adminToken string) {
	s.mappingWriter = w
	s.adminToken = adminToken
}

// SetPoolStatsProvider wires per-destination pool statistics into /health.
func (s *Server) SetPoolStatsProvider(p PoolStatsProvider) {
	s.poolStats = p
}

// SetMetricsHandler wires a Prometheus scrape endpoint at GET /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metricsHandler = h
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(1 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/", s.rootHandler)
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/refresh", s.refreshHandler)
	s.echo.GET("/metrics", s.metricsHandlerFunc)
	s.echo.POST("/mappings", s.upsertMappingHandler)

	mcpHandler := s.newMCPHandler()
	// Only the stream-establishing GET /sse?db=<name> request owns an
	// analytics session: it is the one request per connection whose
	// ServeHTTP call blocks for the connection's lifetime. The paired
	// POST /messages frames (one per client->server JSON-RPC message, sent
	// against an already-open stream and keyed by the go-sdk's own
	// session id, not ?db=) are passed straight through to the raw MCP
	// handler with no session bookkeeping, per spec.md §4.11 ("non-SSE
	// routes are passed through without session handling").
	s.echo.GET("/sse", s.sseHandler(mcpHandler))
	s.echo.POST("/messages", func(c *echo.Context) error {
		mcpHandler.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

// sseHandler wraps the MCP SSE handler with session reference counting,
// grounded on the teacher's wsHandler: ServeHTTP blocks for the life of
// the connection, so acquiring before and releasing after it returns is
// the natural place to start/end the analytics session (spec.md §4.10,
// scenario S5). Gated on a non-empty ?db= so a malformed connection
// attempt with no destination never fabricates a session row.
func (s *Server) sseHandler(mcpHandler http.Handler) echo.HandlerFunc {
	return func(c *echo.Context) error {
		r := c.Request()
		destination := r.URL.Query().Get("db")
		clientIP := c.RealIP()

		if destination == "" {
			ctx := reqctx.WithDestinationName(r.Context(), "")
			c.SetRequest(r.WithContext(ctx))
			mcpHandler.ServeHTTP(c.Response(), c.Request())
			return nil
		}

		sessionID, isNew := s.sessions.Acquire(clientIP, destination)
		if isNew {
			now := time.Now()
			s.recorder.StartSession(r.Context(), models.UserSessionLog{
				SessionID:    sessionID,
				ClientIP:     clientIP,
				UserAgent:    r.UserAgent(),
				PrimaryDB:    destination,
				StartTime:    now,
				LastActivity: now,
			})
		}
		defer func() {
			if id, isLast := s.sessions.Release(clientIP, destination); isLast {
				s.recorder.EndSession(context.Background(), id)
			}
		}()

		ctx := reqctx.WithSessionID(r.Context(), sessionID)
		ctx = reqctx.WithDestinationName(ctx, destination)
		c.SetRequest(r.WithContext(ctx))

		mcpHandler.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

type dataAgentInput struct {
	Query string `json:"query"`
}

// newMCPHandler builds the SSE transport for a single data_agent tool.
// getServer is invoked once per incoming SSE connection, so the session
// id and destination bound by sseHandler above are read back out of the
// request context and closed over the tool handler for that connection's
// lifetime — each connection gets its own *mcpsdk.Server instance.
func (s *Server) newMCPHandler() http.Handler {
	return mcpsdk.NewSSEHandler(func(r *http.Request) *mcpsdk.Server {
		sessionID, _ := reqctx.SessionID(r.Context())
		destination, _ := reqctx.DestinationName(r.Context())

		server := mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    version.AppName,
			Version: version.GitCommit,
		}, nil)

		mcpsdk.AddTool(server, &mcpsdk.Tool{
			Name:        "data_agent",
			Description: "Answer a natural-language question about the connected database by planning and executing catalog, SQL, and knowledge-base lookups.",
		}, s.dataAgentHandler(sessionID, destination))

		return server
	})
}

func (s *Server) dataAgentHandler(sessionID, destination string) func(context.Context, *mcpsdk.CallToolRequest, dataAgentInput) (*mcpsdk.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input dataAgentInput) (*mcpsdk.CallToolResult, any, error) {
		if destination == "" {
			return textResult(`missing destination: reconnect to /sse?db=<name>`), nil, nil
		}
		response := s.dispatcher.Handle(ctx, sessionID, destination, input.Query)
		return textResult(response), nil, nil
	}
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}
}

// inventoryEndpoints lists the management routes advertised by GET /,
// spec.md §6.
var inventoryEndpoints = []string{"/", "/health", "/refresh", "/sse", "/messages"}

func (s *Server) rootHandler(c *echo.Context) error {
	names := s.mappings.Names()
	return c.JSON(http.StatusOK, map[string]any{
		"message":             version.AppName + " SQL analytics gateway",
		"endpoints":           inventoryEndpoints,
		"available_databases": names,
		"total":               len(names),
		"usage":               "connect to /sse?db=<destination_name> and call the data_agent tool with a natural-language query",
	})
}

func (s *Server) refreshHandler(c *echo.Context) error {
	if err := s.mappings.Refresh(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	names := s.mappings.Names()
	return c.JSON(http.StatusOK, map[string]any{
		"available_databases": names,
		"total":               len(names),
	})
}

func (s *Server) metricsHandlerFunc(c *echo.Context) error {
	if s.metricsHandler == nil {
		return echo.NewHTTPError(http.StatusNotFound, "metrics not configured")
	}
	s.metricsHandler.ServeHTTP(c.Response(), c.Request())
	return nil
}

type mappingUpsertRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
	Type     string `json:"type"`
}

// upsertMappingHandler is the operator-only registration path for
// db_mapping rows (SPEC_FULL.md's supplemented feature), gated by a
// bearer admin token and never reachable from the /sse request path.
func (s *Server) upsertMappingHandler(c *echo.Context) error {
	if s.mappingWriter == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "mapping writes not configured")
	}
	if s.adminToken == "" || c.Request().Header.Get("Authorization") != "Bearer "+s.adminToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid admin token")
	}

	var req mappingUpsertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	err := s.mappingWriter.UpsertMapping(c.Request().Context(), models.DBMapping{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Database: req.Database,
		Type:     req.Type,
		Active:   true,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := s.mappings.Refresh(c.Request().Context()); err != nil {
		slog.Warn("mapping refresh after upsert failed", "error", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type healthState string

const (
	healthStateHealthy   healthState = "healthy"
	healthStateUnhealthy healthState = "unhealthy"
)

type healthCheck struct {
	Status  healthState `json:"status"`
	Message string      `json:"message,omitempty"`
}

type healthResponse struct {
	Status       healthState            `json:"status"`
	Checks       map[string]healthCheck `json:"checks"`
	SessionCount int                    `json:"session_count"`
	Pools        []dbpool.Stats         `json:"pools,omitempty"`
}

// healthHandler checks control-database reachability, grounded on the
// teacher's handler_health.go healthy/degraded/unhealthy shape — this
// gateway only has one hard dependency to probe (the control database;
// destination pools are dialed lazily and absent ones are not a health
// concern), so the three-state model collapses to two.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := map[string]healthCheck{}
	status := healthStateHealthy

	if err := s.ctldb.Ping(ctx); err != nil {
		checks["control_db"] = healthCheck{Status: healthStateUnhealthy, Message: err.Error()}
		status = healthStateUnhealthy
	} else {
		checks["control_db"] = healthCheck{Status: healthStateHealthy}
	}

	var pools []dbpool.Stats
	if s.poolStats != nil {
		pools = s.poolStats.StatsSnapshot()
	}

	code := http.StatusOK
	if status == healthStateUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, healthResponse{Status: status, Checks: checks, SessionCount: s.sessions.Len(), Pools: pools})
}

// Start runs the server on addr, blocking until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener runs the server on a caller-supplied listener, for
// tests that bind an ephemeral port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// (including open SSE connections) to drain or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
