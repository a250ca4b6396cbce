// sqlgate is a multi-tenant SQL-analytics gateway: it exposes a single
// data_agent tool over MCP/SSE, plans and executes catalog, SQL, and
// knowledge-base lookups against an operator-registered set of
// destination databases, and records full telemetry for every request.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dataworks-io/sqlgate/pkg/config"
	"github.com/dataworks-io/sqlgate/pkg/controller"
	"github.com/dataworks-io/sqlgate/pkg/ctldb"
	"github.com/dataworks-io/sqlgate/pkg/dbpool"
	"github.com/dataworks-io/sqlgate/pkg/dispatcher"
	"github.com/dataworks-io/sqlgate/pkg/llmprovider"
	"github.com/dataworks-io/sqlgate/pkg/mapping"
	"github.com/dataworks-io/sqlgate/pkg/masking"
	"github.com/dataworks-io/sqlgate/pkg/models"
	"github.com/dataworks-io/sqlgate/pkg/telemetry"
	"github.com/dataworks-io/sqlgate/pkg/tool"
	"github.com/dataworks-io/sqlgate/pkg/transport"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	envFile := getEnv("ENV_FILE", ".env")
	destinationsFile := getEnv("DESTINATIONS_FILE", "")

	cfg, err := config.Load(envFile, destinationsFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	configureLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctldbClient, err := ctldb.NewClient(ctx, ctldb.Config{
		Host:            cfg.ControlDB.Host,
		Port:            cfg.ControlDB.Port,
		User:            cfg.ControlDB.Username,
		Password:        cfg.ControlDB.Password,
		Database:        cfg.ControlDB.Database,
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    10,
		MaxIdleTime:     5 * time.Minute,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to connect to control database: %v", err)
	}
	defer ctldbClient.Close()
	slog.Info("connected to control database", "host", cfg.ControlDB.Host, "database", cfg.ControlDB.Database)

	if err := seedDestinations(ctx, ctldbClient, cfg.Destinations); err != nil {
		log.Fatalf("failed to seed destinations: %v", err)
	}

	mappingStore := mapping.NewStore(ctldbClient)
	if err := mappingStore.Refresh(ctx); err != nil {
		log.Fatalf("failed to load destination mappings: %v", err)
	}
	slog.Info("loaded destination mappings", "count", mappingStore.Len())

	poolRegistry := dbpool.NewRegistry(dbpool.Options{
		PoolSize:    cfg.Pool.PoolSize,
		MaxOverflow: cfg.Pool.MaxOverflow,
		PoolTimeout: cfg.Pool.PoolTimeout,
		PoolRecycle: cfg.Pool.PoolRecycle,
		MaxPools:    cfg.Pool.MaxPools,
	})
	defer poolRegistry.CloseAll()

	recorder := telemetry.NewRecorder(ctldbClient.Pool, cfg.AnalyticsEnabled)
	maskingService := masking.NewService()

	provider := llmprovider.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)

	tools := controller.NewToolSet(
		tool.NewCatalogTool(poolRegistry),
		tool.NewSQLTool(poolRegistry, recorder),
		tool.NewKnowledgeTool(cfg.Knowledge.APIURL, cfg.Knowledge.APIKey, recorder),
	)

	planner := controller.NewPlanner(provider, tools)
	executor := controller.NewExecutor(provider, tools)
	replanner := controller.NewReplanner(provider, tools)
	ctrl := controller.NewController(planner, executor, replanner, recorder, controller.DefaultMaxIterations)

	dispatch := dispatcher.New(mappingStore, ctrl, recorder, maskingService)

	server := transport.NewServer(dispatch, mappingStore, recorder, ctldbClient.Pool)
	server.SetPoolStatsProvider(poolRegistry)
	server.SetMappingWriter(ctldbClient, os.Getenv("ADMIN_TOKEN"))

	metricsRegistry := prometheus.NewRegistry()
	telemetry.NewMetrics(metricsRegistry)
	server.SetMetricsHandler(promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting sqlgate", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		log.Fatalf("server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

func configureLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// seedDestinations upserts every operator-declared destination seed into
// db_mapping before the mapping store's first refresh, so a fresh
// deployment can answer data_agent questions without a separate
// destination-registration step.
func seedDestinations(ctx context.Context, client *ctldb.Client, seeds []config.DestinationSeed) error {
	for _, s := range seeds {
		err := client.UpsertMapping(ctx, models.DBMapping{
			Name:     s.Name,
			Host:     s.Host,
			Port:     s.Port,
			Username: s.Username,
			Password: s.Password,
			Database: s.Database,
			Type:     s.Type,
			Active:   true,
		})
		if err != nil {
			return fmt.Errorf("seed destination %q: %w", s.Name, err)
		}
	}
	return nil
}
