package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/asakaida/rowguard/internal/handlers"
	rulecache "github.com/asakaida/rowguard/internal/infrastructure/cache"
	"github.com/asakaida/rowguard/internal/infrastructure/config"
	"github.com/asakaida/rowguard/internal/infrastructure/database"
	"github.com/asakaida/rowguard/internal/infrastructure/logging"
	"github.com/asakaida/rowguard/internal/infrastructure/metrics"
	"github.com/asakaida/rowguard/internal/repositories/postgres"
	"github.com/asakaida/rowguard/internal/services"
	"github.com/asakaida/rowguard/internal/services/authorization"
	"github.com/asakaida/rowguard/internal/services/evaluation"
	"github.com/asakaida/rowguard/internal/services/macro"
	"github.com/asakaida/rowguard/pkg/cache/memorycache"
)

const defaultEnv = "dev"

func main() {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	// Initialize configuration
	if err := config.InitConfig(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Connect to database
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	logger.Info("connected to database",
		zap.String("driver", cfg.Database.Driver),
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database),
	)

	// Initialize repositories
	ruleRepo := postgres.NewPostgresCollectionRuleRepository(pg.DB)
	permissionRepo := postgres.NewPostgresPermissionRepository(pg.DB)
	macroRepo := postgres.NewPostgresMacroRepository(pg.DB)
	groupRepo := postgres.NewPostgresGroupRepository(pg.DB)
	session := postgres.NewPostgresSession(pg.DB)

	collector := metrics.NewCollector()

	// Policy cache
	var permissionCache *authorization.PermissionCache
	if cfg.Cache.Enabled {
		store, err := memorycache.New(&memorycache.Config{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    cfg.Cache.TTL(),
			EnableMetrics: cfg.Cache.Metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create policy cache: %w", err)
		}
		permissionCache = authorization.NewPermissionCache(store, cfg.Cache.TTL(), logger.Named("cache"))
		collector.SetCache(permissionCache)
		logger.Info("policy cache enabled",
			zap.Int64("max_memory_bytes", cfg.Cache.MaxMemoryBytes),
			zap.Duration("ttl", cfg.Cache.TTL()),
		)
	} else {
		logger.Info("policy cache disabled")
	}

	exporter := metrics.NewPrometheusExporter(collector)
	collector.SetExporter(exporter)

	// Rule engine
	engineOpts := []macro.EngineOption{
		macro.WithEngineLogger(logger.Named("macro")),
		macro.WithRecorder(collector),
	}
	if permissionCache != nil {
		engineOpts = append(engineOpts, macro.WithGroupSource(authorization.NewCachedGroupSource(groupRepo, permissionCache)))
	} else {
		engineOpts = append(engineOpts, macro.WithGroupSource(groupRepo))
	}
	engine := macro.NewEngine(macroRepo, session, engineOpts...)
	expander := macro.NewExpander(macroRepo,
		macro.WithMaxDepth(cfg.Rules.MacroMaxDepth),
		macro.WithExpanderLogger(logger.Named("expander")),
	)
	evaluator := evaluation.NewEvaluator(engine)

	resolverOpts := []authorization.ResolverOption{
		authorization.WithLogger(logger.Named("resolver")),
		authorization.WithDecisionRecorder(collector),
	}
	if permissionCache != nil {
		resolverOpts = append(resolverOpts, authorization.WithCache(permissionCache))
	}
	resolver := authorization.NewResolver(ruleRepo, permissionRepo, expander, evaluator, resolverOpts...)

	// Initialize services
	ruleService := services.NewRuleService(ruleRepo, permissionRepo, expander, permissionCache, logger.Named("rules"))
	macroService := services.NewMacroService(macroRepo, permissionCache, logger.Named("macros"))

	ruleHandler := handlers.NewRuleHandler(resolver, ruleService, macroService, permissionCache, logger.Named("grpc"))

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor(collector, exporter, logger.Named("grpc"))),
	)
	handlers.RegisterRuleServiceServer(grpcServer, ruleHandler)

	// Register reflection service (for grpcurl, etc.)
	reflection.Register(grpcServer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if permissionCache != nil && cfg.Cache.CleanupInterval() > 0 {
		go permissionCache.RunCleanup(ctx, cfg.Cache.CleanupInterval())
	}

	// Cross-instance invalidation
	if permissionCache != nil && cfg.Cache.ListenNotify {
		invalidations := rulecache.NewInvalidationListener(cfg.Database.ConnectionString(), permissionCache, logger.Named("invalidation"))
		if err := invalidations.Start(ctx); err != nil {
			logger.Warn("cross-instance invalidation disabled", zap.Error(err))
		} else {
			defer invalidations.Stop()
		}
	}

	// Metrics endpoint
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metricsMux(exporter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 2)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Start listening
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger.Info("gRPC server listening", zap.String("addr", addr))

	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			serverErrors <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case serveErr = <-serverErrors:
		logger.Error("server failed, shutting down", zap.Error(serveErr))
	case sig := <-sigChan:
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
	}

	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Channel to notify when graceful stop completes
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	// Wait for graceful stop or timeout
	select {
	case <-stopped:
		logger.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping metrics server", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return serveErr
}

// metricsMux serves /metrics, refreshing gauges on every scrape, and /healthz
func metricsMux(exporter *metrics.PrometheusExporter) http.Handler {
	promHandler := metrics.Handler()

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		exporter.Update()
		promHandler.ServeHTTP(w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
