package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coverline/server/internal/api"
	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/auth"
	"github.com/coverline/server/internal/breaker"
	"github.com/coverline/server/internal/carriers"
	"github.com/coverline/server/internal/compliance"
	"github.com/coverline/server/internal/config"
	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/automations"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/notes"
	"github.com/coverline/server/internal/domain/routing"
	"github.com/coverline/server/internal/domain/segments"
	"github.com/coverline/server/internal/email"
	"github.com/coverline/server/internal/jobs"
	"github.com/coverline/server/internal/metrics"
	"github.com/coverline/server/internal/storage/postgres"
	"github.com/coverline/server/internal/telemetry"
)

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Coverline HTTP server",
	Long: `Start the Coverline HTTP server and begin accepting API requests.

The server will:
- Load configuration from environment variables
- Bootstrap an admin API key if ADMIN_* env vars are set and no admin key exists
- Start the HTTP API and River background job workers
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  coverline serve

  # Start on a specific host and port
  coverline serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  coverline serve --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
}

// app holds everything a running process needs: the pool, the wired
// services behind api.Deps, and the River client.
type app struct {
	cfg         config.Config
	logger      zerolog.Logger
	pool        *pgxpool.Pool
	repo        *postgres.Repository
	deps        api.Deps
	riverClient *river.Client[pgx.Tx]
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// buildApp connects to Postgres and wires every domain service, the worker
// pool, and the River client. Shared by serve and worker.
func buildApp(cfg config.Config, logger zerolog.Logger) (*app, error) {
	poolCtx, poolCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := pgxpool.New(poolCtx, cfg.Database.URL)
	poolCancel()
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	strategy, err := routing.ParseStrategy(cfg.Routing.Strategy)
	if err != nil {
		pool.Close()
		return nil, err
	}
	weights := routing.Weights{
		Specialization: cfg.Routing.SpecializationWeight,
		Location:       cfg.Routing.LocationWeight,
		Performance:    cfg.Routing.PerformanceWeight,
		Workload:       cfg.Routing.WorkloadWeight,
		Tier:           cfg.Routing.TierWeight,
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		HalfOpenProbes:   cfg.Breaker.HalfOpenProbes,
	}, logger)

	mailer, err := email.NewService(cfg.Email, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("email service: %w", err)
	}

	// The dispatcher and the River client reference each other: domain
	// services and workers need the dispatcher to enqueue jobs, the
	// client needs the workers. Bind closes the loop after the client
	// exists.
	policy := jobs.NewRetryPolicy(cfg.Jobs)
	dispatcher := jobs.NewDispatcher(nil, policy)

	auditWriter := audit.NewWriter(repo.Audit(), logger)
	routerService := routing.NewService(repo.Assignments(), repo.Agents(), repo.Leads(), dispatcher, weights, strategy, logger)
	leadService := leads.NewService(repo.Leads(), routerService, dispatcher)
	agentService := agents.NewService(repo.Agents())
	noteService := notes.NewService(repo.Notes(), repo.Leads(), repo.Assignments())
	segmentService := segments.NewService(repo.Segments(), repo.Leads(), dispatcher, logger)
	automationService := automations.NewService(repo.Automations())
	engine := automations.NewEngine(repo.Automations(), repo.Leads(), routerService, mailer, leadService, dispatcher, logger)
	carrierClient := carriers.NewClient(nil, breakers, cfg.Breaker.RequestTimeout)
	carrierService := carriers.NewService(repo.Carriers(), carrierClient, breakers, repo.Leads(), logger)
	complianceService := compliance.NewService(repo.Leads(), repo.Notes(), auditWriter, compliance.Config{
		LeadMaxAge:        time.Duration(cfg.Retention.LeadMaxAgeDays) * 24 * time.Hour,
		IdempotencyMaxAge: time.Duration(cfg.Retention.IdempotencyMaxAgeDays) * 24 * time.Hour,
	}, logger)

	workers := jobs.NewWorkers(jobs.WorkerDeps{
		Router:     routerService,
		Engine:     engine,
		Email:      mailer,
		Agents:     repo.Agents(),
		Leads:      repo.Leads(),
		Compliance: complianceService,
		Audit:      repo.Audit(),
		Segments:   segmentService,
		FollowUps:  repo.FollowUps(),
		Enqueuer:   dispatcher,
		Triggers:   dispatcher,
		Logger:     logger,
	})

	slogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	riverClient, err := jobs.NewClient(pool, workers, policy, slogger,
		[]rivertype.Hook{metrics.NewRiverMetricsHook()}, jobs.NewPeriodicJobs())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("river client: %w", err)
	}
	dispatcher.Bind(riverClient)

	ingestService := leads.NewIngestService(repo.Leads(), dispatcher)

	return &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		repo:   repo,
		deps: api.Deps{
			Config:      cfg,
			Logger:      logger,
			Pool:        pool,
			RiverClient: riverClient,
			JWTManager:  auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, cfg.Auth.JWTIssuer),
			APIKeys:     repo.APIKeys(),
			Leads:       leadService,
			Ingest:      ingestService,
			Agents:      agentService,
			Router:      routerService,
			Notes:       noteService,
			Segments:    segmentService,
			Automations: automationService,
			Carriers:    carrierService,
			Compliance:  complianceService,
			AuditRepo:   repo.Audit(),
			AuditWriter: auditWriter,
			Version:     Version,
			GitCommit:   GitCommit,
		},
		riverClient: riverClient,
	}, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Msg("starting coverline server")

	metrics.Init(Version, GitCommit, BuildDate)

	if cfg.Tracing.Enabled {
		shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.Tracing, Version)
		if err != nil {
			return fmt.Errorf("tracing init: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Error().Err(err).Msg("tracing shutdown error")
			}
		}()
		logger.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialized")
	}

	application, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := bootstrapAdminKey(bootCtx, application, logger); err != nil {
		logger.Error().Err(err).Msg("admin key bootstrap failed")
	}
	bootCancel()

	// Pool stats feed the connection gauges every 15 seconds.
	dbCollector := metrics.NewDBCollector(application.pool)
	collectorCtx, collectorCancel := context.WithCancel(context.Background())
	go dbCollector.Start(collectorCtx, 15*time.Second)
	defer collectorCancel()
	defer dbCollector.Stop()

	riverCtx, riverCancel := context.WithCancel(context.Background())
	defer riverCancel()
	if err := application.riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().Msg("river background job workers started")
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := application.riverClient.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("river workers shutdown error")
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(application.deps),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	return gracefulShutdown(server, logger)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

// bootstrapAdminKey issues a first admin API key when ADMIN_USERNAME is set
// and no active admin key exists yet. The secret is logged once; after the
// first boot, manage keys with the api-key subcommands.
func bootstrapAdminKey(ctx context.Context, application *app, logger zerolog.Logger) error {
	bootstrap := application.cfg.AdminBootstrap
	if bootstrap.Username == "" {
		return nil
	}

	keys, ok := application.repo.APIKeys().(*postgres.APIKeyRepository)
	if !ok {
		return fmt.Errorf("api key store does not support management operations")
	}

	existing, err := keys.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	for _, info := range existing {
		if info.Role == "admin" && info.IsActive {
			return nil
		}
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("generate admin key: %w", err)
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return fmt.Errorf("hash admin key: %w", err)
	}
	if _, err := keys.CreateAPIKey(ctx, postgres.CreateAPIKeyParams{
		Prefix:        key[:8],
		Hash:          hash,
		Name:          bootstrap.Username,
		Role:          "admin",
		RateLimitTier: "admin",
	}); err != nil {
		return fmt.Errorf("create admin key: %w", err)
	}

	// Shown once. Redacted in production to keep secrets out of log sinks;
	// use the api-key subcommand there instead.
	if application.cfg.Environment == "production" {
		logger.Info().Str("name", bootstrap.Username).Str("prefix", key[:8]).Msg("bootstrapped admin API key")
	} else {
		logger.Info().Str("name", bootstrap.Username).Str("key", key).Msg("bootstrapped admin API key - save this key, it cannot be retrieved later")
	}
	return nil
}

func gracefulShutdown(server *http.Server, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
