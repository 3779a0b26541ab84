package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/sitefactory/internal/blueprint"
	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/featureflags"
	"github.com/aryan0dhankhar/sitefactory/internal/handler"
	"github.com/aryan0dhankhar/sitefactory/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/sitefactory/internal/infrastructure/mail"
	"github.com/aryan0dhankhar/sitefactory/internal/infrastructure/platform"
	"github.com/aryan0dhankhar/sitefactory/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/sitefactory/internal/observability/metrics"
	"github.com/aryan0dhankhar/sitefactory/internal/observability/tracing"
	"github.com/aryan0dhankhar/sitefactory/internal/repository"
	"github.com/aryan0dhankhar/sitefactory/internal/security/abuse"
	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
	"github.com/aryan0dhankhar/sitefactory/internal/security/auth"
	"github.com/aryan0dhankhar/sitefactory/internal/security/blocklist"
	"github.com/aryan0dhankhar/sitefactory/internal/security/middleware"
	"github.com/aryan0dhankhar/sitefactory/internal/security/ratelimit"
	"github.com/aryan0dhankhar/sitefactory/internal/service"
	"github.com/aryan0dhankhar/sitefactory/internal/worker"
	"github.com/aryan0dhankhar/sitefactory/pkg/config"
	"github.com/aryan0dhankhar/sitefactory/pkg/database"
)

type stores struct {
	tenants  domain.TenantRepository
	accounts domain.AccountRepository
	blocks   domain.BlockListRepository
	db       *sql.DB
}

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting site factory", slog.String("environment", cfg.Environment))
	if cfg.SharedToken == "" {
		log.Warn("SITE_FACTORY_TOKEN is empty; every create-site call will fail with 500")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, log, "site-factory", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Storage backend
	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open storage", slog.String("backend", cfg.StorageBackend), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStores()

	// 4. Window store for quota and burst history
	var windows domain.WindowStore = repository.NewMemoryWindowStore()
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Error("failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisClient.Close()
		windows = repository.NewRedisWindowStore(redisClient)
	} else {
		log.Warn("REDIS_URL not set; rate-limit windows are per process")
	}

	// 5. Audit trail
	sink, err := audit.NewFileSink(cfg.AuditLogDir, cfg.AuditMaxBytes)
	if err != nil {
		log.Error("failed to open audit log", slog.String("error", err.Error()))
		os.Exit(1)
	}
	auditLogger := audit.NewLogger(log, sink)

	// 6. Outbound integrations
	var sitePlatform domain.SitePlatform
	if cfg.PlatformAPIURL != "" {
		tokens := auth.NewServiceTokens(cfg.PlatformAPISecret, "site-factory", time.Minute)
		sitePlatform = platform.NewClient(cfg.PlatformAPIURL, tokens, cfg.PlatformTimeout, log)
	} else {
		log.Warn("PLATFORM_API_URL not set; using the in-memory site platform")
		sitePlatform = platform.NewMemory()
	}

	var mailer domain.Mailer
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Password: cfg.SMTPPassword,
		}, log)
	} else {
		mailer = mail.NewLogMailer(log)
	}

	catalog, err := blueprint.LoadCatalog(cfg.BlueprintDir)
	if err != nil {
		log.Error("failed to load blueprint catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}
	engine, err := blueprint.NewEngine(catalog, log)
	if err != nil {
		log.Error("failed to initialize blueprint engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer engine.Close()

	// 7. Security components
	loopbackBypass := featureflags.LoopbackBypass()
	guard := auth.NewGuard(cfg.SharedToken, auditLogger)
	detector := abuse.NewDetector(windows, abuse.Config{
		Window:    cfg.Burst.Window,
		Threshold: cfg.Burst.Threshold,
		MinGap:    cfg.Burst.MinGap,
	})
	blocks := blocklist.NewService(st.blocks, auditLogger, log, blocklist.WithHistory(detector))
	limiter := ratelimit.NewLimiter(windows, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, auditLogger, log,
		ratelimit.WithLoopbackBypass(loopbackBypass))

	// 8. Services
	provisioner := service.NewProvisioner(service.Deps{
		Guard:      guard,
		Blocklist:  blocks,
		Detector:   detector,
		Limiter:    limiter,
		Tenants:    st.tenants,
		Platform:   sitePlatform,
		Blueprints: engine,
		Users:      service.NewUserDirectory(st.accounts, sitePlatform, auditLogger, log, cfg.UsernameMaxAttempts),
		Notifier:   service.NewNotifier(mailer, cfg.MailTimeout, log),
		Audit:      auditLogger,
		Logger:     log,
	}, service.Settings{
		NetworkURL:      cfg.NetworkURL,
		SlugMaxAttempts: cfg.SlugMaxAttempts,
		PlatformTimeout: cfg.PlatformTimeout,
		MaxConcurrent:   cfg.MaxConcurrentProvisions,
		LoopbackBypass:  loopbackBypass,
	})

	// 9. Setup HTTP routes
	mux := http.NewServeMux()
	handler.Routes{
		CreateSite: handler.NewCreateSiteHandler(provisioner, log),
		SiteStatus: handler.NewSiteStatusHandler(provisioner, log),
		Templates:  handler.NewTemplatesHandler(catalog, log),
		Health:     handler.NewHealthHandler(redisClient, st.db, sitePlatform, log),
		Security:   handler.NewSecurityHandler(blocks, limiter, log),
		Audit:      handler.NewAuditHandler(auditLogger, log, cfg.CORSAllowedOrigins),
		Admin:      middleware.AdminAuth(guard, log),
		Body:       middleware.MaxBodyBytes(cfg.MaxPayloadBytes, log),
	}.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Chain middleware: tracing -> request ID -> client info -> headers -> CORS -> log -> metrics
	rootHandler := otelhttp.NewHandler(
		middleware.RequestID(
			middleware.ClientInfo(cfg.TrustProxyHeaders)(
				middleware.SecurityHeaders(
					middleware.CORS(cfg.CORSAllowedOrigins)(
						middleware.RequestLogger(log)(
							metrics.HTTPMetricsMiddleware(
								middleware.ValidateJSONContentType(log)(mux),
							),
						),
					),
				),
			),
		),
		"site-factory",
	)

	// 10. Start maintenance worker in background
	maintenance := worker.NewMaintenanceWorker(blocks, auditLogger, st.tenants, log, worker.MaintenanceConfig{
		Interval:           cfg.MaintenanceInterval,
		BlocklistRetention: time.Duration(cfg.BlocklistRetentionDays) * 24 * time.Hour,
		AuditCompressAfter: time.Duration(cfg.AuditCompressAfterDays) * 24 * time.Hour,
		AuditRetentionDays: cfg.AuditRetentionDays,
		StuckAfter:         cfg.StuckTenantAfter,
	})
	go maintenance.Start(ctx)

	// 11. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      rootHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PlatformTimeout*4 + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("storage", cfg.StorageBackend),
		slog.Bool("redis", redisClient != nil),
		slog.Bool("loopback_bypass", loopbackBypass),
		slog.Int("rate_limit", cfg.RateLimit.MaxRequests),
		slog.Duration("rate_limit_window", cfg.RateLimit.Window),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
			sigChan <- syscall.SIGTERM
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel() // Stop maintenance worker
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}

// openStores connects the configured storage backend. The postgres backend
// applies pending migrations before returning.
func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (stores, func(), error) {
	if cfg.StorageBackend != config.BackendPostgres {
		log.Warn("using in-memory storage; tenants and accounts are lost on restart")
		return stores{
			tenants:  repository.NewMemoryTenantRepository(),
			accounts: repository.NewMemoryAccountRepository(),
			blocks:   repository.NewMemoryBlockListRepository(),
		}, func() {}, nil
	}

	pool, err := database.NewConnectionPool(ctx, database.Config{DSN: cfg.DatabaseURL}, log)
	if err != nil {
		return stores{}, nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return stores{}, nil, err
	}
	db := pool.DB()
	return stores{
		tenants:  repository.NewPostgresTenantRepository(db, log),
		accounts: repository.NewPostgresAccountRepository(db, log),
		blocks:   repository.NewPostgresBlockListRepository(db, log),
		db:       db,
	}, func() { pool.Close() }, nil
}
