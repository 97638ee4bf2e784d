package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Montivagant/rmsv3-sub002/internal/di"
	"github.com/Montivagant/rmsv3-sub002/internal/handlers"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/auth"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/config"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/observability"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/secrets"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(cfg, startedAt)),
		handlers.WithReadinessCheck("ledger", func(ctx context.Context) error {
			_, err := container.Store.Events(ctx)
			return err
		}),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
	}

	ticketHandlers := handlers.NewTicketHandlers(container.Services.Sales, container.Services.Payments, container.Store)
	opts = append(opts,
		handlers.WithSalesRoutes(ticketHandlers.SalesRoutes),
		handlers.WithTicketRoutes(ticketHandlers.Routes),
	)

	if container.Services.Payments != nil {
		paymentHandlers := handlers.NewPaymentHandlers(container.Services.Payments,
			handlers.WithCheckoutRateLimit(cfg.RateLimits.DefaultPerMinute, time.Minute))
		opts = append(opts, handlers.WithPaymentRoutes(paymentHandlers.Routes))

		if cfg.PSP.StripeWebhookSecret != "" {
			webhookHandlers := handlers.NewWebhookHandlers(container.Services.Payments, cfg.PSP.StripeWebhookSecret)
			opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
		}
	}

	adminHandlers := handlers.NewAdminHandlers(container.Services.Inventory, container.Services.Loyalty, container.Store)
	opts = append(opts, handlers.WithAdminRoutes(adminHandlers.Routes))
	if cfg.Security.AdminAPIKey != "" {
		opts = append(opts, handlers.WithAdminMiddlewares(auth.RequireAPIKey(cfg.Security.AdminAPIKey)))
	} else {
		logger.Warn("admin api key not configured; admin routes are unauthenticated")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("pos ledger api listening",
			zap.String("ledgerBackend", cfg.Ledger.Backend),
			zap.Bool("kafka", cfg.Kafka.Enabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("POS_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("POS_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(os.Getenv(key))
	}

	fallbackPath := lookup("POS_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project := lookup("POS_SECRET_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if credentialsFile := lookup("POS_SECRET_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
