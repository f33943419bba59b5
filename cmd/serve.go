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

	"github.com/spf13/cobra"

	"github.com/mailwise/mailwise/internal/ai"
	"github.com/mailwise/mailwise/internal/auth"
	"github.com/mailwise/mailwise/internal/config"
	"github.com/mailwise/mailwise/internal/gmail"
	"github.com/mailwise/mailwise/internal/instrumentation"
	"github.com/mailwise/mailwise/internal/logging"
	"github.com/mailwise/mailwise/internal/server"
	"github.com/mailwise/mailwise/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		addr           string
		debug          bool
		metricsEnabled bool
		metricsAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mailwise API server",
		Long: `Start the mailwise HTTP API server.

The server exposes the Google OAuth login flow, the Gmail endpoints and
the chat assistant under /api/v1, plus /healthz and /readyz health
endpoints. Prometheus metrics are served on a dedicated port.

Required environment variables:
  GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET   Google OAuth credentials
  REDIRECT_URI                              OAuth callback URL
  SESSION_SECRET                            HMAC key for session tokens
  MONGODB_URI                               MongoDB connection string
  GEMINI_API_KEY                            Gemini API key

See the config package for the full list of optional variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			// Flags override environment configuration only when set
			// explicitly.
			if cmd.Flags().Changed("addr") {
				cfg.ListenAddr = addr
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			if cmd.Flags().Changed("metrics-enabled") {
				cfg.MetricsEnabled = metricsEnabled
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}

			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", config.DefaultListenAddr, "API server listen address. Can also use LISTEN_ADDR env var.")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging. Can also use DEBUG env var.")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Serve Prometheus metrics on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(cfg *config.Config) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(cfg.Debug)
	slog.SetDefault(logger)

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	st, err := store.NewMongoStore(shutdownCtx, cfg.MongoURI, cfg.MongoDatabase, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			logger.Error("store close failed", logging.Err(err))
		}
	}()

	sessions := auth.NewSessionIssuer(cfg.SessionSecret, cfg.SessionTTL)
	broker := auth.NewBroker(auth.BrokerConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.RedirectURL,
	}, st, sessions, logger)
	refresher := auth.NewRefresher(broker.OAuthConfig(), st, logger)
	guard := auth.NewGuard(sessions, st, logger)

	generator, err := ai.NewGeminiGenerator(shutdownCtx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}
	assistant := ai.NewAssistant(generator, logger)

	srv := server.New(server.Config{
		Addr:               cfg.ListenAddr,
		FrontendURL:        cfg.FrontendURL,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, server.Deps{
		Logger:    logger,
		Broker:    broker,
		Guard:     guard,
		Refresher: refresher,
		Store:     st,
		Gmail:     &gmail.Factory{},
		Assistant: assistant,
		Metrics:   provider.Metrics(),
		Audit:     instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging),
	})

	// Start metrics server on its own port if enabled
	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received, stopping servers")
		ctx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancelShutdown()

		// Shutdown metrics server first
		if metricsServer != nil {
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Error("metrics server shutdown failed", logging.Err(err))
			}
		}
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("error shutting down API server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("API server stopped with error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// newLogger builds the process-wide structured logger. JSON output keeps
// log aggregation simple in containerized deployments.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
