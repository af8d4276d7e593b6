package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/aa"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/alert"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/circuitbreaker"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/config"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/drafts"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/events"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/identity"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/indexer"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/ipfs"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/registry"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/server"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/store/postgres"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/tracing"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	logger.Info("starting trustd",
		"chains_file", cfg.ChainsFile,
		"api_port", cfg.Server.Port,
		"metrics_port", cfg.Server.MetricsPort,
		"indexer_endpoint", cfg.Indexer.Endpoint,
		"redis_events", cfg.Redis.URL != "",
	)

	shutdownTracing, err := tracing.Init(context.Background(), "trustd", cfg.Tracing.OTLPEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.OTLPEndpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.OTLPEndpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	db, err := postgres.New(postgres.Config{
		URL:                cfg.DB.URL,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
		ConnMaxIdleTime:    cfg.DB.ConnMaxIdleTime,
		StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	if cfg.DB.MigrationsDir != "" {
		if err := db.RunMigrations(cfg.DB.MigrationsDir); err != nil {
			logger.Error("failed to run migrations", "dir", cfg.DB.MigrationsDir, "error", err)
			os.Exit(1)
		}
	}

	endpoints, err := config.LoadChains(cfg.ChainsFile)
	if err != nil {
		logger.Error("failed to load chains", "path", cfg.ChainsFile, "error", err)
		os.Exit(1)
	}
	source, err := chain.NewRegistry(endpoints, cfg.RPC.RPS, cfg.RPC.Burst, logger)
	if err != nil {
		logger.Error("failed to build chain registry", "error", err)
		os.Exit(1)
	}
	logger.Info("chain registry ready", "chains", len(endpoints))

	publisher, err := buildPublisher(cfg, logger)
	if err != nil {
		logger.Error("failed to connect event publisher", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("event publisher close error", "error", err)
		}
	}()

	alerter := buildAlerter(cfg, logger)

	verifier := association.NewVerifier(source, logger)
	associations := association.NewService(source, verifier, logger)
	draftSvc := drafts.NewService(postgres.NewDraftRepo(db), publisher, logger)
	indexerBreaker := circuitbreaker.New(circuitbreaker.Config{
		Name: "indexer",
		OnChange: func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			notifyBreakerChange(alerter, logger, name, from, to)
		},
	})
	indexerClient := indexer.NewClient(cfg.Indexer.Endpoint, logger, indexer.WithBreaker(indexerBreaker))
	validations := validation.NewService(registry.NewValidationRegistry(source, logger), indexerClient, logger)
	agents := identity.NewService(
		registry.NewIdentityRegistry(source, logger),
		registry.NewReputationRegistry(source, logger),
		aa.NewClient(source, logger),
		ipfs.NewGateway(cfg.IPFS.GatewayURL, logger),
		source,
		logger,
	)

	api := server.NewServer(server.Deps{
		Associations: associations,
		Verifier:     verifier,
		Drafts:       draftSvc,
		Validations:  validations,
		Agents:       agents,
		Publisher:    publisher,
	}, logger, server.WithIndexerHealth(indexerClient))

	limiter := server.NewRateLimitMiddleware(logger)
	defer limiter.Stop()
	handler := server.RequestLogMiddleware(logger, limiter.Wrap(api.Handler()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runServer(gCtx, "api", cfg.Server.Port, handler, logger)
	})
	g.Go(func() error {
		return runServer(gCtx, "metrics", cfg.Server.MetricsPort, metricsHandler(), logger)
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("trustd exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("trustd shut down gracefully")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildAlerter assembles the configured notification channels behind a
// cooldown.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	logger.Info("alerting enabled", "channels", len(channels), "cooldown", cfg.Alert.Cooldown.String())
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
}

// notifyBreakerChange raises an operator alert when a dependency circuit
// opens, and a recovery notice when it closes again.
func notifyBreakerChange(alerter alert.Alerter, logger *slog.Logger, name string, from, to circuitbreaker.State) {
	var a alert.Alert
	switch {
	case to == circuitbreaker.Open:
		a = alert.Alert{
			Type:      alert.TypeUpstreamDown,
			Component: name,
			Title:     "circuit opened",
			Message:   "calls are being rejected locally until the dependency recovers",
			Fields:    map[string]string{"from": from.String(), "to": to.String()},
		}
	case from != circuitbreaker.Closed && to == circuitbreaker.Closed:
		a = alert.Alert{
			Type:      alert.TypeRecovery,
			Component: name,
			Title:     "circuit closed",
			Message:   "probe calls succeeded, traffic restored",
			Fields:    map[string]string{"from": from.String(), "to": to.String()},
		}
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := alerter.Send(ctx, a); err != nil {
		logger.Debug("alert delivery failed", "type", a.Type, "error", err)
	}
}

// buildPublisher connects the Redis stream publisher, or keeps events in
// process when no Redis URL is configured.
func buildPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if cfg.Redis.URL == "" {
		logger.Info("redis not configured, lifecycle events stay in process")
		return events.NewMemory(), nil
	}
	return events.NewRedisPublisher(cfg.Redis.URL, cfg.Redis.Stream, logger)
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// runServer serves handler on port until ctx is cancelled, then shuts
// down gracefully with a bounded drain.
func runServer(ctx context.Context, name string, port int, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("server shutdown error", "server", name, "error", err)
		}
	}()

	logger.Info("server started", "server", name, "port", port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
