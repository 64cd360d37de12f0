package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/internal/observability"
	"github.com/pitabwire/entitystore/internal/transport"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes entity metadata, CRUD, bulk updates and live query
streams over HTTP until interrupted.

Example:
  entitystore serve --config config.yaml
  ENTITYSTORE_STORE_DRIVER=postgres entitystore serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "entitystore", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	a, err := newApp(ctx, cfg, logger, promReg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Store.Seed {
		n, err := seedDemo(ctx, a, defaultSeedCount)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info("demo data seeded", zap.Int("records", n))
	}

	streamsDone := make(chan struct{})
	deps := transport.Dependencies{
		Done:     streamsDone,
		Config:   cfg,
		Logger:   logger,
		Metrics:  a.metrics,
		Gatherer: promReg,
		Metadata: a.metadata,
		Entities: a.entities,
		Live:     a.live,

		Idempotency: a.idempotency,
		Readiness: observability.ReadinessChecks{
			MetadataLoaded: a.metadata.Loaded,
			Store:          a.storeHealth,
			ChangeFeed:     a.feed,
		},
	}
	if cfg.Identity.Enabled {
		secret := cfg.Identity.Secret()
		if secret == "" {
			return fmt.Errorf("identity: %s environment variable not set", cfg.Identity.SecretEnv)
		}
		deps.Authenticate = transport.JWTAuthenticator(cfg.Identity, []byte(secret))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      transport.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	srv.RegisterOnShutdown(func() { close(streamsDone) })

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.String("changefeed", cfg.ChangeFeed.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
