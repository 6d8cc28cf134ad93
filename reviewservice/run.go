// Package reviewservice runs the HTTP review service: registry, store,
// cipher backend and, in development, an embedded decryption oracle.
package reviewservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mewiskl/zama-Talklet-Review/internal/api"
	"github.com/mewiskl/zama-Talklet-Review/internal/config"
	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/factory"
	"github.com/mewiskl/zama-Talklet-Review/internal/health"
	"github.com/mewiskl/zama-Talklet-Review/internal/logger"
	"github.com/mewiskl/zama-Talklet-Review/internal/oracle"
	"github.com/mewiskl/zama-Talklet-Review/internal/registry"
	"github.com/mewiskl/zama-Talklet-Review/internal/store"
)

// Run starts the review service and blocks until shutdown or error.
func Run() error {
	log := logger.New("review-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("config")
		return err
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		log.Warn().Err(err).Msg("invalid log level; keeping default")
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Str("cipher_backend", cfg.CipherBackend).
		Int("http_port", cfg.HTTPPort).
		Bool("embedded_oracle", cfg.EmbeddedOracle).
		Msg("review service starting")

	ctx, stop := newServerContext()
	defer stop()

	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("session store unavailable")
		return err
	}
	defer func() { _ = st.Close() }()

	cph, err := factory.NewCipher(cfg, st.Blobs(), cfg.EmbeddedOracle, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("cipher backend unavailable")
		return err
	}
	verifier, err := factory.NewVerifier(cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("attestation verifying key unavailable")
		return err
	}

	bus := events.NewBus(cfg.BusBuffer)
	reg, err := registry.New(ctx, registry.Options{
		Store:    st,
		Cipher:   cph.Capability,
		Bus:      bus,
		Verifier: verifier,
		Log:      log.With().Str("component", "registry").Logger(),
	})
	if err != nil {
		log.Error().Stack().Err(err).Msg("registry restore failed")
		return err
	}

	if err := startFactConsumer(ctx, cfg, log, st, cph, bus); err != nil {
		return err
	}

	svcHealth := startHealthCheckers(ctx, cfg, log, st)
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("dependencies never became healthy")
		return err
	}

	router := api.NewRouter(api.Deps{
		Registry:     reg,
		Store:        st,
		Cipher:       api.CipherInfo{Backend: cph.Name, PublicKey: cph.PublicKey, CanReplaceReviews: reg.CanReplaceReviews()},
		MaxBodyBytes: cfg.MaxBodyBytes,
		Healthy:      svcHealth.IsHealthy,
		Unhealthy:    svcHealth.Unhealthy,
	})
	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Int("sessions", reg.SessionCount()).Msg("draining review service")
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			log.Error().Stack().Err(err).Msg("drain incomplete; connections dropped")
			return err
		}
		log.Info().Msg("review service stopped")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("listener failed")
		return err
	}
}

// startFactConsumer drains the bus: into an embedded oracle in development,
// otherwise into the debug log. The outbox is the durable copy either way.
func startFactConsumer(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, cph *factory.Cipher, bus *events.Bus) error {
	if !cfg.EmbeddedOracle {
		go logFacts(ctx, log, bus.Subscribe())
		return nil
	}
	signer, err := factory.NewSigner(cfg)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Oracle signing key unavailable")
		return err
	}
	w := oracle.NewWorker(st, cph.Decryptor, signer, oracle.Config{
		BatchSize:  cfg.OracleBatchSize,
		Interval:   cfg.OraclePollInterval,
		MaxBackoff: cfg.OracleMaxBackoff,
	}, log.With().Str("component", "oracle").Logger(), oracle.WithWake(bus.Subscribe()))
	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Stack().Err(err).Msg("embedded oracle exit")
		}
	}()
	log.Warn().Msg("embedded decryption oracle running; do not use in production")
	return nil
}

func logFacts(ctx context.Context, log zerolog.Logger, ch <-chan events.Fact) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-ch:
			log.Debug().Int64("fact_id", f.ID).Str("kind", string(f.Kind)).Uint64("session_id", uint64(f.SessionID)).Msg("fact")
		}
	}
}

// startHealthCheckers starts component checkers and service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	storeChecker := store.NewHealthChecker(st, log, probeTimeout)
	go storeChecker.Start(ctx, interval)

	svcHealth := health.NewServiceHealthChecker(log, storeChecker)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// startupHealthTimeout is twice the probe interval, at least 30 seconds.
func startupHealthTimeout(healthIntervalSeconds int) time.Duration {
	timeout := healthIntervalSeconds * 2
	if timeout < 30 {
		timeout = 30
	}
	return time.Duration(timeout) * time.Second
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeout := startupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
