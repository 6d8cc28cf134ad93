// Package oracleworker runs the standalone decryption oracle.
package oracleworker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mewiskl/zama-Talklet-Review/internal/config"
	"github.com/mewiskl/zama-Talklet-Review/internal/factory"
	"github.com/mewiskl/zama-Talklet-Review/internal/logger"
	"github.com/mewiskl/zama-Talklet-Review/internal/oracle"
)

// Run starts the oracle worker and blocks until shutdown or error.
func Run() error {
	log := logger.New("decryption-oracle")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("config")
		return err
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		log.Warn().Err(err).Msg("invalid log level; keeping default")
	}
	if cfg.DBDriver == "memory" {
		return errors.New("the decryption oracle needs a shared store; DB_DRIVER=memory is not supported")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("store")
		return err
	}
	defer func() { _ = st.Close() }()

	cph, err := factory.NewCipher(cfg, st.Blobs(), true, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("cipher backend")
		return err
	}
	signer, err := factory.NewSigner(cfg)
	if err != nil {
		log.Error().Stack().Err(err).Msg("signing key")
		return err
	}

	w := oracle.NewWorker(st, cph.Decryptor, signer, oracle.Config{
		BatchSize:  cfg.OracleBatchSize,
		Interval:   cfg.OraclePollInterval,
		MaxBackoff: cfg.OracleMaxBackoff,
	}, log)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Stack().Err(err).Msg("decryption oracle exit")
		return err
	}
	return nil
}
