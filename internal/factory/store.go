// Package factory builds the configured store, cipher backend and
// attestation keys for the binaries.
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mewiskl/zama-Talklet-Review/internal/config"
	"github.com/mewiskl/zama-Talklet-Review/internal/store"
	"github.com/mewiskl/zama-Talklet-Review/internal/store/memory"
	"github.com/mewiskl/zama-Talklet-Review/internal/store/postgres"
	"github.com/mewiskl/zama-Talklet-Review/internal/store/sqlite"
)

// NewStore returns the store selected by cfg.DBDriver with its schema applied.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	timeout := time.Duration(cfg.BootstrapTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	bootCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch cfg.DBDriver {
	case "memory":
		log.Warn().Msg("memory store selected; state is lost on restart")
		return memory.New(), nil
	case "sqlite":
		st, err := sqlite.New(bootCtx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite store ready")
		return st, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("TALKLET_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		st, err := postgres.New(bootCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("postgres store ready")
		return st, nil
	}
	return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
}
