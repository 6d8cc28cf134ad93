package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mewiskl/zama-Talklet-Review/internal/health"
)

// NewHealthChecker probes st with HealthPing. Stores without one (memory)
// are always up.
func NewHealthChecker(st Store, log zerolog.Logger, timeout time.Duration) *health.Probe {
	return health.NewProbe("store", func(ctx context.Context) error {
		if p, ok := st.(health.Pinger); ok {
			return p.HealthPing(ctx)
		}
		return nil
	}, timeout, log)
}
