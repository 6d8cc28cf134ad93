package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mewiskl/zama-Talklet-Review/internal/metrics"
)

// ServiceHealthChecker folds component checkers into one service flag. The
// review service refuses traffic until it first reports healthy.
type ServiceHealthChecker struct {
	deps []Checker
	log  zerolog.Logger
	up   atomic.Bool
}

func NewServiceHealthChecker(log zerolog.Logger, deps ...Checker) *ServiceHealthChecker {
	return &ServiceHealthChecker{deps: deps, log: log}
}

func (s *ServiceHealthChecker) IsHealthy() bool { return s.up.Load() }

// Unhealthy names the components currently down.
func (s *ServiceHealthChecker) Unhealthy() []string {
	var down []string
	for _, d := range s.deps {
		if !d.IsHealthy() {
			down = append(down, d.Name())
		}
	}
	return down
}

// Start re-evaluates every interval and logs transitions only.
func (s *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	every(ctx, interval, func() {
		down := s.Unhealthy()
		now := len(down) == 0
		if was := s.up.Swap(now); was != now {
			if now {
				s.log.Info().Msg("review service healthy")
			} else {
				s.log.Error().Strs("down", down).Msg("review service unhealthy")
			}
		}
		metrics.ComponentHealthy.WithLabelValues("service").Set(gauge(now))
	})
}
