// Package health tracks component liveness for the readiness endpoint and
// the startup gate.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mewiskl/zama-Talklet-Review/internal/metrics"
)

// Checker is a component whose health is probed in the background.
type Checker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// Pinger is implemented by stores that can answer a cheap liveness query.
type Pinger interface {
	HealthPing(ctx context.Context) error
}

// ProbeFunc returns nil when the component is reachable.
type ProbeFunc func(ctx context.Context) error

// Probe is a Checker driven by a ProbeFunc. It starts unhealthy.
type Probe struct {
	name    string
	fn      ProbeFunc
	timeout time.Duration
	log     zerolog.Logger
	up      atomic.Bool
}

// NewProbe returns a checker named name. A non-positive timeout means 2s.
func NewProbe(name string, fn ProbeFunc, timeout time.Duration, log zerolog.Logger) *Probe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Probe{name: name, fn: fn, timeout: timeout, log: log}
}

func (p *Probe) Name() string { return p.name }

func (p *Probe) IsHealthy() bool { return p.up.Load() }

// Check runs the probe once and records the result.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.fn(ctx)
	if err != nil {
		p.log.Error().Err(err).Str("checker", p.name).Msg("health probe failed")
	}
	p.up.Store(err == nil)
	metrics.ComponentHealthy.WithLabelValues(p.name).Set(gauge(err == nil))
	return err == nil
}

// Start probes immediately and then every interval until ctx is done.
func (p *Probe) Start(ctx context.Context, interval time.Duration) {
	every(ctx, interval, func() { p.Check(ctx) })
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func gauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
