package mqtt

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultTelemetryInterval is how often state is published.
const DefaultTelemetryInterval = 5 * time.Second

// Telemetry publishes state snapshots on an interval and on demand.
// On-demand publishes are limited to one per second.
type Telemetry struct {
	pub      Publisher
	source   func() []byte
	interval time.Duration
	limiter  *rate.Limiter
	notify   chan struct{}

	published atomic.Uint64
	failed    atomic.Uint64
	log       zerolog.Logger
}

// NewTelemetry creates a telemetry loop publishing what source returns.
func NewTelemetry(pub Publisher, source func() []byte, interval time.Duration, logger zerolog.Logger) *Telemetry {
	if interval <= 0 {
		interval = DefaultTelemetryInterval
	}
	return &Telemetry{
		pub:      pub,
		source:   source,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		notify:   make(chan struct{}, 1),
		log:      logger.With().Str("component", "telemetry").Logger(),
	}
}

// Notify requests an immediate publish. It never blocks and may be called
// from the task goroutine.
func (t *Telemetry) Notify() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Run publishes until ctx is done.
func (t *Telemetry) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.publish()
		case <-t.notify:
			if t.limiter.Allow() {
				t.publish()
			}
		}
	}
}

func (t *Telemetry) publish() {
	if err := t.pub.PublishState(t.source()); err != nil {
		if t.failed.Add(1) == 1 {
			t.log.Warn().Err(err).Msg("state publish failed")
		}
		return
	}
	t.failed.Store(0)
	t.published.Add(1)
}

// Published returns how many snapshots were published.
func (t *Telemetry) Published() uint64 { return t.published.Load() }
