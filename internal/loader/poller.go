package loader

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"feedflow/internal/feed"
)

// Cycler runs one polling cycle.
type Cycler interface {
	LoadDue(ctx context.Context) Summary
}

type PollerOptions struct {
	Interval time.Duration
	// Jitter spreads cycles by 10-20% of the interval.
	Jitter bool
	Clock  clock.Clock
}

// Poller reloads the feeds that are due on a fixed interval in append mode.
type Poller struct {
	cycler   Cycler
	clock    clock.Clock
	interval time.Duration
	jitter   bool
	cycles   atomic.Int64
}

func NewPoller(cycler Cycler, opts PollerOptions) *Poller {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Interval <= 0 {
		opts.Interval = feed.PollInterval
	}
	return &Poller{
		cycler:   cycler,
		clock:    opts.Clock,
		interval: opts.Interval,
		jitter:   opts.Jitter,
	}
}

// Run starts a cycle immediately and then once per interval until ctx is
// done. Cycles never overlap, so a new cycle cannot cancel the loads of the
// previous one.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("poller started", "interval", p.interval.String())
	for {
		if ctx.Err() != nil {
			slog.Info("poller stopped", "cycles", p.cycles.Load())
			return
		}
		p.cycler.LoadDue(ctx)
		p.cycles.Add(1)

		wait := p.interval
		if p.jitter {
			wait = feed.ApplyJitter(wait)
		}
		select {
		case <-ctx.Done():
			slog.Info("poller stopped", "cycles", p.cycles.Load())
			return
		case <-p.clock.After(wait):
		}
	}
}

// Cycles reports how many cycles have completed.
func (p *Poller) Cycles() int64 {
	return p.cycles.Load()
}
