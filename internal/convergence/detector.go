// File: internal/convergence/detector.go
package convergence

import (
	"context"
	"time"

	"github.com/xkilldash9x/threadweaver/internal/config"
	"github.com/xkilldash9x/threadweaver/internal/surface"
	"go.uber.org/zap"
)

// Tolerance bounds how far consecutive snapshots may drift and still count as
// unchanged.
type Tolerance struct {
	Elements      int
	ContentLength int
	Resources     int
}

// DefaultTolerance matches a page that is idle apart from counters and
// tracking pixels.
func DefaultTolerance() Tolerance {
	return Tolerance{Elements: 50, ContentLength: 800, Resources: 5}
}

// Exceeds reports whether next differs from prev by more than t on any metric.
func (t Tolerance) Exceeds(prev, next surface.Snapshot) bool {
	return abs(next.Elements-prev.Elements) > t.Elements ||
		abs(next.ContentLength-prev.ContentLength) > t.ContentLength ||
		abs(next.Resources-prev.Resources) > t.Resources
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Detector waits for a page to stop changing.
type Detector struct {
	logger    *zap.Logger
	interval  time.Duration
	window    time.Duration
	timeout   time.Duration
	tolerance Tolerance
}

// NewDetector builds a detector from configuration.
func NewDetector(logger *zap.Logger, cfg config.ConvergenceConfig) *Detector {
	d := &Detector{
		logger:   logger.Named("convergence"),
		interval: cfg.PollInterval,
		window:   cfg.StableWindow,
		timeout:  cfg.Timeout,
		tolerance: Tolerance{
			Elements:      cfg.ElementTolerance,
			ContentLength: cfg.ContentTolerance,
			Resources:     cfg.ResourceTolerance,
		},
	}
	if d.interval <= 0 {
		d.interval = 200 * time.Millisecond
	}
	return d
}

// Settle waits with the configured timeout and window.
func (d *Detector) Settle(ctx context.Context, src surface.Sampler) bool {
	return d.AwaitStable(ctx, src, d.timeout, d.window)
}

// AwaitStable polls src until consecutive snapshots stay within tolerance for
// a full window, returning true, or until timeout or ctx ends, returning false.
// A failed sample restarts the window.
func (d *Detector) AwaitStable(ctx context.Context, src surface.Sampler, timeout, window time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	prev, err := src.Snapshot(ctx)
	havePrev := err == nil
	stableSince := start
	if havePrev && window <= 0 {
		return true
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("Page did not settle before the deadline.",
				zap.Duration("timeout", timeout),
				zap.Duration("elapsed", time.Since(start)))
			return false
		case <-ticker.C:
		}

		next, err := src.Snapshot(ctx)
		now := time.Now()
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.logger.Debug("Snapshot failed; restarting stability window.", zap.Error(err))
			havePrev = false
			stableSince = now
			continue
		}
		if !havePrev || d.tolerance.Exceeds(prev, next) {
			stableSince = now
		}
		prev, havePrev = next, true

		if now.Sub(stableSince) >= window {
			d.logger.Debug("Page settled.",
				zap.Duration("elapsed", now.Sub(start)),
				zap.Int("elements", next.Elements),
				zap.Int("content_length", next.ContentLength),
				zap.Int("resources", next.Resources))
			return true
		}
	}
}
