package presence

import (
	"context"
	"time"

	"github.com/opencommander/commander/internal/clock"
	"github.com/opencommander/commander/internal/logging"
)

// Pruner deletes stale presence records.
type Pruner interface {
	PruneStale(ctx context.Context) (int64, error)
}

// Sweeper prunes stale presence on an interval so abandoned records vanish
// even when nobody heartbeats.
type Sweeper struct {
	pruner   Pruner
	interval time.Duration
	clock    clock.Clock
	logger   *logging.Logger
}

// NewSweeper creates a sweeper. A nil logger or clock gets a default.
func NewSweeper(pruner Pruner, interval time.Duration, c clock.Clock, logger *logging.Logger) *Sweeper {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{pruner: pruner, interval: interval, clock: c, logger: logger}
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("presence sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.pruner.PruneStale(ctx); err != nil {
		s.logger.Warn("presence sweep failed", "error", err)
	}
}
