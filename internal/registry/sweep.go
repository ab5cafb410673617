package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mkarlsen/chess-openings-live/internal/obslog"
)

// Sweeper periodically evicts stale live games. Run it once; it shares the
// per-game serialization with Upsert, so it never races an in-flight update.
type Sweeper struct {
	reg      *Registry
	interval time.Duration
}

func NewSweeper(reg *Registry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{reg: reg, interval: interval}
}

// Run blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.reg.EvictStale(now); n > 0 {
				obslog.L().Info("sweep_complete",
					zap.Int("evicted", n),
					zap.Duration("window", s.reg.StaleAfter()),
				)
			}
		}
	}
}
