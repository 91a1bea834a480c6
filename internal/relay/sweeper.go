// ABOUTME: Liveness sweeper that periodically evicts sessions past their timeout.
// ABOUTME: Collects stale handles under the read lock and evicts them one by one after.

package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/relay-hub/internal/session"
)

// DefaultSweepInterval is used when the configured interval is zero.
const DefaultSweepInterval = 60 * time.Second

// Sweeper evicts sessions that stopped sending.
type Sweeper struct {
	registry *session.Registry
	fanout   *FanOut
	interval time.Duration
	logger   *slog.Logger

	evicted atomic.Uint64
}

// NewSweeper creates a Sweeper. The interval should be shorter than the
// registry's liveness timeout so no session outlives its timeout by more than
// one interval.
func NewSweeper(registry *session.Registry, fanout *FanOut, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		registry: registry,
		fanout:   fanout,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep evicts every stale session and returns their ids. A session that
// heartbeated or re-registered after being listed survives. The roster change
// is announced once for the whole batch.
func (s *Sweeper) Sweep() []string {
	var evicted []string
	for _, h := range s.registry.Stale() {
		if s.registry.RemoveStale(h) {
			evicted = append(evicted, h.ID)
		}
	}
	if len(evicted) == 0 {
		return nil
	}

	s.evicted.Add(uint64(len(evicted)))
	s.logger.Info("evicted stale sessions",
		"count", len(evicted),
		"session_ids", evicted,
		"timeout", s.registry.LivenessTimeout(),
	)
	if s.fanout != nil {
		s.fanout.NotifyRosterChanged()
	}
	return evicted
}
