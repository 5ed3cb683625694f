package challenge

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Sweeper periodically forgets terminal sessions past the retention window.
// Pending sessions are ended only by their own timers.
type Sweeper struct {
	orch     *Orchestrator
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a sweeper for orch.
func NewSweeper(orch *Orchestrator, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		orch:     orch,
		interval: time.Minute,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// WithInterval overrides the sweep interval.
func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep()
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in challenge sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.sweep()
}

func (s *Sweeper) sweep() int {
	cutoff := s.orch.now().Add(-s.orch.cfg.Retention)
	n := s.orch.Prune(cutoff)
	if n > 0 {
		s.logger.Debug("pruned challenge sessions", "count", n)
	}
	return n
}
