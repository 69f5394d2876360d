package sandbox

import (
	"context"
	"log/slog"
	"time"
)

// Supervisor periodically reaps idle containers until its context is
// cancelled.
type Supervisor struct {
	orchestrator *Orchestrator
	interval     time.Duration
}

func NewSupervisor(orchestrator *Orchestrator, interval time.Duration) *Supervisor {
	return &Supervisor{orchestrator: orchestrator, interval: interval}
}

// Run blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("sandbox: supervisor started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sandbox: supervisor stopped")
			return
		case <-ticker.C:
			s.orchestrator.CleanupIdleContainers(ctx)
		}
	}
}
