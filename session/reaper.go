// ABOUTME: Idle reaper that periodically stops preview sessions with no recent activity.
// ABOUTME: Ticker-driven sweep loop; individual stop failures never abort a sweep.
package session

import (
	"context"
	"log"
	"time"
)

// Reaper stops running sessions that have gone idle past a timeout.
type Reaper struct {
	manager *Manager
	timeout time.Duration
}

// NewReaper returns a Reaper using the given idle timeout.
func NewReaper(manager *Manager, timeout time.Duration) *Reaper {
	return &Reaper{manager: manager, timeout: timeout}
}

// Sweep performs one pass and returns the number of sessions stopped.
func (r *Reaper) Sweep() int {
	stopped := r.manager.SweepIdle(r.timeout)
	if stopped > 0 {
		log.Printf("component=reaper action=sweep stopped=%d timeout=%s", stopped, r.timeout)
	}
	return stopped
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
