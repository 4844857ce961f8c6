// Package core provides the service-layer ports for the armada orchestrator.
package core

import (
	"context"
	"time"
)

// JobScheduler defines the interface for the scheduler service.
type JobScheduler interface {
	// Tick processes due schedules and hands runs to the executor.
	// Returns the number of schedules processed.
	Tick(ctx context.Context, now time.Time) (int, error)

	// Reload drops cached schedule state so the next tick recomputes it.
	Reload()
}
