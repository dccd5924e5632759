package repository

import (
	"context"
)

// CycleRepository defines the interface for cycle-history operations.
type CycleRepository interface {
	// SaveCycle inserts the record of one completed cycle.
	SaveCycle(ctx context.Context, rec *CycleRecord) error

	// RecentCycles retrieves the most recent cycle records, newest first.
	RecentCycles(ctx context.Context, limit int) ([]*CycleRecord, error)

	// CycleCount returns the number of stored cycle records.
	CycleCount(ctx context.Context) (int64, error)

	// PurgeBefore deletes records older than the cutoff and returns the
	// number removed.
	PurgeBefore(ctx context.Context, cutoffCycle int64) (int64, error)
}
