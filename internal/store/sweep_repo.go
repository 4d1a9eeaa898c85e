// Package store provides the SweepRepo interface for retention cleanup.
package store

import (
	"context"
	"time"
)

// SweepRepo defines the batched delete primitives the retention sweeper runs on.
// Each call deletes at most limit rows in a single short statement so that cleanup
// never holds locks that block live admission checks.
type SweepRepo interface {
	// SweepExpiredIdempotency deletes idempotency records whose expiry has passed.
	SweepExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int, error)

	// SweepAgedDedup deletes deduplication records last seen at or before cutoff.
	SweepAgedDedup(ctx context.Context, cutoff time.Time, limit int) (int, error)

	// SweepStaleOrdering deletes ordering state rows untouched since cutoff.
	SweepStaleOrdering(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
