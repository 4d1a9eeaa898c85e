// Package store provides the DedupRepo interface for content-based event deduplication.
package store

import (
	"context"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

// DedupRepo defines the persistent record of "have we seen this event content before,
// within a sliding time window", independent of caller-supplied keys. It covers event
// sources that redeliver the same content under a different envelope ID.
type DedupRepo interface {
	// ClaimDedup records one occurrence of the content hash and classifies it, in a
	// single storage-level upsert: inside the window it increments the occurrence
	// count and refreshes the last-seen timestamp (last-wins and merge also
	// supersede the original event pointer); outside the window it resets the row
	// to a fresh first occurrence. The primary key serializes concurrent claims of
	// the same hash, so exactly one caller observes DedupNew per window. Returns
	// models.ErrInvalidDedupStrategy for an unknown strategy.
	ClaimDedup(ctx context.Context, rec models.DedupRecord, now time.Time) (models.DedupCheck, error)

	// ReleaseDedupClaim removes the record for a claim whose operation never ran to
	// completion, so a redelivery of the same content is admitted again. Releasing
	// a hash with no record is not an error.
	ReleaseDedupClaim(ctx context.Context, dedupHash string) error

	// GetDedupRecord retrieves a record by content hash, or nil if none exists.
	GetDedupRecord(ctx context.Context, dedupHash string) (*models.DedupRecord, error)
}
