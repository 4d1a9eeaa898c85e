// Package store provides the OrderingRepo interface for per-entity sequencing gates.
package store

import (
	"context"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

// OrderingRepo defines the per-(entity, event class) sequence counter and
// "last applied" watermark used to reject or defer out-of-order events.
//
// Sequence allocation and advancement for the same tuple are linearizable, enforced
// through the storage layer's row-level atomicity rather than an in-process mutex;
// the engine may run in multiple processes against the same store.
type OrderingRepo interface {
	// NextSequence allocates the next sequence number for the tuple. The first call
	// for a new tuple returns 1; numbers are strictly increasing and never reused,
	// even under concurrent callers.
	NextSequence(ctx context.Context, entityType, entityID, eventClass string, now time.Time) (uint64, error)

	// CheckOrder validates seq against the tuple's watermark: exactly watermark+1 is
	// ready, at or below the watermark is too old (drop, do not retry), above
	// watermark+1 means a gap exists and the event must be held or requeued.
	// A zero seq returns models.ErrInvalidSequence.
	CheckOrder(ctx context.Context, entityType, entityID, eventClass string, seq uint64) (models.OrderCheck, error)

	// Advance records a processing outcome for seq: success moves the watermark to
	// seq and resets the consecutive-failure count; failure increments the count and
	// records the reason, leaving the watermark unchanged so the gap stays open.
	Advance(ctx context.Context, entityType, entityID, eventClass string, seq uint64, success bool, failureReason, eventID string, now time.Time) error

	// GetOrderingState retrieves the state row for a tuple, or nil if none exists.
	GetOrderingState(ctx context.Context, entityType, entityID, eventClass string) (*models.OrderingState, error)
}
