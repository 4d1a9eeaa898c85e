// Package store provides the IdempotencyRepo interface for the idempotency-key lifecycle.
package store

import (
	"context"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

// IdempotencyRepo defines the persistent record of "has this exact operation already
// been attempted or completed", keyed by a hashed idempotency key.
//
// State machine: processing -> completed (terminal), or processing -> failed ->
// processing (retry) until the retry budget is spent. A processing record older than
// the stuck timeout is reclaimable; within that edge case execution is at-least-once
// and business logic must tolerate it.
type IdempotencyRepo interface {
	// CheckAdmission classifies what is known about keyHash at time now. A stuck
	// processing record and an expired record both report AdmissionNotFound.
	CheckAdmission(ctx context.Context, keyHash string, now time.Time) (models.AdmissionCheck, error)

	// CreateIdempotencyRecord inserts a new processing record. Returns
	// ErrAlreadyExists if a live, non-stuck record holds the key. Expired and stuck
	// rows are reclaimed in the same statement; the race is resolved by the storage
	// layer's uniqueness constraint, never by check-then-insert.
	CreateIdempotencyRecord(ctx context.Context, rec models.IdempotencyRecord, now time.Time) error

	// BeginAttempt flips a failed record back to processing for a retry. Returns
	// ErrAlreadyExists if the record is not in the failed state (another worker
	// already claimed the retry).
	BeginAttempt(ctx context.Context, keyHash string, now time.Time) error

	// RecordOutcome finalizes the current attempt: success stores the result payload
	// and completes the record; failure increments the attempt count and marks it
	// failed, eligible for retry while attempts remain.
	RecordOutcome(ctx context.Context, keyHash string, success bool, resultPayload []byte, errorMessage string, now time.Time) error

	// GetIdempotencyRecord retrieves a record by key hash, or nil if none exists.
	GetIdempotencyRecord(ctx context.Context, keyHash string) (*models.IdempotencyRecord, error)
}
