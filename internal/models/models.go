// Package models defines the core data structures for the eventgate admission engine.
//
// It includes the idempotency, deduplication, and ordering records persisted by the
// store layer, plus the admission request/decision types shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// IdempotencyStatus represents the lifecycle state of an idempotency record.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing marks an operation that is currently executing.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusCompleted marks an operation that finished successfully (terminal).
	IdempotencyStatusCompleted IdempotencyStatus = "completed"
	// IdempotencyStatusFailed marks an operation whose last attempt failed.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// DedupStrategy defines how a repeated event content hash is reconciled.
type DedupStrategy string

const (
	// DedupFirstWins suppresses every duplicate while the window is open.
	DedupFirstWins DedupStrategy = "first_wins"
	// DedupLastWins processes duplicates again, superseding the original event pointer.
	DedupLastWins DedupStrategy = "last_wins"
	// DedupMerge processes duplicates again; the caller merges with the prior result.
	DedupMerge DedupStrategy = "merge"
	// DedupIgnore suppresses duplicates unconditionally, regardless of window.
	DedupIgnore DedupStrategy = "ignore"
)

// Default policy values applied when a caller or store option leaves them unset.
const (
	// DefaultStuckTimeout is how long a processing record may sit before it is
	// considered abandoned by a crashed worker and reclaimable.
	DefaultStuckTimeout = 30 * time.Minute
	// DefaultMaxRetries is the number of failed attempts allowed before an
	// operation is considered exhausted.
	DefaultMaxRetries = 3
	// DefaultKeyTTL is the default idempotency record lifetime.
	DefaultKeyTTL = 24 * time.Hour
	// DefaultDedupWindowSeconds is the default sliding deduplication window.
	DefaultDedupWindowSeconds = 300
	// DefaultDedupRetention is how long aged deduplication records are kept.
	DefaultDedupRetention = 7 * 24 * time.Hour
	// DefaultOrderingRetention is how long idle ordering state rows are kept.
	DefaultOrderingRetention = 30 * 24 * time.Hour
)

// Error variables for caller-bug conditions. These fail fast and must not be retried.
var (
	ErrInvalidDedupStrategy = errors.New("invalid deduplication strategy")
	ErrInvalidSequence      = errors.New("invalid sequence number")
	ErrMissingEventClass    = errors.New("event class is required for sequence-bearing events")
	ErrEmptyOperationType   = errors.New("operation type cannot be empty")
	ErrEmptyEntityID        = errors.New("entity id cannot be empty")
)

// IsValidDedupStrategy checks if the given strategy is supported.
func IsValidDedupStrategy(s DedupStrategy) bool {
	switch s {
	case DedupFirstWins, DedupLastWins, DedupMerge, DedupIgnore:
		return true
	default:
		return false
	}
}

// IdempotencyRecord tracks whether an exact operation has already been attempted or
// completed. At most one non-expired record exists per KeyHash.
type IdempotencyRecord struct {
	KeyHash       string            `json:"key_hash"`
	KeyValue      string            `json:"key_value"`
	OperationType string            `json:"operation_type"`
	EntityType    string            `json:"entity_type"`
	EntityID      string            `json:"entity_id"`
	CallerID      string            `json:"caller_id"`
	Status        IdempotencyStatus `json:"status"`
	AttemptCount  int               `json:"attempt_count"`
	LastAttemptAt time.Time         `json:"last_attempt_at"`
	ResultPayload json.RawMessage   `json:"result_payload,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	ExpiresAt     time.Time         `json:"expires_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// DedupRecord tracks event content seen within a sliding time window. The same hash
// may legitimately recur after the window elapses; a fresh record is opened then.
type DedupRecord struct {
	DedupHash         string        `json:"dedup_hash"`
	EventType         string        `json:"event_type"`
	EntityType        string        `json:"entity_type"`
	EntityID          string        `json:"entity_id"`
	Strategy          DedupStrategy `json:"strategy"`
	TimeWindowSeconds int           `json:"time_window_seconds"`
	OccurrenceCount   int           `json:"occurrence_count"`
	FirstSeenAt       time.Time     `json:"first_seen_at"`
	LastSeenAt        time.Time     `json:"last_seen_at"`
	OriginalEventID   string        `json:"original_event_id"`
}

// OrderingState is the per-(entity, event class) sequence counter and watermark.
// CurrentSequenceNumber is the next number to hand out; LastProcessedSequence is
// always at most CurrentSequenceNumber-1.
type OrderingState struct {
	EntityType            string    `json:"entity_type"`
	EntityID              string    `json:"entity_id"`
	EventClass            string    `json:"event_class"`
	CurrentSequenceNumber uint64    `json:"current_sequence_number"`
	LastProcessedSequence uint64    `json:"last_processed_sequence"`
	LastProcessedEventID  string    `json:"last_processed_event_id"`
	ConsecutiveFailures   int       `json:"consecutive_failures"`
	LastFailureReason     string    `json:"last_failure_reason,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}
