// Package models defines admission request and decision types exchanged between the
// transport layer, the engine, and the store.
package models

import (
	"encoding/json"
	"time"
)

// AdmissionState classifies what the idempotency store knows about a key hash.
type AdmissionState string

const (
	// AdmissionNotFound means no live record exists; the operation may proceed.
	AdmissionNotFound AdmissionState = "not_found"
	// AdmissionDuplicateCompleted means the operation already completed; the stored
	// result should be returned instead of re-executing.
	AdmissionDuplicateCompleted AdmissionState = "duplicate_completed"
	// AdmissionDuplicateInProgress means another worker currently holds the key.
	AdmissionDuplicateInProgress AdmissionState = "duplicate_in_progress"
	// AdmissionDuplicateFailedRetryable means the last attempt failed but retries remain.
	AdmissionDuplicateFailedRetryable AdmissionState = "duplicate_failed_retryable"
	// AdmissionDuplicateFailedExhausted means the operation failed and retries are spent.
	AdmissionDuplicateFailedExhausted AdmissionState = "duplicate_failed_exhausted"
)

// AdmissionCheck is the result of consulting the idempotency store for a key hash.
type AdmissionCheck struct {
	State         AdmissionState  `json:"state"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	LastAttemptAt time.Time       `json:"last_attempt_at"`
}

// DedupState classifies what the deduplication store decided for a content hash.
type DedupState string

const (
	// DedupNew means the content has not been seen inside a live window.
	DedupNew DedupState = "new"
	// DedupSuppressed means the content is a duplicate and must not be processed.
	DedupSuppressed DedupState = "duplicate_suppressed"
	// DedupShouldProcess means the content is a duplicate but policy says process again.
	DedupShouldProcess DedupState = "duplicate_should_process"
)

// DedupCheck is the result of consulting the deduplication store for a content hash.
type DedupCheck struct {
	State           DedupState `json:"state"`
	OccurrenceCount int        `json:"occurrence_count"`
	OriginalEventID string     `json:"original_event_id,omitempty"`
}

// OrderState classifies a sequence number against the per-entity watermark.
type OrderState string

const (
	// OrderReady means the sequence is exactly the next expected number.
	OrderReady OrderState = "ready"
	// OrderTooOld means the sequence was already processed; the caller should drop it.
	OrderTooOld OrderState = "too_old"
	// OrderNotYetReady means a gap exists; the caller must hold or requeue the event.
	OrderNotYetReady OrderState = "not_yet_ready"
)

// OrderCheck is the result of validating a sequence number. Expected is the next
// sequence the watermark will accept.
type OrderCheck struct {
	State    OrderState `json:"state"`
	Expected uint64     `json:"expected"`
}

// SequenceInfo marks an event as sequence-bearing. If RequestedSequence is nil the
// engine allocates the next number itself; otherwise the supplied number is validated
// against the watermark.
type SequenceInfo struct {
	EventClass        string  `json:"event_class"`
	RequestedSequence *uint64 `json:"requested_sequence,omitempty"`
}

// AdmissionRequest describes one inbound, already-authenticated provider event.
type AdmissionRequest struct {
	OperationType  string        `json:"operation_type"`
	EntityType     string        `json:"entity_type"`
	EntityID       string        `json:"entity_id"`
	CallerID       string        `json:"caller_id,omitempty"`
	EventID        string        `json:"event_id,omitempty"` // provider envelope ID, for traceability
	IdempotencyKey *string       `json:"idempotency_key,omitempty"`
	EventBody      []byte        `json:"event_body,omitempty"`
	Sequence       *SequenceInfo `json:"sequence,omitempty"`
	DedupStrategy  DedupStrategy `json:"dedup_strategy"`
	TTL            time.Duration `json:"ttl"`
}

// Decision reason strings surfaced to callers and logged for operators.
const (
	ReasonAdmitted            = "admitted"
	ReasonRetryable           = "retryable"
	ReasonDuplicateCompleted  = "duplicate_completed"
	ReasonDuplicateInProgress = "duplicate_in_progress"
	ReasonDuplicateExhausted  = "duplicate_failed_exhausted"
	ReasonDuplicateSuppressed = "duplicate_suppressed"
	ReasonSequenceTooOld      = "sequence_too_old"
	ReasonSequenceGap         = "sequence_not_yet_ready"
	ReasonRetryBackoff        = "retry_backoff"
)

// AdmissionDecision is the engine's verdict for one inbound event. When ordering was
// engaged, Sequence carries the allocated or validated number and doubles as a fencing
// token for callers that merge concurrent results. DedupClaimed marks a decision that
// opened the deduplication window; a failed outcome reported through Record releases
// the claim again. RetryAfter, when set, tells the caller how long to wait before
// redelivering an event whose previous attempt failed.
type AdmissionDecision struct {
	ShouldProcess  bool            `json:"should_process"`
	Reason         string          `json:"reason"`
	ExistingResult json.RawMessage `json:"existing_result,omitempty"`
	KeyHash        string          `json:"key_hash,omitempty"`
	DedupHash      string          `json:"dedup_hash,omitempty"`
	DedupClaimed   bool            `json:"dedup_claimed,omitempty"`
	Sequence       uint64          `json:"sequence,omitempty"`
	RetryAfter     time.Duration   `json:"retry_after,omitempty"`
}

// Outcome reports the result of the business operation back to the engine.
type Outcome struct {
	Success       bool            `json:"success"`
	ResultPayload json.RawMessage `json:"result_payload,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}
