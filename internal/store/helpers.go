package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanIdempotencyRecord scans an IdempotencyRecord from a row.
func scanIdempotencyRecord(row rowScanner) (models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	var callerID, resultPayload, errorMessage sql.NullString
	var status string
	err := row.Scan(
		&rec.KeyHash, &rec.KeyValue, &rec.OperationType, &rec.EntityType, &rec.EntityID,
		&callerID, &status, &rec.AttemptCount, &rec.LastAttemptAt,
		&resultPayload, &errorMessage, &rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Status = models.IdempotencyStatus(status)
	rec.CallerID = callerID.String
	rec.ErrorMessage = errorMessage.String
	if resultPayload.Valid {
		rec.ResultPayload = []byte(resultPayload.String)
	}
	return rec, nil
}

// scanDedupRecord scans a DedupRecord from a row.
func scanDedupRecord(row rowScanner) (models.DedupRecord, error) {
	var rec models.DedupRecord
	var originalEventID sql.NullString
	var strategy string
	err := row.Scan(
		&rec.DedupHash, &rec.EventType, &rec.EntityType, &rec.EntityID, &strategy,
		&rec.TimeWindowSeconds, &rec.OccurrenceCount, &rec.FirstSeenAt, &rec.LastSeenAt,
		&originalEventID,
	)
	if err != nil {
		return rec, err
	}
	rec.Strategy = models.DedupStrategy(strategy)
	rec.OriginalEventID = originalEventID.String
	return rec, nil
}

// scanOrderingState scans an OrderingState from a row.
func scanOrderingState(row rowScanner) (models.OrderingState, error) {
	var st models.OrderingState
	var lastEventID, lastFailureReason sql.NullString
	var current, lastProcessed int64
	err := row.Scan(
		&st.EntityType, &st.EntityID, &st.EventClass, &current, &lastProcessed,
		&lastEventID, &st.ConsecutiveFailures, &lastFailureReason,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return st, err
	}
	st.CurrentSequenceNumber = uint64(current)
	st.LastProcessedSequence = uint64(lastProcessed)
	st.LastProcessedEventID = lastEventID.String
	st.LastFailureReason = lastFailureReason.String
	return st, nil
}

// admissionStateFor classifies an idempotency record at time now. Shared by both
// backends so the state machine lives in exactly one place.
func admissionStateFor(rec models.IdempotencyRecord, now time.Time, stuckTimeout time.Duration, maxRetries int) models.AdmissionCheck {
	if !rec.ExpiresAt.After(now) {
		return models.AdmissionCheck{State: models.AdmissionNotFound}
	}

	switch rec.Status {
	case models.IdempotencyStatusCompleted:
		return models.AdmissionCheck{
			State:        models.AdmissionDuplicateCompleted,
			Result:       rec.ResultPayload,
			AttemptCount: rec.AttemptCount,
		}
	case models.IdempotencyStatusProcessing:
		if models.StuckProcessing(now, rec.LastAttemptAt, stuckTimeout) {
			return models.AdmissionCheck{State: models.AdmissionNotFound}
		}
		return models.AdmissionCheck{State: models.AdmissionDuplicateInProgress, AttemptCount: rec.AttemptCount}
	case models.IdempotencyStatusFailed:
		if rec.AttemptCount < maxRetries {
			return models.AdmissionCheck{
				State:         models.AdmissionDuplicateFailedRetryable,
				ErrorMessage:  rec.ErrorMessage,
				AttemptCount:  rec.AttemptCount,
				LastAttemptAt: rec.LastAttemptAt,
			}
		}
		return models.AdmissionCheck{
			State:         models.AdmissionDuplicateFailedExhausted,
			ErrorMessage:  rec.ErrorMessage,
			AttemptCount:  rec.AttemptCount,
			LastAttemptAt: rec.LastAttemptAt,
		}
	default:
		// Unknown status rows are treated as absent rather than wedging the key.
		return models.AdmissionCheck{State: models.AdmissionNotFound}
	}
}

// dedupClaimState classifies the outcome of a claim upsert from the row state it
// returned. An occurrence count of 1 means the claim created or reset the row, so
// the caller is first inside the window; anything higher is a duplicate and the
// strategy policy table decides what happens to it.
func dedupClaimState(strategy models.DedupStrategy, occurrence int, originalEventID string) models.DedupCheck {
	if occurrence <= 1 {
		return models.DedupCheck{
			State:           models.DedupNew,
			OccurrenceCount: occurrence,
			OriginalEventID: originalEventID,
		}
	}
	switch strategy {
	case models.DedupFirstWins, models.DedupIgnore:
		return models.DedupCheck{
			State:           models.DedupSuppressed,
			OccurrenceCount: occurrence,
			OriginalEventID: originalEventID,
		}
	default: // last_wins, merge
		return models.DedupCheck{
			State:           models.DedupShouldProcess,
			OccurrenceCount: occurrence,
			OriginalEventID: originalEventID,
		}
	}
}

// orderStateFor classifies seq against the last processed sequence.
func orderStateFor(lastProcessed, seq uint64) models.OrderCheck {
	expected := lastProcessed + 1
	switch {
	case seq == expected:
		return models.OrderCheck{State: models.OrderReady, Expected: expected}
	case seq <= lastProcessed:
		return models.OrderCheck{State: models.OrderTooOld, Expected: expected}
	default:
		return models.OrderCheck{State: models.OrderNotYetReady, Expected: expected}
	}
}

// validateDedupStrategy returns a descriptive error for unknown strategies.
func validateDedupStrategy(strategy models.DedupStrategy) error {
	if !models.IsValidDedupStrategy(strategy) {
		return fmt.Errorf("%w: %q", models.ErrInvalidDedupStrategy, strategy)
	}
	return nil
}
