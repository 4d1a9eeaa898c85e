package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

// Compile-time check that SQLiteStore implements OrderingRepo.
var _ OrderingRepo = (*SQLiteStore)(nil)

const sqliteOrderingColumns = `entity_type, entity_id, event_class, current_sequence_number, last_processed_sequence, last_processed_event_id, consecutive_failures, last_failure_reason, created_at, updated_at`

func (s *SQLiteStore) NextSequence(ctx context.Context, entityType, entityID, eventClass string, now time.Time) (uint64, error) {
	// SQLite serializes writers, so the upsert-and-return is atomic. The allocated
	// number is the post-upsert counter minus one; see the Postgres implementation.
	var allocated int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO ordering_states
		   (entity_type, entity_id, event_class, current_sequence_number,
		    last_processed_sequence, consecutive_failures, created_at, updated_at)
		 VALUES (?, ?, ?, 2, 0, 0, ?, ?)
		 ON CONFLICT (entity_type, entity_id, event_class) DO UPDATE SET
		   current_sequence_number = ordering_states.current_sequence_number + 1,
		   updated_at = excluded.updated_at
		 RETURNING current_sequence_number - 1`,
		entityType, entityID, eventClass, now, now,
	).Scan(&allocated)
	if err != nil {
		slog.Error("SQLiteStore.NextSequence failed", "error", err, "entityType", entityType, "entityID", entityID, "eventClass", eventClass)
		return 0, fmt.Errorf("next sequence failed: %w", err)
	}
	slog.Debug("SQLiteStore.NextSequence", "entityType", entityType, "entityID", entityID, "eventClass", eventClass, "sequence", allocated)
	return uint64(allocated), nil
}

func (s *SQLiteStore) CheckOrder(ctx context.Context, entityType, entityID, eventClass string, seq uint64) (models.OrderCheck, error) {
	if seq == 0 {
		return models.OrderCheck{}, fmt.Errorf("%w: sequence numbers start at 1", models.ErrInvalidSequence)
	}

	var lastProcessed int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_processed_sequence FROM ordering_states
		 WHERE entity_type = ? AND entity_id = ? AND event_class = ?`,
		entityType, entityID, eventClass,
	).Scan(&lastProcessed)
	if err == sql.ErrNoRows {
		lastProcessed = 0
	} else if err != nil {
		slog.Error("SQLiteStore.CheckOrder failed", "error", err, "entityType", entityType, "entityID", entityID, "eventClass", eventClass)
		return models.OrderCheck{}, fmt.Errorf("order check failed: %w", err)
	}
	check := orderStateFor(uint64(lastProcessed), seq)
	slog.Debug("SQLiteStore.CheckOrder", "entityType", entityType, "entityID", entityID, "eventClass", eventClass, "seq", seq, "state", check.State)
	return check, nil
}

func (s *SQLiteStore) Advance(ctx context.Context, entityType, entityID, eventClass string, seq uint64, success bool, failureReason, eventID string, now time.Time) error {
	if seq == 0 {
		return fmt.Errorf("%w: sequence numbers start at 1", models.ErrInvalidSequence)
	}
	nextSeq := int64(seq) + 1

	var err error
	if success {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO ordering_states
			   (entity_type, entity_id, event_class, current_sequence_number,
			    last_processed_sequence, last_processed_event_id, consecutive_failures, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
			 ON CONFLICT (entity_type, entity_id, event_class) DO UPDATE SET
			   last_processed_sequence = MAX(ordering_states.last_processed_sequence, excluded.last_processed_sequence),
			   last_processed_event_id = CASE
			     WHEN excluded.last_processed_sequence >= ordering_states.last_processed_sequence THEN excluded.last_processed_event_id
			     ELSE ordering_states.last_processed_event_id END,
			   current_sequence_number = MAX(ordering_states.current_sequence_number, excluded.current_sequence_number),
			   consecutive_failures = 0,
			   last_failure_reason = NULL,
			   updated_at = excluded.updated_at`,
			entityType, entityID, eventClass, nextSeq, int64(seq), nilIfEmpty(eventID), now, now,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO ordering_states
			   (entity_type, entity_id, event_class, current_sequence_number,
			    last_processed_sequence, consecutive_failures, last_failure_reason, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 0, 1, ?, ?, ?)
			 ON CONFLICT (entity_type, entity_id, event_class) DO UPDATE SET
			   consecutive_failures = ordering_states.consecutive_failures + 1,
			   last_failure_reason = excluded.last_failure_reason,
			   current_sequence_number = MAX(ordering_states.current_sequence_number, excluded.current_sequence_number),
			   updated_at = excluded.updated_at`,
			entityType, entityID, eventClass, nextSeq, nilIfEmpty(failureReason), now, now,
		)
	}
	if err != nil {
		slog.Error("SQLiteStore.Advance failed", "error", err, "entityType", entityType, "entityID", entityID, "eventClass", eventClass, "seq", seq, "success", success)
		return fmt.Errorf("advance failed: %w", err)
	}
	slog.Debug("SQLiteStore.Advance succeeded", "entityType", entityType, "entityID", entityID, "eventClass", eventClass, "seq", seq, "success", success)
	return nil
}

func (s *SQLiteStore) GetOrderingState(ctx context.Context, entityType, entityID, eventClass string) (*models.OrderingState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteOrderingColumns+` FROM ordering_states
		 WHERE entity_type = ? AND entity_id = ? AND event_class = ?`,
		entityType, entityID, eventClass)
	st, err := scanOrderingState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetOrderingState failed", "error", err, "entityType", entityType, "entityID", entityID, "eventClass", eventClass)
		return nil, fmt.Errorf("get ordering state failed: %w", err)
	}
	return &st, nil
}
