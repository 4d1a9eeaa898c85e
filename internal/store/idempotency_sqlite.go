package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

// Compile-time check that SQLiteStore implements IdempotencyRepo.
var _ IdempotencyRepo = (*SQLiteStore)(nil)

const sqliteIdempotencyColumns = `key_hash, key_value, operation_type, entity_type, entity_id, caller_id, status, attempt_count, last_attempt_at, result_payload, error_message, expires_at, created_at, updated_at`

func (s *SQLiteStore) CheckAdmission(ctx context.Context, keyHash string, now time.Time) (models.AdmissionCheck, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteIdempotencyColumns+` FROM idempotency_records WHERE key_hash = ?`, keyHash)
	rec, err := scanIdempotencyRecord(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore.CheckAdmission: no record", "keyHash", keyHash)
		return models.AdmissionCheck{State: models.AdmissionNotFound}, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.CheckAdmission failed", "error", err, "keyHash", keyHash)
		return models.AdmissionCheck{}, fmt.Errorf("admission check failed: %w", err)
	}
	check := admissionStateFor(rec, now, s.stuckTimeout, s.maxRetries)
	slog.Debug("SQLiteStore.CheckAdmission", "keyHash", keyHash, "state", check.State)
	return check, nil
}

func (s *SQLiteStore) CreateIdempotencyRecord(ctx context.Context, rec models.IdempotencyRecord, now time.Time) error {
	stuckCutoff := now.Add(-s.stuckTimeout)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_records
		   (key_hash, key_value, operation_type, entity_type, entity_id, caller_id,
		    status, attempt_count, last_attempt_at, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'processing', 0, ?, ?, ?, ?)
		 ON CONFLICT (key_hash) DO UPDATE SET
		   key_value = excluded.key_value,
		   operation_type = excluded.operation_type,
		   entity_type = excluded.entity_type,
		   entity_id = excluded.entity_id,
		   caller_id = excluded.caller_id,
		   status = 'processing',
		   attempt_count = 0,
		   last_attempt_at = excluded.last_attempt_at,
		   result_payload = NULL,
		   error_message = NULL,
		   expires_at = excluded.expires_at,
		   created_at = excluded.created_at,
		   updated_at = excluded.updated_at
		 WHERE idempotency_records.expires_at <= excluded.last_attempt_at
		    OR (idempotency_records.status = 'processing' AND idempotency_records.last_attempt_at <= ?)`,
		rec.KeyHash, rec.KeyValue, rec.OperationType, rec.EntityType, rec.EntityID,
		nilIfEmpty(rec.CallerID), now, rec.ExpiresAt, now, now, stuckCutoff,
	)
	if err != nil {
		slog.Error("SQLiteStore.CreateIdempotencyRecord failed", "error", err, "keyHash", rec.KeyHash)
		return fmt.Errorf("create idempotency record failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create idempotency rows affected check failed: %w", err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore.CreateIdempotencyRecord: conflict with live record", "keyHash", rec.KeyHash)
		return ErrAlreadyExists
	}
	slog.Debug("SQLiteStore.CreateIdempotencyRecord succeeded", "keyHash", rec.KeyHash, "operationType", rec.OperationType)
	return nil
}

func (s *SQLiteStore) BeginAttempt(ctx context.Context, keyHash string, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_records
		 SET status = 'processing', last_attempt_at = ?, error_message = NULL, updated_at = ?
		 WHERE key_hash = ? AND status = 'failed'`,
		now, now, keyHash,
	)
	if err != nil {
		slog.Error("SQLiteStore.BeginAttempt failed", "error", err, "keyHash", keyHash)
		return fmt.Errorf("begin attempt failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("begin attempt rows affected check failed: %w", err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore.BeginAttempt: record not in failed state", "keyHash", keyHash)
		return ErrAlreadyExists
	}
	slog.Debug("SQLiteStore.BeginAttempt succeeded", "keyHash", keyHash)
	return nil
}

func (s *SQLiteStore) RecordOutcome(ctx context.Context, keyHash string, success bool, resultPayload []byte, errorMessage string, now time.Time) error {
	var err error
	if success {
		_, err = s.db.ExecContext(ctx,
			`UPDATE idempotency_records
			 SET status = 'completed', result_payload = ?, error_message = NULL, updated_at = ?
			 WHERE key_hash = ?`,
			nilIfEmpty(string(resultPayload)), now, keyHash,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE idempotency_records
			 SET status = 'failed', attempt_count = attempt_count + 1, error_message = ?, updated_at = ?
			 WHERE key_hash = ?`,
			nilIfEmpty(errorMessage), now, keyHash,
		)
	}
	if err != nil {
		slog.Error("SQLiteStore.RecordOutcome failed", "error", err, "keyHash", keyHash, "success", success)
		return fmt.Errorf("record outcome failed: %w", err)
	}
	slog.Debug("SQLiteStore.RecordOutcome succeeded", "keyHash", keyHash, "success", success)
	return nil
}

func (s *SQLiteStore) GetIdempotencyRecord(ctx context.Context, keyHash string) (*models.IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteIdempotencyColumns+` FROM idempotency_records WHERE key_hash = ?`, keyHash)
	rec, err := scanIdempotencyRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetIdempotencyRecord failed", "error", err, "keyHash", keyHash)
		return nil, fmt.Errorf("get idempotency record failed: %w", err)
	}
	return &rec, nil
}
