package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that PostgresStore implements SweepRepo.
var _ SweepRepo = (*PostgresStore)(nil)

// The ctid subselects bound each delete to a small batch so cleanup never holds
// row locks long enough to stall live admission checks.

func (s *PostgresStore) SweepExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE ctid IN (
		   SELECT ctid FROM idempotency_records WHERE expires_at <= $1 LIMIT $2)`,
		now, limit,
	)
	if err != nil {
		slog.Error("PostgresStore.SweepExpiredIdempotency failed", "error", err)
		return 0, fmt.Errorf("sweep expired idempotency failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired idempotency rows affected check failed: %w", err)
	}
	slog.Debug("PostgresStore.SweepExpiredIdempotency", "deleted", n)
	return int(n), nil
}

func (s *PostgresStore) SweepAgedDedup(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_records WHERE ctid IN (
		   SELECT ctid FROM dedup_records WHERE last_seen_at <= $1 LIMIT $2)`,
		cutoff, limit,
	)
	if err != nil {
		slog.Error("PostgresStore.SweepAgedDedup failed", "error", err)
		return 0, fmt.Errorf("sweep aged dedup failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep aged dedup rows affected check failed: %w", err)
	}
	slog.Debug("PostgresStore.SweepAgedDedup", "deleted", n)
	return int(n), nil
}

func (s *PostgresStore) SweepStaleOrdering(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM ordering_states WHERE ctid IN (
		   SELECT ctid FROM ordering_states WHERE updated_at <= $1 LIMIT $2)`,
		cutoff, limit,
	)
	if err != nil {
		slog.Error("PostgresStore.SweepStaleOrdering failed", "error", err)
		return 0, fmt.Errorf("sweep stale ordering failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep stale ordering rows affected check failed: %w", err)
	}
	slog.Debug("PostgresStore.SweepStaleOrdering", "deleted", n)
	return int(n), nil
}
