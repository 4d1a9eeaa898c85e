package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that SQLiteStore implements SweepRepo.
var _ SweepRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) SweepExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE rowid IN (
		   SELECT rowid FROM idempotency_records WHERE expires_at <= ? LIMIT ?)`,
		now, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore.SweepExpiredIdempotency failed", "error", err)
		return 0, fmt.Errorf("sweep expired idempotency failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired idempotency rows affected check failed: %w", err)
	}
	slog.Debug("SQLiteStore.SweepExpiredIdempotency", "deleted", n)
	return int(n), nil
}

func (s *SQLiteStore) SweepAgedDedup(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_records WHERE rowid IN (
		   SELECT rowid FROM dedup_records WHERE last_seen_at <= ? LIMIT ?)`,
		cutoff, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore.SweepAgedDedup failed", "error", err)
		return 0, fmt.Errorf("sweep aged dedup failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep aged dedup rows affected check failed: %w", err)
	}
	slog.Debug("SQLiteStore.SweepAgedDedup", "deleted", n)
	return int(n), nil
}

func (s *SQLiteStore) SweepStaleOrdering(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM ordering_states WHERE rowid IN (
		   SELECT rowid FROM ordering_states WHERE updated_at <= ? LIMIT ?)`,
		cutoff, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore.SweepStaleOrdering failed", "error", err)
		return 0, fmt.Errorf("sweep stale ordering failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep stale ordering rows affected check failed: %w", err)
	}
	slog.Debug("SQLiteStore.SweepStaleOrdering", "deleted", n)
	return int(n), nil
}
