package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

const sqliteDedupColumns = `dedup_hash, event_type, entity_type, entity_id, strategy, time_window_seconds, occurrence_count, first_seen_at, last_seen_at, original_event_id`

func (s *SQLiteStore) ClaimDedup(ctx context.Context, rec models.DedupRecord, now time.Time) (models.DedupCheck, error) {
	if err := validateDedupStrategy(rec.Strategy); err != nil {
		return models.DedupCheck{}, err
	}
	window := rec.TimeWindowSeconds
	if window <= 0 {
		window = models.DefaultDedupWindowSeconds
	}
	windowCutoff := now.Add(-time.Duration(window) * time.Second)

	// Insert-or-increment in one statement so concurrent claims of the same hash
	// serialize on the primary key instead of racing a read. The ignore strategy
	// never resets on window lapse; its row suppresses for as long as it exists.
	var occurrence int
	var originalEventID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO dedup_records
		   (dedup_hash, event_type, entity_type, entity_id, strategy,
		    time_window_seconds, occurrence_count, first_seen_at, last_seen_at, original_event_id)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT (dedup_hash) DO UPDATE SET
		   event_type = excluded.event_type,
		   entity_type = excluded.entity_type,
		   entity_id = excluded.entity_id,
		   strategy = excluded.strategy,
		   time_window_seconds = excluded.time_window_seconds,
		   occurrence_count = CASE
		     WHEN excluded.strategy != 'ignore' AND dedup_records.last_seen_at <= ? THEN 1
		     ELSE dedup_records.occurrence_count + 1 END,
		   first_seen_at = CASE
		     WHEN excluded.strategy != 'ignore' AND dedup_records.last_seen_at <= ? THEN excluded.first_seen_at
		     ELSE dedup_records.first_seen_at END,
		   last_seen_at = excluded.last_seen_at,
		   original_event_id = CASE
		     WHEN excluded.strategy != 'ignore' AND dedup_records.last_seen_at <= ? THEN excluded.original_event_id
		     WHEN excluded.strategy IN ('last_wins', 'merge') THEN excluded.original_event_id
		     ELSE dedup_records.original_event_id END
		 RETURNING occurrence_count, original_event_id`,
		rec.DedupHash, rec.EventType, rec.EntityType, rec.EntityID, string(rec.Strategy),
		window, now, now, nilIfEmpty(rec.OriginalEventID), windowCutoff, windowCutoff, windowCutoff,
	).Scan(&occurrence, &originalEventID)
	if err != nil {
		slog.Error("SQLiteStore.ClaimDedup failed", "error", err, "dedupHash", rec.DedupHash)
		return models.DedupCheck{}, fmt.Errorf("claim dedup record failed: %w", err)
	}
	check := dedupClaimState(rec.Strategy, occurrence, originalEventID.String)
	slog.Debug("SQLiteStore.ClaimDedup", "dedupHash", rec.DedupHash, "strategy", rec.Strategy,
		"state", check.State, "occurrences", check.OccurrenceCount)
	return check, nil
}

func (s *SQLiteStore) ReleaseDedupClaim(ctx context.Context, dedupHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup_records WHERE dedup_hash = ?`, dedupHash)
	if err != nil {
		slog.Error("SQLiteStore.ReleaseDedupClaim failed", "error", err, "dedupHash", dedupHash)
		return fmt.Errorf("release dedup claim failed: %w", err)
	}
	slog.Debug("SQLiteStore.ReleaseDedupClaim succeeded", "dedupHash", dedupHash)
	return nil
}

func (s *SQLiteStore) GetDedupRecord(ctx context.Context, dedupHash string) (*models.DedupRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDedupColumns+` FROM dedup_records WHERE dedup_hash = ?`, dedupHash)
	rec, err := scanDedupRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetDedupRecord failed", "error", err, "dedupHash", dedupHash)
		return nil, fmt.Errorf("get dedup record failed: %w", err)
	}
	return &rec, nil
}
