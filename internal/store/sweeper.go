// Package store provides the Sweeper for retention cleanup of tracking state.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

// SweepStats reports how many rows one sweep removed per category.
type SweepStats struct {
	IdempotencyExpired int `json:"idempotency_expired"`
	DedupExpired       int `json:"dedup_expired"`
	OrderingStale      int `json:"ordering_stale"`
}

// SweeperConfig configures the retention sweeper. Zero fields get defaults.
type SweeperConfig struct {
	// Interval between periodic sweeps.
	Interval time.Duration
	// BatchSize is the maximum rows deleted per statement.
	BatchSize int
	// DedupRetention is how long deduplication records are kept after last_seen_at.
	DedupRetention time.Duration
	// OrderingRetention is how long idle ordering state rows are kept.
	OrderingRetention time.Duration
}

// Default sweeper configuration values.
const (
	DefaultSweepInterval  = time.Hour
	DefaultSweepBatchSize = 500
)

// Sweeper periodically deletes expired idempotency records, aged-out deduplication
// records, and stale ordering state. Deletes run as small batches so sweeps never
// block live admission checks; it is idempotent and safe to run concurrently with
// normal traffic.
type Sweeper struct {
	repo              SweepRepo
	interval          time.Duration
	batchSize         int
	dedupRetention    time.Duration
	orderingRetention time.Duration
}

// NewSweeper creates a new Sweeper.
func NewSweeper(repo SweepRepo, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	if cfg.DedupRetention <= 0 {
		cfg.DedupRetention = models.DefaultDedupRetention
	}
	if cfg.OrderingRetention <= 0 {
		cfg.OrderingRetention = models.DefaultOrderingRetention
	}
	return &Sweeper{
		repo:              repo,
		interval:          cfg.Interval,
		batchSize:         cfg.BatchSize,
		dedupRetention:    cfg.DedupRetention,
		orderingRetention: cfg.OrderingRetention,
	}
}

// Sweep drains all three categories in batches and returns the per-category counts.
// A failure in one category aborts the sweep; counts collected so far are returned
// with the error so partial progress is visible to operators.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	var stats SweepStats

	n, err := s.drain(ctx, func(ctx context.Context) (int, error) {
		return s.repo.SweepExpiredIdempotency(ctx, now, s.batchSize)
	})
	stats.IdempotencyExpired = n
	if err != nil {
		return stats, fmt.Errorf("sweep idempotency records: %w", err)
	}

	n, err = s.drain(ctx, func(ctx context.Context) (int, error) {
		return s.repo.SweepAgedDedup(ctx, now.Add(-s.dedupRetention), s.batchSize)
	})
	stats.DedupExpired = n
	if err != nil {
		return stats, fmt.Errorf("sweep dedup records: %w", err)
	}

	n, err = s.drain(ctx, func(ctx context.Context) (int, error) {
		return s.repo.SweepStaleOrdering(ctx, now.Add(-s.orderingRetention), s.batchSize)
	})
	stats.OrderingStale = n
	if err != nil {
		return stats, fmt.Errorf("sweep ordering states: %w", err)
	}

	if stats.IdempotencyExpired+stats.DedupExpired+stats.OrderingStale > 0 {
		slog.Info("Sweeper.Sweep: removed expired tracking state",
			"idempotencyExpired", stats.IdempotencyExpired,
			"dedupExpired", stats.DedupExpired,
			"orderingStale", stats.OrderingStale)
	}
	return stats, nil
}

// drain repeats one batched delete until it comes up short or the context ends.
func (s *Sweeper) drain(ctx context.Context, deleteBatch func(context.Context) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := deleteBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batchSize {
			return total, nil
		}
	}
}

// Run starts the periodic sweep loop. It blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("Sweeper.Run: starting retention sweeper", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sweeper.Run: stopping")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, time.Now()); err != nil {
				slog.Error("Sweeper.Run: sweep failed", "error", err)
			}
		}
	}
}
