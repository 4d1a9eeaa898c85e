package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

func TestSweepRemovesExpiredKeepsLive(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// One expired and one live idempotency record.
	expired := testIdempotencyRecord("key-expired", now.Add(-48*time.Hour))
	expired.ExpiresAt = now.Add(-24 * time.Hour)
	if err := s.CreateIdempotencyRecord(ctx, expired, now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("create expired record failed: %v", err)
	}
	live := testIdempotencyRecord("key-live", now)
	if err := s.CreateIdempotencyRecord(ctx, live, now); err != nil {
		t.Fatalf("create live record failed: %v", err)
	}

	// One aged and one recent dedup record.
	aged := testDedupRecord("hash-aged", models.DedupFirstWins)
	if _, err := s.ClaimDedup(ctx, aged, now.Add(-8*24*time.Hour)); err != nil {
		t.Fatalf("claim aged dedup failed: %v", err)
	}
	recent := testDedupRecord("hash-recent", models.DedupFirstWins)
	if _, err := s.ClaimDedup(ctx, recent, now.Add(-time.Hour)); err != nil {
		t.Fatalf("claim recent dedup failed: %v", err)
	}

	// One stale and one active ordering tuple.
	if err := s.Advance(ctx, "account", "acct-stale", "balance", 1, true, "", "evt", now.Add(-31*24*time.Hour)); err != nil {
		t.Fatalf("advance stale tuple failed: %v", err)
	}
	if err := s.Advance(ctx, "account", "acct-active", "balance", 1, true, "", "evt", now); err != nil {
		t.Fatalf("advance active tuple failed: %v", err)
	}

	sweeper := NewSweeper(s, SweeperConfig{})
	stats, err := sweeper.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if stats.IdempotencyExpired != 1 {
		t.Errorf("expected 1 expired idempotency record swept, got %d", stats.IdempotencyExpired)
	}
	if stats.DedupExpired != 1 {
		t.Errorf("expected 1 aged dedup record swept, got %d", stats.DedupExpired)
	}
	if stats.OrderingStale != 1 {
		t.Errorf("expected 1 stale ordering row swept, got %d", stats.OrderingStale)
	}

	// Live rows survive.
	if rec, err := s.GetIdempotencyRecord(ctx, "key-live"); err != nil || rec == nil {
		t.Errorf("live idempotency record lost: rec=%v err=%v", rec, err)
	}
	if rec, err := s.GetIdempotencyRecord(ctx, "key-expired"); err != nil || rec != nil {
		t.Errorf("expired idempotency record survived: rec=%v err=%v", rec, err)
	}
	if rec, err := s.GetDedupRecord(ctx, "hash-recent"); err != nil || rec == nil {
		t.Errorf("recent dedup record lost: rec=%v err=%v", rec, err)
	}
	if st, err := s.GetOrderingState(ctx, "account", "acct-active", "balance"); err != nil || st == nil {
		t.Errorf("active ordering state lost: st=%v err=%v", st, err)
	}
	if st, err := s.GetOrderingState(ctx, "account", "acct-stale", "balance"); err != nil || st != nil {
		t.Errorf("stale ordering state survived: st=%v err=%v", st, err)
	}
}

func TestSweepDrainsInBatches(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	const total = 12
	for i := 0; i < total; i++ {
		rec := testIdempotencyRecord(fmt.Sprintf("key-%d", i), now.Add(-48*time.Hour))
		rec.ExpiresAt = now.Add(-24 * time.Hour)
		if err := s.CreateIdempotencyRecord(ctx, rec, now.Add(-48*time.Hour)); err != nil {
			t.Fatalf("create record %d failed: %v", i, err)
		}
	}

	sweeper := NewSweeper(s, SweeperConfig{BatchSize: 5})
	stats, err := sweeper.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if stats.IdempotencyExpired != total {
		t.Errorf("expected %d records swept across batches, got %d", total, stats.IdempotencyExpired)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := testIdempotencyRecord("key-1", now.Add(-48*time.Hour))
	rec.ExpiresAt = now.Add(-24 * time.Hour)
	if err := s.CreateIdempotencyRecord(ctx, rec, now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("create record failed: %v", err)
	}

	sweeper := NewSweeper(s, SweeperConfig{})
	if _, err := sweeper.Sweep(ctx, now); err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	stats, err := sweeper.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if stats.IdempotencyExpired != 0 || stats.DedupExpired != 0 || stats.OrderingStale != 0 {
		t.Errorf("second sweep removed rows: %+v", stats)
	}
}

func TestSweepNeverRemovesLiveRecordsUnderLoad(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Seed expired rows for the sweeper to chew on.
	for i := 0; i < 20; i++ {
		rec := testIdempotencyRecord(fmt.Sprintf("expired-%d", i), now.Add(-48*time.Hour))
		rec.ExpiresAt = now.Add(-24 * time.Hour)
		if err := s.CreateIdempotencyRecord(ctx, rec, now.Add(-48*time.Hour)); err != nil {
			t.Fatalf("seed expired record %d failed: %v", i, err)
		}
	}

	sweeper := NewSweeper(s, SweeperConfig{BatchSize: 3})
	done := make(chan error, 1)
	go func() {
		_, err := sweeper.Sweep(ctx, now)
		done <- err
	}()

	// Live admissions interleave with the sweep.
	const live = 10
	for i := 0; i < live; i++ {
		if err := s.CreateIdempotencyRecord(ctx, testIdempotencyRecord(fmt.Sprintf("live-%d", i), now), now); err != nil {
			t.Fatalf("create live record %d failed: %v", i, err)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	for i := 0; i < live; i++ {
		rec, err := s.GetIdempotencyRecord(ctx, fmt.Sprintf("live-%d", i))
		if err != nil {
			t.Fatalf("GetIdempotencyRecord failed: %v", err)
		}
		if rec == nil {
			t.Errorf("live record live-%d was swept", i)
		}
	}
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	s := newTestSQLiteStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sweeper := NewSweeper(s, SweeperConfig{})
	if _, err := sweeper.Sweep(ctx, now); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	s := newTestSQLiteStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	sweeper := NewSweeper(s, SweeperConfig{Interval: 10 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
