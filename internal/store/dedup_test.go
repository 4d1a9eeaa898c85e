package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/finsight/eventgate/internal/models"
)

func testDedupRecord(hash string, strategy models.DedupStrategy) models.DedupRecord {
	return models.DedupRecord{
		DedupHash:         hash,
		EventType:         "balance.updated",
		EntityType:        "account",
		EntityID:          "acct-1",
		Strategy:          strategy,
		TimeWindowSeconds: 300,
		OriginalEventID:   "evt-1",
	}
}

func TestClaimDedupFirstWinsSuppresses(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	check, err := s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupFirstWins), now)
	if err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}
	if check.State != models.DedupNew {
		t.Errorf("first claim state = %q, want %q", check.State, models.DedupNew)
	}
	if check.OccurrenceCount != 1 {
		t.Errorf("first claim occurrence = %d, want 1", check.OccurrenceCount)
	}

	check, err = s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupFirstWins), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}
	if check.State != models.DedupSuppressed {
		t.Errorf("second claim state = %q, want %q", check.State, models.DedupSuppressed)
	}
	if check.OccurrenceCount != 2 {
		t.Errorf("second claim occurrence = %d, want 2", check.OccurrenceCount)
	}
	if check.OriginalEventID != "evt-1" {
		t.Errorf("OriginalEventID = %q, want evt-1", check.OriginalEventID)
	}
}

func TestClaimDedupLastWinsProcessesAgain(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupLastWins), now); err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}

	rec := testDedupRecord("hash-1", models.DedupLastWins)
	rec.OriginalEventID = "evt-2"
	check, err := s.ClaimDedup(ctx, rec, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}
	if check.State != models.DedupShouldProcess {
		t.Errorf("state = %q, want %q", check.State, models.DedupShouldProcess)
	}
	if check.OccurrenceCount != 2 {
		t.Errorf("occurrence = %d, want 2", check.OccurrenceCount)
	}
	// last_wins supersedes the original event pointer.
	if check.OriginalEventID != "evt-2" {
		t.Errorf("OriginalEventID = %q, want evt-2", check.OriginalEventID)
	}
}

func TestClaimDedupFirstWinsKeepsOriginalPointer(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupFirstWins), now); err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}
	rec := testDedupRecord("hash-1", models.DedupFirstWins)
	rec.OriginalEventID = "evt-9"
	check, err := s.ClaimDedup(ctx, rec, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}
	if check.OriginalEventID != "evt-1" {
		t.Errorf("OriginalEventID = %q, want evt-1", check.OriginalEventID)
	}
}

func TestClaimDedupIgnoreSuppressesBeyondWindow(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	check, err := s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupIgnore), now)
	if err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}
	if check.State != models.DedupNew {
		t.Errorf("first claim state = %q, want %q", check.State, models.DedupNew)
	}

	// Ignore never resets on window lapse; the row suppresses for as long as it exists.
	check, err = s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupIgnore), now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}
	if check.State != models.DedupSuppressed {
		t.Errorf("state = %q, want %q", check.State, models.DedupSuppressed)
	}
	if check.OccurrenceCount != 2 {
		t.Errorf("occurrence = %d, want 2", check.OccurrenceCount)
	}
}

func TestClaimDedupWindowExpiryResets(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupFirstWins), now); err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}

	// 301s later the 300s window has lapsed and the same hash is new again.
	afterWindow := now.Add(301 * time.Second)
	rec := testDedupRecord("hash-1", models.DedupFirstWins)
	rec.OriginalEventID = "evt-9"
	check, err := s.ClaimDedup(ctx, rec, afterWindow)
	if err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}
	if check.State != models.DedupNew {
		t.Errorf("state = %q, want %q", check.State, models.DedupNew)
	}
	if check.OccurrenceCount != 1 {
		t.Errorf("occurrence after reset = %d, want 1", check.OccurrenceCount)
	}

	stored, err := s.GetDedupRecord(ctx, "hash-1")
	if err != nil || stored == nil {
		t.Fatalf("GetDedupRecord failed: %v", err)
	}
	if !stored.FirstSeenAt.Equal(afterWindow) {
		t.Errorf("FirstSeenAt = %v, want reset to %v", stored.FirstSeenAt, afterWindow)
	}
	if stored.OriginalEventID != "evt-9" {
		t.Errorf("OriginalEventID = %q, want reset to evt-9", stored.OriginalEventID)
	}
}

func TestClaimDedupConcurrentSingleWinner(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	const workers = 10
	var wg sync.WaitGroup
	states := make([]models.DedupState, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			check, err := s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupFirstWins), now)
			states[i], errs[i] = check.State, err
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: ClaimDedup failed: %v", i, errs[i])
		}
		switch states[i] {
		case models.DedupNew:
			fresh++
		case models.DedupSuppressed:
		default:
			t.Errorf("worker %d: unexpected state %q", i, states[i])
		}
	}
	if fresh != 1 {
		t.Errorf("fresh claims = %d, want exactly 1", fresh)
	}
}

func TestReleaseDedupClaimReopensWindow(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupFirstWins), now); err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}
	if err := s.ReleaseDedupClaim(ctx, "hash-1"); err != nil {
		t.Fatalf("ReleaseDedupClaim failed: %v", err)
	}

	check, err := s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupFirstWins), now.Add(time.Second))
	if err != nil {
		t.Fatalf("ClaimDedup failed: %v", err)
	}
	if check.State != models.DedupNew {
		t.Errorf("state after release = %q, want %q", check.State, models.DedupNew)
	}

	// Releasing a hash with no record is not an error.
	if err := s.ReleaseDedupClaim(ctx, "hash-unknown"); err != nil {
		t.Errorf("ReleaseDedupClaim on absent hash failed: %v", err)
	}
}

func TestClaimDedupInvalidStrategyRejected(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.ClaimDedup(ctx, testDedupRecord("hash-1", "newest_wins"), now); err == nil {
		t.Error("expected error for unknown strategy in ClaimDedup")
	}
}

func TestClaimDedupOccurrenceCounting(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		check, err := s.ClaimDedup(ctx, testDedupRecord("hash-1", models.DedupFirstWins), now.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("ClaimDedup %d failed: %v", i, err)
		}
		if check.OccurrenceCount != i+1 {
			t.Errorf("claim %d occurrence = %d, want %d", i, check.OccurrenceCount, i+1)
		}
	}

	stored, err := s.GetDedupRecord(ctx, "hash-1")
	if err != nil || stored == nil {
		t.Fatalf("GetDedupRecord failed: %v", err)
	}
	if stored.OccurrenceCount != 5 {
		t.Errorf("OccurrenceCount = %d, want 5", stored.OccurrenceCount)
	}
	if !stored.FirstSeenAt.Equal(now) {
		t.Errorf("FirstSeenAt = %v, want %v", stored.FirstSeenAt, now)
	}
	if !stored.LastSeenAt.Equal(now.Add(4 * time.Second)) {
		t.Errorf("LastSeenAt = %v, want %v", stored.LastSeenAt, now.Add(4*time.Second))
	}
}
