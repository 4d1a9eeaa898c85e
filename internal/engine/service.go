// Package engine implements the admission engine that decides, for each inbound
// provider event, whether it should be processed now, suppressed as a duplicate,
// deferred for ordering, or answered from a stored result.
//
// The engine composes three independent gates over the store layer: the
// idempotency-key lifecycle, content deduplication, and per-entity sequencing.
// All claims are made through storage-level upserts, so multiple engine processes
// can run against the same database.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight/eventgate/internal/derive"
	"github.com/finsight/eventgate/internal/models"
	"github.com/finsight/eventgate/internal/store"
)

// Service is the admission engine. All dependencies are injected; the zero value is
// not usable, construct with NewService.
type Service struct {
	idempotency store.IdempotencyRepo
	dedup       store.DedupRepo
	ordering    store.OrderingRepo
	metrics     *Metrics
	now         func() time.Time
}

// NewService creates an admission engine on the given repositories. A single
// store.Store value satisfies all three parameters.
func NewService(idempotency store.IdempotencyRepo, dedup store.DedupRepo, ordering store.OrderingRepo) *Service {
	return &Service{
		idempotency: idempotency,
		dedup:       dedup,
		ordering:    ordering,
		metrics:     NewMetrics(),
		now:         time.Now,
	}
}

// Metrics exposes the engine's decision counters.
func (s *Service) Metrics() *Metrics { return s.metrics }

// validateRequest rejects malformed requests before any store work. These are caller
// bugs and must not be retried.
func validateRequest(req models.AdmissionRequest) error {
	if req.OperationType == "" {
		return models.ErrEmptyOperationType
	}
	if req.EntityID == "" {
		return models.ErrEmptyEntityID
	}
	if req.Sequence != nil && req.Sequence.EventClass == "" {
		return models.ErrMissingEventClass
	}
	if req.DedupStrategy != "" && !models.IsValidDedupStrategy(req.DedupStrategy) {
		return fmt.Errorf("%w: %q", models.ErrInvalidDedupStrategy, req.DedupStrategy)
	}
	return nil
}

// retryableDecision is returned when a store call fails transiently. The caller keeps
// the event on its queue and redelivers; nothing was claimed, so the retry is safe.
func (s *Service) retryableDecision(op string, err error, msg string) (models.AdmissionDecision, error) {
	slog.Error("Service.Admit: "+msg, "error", err, "operationType", op)
	s.metrics.inc(op, models.ReasonRetryable)
	return models.AdmissionDecision{ShouldProcess: false, Reason: models.ReasonRetryable}, nil
}

// Admit decides whether the event described by req should be processed.
//
// The decision walks three gates in order. The idempotency read is advisory; the
// dedup gate and the final key claim are storage-level upserts, so two workers
// racing on the same content or the same key resolve in the database, not here.
// A dedup claim opened by a decision that is ultimately rejected is released
// before returning, so the event's redelivery is not suppressed by a run that
// never happened.
//
// Validation failures return a non-nil error and must not be retried. Transient
// store failures return ShouldProcess=false with Reason "retryable" and a nil
// error; the caller redelivers later.
func (s *Service) Admit(ctx context.Context, req models.AdmissionRequest) (models.AdmissionDecision, error) {
	if err := validateRequest(req); err != nil {
		slog.Debug("Service.Admit: invalid request", "error", err, "operationType", req.OperationType)
		return models.AdmissionDecision{}, err
	}
	now := s.now().UTC()

	keyValue, keyHash := s.resolveKey(req)
	decision := models.AdmissionDecision{KeyHash: keyHash}

	// Gate 1 (read): what does the idempotency store already know about this key.
	check, err := s.idempotency.CheckAdmission(ctx, keyHash, now)
	if err != nil {
		return s.retryableDecision(req.OperationType, err, "admission check failed")
	}
	switch check.State {
	case models.AdmissionDuplicateCompleted:
		decision.Reason = models.ReasonDuplicateCompleted
		decision.ExistingResult = check.Result
		s.metrics.inc(req.OperationType, decision.Reason)
		slog.Debug("Service.Admit: duplicate of completed operation", "operationType", req.OperationType, "keyHash", keyHash)
		return decision, nil
	case models.AdmissionDuplicateInProgress:
		decision.Reason = models.ReasonDuplicateInProgress
		s.metrics.inc(req.OperationType, decision.Reason)
		slog.Debug("Service.Admit: operation already in progress", "operationType", req.OperationType, "keyHash", keyHash)
		return decision, nil
	case models.AdmissionDuplicateFailedExhausted:
		decision.Reason = models.ReasonDuplicateExhausted
		s.metrics.inc(req.OperationType, decision.Reason)
		slog.Debug("Service.Admit: retry budget exhausted", "operationType", req.OperationType, "keyHash", keyHash, "attempts", check.AttemptCount)
		return decision, nil
	case models.AdmissionDuplicateFailedRetryable:
		// A failed key may retry, but not before its backoff has elapsed.
		wait := check.LastAttemptAt.Add(models.RetryBackoff(check.AttemptCount - 1)).Sub(now)
		if wait > 0 {
			decision.Reason = models.ReasonRetryBackoff
			decision.RetryAfter = wait
			s.metrics.inc(req.OperationType, decision.Reason)
			slog.Debug("Service.Admit: retry held for backoff", "operationType", req.OperationType, "keyHash", keyHash, "attempts", check.AttemptCount, "retryAfter", wait)
			return decision, nil
		}
	}

	// Gate 2: content deduplication, when a strategy is configured. The claim is a
	// storage-level upsert, so of two workers admitting identical content at once
	// exactly one observes a fresh window; under first-wins the other is suppressed
	// here even though neither has reported an outcome yet.
	if req.DedupStrategy != "" {
		decision.DedupHash = derive.DeduplicationHash(req.OperationType, req.EntityType, req.EntityID, req.EventBody)
		dup, err := s.dedup.ClaimDedup(ctx, s.dedupRecord(req, decision.DedupHash), now)
		if err != nil {
			return s.retryableDecision(req.OperationType, err, "dedup claim failed")
		}
		if dup.State == models.DedupSuppressed {
			decision.Reason = models.ReasonDuplicateSuppressed
			s.metrics.inc(req.OperationType, decision.Reason)
			slog.Debug("Service.Admit: duplicate content suppressed", "operationType", req.OperationType, "dedupHash", decision.DedupHash, "occurrences", dup.OccurrenceCount)
			return decision, nil
		}
		decision.DedupClaimed = dup.State == models.DedupNew
	}

	// Gate 3: per-entity ordering, when the event is sequence-bearing.
	if req.Sequence != nil {
		if req.Sequence.RequestedSequence == nil {
			seq, err := s.ordering.NextSequence(ctx, req.EntityType, req.EntityID, req.Sequence.EventClass, now)
			if err != nil {
				s.releaseDedup(ctx, &decision)
				return s.retryableDecision(req.OperationType, err, "sequence allocation failed")
			}
			decision.Sequence = seq
		} else {
			seq := *req.Sequence.RequestedSequence
			order, err := s.ordering.CheckOrder(ctx, req.EntityType, req.EntityID, req.Sequence.EventClass, seq)
			if errors.Is(err, models.ErrInvalidSequence) {
				s.releaseDedup(ctx, &decision)
				return models.AdmissionDecision{}, err
			}
			if err != nil {
				s.releaseDedup(ctx, &decision)
				return s.retryableDecision(req.OperationType, err, "order check failed")
			}
			switch order.State {
			case models.OrderTooOld:
				s.releaseDedup(ctx, &decision)
				decision.Reason = models.ReasonSequenceTooOld
				s.metrics.inc(req.OperationType, decision.Reason)
				slog.Debug("Service.Admit: sequence already processed", "operationType", req.OperationType, "seq", seq, "expected", order.Expected)
				return decision, nil
			case models.OrderNotYetReady:
				s.releaseDedup(ctx, &decision)
				decision.Reason = models.ReasonSequenceGap
				s.metrics.inc(req.OperationType, decision.Reason)
				slog.Debug("Service.Admit: sequence gap, hold the event", "operationType", req.OperationType, "seq", seq, "expected", order.Expected)
				return decision, nil
			}
			decision.Sequence = seq
		}
	}

	// Claim the key. This is the authoritative step: a racing worker loses here with
	// ErrAlreadyExists and is reported as in-progress.
	var claimErr error
	if check.State == models.AdmissionDuplicateFailedRetryable {
		claimErr = s.idempotency.BeginAttempt(ctx, keyHash, now)
	} else {
		claimErr = s.idempotency.CreateIdempotencyRecord(ctx, s.idempotencyRecord(req, keyValue, keyHash, now), now)
	}
	if claimErr == store.ErrAlreadyExists {
		s.releaseDedup(ctx, &decision)
		decision.Reason = models.ReasonDuplicateInProgress
		s.metrics.inc(req.OperationType, decision.Reason)
		slog.Debug("Service.Admit: lost claim race", "operationType", req.OperationType, "keyHash", keyHash)
		return decision, nil
	}
	if claimErr != nil {
		s.releaseDedup(ctx, &decision)
		return s.retryableDecision(req.OperationType, claimErr, "key claim failed")
	}

	decision.ShouldProcess = true
	decision.Reason = models.ReasonAdmitted
	s.metrics.inc(req.OperationType, decision.Reason)
	slog.Debug("Service.Admit: admitted", "operationType", req.OperationType, "keyHash", keyHash, "sequence", decision.Sequence)
	return decision, nil
}

// Record reports the outcome of the business operation admitted by a previous Admit
// call. It finalizes the idempotency record, releases the deduplication claim when
// the attempt failed, and advances the ordering watermark for sequence-bearing
// events. A non-nil error means the outcome was not durably recorded and Record
// should be called again with the same arguments.
func (s *Service) Record(ctx context.Context, req models.AdmissionRequest, decision models.AdmissionDecision, outcome models.Outcome) error {
	if decision.KeyHash == "" {
		return fmt.Errorf("record outcome: decision carries no key hash")
	}
	now := s.now().UTC()

	if err := s.idempotency.RecordOutcome(ctx, decision.KeyHash, outcome.Success, outcome.ResultPayload, outcome.ErrorMessage, now); err != nil {
		slog.Error("Service.Record: record outcome failed", "error", err, "keyHash", decision.KeyHash)
		return fmt.Errorf("record outcome: %w", err)
	}

	// The dedup window opened when Admit claimed the content hash. A failed attempt
	// drops the claim again so the event's redelivery is not suppressed as a
	// duplicate of a run that never took effect.
	if !outcome.Success && decision.DedupClaimed && decision.DedupHash != "" {
		if err := s.dedup.ReleaseDedupClaim(ctx, decision.DedupHash); err != nil {
			slog.Error("Service.Record: dedup claim release failed", "error", err, "dedupHash", decision.DedupHash)
			return fmt.Errorf("release dedup claim: %w", err)
		}
	}

	if req.Sequence != nil && decision.Sequence > 0 {
		if err := s.ordering.Advance(ctx, req.EntityType, req.EntityID, req.Sequence.EventClass, decision.Sequence, outcome.Success, outcome.ErrorMessage, req.EventID, now); err != nil {
			slog.Error("Service.Record: advance failed", "error", err, "keyHash", decision.KeyHash, "sequence", decision.Sequence)
			return fmt.Errorf("advance ordering state: %w", err)
		}
	}

	slog.Debug("Service.Record: outcome recorded", "operationType", req.OperationType, "keyHash", decision.KeyHash, "success", outcome.Success)
	return nil
}

// releaseDedup undoes a fresh dedup claim when the decision is rejected after the
// claim was made, and clears the claimed flag on the returned decision. A release
// that fails leaks at most one window of suppressed redeliveries, so it is logged
// rather than turned into an error.
func (s *Service) releaseDedup(ctx context.Context, decision *models.AdmissionDecision) {
	if !decision.DedupClaimed {
		return
	}
	decision.DedupClaimed = false
	if err := s.dedup.ReleaseDedupClaim(ctx, decision.DedupHash); err != nil {
		slog.Error("Service.Admit: dedup claim release failed", "error", err, "dedupHash", decision.DedupHash)
	}
}

// resolveKey hashes the caller-supplied idempotency key, or derives a fresh one when
// the caller sent none.
func (s *Service) resolveKey(req models.AdmissionRequest) (keyValue, keyHash string) {
	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		return *req.IdempotencyKey, derive.HashCallerKey(req.OperationType, *req.IdempotencyKey)
	}
	return derive.IdempotencyKey(req.OperationType, req.EntityType, req.EntityID, req.CallerID, nil)
}

func (s *Service) idempotencyRecord(req models.AdmissionRequest, keyValue, keyHash string, now time.Time) models.IdempotencyRecord {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = models.DefaultKeyTTL
	}
	return models.IdempotencyRecord{
		KeyHash:       keyHash,
		KeyValue:      keyValue,
		OperationType: req.OperationType,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		CallerID:      req.CallerID,
		ExpiresAt:     now.Add(ttl),
	}
}

func (s *Service) dedupRecord(req models.AdmissionRequest, dedupHash string) models.DedupRecord {
	return models.DedupRecord{
		DedupHash:         dedupHash,
		EventType:         req.OperationType,
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		Strategy:          req.DedupStrategy,
		TimeWindowSeconds: models.DefaultDedupWindowSeconds,
		OriginalEventID:   req.EventID,
	}
}
