package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eco-challenge-rewards-go/internal/lock"
	"eco-challenge-rewards-go/internal/metrics"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"go.uber.org/zap"
)

const (
	defaultReviewPageSize = 20
	maxReviewPageSize     = 100

	defaultRejectReason = "Rejected by administrator."
	interruptedReason   = "verification interrupted"
)

// AdminApprove credits a NEEDS_REVIEW record through the same path as an
// automated approval.
func (s *Service) AdminApprove(ctx context.Context, recordId, adminId string) (*models.VerificationResult, error) {
	rec, challenge, release, err := s.lockForReview(ctx, recordId)
	if err != nil {
		return nil, err
	}
	defer release()

	d := decision{
		status:        models.StatusApproved,
		stage:         stageAdmin,
		confidence:    rec.AiConfidence,
		explanation:   rec.AiExplanation,
		detectedItems: rec.AiDetectedItems,
		fingerprint:   storedFingerprint(rec),
	}
	result, err := s.approve(ctx, rec, challenge, d, models.StatusNeedsReview)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Record approved by admin",
		zap.String("record_id", rec.Id),
		zap.String("admin_id", adminId))
	return result, nil
}

// AdminReject closes a NEEDS_REVIEW record and keeps reason as its explanation.
func (s *Service) AdminReject(ctx context.Context, recordId, adminId, reason string) (*models.VerificationResult, error) {
	rec, challenge, release, err := s.lockForReview(ctx, recordId)
	if err != nil {
		return nil, err
	}
	defer release()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultRejectReason
	}

	d := decision{
		status:        models.StatusRejected,
		stage:         stageAdmin,
		confidence:    rec.AiConfidence,
		explanation:   reason,
		detectedItems: rec.AiDetectedItems,
	}
	result, err := s.settle(ctx, rec, challenge, d, models.StatusNeedsReview)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Record rejected by admin",
		zap.String("record_id", rec.Id),
		zap.String("admin_id", adminId),
		zap.String("reason", reason))
	return result, nil
}

func (s *Service) ListNeedsReview(ctx context.Context, limit, offset int) ([]models.ChallengeRecord, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.ListRecordsByStatus(ctx, models.StatusNeedsReview, limit, offset)
}

// lockForReview loads a record for an admin decision. The challenge window is
// not re-checked so that reviews can close after a challenge ends.
func (s *Service) lockForReview(ctx context.Context, recordId string) (*models.ChallengeRecord, *models.Challenge, func(), error) {
	rec, err := s.getRecord(ctx, recordId)
	if err != nil {
		return nil, nil, nil, err
	}
	if rec.Status != models.StatusNeedsReview {
		return nil, nil, nil, fmt.Errorf("%w: record is %s", ErrInvalidState, rec.Status)
	}

	challenge, err := s.store.GetChallenge(ctx, rec.ChallengeId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, nil, nil, err
	}

	release, err := s.locker.Acquire(ctx, recordLockKey(rec.Id), s.opts.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return nil, nil, nil, fmt.Errorf("%w: record is being processed", ErrInvalidState)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("unable to lock record: %w", err)
	}
	return rec, challenge, release, nil
}

// RecoverStale moves records stuck in VERIFYING since before cutoff to
// NEEDS_REVIEW. Records locked by a live verification are skipped.
func (s *Service) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.store.ListStaleVerifying(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range stale {
		rec := &stale[i]

		release, err := s.locker.Acquire(ctx, recordLockKey(rec.Id), s.opts.LockTTL)
		if errors.Is(err, lock.ErrLocked) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("unable to lock record %s: %w", rec.Id, err)
		}

		zero := 0.0
		reason := interruptedReason
		err = s.store.TransitionRecord(ctx, store.TransitionParams{
			RecordId:      rec.Id,
			From:          []models.VerificationStatus{models.StatusVerifying},
			To:            models.StatusNeedsReview,
			AiConfidence:  &zero,
			AiExplanation: &reason,
			At:            s.now(),
		})
		release()

		if errors.Is(err, store.ErrStateConflict) {
			continue
		}
		if err != nil {
			return recovered, err
		}

		metrics.ObserveVerification(string(models.StatusNeedsReview), stageSweeper)
		zap.L().Warn("Recovered interrupted verification",
			zap.String("record_id", rec.Id),
			zap.String("user_id", rec.UserId),
			zap.Time("stuck_since", rec.UpdatedAt))
		recovered++
	}
	return recovered, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultReviewPageSize
	}
	if limit > maxReviewPageSize {
		limit = maxReviewPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
