package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eco-challenge-rewards-go/internal/capture"
	"eco-challenge-rewards-go/internal/classifier"
	"eco-challenge-rewards-go/internal/duplicate"
	"eco-challenge-rewards-go/internal/lock"
	"eco-challenge-rewards-go/internal/metrics"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"go.uber.org/zap"
)

// Stages label which step decided the outcome.
const (
	stageNoImage    = "no_image"
	stageFetch      = "fetch"
	stageCapture    = "capture"
	stageDuplicate  = "duplicate"
	stageClassifier = "classifier"
	stageLedger     = "ledger"
	stageAdmin      = "admin"
	stageSweeper    = "sweeper"
)

// decision is the pipeline verdict before it is persisted.
type decision struct {
	status        models.VerificationStatus
	stage         string
	confidence    *float64
	explanation   string
	detectedItems []string
	fingerprint   *store.ImageFingerprint
}

func reviewDecision(stage, explanation string) decision {
	zero := 0.0
	return decision{
		status:      models.StatusNeedsReview,
		stage:       stage,
		confidence:  &zero,
		explanation: explanation,
	}
}

func recordLockKey(recordId string) string {
	return "record:" + recordId
}

func creditReference(recordId string) string {
	return "challenge-record:" + recordId
}

// StartVerification runs the validator pipeline on a PENDING or PARTICIPATED
// record owned by userId and persists the outcome. Collaborator failures land
// the record in NEEDS_REVIEW instead of failing the call.
func (s *Service) StartVerification(ctx context.Context, userId, recordId string) (*models.VerificationResult, error) {
	rec, err := s.getRecord(ctx, recordId)
	if err != nil {
		return nil, err
	}
	if rec.UserId != userId {
		return nil, ErrNotOwner
	}

	switch rec.Status {
	case models.StatusPending, models.StatusParticipated:
	case models.StatusNotParticipated, models.StatusVerifying, models.StatusApproved,
		models.StatusRejected, models.StatusNeedsReview:
		return nil, fmt.Errorf("%w: record is %s", ErrInvalidState, rec.Status)
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidState, rec.Status)
	}

	challenge, err := s.loadOpenChallenge(ctx, rec.ChallengeId, s.now())
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, recordLockKey(rec.Id), s.opts.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return nil, fmt.Errorf("%w: verification already running", ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to lock record: %w", err)
	}
	defer release()

	err = s.store.TransitionRecord(ctx, store.TransitionParams{
		RecordId: rec.Id,
		From:     []models.VerificationStatus{models.StatusPending, models.StatusParticipated},
		To:       models.StatusVerifying,
		At:       s.now(),
	})
	if errors.Is(err, store.ErrStateConflict) {
		return nil, fmt.Errorf("%w: record changed concurrently", ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}

	// the record is VERIFYING now and must reach a final state
	ctx = context.WithoutCancel(ctx)

	d := s.evaluate(ctx, rec, challenge)
	return s.finalize(ctx, rec, challenge, d, models.StatusVerifying)
}

// evaluate runs capture, duplicate and classifier stages in order and stops at
// the first stage that decides.
func (s *Service) evaluate(ctx context.Context, rec *models.ChallengeRecord, challenge *models.Challenge) decision {
	if rec.ImageRef == "" {
		return decision{status: models.StatusApproved, stage: stageNoImage}
	}

	start := time.Now()
	img, err := s.images.Get(ctx, rec.ImageRef)
	metrics.ObserveStage(stageFetch, start)
	if err != nil {
		zap.L().Warn("Unable to fetch record image",
			zap.String("record_id", rec.Id),
			zap.String("image_ref", rec.ImageRef),
			zap.Error(err))
		return reviewDecision(stageFetch, "Image could not be retrieved.")
	}

	fp := &store.ImageFingerprint{
		Hash:        duplicate.Fingerprint(img.Data),
		Size:        img.Size(),
		ContentType: img.ContentType,
	}

	start = time.Now()
	captured, err := s.validate(img.Data, rec.ParticipatedAt)
	metrics.ObserveStage(stageCapture, start)
	if err != nil {
		zap.L().Warn("Metadata validation failed", zap.String("record_id", rec.Id), zap.Error(err))
		d := reviewDecision(stageCapture, "Metadata could not be read.")
		d.fingerprint = fp
		return d
	}
	if captured.RequiresReview(s.validator.Policy()) {
		confidence := captured.Confidence
		return decision{
			status:      models.StatusNeedsReview,
			stage:       stageCapture,
			confidence:  &confidence,
			explanation: "Metadata review required: " + captured.Explanation(),
			fingerprint: fp,
		}
	}

	start = time.Now()
	dup, err := s.duplicates.Check(ctx, fp.Hash, rec.UserId, rec.ChallengeId)
	metrics.ObserveStage(stageDuplicate, start)
	if err != nil {
		zap.L().Warn("Duplicate lookup failed", zap.String("record_id", rec.Id), zap.Error(err))
		d := reviewDecision(stageDuplicate, "Duplicate check could not be completed.")
		d.fingerprint = fp
		return d
	}
	if dup.IsDuplicate() {
		confidence := dup.Confidence
		return decision{
			status:      models.StatusRejected,
			stage:       stageDuplicate,
			confidence:  &confidence,
			explanation: dup.Reason,
			fingerprint: fp,
		}
	}

	if !s.opts.RegisterHashOnApprovalOnly {
		if err := s.duplicates.Register(ctx, hashEntry(rec, fp)); err != nil {
			zap.L().Warn("Unable to register image hash", zap.String("record_id", rec.Id), zap.Error(err))
		}
	}

	start = time.Now()
	res, err := s.classifier.Classify(ctx, classifier.Request{
		Image:          img.Data,
		ContentType:    img.ContentType,
		ChallengeTitle: challenge.Title,
		ChallengeCode:  challenge.Code,
	})
	metrics.ObserveStage(stageClassifier, start)
	if err != nil || !res.Success {
		zap.L().Warn("AI classification failed", zap.String("record_id", rec.Id), zap.Error(err))
		d := reviewDecision(stageClassifier, "AI verification failed.")
		d.fingerprint = fp
		return d
	}

	confidence := res.Confidence
	return decision{
		status:        res.Verdict.Status(),
		stage:         stageClassifier,
		confidence:    &confidence,
		explanation:   res.Explanation,
		detectedItems: res.DetectedItems,
		fingerprint:   fp,
	}
}

// validate shields the pipeline from decoder panics on hostile input.
func (s *Service) validate(data []byte, participatedAt time.Time) (result capture.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metadata validation panicked: %v", r)
		}
	}()
	return s.validator.Validate(data, participatedAt, s.now()), nil
}

func (s *Service) finalize(ctx context.Context, rec *models.ChallengeRecord, challenge *models.Challenge, d decision, from models.VerificationStatus) (*models.VerificationResult, error) {
	switch d.status {
	case models.StatusApproved:
		return s.approve(ctx, rec, challenge, d, from)
	case models.StatusNeedsReview, models.StatusRejected:
		return s.settle(ctx, rec, challenge, d, from)
	case models.StatusNotParticipated, models.StatusParticipated, models.StatusPending, models.StatusVerifying:
		zap.L().Error("Pipeline produced a non-final status",
			zap.String("record_id", rec.Id),
			zap.String("status", string(d.status)))
		return s.settle(ctx, rec, challenge, reviewDecision(d.stage, "Unexpected verification outcome."), from)
	default:
		return s.settle(ctx, rec, challenge, reviewDecision(d.stage, "Unexpected verification outcome."), from)
	}
}

// settle persists a NEEDS_REVIEW or REJECTED outcome without any reward.
func (s *Service) settle(ctx context.Context, rec *models.ChallengeRecord, challenge *models.Challenge, d decision, from models.VerificationStatus) (*models.VerificationResult, error) {
	now := s.now()
	params := store.TransitionParams{
		RecordId:        rec.Id,
		From:            []models.VerificationStatus{from},
		To:              d.status,
		AiConfidence:    d.confidence,
		AiExplanation:   &d.explanation,
		AiDetectedItems: d.detectedItems,
		ImageHash:       d.fingerprint,
		At:              now,
	}
	var verifiedAt *time.Time
	if d.status == models.StatusRejected {
		verifiedAt = &now
		params.VerifiedAt = verifiedAt
	}

	err := s.store.TransitionRecord(ctx, params)
	if errors.Is(err, store.ErrStateConflict) {
		return nil, fmt.Errorf("%w: record changed concurrently", ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}

	metrics.ObserveVerification(string(d.status), d.stage)
	zap.L().Info("Verification settled",
		zap.String("record_id", rec.Id),
		zap.String("user_id", rec.UserId),
		zap.String("status", string(d.status)),
		zap.String("stage", d.stage))

	return &models.VerificationResult{
		RecordId:       rec.Id,
		ChallengeTitle: challenge.Title,
		Status:         d.status,
		Message:        outcomeMessage(d.status, d.confidence, 0, 0),
		Confidence:     d.confidence,
		Explanation:    d.explanation,
		DetectedItems:  d.detectedItems,
		VerifiedAt:     verifiedAt,
	}, nil
}

// approve commits APPROVED with its awards and ledger EARN in one transaction,
// then runs the best-effort effects.
func (s *Service) approve(ctx context.Context, rec *models.ChallengeRecord, challenge *models.Challenge, d decision, from models.VerificationStatus) (*models.VerificationResult, error) {
	points, teamScore, err := awards(challenge)
	if err != nil {
		return s.recoverApproval(ctx, rec, challenge, d, from, err)
	}

	now := s.now()
	params := store.ApproveParams{
		Transition: store.TransitionParams{
			RecordId:        rec.Id,
			From:            []models.VerificationStatus{from},
			To:              models.StatusApproved,
			AiConfidence:    d.confidence,
			AiExplanation:   &d.explanation,
			AiDetectedItems: d.detectedItems,
			ImageHash:       d.fingerprint,
			VerifiedAt:      &now,
			At:              now,
		},
		PointsAwarded:    points,
		TeamScoreAwarded: teamScore,
	}
	if points > 0 {
		params.Credit = &store.CreditParams{
			UserId:      rec.UserId,
			Category:    models.CategoryEcoChallenge,
			Amount:      points,
			Description: challenge.Title + " challenge completed",
			Reference:   creditReference(rec.Id),
			RecordId:    rec.Id,
			At:          now,
		}
	}

	posted, err := s.store.ApproveWithCredit(ctx, params)
	if errors.Is(err, store.ErrStateConflict) {
		return nil, fmt.Errorf("%w: record changed concurrently", ErrInvalidState)
	}
	if err != nil {
		return s.recoverApproval(ctx, rec, challenge, d, from, err)
	}

	metrics.ObserveVerification(string(models.StatusApproved), d.stage)
	if posted != nil {
		metrics.ObservePosting(string(models.TransactionEarn), string(models.CategoryEcoChallenge))
	}

	result := &models.VerificationResult{
		RecordId:         rec.Id,
		ChallengeTitle:   challenge.Title,
		Status:           models.StatusApproved,
		Message:          outcomeMessage(models.StatusApproved, d.confidence, points, teamScore),
		Confidence:       d.confidence,
		Explanation:      d.explanation,
		DetectedItems:    d.detectedItems,
		PointsAwarded:    &points,
		TeamScoreAwarded: &teamScore,
		VerifiedAt:       &now,
	}
	result.Effects = s.runApprovalEffects(ctx, approval{
		record:      rec,
		challenge:   challenge,
		points:      points,
		teamScore:   teamScore,
		fingerprint: d.fingerprint,
		posted:      posted,
		at:          now,
	})
	return result, nil
}

// recoverApproval parks an approval that could not be committed. Out of
// VERIFYING the record goes to NEEDS_REVIEW; an admin approval keeps its
// state and reports the error.
func (s *Service) recoverApproval(ctx context.Context, rec *models.ChallengeRecord, challenge *models.Challenge, d decision, from models.VerificationStatus, cause error) (*models.VerificationResult, error) {
	zap.L().Error("Unable to record approval",
		zap.String("record_id", rec.Id),
		zap.String("user_id", rec.UserId),
		zap.Error(cause))

	if from != models.StatusVerifying {
		return nil, cause
	}
	fallback := decision{
		status:        models.StatusNeedsReview,
		stage:         stageLedger,
		confidence:    d.confidence,
		explanation:   "Approval could not be recorded.",
		detectedItems: d.detectedItems,
		fingerprint:   d.fingerprint,
	}
	return s.settle(ctx, rec, challenge, fallback, from)
}

func awards(c *models.Challenge) (points, teamScore int64, err error) {
	switch c.RewardPolicy {
	case models.RewardPoints:
		return c.Points, 0, nil
	case models.RewardTeamScore:
		return 0, c.TeamScore, nil
	default:
		return 0, 0, fmt.Errorf("challenge %s has unknown reward policy %q", c.Id, c.RewardPolicy)
	}
}

func outcomeMessage(status models.VerificationStatus, confidence *float64, points, teamScore int64) string {
	switch status {
	case models.StatusApproved:
		reward := fmt.Sprintf("%d points awarded.", points)
		if teamScore > 0 {
			reward = fmt.Sprintf("%d team score awarded.", teamScore)
		}
		if confidence == nil {
			return "Participation confirmed. " + reward
		}
		return fmt.Sprintf("Challenge verified with %.0f%% confidence. %s", *confidence*100, reward)
	case models.StatusNeedsReview:
		return "Your submission is waiting for manual review."
	case models.StatusRejected:
		return "Verification failed. Please submit a new photo."
	case models.StatusNotParticipated, models.StatusParticipated, models.StatusPending, models.StatusVerifying:
		return string(status)
	default:
		return string(status)
	}
}

func hashEntry(rec *models.ChallengeRecord, fp *store.ImageFingerprint) models.ImageHashEntry {
	return models.ImageHashEntry{
		RecordId:    rec.Id,
		UserId:      rec.UserId,
		ChallengeId: rec.ChallengeId,
		ContentHash: fp.Hash,
		ByteSize:    fp.Size,
		ContentType: fp.ContentType,
	}
}

func storedFingerprint(rec *models.ChallengeRecord) *store.ImageFingerprint {
	if rec.ImageHash == "" {
		return nil
	}
	return &store.ImageFingerprint{
		Hash:        rec.ImageHash,
		Size:        rec.ImageSize,
		ContentType: rec.ImageContentType,
	}
}

func (s *Service) getRecord(ctx context.Context, recordId string) (*models.ChallengeRecord, error) {
	rec, err := s.store.GetRecord(ctx, recordId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
