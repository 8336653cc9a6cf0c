package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eco-challenge-rewards-go/internal/capture"
	"eco-challenge-rewards-go/internal/classifier"
	"eco-challenge-rewards-go/internal/duplicate"
	"eco-challenge-rewards-go/internal/imagestore"
	"eco-challenge-rewards-go/internal/lock"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"
	"eco-challenge-rewards-go/internal/webhook"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultLockTTL = 30 * time.Second

// Options holds the tunable parts of the orchestrator.
type Options struct {
	LockTTL                    time.Duration
	RegisterHashOnApprovalOnly bool
}

// Dependencies are the collaborators the orchestrator sequences.
type Dependencies struct {
	Store      store.Store
	Images     imagestore.Store
	Validator  *capture.Validator
	Duplicates *duplicate.Detector
	Classifier classifier.Classifier
	Locker     lock.Locker
	Webhook    webhook.Emitter
}

// Service drives challenge records through participation, automated
// verification and admin review.
type Service struct {
	store      store.Store
	images     imagestore.Store
	validator  *capture.Validator
	duplicates *duplicate.Detector
	classifier classifier.Classifier
	locker     lock.Locker
	webhook    webhook.Emitter
	opts       Options
	now        func() time.Time
}

func NewService(deps Dependencies, opts Options) *Service {
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if deps.Webhook == nil {
		deps.Webhook = webhook.Noop{}
	}
	if deps.Validator == nil {
		deps.Validator = capture.NewValidator(capture.DefaultPolicy())
	}
	if deps.Duplicates == nil {
		deps.Duplicates = duplicate.NewDetector(deps.Store)
	}
	return &Service{
		store:      deps.Store,
		images:     deps.Images,
		validator:  deps.Validator,
		duplicates: deps.Duplicates,
		classifier: deps.Classifier,
		locker:     deps.Locker,
		webhook:    deps.Webhook,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// UploadedImage is raw image content sent with a participation.
type UploadedImage struct {
	Data        []byte
	ContentType string
}

type ParticipateRequest struct {
	UserId      string
	ChallengeId string
	ImageRef    string
	Image       *UploadedImage
	StepCount   *int64
	TeamId      string
}

// Participate validates the challenge window and team rules, then finds or
// creates today's record. A record with an image waits in PENDING for
// verification; one without waits in PARTICIPATED.
func (s *Service) Participate(ctx context.Context, req ParticipateRequest) (*models.ParticipationResult, error) {
	if req.UserId == "" || req.ChallengeId == "" {
		return nil, fmt.Errorf("%w: user and challenge are required", ErrInvalidRequest)
	}
	if req.StepCount != nil && *req.StepCount < 0 {
		return nil, fmt.Errorf("%w: step count cannot be negative", ErrInvalidRequest)
	}

	now := s.now()
	challenge, err := s.loadOpenChallenge(ctx, req.ChallengeId, now)
	if err != nil {
		return nil, err
	}

	teamId, err := s.resolveTeam(ctx, challenge, req.UserId, req.TeamId)
	if err != nil {
		return nil, err
	}

	imageRef := strings.TrimSpace(req.ImageRef)
	if req.Image != nil {
		key := fmt.Sprintf("records/%s/%s/%s", req.UserId, req.ChallengeId, uuid.New().String())
		imageRef, err = s.images.Put(ctx, key, req.Image.ContentType, req.Image.Data)
		if err != nil {
			return nil, fmt.Errorf("unable to store image: %w", err)
		}
	}

	status := models.StatusParticipated
	if imageRef != "" {
		status = models.StatusPending
	}

	recordId, err := s.upsertTodayRecord(ctx, req, teamId, imageRef, status, now)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Participation accepted",
		zap.String("record_id", recordId),
		zap.String("user_id", req.UserId),
		zap.String("challenge_id", req.ChallengeId),
		zap.String("status", string(status)))

	return &models.ParticipationResult{
		RecordId:       recordId,
		ChallengeTitle: challenge.Title,
		Status:         status,
		Message:        participationMessage(status),
	}, nil
}

func (s *Service) upsertTodayRecord(ctx context.Context, req ParticipateRequest, teamId, imageRef string, status models.VerificationStatus, now time.Time) (string, error) {
	day := models.ActivityDate(now)

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.store.FindRecordForDay(ctx, req.UserId, req.ChallengeId, day)
		if err != nil {
			return "", err
		}

		if existing == nil {
			rec := &models.ChallengeRecord{
				ChallengeId:    req.ChallengeId,
				UserId:         req.UserId,
				TeamId:         teamId,
				ImageRef:       imageRef,
				StepCount:      req.StepCount,
				Status:         status,
				ParticipatedAt: now,
				ActivityDate:   day,
			}
			err := s.store.CreateRecord(ctx, rec)
			if errors.Is(err, store.ErrDuplicateRecord) {
				// lost a same-day race; resubmit over the winner
				continue
			}
			if err != nil {
				return "", err
			}
			return rec.Id, nil
		}

		switch existing.Status {
		case models.StatusApproved, models.StatusNeedsReview:
			return "", ErrAlreadyParticipatedToday
		case models.StatusVerifying:
			return "", fmt.Errorf("%w: verification in progress", ErrInvalidState)
		case models.StatusPending, models.StatusParticipated, models.StatusRejected:
			err := s.store.ResubmitRecord(ctx, store.ResubmitParams{
				RecordId:  existing.Id,
				From:      []models.VerificationStatus{existing.Status},
				To:        status,
				ImageRef:  imageRef,
				StepCount: req.StepCount,
				TeamId:    teamId,
				At:        now,
			})
			if errors.Is(err, store.ErrStateConflict) {
				return "", fmt.Errorf("%w: record changed concurrently", ErrInvalidState)
			}
			if err != nil {
				return "", err
			}
			return existing.Id, nil
		case models.StatusNotParticipated:
			return "", fmt.Errorf("stored record %s has placeholder status %s", existing.Id, existing.Status)
		default:
			return "", fmt.Errorf("stored record %s has unknown status %q", existing.Id, existing.Status)
		}
	}
	return "", fmt.Errorf("%w: concurrent participation", ErrInvalidState)
}

// loadOpenChallenge enforces the validity window. It runs at participation
// and again at verification.
func (s *Service) loadOpenChallenge(ctx context.Context, challengeId string, now time.Time) (*models.Challenge, error) {
	challenge, err := s.store.GetChallenge(ctx, challengeId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	if !challenge.IsActiveAt(now) {
		return nil, ErrChallengeNotActive
	}
	if !challenge.HasStarted(now) {
		return nil, ErrChallengeNotStarted
	}
	return challenge, nil
}

// resolveTeam checks team rules and returns the team the record belongs to.
func (s *Service) resolveTeam(ctx context.Context, challenge *models.Challenge, userId, teamId string) (string, error) {
	needsTeam := challenge.TeamOnly || challenge.LeaderOnly || challenge.RewardPolicy == models.RewardTeamScore

	if teamId == "" {
		if !needsTeam {
			return "", nil
		}
		team, err := s.store.GetActiveTeamForUser(ctx, userId)
		if err != nil {
			return "", err
		}
		if team == nil {
			return "", ErrNotTeamMember
		}
		teamId = team.Id
	}

	team, err := s.store.GetTeam(ctx, teamId)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrTeamNotFound
	}
	if err != nil {
		return "", err
	}

	member, err := s.store.IsActiveMember(ctx, team.Id, userId)
	if err != nil {
		return "", err
	}
	if !member {
		return "", ErrNotTeamMember
	}
	if challenge.LeaderOnly && team.LeaderId != userId {
		return "", ErrNotTeamLeader
	}
	return team.Id, nil
}

func participationMessage(status models.VerificationStatus) string {
	switch status {
	case models.StatusPending:
		return "Photo uploaded. Start verification to have it checked."
	case models.StatusParticipated:
		return "Participation recorded. Start verification to complete the challenge."
	default:
		return string(status)
	}
}
