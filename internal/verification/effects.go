package verification

import (
	"context"
	"errors"
	"time"

	"eco-challenge-rewards-go/internal/metrics"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"
	"eco-challenge-rewards-go/internal/webhook"

	"go.uber.org/zap"
)

const (
	effectTeamAggregate  = "team_aggregate"
	effectMemberActivity = "member_activity"
	effectImageHash      = "image_hash"
	effectWebhook        = "webhook"
)

// approval carries a committed approval into its follow-up effects.
type approval struct {
	record      *models.ChallengeRecord
	challenge   *models.Challenge
	points      int64
	teamScore   int64
	fingerprint *store.ImageFingerprint
	posted      *models.PointTransaction
	at          time.Time
}

type effect struct {
	name string
	run  func(context.Context, approval) error
}

// runApprovalEffects runs every effect even when an earlier one fails. None
// of them can undo the approval.
func (s *Service) runApprovalEffects(ctx context.Context, a approval) []models.EffectOutcome {
	ctx = context.WithoutCancel(ctx)

	effects := []effect{
		{effectTeamAggregate, s.creditTeamAggregate},
		{effectMemberActivity, s.recordMemberActivity},
		{effectImageHash, s.registerApprovedHash},
		{effectWebhook, s.notifyApproval},
	}

	outcomes := make([]models.EffectOutcome, 0, len(effects))
	for _, e := range effects {
		err := e.run(ctx, a)
		if err != nil {
			zap.L().Warn("Approval effect failed",
				zap.String("effect", e.name),
				zap.String("record_id", a.record.Id),
				zap.Error(err))
			metrics.ObserveEffectFailure(e.name)
		}
		outcomes = append(outcomes, models.EffectOutcome{Name: e.name, Err: err})
	}
	return outcomes
}

func (s *Service) creditTeamAggregate(ctx context.Context, a approval) error {
	points := a.points + a.teamScore
	if points == 0 && a.challenge.CarbonSaved == 0 {
		return nil
	}

	teamId := a.record.TeamId
	if teamId == "" {
		team, err := s.store.GetActiveTeamForUser(ctx, a.record.UserId)
		if err != nil {
			return err
		}
		if team == nil {
			return nil
		}
		teamId = team.Id
	}

	_, err := s.store.CreditTeam(ctx, store.TeamCreditParams{
		TeamId:      teamId,
		Points:      points,
		CarbonSaved: a.challenge.CarbonSaved,
		At:          a.at,
	})
	return err
}

func (s *Service) recordMemberActivity(ctx context.Context, a approval) error {
	return s.store.AddMemberActivity(ctx, a.record.UserId, a.challenge.CarbonSaved, a.at)
}

func (s *Service) registerApprovedHash(ctx context.Context, a approval) error {
	if a.fingerprint == nil {
		return nil
	}
	return s.duplicates.Register(ctx, hashEntry(a.record, a.fingerprint))
}

func (s *Service) notifyApproval(ctx context.Context, a approval) error {
	errApproved := s.webhook.Emit(ctx, webhook.EventChallengeApproved, webhook.ChallengeApproved{
		RecordId:         a.record.Id,
		UserId:           a.record.UserId,
		ChallengeId:      a.record.ChallengeId,
		TeamId:           a.record.TeamId,
		PointsAwarded:    a.points,
		TeamScoreAwarded: a.teamScore,
		VerifiedAt:       a.at,
	})

	var errEarned error
	if a.posted != nil {
		errEarned = s.webhook.Emit(ctx, webhook.EventPointsEarned, webhook.PointsEarned{
			UserId:        a.posted.UserId,
			TransactionId: a.posted.Id,
			Category:      string(a.posted.Category),
			Amount:        a.posted.Amount,
			BalanceAfter:  a.posted.BalanceAfter,
			Reference:     a.posted.Reference,
		})
	}
	return errors.Join(errApproved, errEarned)
}
