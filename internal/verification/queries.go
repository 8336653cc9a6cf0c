package verification

import (
	"context"
	"errors"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"
)

// ListActiveChallenges returns the challenges open now, each with the
// caller's latest participation state.
func (s *Service) ListActiveChallenges(ctx context.Context, userId string) ([]models.ChallengeView, error) {
	challenges, err := s.store.ListChallenges(ctx, true)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]models.ChallengeView, 0, len(challenges))
	for i := range challenges {
		c := &challenges[i]
		if !c.IsActiveAt(now) || !c.HasStarted(now) {
			continue
		}
		view, err := s.challengeView(ctx, userId, c)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

func (s *Service) GetChallengeDetail(ctx context.Context, userId, challengeId string) (*models.ChallengeView, error) {
	challenge, err := s.store.GetChallenge(ctx, challengeId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.challengeView(ctx, userId, challenge)
}

func (s *Service) challengeView(ctx context.Context, userId string, c *models.Challenge) (*models.ChallengeView, error) {
	view := &models.ChallengeView{
		Challenge: *c,
		Status:    models.StatusNotParticipated,
	}

	rec, err := s.store.LatestRecord(ctx, userId, c.Id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return view, nil
	}

	view.Participated = true
	view.Status = rec.Status
	if rec.Status == models.StatusApproved || rec.Status == models.StatusRejected {
		view.ParticipationDate = rec.VerifiedAt
	}
	return view, nil
}

// ListHistory pages through the caller's records, newest first.
func (s *Service) ListHistory(ctx context.Context, userId string, limit, offset int) ([]models.ChallengeRecord, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.ListUserRecords(ctx, userId, limit, offset)
}

// ListTeamParticipations returns every record filed under a team. Only
// active members may read it.
func (s *Service) ListTeamParticipations(ctx context.Context, userId, teamId string) ([]models.ChallengeRecord, error) {
	team, err := s.memberTeam(ctx, userId, teamId)
	if err != nil {
		return nil, err
	}
	return s.store.ListTeamRecords(ctx, team.Id)
}

// TeamOverview is a team with its aggregate totals. Aggregate is nil until
// the team is first credited.
type TeamOverview struct {
	Team      models.Team           `json:"team"`
	Aggregate *models.TeamAggregate `json:"aggregate,omitempty"`
}

func (s *Service) GetTeamOverview(ctx context.Context, userId, teamId string) (*TeamOverview, error) {
	team, err := s.memberTeam(ctx, userId, teamId)
	if err != nil {
		return nil, err
	}

	aggregate, err := s.store.GetTeamAggregate(ctx, team.Id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return &TeamOverview{Team: *team, Aggregate: aggregate}, nil
}

func (s *Service) ImageHashStats(ctx context.Context, userId string) (*models.ImageHashStats, error) {
	return s.duplicates.Stats(ctx, userId)
}

func (s *Service) memberTeam(ctx context.Context, userId, teamId string) (*models.Team, error) {
	team, err := s.store.GetTeam(ctx, teamId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, err
	}

	member, err := s.store.IsActiveMember(ctx, team.Id, userId)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotTeamMember
	}
	return team, nil
}
