package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"go.uber.org/zap"
)

func scanChallenge(row rowScanner) (*models.Challenge, error) {
	var c models.Challenge
	var startAt, endAt, createdAt sql.NullTime
	err := row.Scan(&c.Id, &c.Code, &c.Title, &c.Description, &c.RewardPolicy, &c.Points, &c.TeamScore, &c.CarbonSaved,
		&startAt, &endAt, &c.TeamOnly, &c.LeaderOnly, &c.Active, &createdAt)
	if err != nil {
		return nil, err
	}
	if startAt.Valid {
		t := startAt.Time
		c.StartAt = &t
	}
	if endAt.Valid {
		t := endAt.Time
		c.EndAt = &t
	}
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	return &c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// UpsertChallenge inserts or replaces a catalog entry keyed by id
func (s *Service) UpsertChallenge(ctx context.Context, c models.Challenge) error {
	if c.Id == "" || c.Code == "" || c.Title == "" {
		return fmt.Errorf("challenge id, code and title are required")
	}
	if !c.RewardPolicy.Valid() {
		return fmt.Errorf("challenge %s: invalid reward policy %q", c.Id, c.RewardPolicy)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, queryUpsertChallenge,
		c.Id, c.Code, c.Title, c.Description, string(c.RewardPolicy), c.Points, c.TeamScore, c.CarbonSaved,
		nullTime(c.StartAt), nullTime(c.EndAt), c.TeamOnly, c.LeaderOnly, c.Active, c.CreatedAt)
	if err != nil {
		zap.L().Error("Failed to upsert challenge", zap.String("challenge_id", c.Id), zap.Error(err))
		return fmt.Errorf("unable to upsert challenge: %w", err)
	}

	zap.L().Debug("Challenge upserted", zap.String("challenge_id", c.Id), zap.String("code", c.Code))
	return nil
}

func (s *Service) GetChallenge(ctx context.Context, challengeId string) (*models.Challenge, error) {
	c, err := scanChallenge(s.db.QueryRowContext(ctx, queryGetChallenge, challengeId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: challenge %s", store.ErrNotFound, challengeId)
		}
		return nil, fmt.Errorf("unable to query challenge: %w", err)
	}
	return c, nil
}

func (s *Service) ListChallenges(ctx context.Context, activeOnly bool) ([]models.Challenge, error) {
	query := queryListChallenges
	if activeOnly {
		query = queryListActiveChallenges
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("unable to query challenges: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var challenges []models.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan challenge row: %w", err)
		}
		challenges = append(challenges, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating challenge rows: %w", err)
	}
	return challenges, nil
}
