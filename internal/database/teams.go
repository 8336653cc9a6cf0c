package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanTeam(row rowScanner) (*models.Team, error) {
	var t models.Team
	var createdAt sql.NullTime
	if err := row.Scan(&t.Id, &t.Name, &t.LeaderId, &t.MaxMembers, &t.Active, &createdAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		t.CreatedAt = createdAt.Time
	}
	return &t, nil
}

// CreateTeam inserts the team, its empty aggregate and the leader's membership.
func (s *Service) CreateTeam(ctx context.Context, team models.Team) (*models.Team, error) {
	if team.Name == "" || team.LeaderId == "" {
		return nil, fmt.Errorf("team name and leader are required")
	}
	if team.Id == "" {
		team.Id = uuid.New().String()
	}
	if team.MaxMembers <= 0 {
		team.MaxMembers = 20
	}
	team.Active = true
	team.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	if err := tx.QueryRowContext(ctx, queryCountUserActiveTeams, team.LeaderId).Scan(&existing); err != nil {
		return nil, fmt.Errorf("unable to check leader membership: %w", err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrAlreadyInTeam, team.LeaderId)
	}

	if _, err := tx.ExecContext(ctx, queryInsertTeam, team.Id, team.Name, team.LeaderId, team.MaxMembers, team.Active, team.CreatedAt); err != nil {
		return nil, fmt.Errorf("unable to insert team: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryInsertTeamAggregate, team.Id, models.PeriodKey(team.CreatedAt), team.CreatedAt); err != nil {
		return nil, fmt.Errorf("unable to insert team aggregate: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryInsertTeamMember, team.Id, team.LeaderId, team.CreatedAt); err != nil {
		return nil, fmt.Errorf("unable to add team leader: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit team: %w", err)
	}

	zap.L().Info("Team created",
		zap.String("team_id", team.Id),
		zap.String("name", team.Name),
		zap.String("leader_id", team.LeaderId))
	return &team, nil
}

func (s *Service) GetTeam(ctx context.Context, teamId string) (*models.Team, error) {
	t, err := scanTeam(s.db.QueryRowContext(ctx, queryGetTeam, teamId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: team %s", store.ErrNotFound, teamId)
		}
		return nil, fmt.Errorf("unable to query team: %w", err)
	}
	return t, nil
}

// AddTeamMember enrolls a user. A user belongs to at most one active team.
func (s *Service) AddTeamMember(ctx context.Context, teamId, userId string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	team, err := scanTeam(tx.QueryRowContext(ctx, queryGetTeam, teamId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: team %s", store.ErrNotFound, teamId)
		}
		return fmt.Errorf("unable to query team: %w", err)
	}

	var current int64
	if err := tx.QueryRowContext(ctx, queryIsActiveMember, teamId, userId).Scan(&current); err != nil {
		return fmt.Errorf("unable to check membership: %w", err)
	}
	if current > 0 {
		return nil
	}

	var elsewhere int64
	if err := tx.QueryRowContext(ctx, queryCountUserActiveTeams, userId).Scan(&elsewhere); err != nil {
		return fmt.Errorf("unable to check membership: %w", err)
	}
	if elsewhere > 0 {
		return fmt.Errorf("%w: %s", store.ErrAlreadyInTeam, userId)
	}

	var members int64
	if err := tx.QueryRowContext(ctx, queryCountActiveMembers, teamId).Scan(&members); err != nil {
		return fmt.Errorf("unable to count members: %w", err)
	}
	if members >= int64(team.MaxMembers) {
		return fmt.Errorf("%w: %s has %d members", store.ErrTeamFull, teamId, members)
	}

	if _, err := tx.ExecContext(ctx, queryInsertTeamMember, teamId, userId, time.Now().UTC()); err != nil {
		return fmt.Errorf("unable to add team member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit membership: %w", err)
	}

	zap.L().Info("Team member added", zap.String("team_id", teamId), zap.String("user_id", userId))
	return nil
}

func (s *Service) IsActiveMember(ctx context.Context, teamId, userId string) (bool, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, queryIsActiveMember, teamId, userId).Scan(&n); err != nil {
		return false, fmt.Errorf("unable to check membership: %w", err)
	}
	return n > 0, nil
}

// GetActiveTeamForUser returns nil when the user has no active team.
func (s *Service) GetActiveTeamForUser(ctx context.Context, userId string) (*models.Team, error) {
	t, err := scanTeam(s.db.QueryRowContext(ctx, queryGetActiveTeamForUser, userId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query active team: %w", err)
	}
	return t, nil
}

func scanTeamAggregate(row rowScanner) (*models.TeamAggregate, error) {
	var a models.TeamAggregate
	var updatedAt sql.NullTime
	err := row.Scan(&a.TeamId, &a.TotalPoints, &a.CurrentPoints, &a.TotalCarbonSaved, &a.CurrentCarbonSaved,
		&a.PeriodKey, &a.Version, &updatedAt)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		a.UpdatedAt = updatedAt.Time
	}
	return &a, nil
}

func (s *Service) GetTeamAggregate(ctx context.Context, teamId string) (*models.TeamAggregate, error) {
	a, err := scanTeamAggregate(s.db.QueryRowContext(ctx, queryGetTeamAggregate, teamId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: team aggregate %s", store.ErrNotFound, teamId)
		}
		return nil, fmt.Errorf("unable to query team aggregate: %w", err)
	}
	if key := models.PeriodKey(time.Now().UTC()); a.PeriodKey != key {
		a.PeriodKey = key
		a.CurrentPoints = 0
		a.CurrentCarbonSaved = 0
	}
	return a, nil
}

// CreditTeam adds points and carbon to a team aggregate with optimistic locking.
func (s *Service) CreditTeam(ctx context.Context, params store.TeamCreditParams) (*models.TeamAggregate, error) {
	if params.Points < 0 || params.CarbonSaved < 0 {
		return nil, fmt.Errorf("team credit cannot be negative")
	}
	if params.At.IsZero() {
		params.At = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryInsertTeamAggregate, params.TeamId, models.PeriodKey(params.At), params.At); err != nil {
		return nil, fmt.Errorf("unable to ensure team aggregate: %w", err)
	}

	a, err := scanTeamAggregate(tx.QueryRowContext(ctx, queryGetTeamAggregate, params.TeamId))
	if err != nil {
		return nil, fmt.Errorf("unable to load team aggregate: %w", err)
	}

	if key := models.PeriodKey(params.At); a.PeriodKey != key {
		a.PeriodKey = key
		a.CurrentPoints = 0
		a.CurrentCarbonSaved = 0
	}
	a.TotalPoints += params.Points
	a.CurrentPoints += params.Points
	a.TotalCarbonSaved += params.CarbonSaved
	a.CurrentCarbonSaved += params.CarbonSaved

	result, err := tx.ExecContext(ctx, queryUpdateTeamAggregate,
		a.TotalPoints, a.CurrentPoints, a.TotalCarbonSaved, a.CurrentCarbonSaved,
		a.PeriodKey, params.At, params.TeamId, a.Version)
	if err != nil {
		return nil, fmt.Errorf("unable to update team aggregate: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("team aggregate update failed - %w", store.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit team credit: %w", err)
	}
	a.Version++
	a.UpdatedAt = params.At

	zap.L().Info("Team aggregate credited",
		zap.String("team_id", params.TeamId),
		zap.Int64("points", params.Points),
		zap.Float64("carbon_saved", params.CarbonSaved),
		zap.Int64("total_points", a.TotalPoints))
	return a, nil
}
