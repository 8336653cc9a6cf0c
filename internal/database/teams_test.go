package database

import (
	"context"
	"errors"
	"testing"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"
)

func TestTeamMembership(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	team, err := service.CreateTeam(ctx, models.Team{Name: "Green", LeaderId: "leader", MaxMembers: 2})
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}

	ok, err := service.IsActiveMember(ctx, team.Id, "leader")
	if err != nil || !ok {
		t.Fatalf("Expected leader to be a member, got %v, %v", ok, err)
	}

	if err := service.AddTeamMember(ctx, team.Id, "member"); err != nil {
		t.Fatalf("AddTeamMember failed: %v", err)
	}
	if err := service.AddTeamMember(ctx, team.Id, "member"); err != nil {
		t.Errorf("Re-adding an existing member should be a no-op, got %v", err)
	}

	err = service.AddTeamMember(ctx, team.Id, "late")
	if !errors.Is(err, store.ErrTeamFull) {
		t.Errorf("Expected team full, got %v", err)
	}

	other, err := service.CreateTeam(ctx, models.Team{Name: "Blue", LeaderId: "other-leader"})
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	err = service.AddTeamMember(ctx, other.Id, "member")
	if !errors.Is(err, store.ErrAlreadyInTeam) {
		t.Errorf("Expected already in team, got %v", err)
	}

	active, err := service.GetActiveTeamForUser(ctx, "member")
	if err != nil || active == nil || active.Id != team.Id {
		t.Errorf("Expected active team %s, got %+v, %v", team.Id, active, err)
	}

	none, err := service.GetActiveTeamForUser(ctx, "nobody")
	if err != nil || none != nil {
		t.Errorf("Expected no team, got %+v, %v", none, err)
	}

	_, err = service.GetTeam(ctx, "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestCreditTeam_Additive(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	team, err := service.CreateTeam(ctx, models.Team{Name: "Green", LeaderId: "leader"})
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}

	if _, err := service.CreditTeam(ctx, store.TeamCreditParams{TeamId: team.Id, Points: 30, CarbonSaved: 1.5}); err != nil {
		t.Fatalf("CreditTeam failed: %v", err)
	}
	agg, err := service.CreditTeam(ctx, store.TeamCreditParams{TeamId: team.Id, Points: 20, CarbonSaved: 0.5})
	if err != nil {
		t.Fatalf("CreditTeam failed: %v", err)
	}
	if agg.TotalPoints != 50 || agg.CurrentPoints != 50 {
		t.Errorf("Expected 50 points, got total=%d current=%d", agg.TotalPoints, agg.CurrentPoints)
	}
	if agg.TotalCarbonSaved != 2.0 {
		t.Errorf("Expected 2.0 carbon, got %v", agg.TotalCarbonSaved)
	}

	stored, err := service.GetTeamAggregate(ctx, team.Id)
	if err != nil {
		t.Fatalf("GetTeamAggregate failed: %v", err)
	}
	if stored.TotalPoints != 50 || stored.Version != agg.Version {
		t.Errorf("Stored aggregate mismatch: %+v vs %+v", stored, agg)
	}

	if _, err := service.CreditTeam(ctx, store.TeamCreditParams{TeamId: team.Id, Points: -1}); err == nil {
		t.Error("Expected negative team credit to be rejected")
	}
}

func TestUsers(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user, err := service.CreateUser(ctx, "u-1", "Dana", "dana@example.com")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.Id != "u-1" {
		t.Errorf("Expected id u-1, got %s", user.Id)
	}

	if _, err := service.CreateUser(ctx, "u-2", "Dana Again", "dana@example.com"); !errors.Is(err, store.ErrUserExists) {
		t.Errorf("Expected duplicate email to fail with ErrUserExists, got %v", err)
	}

	byEmail, err := service.GetUserByEmail(ctx, "dana@example.com")
	if err != nil || byEmail.Id != "u-1" {
		t.Errorf("Expected lookup by email to return u-1, got %v, %v", byEmail, err)
	}

	_, err = service.GetUserById(ctx, "missing")
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Expected user not found, got %v", err)
	}

	users, err := service.GetUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Errorf("Expected 1 user, got %d, %v", len(users), err)
	}
}
