package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"
)

func TestGetBalance_NoBalance(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	balance, err := service.GetBalance(context.Background(), "user1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.CurrentBalance != 0 || balance.LifetimeEarned != 0 {
		t.Errorf("Expected zero balance, got %+v", balance)
	}
	if balance.PeriodKey != models.PeriodKey(time.Now().UTC()) {
		t.Errorf("Expected current period key, got %s", balance.PeriodKey)
	}
}

func TestReconcileBalance_DetectsMismatch(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.Credit(ctx, store.CreditParams{UserId: "user1", Category: models.CategoryDailyQuiz, Amount: 25}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := service.ReconcileBalance(ctx, "user1"); err != nil {
		t.Fatalf("Expected reconciled balance, got %v", err)
	}

	// Corrupt the cache behind the ledger's back
	if _, err := service.db.Exec(`UPDATE user_balances SET current_balance = 999 WHERE user_id = ?`, "user1"); err != nil {
		t.Fatalf("Failed to corrupt balance: %v", err)
	}

	err := service.ReconcileBalance(ctx, "user1")
	if !errors.Is(err, store.ErrBalanceMismatch) {
		t.Errorf("Expected balance mismatch, got %v", err)
	}
}

func TestAddMemberActivity(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if err := service.AddMemberActivity(ctx, "user1", 0.5, time.Time{}); err != nil {
		t.Fatalf("AddMemberActivity failed: %v", err)
	}
	if err := service.AddMemberActivity(ctx, "user1", 1.25, time.Time{}); err != nil {
		t.Fatalf("AddMemberActivity failed: %v", err)
	}

	balance, err := service.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.ActivityCount != 2 {
		t.Errorf("Expected 2 activities, got %d", balance.ActivityCount)
	}
	if balance.TotalCarbonSaved != 1.75 || balance.PeriodCarbonSaved != 1.75 {
		t.Errorf("Expected carbon 1.75, got total=%v period=%v", balance.TotalCarbonSaved, balance.PeriodCarbonSaved)
	}

	// Activity does not touch the points log
	if err := service.ReconcileBalance(ctx, "user1"); err != nil {
		t.Errorf("ReconcileBalance failed: %v", err)
	}
}
