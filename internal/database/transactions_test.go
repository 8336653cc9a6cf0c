package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	t.Helper()
	service, err := NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	cleanup := func() {
		service.Close()
	}

	return service, cleanup
}

func earn(userId string, amount int64, reference string) ProcessTransactionParams {
	return ProcessTransactionParams{
		UserId:          userId,
		TransactionType: models.TransactionEarn,
		Category:        models.CategoryEcoChallenge,
		Amount:          amount,
		Description:     "test earn",
		Reference:       reference,
	}
}

func TestProcessTransaction_Earn(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	result, err := service.subledger.ProcessTransaction(ctx, earn("user1", 50, "ref1"))
	if err != nil {
		t.Fatalf("ProcessTransaction failed: %v", err)
	}

	if result.UserId != "user1" {
		t.Errorf("Expected userId user1, got %s", result.UserId)
	}
	if result.Amount != 50 {
		t.Errorf("Expected amount 50, got %d", result.Amount)
	}
	if result.BalanceBefore != 0 || result.BalanceAfter != 50 {
		t.Errorf("Expected balance 0 -> 50, got %d -> %d", result.BalanceBefore, result.BalanceAfter)
	}
	if result.Reference != "ref1" {
		t.Errorf("Expected reference ref1, got %q", result.Reference)
	}

	balance, err := service.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.CurrentBalance != 50 || balance.LifetimeEarned != 50 || balance.PeriodEarned != 50 {
		t.Errorf("Expected current/lifetime/period 50/50/50, got %d/%d/%d",
			balance.CurrentBalance, balance.LifetimeEarned, balance.PeriodEarned)
	}
}

func TestProcessTransaction_ConvertDebit(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.Credit(ctx, store.CreditParams{UserId: "user1", Category: models.CategoryWalking, Amount: 80}); err != nil {
		t.Fatalf("Initial credit failed: %v", err)
	}

	result, err := service.Debit(ctx, store.DebitParams{
		UserId:          "user1",
		TransactionType: models.TransactionConvert,
		Category:        models.CategoryConversion,
		Amount:          30,
	})
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if result.Amount != -30 {
		t.Errorf("Expected stored amount -30, got %d", result.Amount)
	}
	if result.BalanceAfter != 50 {
		t.Errorf("Expected balance 50, got %d", result.BalanceAfter)
	}

	balance, err := service.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.LifetimeEarned != 80 {
		t.Errorf("Debit must not reduce lifetime earned, got %d", balance.LifetimeEarned)
	}
}

func TestProcessTransaction_DuplicateHandling(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.subledger.ProcessTransaction(ctx, earn("user1", 10, "partner-tx-1")); err != nil {
		t.Fatalf("First ProcessTransaction failed: %v", err)
	}

	_, err := service.subledger.ProcessTransaction(ctx, earn("user1", 10, "partner-tx-1"))
	if err == nil {
		t.Fatalf("Expected duplicate transaction error, got nil")
	}
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate transaction error, got: %v", err)
	}

	balance, _ := service.GetBalance(ctx, "user1")
	if balance.CurrentBalance != 10 {
		t.Errorf("Duplicate must credit once, balance %d", balance.CurrentBalance)
	}
}

func TestProcessTransaction_InsufficientBalance(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.Credit(ctx, store.CreditParams{UserId: "user1", Category: models.CategoryWalking, Amount: 5}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	_, err := service.Debit(ctx, store.DebitParams{
		UserId:          "user1",
		TransactionType: models.TransactionConvert,
		Category:        models.CategoryConversion,
		Amount:          6,
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("Expected insufficient balance, got %v", err)
	}

	history, err := service.GetTransactionHistory(ctx, "user1", 10, 0)
	if err != nil {
		t.Fatalf("GetTransactionHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected only the credit in history, got %d rows", len(history))
	}
}

func TestProcessTransaction_RejectsZeroAndUnknownCategory(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.subledger.ProcessTransaction(ctx, earn("user1", 0, "")); err == nil {
		t.Error("Expected zero amount to be rejected")
	}

	params := earn("user1", 5, "")
	params.Category = "LOTTERY"
	if _, err := service.subledger.ProcessTransaction(ctx, params); err == nil {
		t.Error("Expected unknown category to be rejected")
	}
}

func TestProcessTransaction_PeriodRollover(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	january := time.Date(2025, time.January, 20, 10, 0, 0, 0, time.UTC)
	february := time.Date(2025, time.February, 2, 10, 0, 0, 0, time.UTC)

	first := earn("user1", 40, "")
	first.At = january
	if _, err := service.subledger.ProcessTransaction(ctx, first); err != nil {
		t.Fatalf("January credit failed: %v", err)
	}

	second := earn("user1", 15, "")
	second.At = february
	if _, err := service.subledger.ProcessTransaction(ctx, second); err != nil {
		t.Fatalf("February credit failed: %v", err)
	}

	balances, err := service.GetAllBalances(ctx)
	if err != nil {
		t.Fatalf("GetAllBalances failed: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("Expected 1 balance row, got %d", len(balances))
	}
	b := balances[0]
	if b.PeriodKey != "2025-02" {
		t.Errorf("Expected period 2025-02, got %s", b.PeriodKey)
	}
	if b.PeriodEarned != 15 {
		t.Errorf("Expected period earned 15 after rollover, got %d", b.PeriodEarned)
	}
	if b.LifetimeEarned != 55 {
		t.Errorf("Expected lifetime 55, got %d", b.LifetimeEarned)
	}
}

func TestGetTransactionHistory_RunningBalances(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i, amount := range []int64{10, 20, 30} {
		p := earn("user1", amount, "")
		p.At = base.Add(time.Duration(i) * time.Minute)
		if _, err := service.subledger.ProcessTransaction(ctx, p); err != nil {
			t.Fatalf("credit %d failed: %v", i, err)
		}
	}

	history, err := service.GetTransactionHistory(ctx, "user1", 10, 0)
	if err != nil {
		t.Fatalf("GetTransactionHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(history))
	}
	// newest first
	if history[0].Amount != 30 || history[0].BalanceAfter != 60 {
		t.Errorf("Unexpected newest row: %+v", history[0])
	}
	for i := 0; i < len(history)-1; i++ {
		if history[i].BalanceBefore != history[i+1].BalanceAfter {
			t.Errorf("Running balance broken between rows %d and %d", i, i+1)
		}
	}

	if err := service.ReconcileBalance(ctx, "user1"); err != nil {
		t.Errorf("ReconcileBalance failed: %v", err)
	}
}
