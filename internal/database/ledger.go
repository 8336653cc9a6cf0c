package database

import (
	"context"
	"fmt"
	"time"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"
)

// Subledger convenience methods

func (s *Service) Credit(ctx context.Context, params store.CreditParams) (*models.PointTransaction, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", params.Amount)
	}
	return s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		UserId:          params.UserId,
		TransactionType: models.TransactionEarn,
		Category:        params.Category,
		Amount:          params.Amount,
		Description:     params.Description,
		Reference:       params.Reference,
		RecordId:        params.RecordId,
		At:              params.At,
	})
}

func (s *Service) Debit(ctx context.Context, params store.DebitParams) (*models.PointTransaction, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", params.Amount)
	}
	switch params.TransactionType {
	case models.TransactionSpend, models.TransactionConvert:
	case models.TransactionEarn:
		return nil, fmt.Errorf("debit cannot post an %s transaction", params.TransactionType)
	default:
		return nil, fmt.Errorf("invalid transaction type %q", params.TransactionType)
	}
	return s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		UserId:          params.UserId,
		TransactionType: params.TransactionType,
		Category:        params.Category,
		Amount:          -params.Amount,
		Description:     params.Description,
		Reference:       params.Reference,
		At:              params.At,
	})
}

func (s *Service) GetBalance(ctx context.Context, userId string) (*models.UserBalance, error) {
	return s.subledger.GetBalance(ctx, userId)
}

func (s *Service) GetAllBalances(ctx context.Context) ([]models.UserBalance, error) {
	return s.subledger.GetAllBalances(ctx)
}

func (s *Service) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.PointTransaction, error) {
	return s.subledger.GetTransactionHistory(ctx, userId, limit, offset)
}

func (s *Service) ReconcileBalance(ctx context.Context, userId string) error {
	return s.subledger.ReconcileBalance(ctx, userId)
}

func (s *Service) AddMemberActivity(ctx context.Context, userId string, carbonSaved float64, at time.Time) error {
	return s.subledger.AddMemberActivity(ctx, userId, carbonSaved, at)
}
