/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"errors"
	"fmt"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"go.uber.org/zap"
)

// GetBalance returns the cached balance for a user. Users with no postings
// have a zero balance.
func (s *LedgerService) GetBalance(ctx context.Context, userId string) (*models.BalanceView, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}

	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get user balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balance: %w", err)
	}

	return &models.BalanceView{
		UserId:         userId,
		CurrentBalance: balance.CurrentBalance,
		LifetimeEarned: balance.LifetimeEarned,
		PeriodEarned:   balance.PeriodEarned,
		PeriodKey:      balance.PeriodKey,
	}, nil
}

func (s *LedgerService) ListBalances(ctx context.Context) ([]models.UserBalance, error) {
	return s.store.GetAllBalances(ctx)
}

// GetTransactionHistory returns paginated ledger rows for a user, newest first
func (s *LedgerService) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.TransactionRecord, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	transactions, err := s.store.GetTransactionHistory(ctx, userId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve transaction history: %w", err)
	}

	result := make([]models.TransactionRecord, len(transactions))
	for i := range transactions {
		result[i] = *toTransactionRecord(&transactions[i])
	}
	return result, nil
}

// GetStats summarizes activity and derives the eco level from lifetime points.
func (s *LedgerService) GetStats(ctx context.Context, userId string) (*models.UserStats, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}

	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve balance: %w", err)
	}

	level, next, missing := models.LevelFor(balance.LifetimeEarned)
	return &models.UserStats{
		UserId:            userId,
		LifetimeEarned:    balance.LifetimeEarned,
		PeriodEarned:      balance.PeriodEarned,
		TotalCarbonSaved:  balance.TotalCarbonSaved,
		PeriodCarbonSaved: balance.PeriodCarbonSaved,
		ActivityCount:     balance.ActivityCount,
		Level:             level,
		NextLevel:         next,
		PointsToNextLevel: missing,
	}, nil
}

// Reconcile checks the cached balance against the sum of the user's postings.
func (s *LedgerService) Reconcile(ctx context.Context, userId string) error {
	err := s.store.ReconcileBalance(ctx, userId)
	if errors.Is(err, store.ErrBalanceMismatch) {
		zap.L().Error("Balance mismatch detected", zap.String("user_id", userId), zap.Error(err))
	}
	return err
}
