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

	"eco-challenge-rewards-go/internal/issuer"
	"eco-challenge-rewards-go/internal/lock"
	"eco-challenge-rewards-go/internal/metrics"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Convert turns points into the external monetary balance. The issuer is
// called first; the local CONVERT debit is written only after it succeeds.
func (s *LedgerService) Convert(ctx context.Context, userId string, points int64) (*models.ConvertResult, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if points <= 0 {
		return nil, ErrInvalidAmount
	}

	release, err := s.locker.Acquire(ctx, "convert:"+userId, s.lockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return nil, ErrConversionInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("unable to lock conversion: %w", err)
	}
	defer release()

	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}
	if balance.CurrentBalance < points {
		metrics.ObserveConversion("insufficient_balance")
		return nil, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, balance.CurrentBalance, points)
	}

	amount := decimal.NewFromInt(points).Mul(s.rate)
	key := "convert:" + uuid.New().String()
	description := fmt.Sprintf("Converted %d eco points", points)

	zap.L().Info("Processing conversion",
		zap.String("user_id", userId),
		zap.Int64("points", points),
		zap.String("amount", amount.String()),
		zap.String("idempotency_key", key))

	receipt, err := s.issuer.Issue(ctx, issuer.Request{
		UserId:         userId,
		Points:         points,
		Amount:         amount,
		Description:    description,
		IdempotencyKey: key,
	})
	if err != nil {
		zap.L().Error("Issuance failed, no points debited",
			zap.String("user_id", userId),
			zap.Int64("points", points),
			zap.Error(err))
		metrics.ObserveConversion("issuance_failed")
		return nil, fmt.Errorf("%w: %w", ErrIssuanceFailed, err)
	}

	// money has left; the debit must not be cut short by the caller
	posted, err := s.store.Debit(context.WithoutCancel(ctx), store.DebitParams{
		UserId:          userId,
		TransactionType: models.TransactionConvert,
		Category:        models.CategoryConversion,
		Amount:          points,
		Description:     description,
		Reference:       key,
		At:              s.now(),
	})
	if err != nil {
		zap.L().Error("Conversion issued but not recorded",
			zap.String("user_id", userId),
			zap.Int64("points", points),
			zap.String("amount", amount.String()),
			zap.String("issuance_ref", receipt.Reference),
			zap.Bool("fatal_inconsistency", true),
			zap.Error(err))
		metrics.ObserveFatalInconsistency()
		metrics.ObserveConversion("unrecorded")
		return nil, fmt.Errorf("%w: %w", ErrConversionUnrecorded, err)
	}

	metrics.ObserveConversion("success")
	metrics.ObservePosting(string(models.TransactionConvert), string(models.CategoryConversion))

	issued := receipt.Amount
	if issued.IsZero() {
		issued = amount
	}

	zap.L().Info("Conversion completed",
		zap.String("user_id", userId),
		zap.String("transaction_id", posted.Id),
		zap.Int64("balance_after", posted.BalanceAfter))

	return &models.ConvertResult{
		Success:       true,
		UserId:        userId,
		Points:        points,
		IssuedAmount:  issued,
		IssuanceRef:   receipt.Reference,
		NewBalance:    posted.BalanceAfter,
		TransactionId: posted.Id,
	}, nil
}
