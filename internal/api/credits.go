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
	"strings"

	"eco-challenge-rewards-go/internal/metrics"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"
	"eco-challenge-rewards-go/internal/webhook"

	"go.uber.org/zap"
)

// CreditRequest describes points earned outside the challenge pipeline.
type CreditRequest struct {
	UserId      string
	Category    models.PointCategory
	Amount      int64
	Description string
	Reference   string
	RecordId    string
}

func (r CreditRequest) validate() error {
	if strings.TrimSpace(r.UserId) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, r.Category)
	}
	if r.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Credit appends an EARN posting. A repeated Reference fails with
// ErrDuplicateTransaction and leaves the balance unchanged.
func (s *LedgerService) Credit(ctx context.Context, req CreditRequest) (*models.TransactionRecord, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	zap.L().Info("Processing credit", append(actorFields(ctx),
		zap.String("user_id", req.UserId),
		zap.String("category", string(req.Category)),
		zap.Int64("amount", req.Amount),
		zap.String("reference", req.Reference))...)

	posted, err := s.store.Credit(ctx, store.CreditParams{
		UserId:      req.UserId,
		Category:    req.Category,
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.Reference,
		RecordId:    req.RecordId,
		At:          s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Info("Duplicate credit reference",
				zap.String("user_id", req.UserId),
				zap.String("reference", req.Reference))
		} else {
			zap.L().Error("Credit processing failed",
				zap.String("user_id", req.UserId),
				zap.Int64("amount", req.Amount),
				zap.Error(err))
		}
		return nil, err
	}
	metrics.ObservePosting(string(posted.TransactionType), string(posted.Category))

	s.syncTeamPoints(ctx, req.UserId, req.Amount)

	zap.L().Info("Credit processed",
		zap.String("user_id", req.UserId),
		zap.String("transaction_id", posted.Id),
		zap.Int64("balance_after", posted.BalanceAfter))
	return toTransactionRecord(posted), nil
}

// CreditFromPartner is the internal earn path for partner services. The
// reference is mandatory so that retried callbacks credit once.
func (s *LedgerService) CreditFromPartner(ctx context.Context, req CreditRequest) (*models.TransactionRecord, error) {
	if strings.TrimSpace(req.Reference) == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrInvalidRequest)
	}

	record, err := s.Credit(ctx, req)
	if err != nil {
		return nil, err
	}

	err = s.webhook.Emit(context.WithoutCancel(ctx), webhook.EventPointsEarned, webhook.PointsEarned{
		UserId:        req.UserId,
		TransactionId: record.Id,
		Category:      string(record.Category),
		Amount:        record.Amount,
		BalanceAfter:  record.BalanceAfter,
		Reference:     req.Reference,
	})
	if err != nil {
		zap.L().Warn("Points earned webhook failed",
			zap.String("user_id", req.UserId),
			zap.String("transaction_id", record.Id),
			zap.Error(err))
		metrics.ObserveEffectFailure("webhook")
	}
	return record, nil
}

// syncTeamPoints mirrors a personal credit onto the user's active team.
// The personal credit is already committed, so failures are only logged.
func (s *LedgerService) syncTeamPoints(ctx context.Context, userId string, amount int64) {
	ctx = context.WithoutCancel(ctx)

	team, err := s.store.GetActiveTeamForUser(ctx, userId)
	if err == nil && team == nil {
		return
	}
	if err == nil {
		_, err = s.store.CreditTeam(ctx, store.TeamCreditParams{
			TeamId: team.Id,
			Points: amount,
			At:     s.now(),
		})
	}
	if err != nil {
		zap.L().Warn("Team point sync failed", zap.String("user_id", userId), zap.Error(err))
		metrics.ObserveEffectFailure("team_aggregate")
	}
}

func toTransactionRecord(tx *models.PointTransaction) *models.TransactionRecord {
	return &models.TransactionRecord{
		Id:           tx.Id,
		Type:         tx.TransactionType,
		Category:     tx.Category,
		Amount:       tx.Amount,
		BalanceAfter: tx.BalanceAfter,
		Description:  tx.Description,
		CreatedAt:    tx.CreatedAt,
	}
}

// actorFields tags ledger logs with the caller attached by the transport layer.
func actorFields(ctx context.Context) []zap.Field {
	actor := models.GetActor(ctx)
	if actor == nil {
		return nil
	}
	return []zap.Field{
		zap.String("actor_role", actor.Role),
		zap.String("actor_id", actor.UserId),
		zap.String("request_id", actor.RequestId),
	}
}
