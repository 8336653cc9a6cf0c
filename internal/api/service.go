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
	"time"

	"eco-challenge-rewards-go/internal/issuer"
	"eco-challenge-rewards-go/internal/lock"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"
	"eco-challenge-rewards-go/internal/webhook"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInsufficientBalance  = store.ErrInsufficientBalance
	ErrDuplicateTransaction = store.ErrDuplicateTransaction
	ErrBalanceMismatch      = store.ErrBalanceMismatch
	ErrConversionInProgress = errors.New("a conversion is already running for this user")
	ErrIssuanceFailed       = errors.New("external issuance failed")
	ErrConversionUnrecorded = errors.New("issued conversion could not be recorded")
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	defaultLockTTL      = 30 * time.Second
)

// LedgerDependencies are the collaborators of the points ledger.
type LedgerDependencies struct {
	Store   store.Store
	Issuer  issuer.Issuer
	Locker  lock.Locker
	Webhook webhook.Emitter
}

// LedgerService is the points ledger facade used by handlers and CLIs.
type LedgerService struct {
	store   store.Store
	issuer  issuer.Issuer
	locker  lock.Locker
	webhook webhook.Emitter
	rate    decimal.Decimal
	lockTTL time.Duration
	now     func() time.Time
}

func NewLedgerService(deps LedgerDependencies, cfg models.LedgerConfig) *LedgerService {
	if deps.Issuer == nil {
		deps.Issuer = issuer.Disabled{}
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if deps.Webhook == nil {
		deps.Webhook = webhook.Noop{}
	}
	rate := cfg.ConversionRate
	if rate.LessThanOrEqual(decimal.Zero) {
		rate = decimal.NewFromInt(1)
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &LedgerService{
		store:   deps.Store,
		issuer:  deps.Issuer,
		locker:  deps.Locker,
		webhook: deps.Webhook,
		rate:    rate,
		lockTTL: ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
