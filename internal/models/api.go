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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ParticipationResult is returned after a participation is accepted
type ParticipationResult struct {
	RecordId       string             `json:"record_id"`
	ChallengeTitle string             `json:"challenge_title"`
	Status         VerificationStatus `json:"status"`
	Message        string             `json:"message"`
}

// EffectOutcome reports a non-critical side effect run after the primary commit.
// Err never changes the primary result.
type EffectOutcome struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// Failed reports whether the effect did not complete.
func (e EffectOutcome) Failed() bool { return e.Err != nil }

// VerificationResult represents the outcome of StartVerification or an admin decision
type VerificationResult struct {
	RecordId         string             `json:"record_id"`
	ChallengeTitle   string             `json:"challenge_title"`
	Status           VerificationStatus `json:"status"`
	Message          string             `json:"message"`
	Confidence       *float64           `json:"confidence,omitempty"`
	Explanation      string             `json:"explanation,omitempty"`
	DetectedItems    []string           `json:"detected_items,omitempty"`
	PointsAwarded    *int64             `json:"points_awarded,omitempty"`
	TeamScoreAwarded *int64             `json:"team_score_awarded,omitempty"`
	VerifiedAt       *time.Time         `json:"verified_at,omitempty"`
	Effects          []EffectOutcome    `json:"-"`
}

// ChallengeView is a challenge decorated with the caller's participation state
type ChallengeView struct {
	Challenge         Challenge          `json:"challenge"`
	Participated      bool               `json:"participated"`
	Status            VerificationStatus `json:"status"`
	ParticipationDate *time.Time         `json:"participation_date,omitempty"`
}

// BalanceView is the user-facing view of a UserBalance
type BalanceView struct {
	UserId         string `json:"user_id"`
	CurrentBalance int64  `json:"current_balance"`
	LifetimeEarned int64  `json:"lifetime_earned"`
	PeriodEarned   int64  `json:"period_earned"`
	PeriodKey      string `json:"period_key"`
}

// TransactionRecord represents a transaction in the user's history
type TransactionRecord struct {
	Id           string          `json:"id"`
	Type         TransactionType `json:"type"`
	Category     PointCategory   `json:"category"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Description  string          `json:"description"`
	CreatedAt    time.Time       `json:"created_at"`
}

// UserStats summarizes lifetime and monthly activity with the eco level
type UserStats struct {
	UserId            string   `json:"user_id"`
	LifetimeEarned    int64    `json:"lifetime_earned"`
	PeriodEarned      int64    `json:"period_earned"`
	TotalCarbonSaved  float64  `json:"total_carbon_saved"`
	PeriodCarbonSaved float64  `json:"period_carbon_saved"`
	ActivityCount     int64    `json:"activity_count"`
	Level             EcoLevel `json:"level"`
	NextLevel         EcoLevel `json:"next_level,omitempty"`
	PointsToNextLevel int64    `json:"points_to_next_level"`
}

// ConvertResult represents the result of converting points to the external balance
type ConvertResult struct {
	Success       bool            `json:"success"`
	UserId        string          `json:"user_id,omitempty"`
	Points        int64           `json:"points,omitempty"`
	IssuedAmount  decimal.Decimal `json:"issued_amount"`
	IssuanceRef   string          `json:"issuance_ref,omitempty"`
	NewBalance    int64           `json:"new_balance"`
	TransactionId string          `json:"transaction_id,omitempty"`
	Error         string          `json:"error,omitempty"`
}
