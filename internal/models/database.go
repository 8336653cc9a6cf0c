package models

import (
	"time"
)

// User represents a user in the system
type User struct {
	Id        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Team groups members who share a team score and carbon total
type Team struct {
	Id         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	LeaderId   string    `db:"leader_id" json:"leader_id"`
	MaxMembers int       `db:"max_members" json:"max_members"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Challenge is an administrator-defined activity, read-only to the pipeline
type Challenge struct {
	Id           string       `db:"id" json:"id" yaml:"id"`
	Code         string       `db:"code" json:"code" yaml:"code"`
	Title        string       `db:"title" json:"title" yaml:"title"`
	Description  string       `db:"description" json:"description" yaml:"description"`
	RewardPolicy RewardPolicy `db:"reward_policy" json:"reward_policy" yaml:"reward_policy"`
	Points       int64        `db:"points" json:"points" yaml:"points"`
	TeamScore    int64        `db:"team_score" json:"team_score" yaml:"team_score"`
	CarbonSaved  float64      `db:"carbon_saved" json:"carbon_saved" yaml:"carbon_saved"`
	StartAt      *time.Time   `db:"start_at" json:"start_at" yaml:"start_at"`
	EndAt        *time.Time   `db:"end_at" json:"end_at" yaml:"end_at"`
	TeamOnly     bool         `db:"team_only" json:"team_only" yaml:"team_only"`
	LeaderOnly   bool         `db:"leader_only" json:"leader_only" yaml:"leader_only"`
	Active       bool         `db:"active" json:"active" yaml:"active"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at" yaml:"-"`
}

// HasStarted reports whether the validity window has opened at now.
func (c *Challenge) HasStarted(now time.Time) bool {
	return c.StartAt == nil || !now.Before(*c.StartAt)
}

// IsActiveAt reports whether the challenge accepts participation at now.
// A nil bound is open.
func (c *Challenge) IsActiveAt(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.EndAt != nil && now.After(*c.EndAt) {
		return false
	}
	return true
}

// ChallengeRecord is one user's attempt at a challenge
type ChallengeRecord struct {
	Id               string             `db:"id" json:"id"`
	ChallengeId      string             `db:"challenge_id" json:"challenge_id"`
	UserId           string             `db:"user_id" json:"user_id"`
	TeamId           string             `db:"team_id" json:"team_id"`
	ImageRef         string             `db:"image_ref" json:"image_ref"`
	StepCount        *int64             `db:"step_count" json:"step_count"`
	Status           VerificationStatus `db:"status" json:"status"`
	AiConfidence     *float64           `db:"ai_confidence" json:"ai_confidence"`
	AiExplanation    string             `db:"ai_explanation" json:"ai_explanation"`
	AiDetectedItems  []string           `db:"ai_detected_items" json:"ai_detected_items"`
	ImageHash        string             `db:"image_hash" json:"image_hash"`
	ImageSize        int64              `db:"image_size" json:"image_size"`
	ImageContentType string             `db:"image_content_type" json:"image_content_type"`
	PointsAwarded    *int64             `db:"points_awarded" json:"points_awarded"`
	TeamScoreAwarded *int64             `db:"team_score_awarded" json:"team_score_awarded"`
	ParticipatedAt   time.Time          `db:"participated_at" json:"participated_at"`
	ActivityDate     string             `db:"activity_date" json:"activity_date"`
	VerifiedAt       *time.Time         `db:"verified_at" json:"verified_at"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updated_at"`
	Version          int64              `db:"version" json:"version"`
}

// ImageHashEntry indexes an approved image fingerprint for reuse detection
type ImageHashEntry struct {
	Id          string    `db:"id" json:"id"`
	RecordId    string    `db:"record_id" json:"record_id"`
	UserId      string    `db:"user_id" json:"user_id"`
	ChallengeId string    `db:"challenge_id" json:"challenge_id"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	ByteSize    int64     `db:"byte_size" json:"byte_size"`
	ContentType string    `db:"content_type" json:"content_type"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// UserBalance is the materialized cache over point_transactions (hot data)
type UserBalance struct {
	Id                string    `db:"id" json:"id"`
	UserId            string    `db:"user_id" json:"user_id"`
	CurrentBalance    int64     `db:"current_balance" json:"current_balance"`
	LifetimeEarned    int64     `db:"lifetime_earned" json:"lifetime_earned"`
	PeriodEarned      int64     `db:"period_earned" json:"period_earned"`
	PeriodKey         string    `db:"period_key" json:"period_key"`
	TotalCarbonSaved  float64   `db:"total_carbon_saved" json:"total_carbon_saved"`
	PeriodCarbonSaved float64   `db:"period_carbon_saved" json:"period_carbon_saved"`
	ActivityCount     int64     `db:"activity_count" json:"activity_count"`
	LastTransactionId string    `db:"last_transaction_id" json:"last_transaction_id"`
	Version           int64     `db:"version" json:"version"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// PointTransaction represents immutable ledger history (cold data)
type PointTransaction struct {
	Id              string          `db:"id" json:"id"`
	UserId          string          `db:"user_id" json:"user_id"`
	TransactionType TransactionType `db:"transaction_type" json:"transaction_type"`
	Category        PointCategory   `db:"category" json:"category"`
	Amount          int64           `db:"amount" json:"amount"`
	BalanceBefore   int64           `db:"balance_before" json:"balance_before"`
	BalanceAfter    int64           `db:"balance_after" json:"balance_after"`
	Description     string          `db:"description" json:"description"`
	Reference       string          `db:"reference" json:"reference"`
	RecordId        string          `db:"record_id" json:"record_id"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// TeamAggregate holds additive team totals
type TeamAggregate struct {
	TeamId             string    `db:"team_id" json:"team_id"`
	TotalPoints        int64     `db:"total_points" json:"total_points"`
	CurrentPoints      int64     `db:"current_points" json:"current_points"`
	TotalCarbonSaved   float64   `db:"total_carbon_saved" json:"total_carbon_saved"`
	CurrentCarbonSaved float64   `db:"current_carbon_saved" json:"current_carbon_saved"`
	PeriodKey          string    `db:"period_key" json:"period_key"`
	Version            int64     `db:"version" json:"version"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// ImageHashStats summarizes a user's registered fingerprints
type ImageHashStats struct {
	UserId           string     `json:"user_id"`
	TotalImages      int64      `json:"total_images"`
	RecentImageCount int        `json:"recent_image_count"`
	LastImageDate    *time.Time `json:"last_image_date,omitempty"`
}

// PeriodKey returns the monthly bucket used for current-period totals.
func PeriodKey(t time.Time) string {
	return t.Format("2006-01")
}

// ActivityDate returns the acceptance day used to bound same-day retries.
func ActivityDate(t time.Time) string {
	return t.Format("2006-01-02")
}
