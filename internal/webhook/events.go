package webhook

import "time"

// ChallengeApproved is the data of a challenge.approved event.
type ChallengeApproved struct {
	RecordId         string    `json:"record_id"`
	UserId           string    `json:"user_id"`
	ChallengeId      string    `json:"challenge_id"`
	TeamId           string    `json:"team_id,omitempty"`
	PointsAwarded    int64     `json:"points_awarded"`
	TeamScoreAwarded int64     `json:"team_score_awarded"`
	VerifiedAt       time.Time `json:"verified_at"`
}

// PointsEarned is the data of a points.earned event.
type PointsEarned struct {
	UserId        string `json:"user_id"`
	TransactionId string `json:"transaction_id"`
	Category      string `json:"category"`
	Amount        int64  `json:"amount"`
	BalanceAfter  int64  `json:"balance_after"`
	Reference     string `json:"reference,omitempty"`
}
