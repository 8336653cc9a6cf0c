package store

import (
	"context"
	"errors"
	"time"

	"eco-challenge-rewards-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrUserNotFound           = errors.New("user not found")
	ErrUserExists             = errors.New("user already exists")
	ErrNotFound               = errors.New("not found")
	ErrStateConflict          = errors.New("record state changed concurrently")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrBalanceMismatch        = errors.New("balance mismatch")
	ErrDuplicateRecord        = errors.New("record already exists for this day")
	ErrTeamFull               = errors.New("team is full")
	ErrAlreadyInTeam          = errors.New("user already belongs to an active team")
)

// CreditParams describes an EARN posting.
type CreditParams struct {
	UserId      string
	Category    models.PointCategory
	Amount      int64 // strictly positive
	Description string
	Reference   string // optional idempotency key, unique across the ledger
	RecordId    string // optional challenge record that produced the credit
	At          time.Time
}

// DebitParams describes a SPEND or CONVERT posting. Amount is positive; the
// stored row carries the negated value.
type DebitParams struct {
	UserId          string
	TransactionType models.TransactionType
	Category        models.PointCategory
	Amount          int64
	Description     string
	Reference       string
	At              time.Time
}

// TransitionParams is a compare-and-set on a record's status. The update only
// applies when the stored status is one of From.
type TransitionParams struct {
	RecordId        string
	From            []models.VerificationStatus
	To              models.VerificationStatus
	AiConfidence    *float64
	AiExplanation   *string
	AiDetectedItems []string
	ImageHash       *ImageFingerprint
	VerifiedAt      *time.Time
	At              time.Time
}

// ImageFingerprint is stored on the record so an approval can register it
// without fetching the image again.
type ImageFingerprint struct {
	Hash        string
	Size        int64
	ContentType string
}

// ApproveParams moves a record to APPROVED and, when Credit is set, posts the
// ledger EARN inside the same database transaction.
type ApproveParams struct {
	Transition       TransitionParams
	PointsAwarded    int64
	TeamScoreAwarded int64
	Credit           *CreditParams
}

// ResubmitParams replaces the evidence of a same-day record.
type ResubmitParams struct {
	RecordId  string
	From      []models.VerificationStatus
	To        models.VerificationStatus
	ImageRef  string
	StepCount *int64
	TeamId    string
	At        time.Time
}

// TeamCreditParams is an additive update on a team aggregate.
type TeamCreditParams struct {
	TeamId      string
	Points      int64
	CarbonSaved float64
	At          time.Time
}

type UserStore interface {
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, userId, name, email string) (*models.User, error)
}

type TeamStore interface {
	CreateTeam(ctx context.Context, team models.Team) (*models.Team, error)
	GetTeam(ctx context.Context, teamId string) (*models.Team, error)
	AddTeamMember(ctx context.Context, teamId, userId string) error
	IsActiveMember(ctx context.Context, teamId, userId string) (bool, error)
	GetActiveTeamForUser(ctx context.Context, userId string) (*models.Team, error)
	CreditTeam(ctx context.Context, params TeamCreditParams) (*models.TeamAggregate, error)
	GetTeamAggregate(ctx context.Context, teamId string) (*models.TeamAggregate, error)
}

type ChallengeStore interface {
	UpsertChallenge(ctx context.Context, c models.Challenge) error
	GetChallenge(ctx context.Context, challengeId string) (*models.Challenge, error)
	ListChallenges(ctx context.Context, activeOnly bool) ([]models.Challenge, error)
}

type RecordStore interface {
	CreateRecord(ctx context.Context, rec *models.ChallengeRecord) error
	GetRecord(ctx context.Context, recordId string) (*models.ChallengeRecord, error)
	FindRecordForDay(ctx context.Context, userId, challengeId, activityDate string) (*models.ChallengeRecord, error)
	LatestRecord(ctx context.Context, userId, challengeId string) (*models.ChallengeRecord, error)
	ResubmitRecord(ctx context.Context, params ResubmitParams) error
	TransitionRecord(ctx context.Context, params TransitionParams) error
	ApproveWithCredit(ctx context.Context, params ApproveParams) (*models.PointTransaction, error)
	ListRecordsByStatus(ctx context.Context, status models.VerificationStatus, limit, offset int) ([]models.ChallengeRecord, error)
	ListUserRecords(ctx context.Context, userId string, limit, offset int) ([]models.ChallengeRecord, error)
	ListTeamRecords(ctx context.Context, teamId string) ([]models.ChallengeRecord, error)
	ListStaleVerifying(ctx context.Context, updatedBefore time.Time) ([]models.ChallengeRecord, error)
}

type ImageHashStore interface {
	UserHasHash(ctx context.Context, userId, hash string) (bool, error)
	CountOtherUsersWithHash(ctx context.Context, hash, userId string) (int64, error)
	UpsertImageHash(ctx context.Context, entry models.ImageHashEntry) error
	GetImageHashStats(ctx context.Context, userId string) (*models.ImageHashStats, error)
}

type LedgerStore interface {
	Credit(ctx context.Context, params CreditParams) (*models.PointTransaction, error)
	Debit(ctx context.Context, params DebitParams) (*models.PointTransaction, error)
	GetBalance(ctx context.Context, userId string) (*models.UserBalance, error)
	GetAllBalances(ctx context.Context) ([]models.UserBalance, error)
	GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.PointTransaction, error)
	ReconcileBalance(ctx context.Context, userId string) error
	AddMemberActivity(ctx context.Context, userId string, carbonSaved float64, at time.Time) error
}

// Store is the full contract every backend must satisfy.
type Store interface {
	UserStore
	TeamStore
	ChallengeStore
	RecordStore
	ImageHashStore
	LedgerStore

	Ping(ctx context.Context) error
	Close()
}
