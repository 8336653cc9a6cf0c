package models

import "fmt"

// VerificationStatus is the lifecycle state of a challenge record.
type VerificationStatus string

const (
	StatusNotParticipated VerificationStatus = "NOT_PARTICIPATED"
	StatusParticipated    VerificationStatus = "PARTICIPATED"
	StatusPending         VerificationStatus = "PENDING"
	StatusVerifying       VerificationStatus = "VERIFYING"
	StatusApproved        VerificationStatus = "APPROVED"
	StatusRejected        VerificationStatus = "REJECTED"
	StatusNeedsReview     VerificationStatus = "NEEDS_REVIEW"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusNotParticipated, StatusParticipated, StatusPending, StatusVerifying,
		StatusApproved, StatusRejected, StatusNeedsReview:
		return true
	default:
		return false
	}
}

// Terminal reports whether no automated transition may leave s.
func (s VerificationStatus) Terminal() bool {
	switch s {
	case StatusApproved:
		return true
	case StatusNotParticipated, StatusParticipated, StatusPending, StatusVerifying,
		StatusRejected, StatusNeedsReview:
		return false
	default:
		return false
	}
}

func ParseVerificationStatus(s string) (VerificationStatus, error) {
	v := VerificationStatus(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown verification status %q", s)
	}
	return v, nil
}

// Verdict is the three-way outcome of automated image classification.
type Verdict string

const (
	VerdictApproved    Verdict = "APPROVED"
	VerdictNeedsReview Verdict = "NEEDS_REVIEW"
	VerdictRejected    Verdict = "REJECTED"
)

func (v Verdict) Valid() bool {
	switch v {
	case VerdictApproved, VerdictNeedsReview, VerdictRejected:
		return true
	default:
		return false
	}
}

func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown verdict %q", s)
	}
	return v, nil
}

// Status maps a verdict onto the record state it produces.
func (v Verdict) Status() VerificationStatus {
	switch v {
	case VerdictApproved:
		return StatusApproved
	case VerdictNeedsReview:
		return StatusNeedsReview
	case VerdictRejected:
		return StatusRejected
	default:
		panic(fmt.Sprintf("unhandled verdict %q", string(v)))
	}
}

// RewardPolicy decides whether an approval pays the member or the team.
type RewardPolicy string

const (
	RewardPoints    RewardPolicy = "POINTS"
	RewardTeamScore RewardPolicy = "TEAM_SCORE"
)

func (p RewardPolicy) Valid() bool {
	switch p {
	case RewardPoints, RewardTeamScore:
		return true
	default:
		return false
	}
}

func ParseRewardPolicy(s string) (RewardPolicy, error) {
	p := RewardPolicy(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown reward policy %q", s)
	}
	return p, nil
}

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TransactionEarn    TransactionType = "EARN"
	TransactionSpend   TransactionType = "SPEND"
	TransactionConvert TransactionType = "CONVERT"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionEarn, TransactionSpend, TransactionConvert:
		return true
	default:
		return false
	}
}

// PointCategory is the business reason behind a ledger row.
type PointCategory string

const (
	CategoryDailyQuiz           PointCategory = "DAILY_QUIZ"
	CategoryWalking             PointCategory = "WALKING"
	CategoryElectronicReceipt   PointCategory = "ELECTRONIC_RECEIPT"
	CategoryEcoChallenge        PointCategory = "ECO_CHALLENGE"
	CategoryEcoMerchant         PointCategory = "ECO_MERCHANT"
	CategoryConversion          PointCategory = "CONVERSION"
	CategoryEnvironmentDonation PointCategory = "ENVIRONMENT_DONATION"
)

func (c PointCategory) Valid() bool {
	switch c {
	case CategoryDailyQuiz, CategoryWalking, CategoryElectronicReceipt, CategoryEcoChallenge,
		CategoryEcoMerchant, CategoryConversion, CategoryEnvironmentDonation:
		return true
	default:
		return false
	}
}

func ParsePointCategory(s string) (PointCategory, error) {
	c := PointCategory(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown point category %q", s)
	}
	return c, nil
}

// DuplicateKind is the outcome of a fingerprint registry lookup.
type DuplicateKind string

const (
	DuplicateNone      DuplicateKind = "NONE"
	DuplicateSameUser  DuplicateKind = "SAME_USER"
	DuplicateOtherUser DuplicateKind = "OTHER_USER"
)

// EcoLevel is derived from lifetime earned points.
type EcoLevel string

const (
	LevelBeginner     EcoLevel = "BEGINNER"
	LevelIntermediate EcoLevel = "INTERMEDIATE"
	LevelExpert       EcoLevel = "EXPERT"
)

var levelThresholds = []struct {
	level EcoLevel
	min   int64
}{
	{LevelExpert, 10000},
	{LevelIntermediate, 5000},
	{LevelBeginner, 0},
}

// LevelFor returns the level reached with lifetime points, the next level and
// the points still missing to reach it. next is empty at the top level.
func LevelFor(lifetime int64) (current EcoLevel, next EcoLevel, missing int64) {
	for i, t := range levelThresholds {
		if lifetime >= t.min {
			if i == 0 {
				return t.level, "", 0
			}
			up := levelThresholds[i-1]
			return t.level, up.level, up.min - lifetime
		}
	}
	up := levelThresholds[len(levelThresholds)-2]
	return LevelBeginner, up.level, up.min - lifetime
}
