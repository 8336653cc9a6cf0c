package duplicate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"go.uber.org/zap"
)

const (
	sameUserConfidence  = 0.0
	otherUserConfidence = 0.1
	uniqueConfidence    = 0.9
)

// Result is the outcome of a registry lookup.
type Result struct {
	Kind       models.DuplicateKind
	Confidence float64
	Reason     string
	OtherUsers int64
}

// IsDuplicate reports whether the fingerprint blocks the submission.
func (r Result) IsDuplicate() bool {
	switch r.Kind {
	case models.DuplicateSameUser, models.DuplicateOtherUser:
		return true
	case models.DuplicateNone:
		return false
	default:
		panic(fmt.Sprintf("unhandled duplicate kind %q", string(r.Kind)))
	}
}

// Fingerprint returns the hex SHA-256 of the raw image bytes.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type Detector struct {
	hashes store.ImageHashStore
}

func NewDetector(hashes store.ImageHashStore) *Detector {
	return &Detector{hashes: hashes}
}

// Check looks the fingerprint up for the same user first, then for anyone
// else. A registry error is returned as-is so the caller can route to review.
func (d *Detector) Check(ctx context.Context, fingerprint, userId, challengeId string) (Result, error) {
	seen, err := d.hashes.UserHasHash(ctx, userId, fingerprint)
	if err != nil {
		return Result{}, fmt.Errorf("same-user hash lookup: %w", err)
	}
	if seen {
		zap.L().Info("Image reused by the same user",
			zap.String("user_id", userId),
			zap.String("challenge_id", challengeId))
		return Result{
			Kind:       models.DuplicateSameUser,
			Confidence: sameUserConfidence,
			Reason:     "previously used image",
		}, nil
	}

	others, err := d.hashes.CountOtherUsersWithHash(ctx, fingerprint, userId)
	if err != nil {
		return Result{}, fmt.Errorf("cross-user hash lookup: %w", err)
	}
	if others > 0 {
		zap.L().Info("Image already used by other users",
			zap.String("user_id", userId),
			zap.String("challenge_id", challengeId),
			zap.Int64("other_users", others))
		return Result{
			Kind:       models.DuplicateOtherUser,
			Confidence: otherUserConfidence,
			Reason:     fmt.Sprintf("image previously used by %d other user(s)", others),
			OtherUsers: others,
		}, nil
	}

	return Result{
		Kind:       models.DuplicateNone,
		Confidence: uniqueConfidence,
		Reason:     "image not seen before",
	}, nil
}

// Register records the fingerprint of a record. Each record keeps its own
// entry, so every approved image stays blocked for its owner.
func (d *Detector) Register(ctx context.Context, entry models.ImageHashEntry) error {
	if entry.ContentHash == "" {
		return fmt.Errorf("empty content hash")
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	if err := d.hashes.UpsertImageHash(ctx, entry); err != nil {
		return fmt.Errorf("register image hash: %w", err)
	}
	return nil
}

func (d *Detector) Stats(ctx context.Context, userId string) (*models.ImageHashStats, error) {
	return d.hashes.GetImageHashStats(ctx, userId)
}
