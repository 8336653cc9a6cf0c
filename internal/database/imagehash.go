package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"eco-challenge-rewards-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const recentImageCap = 10

func (s *Service) UserHasHash(ctx context.Context, userId, hash string) (bool, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, queryUserHasHash, userId, hash).Scan(&n); err != nil {
		return false, fmt.Errorf("unable to look up image hash: %w", err)
	}
	return n > 0, nil
}

// CountOtherUsersWithHash counts distinct users other than userId that
// registered hash.
func (s *Service) CountOtherUsersWithHash(ctx context.Context, hash, userId string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, queryCountOtherUsersWithHash, hash, userId).Scan(&n); err != nil {
		return 0, fmt.Errorf("unable to count image hash owners: %w", err)
	}
	return n, nil
}

// UpsertImageHash registers the fingerprint of one record. Registering the
// same record again replaces its fingerprint; other records keep theirs.
func (s *Service) UpsertImageHash(ctx context.Context, entry models.ImageHashEntry) error {
	if entry.ContentHash == "" {
		return fmt.Errorf("content hash cannot be empty")
	}
	if entry.RecordId == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	if entry.Id == "" {
		entry.Id = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, queryUpsertImageHash,
		entry.Id, entry.RecordId, entry.UserId, entry.ChallengeId, entry.ContentHash, entry.ByteSize, entry.ContentType,
		entry.CreatedAt, now)
	if err != nil {
		zap.L().Error("Failed to upsert image hash",
			zap.String("user_id", entry.UserId),
			zap.String("challenge_id", entry.ChallengeId),
			zap.Error(err))
		return fmt.Errorf("unable to upsert image hash: %w", err)
	}

	zap.L().Debug("Image hash registered",
		zap.String("record_id", entry.RecordId),
		zap.String("user_id", entry.UserId),
		zap.String("content_hash", entry.ContentHash))
	return nil
}

func (s *Service) GetImageHashStats(ctx context.Context, userId string) (*models.ImageHashStats, error) {
	var total int64
	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, queryImageHashStats, userId).Scan(&total, &last); err != nil {
		return nil, fmt.Errorf("unable to query image hash stats: %w", err)
	}

	stats := &models.ImageHashStats{
		UserId:           userId,
		TotalImages:      total,
		RecentImageCount: int(min(total, recentImageCap)),
	}
	if last.Valid && last.String != "" {
		t, err := parseTimestamp(last.String)
		if err != nil {
			return nil, err
		}
		stats.LastImageDate = &t
	}
	return stats, nil
}

// parseTimestamp reads a TIMESTAMP value that lost its column type through an
// aggregate. SQLite stores it with a space instead of T.
func parseTimestamp(value string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q", value)
}
