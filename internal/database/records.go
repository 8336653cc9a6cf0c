package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanRecord(row rowScanner) (*models.ChallengeRecord, error) {
	var r models.ChallengeRecord
	var teamId, imageRef sql.NullString
	var stepCount, points, teamScore sql.NullInt64
	var confidence sql.NullFloat64
	var detected, status string
	var verifiedAt sql.NullTime

	err := row.Scan(&r.Id, &r.ChallengeId, &r.UserId, &teamId, &imageRef, &stepCount, &status,
		&confidence, &r.AiExplanation, &detected, &r.ImageHash, &r.ImageSize, &r.ImageContentType,
		&points, &teamScore, &r.ParticipatedAt, &r.ActivityDate, &verifiedAt, &r.UpdatedAt, &r.Version)
	if err != nil {
		return nil, err
	}
	if r.Status, err = models.ParseVerificationStatus(status); err != nil {
		return nil, fmt.Errorf("record %s: %w", r.Id, err)
	}

	r.TeamId = teamId.String
	r.ImageRef = imageRef.String
	if stepCount.Valid {
		v := stepCount.Int64
		r.StepCount = &v
	}
	if confidence.Valid {
		v := confidence.Float64
		r.AiConfidence = &v
	}
	if points.Valid {
		v := points.Int64
		r.PointsAwarded = &v
	}
	if teamScore.Valid {
		v := teamScore.Int64
		r.TeamScoreAwarded = &v
	}
	if verifiedAt.Valid {
		v := verifiedAt.Time
		r.VerifiedAt = &v
	}
	if detected != "" {
		if err := json.Unmarshal([]byte(detected), &r.AiDetectedItems); err != nil {
			return nil, fmt.Errorf("record %s: bad detected items payload: %w", r.Id, err)
		}
	}
	return &r, nil
}

func (s *Service) queryRecords(ctx context.Context, query string, args ...any) ([]models.ChallengeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query records: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var records []models.ChallengeRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan record row: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during record row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}
	return records, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// CreateRecord inserts a new record. Id, Version and timestamps are filled in
// when empty.
func (s *Service) CreateRecord(ctx context.Context, rec *models.ChallengeRecord) error {
	if rec.Id == "" {
		rec.Id = uuid.New().String()
	}
	if rec.ParticipatedAt.IsZero() {
		rec.ParticipatedAt = time.Now().UTC()
	}
	if rec.ActivityDate == "" {
		rec.ActivityDate = models.ActivityDate(rec.ParticipatedAt)
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid record status %q", rec.Status)
	}
	rec.UpdatedAt = rec.ParticipatedAt
	rec.Version = 1

	_, err := s.db.ExecContext(ctx, queryInsertRecord,
		rec.Id, rec.ChallengeId, rec.UserId, nullString(rec.TeamId), nullString(rec.ImageRef), nullInt64(rec.StepCount),
		string(rec.Status), rec.ParticipatedAt, rec.ActivityDate, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s challenge %s on %s", store.ErrDuplicateRecord, rec.UserId, rec.ChallengeId, rec.ActivityDate)
		}
		return fmt.Errorf("unable to insert record: %w", err)
	}

	zap.L().Info("Challenge record created",
		zap.String("record_id", rec.Id),
		zap.String("user_id", rec.UserId),
		zap.String("challenge_id", rec.ChallengeId),
		zap.String("status", string(rec.Status)))
	return nil
}

func (s *Service) GetRecord(ctx context.Context, recordId string) (*models.ChallengeRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, queryGetRecord, recordId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: record %s", store.ErrNotFound, recordId)
		}
		return nil, fmt.Errorf("unable to query record: %w", err)
	}
	return r, nil
}

// FindRecordForDay returns nil when the user has no record for that acceptance day.
func (s *Service) FindRecordForDay(ctx context.Context, userId, challengeId, activityDate string) (*models.ChallengeRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, queryFindRecordForDay, userId, challengeId, activityDate))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query record for day: %w", err)
	}
	return r, nil
}

// LatestRecord returns nil when the user never participated in the challenge.
func (s *Service) LatestRecord(ctx context.Context, userId, challengeId string) (*models.ChallengeRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, queryLatestRecord, userId, challengeId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query latest record: %w", err)
	}
	return r, nil
}

func statusArgs(statuses []models.VerificationStatus) (string, []any) {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ","), args
}

// ResubmitRecord replaces the evidence of a same-day record and clears any
// previous verification outcome.
func (s *Service) ResubmitRecord(ctx context.Context, params store.ResubmitParams) error {
	if len(params.From) == 0 {
		return fmt.Errorf("resubmit requires at least one source status")
	}
	if params.At.IsZero() {
		params.At = time.Now().UTC()
	}

	in, statusVals := statusArgs(params.From)
	query := `
		UPDATE challenge_records
		SET image_ref = ?, step_count = ?, team_id = ?, status = ?,
		    ai_confidence = NULL, ai_explanation = '', ai_detected_items = '[]',
		    image_hash = '', image_size = 0, image_content_type = '',
		    updated_at = ?, version = version + 1
		WHERE id = ? AND status IN (` + in + `)`

	args := []any{nullString(params.ImageRef), nullInt64(params.StepCount), nullString(params.TeamId), string(params.To),
		params.At, params.RecordId}
	args = append(args, statusVals...)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("unable to resubmit record: %w", err)
	}
	return checkTransition(result, params.RecordId)
}

func checkTransition(result sql.Result, recordId string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: record %s", store.ErrStateConflict, recordId)
	}
	return nil
}

func transitionInTx(ctx context.Context, exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, p store.TransitionParams) error {
	if len(p.From) == 0 {
		return fmt.Errorf("transition requires at least one source status")
	}
	if !p.To.Valid() {
		return fmt.Errorf("invalid target status %q", p.To)
	}
	if p.At.IsZero() {
		p.At = time.Now().UTC()
	}

	sets := []string{"status = ?", "updated_at = ?", "version = version + 1"}
	args := []any{string(p.To), p.At.UTC()}

	if p.AiConfidence != nil {
		sets = append(sets, "ai_confidence = ?")
		args = append(args, *p.AiConfidence)
	}
	if p.AiExplanation != nil {
		sets = append(sets, "ai_explanation = ?")
		args = append(args, *p.AiExplanation)
	}
	if p.AiDetectedItems != nil {
		payload, err := json.Marshal(p.AiDetectedItems)
		if err != nil {
			return fmt.Errorf("unable to encode detected items: %w", err)
		}
		sets = append(sets, "ai_detected_items = ?")
		args = append(args, string(payload))
	}
	if p.ImageHash != nil {
		sets = append(sets, "image_hash = ?", "image_size = ?", "image_content_type = ?")
		args = append(args, p.ImageHash.Hash, p.ImageHash.Size, p.ImageHash.ContentType)
	}
	if p.VerifiedAt != nil {
		sets = append(sets, "verified_at = ?")
		args = append(args, p.VerifiedAt.UTC())
	}

	in, statusVals := statusArgs(p.From)
	query := "UPDATE challenge_records SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status IN (" + in + ")"
	args = append(args, p.RecordId)
	args = append(args, statusVals...)

	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("unable to transition record: %w", err)
	}
	return checkTransition(result, p.RecordId)
}

// TransitionRecord is a compare-and-set on the record status. It fails with
// store.ErrStateConflict when the stored status is not one of params.From.
func (s *Service) TransitionRecord(ctx context.Context, params store.TransitionParams) error {
	if err := transitionInTx(ctx, s.db, params); err != nil {
		return err
	}
	zap.L().Info("Record transitioned",
		zap.String("record_id", params.RecordId),
		zap.String("to", string(params.To)))
	return nil
}

// ApproveWithCredit moves a record to APPROVED, stores the awards and posts
// the EARN in one commit, so a record is credited at most once.
func (s *Service) ApproveWithCredit(ctx context.Context, params store.ApproveParams) (*models.PointTransaction, error) {
	if params.Transition.To != models.StatusApproved {
		return nil, fmt.Errorf("approve must target %s, got %s", models.StatusApproved, params.Transition.To)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := transitionInTx(ctx, tx, params.Transition); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, queryUpdateRecordAwards,
		params.PointsAwarded, params.TeamScoreAwarded, params.Transition.RecordId); err != nil {
		return nil, fmt.Errorf("unable to store awards: %w", err)
	}

	var posted *models.PointTransaction
	if params.Credit != nil {
		posted, err = s.subledger.processInTx(ctx, tx, ProcessTransactionParams{
			UserId:          params.Credit.UserId,
			TransactionType: models.TransactionEarn,
			Category:        params.Credit.Category,
			Amount:          params.Credit.Amount,
			Description:     params.Credit.Description,
			Reference:       params.Credit.Reference,
			RecordId:        params.Credit.RecordId,
			At:              params.Credit.At,
		})
		if err != nil {
			return nil, fmt.Errorf("unable to credit approved record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: record %s", store.ErrDuplicateTransaction, params.Transition.RecordId)
		}
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}

	fields := []zap.Field{
		zap.String("record_id", params.Transition.RecordId),
		zap.Int64("points_awarded", params.PointsAwarded),
		zap.Int64("team_score_awarded", params.TeamScoreAwarded),
	}
	if posted != nil {
		fields = append(fields, zap.String("transaction_id", posted.Id), zap.Int64("balance_after", posted.BalanceAfter))
	}
	zap.L().Info("Record approved", fields...)
	return posted, nil
}

func (s *Service) ListRecordsByStatus(ctx context.Context, status models.VerificationStatus, limit, offset int) ([]models.ChallengeRecord, error) {
	return s.queryRecords(ctx, queryListRecordsByStatus, string(status), limit, offset)
}

func (s *Service) ListUserRecords(ctx context.Context, userId string, limit, offset int) ([]models.ChallengeRecord, error) {
	return s.queryRecords(ctx, queryListUserRecords, userId, limit, offset)
}

func (s *Service) ListTeamRecords(ctx context.Context, teamId string) ([]models.ChallengeRecord, error) {
	return s.queryRecords(ctx, queryListTeamRecords, teamId)
}

// ListStaleVerifying returns VERIFYING records not touched since updatedBefore.
func (s *Service) ListStaleVerifying(ctx context.Context, updatedBefore time.Time) ([]models.ChallengeRecord, error) {
	return s.queryRecords(ctx, queryListStaleVerifying, updatedBefore.UTC())
}
