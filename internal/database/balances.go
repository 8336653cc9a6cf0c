package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (*models.UserBalance, error) {
	var b models.UserBalance
	var updatedAt sql.NullTime
	err := row.Scan(&b.Id, &b.UserId, &b.CurrentBalance, &b.LifetimeEarned, &b.PeriodEarned, &b.PeriodKey,
		&b.TotalCarbonSaved, &b.PeriodCarbonSaved, &b.ActivityCount,
		&b.LastTransactionId, &b.Version, &updatedAt)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		b.UpdatedAt = updatedAt.Time
	}
	return &b, nil
}

// GetBalance returns the cached balance for a user (O(1) lookup). A user with
// no postings yet gets a zero balance for the current period.
func (s *SubledgerService) GetBalance(ctx context.Context, userId string) (*models.UserBalance, error) {
	zap.L().Debug("Getting balance", zap.String("user_id", userId))

	balance, err := scanBalance(s.db.QueryRowContext(ctx, queryGetBalance, userId))
	if errors.Is(err, sql.ErrNoRows) {
		return &models.UserBalance{UserId: userId, PeriodKey: models.PeriodKey(time.Now().UTC())}, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	// A stale period key means nothing was earned this month yet.
	rollPeriod(balance, time.Now().UTC())

	zap.L().Debug("Retrieved balance", zap.String("user_id", userId), zap.Int64("balance", balance.CurrentBalance))
	return balance, nil
}

// GetAllBalances returns every materialized balance row
func (s *SubledgerService) GetAllBalances(ctx context.Context) ([]models.UserBalance, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAllBalances)
	if err != nil {
		zap.L().Error("Failed to get all balances", zap.Error(err))
		return nil, fmt.Errorf("failed to get all balances: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var balances []models.UserBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, *b)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	zap.L().Debug("Retrieved all balances", zap.Int("count", len(balances)))
	return balances, nil
}

// ReconcileBalance verifies that the cached balance matches the sum of all transactions
func (s *SubledgerService) ReconcileBalance(ctx context.Context, userId string) error {
	zap.L().Info("Reconciling balance", zap.String("user_id", userId))

	balance, err := s.GetBalance(ctx, userId)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	var calculated int64
	if err := s.db.QueryRowContext(ctx, queryReconcileBalance, userId).Scan(&calculated); err != nil {
		return fmt.Errorf("failed to calculate balance from transactions: %w", err)
	}

	if balance.CurrentBalance != calculated {
		zap.L().Error("Balance reconciliation failed",
			zap.String("user_id", userId),
			zap.Int64("current_balance", balance.CurrentBalance),
			zap.Int64("calculated_balance", calculated),
			zap.Int64("difference", balance.CurrentBalance-calculated))
		return fmt.Errorf("%w: current=%d, calculated=%d", store.ErrBalanceMismatch, balance.CurrentBalance, calculated)
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.Int64("balance", balance.CurrentBalance))
	return nil
}

// AddMemberActivity bumps a member's carbon totals and activity count. It does
// not post to the points log, so reconciliation is unaffected.
func (s *SubledgerService) AddMemberActivity(ctx context.Context, userId string, carbonSaved float64, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	balance, err := s.loadOrCreateBalance(ctx, tx, userId, at)
	if err != nil {
		return err
	}
	rollPeriod(balance, at)

	result, err := tx.ExecContext(ctx, queryUpdateMemberActivity,
		balance.TotalCarbonSaved+carbonSaved, balance.PeriodCarbonSaved+carbonSaved,
		balance.PeriodEarned, balance.PeriodKey, at, userId, balance.Version)
	if err != nil {
		return fmt.Errorf("failed to update member activity: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("member activity update failed - %w", store.ErrConcurrentModification)
	}

	return tx.Commit()
}
