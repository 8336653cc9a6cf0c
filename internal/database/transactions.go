package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProcessTransactionParams contains the parameters for processing a transaction
type ProcessTransactionParams struct {
	UserId          string
	TransactionType models.TransactionType
	Category        models.PointCategory
	Amount          int64 // signed: EARN positive, SPEND/CONVERT negative
	Description     string
	Reference       string
	RecordId        string
	At              time.Time
}

// ProcessTransaction atomically updates the balance cache and appends to the log
func (s *SubledgerService) ProcessTransaction(ctx context.Context, params ProcessTransactionParams) (*models.PointTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	transaction, err := s.processInTx(ctx, tx, params)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, params.Reference)
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Transaction processed successfully",
		zap.String("transaction_id", transaction.Id),
		zap.String("user_id", params.UserId),
		zap.String("type", string(params.TransactionType)),
		zap.Int64("old_balance", transaction.BalanceBefore),
		zap.Int64("new_balance", transaction.BalanceAfter))

	return transaction, nil
}

// processInTx applies one ledger posting inside an open transaction so callers
// can combine it with other writes (record approval) in a single commit.
func (s *SubledgerService) processInTx(ctx context.Context, tx *sql.Tx, params ProcessTransactionParams) (*models.PointTransaction, error) {
	if !params.TransactionType.Valid() {
		return nil, fmt.Errorf("invalid transaction type %q", params.TransactionType)
	}
	if !params.Category.Valid() {
		return nil, fmt.Errorf("invalid category %q", params.Category)
	}
	if params.Amount == 0 {
		return nil, fmt.Errorf("transaction amount cannot be zero")
	}
	if params.At.IsZero() {
		params.At = time.Now().UTC()
	}

	zap.L().Info("Processing transaction",
		zap.String("user_id", params.UserId),
		zap.String("type", string(params.TransactionType)),
		zap.String("category", string(params.Category)),
		zap.Int64("amount", params.Amount),
		zap.String("reference", params.Reference))

	// Check for duplicate reference
	if params.Reference != "" {
		var existingTxId string
		err := tx.QueryRowContext(ctx, queryCheckDuplicateTransaction, params.Reference).Scan(&existingTxId)
		if err == nil {
			zap.L().Warn("Duplicate transaction reference detected, skipping",
				zap.String("reference", params.Reference),
				zap.String("existing_transaction_id", existingTxId))
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, params.Reference)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
		}
	}

	balance, err := s.loadOrCreateBalance(ctx, tx, params.UserId, params.At)
	if err != nil {
		return nil, err
	}

	newBalance := balance.CurrentBalance + params.Amount
	if params.Amount < 0 && newBalance < 0 {
		return nil, fmt.Errorf("%w: balance %d, requested %d", store.ErrInsufficientBalance, balance.CurrentBalance, -params.Amount)
	}

	rollPeriod(balance, params.At)
	if params.TransactionType == models.TransactionEarn {
		balance.LifetimeEarned += params.Amount
		balance.PeriodEarned += params.Amount
	}

	transactionId := uuid.New().String()
	transaction := &models.PointTransaction{}
	err = tx.QueryRowContext(ctx, queryInsertTransaction,
		transactionId, params.UserId, string(params.TransactionType), string(params.Category),
		params.Amount, balance.CurrentBalance, newBalance,
		params.Description, nullString(params.Reference), nullString(params.RecordId), params.At).
		Scan(&transaction.Id, &transaction.UserId, &transaction.TransactionType, &transaction.Category,
			&transaction.Amount, &transaction.BalanceBefore, &transaction.BalanceAfter,
			&transaction.Description, &transaction.Reference, &transaction.RecordId, &transaction.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, params.Reference)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	// Update balance cache (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateBalance,
		newBalance, balance.LifetimeEarned, balance.PeriodEarned, balance.PeriodKey,
		balance.PeriodCarbonSaved, transactionId, params.At, params.UserId, balance.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	return transaction, nil
}

func (s *SubledgerService) loadOrCreateBalance(ctx context.Context, tx *sql.Tx, userId string, at time.Time) (*models.UserBalance, error) {
	balance, err := scanBalance(tx.QueryRowContext(ctx, queryGetBalance, userId))
	if errors.Is(err, sql.ErrNoRows) {
		balance = &models.UserBalance{
			Id:        uuid.New().String(),
			UserId:    userId,
			PeriodKey: models.PeriodKey(at),
			Version:   1,
			UpdatedAt: at,
		}
		if _, err := tx.ExecContext(ctx, queryInsertBalance, balance.Id, userId, balance.PeriodKey, at); err != nil {
			return nil, fmt.Errorf("failed to create user balance: %w", err)
		}
		return balance, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}
	return balance, nil
}

// rollPeriod resets the current-period totals when at falls in a new month.
// Lifetime totals are never touched.
func rollPeriod(b *models.UserBalance, at time.Time) {
	key := models.PeriodKey(at)
	if b.PeriodKey == key {
		return
	}
	b.PeriodKey = key
	b.PeriodEarned = 0
	b.PeriodCarbonSaved = 0
}

// GetTransactionHistory returns paginated transaction history for a user, newest first
func (s *SubledgerService) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.PointTransaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("user_id", userId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.PointTransaction
	for rows.Next() {
		var t models.PointTransaction
		err := rows.Scan(&t.Id, &t.UserId, &t.TransactionType, &t.Category,
			&t.Amount, &t.BalanceBefore, &t.BalanceAfter,
			&t.Description, &t.Reference, &t.RecordId, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}

// CountRecordCredits returns how many EARN rows reference a record.
func (s *SubledgerService) CountRecordCredits(ctx context.Context, recordId string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, queryCountRecordCredits, recordId).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count record credits: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
