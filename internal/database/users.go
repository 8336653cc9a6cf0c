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

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.Id, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUsers lists active users in creation order. Only the CLIs read it;
// request paths identify users by token.
func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, queryGetActiveUsers)
	if err != nil {
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	zap.L().Debug("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserById, userId)
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserByEmail, email)
}

func (s *Service) getUser(ctx context.Context, query, key string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrUserNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query user %s: %w", key, err)
	}
	return u, nil
}

// CreateUser registers a user. Email is unique; a second registration
// fails with store.ErrUserExists and leaves the first untouched.
func (s *Service) CreateUser(ctx context.Context, userId, name, email string) (*models.User, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, queryInsertUser, userId, name, email, now, now)
	if err != nil {
		return nil, fmt.Errorf("unable to insert user: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrUserExists, email)
	}

	zap.L().Info("User created",
		zap.String("user_id", userId),
		zap.String("email", email))
	return &models.User{Id: userId, Name: name, Email: email, CreatedAt: now, UpdatedAt: now}, nil
}
