package common

import (
	"context"
	"fmt"
	"strings"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"go.uber.org/zap"
)

// UserInfo is the slice of a user the CLI reports print.
type UserInfo struct {
	Id    string
	Name  string
	Email string
}

func toUserInfo(u *models.User) UserInfo {
	return UserInfo{Id: u.Id, Name: u.Name, Email: u.Email}
}

// InitializeUsers resolves the users a CLI should act on. emailFilter is a
// comma separated list of emails; empty selects every active user.
func InitializeUsers(ctx context.Context, userStore store.UserStore, emailFilter string, logger *zap.Logger) ([]UserInfo, error) {
	if strings.TrimSpace(emailFilter) == "" {
		all, err := userStore.GetUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get users: %w", err)
		}
		users := make([]UserInfo, 0, len(all))
		for i := range all {
			users = append(users, toUserInfo(&all[i]))
		}
		logger.Info("Retrieved users", zap.Int("count", len(users)))
		return users, nil
	}

	var users []UserInfo
	for _, email := range strings.Split(emailFilter, ",") {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		u, err := userStore.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", email, err)
		}
		users = append(users, toUserInfo(u))
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: no email in filter %q", store.ErrUserNotFound, emailFilter)
	}

	logger.Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}
