/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"eco-challenge-rewards-go/internal/common"
	"eco-challenge-rewards-go/internal/config"
	"eco-challenge-rewards-go/internal/database"
	"eco-challenge-rewards-go/internal/formance"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers        int
	usersWithBalances int
	totalPoints       int64
	mismatches        int
}

type reportOptions struct {
	reconcile bool
	issued    *formance.Service
}

func formatTransactionId(txId string) string {
	if txId == "" {
		return "none"
	}
	if len(txId) > 8 {
		return txId[:8] + "..."
	}
	return txId
}

func printBalance(balance *models.UserBalance) {
	fmt.Printf("%s %-15s: %12d (v%d, last_tx: %s, updated: %s)\n",
		common.BoxPrefix(false),
		"Current",
		balance.CurrentBalance,
		balance.Version,
		formatTransactionId(balance.LastTransactionId),
		balance.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("%s %-15s: %12d\n", common.BoxPrefix(false), "Lifetime", balance.LifetimeEarned)
	fmt.Printf("%s %-15s: %12d (%s)\n", common.BoxPrefix(false), "Period", balance.PeriodEarned, balance.PeriodKey)
	fmt.Printf("%s %-15s: %12.2f kg (%d activities)\n",
		common.BoxPrefix(true),
		"Carbon saved",
		balance.TotalCarbonSaved,
		balance.ActivityCount)
}

func printUserHeader(user common.UserInfo) {
	fmt.Printf("\n┌─ User: %s (%s)\n", user.Name, user.Email)
	fmt.Printf("│  ID: %s\n", user.Id)
	common.PrintBoxSeparator(78)
}

func processUser(ctx context.Context, user common.UserInfo, dbService *database.Service, opts reportOptions, stats *balanceStats) error {
	if opts.reconcile {
		err := dbService.ReconcileBalance(ctx, user.Id)
		if errors.Is(err, store.ErrBalanceMismatch) {
			stats.mismatches++
			fmt.Printf("\n!! %s: %v\n", user.Email, err)
		} else if err != nil {
			return fmt.Errorf("failed to reconcile: %w", err)
		}
	}

	balance, err := dbService.GetBalance(ctx, user.Id)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}
	if balance.Version == 0 && balance.LifetimeEarned == 0 {
		return nil
	}

	printUserHeader(user)
	printBalance(balance)

	if opts.issued != nil {
		issued, err := opts.issued.GetIssuedBalance(ctx, user.Id)
		if err != nil {
			zap.L().Warn("Unable to read issued balance", zap.String("user_id", user.Id), zap.Error(err))
		} else {
			fmt.Printf("   %-15s: %12s\n", "Issued", issued.String())
		}
	}

	stats.usersWithBalances++
	stats.totalPoints += balance.CurrentBalance
	return nil
}

func main() {
	ctx := context.Background()

	emailFlag := flag.String("email", "", "Filter by specific user email (optional)")
	reconcileFlag := flag.Bool("reconcile", false, "Verify each balance against the sum of its postings")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	logger.Info("Starting balance query")

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	opts := reportOptions{reconcile: *reconcileFlag}
	if strings.EqualFold(cfg.Issuer.Backend, "formance") {
		opts.issued, err = formance.NewService(ctx, cfg.Formance)
		if err != nil {
			logger.Warn("Formance unavailable, issued balances omitted", zap.Error(err))
		}
	}

	users, err := common.InitializeUsers(ctx, dbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("USER POINT BALANCE REPORT", common.DefaultWidth)

	stats := balanceStats{}
	for _, user := range users {
		stats.totalUsers++
		if err := processUser(ctx, user, dbService, opts, &stats); err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.String("user_name", user.Name),
				zap.Error(err))
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d users with balances, %d points outstanding (%d users queried)",
		stats.usersWithBalances, stats.totalPoints, stats.totalUsers)
	if opts.reconcile {
		summary += fmt.Sprintf(", %d mismatches", stats.mismatches)
	}
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_balances", stats.usersWithBalances),
		zap.Int64("points_outstanding", stats.totalPoints),
		zap.Int("mismatches", stats.mismatches))
}
