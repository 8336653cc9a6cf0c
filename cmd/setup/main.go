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
	"flag"
	"fmt"

	"eco-challenge-rewards-go/internal/common"
	"eco-challenge-rewards-go/internal/config"
	"eco-challenge-rewards-go/internal/database"

	"go.uber.org/zap"
)

func seedCatalog(ctx context.Context, dbService *database.Service, file string) {
	zap.L().Info("Loading challenge catalog", zap.String("file", file))
	catalog, err := common.LoadChallengeCatalog(file)
	if err != nil {
		zap.L().Fatal("Failed to load challenge catalog", zap.Error(err))
	}

	if err := common.SeedChallenges(ctx, dbService, catalog); err != nil {
		zap.L().Fatal("Failed to seed challenges", zap.Error(err))
	}

	fmt.Println()
	common.PrintHeader("CHALLENGE CATALOG", common.DefaultWidth)
	for i, c := range catalog {
		fmt.Printf("%s %-20s %-30s %-10s points=%d team_score=%d\n",
			common.BoxPrefix(i == len(catalog)-1),
			c.Code,
			c.Title,
			c.RewardPolicy,
			c.Points,
			c.TeamScore)
	}
	common.PrintFooter(fmt.Sprintf("%d challenges seeded", len(catalog)), common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	catalogFlag := flag.String("catalog", "", "Path to the challenge catalog (default: CHALLENGES_FILE)")
	demoFlag := flag.Bool("demo", false, "Create demo users and a demo team")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	if *demoFlag {
		cfg.Database.CreateDemoData = true
	}

	zap.L().Info("Setting up SQLite database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	file := *catalogFlag
	if file == "" {
		file = cfg.Catalog.ChallengesFile
	}
	seedCatalog(ctx, dbService, file)

	zap.L().Info("Initialization complete")
}
