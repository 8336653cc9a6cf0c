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
	"regexp"

	"eco-challenge-rewards-go/internal/common"
	"eco-challenge-rewards-go/internal/config"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultTeamSize = 20

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

// joinOrCreateTeam adds the user to the named team id, or creates a new team
// led by the user when only a name is given.
func joinOrCreateTeam(ctx context.Context, teams store.TeamStore, user *models.User, teamId, teamName string, size int) (*models.Team, error) {
	if teamId != "" {
		team, err := teams.GetTeam(ctx, teamId)
		if err != nil {
			return nil, fmt.Errorf("error loading team: %w", err)
		}
		if err := teams.AddTeamMember(ctx, team.Id, user.Id); err != nil {
			return nil, fmt.Errorf("error joining team: %w", err)
		}
		return team, nil
	}

	team, err := teams.CreateTeam(ctx, models.Team{
		Name:       teamName,
		LeaderId:   user.Id,
		MaxMembers: size,
		Active:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating team: %w", err)
	}
	return team, nil
}

func main() {
	ctx := context.Background()

	nameFlag := flag.String("name", "", "User's full name (required)")
	emailFlag := flag.String("email", "", "User's email address (required)")
	teamFlag := flag.String("team", "", "Create a team with this name, led by the new user")
	joinFlag := flag.String("join", "", "Join an existing team by id")
	sizeFlag := flag.Int("team-size", defaultTeamSize, "Maximum members when creating a team")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	if *nameFlag == "" || *emailFlag == "" {
		zap.L().Fatal("Both flags are required: --name and --email")
	}
	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}
	if err := validateEmail(*emailFlag); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}
	if *teamFlag != "" && *joinFlag != "" {
		zap.L().Fatal("Use either --team or --join, not both")
	}

	zap.L().Info("Starting user creation process",
		zap.String("name", *nameFlag),
		zap.String("email", *emailFlag))

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	user, err := dbService.CreateUser(ctx, uuid.New().String(), *nameFlag, *emailFlag)
	if errors.Is(err, store.ErrUserExists) {
		zap.L().Fatal("User already exists with this email", zap.String("email", *emailFlag))
	}
	if err != nil {
		zap.L().Fatal("Failed to create user", zap.String("email", *emailFlag), zap.Error(err))
	}

	fmt.Println()
	common.PrintHeader("USER CREATED", common.DefaultWidth)
	common.PrintField("ID", user.Id)
	common.PrintField("Name", user.Name)
	common.PrintField("Email", user.Email)

	if *teamFlag != "" || *joinFlag != "" {
		team, err := joinOrCreateTeam(ctx, dbService, user, *joinFlag, *teamFlag, *sizeFlag)
		switch {
		case errors.Is(err, store.ErrTeamFull):
			common.PrintField("Team", "full, user was not added")
		case errors.Is(err, store.ErrAlreadyInTeam):
			common.PrintField("Team", "user already belongs to an active team")
		case err != nil:
			zap.L().Error("Team assignment failed", zap.String("user_id", user.Id), zap.Error(err))
			common.PrintField("Team", "assignment failed, see logs")
		default:
			role := "member"
			if team.LeaderId == user.Id {
				role = "leader"
			}
			common.PrintField("Team", fmt.Sprintf("%s (%s, %s)", team.Name, team.Id, role))
		}
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	zap.L().Info("User created successfully", zap.String("id", user.Id))
}
