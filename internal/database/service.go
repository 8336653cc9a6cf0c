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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

const memoryPath = ":memory:"

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000&_txlock=immediate&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// An in-memory database lives and dies with its connection
	if cfg.Path == memoryPath {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after ping failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db, subledger: NewSubledgerService(db)}
	if err := service.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after schema failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	if err := service.subledger.InitSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after schema failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to initialize subledger schema: %w", err)
	}

	if cfg.CreateDemoData {
		service.createDemoData(ctx)
	} else {
		zap.L().Info("Skipping demo data creation (CREATE_DEMO_DATA=false)")
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Subledger exposes the points ledger for maintenance tooling.
func (s *Service) Subledger() *SubledgerService {
	return s.subledger
}

func (s *Service) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_users_active ON users(active);

	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		leader_id TEXT NOT NULL,
		max_members INTEGER NOT NULL DEFAULT 20,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS team_members (
		team_id TEXT NOT NULL REFERENCES teams(id),
		user_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		joined_at TIMESTAMP,
		PRIMARY KEY (team_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_team_members_user ON team_members(user_id, active);

	CREATE TABLE IF NOT EXISTS team_aggregates (
		team_id TEXT PRIMARY KEY REFERENCES teams(id),
		total_points INTEGER NOT NULL DEFAULT 0,
		current_points INTEGER NOT NULL DEFAULT 0,
		total_carbon_saved REAL NOT NULL DEFAULT 0,
		current_carbon_saved REAL NOT NULL DEFAULT 0,
		period_key TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reward_policy TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 0,
		team_score INTEGER NOT NULL DEFAULT 0,
		carbon_saved REAL NOT NULL DEFAULT 0,
		start_at TIMESTAMP,
		end_at TIMESTAMP,
		team_only BOOLEAN NOT NULL DEFAULT 0,
		leader_only BOOLEAN NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_challenges_active ON challenges(active);

	CREATE TABLE IF NOT EXISTS challenge_records (
		id TEXT PRIMARY KEY,
		challenge_id TEXT NOT NULL REFERENCES challenges(id),
		user_id TEXT NOT NULL,
		team_id TEXT,
		image_ref TEXT,
		step_count INTEGER,
		status TEXT NOT NULL,
		ai_confidence REAL,
		ai_explanation TEXT NOT NULL DEFAULT '',
		ai_detected_items TEXT NOT NULL DEFAULT '[]',
		image_hash TEXT NOT NULL DEFAULT '',
		image_size INTEGER NOT NULL DEFAULT 0,
		image_content_type TEXT NOT NULL DEFAULT '',
		points_awarded INTEGER,
		team_score_awarded INTEGER,
		participated_at TIMESTAMP NOT NULL,
		activity_date TEXT NOT NULL,
		verified_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	-- One record per (user, challenge) per acceptance day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_user_challenge_day ON challenge_records(user_id, challenge_id, activity_date);
	CREATE INDEX IF NOT EXISTS idx_records_status ON challenge_records(status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_records_team ON challenge_records(team_id);

	CREATE TABLE IF NOT EXISTS image_hashes (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		challenge_id TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		byte_size INTEGER NOT NULL DEFAULT 0,
		content_type TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_image_hashes_hash ON image_hashes(content_hash);
	CREATE INDEX IF NOT EXISTS idx_image_hashes_user ON image_hashes(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// createDemoData inserts three users and one team for local runs.
func (s *Service) createDemoData(ctx context.Context) {
	now := time.Now().UTC()
	users := []struct {
		id    string
		name  string
		email string
	}{
		{uuid.New().String(), "Alice Johnson", "alice.johnson@example.com"},
		{uuid.New().String(), "Bob Smith", "bob.smith@example.com"},
		{uuid.New().String(), "Carol Williams", "carol.williams@example.com"},
	}

	for _, user := range users {
		_, err := s.db.ExecContext(ctx, queryInsertUser, user.id, user.name, user.email, now, now)
		if err != nil {
			zap.L().Error("Failed to insert demo user", zap.String("name", user.name), zap.Error(err))
			continue
		}
		zap.L().Info("Demo user created", zap.String("id", user.id), zap.String("name", user.name))
	}

	leader, err := s.GetUserByEmail(ctx, users[0].email)
	if err != nil {
		zap.L().Warn("Demo leader not available, skipping demo team", zap.Error(err))
		return
	}
	if existing, err := s.GetActiveTeamForUser(ctx, leader.Id); err == nil && existing != nil {
		return
	}

	team, err := s.CreateTeam(ctx, models.Team{Name: "Green Pioneers", LeaderId: leader.Id, MaxMembers: 20, Active: true})
	if err != nil {
		zap.L().Error("Failed to create demo team", zap.Error(err))
		return
	}
	for _, u := range users {
		member, err := s.GetUserByEmail(ctx, u.email)
		if err != nil {
			continue
		}
		if err := s.AddTeamMember(ctx, team.Id, member.Id); err != nil {
			zap.L().Warn("Failed to add demo team member", zap.String("user_id", member.Id), zap.Error(err))
		}
	}
	zap.L().Info("Demo team created", zap.String("team_id", team.Id), zap.String("name", team.Name))
}
