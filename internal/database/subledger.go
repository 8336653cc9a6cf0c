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
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
)

// SubledgerService handles the points ledger: the append-only
// point_transactions log and the user_balances cache derived from it.
type SubledgerService struct {
	db *sql.DB
}

func NewSubledgerService(db *sql.DB) *SubledgerService {
	return &SubledgerService{
		db: db,
	}
}

func (s *SubledgerService) InitSchema() error {
	schema := `
	-- User Balances Table (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS user_balances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		current_balance INTEGER NOT NULL DEFAULT 0,
		lifetime_earned INTEGER NOT NULL DEFAULT 0,
		period_earned INTEGER NOT NULL DEFAULT 0,
		period_key TEXT NOT NULL DEFAULT '',
		total_carbon_saved REAL NOT NULL DEFAULT 0,
		period_carbon_saved REAL NOT NULL DEFAULT 0,
		activity_count INTEGER NOT NULL DEFAULT 0,
		last_transaction_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP
	);

	-- Point Transactions Table (Audit Trail - Cold Data)
	CREATE TABLE IF NOT EXISTS point_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		category TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference TEXT UNIQUE,
		record_id TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_point_transactions_user_id ON point_transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_point_transactions_created_at ON point_transactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_point_transactions_record_id ON point_transactions(record_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
