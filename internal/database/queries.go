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

const (
	// User queries
	queryGetActiveUsers = `
		SELECT id, name, email, created_at, updated_at
		FROM users
		WHERE active = 1
		ORDER BY created_at`

	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, name, email, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	queryGetUserById = `
		SELECT id, name, email, created_at, updated_at
		FROM users
		WHERE id = ? AND active = 1`

	queryGetUserByEmail = `
		SELECT id, name, email, created_at, updated_at
		FROM users
		WHERE email = ? AND active = 1`

	// Team queries
	queryInsertTeam = `
		INSERT INTO teams (id, name, leader_id, max_members, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryInsertTeamAggregate = `
		INSERT OR IGNORE INTO team_aggregates (team_id, period_key, version, updated_at)
		VALUES (?, ?, 1, ?)`

	queryGetTeam = `
		SELECT id, name, leader_id, max_members, active, created_at
		FROM teams
		WHERE id = ?`

	queryCountActiveMembers = `
		SELECT COUNT(*) FROM team_members WHERE team_id = ? AND active = 1`

	queryInsertTeamMember = `
		INSERT INTO team_members (team_id, user_id, active, joined_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(team_id, user_id) DO UPDATE SET active = 1, joined_at = excluded.joined_at`

	queryCountUserActiveTeams = `
		SELECT COUNT(*) FROM team_members WHERE user_id = ? AND active = 1`

	queryIsActiveMember = `
		SELECT COUNT(*) FROM team_members WHERE team_id = ? AND user_id = ? AND active = 1`

	queryGetActiveTeamForUser = `
		SELECT t.id, t.name, t.leader_id, t.max_members, t.active, t.created_at
		FROM teams t
		JOIN team_members m ON m.team_id = t.id
		WHERE m.user_id = ? AND m.active = 1 AND t.active = 1
		LIMIT 1`

	queryGetTeamAggregate = `
		SELECT team_id, total_points, current_points, total_carbon_saved, current_carbon_saved,
		       period_key, version, updated_at
		FROM team_aggregates
		WHERE team_id = ?`

	queryUpdateTeamAggregate = `
		UPDATE team_aggregates
		SET total_points = ?, current_points = ?, total_carbon_saved = ?, current_carbon_saved = ?,
		    period_key = ?, version = version + 1, updated_at = ?
		WHERE team_id = ? AND version = ?`

	// Challenge queries
	queryUpsertChallenge = `
		INSERT INTO challenges (
			id, code, title, description, reward_policy, points, team_score, carbon_saved,
			start_at, end_at, team_only, leader_only, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			title = excluded.title,
			description = excluded.description,
			reward_policy = excluded.reward_policy,
			points = excluded.points,
			team_score = excluded.team_score,
			carbon_saved = excluded.carbon_saved,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			team_only = excluded.team_only,
			leader_only = excluded.leader_only,
			active = excluded.active`

	selectChallengeColumns = `
		SELECT id, code, title, description, reward_policy, points, team_score, carbon_saved,
		       start_at, end_at, team_only, leader_only, active, created_at
		FROM challenges`

	queryGetChallenge = selectChallengeColumns + ` WHERE id = ?`

	queryListChallenges = selectChallengeColumns + ` ORDER BY created_at, id`

	queryListActiveChallenges = selectChallengeColumns + ` WHERE active = 1 ORDER BY created_at, id`

	// Challenge record queries
	queryInsertRecord = `
		INSERT INTO challenge_records (
			id, challenge_id, user_id, team_id, image_ref, step_count, status,
			ai_confidence, ai_explanation, ai_detected_items, image_hash, image_size, image_content_type,
			points_awarded, team_score_awarded, participated_at, activity_date, verified_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, NULL, '', '[]', '', 0, '', NULL, NULL, ?, ?, NULL, ?, 1)`

	selectRecordColumns = `
		SELECT id, challenge_id, user_id, team_id, image_ref, step_count, status,
		       ai_confidence, ai_explanation, ai_detected_items, image_hash, image_size, image_content_type,
		       points_awarded, team_score_awarded, participated_at, activity_date, verified_at, updated_at, version
		FROM challenge_records`

	queryGetRecord = selectRecordColumns + ` WHERE id = ?`

	queryFindRecordForDay = selectRecordColumns + `
		WHERE user_id = ? AND challenge_id = ? AND activity_date = ?`

	queryLatestRecord = selectRecordColumns + `
		WHERE user_id = ? AND challenge_id = ?
		ORDER BY participated_at DESC
		LIMIT 1`

	queryListRecordsByStatus = selectRecordColumns + `
		WHERE status = ?
		ORDER BY updated_at ASC
		LIMIT ? OFFSET ?`

	queryListUserRecords = selectRecordColumns + `
		WHERE user_id = ?
		ORDER BY participated_at DESC
		LIMIT ? OFFSET ?`

	queryListTeamRecords = selectRecordColumns + `
		WHERE team_id = ?
		ORDER BY participated_at DESC`

	queryListStaleVerifying = selectRecordColumns + `
		WHERE status = 'VERIFYING' AND updated_at < ?
		ORDER BY updated_at ASC`

	queryUpdateRecordAwards = `
		UPDATE challenge_records
		SET points_awarded = ?, team_score_awarded = ?
		WHERE id = ?`

	// Image hash queries
	queryUserHasHash = `
		SELECT COUNT(*) FROM image_hashes WHERE user_id = ? AND content_hash = ?`

	queryCountOtherUsersWithHash = `
		SELECT COUNT(DISTINCT user_id) FROM image_hashes WHERE content_hash = ? AND user_id != ?`

	queryUpsertImageHash = `
		INSERT INTO image_hashes (id, record_id, user_id, challenge_id, content_hash, byte_size, content_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			byte_size = excluded.byte_size,
			content_type = excluded.content_type,
			updated_at = excluded.updated_at`

	queryImageHashStats = `
		SELECT COUNT(*), MAX(created_at) FROM image_hashes WHERE user_id = ?`

	// Balance queries
	queryGetBalance = `
		SELECT id, user_id, current_balance, lifetime_earned, period_earned, period_key,
		       total_carbon_saved, period_carbon_saved, activity_count,
		       COALESCE(last_transaction_id, ''), version, updated_at
		FROM user_balances
		WHERE user_id = ?`

	queryGetAllBalances = `
		SELECT id, user_id, current_balance, lifetime_earned, period_earned, period_key,
		       total_carbon_saved, period_carbon_saved, activity_count,
		       COALESCE(last_transaction_id, ''), version, updated_at
		FROM user_balances
		ORDER BY user_id`

	queryInsertBalance = `
		INSERT INTO user_balances (id, user_id, current_balance, lifetime_earned, period_earned, period_key,
		                           total_carbon_saved, period_carbon_saved, activity_count, version, updated_at)
		VALUES (?, ?, 0, 0, 0, ?, 0, 0, 0, 1, ?)`

	queryUpdateBalance = `
		UPDATE user_balances
		SET current_balance = ?, lifetime_earned = ?, period_earned = ?, period_key = ?,
		    period_carbon_saved = ?, last_transaction_id = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`

	queryUpdateMemberActivity = `
		UPDATE user_balances
		SET total_carbon_saved = ?, period_carbon_saved = ?, period_earned = ?, period_key = ?,
		    activity_count = activity_count + 1, version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`

	queryReconcileBalance = `
		SELECT COALESCE(SUM(amount), 0) as calculated_balance
		FROM point_transactions
		WHERE user_id = ?`

	// Transaction queries
	queryCheckDuplicateTransaction = `
		SELECT id FROM point_transactions WHERE reference = ? LIMIT 1`

	queryInsertTransaction = `
		INSERT INTO point_transactions (
			id, user_id, transaction_type, category, amount, balance_before, balance_after,
			description, reference, record_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, user_id, transaction_type, category, amount, balance_before, balance_after,
		          description, COALESCE(reference, ''), COALESCE(record_id, ''), created_at`

	queryGetTransactionHistory = `
		SELECT id, user_id, transaction_type, category, amount, balance_before, balance_after,
		       description, COALESCE(reference, ''), COALESCE(record_id, ''), created_at
		FROM point_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	queryCountRecordCredits = `
		SELECT COUNT(*) FROM point_transactions WHERE record_id = ? AND transaction_type = 'EARN'`
)
