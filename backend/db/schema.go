package db

import (
	"context"
	"database/sql"
	"fmt"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(255) NOT NULL,
		token_balance BIGINT NOT NULL DEFAULT 0,
		stakes_active BIGINT NOT NULL DEFAULT 0,
		stakes_lost BIGINT NOT NULL DEFAULT 0,
		rewards_earned BIGINT NOT NULL DEFAULT 0,
		ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id)
	)`,
	`CREATE TABLE IF NOT EXISTS authorities (
		id VARCHAR(255) NOT NULL,
		PRIMARY KEY (id)
	)`,
	`CREATE TABLE IF NOT EXISTS reports (
		seq BIGINT NOT NULL AUTO_INCREMENT,
		reporter VARCHAR(255) NOT NULL,
		title VARCHAR(200) NOT NULL,
		description TEXT NOT NULL,
		category VARCHAR(64) NOT NULL,
		address VARCHAR(255) NOT NULL DEFAULT '',
		latitude DOUBLE,
		longitude DOUBLE,
		incident_date VARCHAR(32) NOT NULL DEFAULT '',
		incident_time VARCHAR(32) NOT NULL DEFAULT '',
		status ENUM('pending', 'under_review', 'verified', 'rejected') NOT NULL DEFAULT 'pending',
		stake_amount BIGINT NOT NULL,
		reward_amount BIGINT NOT NULL DEFAULT 0,
		review_notes TEXT NOT NULL,
		review_date DATETIME,
		reviewer VARCHAR(255) NOT NULL DEFAULT '',
		ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (seq),
		INDEX reporter_idx (reporter, status),
		INDEX status_idx (status)
	)`,
	`CREATE TABLE IF NOT EXISTS evidence (
		report_seq BIGINT NOT NULL,
		idx INT NOT NULL,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(128) NOT NULL,
		size BIGINT NOT NULL,
		last_modified BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (report_seq, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGINT NOT NULL AUTO_INCREMENT,
		report_seq BIGINT NOT NULL,
		sender ENUM('reporter', 'authority', 'system') NOT NULL,
		content TEXT NOT NULL,
		ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX report_idx (report_seq)
	)`,
}

// CreateTables creates the store schema if it does not exist yet.
func CreateTables(ctx context.Context, db *sql.DB) error {
	for _, t := range tables {
		if _, err := db.ExecContext(ctx, t); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// AddAuthority registers id as a reviewing authority.
func AddAuthority(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx, "INSERT IGNORE INTO authorities (id) VALUES (?)", id)
	return err
}
