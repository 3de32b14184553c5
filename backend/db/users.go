package db

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"whispr/api"
)

// GetUserInfo returns the ledger of a user who has submitted at least once,
// or nil for anyone else.
func GetUserInfo(ctx context.Context, db *sql.DB, user string) (*api.UserInfo, error) {
	info := &api.UserInfo{ID: user, ReportsSubmitted: []string{}}
	err := db.QueryRowContext(ctx, "SELECT token_balance, stakes_active, stakes_lost, rewards_earned FROM users WHERE id = ?", user).
		Scan(&info.TokenBalance, &info.StakesActive, &info.StakesLost, &info.RewardsEarned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT seq FROM reports WHERE reporter = ? ORDER BY seq", user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		info.ReportsSubmitted = append(info.ReportsSubmitted, strconv.FormatInt(seq, 10))
	}
	return info, rows.Err()
}
