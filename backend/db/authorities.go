package db

import (
	"context"
	"database/sql"
	"strings"

	"whispr/api"
	"whispr/common"

	"github.com/apex/log"
)

// GrantAuthority lets id review reports. by must already be an authority;
// the caller checks that.
func GrantAuthority(ctx context.Context, db *sql.DB, by, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ruleErrorf("Authority id is required")
	}
	ok, err := IsAuthority(ctx, db, id)
	if err != nil {
		return err
	}
	if ok {
		return ruleErrorf("Principal is already an authority")
	}
	result, err := db.ExecContext(ctx, "INSERT INTO authorities (id) VALUES (?)", id)
	common.LogResult("grantAuthority", result, err, true)
	if err != nil {
		return err
	}
	log.Infof("%s made %s an authority", by, id)
	return nil
}

// RevokeAuthority removes id from the authorities. Nobody can remove
// themselves, so at least one authority always remains.
func RevokeAuthority(ctx context.Context, db *sql.DB, by, id string) error {
	id = strings.TrimSpace(id)
	if id == by {
		return ruleErrorf("Cannot remove yourself as authority")
	}
	result, err := db.ExecContext(ctx, "DELETE FROM authorities WHERE id = ?", id)
	if err != nil {
		log.Errorf("revokeAuthority: query failed: %v", err)
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ruleErrorf("Principal is not an authority")
	}
	log.Infof("%s removed authority %s", by, id)
	return nil
}

// GetAllAuthorities lists the authorities with the reports they decided.
func GetAllAuthorities(ctx context.Context, db *sql.DB) ([]api.Authority, error) {
	rows, err := db.QueryContext(ctx, `SELECT a.id,
		COUNT(r.seq),
		COALESCE(SUM(r.status = 'verified'), 0)
		FROM authorities a
		LEFT JOIN reports r ON r.reviewer = a.id AND r.status IN ('verified', 'rejected')
		GROUP BY a.id
		ORDER BY a.id`)
	if err != nil {
		log.Errorf("Could not list authorities: %v", err)
		return nil, err
	}
	defer rows.Close()

	authorities := []api.Authority{}
	for rows.Next() {
		var (
			a        api.Authority
			verified int64
		)
		if err := rows.Scan(&a.ID, &a.ReportsReviewed, &verified); err != nil {
			return nil, err
		}
		if a.ReportsReviewed > 0 {
			a.ApprovalRate = float64(verified) / float64(a.ReportsReviewed)
		}
		authorities = append(authorities, a)
	}
	return authorities, rows.Err()
}
