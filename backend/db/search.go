package db

import (
	"context"
	"database/sql"
	"strings"

	"whispr/api"
)

const maxPageSize = 100

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func GetReportsByCategory(ctx context.Context, db *sql.DB, category string) ([]api.Report, error) {
	return queryReports(ctx, db, "WHERE LOWER(r.category) = LOWER(?)", strings.TrimSpace(category))
}

// GetReportsByDateRange returns reports submitted between from and to,
// both included.
func GetReportsByDateRange(ctx context.Context, db *sql.DB, a api.DateRangeArgs) ([]api.Report, error) {
	if a.From.IsZero() || a.To.IsZero() {
		return nil, ruleErrorf("Both ends of the date range are required")
	}
	if a.To.Before(a.From) {
		return nil, ruleErrorf("Date range ends before it starts")
	}
	return queryReports(ctx, db, "WHERE r.ts BETWEEN ? AND ?", a.From.UTC(), a.To.UTC())
}

// SearchReports applies every filter set in a; with none set it returns all
// reports.
func SearchReports(ctx context.Context, db *sql.DB, a api.SearchArgs) ([]api.Report, error) {
	var (
		conds []string
		args  []interface{}
	)
	if k := strings.ToLower(strings.TrimSpace(a.Keyword)); k != "" {
		pattern := "%" + likeEscaper.Replace(k) + "%"
		conds = append(conds, "(LOWER(r.title) LIKE ? OR LOWER(r.description) LIKE ?)")
		args = append(args, pattern, pattern)
	}
	if c := strings.TrimSpace(a.Category); c != "" {
		conds = append(conds, "LOWER(r.category) = LOWER(?)")
		args = append(args, c)
	}
	if a.Status != "" {
		if !a.Status.Valid() {
			return nil, ruleErrorf("Unknown status %q", a.Status)
		}
		conds = append(conds, "r.status = ?")
		args = append(args, string(a.Status))
	}
	if a.From != nil {
		conds = append(conds, "r.ts >= ?")
		args = append(args, a.From.UTC())
	}
	if a.To != nil {
		conds = append(conds, "r.ts <= ?")
		args = append(args, a.To.UTC())
	}
	if a.MinStake != nil {
		conds = append(conds, "r.stake_amount >= ?")
		args = append(args, *a.MinStake)
	}
	if a.MaxStake != nil {
		conds = append(conds, "r.stake_amount <= ?")
		args = append(args, *a.MaxStake)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return queryReports(ctx, db, where, args...)
}

// GetReportsPaginated returns one page of all reports, newest first, and the
// total count. A page past the end is empty.
func GetReportsPaginated(ctx context.Context, db *sql.DB, a api.PageArgs) (*api.ReportPage, error) {
	if a.Page < 0 {
		return nil, ruleErrorf("Page must not be negative")
	}
	if a.PageSize < 1 || a.PageSize > maxPageSize {
		return nil, ruleErrorf("Page size must be between 1 and %d", maxPageSize)
	}
	page := &api.ReportPage{}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&page.Total); err != nil {
		return nil, err
	}
	offset := a.Page * a.PageSize
	if offset >= page.Total {
		page.Reports = []api.Report{}
		return page, nil
	}
	reports, err := selectReports(ctx, db, "SELECT "+reportColumns+" FROM reports r ORDER BY r.seq DESC LIMIT ? OFFSET ?", a.PageSize, offset)
	if err != nil {
		return nil, err
	}
	page.Reports = reports
	return page, nil
}
