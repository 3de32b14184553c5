// Package db keeps reports, balances and review messages in MySQL.
package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"whispr/api"
	"whispr/common"

	"github.com/apex/log"
	"github.com/ethereum/go-ethereum/crypto"
	_ "github.com/go-sql-driver/mysql"
)

var (
	ErrNotFound  = errors.New("report not found")
	ErrForbidden = errors.New("unauthorized")
)

// RuleError is a request the store refuses on policy grounds. Its message is
// returned to the caller verbatim.
type RuleError struct {
	msg string
}

func (e *RuleError) Error() string {
	return e.msg
}

func ruleErrorf(format string, args ...interface{}) error {
	return &RuleError{msg: fmt.Sprintf(format, args...)}
}

const (
	maxTitleLength   = 200
	maxDescription   = 5000
	maxMessageLength = 2000
)

type Rules struct {
	MinStake          int64
	MaxStake          int64
	MaxEvidenceFiles  int
	MaxPendingReports int
	InitialBalance    int64
	RewardMultiplier  int64
}

func DefaultRules() Rules {
	return Rules{
		MinStake:          10,
		MaxStake:          1000,
		MaxEvidenceFiles:  10,
		MaxPendingReports: 5,
		InitialBalance:    250,
		RewardMultiplier:  10,
	}
}

// Pseudonym is the name a reporter is shown under for one report.
func Pseudonym(reporter, reportID string) string {
	h := crypto.Keccak256([]byte(reporter), []byte(reportID))
	return "Whispr_" + hex.EncodeToString(h[:6])
}

func parseID(id string) (int64, error) {
	seq, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || seq <= 0 {
		return 0, ErrNotFound
	}
	return seq, nil
}

func checkSubmission(rules Rules, a *api.SubmitReportArgs) error {
	switch n := utf8.RuneCountInString(strings.TrimSpace(a.Title)); {
	case n == 0:
		return ruleErrorf("Title is required")
	case n > maxTitleLength:
		return ruleErrorf("Title exceeds %d characters", maxTitleLength)
	}
	switch n := utf8.RuneCountInString(strings.TrimSpace(a.Description)); {
	case n == 0:
		return ruleErrorf("Description is required")
	case n > maxDescription:
		return ruleErrorf("Description exceeds %d characters", maxDescription)
	}
	if a.StakeAmount < rules.MinStake || a.StakeAmount > rules.MaxStake {
		return ruleErrorf("Stake must be between %d and %d tokens", rules.MinStake, rules.MaxStake)
	}
	if len(a.EvidenceFiles) > rules.MaxEvidenceFiles {
		return ruleErrorf("At most %d evidence files are allowed", rules.MaxEvidenceFiles)
	}
	return nil
}

// SubmitReport stores a new pending report and moves its stake from the
// reporter's balance to their active stakes.
func SubmitReport(ctx context.Context, db *sql.DB, rules Rules, reporter string, a *api.SubmitReportArgs) (*api.Report, error) {
	if err := checkSubmission(rules, a); err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "INSERT IGNORE INTO users (id, token_balance) VALUES (?, ?)", reporter, rules.InitialBalance)
	common.LogResult("ensureUser", result, err, false)
	if err != nil {
		return nil, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, "SELECT token_balance FROM users WHERE id = ? FOR UPDATE", reporter).Scan(&balance); err != nil {
		return nil, err
	}
	if balance < a.StakeAmount {
		return nil, ruleErrorf("Insufficient token balance: %d available, %d required", balance, a.StakeAmount)
	}

	var pending int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE reporter = ? AND status = 'pending'", reporter).Scan(&pending); err != nil {
		return nil, err
	}
	if pending >= rules.MaxPendingReports {
		return nil, ruleErrorf("Too many pending reports, at most %d are allowed", rules.MaxPendingReports)
	}

	category := strings.TrimSpace(a.Category)
	if category == "" {
		category = "other"
	}
	var (
		address  string
		lat, lng sql.NullFloat64
	)
	if a.Location != nil {
		address = a.Location.Address
		if c := a.Location.Coordinates; c != nil {
			lat = sql.NullFloat64{Float64: c.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: c.Lng, Valid: true}
		}
	}
	result, err = tx.ExecContext(ctx, `INSERT
	  INTO reports (reporter, title, description, category, address, latitude, longitude, incident_date, incident_time, stake_amount, review_notes)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')`,
		reporter, strings.TrimSpace(a.Title), strings.TrimSpace(a.Description), category, address, lat, lng, a.Date, a.Time, a.StakeAmount)
	common.LogResult("saveReport", result, err, true)
	if err != nil {
		return nil, err
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	files := make([]api.EvidenceFile, len(a.EvidenceFiles))
	for i, f := range a.EvidenceFiles {
		result, err = tx.ExecContext(ctx, `INSERT INTO evidence (report_seq, idx, name, type, size, last_modified) VALUES (?, ?, ?, ?, ?, ?)`,
			seq, i, f.Name, f.Type, f.Size, f.LastModified)
		common.LogResult("saveEvidence", result, err, true)
		if err != nil {
			return nil, err
		}
		f.EncodedContent = ""
		files[i] = f
	}

	result, err = tx.ExecContext(ctx, "UPDATE users SET token_balance = token_balance - ?, stakes_active = stakes_active + ? WHERE id = ?",
		a.StakeAmount, a.StakeAmount, reporter)
	common.LogResult("stake", result, err, true)
	if err != nil {
		return nil, err
	}

	if err := systemMessage(ctx, tx, seq, fmt.Sprintf("Report submitted with a stake of %d tokens.", a.StakeAmount)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing the transaction: %v", err)
		return nil, err
	}

	id := strconv.FormatInt(seq, 10)
	return &api.Report{
		ID:            id,
		Title:         strings.TrimSpace(a.Title),
		Description:   strings.TrimSpace(a.Description),
		Category:      category,
		Location:      a.Location,
		Date:          a.Date,
		Time:          a.Time,
		Status:        api.StatusPending,
		StakeAmount:   a.StakeAmount,
		EvidenceFiles: files,
		Pseudonym:     Pseudonym(reporter, id),
	}, nil
}

func systemMessage(ctx context.Context, tx *sql.Tx, seq int64, content string) error {
	result, err := tx.ExecContext(ctx, "INSERT INTO messages (report_seq, sender, content) VALUES (?, ?, ?)", seq, string(api.SenderSystem), content)
	common.LogResult("systemMessage", result, err, true)
	return err
}

const reportColumns = `r.seq, r.reporter, r.title, r.description, r.category, r.address, r.latitude, r.longitude,
	r.incident_date, r.incident_time, r.status, r.stake_amount, r.reward_amount, r.review_notes, r.review_date, r.reviewer, r.ts,
	EXISTS(SELECT 1 FROM messages m WHERE m.report_seq = r.seq AND m.sender <> 'system')`

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanReport reads one row of reportColumns and returns the report with its
// reporter.
func scanReport(s scanner) (*api.Report, string, error) {
	var (
		seq                       int64
		reporter, status, address string
		lat, lng                  sql.NullFloat64
		reviewDate                sql.NullTime
		submitted                 time.Time
		r                         api.Report
	)
	err := s.Scan(&seq, &reporter, &r.Title, &r.Description, &r.Category, &address, &lat, &lng,
		&r.Date, &r.Time, &status, &r.StakeAmount, &r.RewardAmount, &r.ReviewNotes, &reviewDate, &r.Reviewer,
		&submitted, &r.HasMessages)
	if err != nil {
		return nil, "", err
	}
	r.ID = strconv.FormatInt(seq, 10)
	r.DateSubmitted = submitted.UTC().Format(time.RFC3339)
	r.Status = api.Status(status)
	r.Pseudonym = Pseudonym(reporter, r.ID)
	if address != "" || lat.Valid {
		r.Location = &api.Location{Address: address}
		if lat.Valid && lng.Valid {
			r.Location.Coordinates = &api.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
		}
	}
	if reviewDate.Valid {
		r.ReviewDate = reviewDate.Time.UTC().Format(time.RFC3339)
	}
	return &r, reporter, nil
}

func queryReports(ctx context.Context, db *sql.DB, where string, args ...interface{}) ([]api.Report, error) {
	return selectReports(ctx, db, "SELECT "+reportColumns+" FROM reports r "+where+" ORDER BY r.seq DESC", args...)
}

func selectReports(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]api.Report, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Errorf("Could not retrieve reports: %v", err)
		return nil, err
	}
	defer rows.Close()

	reports := []api.Report{}
	for rows.Next() {
		r, _, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

func GetUserReports(ctx context.Context, db *sql.DB, reporter string) ([]api.Report, error) {
	return queryReports(ctx, db, "WHERE r.reporter = ?", reporter)
}

func GetReportsByStatus(ctx context.Context, db *sql.DB, status api.Status) ([]api.Report, error) {
	if !status.Valid() {
		return nil, ruleErrorf("Unknown status %q", status)
	}
	return queryReports(ctx, db, "WHERE r.status = ?", string(status))
}

func GetAllReports(ctx context.Context, db *sql.DB) ([]api.Report, error) {
	return queryReports(ctx, db, "")
}

// GetReport returns a report with its evidence metadata, and its reporter.
func GetReport(ctx context.Context, db *sql.DB, id string) (*api.Report, string, error) {
	seq, err := parseID(id)
	if err != nil {
		return nil, "", err
	}
	row := db.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM reports r WHERE r.seq = ?", seq)
	r, reporter, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}

	rows, err := db.QueryContext(ctx, "SELECT name, type, size, last_modified FROM evidence WHERE report_seq = ? ORDER BY idx", seq)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	for rows.Next() {
		var f api.EvidenceFile
		if err := rows.Scan(&f.Name, &f.Type, &f.Size, &f.LastModified); err != nil {
			return nil, "", err
		}
		r.EvidenceFiles = append(r.EvidenceFiles, f)
	}
	return r, reporter, rows.Err()
}

// ReportOwner returns the reporter of a report.
func ReportOwner(ctx context.Context, db *sql.DB, id string) (string, error) {
	seq, err := parseID(id)
	if err != nil {
		return "", err
	}
	var reporter string
	err = db.QueryRowContext(ctx, "SELECT reporter FROM reports WHERE seq = ?", seq).Scan(&reporter)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return reporter, err
}

// GetBalance returns the user's balance, or the initial balance for a user
// who has never submitted.
func GetBalance(ctx context.Context, db *sql.DB, rules Rules, user string) (int64, error) {
	var balance int64
	err := db.QueryRowContext(ctx, "SELECT token_balance FROM users WHERE id = ?", user).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.InitialBalance, nil
	}
	return balance, err
}

func IsAuthority(ctx context.Context, db *sql.DB, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM authorities WHERE id = ?", id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func GetAuthorityStatistics(ctx context.Context, db *sql.DB) (*api.AuthorityStatistics, error) {
	var s api.AuthorityStatistics
	err := db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(status = 'pending'), 0),
		COALESCE(SUM(status = 'under_review'), 0),
		COALESCE(SUM(status = 'verified'), 0),
		COALESCE(SUM(status = 'rejected'), 0),
		COALESCE(SUM(stake_amount), 0),
		COALESCE(SUM(reward_amount), 0)
		FROM reports`).Scan(&s.TotalReports, &s.PendingReports, &s.UnderReviewReports, &s.VerifiedReports,
		&s.RejectedReports, &s.TotalStaked, &s.TotalRewardsDistributed)
	if err != nil {
		log.Errorf("Could not calculate authority statistics: %v", err)
		return nil, err
	}
	return &s, nil
}

// Review is the outcome of a review decision.
type Review struct {
	ReportID string
	Reporter string
	Status   api.Status
	Stake    int64
	Reward   int64
}

// VerifyReport accepts a pending or under-review report. The reporter gets
// the stake back plus a reward of stake × RewardMultiplier.
func VerifyReport(ctx context.Context, db *sql.DB, rules Rules, authority, id, notes string) (*Review, error) {
	return review(ctx, db, authority, id, func(ctx context.Context, tx *sql.Tx, rv *Review, prev api.Status) error {
		if prev.Terminal() {
			return ruleErrorf("Report is already %s", prev)
		}
		rv.Status = api.StatusVerified
		rv.Reward = rv.Stake * rules.RewardMultiplier
		if err := setReviewed(ctx, tx, rv, authority, notes); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `UPDATE users
			SET token_balance = token_balance + ?, stakes_active = stakes_active - ?, rewards_earned = rewards_earned + ?
			WHERE id = ?`, rv.Stake+rv.Reward, rv.Stake, rv.Reward, rv.Reporter)
		common.LogResult("creditReward", result, err, true)
		if err != nil {
			return err
		}
		return systemMessage(ctx, tx, mustSeq(rv.ReportID),
			fmt.Sprintf("Report verified. Stake of %d tokens returned with a reward of %d tokens.", rv.Stake, rv.Reward))
	})
}

// BulkVerifyReports verifies up to api.MaxBulkVerify reports one by one and
// returns the reviews that succeeded. Reports that cannot be verified are
// skipped.
func BulkVerifyReports(ctx context.Context, db *sql.DB, rules Rules, authority string, ids []string, notes string) ([]*Review, error) {
	if len(ids) == 0 {
		return nil, ruleErrorf("No reports to verify")
	}
	if len(ids) > api.MaxBulkVerify {
		return nil, ruleErrorf("Cannot bulk verify more than %d reports at once", api.MaxBulkVerify)
	}
	var reviews []*Review
	for _, id := range ids {
		rv, err := VerifyReport(ctx, db, rules, authority, id, notes)
		if err != nil {
			log.Warnf("Bulk verify by %s skipped report %s: %v", authority, id, err)
			continue
		}
		reviews = append(reviews, rv)
	}
	return reviews, nil
}

// RejectReport refuses a pending or under-review report. The stake is lost.
func RejectReport(ctx context.Context, db *sql.DB, authority, id, notes string) (*Review, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, ruleErrorf("Rejection notes are required")
	}
	return review(ctx, db, authority, id, func(ctx context.Context, tx *sql.Tx, rv *Review, prev api.Status) error {
		if prev.Terminal() {
			return ruleErrorf("Report is already %s", prev)
		}
		rv.Status = api.StatusRejected
		if err := setReviewed(ctx, tx, rv, authority, notes); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, "UPDATE users SET stakes_active = stakes_active - ?, stakes_lost = stakes_lost + ? WHERE id = ?",
			rv.Stake, rv.Stake, rv.Reporter)
		common.LogResult("forfeitStake", result, err, true)
		if err != nil {
			return err
		}
		return systemMessage(ctx, tx, mustSeq(rv.ReportID), fmt.Sprintf("Report rejected: %s", notes))
	})
}

func PutUnderReview(ctx context.Context, db *sql.DB, authority, id, notes string) (*Review, error) {
	return review(ctx, db, authority, id, func(ctx context.Context, tx *sql.Tx, rv *Review, prev api.Status) error {
		if prev != api.StatusPending {
			return ruleErrorf("Only pending reports can be put under review, report is %s", prev)
		}
		rv.Status = api.StatusUnderReview
		if err := setReviewed(ctx, tx, rv, authority, notes); err != nil {
			return err
		}
		return systemMessage(ctx, tx, mustSeq(rv.ReportID), "Report is under review.")
	})
}

func mustSeq(id string) int64 {
	seq, _ := strconv.ParseInt(id, 10, 64)
	return seq
}

// review locks the report row and runs apply inside one transaction.
func review(ctx context.Context, db *sql.DB, authority, id string, apply func(context.Context, *sql.Tx, *Review, api.Status) error) (*Review, error) {
	seq, err := parseID(id)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return nil, err
	}
	defer tx.Rollback()

	rv := &Review{ReportID: strconv.FormatInt(seq, 10)}
	var prev string
	err = tx.QueryRowContext(ctx, "SELECT reporter, status, stake_amount FROM reports WHERE seq = ? FOR UPDATE", seq).
		Scan(&rv.Reporter, &prev, &rv.Stake)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := apply(ctx, tx, rv, api.Status(prev)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing the transaction: %v", err)
		return nil, err
	}
	log.Infof("Report %s: %s -> %s by %s", rv.ReportID, prev, rv.Status, authority)
	return rv, nil
}

func setReviewed(ctx context.Context, tx *sql.Tx, rv *Review, authority, notes string) error {
	result, err := tx.ExecContext(ctx, `UPDATE reports
		SET status = ?, reward_amount = ?, review_notes = ?, review_date = ?, reviewer = ?
		WHERE seq = ?`, string(rv.Status), rv.Reward, notes, time.Now().UTC(), authority, mustSeq(rv.ReportID))
	common.LogResult("setReviewed", result, err, true)
	return err
}

func checkMessage(content string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	if n == 0 {
		return ruleErrorf("Message cannot be empty")
	}
	if n > maxMessageLength {
		return ruleErrorf("Message exceeds %d characters", maxMessageLength)
	}
	return nil
}

func SendMessage(ctx context.Context, db *sql.DB, id string, sender api.Sender, content string) (*api.Message, error) {
	if err := checkMessage(content); err != nil {
		return nil, err
	}
	seq, err := parseID(id)
	if err != nil {
		return nil, err
	}
	result, err := db.ExecContext(ctx, "INSERT INTO messages (report_seq, sender, content) VALUES (?, ?, ?)", seq, string(sender), content)
	common.LogResult("sendMessage", result, err, true)
	if err != nil {
		return nil, err
	}
	msgID, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &api.Message{
		ID:        msgID,
		ReportID:  strconv.FormatInt(seq, 10),
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func GetMessages(ctx context.Context, db *sql.DB, id string) ([]api.Message, error) {
	seq, err := parseID(id)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT id, sender, content, ts FROM messages WHERE report_seq = ? ORDER BY id", seq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []api.Message{}
	for rows.Next() {
		var (
			m      api.Message
			sender string
			ts     time.Time
		)
		if err := rows.Scan(&m.ID, &sender, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.ReportID = strconv.FormatInt(seq, 10)
		m.Sender = api.Sender(sender)
		m.Timestamp = ts.UTC().Format(time.RFC3339)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
