// Package reportsync keeps a reporter's view of their whistleblower reports
// consistent between the remote report store and a local cache. The remote
// store is authoritative; the cache keeps the client usable while the store
// cannot be reached.
package reportsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whispr/api"
	"whispr/kv"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

var errNoTransport = errors.New("no transport")

// Transport performs one remote store call. A non-nil error means the store
// could not be reached; an {"Err": ...} answer comes back as a Result.
type Transport interface {
	Call(ctx context.Context, method string, args interface{}) (api.Result, error)
}

type Client struct {
	transport Transport
	cache     cache
	cfg       Config
	validate  *validator.Validate
}

// New returns a client. A nil transport makes every remote call unavailable.
func New(t Transport, store kv.Store, cfg Config) *Client {
	if store == nil {
		store = kv.NewMemoryStore()
	}
	return &Client{
		transport: t,
		cache:     cache{store: store},
		cfg:       cfg.withDefaults(),
		validate:  validator.New(),
	}
}

// Submission is a new report as entered by the reporter.
type Submission struct {
	Title       string `validate:"required,max=200"`
	Description string `validate:"required,max=5000"`
	Category    string
	Location    *api.Location
	Date        string
	Time        string
	StakeAmount int64
	Evidence    []File
}

type SubmitResult struct {
	Success  bool   `json:"success"`
	ReportID string `json:"reportId"`
	// Provisional is set when the id was generated locally because the
	// store did not accept the report.
	Provisional bool `json:"provisional"`
}

func (c *Client) call(ctx context.Context, method string, args interface{}) (json.RawMessage, error) {
	if c.transport == nil {
		return nil, &unavailable{method: method, cause: errNoTransport}
	}
	res, err := c.transport.Call(ctx, method, args)
	if err != nil {
		return nil, &unavailable{method: method, cause: err}
	}
	if res.IsErr {
		return nil, &RemoteError{Method: method, Message: res.Err}
	}
	return res.Value, nil
}

func (c *Client) checkSubmission(s *Submission) error {
	s.Title = strings.TrimSpace(s.Title)
	s.Description = strings.TrimSpace(s.Description)
	s.Category = strings.TrimSpace(s.Category)
	if err := c.validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			reason := "is required"
			if fe.Tag() == "max" {
				reason = fmt.Sprintf("must be at most %s characters", fe.Param())
			}
			return &ValidationError{Field: strings.ToLower(fe.Field()), Reason: reason}
		}
		return err
	}
	if s.StakeAmount < c.cfg.MinStake {
		return &ValidationError{Field: "stake_amount", Reason: fmt.Sprintf("must be at least %d", c.cfg.MinStake)}
	}
	if s.StakeAmount > c.cfg.MaxStake {
		return &ValidationError{Field: "stake_amount", Reason: fmt.Sprintf("must be at most %d", c.cfg.MaxStake)}
	}
	if len(s.Evidence) > c.cfg.MaxEvidenceFiles {
		return &ValidationError{Field: "evidence_files", Reason: fmt.Sprintf("at most %d files", c.cfg.MaxEvidenceFiles)}
	}
	for _, f := range s.Evidence {
		if f.Size > c.cfg.MaxEvidenceSize {
			return &ValidationError{Field: "evidence_files", Reason: fmt.Sprintf("%s is larger than %d bytes", f.Name, c.cfg.MaxEvidenceSize)}
		}
	}
	return nil
}

// SubmitReport validates and submits a report. When the store cannot take
// it the report is kept locally under a provisional id and the submission
// still succeeds; it fails only on invalid input, or when neither the store
// nor the cache accepted it.
func (c *Client) SubmitReport(ctx context.Context, s Submission) (SubmitResult, error) {
	if err := c.checkSubmission(&s); err != nil {
		return SubmitResult{}, err
	}
	if s.Category == "" {
		s.Category = "other"
	}
	now := c.cfg.Now()

	evidence, err := c.encodeEvidence(ctx, s.Evidence)
	if errors.Is(err, ErrValidation) {
		return SubmitResult{}, err
	}
	skipRemote := err != nil
	if skipRemote {
		log.Errorf("Failed to encode evidence, keeping the report locally without it: %v", err)
		evidence = nil
	}

	args := api.SubmitReportArgs{
		Title:         s.Title,
		Description:   s.Description,
		Category:      s.Category,
		Location:      s.Location,
		Date:          s.Date,
		Time:          s.Time,
		StakeAmount:   s.StakeAmount,
		EvidenceFiles: evidence,
	}

	var reportID string
	if !skipRemote {
		raw, err := c.call(ctx, api.MethodSubmitReport, args)
		switch {
		case err == nil:
			if id, ok := asString(raw); ok && id != "" {
				reportID = id
			} else {
				log.Warnf("Report store accepted the report but returned no id: %.64s", string(raw))
			}
		case errors.Is(err, ErrRemoteRejected) && c.cfg.StrictSubmit:
			return SubmitResult{}, err
		default:
			log.Warnf("Keeping the report locally: %v", err)
		}
	}

	res := SubmitResult{Success: true, ReportID: reportID}
	if reportID == "" {
		res.ReportID = c.provisionalID(now.Unix())
		res.Provisional = true
	}

	date := s.Date
	if date == "" {
		date = now.Format(dateLayout)
	}
	record := api.Report{
		ID:            res.ReportID,
		Title:         s.Title,
		Description:   s.Description,
		Category:      s.Category,
		Location:      s.Location,
		Date:          date,
		Time:          s.Time,
		DateSubmitted: now.UTC().Format(time.RFC3339),
		Status:        api.StatusPending,
		StakeAmount:   s.StakeAmount,
		EvidenceFiles: evidence,
	}
	if err := c.cacheSubmission(record); err != nil {
		if res.Provisional {
			return SubmitResult{}, fmt.Errorf("report was neither stored remotely nor cached: %w", err)
		}
		log.Errorf("Report %s was stored but could not be cached: %v", res.ReportID, err)
	}
	log.Infof("Submitted report %s (provisional: %t)", res.ReportID, res.Provisional)
	return res, nil
}

func (c *Client) cacheSubmission(r api.Report) error {
	if err := c.cache.upsert(keyReports, basic(r)); err != nil {
		return err
	}
	return c.cache.upsert(keyReportDetails, r)
}

// provisionalID is the hex unix time of the submission, bumped past any id
// already in the cache.
func (c *Client) provisionalID(sec int64) string {
	for {
		id := "0x" + strconv.FormatInt(sec, 16)
		if !c.cache.has(id) {
			return id
		}
		sec++
	}
}

// GetUserReports returns the caller's reports: remote records first, merged
// with their cached counterparts, then reports only the cache knows about.
// If the store cannot be read the cached list is returned.
func (c *Client) GetUserReports(ctx context.Context) []api.Report {
	local := c.cache.load(keyReports)

	raw, err := c.call(ctx, api.MethodGetUserReports, nil)
	var remote []api.Report
	if err == nil {
		remote, err = parseReports(api.MethodGetUserReports, raw)
	}
	if err != nil {
		log.Warnf("Showing cached reports only: %v", err)
		if local == nil {
			return []api.Report{}
		}
		return local
	}

	now := c.cfg.Now()
	merged := mergeLists(remote, local)
	basics := make([]api.Report, len(merged))
	for i, r := range merged {
		var defaulted []string
		merged[i], defaulted = fillDefaults(r, now)
		if len(defaulted) > 0 {
			log.Debugf("Report %s has no %v anywhere, defaults applied", r.ID, defaulted)
		}
		basics[i] = basic(merged[i])
	}
	if err := c.cache.save(keyReports, basics); err != nil {
		log.Errorf("Failed to cache synced reports: %v", err)
	}
	return merged
}

// GetReportByID returns one report with its full details. Cached details
// fill in what the store does not keep, but status, amounts and review
// fields always come from the freshest source.
func (c *Client) GetReportByID(ctx context.Context, id string) (api.Report, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return api.Report{}, &ValidationError{Field: "id", Reason: "is required"}
	}
	detail, hasDetail := c.cache.find(keyReportDetails, id)

	basis, found := c.fetchReport(ctx, id)
	if !found {
		for _, r := range c.GetUserReports(ctx) {
			if r.ID == id {
				basis, found = r, true
				break
			}
		}
	}
	var r api.Report
	switch {
	case found && hasDetail:
		r = withDetails(basis, detail)
	case found:
		r = basis
	case hasDetail:
		r = detail
	default:
		return api.Report{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	r, _ = fillDefaults(r, c.cfg.Now())
	return r, nil
}

func (c *Client) fetchReport(ctx context.Context, id string) (api.Report, bool) {
	raw, err := c.call(ctx, api.MethodGetReport, api.ReportIDArgs{ID: id})
	if err != nil {
		log.Debugf("get_report %s: %v", id, err)
		return api.Report{}, false
	}
	if isAbsent(raw) {
		return api.Report{}, false
	}
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		reports, err := parseReports(api.MethodGetReport, raw)
		if err != nil || len(reports) == 0 {
			return api.Report{}, false
		}
		return reports[0], reports[0].ID == id
	}
	r, issues, err := parseReport(raw)
	if err != nil {
		log.Warnf("get_report %s: %v", id, err)
		return api.Report{}, false
	}
	if len(issues) > 0 {
		log.Warnf("get_report %s had malformed fields %v, defaults applied", id, issues)
	}
	return r, r.ID == id
}

func withDetails(basis, detail api.Report) api.Report {
	out := mergeReport(detail, basis)
	out.Status = basis.Status
	out.StakeAmount = basis.StakeAmount
	out.RewardAmount = basis.RewardAmount
	out.HasMessages = basis.HasMessages
	if basis.ReviewNotes != "" {
		out.ReviewNotes = basis.ReviewNotes
	}
	if basis.ReviewDate != "" {
		out.ReviewDate = basis.ReviewDate
	}
	if basis.Reviewer != "" {
		out.Reviewer = basis.Reviewer
	}
	return out
}

// GetTokenBalance returns the store's balance when reachable, else the last
// cached balance, else the starting balance.
func (c *Client) GetTokenBalance(ctx context.Context) int64 {
	raw, err := c.call(ctx, api.MethodGetUserBalance, nil)
	if err == nil {
		if n, ok := asAmount(raw); ok {
			if err := c.cache.setBalance(n); err != nil {
				log.Errorf("Failed to cache the balance: %v", err)
			}
			return n
		}
		err = fmt.Errorf("unreadable balance %.32s", string(raw))
	}
	log.Warnf("Using the cached balance: %v", err)

	if n, ok := c.cache.balance(); ok {
		return n
	}
	n := c.cfg.DefaultBalance
	if err := c.cache.setBalance(n); err != nil {
		log.Errorf("Failed to cache the balance: %v", err)
	}
	return n
}

// GetUserInfo returns the caller's ledger from the store. A caller the
// store has no record of gets ErrNotFound.
func (c *Client) GetUserInfo(ctx context.Context) (api.UserInfo, error) {
	var info api.UserInfo
	raw, err := c.call(ctx, api.MethodGetUserInfo, nil)
	if err != nil {
		return info, err
	}
	// An optional may also come as [] or [info].
	var opt []json.RawMessage
	if json.Unmarshal(raw, &opt) == nil {
		raw = nil
		if len(opt) == 1 {
			raw = opt[0]
		}
	}
	if isAbsent(raw) {
		return info, fmt.Errorf("%s: %w", api.MethodGetUserInfo, ErrNotFound)
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, fmt.Errorf("%s: malformed user info: %w", api.MethodGetUserInfo, err)
	}
	if err := c.cache.setBalance(info.TokenBalance); err != nil {
		log.Errorf("Failed to cache the balance: %v", err)
	}
	return info, nil
}

func (c *Client) GetAuthorityStatistics(ctx context.Context) (api.AuthorityStatistics, error) {
	var stats api.AuthorityStatistics
	raw, err := c.call(ctx, api.MethodGetAuthorityStatistics, nil)
	if err != nil {
		return stats, err
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return stats, fmt.Errorf("%s: malformed statistics: %w", api.MethodGetAuthorityStatistics, err)
	}
	return stats, nil
}

func (c *Client) GetReportsByStatus(ctx context.Context, status api.Status) ([]api.Report, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return c.reportList(ctx, api.MethodGetReportsByStatus, api.StatusArgs{Status: status})
}

func (c *Client) GetAllReports(ctx context.Context) ([]api.Report, error) {
	return c.reportList(ctx, api.MethodGetAllReports, nil)
}

func (c *Client) reportList(ctx context.Context, method string, args interface{}) ([]api.Report, error) {
	raw, err := c.call(ctx, method, args)
	if err != nil {
		return nil, err
	}
	reports, err := normalizeReports(method, raw, c.cfg.Now())
	if err != nil {
		return nil, err
	}
	return dedupe(reports), nil
}

func (c *Client) VerifyReport(ctx context.Context, id, notes string) error {
	return c.review(ctx, api.MethodVerifyReport, id, notes, false)
}

// RejectReport forfeits the reporter's stake. Notes are required.
func (c *Client) RejectReport(ctx context.Context, id, notes string) error {
	return c.review(ctx, api.MethodRejectReport, id, notes, true)
}

func (c *Client) PutUnderReview(ctx context.Context, id, notes string) error {
	return c.review(ctx, api.MethodPutUnderReview, id, notes, false)
}

func (c *Client) review(ctx context.Context, method, id, notes string, notesRequired bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if notesRequired && strings.TrimSpace(notes) == "" {
		return &ValidationError{Field: "notes", Reason: "are required"}
	}
	if _, err := c.call(ctx, method, api.ReviewArgs{ID: id, Notes: notes}); err != nil {
		return err
	}
	log.Infof("%s %s", method, id)
	return nil
}

func (c *Client) SendMessage(ctx context.Context, id, content string) (api.Message, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return api.Message{}, &ValidationError{Field: "id", Reason: "is required"}
	}
	if strings.TrimSpace(content) == "" {
		return api.Message{}, &ValidationError{Field: "content", Reason: "is required"}
	}
	raw, err := c.call(ctx, api.MethodSendMessage, api.MessageArgs{ID: id, Content: content})
	if err != nil {
		return api.Message{}, err
	}
	var msg api.Message
	if isAbsent(raw) {
		return msg, nil
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("%s: malformed message: %w", api.MethodSendMessage, err)
	}
	return msg, nil
}

func (c *Client) GetMessages(ctx context.Context, id string) ([]api.Message, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "is required"}
	}
	raw, err := c.call(ctx, api.MethodGetMessages, api.ReportIDArgs{ID: id})
	if err != nil {
		return nil, err
	}
	msgs := []api.Message{}
	if isAbsent(raw) {
		return msgs, nil
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("%s: malformed messages: %w", api.MethodGetMessages, err)
	}
	return msgs, nil
}
