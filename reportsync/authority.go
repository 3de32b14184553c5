package reportsync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"whispr/api"

	"github.com/apex/log"
)

// IsAuthority asks the store whether the caller may review reports.
func (c *Client) IsAuthority(ctx context.Context) (bool, error) {
	raw, err := c.call(ctx, api.MethodIsAuthority, nil)
	if err != nil {
		return false, err
	}
	var ok bool
	if isAbsent(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, fmt.Errorf("%s: malformed answer: %w", api.MethodIsAuthority, err)
	}
	return ok, nil
}

func (c *Client) AddAuthority(ctx context.Context, id string) error {
	return c.changeAuthority(ctx, api.MethodAddNewAuthority, id)
}

// RemoveAuthority fails for the caller's own id.
func (c *Client) RemoveAuthority(ctx context.Context, id string) error {
	return c.changeAuthority(ctx, api.MethodRemoveAuthority, id)
}

func (c *Client) changeAuthority(ctx context.Context, method, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if _, err := c.call(ctx, method, api.AuthorityArgs{ID: id}); err != nil {
		return err
	}
	log.Infof("%s %s", method, id)
	return nil
}

func (c *Client) GetAllAuthorities(ctx context.Context) ([]api.Authority, error) {
	raw, err := c.call(ctx, api.MethodGetAllAuthorities, nil)
	if err != nil {
		return nil, err
	}
	authorities := []api.Authority{}
	if isAbsent(raw) {
		return authorities, nil
	}
	if err := json.Unmarshal(raw, &authorities); err != nil {
		return nil, fmt.Errorf("%s: malformed authorities: %w", api.MethodGetAllAuthorities, err)
	}
	return authorities, nil
}

// BulkVerifyReports verifies up to api.MaxBulkVerify reports and returns
// the ids the store verified. Reports it could not verify are left out.
func (c *Client) BulkVerifyReports(ctx context.Context, ids []string, notes string) ([]string, error) {
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "ids", Reason: "is required"}
	}
	if len(ids) > api.MaxBulkVerify {
		return nil, &ValidationError{Field: "ids", Reason: fmt.Sprintf("at most %d reports at once", api.MaxBulkVerify)}
	}
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id == "" {
			return nil, &ValidationError{Field: "ids", Reason: "contains an empty id"}
		}
		clean = append(clean, id)
	}
	raw, err := c.call(ctx, api.MethodBulkVerifyReports, api.BulkVerifyArgs{IDs: clean, Notes: notes})
	if err != nil {
		return nil, err
	}
	verified := []string{}
	if isAbsent(raw) {
		return verified, nil
	}
	if err := json.Unmarshal(raw, &verified); err != nil {
		return nil, fmt.Errorf("%s: malformed answer: %w", api.MethodBulkVerifyReports, err)
	}
	log.Infof("%s: %d of %d verified", api.MethodBulkVerifyReports, len(verified), len(clean))
	return verified, nil
}

func (c *Client) GetReportsByCategory(ctx context.Context, category string) ([]api.Report, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, &ValidationError{Field: "category", Reason: "is required"}
	}
	return c.reportList(ctx, api.MethodGetReportsByCategory, api.CategoryArgs{Category: category})
}

// GetReportsByDateRange returns reports submitted between from and to,
// both included.
func (c *Client) GetReportsByDateRange(ctx context.Context, r api.DateRangeArgs) ([]api.Report, error) {
	if r.From.IsZero() || r.To.IsZero() {
		return nil, &ValidationError{Field: "date_range", Reason: "needs both ends"}
	}
	if r.To.Before(r.From) {
		return nil, &ValidationError{Field: "date_range", Reason: "ends before it starts"}
	}
	return c.reportList(ctx, api.MethodGetReportsByDateRange, r)
}

func (c *Client) SearchReports(ctx context.Context, filter api.SearchArgs) ([]api.Report, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	if filter.MinStake != nil && filter.MaxStake != nil && *filter.MaxStake < *filter.MinStake {
		return nil, &ValidationError{Field: "stake", Reason: "max_stake is below min_stake"}
	}
	return c.reportList(ctx, api.MethodSearchReports, filter)
}

// GetReportsPaginated returns page p of all reports, newest first, with the
// store's total count.
func (c *Client) GetReportsPaginated(ctx context.Context, p api.PageArgs) (api.ReportPage, error) {
	page := api.ReportPage{Reports: []api.Report{}}
	if p.Page < 0 {
		return page, &ValidationError{Field: "page", Reason: "must not be negative"}
	}
	if p.PageSize < 1 {
		return page, &ValidationError{Field: "page_size", Reason: "must be positive"}
	}
	raw, err := c.call(ctx, api.MethodGetReportsPaginated, p)
	if err != nil {
		return page, err
	}
	if isAbsent(raw) {
		return page, nil
	}
	var wire struct {
		Reports json.RawMessage `json:"reports"`
		Total   int64           `json:"total"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return page, fmt.Errorf("%s: malformed page: %w", api.MethodGetReportsPaginated, err)
	}
	reports, err := normalizeReports(api.MethodGetReportsPaginated, wire.Reports, c.cfg.Now())
	if err != nil {
		return page, err
	}
	if reports != nil {
		page.Reports = reports
	}
	page.Total = wire.Total
	return page, nil
}
