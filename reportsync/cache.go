package reportsync

import (
	"encoding/json"
	"strconv"

	"whispr/api"
	"whispr/kv"

	"github.com/apex/log"
)

const (
	keyReports       = "whispr_reports"
	keyReportDetails = "whispr_reports_details"
	keyTokenBalance  = "whispr_token_balance"
)

// cache is the local view: a basic list for dashboards, a detailed list
// with descriptions and evidence, and the last known balance. Reads never
// fail; unreadable entries count as empty.
type cache struct {
	store kv.Store
}

func (c cache) load(key string) []api.Report {
	v, ok, err := c.store.Get(key)
	if err != nil {
		log.Errorf("Failed to read %s from the local cache: %v", key, err)
		return nil
	}
	if !ok || v == "" {
		return nil
	}
	var reports []api.Report
	if err := json.Unmarshal([]byte(v), &reports); err != nil {
		log.Errorf("Ignoring unreadable %s in the local cache: %v", key, err)
		return nil
	}
	return dedupe(reports)
}

func (c cache) save(key string, reports []api.Report) error {
	b, err := json.Marshal(reports)
	if err != nil {
		return err
	}
	return c.store.Set(key, string(b))
}

// upsert merges r over a cached record with the same id in place, or
// prepends it.
func (c cache) upsert(key string, r api.Report) error {
	reports := c.load(key)
	for i := range reports {
		if reports[i].ID == r.ID {
			reports[i] = mergeReport(r, reports[i])
			return c.save(key, reports)
		}
	}
	return c.save(key, append([]api.Report{r}, reports...))
}

func (c cache) find(key, id string) (api.Report, bool) {
	for _, r := range c.load(key) {
		if r.ID == id {
			return r, true
		}
	}
	return api.Report{}, false
}

func (c cache) has(id string) bool {
	if _, ok := c.find(keyReports, id); ok {
		return true
	}
	_, ok := c.find(keyReportDetails, id)
	return ok
}

func (c cache) balance() (int64, bool) {
	v, ok, err := c.store.Get(keyTokenBalance)
	if err != nil {
		log.Errorf("Failed to read the cached balance: %v", err)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		log.Errorf("Ignoring unreadable cached balance %q", v)
		return 0, false
	}
	return n, true
}

func (c cache) setBalance(n int64) error {
	return c.store.Set(keyTokenBalance, strconv.FormatInt(n, 10))
}

// basic is the dashboard projection of a report.
func basic(r api.Report) api.Report {
	return api.Report{
		ID:            r.ID,
		Title:         r.Title,
		Category:      r.Category,
		Date:          r.Date,
		DateSubmitted: r.DateSubmitted,
		Status:        r.Status,
		StakeAmount:   r.StakeAmount,
		RewardAmount:  r.RewardAmount,
		HasMessages:   r.HasMessages,
	}
}

// mergeReport lays primary over secondary. Status, amounts and the message
// flag always come from primary; every other field comes from primary when
// set there. Evidence comes from secondary when primary has none with
// content, since the store may keep only file metadata.
func mergeReport(primary, secondary api.Report) api.Report {
	out := primary
	if out.Title == "" {
		out.Title = secondary.Title
	}
	if out.Description == "" {
		out.Description = secondary.Description
	}
	if out.Category == "" {
		out.Category = secondary.Category
	}
	if out.Location == nil {
		out.Location = secondary.Location
	}
	if out.Date == "" {
		out.Date = secondary.Date
	}
	if out.Time == "" {
		out.Time = secondary.Time
	}
	if out.DateSubmitted == "" {
		out.DateSubmitted = secondary.DateSubmitted
	}
	if out.ReviewNotes == "" {
		out.ReviewNotes = secondary.ReviewNotes
	}
	if out.ReviewDate == "" {
		out.ReviewDate = secondary.ReviewDate
	}
	if out.Reviewer == "" {
		out.Reviewer = secondary.Reviewer
	}
	if out.Pseudonym == "" {
		out.Pseudonym = secondary.Pseudonym
	}
	if len(secondary.EvidenceFiles) > 0 && !hasContent(out.EvidenceFiles) {
		out.EvidenceFiles = secondary.EvidenceFiles
	}
	if out.Status == "" {
		out.Status = secondary.Status
	}
	return out
}

func hasContent(files []api.EvidenceFile) bool {
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		if f.EncodedContent == "" {
			return false
		}
	}
	return true
}

// dedupe keeps the first record of every id, merging later duplicates into
// it. Records without an id are dropped.
func dedupe(reports []api.Report) []api.Report {
	index := make(map[string]int, len(reports))
	out := make([]api.Report, 0, len(reports))
	for _, r := range reports {
		if r.ID == "" {
			continue
		}
		if i, ok := index[r.ID]; ok {
			out[i] = mergeReport(out[i], r)
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// mergeLists returns remote records first, each merged with the local record
// sharing its id, followed by local-only records in cache order.
func mergeLists(remote, local []api.Report) []api.Report {
	localByID := make(map[string]api.Report, len(local))
	for _, r := range local {
		localByID[r.ID] = r
	}
	merged := dedupe(remote)
	seen := make(map[string]bool, len(merged))
	for i, r := range merged {
		if l, ok := localByID[r.ID]; ok {
			merged[i] = mergeReport(r, l)
		}
		seen[r.ID] = true
	}
	for _, l := range local {
		if !seen[l.ID] {
			merged = append(merged, l)
			seen[l.ID] = true
		}
	}
	return merged
}
