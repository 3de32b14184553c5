package reportsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whispr/api"

	"github.com/apex/log"
	"github.com/golang/geo/s2"
)

// rawReport is a remote record before any field is trusted.
type rawReport struct {
	ID            json.RawMessage `json:"id"`
	Title         json.RawMessage `json:"title"`
	Description   json.RawMessage `json:"description"`
	Category      json.RawMessage `json:"category"`
	Location      json.RawMessage `json:"location"`
	Date          json.RawMessage `json:"date"`
	IncidentDate  json.RawMessage `json:"incident_date"`
	DateSubmitted json.RawMessage `json:"date_submitted"`
	Time          json.RawMessage `json:"time"`
	Status        json.RawMessage `json:"status"`
	StakeAmount   json.RawMessage `json:"stake_amount"`
	Stake         json.RawMessage `json:"stake"`
	RewardAmount  json.RawMessage `json:"reward_amount"`
	Reward        json.RawMessage `json:"reward"`
	EvidenceFiles json.RawMessage `json:"evidence_files"`
	HasMessages   json.RawMessage `json:"has_messages"`
	ReviewNotes   json.RawMessage `json:"review_notes"`
	ReviewDate    json.RawMessage `json:"review_date"`
	Reviewer      json.RawMessage `json:"reviewer"`
	Pseudonym     json.RawMessage `json:"pseudonym"`
}

// FieldIssue records a remote field that failed validation and was replaced
// by its default.
type FieldIssue struct {
	Field string
	Value string
}

func (i FieldIssue) String() string {
	return fmt.Sprintf("%s=%.40s", i.Field, i.Value)
}

// normalizeReport parses one remote record and fills the defaults. Every
// malformed field falls back to its default and is listed in the returned
// issues; only a record without a usable id is refused.
func normalizeReport(raw json.RawMessage, now time.Time) (api.Report, []FieldIssue, error) {
	r, issues, err := parseReport(raw)
	if err != nil {
		return r, issues, err
	}
	r, _ = fillDefaults(r, now)
	return r, issues, nil
}

// fillDefaults sets the category and date a record left empty and returns
// the fields it set. Records are merged with their cached copies before
// this runs, so a cached value always wins over a default.
func fillDefaults(r api.Report, now time.Time) (api.Report, []string) {
	var defaulted []string
	if r.Category == "" {
		r.Category = "other"
		defaulted = append(defaulted, "category")
	}
	if r.Date == "" {
		r.Date = now.Format(dateLayout)
		defaulted = append(defaulted, "date")
	}
	return r, defaulted
}

// parseReport parses one remote record without defaults: fields the store
// did not send, or sent malformed, stay empty.
func parseReport(raw json.RawMessage) (api.Report, []FieldIssue, error) {
	var rr rawReport
	if err := json.Unmarshal(raw, &rr); err != nil {
		return api.Report{}, nil, fmt.Errorf("record is not an object: %w", err)
	}

	var issues []FieldIssue
	bad := func(field string, v json.RawMessage) {
		issues = append(issues, FieldIssue{Field: field, Value: string(v)})
	}

	id, ok := asString(rr.ID)
	if !ok || id == "" {
		return api.Report{}, nil, fmt.Errorf("record has no usable id: %s", string(rr.ID))
	}

	r := api.Report{ID: id}
	r.Title = optString(rr.Title, "title", bad)
	r.Description = optString(rr.Description, "description", bad)
	r.Category = optString(rr.Category, "category", bad)
	r.Time = optString(rr.Time, "time", bad)
	r.ReviewNotes = optString(rr.ReviewNotes, "review_notes", bad)
	r.ReviewDate = optString(rr.ReviewDate, "review_date", bad)
	r.Reviewer = optString(rr.Reviewer, "reviewer", bad)
	r.Pseudonym = optString(rr.Pseudonym, "pseudonym", bad)

	status, known := parseStatus(rr.Status)
	if !known && !isAbsent(rr.Status) {
		bad("status", rr.Status)
	}
	r.Status = status

	for _, d := range []json.RawMessage{rr.Date, rr.IncidentDate, rr.DateSubmitted} {
		if isAbsent(d) {
			continue
		}
		if date, ok := parseDate(d); ok {
			r.Date = date
			break
		}
		bad("date", d)
	}
	if !isAbsent(rr.DateSubmitted) {
		if ts, ok := parseTimestamp(rr.DateSubmitted); ok {
			r.DateSubmitted = ts
		}
	}

	r.StakeAmount = firstAmount(bad, "stake_amount", rr.StakeAmount, rr.Stake)
	r.RewardAmount = firstAmount(bad, "reward_amount", rr.RewardAmount, rr.Reward)

	if !isAbsent(rr.HasMessages) {
		if err := json.Unmarshal(rr.HasMessages, &r.HasMessages); err != nil {
			bad("has_messages", rr.HasMessages)
		}
	}

	if !isAbsent(rr.Location) {
		loc, ok := parseLocation(rr.Location)
		if !ok {
			bad("location", rr.Location)
		}
		r.Location = loc
	}

	if !isAbsent(rr.EvidenceFiles) {
		files, ok := parseEvidence(rr.EvidenceFiles)
		if !ok {
			bad("evidence_files", rr.EvidenceFiles)
		}
		r.EvidenceFiles = files
	}

	return r, issues, nil
}

// normalizeReports parses a remote list and fills the defaults of every
// record.
func normalizeReports(method string, raw json.RawMessage, now time.Time) ([]api.Report, error) {
	reports, err := parseReports(method, raw)
	if err != nil {
		return nil, err
	}
	for i := range reports {
		reports[i], _ = fillDefaults(reports[i], now)
	}
	return reports, nil
}

// parseReports parses a remote list, dropping (and logging) records that
// cannot be identified. A value that is not a list is an error.
func parseReports(method string, raw json.RawMessage) ([]api.Report, error) {
	var items []json.RawMessage
	if isAbsent(raw) {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%s: expected a list: %w", method, err)
	}
	reports := make([]api.Report, 0, len(items))
	for i, item := range items {
		r, issues, err := parseReport(item)
		if err != nil {
			log.Warnf("%s: dropping record %d: %v", method, i, err)
			continue
		}
		if len(issues) > 0 {
			log.Warnf("%s: record %s had malformed fields %v, defaults applied", method, r.ID, issues)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func isAbsent(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// asString accepts a JSON string, a number, or a one-element optional
// ([] or ["x"]).
func asString(v json.RawMessage) (string, bool) {
	if isAbsent(v) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), true
	}
	var opt []json.RawMessage
	if err := json.Unmarshal(v, &opt); err == nil && len(opt) <= 1 {
		if len(opt) == 0 {
			return "", true
		}
		return asString(opt[0])
	}
	return "", false
}

func optString(v json.RawMessage, field string, bad func(string, json.RawMessage)) string {
	if isAbsent(v) {
		return ""
	}
	s, ok := asString(v)
	if !ok {
		bad(field, v)
	}
	return s
}

// asAmount accepts a non-negative integer as a number or numeric string.
func asAmount(v json.RawMessage) (int64, bool) {
	s, ok := asString(v)
	if !ok || s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, n >= 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func firstAmount(bad func(string, json.RawMessage), field string, vals ...json.RawMessage) int64 {
	for _, v := range vals {
		if isAbsent(v) {
			continue
		}
		if n, ok := asAmount(v); ok {
			return n
		}
		bad(field, v)
	}
	return 0
}

// parseStatus maps the wire spellings of a status, including tagged variants
// such as {"UnderReview": null}, to a Status. Anything unrecognized is
// pending with known=false.
func parseStatus(v json.RawMessage) (status api.Status, known bool) {
	tag, ok := asString(v)
	if !ok {
		var variant map[string]json.RawMessage
		if err := json.Unmarshal(v, &variant); err != nil || len(variant) != 1 {
			return api.StatusPending, false
		}
		for k := range variant {
			tag = k
		}
	}
	switch strings.ToLower(strings.ReplaceAll(tag, "_", "")) {
	case "pending":
		return api.StatusPending, true
	case "underreview":
		return api.StatusUnderReview, true
	case "verified", "approved":
		return api.StatusVerified, true
	case "rejected":
		return api.StatusRejected, true
	}
	return api.StatusPending, false
}

// parseDate accepts YYYY-MM-DD, RFC 3339 and unix nanosecond timestamps and
// returns the calendar date.
func parseDate(v json.RawMessage) (string, bool) {
	s, ok := asString(v)
	if !ok || s == "" {
		return "", false
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.Format(dateLayout), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(dateLayout), true
	}
	if ns, err := strconv.ParseInt(s, 10, 64); err == nil && ns > 0 {
		return time.Unix(0, ns).UTC().Format(dateLayout), true
	}
	return "", false
}

// parseTimestamp accepts RFC 3339 or unix nanoseconds and returns RFC 3339
// in UTC.
func parseTimestamp(v json.RawMessage) (string, bool) {
	s, ok := asString(v)
	if !ok || s == "" {
		return "", false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(time.RFC3339), true
	}
	if ns, err := strconv.ParseInt(s, 10, 64); err == nil && ns > 0 {
		return time.Unix(0, ns).UTC().Format(time.RFC3339), true
	}
	return "", false
}

// parseLocation accepts the structured form or a bare address string.
// Coordinates outside the valid lat/lng range are dropped.
func parseLocation(v json.RawMessage) (*api.Location, bool) {
	if s, ok := asString(v); ok {
		if s == "" {
			return nil, true
		}
		return &api.Location{Address: s}, true
	}
	var loc struct {
		Address     json.RawMessage `json:"address"`
		Coordinates *struct {
			Lat *float64 `json:"lat"`
			Lng *float64 `json:"lng"`
		} `json:"coordinates"`
	}
	if err := json.Unmarshal(v, &loc); err != nil {
		return nil, false
	}
	address, _ := asString(loc.Address)
	out := &api.Location{Address: address}
	if loc.Coordinates == nil {
		return out, true
	}
	c := loc.Coordinates
	if c.Lat == nil || c.Lng == nil || !s2.LatLngFromDegrees(*c.Lat, *c.Lng).IsValid() {
		return out, false
	}
	out.Coordinates = &api.Coordinates{Lat: *c.Lat, Lng: *c.Lng}
	return out, true
}

func parseEvidence(v json.RawMessage) ([]api.EvidenceFile, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, false
	}
	ok := true
	files := make([]api.EvidenceFile, 0, len(items))
	for _, item := range items {
		var f api.EvidenceFile
		if err := json.Unmarshal(item, &f); err != nil {
			ok = false
			continue
		}
		files = append(files, f)
	}
	return files, ok
}
