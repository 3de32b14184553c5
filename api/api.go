package api

import "time"

const (
	// APIVersion is sent in every request envelope.
	APIVersion = "2.0"

	// PrincipalHeader carries the caller identity.
	PrincipalHeader = "X-Whispr-Principal"
	RequestIDHeader = "X-Request-Id"
)

// Remote store methods. Each one is served as POST /<method>.
const (
	MethodSubmitReport           = "submit_report"
	MethodGetUserReports         = "get_user_reports"
	MethodGetMyReports           = "get_my_reports" // alias of get_user_reports
	MethodGetReport              = "get_report"
	MethodGetUserBalance         = "get_user_balance"
	MethodGetTokenBalance        = "get_token_balance" // alias of get_user_balance
	MethodGetAuthorityStatistics = "get_authority_statistics"
	MethodGetReportsByStatus     = "get_reports_by_status"
	MethodVerifyReport           = "verify_report"
	MethodRejectReport           = "reject_report"
	MethodPutUnderReview         = "put_under_review"
	MethodGetAllReports          = "get_all_reports"
	MethodSendMessage            = "send_message"
	MethodGetMessages            = "get_messages"
	MethodGetUserInfo            = "get_user_info"
	MethodBulkVerifyReports      = "bulk_verify_reports"
	MethodIsAuthority            = "is_authority"
	MethodAddNewAuthority        = "add_new_authority"
	MethodRemoveAuthority        = "remove_authority"
	MethodGetAllAuthorities      = "get_all_authorities"
	MethodGetReportsByCategory   = "get_reports_by_category"
	MethodGetReportsByDateRange  = "get_reports_by_date_range"
	MethodSearchReports          = "search_reports"
	MethodGetReportsPaginated    = "get_reports_paginated"
)

// MaxBulkVerify is the most reports one bulk_verify_reports call may name.
const MaxBulkVerify = 10

type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusVerified    Status = "verified"
	StatusRejected    Status = "rejected"
)

var Statuses = []Status{StatusPending, StatusUnderReview, StatusVerified, StatusRejected}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusVerified, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further review transition is possible.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusRejected
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Location struct {
	Address     string       `json:"address"`
	Coordinates *Coordinates `json:"coordinates"`
}

type EvidenceFile struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Size           int64  `json:"size"`
	EncodedContent string `json:"encoded_content,omitempty"` // data:<mime>;base64,<payload>
	LastModified   int64  `json:"last_modified"`             // unix millis
}

type Report struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Category      string         `json:"category"`
	Location      *Location      `json:"location,omitempty"`
	Date          string         `json:"date,omitempty"`
	Time          string         `json:"time,omitempty"`
	DateSubmitted string         `json:"date_submitted,omitempty"` // RFC 3339, set by the store
	Status        Status         `json:"status"`
	StakeAmount   int64          `json:"stake_amount"`
	RewardAmount  int64          `json:"reward_amount"`
	EvidenceFiles []EvidenceFile `json:"evidence_files,omitempty"`
	HasMessages   bool           `json:"has_messages"`
	ReviewNotes   string         `json:"review_notes,omitempty"`
	ReviewDate    string         `json:"review_date,omitempty"`
	Reviewer      string         `json:"reviewer,omitempty"`
	Pseudonym     string         `json:"pseudonym,omitempty"`
}

type SubmitReportArgs struct {
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	Location      *Location      `json:"location,omitempty"`
	Date          string         `json:"date,omitempty"`
	Time          string         `json:"time,omitempty"`
	StakeAmount   int64          `json:"stake_amount"`
	EvidenceFiles []EvidenceFile `json:"evidence_files,omitempty"`
}

type ReportIDArgs struct {
	ID string `json:"id"`
}

type StatusArgs struct {
	Status Status `json:"status"`
}

type ReviewArgs struct {
	ID    string `json:"id"`
	Notes string `json:"notes"`
}

type MessageArgs struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type BulkVerifyArgs struct {
	IDs   []string `json:"ids"`
	Notes string   `json:"notes"`
}

type AuthorityArgs struct {
	ID string `json:"id"`
}

type CategoryArgs struct {
	Category string `json:"category"`
}

// DateRangeArgs bounds the submission time, both ends included.
type DateRangeArgs struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SearchArgs filters reports; zero fields do not filter.
type SearchArgs struct {
	Keyword  string     `json:"keyword,omitempty"` // title or description, case-insensitive
	Category string     `json:"category,omitempty"`
	Status   Status     `json:"status,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	MinStake *int64     `json:"min_stake,omitempty"`
	MaxStake *int64     `json:"max_stake,omitempty"`
}

// PageArgs selects a page of all reports, newest first. Pages start at 0.
type PageArgs struct {
	Page     int64 `json:"page"`
	PageSize int64 `json:"page_size"`
}

type ReportPage struct {
	Reports []Report `json:"reports"`
	Total   int64    `json:"total"`
}

type Sender string

const (
	SenderReporter  Sender = "reporter"
	SenderAuthority Sender = "authority"
	SenderSystem    Sender = "system"
)

type Message struct {
	ID        int64  `json:"id"`
	ReportID  string `json:"report_id"`
	Sender    Sender `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type UserInfo struct {
	ID               string   `json:"id"`
	TokenBalance     int64    `json:"token_balance"`
	ReportsSubmitted []string `json:"reports_submitted"`
	RewardsEarned    int64    `json:"rewards_earned"`
	StakesActive     int64    `json:"stakes_active"`
	StakesLost       int64    `json:"stakes_lost"`
}

type Authority struct {
	ID              string  `json:"id"`
	ReportsReviewed int64   `json:"reports_reviewed"`
	ApprovalRate    float64 `json:"approval_rate"` // verified / (verified + rejected)
}

type AuthorityStatistics struct {
	TotalReports            int64 `json:"total_reports"`
	PendingReports          int64 `json:"pending_reports"`
	UnderReviewReports      int64 `json:"under_review_reports"`
	VerifiedReports         int64 `json:"verified_reports"`
	RejectedReports         int64 `json:"rejected_reports"`
	TotalStaked             int64 `json:"total_staked"`
	TotalRewardsDistributed int64 `json:"total_rewards_distributed"`
}
