package server

import (
	"context"
	"encoding/json"

	"whispr/api"
	"whispr/backend/db"
	"whispr/backend/rabbitmq"
)

func (s *Server) submitReport(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	if principal == "" {
		return nil, db.ErrForbidden
	}
	var args api.SubmitReportArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	r, err := db.SubmitReport(ctx, s.db, s.rules, principal, &args)
	if err != nil {
		return nil, err
	}
	reportsSubmitted.Inc()
	s.publish(rabbitmq.RouteSubmitted, rabbitmq.ReportEvent{
		ReportID:    r.ID,
		Pseudonym:   r.Pseudonym,
		Status:      string(r.Status),
		StakeAmount: r.StakeAmount,
	})
	return r.ID, nil
}

func (s *Server) getUserReports(ctx context.Context, principal string, _ json.RawMessage) (interface{}, error) {
	if principal == "" {
		return nil, db.ErrForbidden
	}
	return db.GetUserReports(ctx, s.db, principal)
}

// getReport answers the report's submitter and authorities only.
func (s *Server) getReport(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	var args api.ReportIDArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	r, reporter, err := db.GetReport(ctx, s.db, args.ID)
	if err != nil {
		return nil, err
	}
	if principal == "" || principal != reporter {
		if err := s.requireAuthority(ctx, principal); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (s *Server) getUserBalance(ctx context.Context, principal string, _ json.RawMessage) (interface{}, error) {
	if principal == "" {
		return nil, db.ErrForbidden
	}
	return db.GetBalance(ctx, s.db, s.rules, principal)
}

// getUserInfo answers null for callers who never submitted.
func (s *Server) getUserInfo(ctx context.Context, principal string, _ json.RawMessage) (interface{}, error) {
	if principal == "" {
		return nil, nil
	}
	return db.GetUserInfo(ctx, s.db, principal)
}
