package server

import (
	"context"
	"encoding/json"

	"whispr/api"
	"whispr/backend/db"
)

// messageSender returns who principal speaks as on the report's thread: its
// reporter or an authority.
func (s *Server) messageSender(ctx context.Context, principal, id string) (api.Sender, error) {
	if principal == "" {
		return "", db.ErrForbidden
	}
	reporter, err := db.ReportOwner(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	if principal == reporter {
		return api.SenderReporter, nil
	}
	if err := s.requireAuthority(ctx, principal); err != nil {
		return "", err
	}
	return api.SenderAuthority, nil
}

func (s *Server) sendMessage(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	var args api.MessageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	sender, err := s.messageSender(ctx, principal, args.ID)
	if err != nil {
		return nil, err
	}
	return db.SendMessage(ctx, s.db, args.ID, sender, args.Content)
}

func (s *Server) getMessages(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	var args api.ReportIDArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if _, err := s.messageSender(ctx, principal, args.ID); err != nil {
		return nil, err
	}
	return db.GetMessages(ctx, s.db, args.ID)
}
