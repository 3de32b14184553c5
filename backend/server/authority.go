package server

import (
	"context"
	"encoding/json"

	"whispr/api"
	"whispr/backend/db"
)

// isAuthority tells the caller whether they may review. Anonymous callers
// are never authorities.
func (s *Server) isAuthority(ctx context.Context, principal string, _ json.RawMessage) (interface{}, error) {
	return db.IsAuthority(ctx, s.db, principal)
}

func (s *Server) addNewAuthority(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	var args api.AuthorityArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return nil, db.GrantAuthority(ctx, s.db, principal, args.ID)
}

func (s *Server) removeAuthority(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	var args api.AuthorityArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return nil, db.RevokeAuthority(ctx, s.db, principal, args.ID)
}

func (s *Server) getAllAuthorities(ctx context.Context, principal string, _ json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	return db.GetAllAuthorities(ctx, s.db)
}
