package server

import (
	"context"
	"encoding/json"
	"time"

	"whispr/api"
	"whispr/backend/db"
	"whispr/backend/rabbitmq"

	"github.com/apex/log"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

const (
	payoutTimeout = 2 * time.Minute
	payoutBacklog = 64
)

func (s *Server) getAuthorityStatistics(ctx context.Context, principal string, _ json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	return db.GetAuthorityStatistics(ctx, s.db)
}

func (s *Server) getReportsByStatus(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	var args api.StatusArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return db.GetReportsByStatus(ctx, s.db, args.Status)
}

func (s *Server) getAllReports(ctx context.Context, principal string, _ json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	return db.GetAllReports(ctx, s.db)
}

func (s *Server) getReportsByCategory(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	var args api.CategoryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return db.GetReportsByCategory(ctx, s.db, args.Category)
}

func (s *Server) getReportsByDateRange(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	var args api.DateRangeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return db.GetReportsByDateRange(ctx, s.db, args)
}

func (s *Server) searchReports(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	var args api.SearchArgs
	if len(raw) > 0 {
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
	}
	return db.SearchReports(ctx, s.db, args)
}

func (s *Server) getReportsPaginated(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	var args api.PageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return db.GetReportsPaginated(ctx, s.db, args)
}

type reviewFunc func(ctx context.Context, authority string, args api.ReviewArgs) (*db.Review, error)

func (s *Server) reviewHandler(routingKey string, apply reviewFunc) handlerFunc {
	return func(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
		if err := s.requireAuthority(ctx, principal); err != nil {
			return nil, err
		}
		var args api.ReviewArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		rv, err := apply(ctx, principal, args)
		if err != nil {
			return nil, err
		}
		s.reviewed(routingKey, rv)
		return nil, nil
	}
}

// reviewed runs after a review has committed.
func (s *Server) reviewed(routingKey string, rv *db.Review) {
	reviewsTotal.WithLabelValues(string(rv.Status)).Inc()
	s.publish(routingKey, rabbitmq.ReportEvent{
		ReportID:     rv.ReportID,
		Pseudonym:    db.Pseudonym(rv.Reporter, rv.ReportID),
		Status:       string(rv.Status),
		StakeAmount:  rv.Stake,
		RewardAmount: rv.Reward,
	})
	if rv.Reward > 0 {
		s.payReward(rv)
	}
}

func (s *Server) verifyReport(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	return s.reviewHandler(rabbitmq.RouteVerified, func(ctx context.Context, authority string, args api.ReviewArgs) (*db.Review, error) {
		return db.VerifyReport(ctx, s.db, s.rules, authority, args.ID, args.Notes)
	})(ctx, principal, raw)
}

func (s *Server) rejectReport(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	return s.reviewHandler(rabbitmq.RouteRejected, func(ctx context.Context, authority string, args api.ReviewArgs) (*db.Review, error) {
		return db.RejectReport(ctx, s.db, authority, args.ID, args.Notes)
	})(ctx, principal, raw)
}

func (s *Server) putUnderReview(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	return s.reviewHandler(rabbitmq.RouteUnderReview, func(ctx context.Context, authority string, args api.ReviewArgs) (*db.Review, error) {
		return db.PutUnderReview(ctx, s.db, authority, args.ID, args.Notes)
	})(ctx, principal, raw)
}

// bulkVerifyReports answers the ids that were verified.
func (s *Server) bulkVerifyReports(ctx context.Context, principal string, raw json.RawMessage) (interface{}, error) {
	if err := s.requireAuthority(ctx, principal); err != nil {
		return nil, err
	}
	var args api.BulkVerifyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	reviews, err := db.BulkVerifyReports(ctx, s.db, s.rules, principal, args.IDs, args.Notes)
	if err != nil {
		return nil, err
	}
	verified := make([]string, 0, len(reviews))
	for _, rv := range reviews {
		s.reviewed(rabbitmq.RouteVerified, rv)
		verified = append(verified, rv.ReportID)
	}
	return verified, nil
}

// payReward queues the reward for an on-chain transfer when the reporter
// principal is an Ethereum address. It runs after the review has committed
// and never fails the call.
func (s *Server) payReward(rv *db.Review) {
	if s.payouts == nil || !ethcommon.IsHexAddress(rv.Reporter) {
		return
	}
	s.payouts <- rv
}

// payoutWorker sends queued rewards one at a time, so every transfer reads
// the wallet nonce after the previous one was sent.
func (s *Server) payoutWorker() {
	for rv := range s.payouts {
		ctx, cancel := context.WithTimeout(context.Background(), payoutTimeout)
		hash, err := s.payer.Pay(ctx, ethcommon.HexToAddress(rv.Reporter), rv.Reward)
		cancel()
		if err != nil {
			payoutsTotal.WithLabelValues("error").Inc()
			log.Errorf("Payout of %d tokens for report %s failed: %v", rv.Reward, rv.ReportID, err)
			continue
		}
		payoutsTotal.WithLabelValues("ok").Inc()
		log.Infof("Payout for report %s sent in %s", rv.ReportID, hash.Hex())
	}
}
