package bidding

import (
	"auction-room/internal/biddingerrors"
	"auction-room/internal/models"
	"auction-room/internal/repository"
	"context"
	"fmt"
)

// BidSubmitter admits bid proposals
type BidSubmitter interface {
	Submit(ctx context.Context, auctionID string, proposal models.BidProposal) (models.BidRecord, error)
}

// BiddingService is the request/response view of an auction used by the HTTP API.
// Bids placed through it take the same admission path as WebSocket bids.
type BiddingService struct {
	repo repository.Ledger
	gate BidSubmitter
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.Ledger, gate BidSubmitter) *BiddingService {
	return &BiddingService{
		repo: repo,
		gate: gate,
	}
}

// PlaceBid submits a proposal for an auction
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID string, proposal models.BidProposal) (models.BidRecord, error) {
	if auctionID == "" {
		return models.BidRecord{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrAuctionNotFound)
	}

	rec, err := s.gate.Submit(ctx, auctionID, proposal)
	if err != nil {
		return models.BidRecord{}, fmt.Errorf("service: failed to place bid on auction %s: %w", auctionID, err)
	}
	return rec, nil
}

// GetHighest returns the current highest bid of an open auction
func (s *BiddingService) GetHighest(ctx context.Context, auctionID string) (models.Highest, error) {
	if auctionID == "" {
		return models.Highest{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrAuctionNotFound)
	}

	h, err := s.repo.CurrentHighest(ctx, auctionID)
	if err != nil {
		return models.Highest{}, fmt.Errorf("service: failed to get highest bid for auction %s: %w", auctionID, err)
	}
	return h, nil
}

// GetBids returns every accepted bid of an auction, most recent first
func (s *BiddingService) GetBids(ctx context.Context, auctionID string) ([]models.BidRecord, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrAuctionNotFound)
	}

	bids, err := s.repo.History(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}
