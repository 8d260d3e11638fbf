package bidding

import (
	"auction-room/internal/admission"
	"auction-room/internal/biddingerrors"
	"auction-room/internal/fabric"
	model "auction-room/internal/models"
	"auction-room/internal/repository"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Tests PlaceBid end to end over the in-memory ledger
func TestBiddingService_PlaceBid(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	require.NoError(t, repo.AddAuction(ctx, model.Auction{
		ID: "item1", Title: "title1", StartingPrice: decimal.RequireFromString("100"), Status: model.StatusOpen,
	}))
	service := NewBiddingService(repo, admission.NewGate(repo, fabric.NewMemoryFabric(0), admission.DefaultConfig()))

	now := time.Now().UTC()

	// Table-driven test cases, run in order against shared state
	tests := []struct {
		name          string
		auctionID     string
		proposal      model.BidProposal
		expectedError error
		expectedSeq   int64
	}{
		{name: "valid_first_bid", auctionID: "item1", proposal: model.BidProposal{Name: "user1", Price: "150"}, expectedSeq: 1},
		{name: "empty_auction_id", auctionID: "", proposal: model.BidProposal{Name: "user1", Price: "200"}, expectedError: biddingerrors.ErrAuctionNotFound},
		{name: "unknown_auction", auctionID: "item9", proposal: model.BidProposal{Name: "user1", Price: "200"}, expectedError: biddingerrors.ErrAuctionNotFound},
		{name: "empty_name", auctionID: "item1", proposal: model.BidProposal{Name: "", Price: "200"}, expectedError: biddingerrors.ErrInvalidBid},
		{name: "zero_amount", auctionID: "item1", proposal: model.BidProposal{Name: "user1", Price: "0"}, expectedError: biddingerrors.ErrInvalidBid},
		{name: "bid_too_low", auctionID: "item1", proposal: model.BidProposal{Name: "user2", Price: "120"}, expectedError: biddingerrors.ErrBidTooLow},
		{name: "bid_equal", auctionID: "item1", proposal: model.BidProposal{Name: "user3", Price: "150.00"}, expectedError: biddingerrors.ErrBidTooLow},
		{name: "sub_cent_rounds_up", auctionID: "item1", proposal: model.BidProposal{Name: "user4", Price: "150.005"}, expectedSeq: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bid, err := service.PlaceBid(ctx, tc.auctionID, tc.proposal)

			if tc.expectedError != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, bid.BidID)
			require.Equal(t, tc.auctionID, bid.AuctionID)
			require.Equal(t, tc.proposal.Name, bid.BidderName)
			require.Equal(t, tc.expectedSeq, bid.Seq)
			require.WithinDuration(t, now, bid.AcceptedAt, 2*time.Second)
		})
	}

	h, err := service.GetHighest(ctx, "item1")
	require.NoError(t, err)
	require.Equal(t, "150.01", model.FormatPrice(h.Price))
}

// Tests GetHighest
func TestBiddingService_GetHighest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := repository.NewMockLedger(ctrl)
	service := NewBiddingService(mockRepo, nil)

	tests := []struct {
		name          string
		auctionID     string
		mockSetup     func()
		expectError   bool
		expectedError error
	}{
		{
			name:      "valid_auction",
			auctionID: "item1",
			mockSetup: func() {
				mockRepo.EXPECT().CurrentHighest(gomock.Any(), "item1").
					Return(model.Highest{Price: decimal.RequireFromString("150"), Bidder: "user1", Seq: 1}, nil)
			},
		},
		{
			name:          "empty_auction_id",
			auctionID:     "",
			mockSetup:     func() {},
			expectError:   true,
			expectedError: biddingerrors.ErrAuctionNotFound,
		},
		{
			name:      "closed_auction",
			auctionID: "item2",
			mockSetup: func() {
				mockRepo.EXPECT().CurrentHighest(gomock.Any(), "item2").Return(model.Highest{}, biddingerrors.ErrAuctionNotOpen)
			},
			expectError:   true,
			expectedError: biddingerrors.ErrAuctionNotOpen,
		},
		{
			name:      "repo_error",
			auctionID: "item3",
			mockSetup: func() {
				mockRepo.EXPECT().CurrentHighest(gomock.Any(), "item3").Return(model.Highest{}, errors.New("db failure"))
			},
			expectError: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel() // Run tests concurrently

			tc.mockSetup()

			h, err := service.GetHighest(context.Background(), tc.auctionID)
			if tc.expectError {
				require.Error(t, err)
				if tc.expectedError != nil {
					require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
				}
				return
			}
			require.NoError(t, err)
			require.Equal(t, "user1", h.Bidder)
			require.Equal(t, int64(1), h.Seq)
		})
	}
}

// Tests GetBids
func TestBiddingService_GetBids(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := repository.NewMockLedger(ctrl)
	service := NewBiddingService(mockRepo, nil)

	now := time.Now().UTC()
	bidsExample := []model.BidRecord{
		{BidID: "bid2", AuctionID: "item1", Seq: 2, BidderName: "user2", Price: decimal.RequireFromString("150"), AcceptedAt: now.Add(time.Second)},
		{BidID: "bid1", AuctionID: "item1", Seq: 1, BidderName: "user1", Price: decimal.RequireFromString("100"), AcceptedAt: now},
	}

	tests := []struct {
		name          string
		auctionID     string
		mockSetup     func()
		expectError   bool
		expectedError error
		expectedBids  []model.BidRecord
	}{
		{
			name:      "auction_with_bids",
			auctionID: "item1",
			mockSetup: func() {
				mockRepo.EXPECT().History(gomock.Any(), "item1").Return(bidsExample, nil)
			},
			expectedBids: bidsExample,
		},
		{
			name:      "auction_without_bids",
			auctionID: "item2",
			mockSetup: func() {
				mockRepo.EXPECT().History(gomock.Any(), "item2").Return([]model.BidRecord{}, nil)
			},
			expectedBids: []model.BidRecord{},
		},
		{
			name:          "empty_auction_id",
			auctionID:     "",
			mockSetup:     func() {},
			expectError:   true,
			expectedError: biddingerrors.ErrAuctionNotFound,
		},
		{
			name:      "unknown_auction",
			auctionID: "item3",
			mockSetup: func() {
				mockRepo.EXPECT().History(gomock.Any(), "item3").Return(nil, biddingerrors.ErrAuctionNotFound)
			},
			expectError:   true,
			expectedError: biddingerrors.ErrAuctionNotFound,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel() // Run tests concurrently

			tc.mockSetup()

			bids, err := service.GetBids(context.Background(), tc.auctionID)
			if tc.expectError {
				require.Error(t, err)
				if tc.expectedError != nil {
					require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
				}
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expectedBids, bids)
		})
	}
}
