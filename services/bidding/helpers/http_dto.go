package helpers

import (
	"auction-room/internal/models"
	"encoding/json"
	"time"
)

// Request/Response DTOs

// PlaceBidRequest accepts the price as a JSON number or a numeric string
type PlaceBidRequest struct {
	Name  string      `json:"name"`
	Price json.Number `json:"price"`
}

type BidResponse struct {
	BidID      string `json:"bid_id"`
	AuctionID  string `json:"auction_id"`
	Seq        int64  `json:"seq"`
	Bidder     string `json:"bidder"`
	Price      string `json:"price"`
	AcceptedAt string `json:"accepted_at"`
}

type HighestResponse struct {
	AuctionID string `json:"auction_id"`
	Price     string `json:"price"`
	Bidder    string `json:"bidder"`
	Seq       int64  `json:"seq"`
}

type HealthResponse struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// NewBidResponse converts an accepted bid for the HTTP API
func NewBidResponse(rec models.BidRecord) BidResponse {
	return BidResponse{
		BidID:      rec.BidID,
		AuctionID:  rec.AuctionID,
		Seq:        rec.Seq,
		Bidder:     rec.BidderName,
		Price:      models.FormatPrice(rec.Price),
		AcceptedAt: rec.AcceptedAt.UTC().Format(time.RFC3339Nano),
	}
}
