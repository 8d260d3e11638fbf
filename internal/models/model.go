package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits every accepted price carries
const PriceScale = 2

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusOpen   AuctionStatus = "open"
	StatusClosed AuctionStatus = "closed"
)

// Auction represents an auction room
type Auction struct {
	ID            string          `json:"auction_id"`
	Title         string          `json:"title"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	Status        AuctionStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IsOpen reports whether the auction accepts bids
func (a Auction) IsOpen() bool {
	return a.Status == StatusOpen
}

// BidRecord represents an accepted bid. Seq is the 1-based commit position within the auction.
type BidRecord struct {
	BidID      string          `json:"bid_id"`
	AuctionID  string          `json:"auction_id"`
	Seq        int64           `json:"seq"`
	BidderName string          `json:"bidder"`
	Price      decimal.Decimal `json:"price"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

// Highest is the current highest value of an auction. Bidder is empty and Seq is zero
// while only the starting price stands.
type Highest struct {
	Price  decimal.Decimal `json:"price"`
	Bidder string          `json:"bidder"`
	Seq    int64           `json:"seq"`
}

// BidProposal is a bid as submitted by a client, before validation
type BidProposal struct {
	Name  string
	Price string
}

// BidEvent is the message relayed between server instances for every accepted bid
type BidEvent struct {
	AuctionID  string    `json:"auction_id"`
	Seq        int64     `json:"seq"`
	BidID      string    `json:"bid_id"`
	Price      string    `json:"price"`
	Bidder     string    `json:"bidder"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// NewBidEvent builds the relay message for an accepted bid
func NewBidEvent(rec BidRecord) BidEvent {
	return BidEvent{
		AuctionID:  rec.AuctionID,
		Seq:        rec.Seq,
		BidID:      rec.BidID,
		Price:      FormatPrice(rec.Price),
		Bidder:     rec.BidderName,
		AcceptedAt: rec.AcceptedAt,
	}
}

// FormatPrice renders a price with exactly two fractional digits
func FormatPrice(p decimal.Decimal) string {
	return p.StringFixed(PriceScale)
}
