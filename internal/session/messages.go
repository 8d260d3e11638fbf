package session

import (
	"auction-room/internal/biddingerrors"
	"auction-room/internal/models"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Outbound message types
const (
	TypeInitialState = "initial_state"
	TypeNewBid       = "new_bid"
	TypeError        = "error"
)

// Client-facing error texts
const (
	MsgAuctionUnavailable = "auction not found or closed"
	MsgUnexpected         = "An unexpected error occurred."
	MsgInvalidFormat      = "Invalid message format"
	MsgRateLimited        = "Too many bids, please slow down"
)

// HistoryEntry is one accepted bid in the catch-up snapshot
type HistoryEntry struct {
	Name       string    `json:"name"`
	Price      string    `json:"price"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Snapshot is the state a client receives on joining
type Snapshot struct {
	AuctionID string         `json:"auction_id"`
	Price     string         `json:"price"`
	Bidder    string         `json:"bidder"`
	Seq       int64          `json:"seq"`
	History   []HistoryEntry `json:"history"`
}

// InitialStateMessage is the first message of every session
type InitialStateMessage struct {
	Type string   `json:"type"`
	Data Snapshot `json:"data"`
}

// NewBidMessage announces an accepted bid
type NewBidMessage struct {
	Type   string `json:"type"`
	Price  string `json:"price"`
	Bidder string `json:"bidder"`
	Seq    int64  `json:"seq"`
}

// ErrorMessage is sent to the client whose proposal failed. Message is either a
// string or a list of biddingerrors.FieldError.
type ErrorMessage struct {
	Type         string `json:"type"`
	Message      any    `json:"message"`
	CurrentPrice string `json:"current_price,omitempty"`
}

// proposalFrame accepts the price as a JSON number or a string
type proposalFrame struct {
	Name  *string         `json:"name"`
	Price json.RawMessage `json:"price"`
}

// parseProposal decodes an inbound frame. Only malformed JSON is an error here;
// missing or empty fields are left to the admission gate.
func parseProposal(data []byte) (models.BidProposal, error) {
	var frame proposalFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return models.BidProposal{}, fmt.Errorf("decode proposal: %w", err)
	}

	var p models.BidProposal
	if frame.Name != nil {
		p.Name = *frame.Name
	}

	raw := bytes.TrimSpace(frame.Price)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &p.Price); err != nil {
			return models.BidProposal{}, fmt.Errorf("decode proposal price: %w", err)
		}
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return models.BidProposal{}, fmt.Errorf("decode proposal price: %w", err)
		}
		p.Price = n.String()
	}
	return p, nil
}

func newSnapshot(auctionID string, h models.Highest, history []models.BidRecord) Snapshot {
	s := Snapshot{
		AuctionID: auctionID,
		Price:     models.FormatPrice(h.Price),
		Bidder:    h.Bidder,
		Seq:       h.Seq,
		History:   make([]HistoryEntry, 0, len(history)),
	}
	for _, rec := range history {
		s.History = append(s.History, HistoryEntry{
			Name:       rec.BidderName,
			Price:      models.FormatPrice(rec.Price),
			AcceptedAt: rec.AcceptedAt,
		})
	}
	return s
}

func newBidMessage(ev models.BidEvent) NewBidMessage {
	return NewBidMessage{Type: TypeNewBid, Price: ev.Price, Bidder: ev.Bidder, Seq: ev.Seq}
}

// errorMessageFor maps a submission error to what the submitting client sees.
// The second result reports whether the error was unexpected.
func errorMessageFor(err error) (ErrorMessage, bool) {
	msg := ErrorMessage{Type: TypeError}

	var (
		verr   *biddingerrors.ValidationError
		tooLow *biddingerrors.BidTooLowError
	)
	switch {
	case errors.As(err, &verr):
		msg.Message = verr.Fields
	case errors.As(err, &tooLow):
		msg.Message = tooLow.Error()
		msg.CurrentPrice = models.FormatPrice(tooLow.Current)
	case biddingerrors.IsAuctionUnavailable(err):
		msg.Message = MsgAuctionUnavailable
	default:
		msg.Message = MsgUnexpected
		return msg, true
	}
	return msg, false
}
