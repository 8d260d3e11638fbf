package biddingerrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionNotOpen  = errors.New("auction not open")
	ErrTransient       = errors.New("transient ledger conflict")
)

// business logic errors
var (
	ErrInvalidBid = errors.New("invalid bid")
	ErrBidTooLow  = errors.New("bid amount too low")
	ErrInternal   = errors.New("internal error")
)

// session errors
var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("outbound queue full")
)

// FieldError describes a single structural problem with a bid proposal
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed proposals. It matches ErrInvalidBid.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidBid, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidBid
}

// BidTooLowError carries the price a new bid has to exceed. It matches ErrBidTooLow.
type BidTooLowError struct {
	Current decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("Bid must be higher than %s", e.Current.StringFixed(2))
}

func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}

// IsAuctionUnavailable reports whether err means the auction cannot take part in bidding
func IsAuctionUnavailable(err error) bool {
	return errors.Is(err, ErrAuctionNotFound) || errors.Is(err, ErrAuctionNotOpen)
}
