package repository

import (
	"auction-room/internal/biddingerrors"
	"auction-room/internal/models"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Helper to create a new Auction
func newAuction(id string, startingPrice string, status models.AuctionStatus) models.Auction {
	return models.Auction{
		ID:            id,
		Title:         fmt.Sprintf("%s title", id),
		StartingPrice: decimal.RequireFromString(startingPrice),
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
}

// appendBid commits a bid through the lock path without any price comparison
func appendBid(t *testing.T, l Ledger, auctionID, bidder, price string) models.BidRecord {
	t.Helper()
	var rec models.BidRecord
	err := l.WithAuctionLock(context.Background(), auctionID, func(tx LedgerTx) error {
		var err error
		rec, err = tx.Append(context.Background(), bidder, decimal.RequireFromString(price))
		return err
	})
	require.NoError(t, err)
	return rec
}

// runLedgerSuite exercises the Ledger contract against one implementation
func runLedgerSuite(t *testing.T, newLedger func(t *testing.T) Ledger) {
	ctx := context.Background()

	t.Run("current_highest_starting_price", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.AddAuction(ctx, newAuction("a1", "100.00", models.StatusOpen)))

		h, err := l.CurrentHighest(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, "100.00", models.FormatPrice(h.Price))
		require.Empty(t, h.Bidder)
		require.Zero(t, h.Seq)
	})

	t.Run("current_highest_unknown_and_closed", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.AddAuction(ctx, newAuction("closed", "10.00", models.StatusClosed)))

		_, err := l.CurrentHighest(ctx, "missing")
		require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound), "got %v", err)

		_, err = l.CurrentHighest(ctx, "closed")
		require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotOpen), "got %v", err)
	})

	t.Run("append_assigns_contiguous_seq", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.AddAuction(ctx, newAuction("a1", "100.00", models.StatusOpen)))

		first := appendBid(t, l, "a1", "A", "150.00")
		second := appendBid(t, l, "a1", "D", "150.01")
		require.Equal(t, int64(1), first.Seq)
		require.Equal(t, int64(2), second.Seq)
		require.NotEmpty(t, first.BidID)

		h, err := l.CurrentHighest(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, "150.01", models.FormatPrice(h.Price))
		require.Equal(t, "D", h.Bidder)
		require.Equal(t, int64(2), h.Seq)
	})

	t.Run("history_most_recent_first", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.AddAuction(ctx, newAuction("a1", "1.00", models.StatusOpen)))
		appendBid(t, l, "a1", "A", "2.00")
		appendBid(t, l, "a1", "B", "3.00")
		appendBid(t, l, "a1", "C", "4.00")

		history, err := l.History(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, history, 3)
		require.Equal(t, []string{"C", "B", "A"}, []string{history[0].BidderName, history[1].BidderName, history[2].BidderName})

		since, err := l.BidsSince(ctx, "a1", 1)
		require.NoError(t, err)
		require.Len(t, since, 2)
		require.Equal(t, int64(2), since[0].Seq)
		require.Equal(t, int64(3), since[1].Seq)

		none, err := l.BidsSince(ctx, "a1", 3)
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("history_unknown_auction", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.History(ctx, "missing")
		require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound))
	})

	t.Run("append_rejected_when_closed", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.AddAuction(ctx, newAuction("closed", "10.00", models.StatusClosed)))

		err := l.WithAuctionLock(ctx, "closed", func(tx LedgerTx) error {
			require.Equal(t, models.StatusClosed, tx.Auction().Status)
			_, err := tx.Append(ctx, "A", decimal.RequireFromString("20.00"))
			return err
		})
		require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotOpen), "got %v", err)
	})

	t.Run("lock_unknown_auction", func(t *testing.T) {
		l := newLedger(t)
		err := l.WithAuctionLock(ctx, "missing", func(tx LedgerTx) error { return nil })
		require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound))
	})

	t.Run("callback_error_discards_append", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.AddAuction(ctx, newAuction("a1", "1.00", models.StatusOpen)))

		boom := errors.New("boom")
		err := l.WithAuctionLock(ctx, "a1", func(tx LedgerTx) error {
			if _, err := tx.Append(ctx, "A", decimal.RequireFromString("2.00")); err != nil {
				return err
			}
			return boom
		})
		require.True(t, errors.Is(err, boom))

		if _, ok := l.(*MemoryRepo); ok {
			return // the in-memory ledger has no rollback
		}
		history, err := l.History(ctx, "a1")
		require.NoError(t, err)
		require.Empty(t, history)
	})

	t.Run("concurrent_read_compare_write", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.AddAuction(ctx, newAuction("a1", "100.00", models.StatusOpen)))

		var wg sync.WaitGroup
		concurrentCount := 20
		for i := 0; i < concurrentCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// every goroutine proposes the same price; only one may win
				_ = l.WithAuctionLock(ctx, "a1", func(tx LedgerTx) error {
					h, err := tx.CurrentHighest(ctx)
					if err != nil {
						return err
					}
					price := decimal.RequireFromString("150.00")
					if price.LessThanOrEqual(h.Price) {
						return &biddingerrors.BidTooLowError{Current: h.Price}
					}
					_, err = tx.Append(ctx, "racer", price)
					return err
				})
			}()
		}
		wg.Wait()

		history, err := l.History(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, history, 1)
	})
}
