package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"auction-room/internal/biddingerrors"
	"auction-room/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

var pgAuctionCounter atomic.Int64

// prefixedLedger gives every subtest its own auction namespace in a shared database
type prefixedLedger struct {
	*PostgresRepo
	prefix string
}

func TestPostgresRepo_Ledger(t *testing.T) {
	url := os.Getenv("AUCTION_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AUCTION_TEST_DATABASE_URL not set, skipping postgres integration test")
	}

	ctx := context.Background()
	repo, err := NewPostgresRepo(ctx, url, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	_, err = repo.pool.Exec(ctx, `TRUNCATE bid_history, auctions`)
	require.NoError(t, err)

	runLedgerSuite(t, func(t *testing.T) Ledger {
		return &prefixedLedger{PostgresRepo: repo, prefix: fmt.Sprintf("t%d-", pgAuctionCounter.Add(1))}
	})
}

func (p *prefixedLedger) AddAuction(ctx context.Context, a models.Auction) error {
	a.ID = p.prefix + a.ID
	return p.PostgresRepo.AddAuction(ctx, a)
}

func (p *prefixedLedger) CurrentHighest(ctx context.Context, id string) (models.Highest, error) {
	return p.PostgresRepo.CurrentHighest(ctx, p.prefix+id)
}

func (p *prefixedLedger) History(ctx context.Context, id string) ([]models.BidRecord, error) {
	return p.PostgresRepo.History(ctx, p.prefix+id)
}

func (p *prefixedLedger) BidsSince(ctx context.Context, id string, after int64) ([]models.BidRecord, error) {
	return p.PostgresRepo.BidsSince(ctx, p.prefix+id, after)
}

func (p *prefixedLedger) WithAuctionLock(ctx context.Context, id string, fn func(tx LedgerTx) error) error {
	return p.PostgresRepo.WithAuctionLock(ctx, p.prefix+id, fn)
}

// Close is a no-op; the shared pool is closed by the test cleanup
func (p *prefixedLedger) Close() error {
	return nil
}

func TestLockTimeoutFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     time.Duration
		deadline time.Duration
		min, max time.Duration
	}{
		{name: "no_deadline_keeps_base", base: 2 * time.Second, min: 2 * time.Second, max: 2 * time.Second},
		{name: "no_deadline_no_base", base: 0, min: 0, max: 0},
		{name: "base_equal_to_deadline_is_halved", base: 2 * time.Second, deadline: 2 * time.Second, min: 900 * time.Millisecond, max: time.Second},
		{name: "short_base_kept", base: 100 * time.Millisecond, deadline: 10 * time.Second, min: 100 * time.Millisecond, max: 100 * time.Millisecond},
		{name: "deadline_without_base", base: 0, deadline: 4 * time.Second, min: 1900 * time.Millisecond, max: 2 * time.Second},
		{name: "short_deadline", base: time.Second, deadline: 50 * time.Millisecond, min: time.Millisecond, max: 25 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.deadline > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.deadline)
				defer cancel()
			}

			got := lockTimeoutFor(ctx, tt.base)
			require.GreaterOrEqual(t, got, tt.min)
			require.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestClassifyPgError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "lock_not_available", err: &pgconn.PgError{Code: pgLockNotAvailable}, transient: true},
		{name: "deadlock", err: &pgconn.PgError{Code: pgDeadlockDetected}, transient: true},
		{name: "serialization_failure", err: &pgconn.PgError{Code: pgSerializationFailure}, transient: true},
		{name: "duplicate_seq", err: &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "bid_history_auction_id_seq_key"}, transient: true},
		{name: "duplicate_price", err: &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "bid_history_auction_id_price_key"}},
		{name: "wrapped_lock_not_available", err: fmt.Errorf("select auction: %w", &pgconn.PgError{Code: pgLockNotAvailable}), transient: true},
		{name: "other_error", err: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyPgError(tt.err)
			require.Equal(t, tt.transient, errors.Is(got, biddingerrors.ErrTransient))
			require.ErrorIs(t, got, tt.err)
		})
	}
}
