package repository

import (
	"auction-room/internal/biddingerrors"
	"auction-room/internal/keylock"
	"auction-room/internal/models"
	"auction-room/utils"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger defines the bid storage interface for auction rooms
type Ledger interface {
	AddAuction(ctx context.Context, auction models.Auction) error
	CurrentHighest(ctx context.Context, auctionID string) (models.Highest, error)
	History(ctx context.Context, auctionID string) ([]models.BidRecord, error)
	BidsSince(ctx context.Context, auctionID string, afterSeq int64) ([]models.BidRecord, error)
	WithAuctionLock(ctx context.Context, auctionID string, fn func(tx LedgerTx) error) error
	Close() error
}

// LedgerTx is the view of one auction handed to WithAuctionLock callbacks.
// It is only valid until the callback returns.
type LedgerTx interface {
	Auction() models.Auction
	CurrentHighest(ctx context.Context) (models.Highest, error)
	Append(ctx context.Context, bidderName string, price decimal.Decimal) (models.BidRecord, error)
}

type auctionState struct {
	auction models.Auction
	bids    []models.BidRecord // commit order
}

// MemoryRepo is a concurrency-safe in-memory implementation of Ledger
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]*auctionState // key: auctionID
	locks    *keylock.Locker
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]*auctionState),
		locks:    keylock.New(),
	}
}

// AddAuction registers an auction
func (r *MemoryRepo) AddAuction(_ context.Context, auction models.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if auction.CreatedAt.IsZero() {
		auction.CreatedAt = time.Now().UTC()
	}
	if st, ok := r.auctions[auction.ID]; ok {
		st.auction = auction
		return nil
	}
	r.auctions[auction.ID] = &auctionState{auction: auction}
	return nil
}

// SetStatus changes an auction's status. This method is intended for tests and seeding only.
func (r *MemoryRepo) SetStatus(auctionID string, status models.AuctionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.auctions[auctionID]
	if !ok {
		return fmt.Errorf("set status for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	st.auction.Status = status
	return nil
}

// CurrentHighest returns the latest accepted bid, or the starting price when there is none
func (r *MemoryRepo) CurrentHighest(_ context.Context, auctionID string) (models.Highest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, err := r.openAuction(auctionID)
	if err != nil {
		return models.Highest{}, fmt.Errorf("current highest for auction %s: %w", auctionID, err)
	}
	return highestOf(st), nil
}

// History returns all accepted bids for an auction, most recent first
func (r *MemoryRepo) History(_ context.Context, auctionID string) ([]models.BidRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.auctions[auctionID]
	if !ok {
		return nil, fmt.Errorf("history for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	out := make([]models.BidRecord, 0, len(st.bids))
	for i := len(st.bids) - 1; i >= 0; i-- {
		out = append(out, st.bids[i])
	}
	return out, nil
}

// BidsSince returns the bids committed after afterSeq, in commit order
func (r *MemoryRepo) BidsSince(_ context.Context, auctionID string, afterSeq int64) ([]models.BidRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.auctions[auctionID]
	if !ok {
		return nil, fmt.Errorf("bids since %d for auction %s: %w", afterSeq, auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(st.bids)) {
		return nil, nil
	}
	return append([]models.BidRecord(nil), st.bids[afterSeq:]...), nil
}

// WithAuctionLock runs fn while holding the auction's exclusive slot
func (r *MemoryRepo) WithAuctionLock(ctx context.Context, auctionID string, fn func(tx LedgerTx) error) error {
	r.mu.RLock()
	_, ok := r.auctions[auctionID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lock auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	unlock, err := r.locks.Lock(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("lock auction %s: %w: %w", auctionID, biddingerrors.ErrTransient, err)
	}
	defer unlock()

	tx := &memoryTx{repo: r, auctionID: auctionID}
	defer func() { tx.done = true }()
	return fn(tx)
}

// Close is a no-op for the in-memory ledger
func (r *MemoryRepo) Close() error {
	return nil
}

func (r *MemoryRepo) openAuction(auctionID string) (*auctionState, error) {
	st, ok := r.auctions[auctionID]
	if !ok {
		return nil, biddingerrors.ErrAuctionNotFound
	}
	if !st.auction.IsOpen() {
		return nil, biddingerrors.ErrAuctionNotOpen
	}
	return st, nil
}

func highestOf(st *auctionState) models.Highest {
	if n := len(st.bids); n > 0 {
		last := st.bids[n-1]
		return models.Highest{Price: last.Price, Bidder: last.BidderName, Seq: last.Seq}
	}
	return models.Highest{Price: st.auction.StartingPrice}
}

type memoryTx struct {
	repo      *MemoryRepo
	auctionID string
	done      bool
}

func (tx *memoryTx) Auction() models.Auction {
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	return tx.repo.auctions[tx.auctionID].auction
}

func (tx *memoryTx) CurrentHighest(_ context.Context) (models.Highest, error) {
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	return highestOf(tx.repo.auctions[tx.auctionID]), nil
}

func (tx *memoryTx) Append(_ context.Context, bidderName string, price decimal.Decimal) (models.BidRecord, error) {
	if tx.done {
		return models.BidRecord{}, fmt.Errorf("append to auction %s: lock already released", tx.auctionID)
	}

	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()

	st, err := tx.repo.openAuction(tx.auctionID)
	if err != nil {
		return models.BidRecord{}, fmt.Errorf("append to auction %s: %w", tx.auctionID, err)
	}

	rec := models.BidRecord{
		BidID:      utils.GenerateID(),
		AuctionID:  tx.auctionID,
		Seq:        int64(len(st.bids)) + 1,
		BidderName: bidderName,
		Price:      price,
		AcceptedAt: time.Now().UTC(),
	}
	st.bids = append(st.bids, rec)
	return rec, nil
}
