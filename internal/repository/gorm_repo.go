package repository

import (
	"auction-room/internal/biddingerrors"
	"auction-room/internal/keylock"
	"auction-room/internal/models"
	"auction-room/utils"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// auctionRow is the GORM entity for an auction
type auctionRow struct {
	ID            string          `gorm:"primarykey;size:64"`
	Title         string          `gorm:"size:255;not null"`
	StartingPrice decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Status        string          `gorm:"size:16;not null;default:open;index"`
	CreatedAt     time.Time
}

func (auctionRow) TableName() string {
	return "auctions"
}

// bidRow is the GORM entity for an accepted bid
type bidRow struct {
	ID         string          `gorm:"primarykey;size:36"`
	AuctionID  string          `gorm:"size:64;not null;uniqueIndex:idx_bid_auction_seq;uniqueIndex:idx_bid_auction_price"`
	Seq        int64           `gorm:"not null;uniqueIndex:idx_bid_auction_seq"`
	BidderName string          `gorm:"size:255;not null"`
	Price      decimal.Decimal `gorm:"type:decimal(12,2);not null;uniqueIndex:idx_bid_auction_price"`
	AcceptedAt time.Time       `gorm:"not null"`
}

func (bidRow) TableName() string {
	return "bid_history"
}

func (r auctionRow) toModel() models.Auction {
	return models.Auction{
		ID:            r.ID,
		Title:         r.Title,
		StartingPrice: r.StartingPrice,
		Status:        models.AuctionStatus(r.Status),
		CreatedAt:     r.CreatedAt,
	}
}

func (b bidRow) toModel() models.BidRecord {
	return models.BidRecord{
		BidID:      b.ID,
		AuctionID:  b.AuctionID,
		Seq:        b.Seq,
		BidderName: b.BidderName,
		Price:      b.Price,
		AcceptedAt: b.AcceptedAt,
	}
}

// GormRepo is a Ledger backed by a GORM database (SQLite in practice).
// The auction row is locked FOR UPDATE where the dialect supports it; the in-process
// key lock covers dialects without row locks.
type GormRepo struct {
	db    *gorm.DB
	locks *keylock.Locker
}

// OpenSQLite opens (and migrates) a SQLite ledger at path
func OpenSQLite(path string) (*GormRepo, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger %s: %w", path, err)
	}
	// SQLite allows a single writer; one connection also keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)

	return NewGormRepo(db)
}

// NewGormRepo wraps an open GORM handle and migrates the ledger tables
func NewGormRepo(db *gorm.DB) (*GormRepo, error) {
	if err := db.AutoMigrate(&auctionRow{}, &bidRow{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &GormRepo{db: db, locks: keylock.New()}, nil
}

// AddAuction inserts or replaces an auction
func (r *GormRepo) AddAuction(ctx context.Context, auction models.Auction) error {
	if auction.CreatedAt.IsZero() {
		auction.CreatedAt = time.Now().UTC()
	}
	row := auctionRow{
		ID:            auction.ID,
		Title:         auction.Title,
		StartingPrice: auction.StartingPrice,
		Status:        string(auction.Status),
		CreatedAt:     auction.CreatedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "starting_price", "status"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("add auction %s: %w", auction.ID, err)
	}
	return nil
}

// CurrentHighest returns the latest accepted bid, or the starting price when there is none
func (r *GormRepo) CurrentHighest(ctx context.Context, auctionID string) (models.Highest, error) {
	db := r.db.WithContext(ctx)
	auction, err := findAuction(db, auctionID, false)
	if err != nil {
		return models.Highest{}, fmt.Errorf("current highest for auction %s: %w", auctionID, err)
	}
	if !auction.IsOpen() {
		return models.Highest{}, fmt.Errorf("current highest for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotOpen)
	}
	h, err := latestBid(db, auction)
	if err != nil {
		return models.Highest{}, fmt.Errorf("current highest for auction %s: %w", auctionID, err)
	}
	return h, nil
}

// History returns all accepted bids for an auction, most recent first
func (r *GormRepo) History(ctx context.Context, auctionID string) ([]models.BidRecord, error) {
	db := r.db.WithContext(ctx)
	if _, err := findAuction(db, auctionID, false); err != nil {
		return nil, fmt.Errorf("history for auction %s: %w", auctionID, err)
	}

	var rows []bidRow
	if err := db.Where("auction_id = ?", auctionID).Order("seq DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("history for auction %s: %w", auctionID, err)
	}
	return toRecords(rows), nil
}

// BidsSince returns the bids committed after afterSeq, in commit order
func (r *GormRepo) BidsSince(ctx context.Context, auctionID string, afterSeq int64) ([]models.BidRecord, error) {
	var rows []bidRow
	err := r.db.WithContext(ctx).
		Where("auction_id = ? AND seq > ?", auctionID, afterSeq).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("bids since %d for auction %s: %w", afterSeq, auctionID, err)
	}
	return toRecords(rows), nil
}

// WithAuctionLock runs fn inside a transaction holding the auction row lock
func (r *GormRepo) WithAuctionLock(ctx context.Context, auctionID string, fn func(tx LedgerTx) error) error {
	unlock, err := r.locks.Lock(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("lock auction %s: %w: %w", auctionID, biddingerrors.ErrTransient, err)
	}
	defer unlock()

	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		auction, err := findAuction(db, auctionID, true)
		if err != nil {
			return fmt.Errorf("lock auction %s: %w", auctionID, err)
		}
		tx := &gormTx{db: db, auction: auction}
		defer func() { tx.done = true }()
		return fn(tx)
	})
}

// Close releases the underlying connection pool
func (r *GormRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func findAuction(db *gorm.DB, auctionID string, forUpdate bool) (models.Auction, error) {
	var row auctionRow
	q := db
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&row, "id = ?", auctionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Auction{}, biddingerrors.ErrAuctionNotFound
		}
		return models.Auction{}, err
	}
	return row.toModel(), nil
}

func latestBid(db *gorm.DB, auction models.Auction) (models.Highest, error) {
	var rows []bidRow
	if err := db.Where("auction_id = ?", auction.ID).Order("seq DESC").Limit(1).Find(&rows).Error; err != nil {
		return models.Highest{}, err
	}
	if len(rows) == 0 {
		return models.Highest{Price: auction.StartingPrice}, nil
	}
	return models.Highest{Price: rows[0].Price, Bidder: rows[0].BidderName, Seq: rows[0].Seq}, nil
}

func toRecords(rows []bidRow) []models.BidRecord {
	out := make([]models.BidRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}

type gormTx struct {
	db      *gorm.DB
	auction models.Auction
	done    bool
}

func (tx *gormTx) Auction() models.Auction {
	return tx.auction
}

func (tx *gormTx) CurrentHighest(_ context.Context) (models.Highest, error) {
	return latestBid(tx.db, tx.auction)
}

func (tx *gormTx) Append(_ context.Context, bidderName string, price decimal.Decimal) (models.BidRecord, error) {
	if tx.done {
		return models.BidRecord{}, fmt.Errorf("append to auction %s: lock already released", tx.auction.ID)
	}
	if !tx.auction.IsOpen() {
		return models.BidRecord{}, fmt.Errorf("append to auction %s: %w", tx.auction.ID, biddingerrors.ErrAuctionNotOpen)
	}

	current, err := latestBid(tx.db, tx.auction)
	if err != nil {
		return models.BidRecord{}, fmt.Errorf("append to auction %s: %w", tx.auction.ID, err)
	}

	row := bidRow{
		ID:         utils.GenerateID(),
		AuctionID:  tx.auction.ID,
		Seq:        current.Seq + 1,
		BidderName: bidderName,
		Price:      price,
		AcceptedAt: time.Now().UTC(),
	}
	if err := tx.db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.BidRecord{}, fmt.Errorf("append to auction %s: %w: %w", tx.auction.ID, biddingerrors.ErrTransient, err)
		}
		return models.BidRecord{}, fmt.Errorf("append to auction %s: %w", tx.auction.ID, err)
	}
	return row.toModel(), nil
}
