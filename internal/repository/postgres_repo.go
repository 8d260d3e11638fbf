package repository

import (
	"auction-room/internal/biddingerrors"
	"auction-room/internal/models"
	"auction-room/utils"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS auctions (
	id VARCHAR(64) PRIMARY KEY,
	title VARCHAR(255) NOT NULL,
	starting_price NUMERIC(12,2) NOT NULL CHECK (starting_price > 0),
	status VARCHAR(16) NOT NULL DEFAULT 'open',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS bid_history (
	id UUID PRIMARY KEY,
	auction_id VARCHAR(64) NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
	seq BIGINT NOT NULL,
	bidder_name VARCHAR(255) NOT NULL,
	price NUMERIC(12,2) NOT NULL CHECK (price > 0),
	accepted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (auction_id, seq),
	UNIQUE (auction_id, price)
);
`

// PostgreSQL error codes treated as retryable lock conflicts
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

// PostgresRepo is a Ledger shared by every server instance. Exclusion is the auction
// row lock taken with SELECT ... FOR UPDATE and held until commit or rollback.
type PostgresRepo struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresRepo connects to databaseURL and applies the ledger schema
func NewPostgresRepo(ctx context.Context, databaseURL string, lockTimeout time.Duration) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres ledger: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres ledger: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres ledger: %w", err)
	}

	return &PostgresRepo{pool: pool, lockTimeout: lockTimeout}, nil
}

// AddAuction inserts or replaces an auction
func (r *PostgresRepo) AddAuction(ctx context.Context, auction models.Auction) error {
	if auction.CreatedAt.IsZero() {
		auction.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auctions (id, title, starting_price, status, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, starting_price = EXCLUDED.starting_price, status = EXCLUDED.status`,
		auction.ID, auction.Title, models.FormatPrice(auction.StartingPrice), string(auction.Status), auction.CreatedAt)
	if err != nil {
		return fmt.Errorf("add auction %s: %w", auction.ID, err)
	}
	return nil
}

// CurrentHighest returns the latest accepted bid, or the starting price when there is none
func (r *PostgresRepo) CurrentHighest(ctx context.Context, auctionID string) (models.Highest, error) {
	auction, err := pgFindAuction(ctx, r.pool, auctionID, false)
	if err != nil {
		return models.Highest{}, fmt.Errorf("current highest for auction %s: %w", auctionID, err)
	}
	if !auction.IsOpen() {
		return models.Highest{}, fmt.Errorf("current highest for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotOpen)
	}
	h, err := pgLatestBid(ctx, r.pool, auction)
	if err != nil {
		return models.Highest{}, fmt.Errorf("current highest for auction %s: %w", auctionID, err)
	}
	return h, nil
}

// History returns all accepted bids for an auction, most recent first
func (r *PostgresRepo) History(ctx context.Context, auctionID string) ([]models.BidRecord, error) {
	if _, err := pgFindAuction(ctx, r.pool, auctionID, false); err != nil {
		return nil, fmt.Errorf("history for auction %s: %w", auctionID, err)
	}
	recs, err := pgQueryBids(ctx, r.pool, `
		SELECT id::text, auction_id, seq, bidder_name, price::text, accepted_at
		FROM bid_history WHERE auction_id = $1 ORDER BY seq DESC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("history for auction %s: %w", auctionID, err)
	}
	return recs, nil
}

// BidsSince returns the bids committed after afterSeq, in commit order
func (r *PostgresRepo) BidsSince(ctx context.Context, auctionID string, afterSeq int64) ([]models.BidRecord, error) {
	recs, err := pgQueryBids(ctx, r.pool, `
		SELECT id::text, auction_id, seq, bidder_name, price::text, accepted_at
		FROM bid_history WHERE auction_id = $1 AND seq > $2 ORDER BY seq ASC`, auctionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("bids since %d for auction %s: %w", afterSeq, auctionID, err)
	}
	return recs, nil
}

// WithAuctionLock runs fn in a transaction that holds the auction row lock
func (r *PostgresRepo) WithAuctionLock(ctx context.Context, auctionID string, fn func(tx LedgerTx) error) error {
	err := pgx.BeginFunc(ctx, r.pool, func(pgTx pgx.Tx) error {
		if timeout := lockTimeoutFor(ctx, r.lockTimeout); timeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())
			if _, err := pgTx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		auction, err := pgFindAuction(ctx, pgTx, auctionID, true)
		if err != nil {
			return err
		}
		tx := &postgresTx{tx: pgTx, auction: auction}
		defer func() { tx.done = true }()
		return fn(tx)
	})
	if err != nil {
		return fmt.Errorf("lock auction %s: %w", auctionID, classifyPgError(err))
	}
	return nil
}

// Close releases the connection pool
func (r *PostgresRepo) Close() error {
	r.pool.Close()
	return nil
}

// pgQuerier is satisfied by both the pool and a transaction
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgFindAuction(ctx context.Context, q pgQuerier, auctionID string, forUpdate bool) (models.Auction, error) {
	query := `SELECT id, title, starting_price::text, status, created_at FROM auctions WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		a      models.Auction
		price  string
		status string
	)
	err := q.QueryRow(ctx, query, auctionID).Scan(&a.ID, &a.Title, &price, &status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Auction{}, biddingerrors.ErrAuctionNotFound
		}
		return models.Auction{}, err
	}
	a.Status = models.AuctionStatus(status)
	if a.StartingPrice, err = decimal.NewFromString(price); err != nil {
		return models.Auction{}, fmt.Errorf("parse starting price %q: %w", price, err)
	}
	return a, nil
}

func pgLatestBid(ctx context.Context, q pgQuerier, auction models.Auction) (models.Highest, error) {
	var (
		h     models.Highest
		price string
	)
	err := q.QueryRow(ctx, `
		SELECT price::text, bidder_name, seq FROM bid_history
		WHERE auction_id = $1 ORDER BY seq DESC LIMIT 1`, auction.ID).Scan(&price, &h.Bidder, &h.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Highest{Price: auction.StartingPrice}, nil
	}
	if err != nil {
		return models.Highest{}, err
	}
	if h.Price, err = decimal.NewFromString(price); err != nil {
		return models.Highest{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	return h, nil
}

func pgQueryBids(ctx context.Context, q pgQuerier, sql string, args ...any) ([]models.BidRecord, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BidRecord
	for rows.Next() {
		var (
			rec   models.BidRecord
			price string
		)
		if err := rows.Scan(&rec.BidID, &rec.AuctionID, &rec.Seq, &rec.BidderName, &price, &rec.AcceptedAt); err != nil {
			return nil, err
		}
		if rec.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// lockTimeoutFor picks the server-side lock wait for a transaction. It stays well
// under the context deadline so that contention surfaces as 55P03 rather than as
// a cancelled connection. Zero disables the server-side timeout.
func lockTimeoutFor(ctx context.Context, base time.Duration) time.Duration {
	timeout := base
	if deadline, ok := ctx.Deadline(); ok {
		half := time.Until(deadline) / 2
		if timeout <= 0 || half < timeout {
			timeout = half
		}
	}
	if timeout <= 0 {
		return 0
	}
	// lock_timeout = 0 would mean wait forever
	return max(timeout, time.Millisecond)
}

// classifyPgError marks lock conflicts as transient so the admission gate retries them
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %w", biddingerrors.ErrTransient, err)
		case pgUniqueViolation:
			if pgErr.ConstraintName == "bid_history_auction_id_seq_key" {
				return fmt.Errorf("%w: %w", biddingerrors.ErrTransient, err)
			}
		}
	}
	return err
}

type postgresTx struct {
	tx      pgx.Tx
	auction models.Auction
	done    bool
}

func (tx *postgresTx) Auction() models.Auction {
	return tx.auction
}

func (tx *postgresTx) CurrentHighest(ctx context.Context) (models.Highest, error) {
	return pgLatestBid(ctx, tx.tx, tx.auction)
}

func (tx *postgresTx) Append(ctx context.Context, bidderName string, price decimal.Decimal) (models.BidRecord, error) {
	if tx.done {
		return models.BidRecord{}, fmt.Errorf("append to auction %s: lock already released", tx.auction.ID)
	}
	if !tx.auction.IsOpen() {
		return models.BidRecord{}, fmt.Errorf("append to auction %s: %w", tx.auction.ID, biddingerrors.ErrAuctionNotOpen)
	}

	current, err := pgLatestBid(ctx, tx.tx, tx.auction)
	if err != nil {
		return models.BidRecord{}, fmt.Errorf("append to auction %s: %w", tx.auction.ID, err)
	}

	rec := models.BidRecord{
		BidID:      utils.GenerateID(),
		AuctionID:  tx.auction.ID,
		Seq:        current.Seq + 1,
		BidderName: bidderName,
		Price:      price,
		AcceptedAt: time.Now().UTC(),
	}
	_, err = tx.tx.Exec(ctx, `
		INSERT INTO bid_history (id, auction_id, seq, bidder_name, price, accepted_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
		rec.BidID, rec.AuctionID, rec.Seq, rec.BidderName, models.FormatPrice(rec.Price), rec.AcceptedAt)
	if err != nil {
		return models.BidRecord{}, fmt.Errorf("append to auction %s: %w", tx.auction.ID, err)
	}
	return rec, nil
}
