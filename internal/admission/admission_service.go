package admission

import (
	"auction-room/internal/biddingerrors"
	"auction-room/internal/fabric"
	"auction-room/internal/models"
	"auction-room/internal/repository"
	"auction-room/utils"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Config tunes retries around the ledger's exclusion mechanism
type Config struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	LockTimeout     time.Duration `yaml:"lock_timeout"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	PublishAttempts int           `yaml:"publish_attempts"`
	PublishTimeout  time.Duration `yaml:"publish_timeout"`
}

// DefaultConfig returns the default admission settings
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		LockTimeout:     2 * time.Second,
		RetryBackoff:    20 * time.Millisecond,
		PublishAttempts: 3,
		PublishTimeout:  time.Second,
	}
}

// Gate is the single place bids are admitted. It serializes the read-compare-write
// sequence per auction through the ledger and publishes every accepted bid.
type Gate struct {
	ledger    repository.Ledger
	publisher fabric.Publisher
	cfg       Config
	validate  *validator.Validate
}

// NewGate creates a new Gate instance
func NewGate(ledger repository.Ledger, publisher fabric.Publisher, cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.PublishAttempts <= 0 {
		cfg.PublishAttempts = def.PublishAttempts
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	return &Gate{
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		validate:  newValidator(),
	}
}

// Submit validates a proposal and commits it if it beats the current highest bid.
// Errors match biddingerrors.ErrInvalidBid, ErrBidTooLow, ErrAuctionNotOpen,
// ErrAuctionNotFound or ErrInternal.
func (g *Gate) Submit(ctx context.Context, auctionID string, proposal models.BidProposal) (models.BidRecord, error) {
	name, price, err := g.normalizeProposal(proposal)
	if err != nil {
		return models.BidRecord{}, fmt.Errorf("admission: %w", err)
	}

	rec, err := g.commit(ctx, auctionID, name, price)
	if err != nil {
		return models.BidRecord{}, err
	}

	// the bid is committed: a client that hangs up now must not cancel its relay
	g.publish(context.WithoutCancel(ctx), rec)
	return rec, nil
}

func (g *Gate) commit(ctx context.Context, auctionID, name string, price decimal.Decimal) (models.BidRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		rec, err := g.tryCommit(ctx, auctionID, name, price)
		switch {
		case err == nil:
			return rec, nil
		case isRejection(err):
			return models.BidRecord{}, fmt.Errorf("admission: %w", err)
		case !retryable(ctx, err):
			return models.BidRecord{}, fmt.Errorf("admission: %w: %w", biddingerrors.ErrInternal, err)
		}

		lastErr = err
		utils.Warn("admission: transient ledger conflict, retrying", map[string]any{
			"auction_id": auctionID,
			"attempt":    attempt,
			"error":      err.Error(),
		})
		if attempt < g.cfg.MaxAttempts {
			if err := sleepCtx(ctx, g.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
				return models.BidRecord{}, fmt.Errorf("admission: %w: %w", biddingerrors.ErrInternal, err)
			}
		}
	}
	return models.BidRecord{}, fmt.Errorf("admission: %w: gave up after %d attempts: %w",
		biddingerrors.ErrInternal, g.cfg.MaxAttempts, lastErr)
}

// tryCommit runs one read-compare-write attempt under the auction's exclusion
func (g *Gate) tryCommit(ctx context.Context, auctionID, name string, price decimal.Decimal) (models.BidRecord, error) {
	lockCtx, cancel := context.WithTimeout(ctx, g.cfg.LockTimeout)
	defer cancel()

	var rec models.BidRecord
	err := g.ledger.WithAuctionLock(lockCtx, auctionID, func(tx repository.LedgerTx) error {
		if !tx.Auction().IsOpen() {
			return biddingerrors.ErrAuctionNotOpen
		}

		current, err := tx.CurrentHighest(lockCtx)
		if err != nil {
			return err
		}
		// equal is too low: a tie never takes precedence
		if price.LessThanOrEqual(current.Price) {
			return &biddingerrors.BidTooLowError{Current: current.Price}
		}

		rec, err = tx.Append(lockCtx, name, price)
		return err
	})
	return rec, err
}

// publish relays an accepted bid. A failure is logged only: the bid stays committed
// and room feeds pick it up from the ledger on their next resync.
func (g *Gate) publish(ctx context.Context, rec models.BidRecord) {
	payload, err := json.Marshal(models.NewBidEvent(rec))
	if err != nil {
		utils.Error("admission: failed to encode bid event", map[string]any{"bid_id": rec.BidID, "error": err.Error()})
		return
	}

	for attempt := 1; attempt <= g.cfg.PublishAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, g.cfg.PublishTimeout)
		err = g.publisher.Publish(pctx, rec.AuctionID, payload)
		cancel()
		if err == nil {
			return
		}
		if attempt < g.cfg.PublishAttempts {
			if sleepCtx(ctx, g.cfg.RetryBackoff*time.Duration(attempt)) != nil {
				break
			}
		}
	}
	utils.Error("admission: failed to publish accepted bid", map[string]any{
		"auction_id": rec.AuctionID,
		"bid_id":     rec.BidID,
		"seq":        rec.Seq,
		"error":      err.Error(),
	})
}

// retryable reports whether a failed attempt may be repeated. An expired lock
// deadline while the caller's own context is still live means the auction lock
// was contended, which is retried like a reported conflict.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, biddingerrors.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

func isRejection(err error) bool {
	return errors.Is(err, biddingerrors.ErrBidTooLow) ||
		errors.Is(err, biddingerrors.ErrAuctionNotOpen) ||
		errors.Is(err, biddingerrors.ErrAuctionNotFound)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
