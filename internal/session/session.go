// Package session runs one client connection to an auction room.
package session

import (
	"auction-room/internal/biddingerrors"
	"auction-room/internal/models"
	"auction-room/internal/rooms"
	"auction-room/utils"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// State is the lifecycle position of a session
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config tunes a session
type Config struct {
	OutboxSize     int           `yaml:"outbox_size"`
	IncludeHistory bool          `yaml:"include_history"`
	RateLimit      float64       `yaml:"rate_limit"` // proposals per second, 0 = unlimited
	RateBurst      int           `yaml:"rate_burst"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"` // must exceed PingInterval
}

// DefaultConfig returns the default session settings
func DefaultConfig() Config {
	return Config{
		OutboxSize:     64,
		IncludeHistory: true,
		RateLimit:      10,
		RateBurst:      20,
		SubmitTimeout:  10 * time.Second,
		WriteTimeout:   5 * time.Second,
		PingInterval:   25 * time.Second,
		PongWait:       60 * time.Second,
	}
}

// Submitter admits bid proposals
type Submitter interface {
	Submit(ctx context.Context, auctionID string, proposal models.BidProposal) (models.BidRecord, error)
}

// LedgerReader supplies the catch-up snapshot
type LedgerReader interface {
	CurrentHighest(ctx context.Context, auctionID string) (models.Highest, error)
	History(ctx context.Context, auctionID string) ([]models.BidRecord, error)
}

// Rooms is the membership registry a session joins
type Rooms interface {
	Join(ctx context.Context, auctionID string, m rooms.Member) error
	Leave(auctionID, memberID string)
}

// Deps are the collaborators shared by all sessions
type Deps struct {
	Gate   Submitter
	Ledger LedgerReader
	Rooms  Rooms
}

var auctionIDValidator = validator.New()

// outbound is a queued message: either a bid event or a pre-encoded payload
type outbound struct {
	event   *models.BidEvent
	payload []byte
}

// Session is one client connected to one auction. It implements rooms.Member.
type Session struct {
	id        string
	auctionID string
	transport Transport
	deps      Deps
	cfg       Config
	limiter   *rate.Limiter

	state  atomic.Int32
	joined atomic.Bool

	outbox  chan outbound
	lastSeq int64 // highest seq written; owned by the writer

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a session for a freshly accepted transport
func New(transport Transport, auctionID string, deps Deps, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = def.OutboxSize
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Session{
		id:        utils.GenerateID(),
		auctionID: auctionID,
		transport: transport,
		deps:      deps,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, burst),
		outbox:    make(chan outbound, cfg.OutboxSize),
		done:      make(chan struct{}),
	}
}

// ID identifies the session within its room
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Serve runs the session until the client disconnects or ctx is done.
// A clean disconnect returns nil.
func (s *Session) Serve(ctx context.Context) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	defer s.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.Close()
		return s.writeLoop(gctx)
	})
	g.Go(func() error {
		defer s.Close()
		return s.readLoop(gctx)
	})
	return g.Wait()
}

// open joins the room and sends the catch-up snapshot
func (s *Session) open(ctx context.Context) error {
	if err := auctionIDValidator.Var(s.auctionID, "required,max=64,printascii"); err != nil {
		s.closeWith(ClosePolicyViolation, MsgAuctionUnavailable)
		return fmt.Errorf("session: invalid auction id %q: %w", s.auctionID, biddingerrors.ErrAuctionNotFound)
	}

	if _, err := s.deps.Ledger.CurrentHighest(ctx, s.auctionID); err != nil {
		return s.fail(err)
	}

	if err := s.deps.Rooms.Join(ctx, s.auctionID, s); err != nil {
		return s.fail(err)
	}
	s.joined.Store(true)

	// the room feed is live from here on, so the snapshot cannot miss a bid
	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return s.fail(err)
	}

	payload, err := json.Marshal(InitialStateMessage{Type: TypeInitialState, Data: snapshot})
	if err != nil {
		return s.fail(err)
	}
	if err := s.transport.WriteMessage(payload); err != nil {
		s.Close()
		return fmt.Errorf("session: write initial state: %w", err)
	}

	s.lastSeq = snapshot.Seq
	s.state.Store(int32(StateJoined))
	utils.Info("session: joined", map[string]any{
		"session_id": s.id,
		"auction_id": s.auctionID,
		"seq":        snapshot.Seq,
	})
	return nil
}

func (s *Session) snapshot(ctx context.Context) (Snapshot, error) {
	h, err := s.deps.Ledger.CurrentHighest(ctx, s.auctionID)
	if err != nil {
		return Snapshot{}, err
	}

	var history []models.BidRecord
	if s.cfg.IncludeHistory {
		all, err := s.deps.Ledger.History(ctx, s.auctionID)
		if err != nil {
			return Snapshot{}, err
		}
		// a bid committed between the two reads is delivered as new_bid instead
		for _, rec := range all {
			if rec.Seq <= h.Seq {
				history = append(history, rec)
			}
		}
	}
	return newSnapshot(s.auctionID, h, history), nil
}

// fail closes a session that could not be opened
func (s *Session) fail(err error) error {
	if biddingerrors.IsAuctionUnavailable(err) {
		s.closeWith(ClosePolicyViolation, MsgAuctionUnavailable)
		return fmt.Errorf("session: %w", err)
	}
	utils.Error("session: failed to open", map[string]any{
		"session_id": s.id,
		"auction_id": s.auctionID,
		"error":      err.Error(),
	})
	s.closeWith(CloseInternalError, MsgUnexpected)
	return fmt.Errorf("session: %w: %w", biddingerrors.ErrInternal, err)
}

// Deliver queues a bid event for the client. It never blocks: a full outbox
// closes the session.
func (s *Session) Deliver(ev models.BidEvent) error {
	return s.enqueue(outbound{event: &ev})
}

func (s *Session) enqueue(msg outbound) error {
	select {
	case <-s.done:
		return biddingerrors.ErrSessionClosed
	default:
	}

	select {
	case s.outbox <- msg:
		return nil
	default:
		utils.Warn("session: outbox full, closing slow consumer", map[string]any{
			"session_id": s.id,
			"auction_id": s.auctionID,
		})
		go s.Close()
		return biddingerrors.ErrSlowConsumer
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ping.C:
			if err := s.transport.Ping(); err != nil {
				if s.isClosed() || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("session: ping: %w", err)
			}
		case msg := <-s.outbox:
			payload := msg.payload
			if msg.event != nil {
				if msg.event.Seq <= s.lastSeq {
					continue
				}
				s.lastSeq = msg.event.Seq

				var err error
				if payload, err = json.Marshal(newBidMessage(*msg.event)); err != nil {
					return fmt.Errorf("session: encode new_bid: %w", err)
				}
			}
			if err := s.transport.WriteMessage(payload); err != nil {
				if s.isClosed() {
					return nil
				}
				return fmt.Errorf("session: write: %w", err)
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || s.isClosed() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session: read: %w", err)
		}

		if !s.limiter.Allow() {
			s.reply(ErrorMessage{Type: TypeError, Message: MsgRateLimited})
			continue
		}

		proposal, err := parseProposal(data)
		if err != nil {
			s.reply(ErrorMessage{Type: TypeError, Message: MsgInvalidFormat})
			continue
		}
		s.submit(ctx, proposal)
	}
}

// submit hands a proposal to the gate. The admission outlives the connection:
// once started it completes even if the client goes away.
func (s *Session) submit(ctx context.Context, proposal models.BidProposal) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SubmitTimeout)
	defer cancel()

	_, err := s.deps.Gate.Submit(sctx, s.auctionID, proposal)
	if err == nil {
		return
	}

	msg, unexpected := errorMessageFor(err)
	if unexpected {
		utils.Error("session: bid submission failed", map[string]any{
			"session_id": s.id,
			"auction_id": s.auctionID,
			"error":      err.Error(),
		})
	}
	s.reply(msg)
}

func (s *Session) reply(msg ErrorMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		utils.Error("session: failed to encode reply", map[string]any{"session_id": s.id, "error": err.Error()})
		return
	}
	_ = s.enqueue(outbound{payload: payload})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close leaves the room and closes the transport. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeWith(0, "")
	return s.closeErr
}

func (s *Session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		if s.joined.Load() {
			s.deps.Rooms.Leave(s.auctionID, s.id)
		}
		if code == 0 {
			s.closeErr = s.transport.Close()
		} else {
			s.closeErr = s.transport.CloseWith(code, reason)
		}
		utils.Debug("session: closed", map[string]any{"session_id": s.id, "auction_id": s.auctionID})
	})
}
