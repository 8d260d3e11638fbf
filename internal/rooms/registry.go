// Package rooms tracks the sessions connected to each auction and fans accepted
// bids out to them.
//
// Each room owns one fabric subscription per process. The room feed orders events by
// their ledger sequence number: stale and duplicate events are dropped, and a gap is
// filled from the ledger before anything newer is delivered.
package rooms

import (
	"auction-room/internal/fabric"
	"auction-room/internal/models"
	"auction-room/utils"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRegistryClosed is returned by Join after Close
var ErrRegistryClosed = errors.New("room registry closed")

// Member is a connected session. Deliver must neither block nor call back into the Registry.
type Member interface {
	ID() string
	Deliver(ev models.BidEvent) error
}

// SequenceSource is the part of the ledger a room feed reads from
type SequenceSource interface {
	CurrentHighest(ctx context.Context, auctionID string) (models.Highest, error)
	BidsSince(ctx context.Context, auctionID string, afterSeq int64) ([]models.BidRecord, error)
}

// Config tunes room feeds
type Config struct {
	// ResyncInterval makes every feed poll the ledger for bids the fabric did not
	// deliver. Zero disables polling; gaps are then only filled when a later event arrives.
	ResyncInterval time.Duration `yaml:"resync_interval"`
	// QueryTimeout bounds each ledger read made by a feed
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// Registry maps auction IDs to rooms
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*room
	closed bool

	source     SequenceSource
	subscriber fabric.Subscriber
	cfg        Config
}

// NewRegistry creates an empty registry
func NewRegistry(source SequenceSource, subscriber fabric.Subscriber, cfg Config) *Registry {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	return &Registry{
		rooms:      make(map[string]*room),
		source:     source,
		subscriber: subscriber,
		cfg:        cfg,
	}
}

// Join adds m to the auction's room, starting the room feed if m is the first member.
// When Join returns nil the feed is live: every bid committed from then on reaches m.
func (r *Registry) Join(ctx context.Context, auctionID string, m Member) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	rm, ok := r.rooms[auctionID]
	if !ok {
		rm = newRoom(auctionID, r)
		r.rooms[auctionID] = rm
	}
	rm.add(m)
	r.mu.Unlock()

	if !ok {
		rm.start(ctx)
	}

	select {
	case <-rm.ready:
	case <-ctx.Done():
		r.Leave(auctionID, m.ID())
		return fmt.Errorf("join room %s: %w", auctionID, ctx.Err())
	}
	if rm.startErr != nil {
		r.discard(rm)
		return fmt.Errorf("join room %s: %w", auctionID, rm.startErr)
	}

	utils.Info("rooms: member joined", map[string]any{
		"auction_id": auctionID,
		"member_id":  m.ID(),
	})
	return nil
}

// Leave removes a member. The room is torn down once it is empty.
func (r *Registry) Leave(auctionID, memberID string) {
	r.mu.Lock()
	rm, ok := r.rooms[auctionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	empty := rm.remove(memberID)
	if empty {
		delete(r.rooms, auctionID)
	}
	r.mu.Unlock()

	if empty {
		rm.stop()
		utils.Info("rooms: room closed", map[string]any{"auction_id": auctionID})
	}
}

// Broadcast delivers ev to every member of the auction's room on this process.
// A member whose Deliver fails is removed; the others still receive ev.
func (r *Registry) Broadcast(auctionID string, ev models.BidEvent) {
	r.mu.Lock()
	rm, ok := r.rooms[auctionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, id := range rm.deliver(ev) {
		r.Leave(auctionID, id)
	}
}

// discard drops a room whose feed failed to start, together with its members
func (r *Registry) discard(rm *room) {
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
	rm.stop()
}

// RoomCount returns the number of rooms with at least one member
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// MemberCount returns the number of members in an auction's room
func (r *Registry) MemberCount(auctionID string) int {
	r.mu.Lock()
	rm, ok := r.rooms[auctionID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return rm.size()
}

// MemberTotal returns the number of members across all rooms
func (r *Registry) MemberTotal() int {
	r.mu.Lock()
	live := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		live = append(live, rm)
	}
	r.mu.Unlock()

	total := 0
	for _, rm := range live {
		total += rm.size()
	}
	return total
}

// Close stops every room feed. Members are not notified.
func (r *Registry) Close() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*room)
	r.closed = true
	r.mu.Unlock()

	for _, rm := range rooms {
		rm.stop()
	}
}
