package rooms

import (
	"auction-room/internal/fabric"
	"auction-room/internal/models"
	"auction-room/utils"
	"context"
	"encoding/json"
	"sync"
	"time"
)

type room struct {
	id  string
	reg *Registry

	mu      sync.RWMutex
	members map[string]Member

	ctx    context.Context
	cancel context.CancelFunc

	ready    chan struct{}
	startErr error // set before ready is closed

	lastSeq int64 // owned by the feed goroutine once started
}

func newRoom(id string, reg *Registry) *room {
	ctx, cancel := context.WithCancel(context.Background())
	return &room{
		id:      id,
		reg:     reg,
		members: make(map[string]Member),
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
	}
}

func (rm *room) add(m Member) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.members[m.ID()] = m
}

// remove reports whether the room is empty afterwards
func (rm *room) remove(memberID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.members, memberID)
	return len(rm.members) == 0
}

func (rm *room) size() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

func (rm *room) stop() {
	rm.cancel()
}

// start subscribes first and reads the ledger position second, so that no
// bid committed in between is lost.
func (rm *room) start(ctx context.Context) {
	defer close(rm.ready)

	sub, err := rm.reg.subscriber.Subscribe(ctx, rm.id)
	if err != nil {
		rm.startErr = err
		return
	}

	qctx, cancel := context.WithTimeout(ctx, rm.reg.cfg.QueryTimeout)
	defer cancel()
	h, err := rm.reg.source.CurrentHighest(qctx, rm.id)
	if err != nil {
		_ = sub.Close()
		rm.startErr = err
		return
	}
	rm.lastSeq = h.Seq

	go rm.run(sub)
}

func (rm *room) run(sub fabric.Subscription) {
	defer func() {
		if err := sub.Close(); err != nil {
			utils.Warn("rooms: failed to close subscription", map[string]any{"auction_id": rm.id, "error": err.Error()})
		}
	}()

	var tick <-chan time.Time
	if d := rm.reg.cfg.ResyncInterval; d > 0 {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		tick = ticker.C
	}

	msgs := sub.Messages()
	for {
		select {
		case <-rm.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				utils.Warn("rooms: fabric subscription ended, falling back to ledger resync", map[string]any{"auction_id": rm.id})
				msgs = nil
				continue
			}
			var ev models.BidEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				utils.Warn("rooms: dropping malformed bid event", map[string]any{"auction_id": rm.id, "error": err.Error()})
				continue
			}
			rm.handle(ev)
		case <-tick:
			rm.catchUp()
		}
	}
}

func (rm *room) handle(ev models.BidEvent) {
	if ev.AuctionID != rm.id {
		return
	}
	switch {
	case ev.Seq <= rm.lastSeq:
		// already delivered
	case ev.Seq == rm.lastSeq+1:
		rm.broadcast(ev)
	default:
		utils.Debug("rooms: sequence gap, reading from ledger", map[string]any{
			"auction_id": rm.id,
			"last_seq":   rm.lastSeq,
			"event_seq":  ev.Seq,
		})
		rm.catchUp()
	}
}

// catchUp delivers every committed bid after lastSeq, in order
func (rm *room) catchUp() {
	ctx, cancel := context.WithTimeout(rm.ctx, rm.reg.cfg.QueryTimeout)
	defer cancel()

	recs, err := rm.reg.source.BidsSince(ctx, rm.id, rm.lastSeq)
	if err != nil {
		if rm.ctx.Err() == nil {
			utils.Warn("rooms: ledger catch-up failed", map[string]any{"auction_id": rm.id, "error": err.Error()})
		}
		return
	}
	for _, rec := range recs {
		if rec.Seq != rm.lastSeq+1 {
			break
		}
		rm.broadcast(models.NewBidEvent(rec))
	}
}

func (rm *room) broadcast(ev models.BidEvent) {
	rm.lastSeq = ev.Seq
	for _, id := range rm.deliver(ev) {
		rm.reg.Leave(rm.id, id)
	}
}

// deliver hands ev to every member and returns the IDs of those that refused it
func (rm *room) deliver(ev models.BidEvent) []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var failed []string
	for id, m := range rm.members {
		if err := m.Deliver(ev); err != nil {
			utils.Warn("rooms: delivery failed, removing member", map[string]any{
				"auction_id": rm.id,
				"member_id":  id,
				"seq":        ev.Seq,
				"error":      err.Error(),
			})
			failed = append(failed, id)
		}
	}
	return failed
}
