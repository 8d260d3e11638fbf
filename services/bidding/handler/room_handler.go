package handler

import (
	"context"
	"net/http"
	"sync"

	"auction-room/internal/session"
	"auction-room/services/bidding/helpers"
	"auction-room/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// RoomStats reports live room membership
type RoomStats interface {
	RoomCount() int
	MemberTotal() int
}

// RoomHandler upgrades requests to WebSocket sessions. Hijacked connections are
// invisible to http.Server.Shutdown, so the handler tracks its sessions itself.
type RoomHandler struct {
	upgrader websocket.Upgrader
	deps     session.Deps
	cfg      session.Config
	stats    RoomStats

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

func NewRoomHandler(deps session.Deps, stats RoomStats, cfg session.Config) *RoomHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &RoomHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browsers connect from any origin; there is no cookie-based auth to protect
			CheckOrigin: func(*http.Request) bool { return true },
		},
		deps:   deps,
		cfg:    cfg,
		stats:  stats,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeRoom handles GET /ws/bid/:auction_id
func (h *RoomHandler) ServeRoom(c *gin.Context) {
	auctionID := c.Param("auction_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client
		utils.Warn("ServeRoom: websocket upgrade failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	h.sessions.Add(1)
	defer h.sessions.Done()

	s := session.New(session.NewWebSocketTransport(conn, h.cfg.WriteTimeout, h.cfg.PongWait), auctionID, h.deps, h.cfg)
	if err := s.Serve(h.ctx); err != nil {
		utils.Warn("ServeRoom: session ended with error", map[string]any{
			"auction_id": auctionID,
			"session_id": s.ID(),
			"error":      err.Error(),
		})
	}
}

// HealthHandler handles GET /health
func (h *RoomHandler) HealthHandler(c *gin.Context) {
	utils.JSONResponse(c, http.StatusOK, helpers.HealthResponse{
		Rooms:   h.stats.RoomCount(),
		Members: h.stats.MemberTotal(),
	}, "ok")
}

// Shutdown closes every open session and waits for them to finish or for ctx to end
func (h *RoomHandler) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
