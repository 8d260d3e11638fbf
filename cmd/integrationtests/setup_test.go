package integrationtests

import (
	"auction-room/internal/admission"
	bidding "auction-room/internal/biddingService"
	"auction-room/internal/fabric"
	model "auction-room/internal/models"
	"auction-room/internal/repository"
	"auction-room/internal/rooms"
	"auction-room/internal/server"
	"auction-room/internal/session"
	handler "auction-room/services/bidding/handler"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// TestInstance is one fully wired auction server listening on a random port
type TestInstance struct {
	Router   *gin.Engine
	Server   *httptest.Server
	Registry *rooms.Registry
}

// SetupTestLedger creates an in-memory ledger seeded with an open and a closed auction
func SetupTestLedger(t *testing.T) *repository.MemoryRepo {
	t.Helper()
	ctx := context.Background()

	ledger := repository.NewMemoryRepo()
	require.NoError(t, ledger.AddAuction(ctx, model.Auction{
		ID:            "item1",
		Title:         "title1",
		StartingPrice: decimal.RequireFromString("100"),
		Status:        model.StatusOpen,
	}))
	require.NoError(t, ledger.AddAuction(ctx, model.Auction{
		ID:            "closed1",
		Title:         "closed",
		StartingPrice: decimal.RequireFromString("10"),
		Status:        model.StatusClosed,
	}))
	return ledger
}

// SetupTestInstance wires the full server stack the way main does, on the given ledger and fabric
func SetupTestInstance(t *testing.T, ledger repository.Ledger, fab fabric.Fabric) *TestInstance {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gate := admission.NewGate(ledger, fab, admission.DefaultConfig())
	registry := rooms.NewRegistry(ledger, fab, rooms.Config{ResyncInterval: time.Second})
	roomHandler := handler.NewRoomHandler(session.Deps{Gate: gate, Ledger: ledger, Rooms: registry}, registry, session.DefaultConfig())
	router := server.SetupRouter(bidding.NewBiddingService(ledger, gate), roomHandler)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		_ = roomHandler.Shutdown(context.Background())
		srv.Close()
		registry.Close()
	})
	return &TestInstance{Router: router, Server: srv, Registry: registry}
}

// SetupSingleInstance wires one server on a fresh ledger and in-memory fabric
func SetupSingleInstance(t *testing.T) *TestInstance {
	t.Helper()
	fab := fabric.NewMemoryFabric(0)
	t.Cleanup(func() { _ = fab.Close() })
	return SetupTestInstance(t, SetupTestLedger(t), fab)
}

// StartNatsServer runs an embedded NATS server on a random port
func StartNatsServer(t *testing.T) *natsserver.Server {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

// DialRoom opens a WebSocket connection to an auction room
func DialRoom(t *testing.T, inst *TestInstance, auctionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(inst.Server.URL, "http") + "/ws/bid/" + auctionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// JoinRoom dials a room and consumes its initial_state message
func JoinRoom(t *testing.T, inst *TestInstance, auctionID string) (*websocket.Conn, map[string]any) {
	t.Helper()
	conn := DialRoom(t, inst, auctionID)
	msg := ReadMessage(t, conn)
	require.Equal(t, "initial_state", msg["type"])
	return conn, msg["data"].(map[string]any)
}

// ReadMessage reads one JSON message, failing the test after a few seconds
func ReadMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// SendBid writes a bid proposal frame
func SendBid(t *testing.T, conn *websocket.Conn, name string, price any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"name": name, "price": price}))
}

// RequireNewBid reads the next message and checks it announces the given bid
func RequireNewBid(t *testing.T, conn *websocket.Conn, bidder, price string, seq int) {
	t.Helper()
	msg := ReadMessage(t, conn)
	require.Equal(t, "new_bid", msg["type"], "got %v", msg)
	require.Equal(t, bidder, msg["bidder"])
	require.Equal(t, price, msg["price"])
	require.Equal(t, float64(seq), msg["seq"])
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}
	return resp, w
}

// PostBid places a bid over the real listener, as an external client would.
// It is safe to call from multiple goroutines.
func PostBid(t *testing.T, inst *TestInstance, auctionID, name, price string) int {
	t.Helper()
	body, err := json.Marshal(map[string]any{"name": name, "price": json.Number(price)})
	if err != nil {
		t.Errorf("marshal bid: %v", err)
		return 0
	}

	resp, err := http.Post(inst.Server.URL+"/auctions/"+auctionID+"/bids", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Errorf("post bid: %v", err)
		return 0
	}
	defer resp.Body.Close()
	return resp.StatusCode
}
