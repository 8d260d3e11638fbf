package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes sent to clients
const (
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseInternalError   = websocket.CloseInternalServerErr
)

// ErrPeerUnresponsive is returned by ReadMessage when the peer stopped answering pings
var ErrPeerUnresponsive = errors.New("peer unresponsive")

// Transport is a message-oriented, full-duplex client connection.
// ReadMessage returns io.EOF once the peer has closed the connection.
// Only one goroutine may call WriteMessage at a time; Ping, Close and CloseWith
// may be called concurrently with everything else.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Ping() error
	CloseWith(code int, reason string) error
	Close() error
}

const maxMessageSize = 4096

// WebSocketTransport adapts a gorilla connection to Transport. Reads fail with
// ErrPeerUnresponsive once nothing, pongs included, has arrived for pongWait.
type WebSocketTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pongWait     time.Duration
}

// NewWebSocketTransport wraps an upgraded connection
func NewWebSocketTransport(conn *websocket.Conn, writeTimeout, pongWait time.Duration) *WebSocketTransport {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	t := &WebSocketTransport{conn: conn, writeTimeout: writeTimeout, pongWait: pongWait}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return t
}

func (t *WebSocketTransport) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
				errors.Is(err, net.ErrClosed) {
				return nil, io.EOF
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, fmt.Errorf("%w: nothing received for %s", ErrPeerUnresponsive, t.pongWait)
			}
			return nil, err
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(t.pongWait)); err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Ping sends a ping control frame; the peer's pong extends the read deadline
func (t *WebSocketTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *WebSocketTransport) WriteMessage(payload []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// CloseWith sends a close frame carrying code and reason, then closes the connection
func (t *WebSocketTransport) CloseWith(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeTimeout))
	return t.conn.Close()
}

func (t *WebSocketTransport) Close() error {
	return t.CloseWith(websocket.CloseNormalClosure, "")
}
