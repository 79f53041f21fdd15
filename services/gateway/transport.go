package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// CloseCode is sent when the bridge closes a backend connection.
type CloseCode int

const (
	CloseNormal       CloseCode = 1000
	CloseGoingAway    CloseCode = 1001
	CloseTokenMissing CloseCode = 4401
	CloseTokenInvalid CloseCode = 4403
	CloseSuperseded   CloseCode = 4409
	CloseRetryLater   CloseCode = 4503
)

// Transport is one accepted backend connection.
type Transport interface {
	Read(ctx context.Context) (Message, error)
	Write(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
	Close(code CloseCode, reason string) error
	RemoteAddr() string
}

// WebSocketTransport adapts a coder/websocket connection.
type WebSocketTransport struct {
	conn       *websocket.Conn
	remoteAddr string
	writeMu    sync.Mutex
}

// AcceptWebSocket upgrades the request to a websocket transport.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions, readLimit int64) (*WebSocketTransport, error) {
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &WebSocketTransport{conn: conn, remoteAddr: r.RemoteAddr}, nil
}

// NewWebSocketTransport wraps an existing connection; used by dialing clients.
func NewWebSocketTransport(conn *websocket.Conn, remoteAddr string) *WebSocketTransport {
	return &WebSocketTransport{conn: conn, remoteAddr: remoteAddr}
}

func (t *WebSocketTransport) Read(ctx context.Context) (Message, error) {
	var msg Message
	err := wsjson.Read(ctx, t.conn, &msg)
	return msg, err
}

func (t *WebSocketTransport) Write(ctx context.Context, msg Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return wsjson.Write(ctx, t.conn, msg)
}

func (t *WebSocketTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *WebSocketTransport) Close(code CloseCode, reason string) error {
	return t.conn.Close(websocket.StatusCode(code), reason)
}

func (t *WebSocketTransport) RemoteAddr() string {
	return t.remoteAddr
}
