package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/opentalon/autopilot/internal/version"
	pkg "github.com/opentalon/autopilot/pkg/plugin"
)

// WebSocketTransport carries MCP JSON-RPC messages as text frames on a
// single WebSocket connection. Exchanges are serialized.
type WebSocketTransport struct {
	mcpClient
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
	broken error
}

// DialWebSocket opens the connection and performs the MCP initialize
// exchange.
func DialWebSocket(ctx context.Context, url string, client *http.Client) (*WebSocketTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: client,
		HTTPHeader: http.Header{"User-Agent": []string{version.UserAgent()}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(pkg.MaxMessageSize)

	t := &WebSocketTransport{conn: conn}
	t.mcpClient = mcpClient{conn: t}
	if err := t.initialize(ctx); err != nil {
		conn.Close(websocket.StatusProtocolError, "initialize failed")
		return nil, err
	}
	return t, nil
}

func (t *WebSocketTransport) call(ctx context.Context, method string, params, out any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.broken != nil {
		return fmt.Errorf("%s: connection unusable: %w", method, t.broken)
	}

	t.nextID++
	id := t.nextID
	if err := wsjson.Write(ctx, t.conn, rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		t.broken = err
		return fmt.Errorf("%s: write: %w", method, err)
	}

	want := strconv.FormatInt(id, 10)
	for {
		var msg rpcResponse
		// A cancelled read closes the connection.
		if err := wsjson.Read(ctx, t.conn, &msg); err != nil {
			t.broken = err
			return fmt.Errorf("%s: read: %w", method, err)
		}
		// Skip server notifications and stale responses.
		if string(msg.ID) != want {
			continue
		}
		if msg.Error != nil {
			return msg.Error
		}
		if out == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

func (t *WebSocketTransport) notify(ctx context.Context, method string, params any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken != nil {
		return fmt.Errorf("%s: connection unusable: %w", method, t.broken)
	}
	if err := wsjson.Write(ctx, t.conn, rpcRequest{JSONRPC: "2.0", Method: method, Params: params}); err != nil {
		t.broken = err
		return err
	}
	return nil
}

func (t *WebSocketTransport) Broken() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broken
}

func (t *WebSocketTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
