package plugin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opentalon/autopilot/internal/version"
)

const sessionHeader = "Mcp-Session-Id"

// HTTPTransport talks to an MCP server over streamable HTTP. Responses
// may arrive as a single JSON body or as a text/event-stream.
type HTTPTransport struct {
	mcpClient
	endpoint string
	client   *http.Client

	mu        sync.Mutex
	sessionID string
	nextID    atomic.Int64
}

// DialHTTP initializes an MCP session against endpoint.
func DialHTTP(ctx context.Context, endpoint string, client *http.Client) (*HTTPTransport, error) {
	if client == nil {
		client = http.DefaultClient
	}
	t := &HTTPTransport{endpoint: endpoint, client: client}
	t.mcpClient = mcpClient{conn: t}
	if err := t.initialize(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// SessionID returns the session assigned by the server, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *HTTPTransport) call(ctx context.Context, method string, params, out any) error {
	id := t.nextID.Add(1)
	resp, err := t.post(ctx, rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	msg, err := readRPCResponse(resp, id)
	if err != nil {
		return err
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

func (t *HTTPTransport) notify(ctx context.Context, method string, params any) error {
	resp, err := t.post(ctx, rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (t *HTTPTransport) post(ctx context.Context, body rpcRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("User-Agent", version.UserAgent())
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(sessionHeader, sid)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", body.Method, err)
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%s: HTTP %d: %s", body.Method, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return resp, nil
}

func readRPCResponse(resp *http.Response, id int64) (*rpcResponse, error) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		var msg rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &msg, nil
	}

	// Server-sent events: each event's data lines form one JSON-RPC
	// message. Requests and notifications from the server are skipped.
	want := strconv.FormatInt(id, 10)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxEventSize)
	var data strings.Builder
	flush := func() (*rpcResponse, bool) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, false
		}
		var msg rpcResponse
		if err := json.Unmarshal([]byte(data.String()), &msg); err != nil {
			return nil, false
		}
		if string(msg.ID) != want {
			return nil, false
		}
		return &msg, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if msg, ok := flush(); ok {
				return msg, nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if msg, ok := flush(); ok {
		return msg, nil
	}
	return nil, errors.New("event stream ended without a response")
}

// MaxEventSize bounds a single server-sent event line.
const MaxEventSize = 4 * 1024 * 1024

// Close ends the session. The server may not support explicit session
// termination, so failures are ignored.
func (t *HTTPTransport) Close() error {
	sid := t.SessionID()
	if sid == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.endpoint, nil)
	if err != nil {
		return nil
	}
	req.Header.Set(sessionHeader, sid)
	if resp, err := t.client.Do(req); err == nil {
		resp.Body.Close()
	}
	return nil
}
