package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opentalon/autopilot/internal/capability"
	pkg "github.com/opentalon/autopilot/pkg/plugin"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultStopGrace        = 5 * time.Second
)

type transportMode string

const (
	modeExec      transportMode = "exec"
	modeUnix      transportMode = "unix"
	modeTCP       transportMode = "tcp"
	modeHTTP      transportMode = "http"
	modeWebSocket transportMode = "ws"
	modeLocal     transportMode = "local"
)

// detectMode maps an address to a transport. Addresses without a
// scheme are treated as a local binary to launch.
func detectMode(address string) transportMode {
	lower := strings.ToLower(address)
	switch {
	case strings.HasPrefix(lower, "unix://"):
		return modeUnix
	case strings.HasPrefix(lower, "tcp://"):
		return modeTCP
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return modeHTTP
	case strings.HasPrefix(lower, "ws://"), strings.HasPrefix(lower, "wss://"):
		return modeWebSocket
	case strings.HasPrefix(lower, "local://"):
		return modeLocal
	default:
		return modeExec
	}
}

// Dialer opens capability transports by address scheme:
//
//	unix:///run/tools.sock     plugin protocol over a Unix socket
//	tcp://host:port            plugin protocol over TCP
//	exec:///path/bin?arg=-v    launch a plugin binary (bare paths too)
//	http(s)://host/mcp         MCP over streamable HTTP
//	ws(s)://host/mcp           MCP over WebSocket
//	local://name               in-process handler added with RegisterLocal
type Dialer struct {
	HTTPClient       *http.Client
	HandshakeTimeout time.Duration
	StopGrace        time.Duration
	Logger           *slog.Logger

	mu    sync.RWMutex
	local map[string]pkg.Handler
}

// NewDialer returns a Dialer with default timeouts.
func NewDialer(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		HTTPClient:       &http.Client{},
		HandshakeTimeout: defaultHandshakeTimeout,
		StopGrace:        defaultStopGrace,
		Logger:           logger.With("component", "dialer"),
	}
}

var _ capability.Dialer = (*Dialer)(nil)

// RegisterLocal makes handler reachable at local://name.
func (d *Dialer) RegisterLocal(name string, handler pkg.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.local == nil {
		d.local = make(map[string]pkg.Handler)
	}
	d.local[name] = handler
}

func (d *Dialer) Dial(ctx context.Context, address string) (capability.Transport, error) {
	mode := detectMode(address)
	d.Logger.Debug("dialing provider", "address", address, "mode", mode)

	switch mode {
	case modeUnix:
		return DialSocket(ctx, "unix", address[len("unix://"):])
	case modeTCP:
		return DialSocket(ctx, "tcp", address[len("tcp://"):])
	case modeHTTP:
		return DialHTTP(ctx, address, d.HTTPClient)
	case modeWebSocket:
		return DialWebSocket(ctx, address, d.HTTPClient)
	case modeLocal:
		name := address[len("local://"):]
		d.mu.RLock()
		h, ok := d.local[name]
		d.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no local handler registered as %q", name)
		}
		return NewLocalTransport(h), nil
	case modeExec:
		path, args, err := parseExecAddress(address)
		if err != nil {
			return nil, err
		}
		return Launch(ctx, d.Logger, d.HandshakeTimeout, d.StopGrace, path, args...)
	default:
		return nil, fmt.Errorf("unsupported transport %q for %s", mode, address)
	}
}

// parseExecAddress splits "exec:///bin/tool?arg=a&arg=b" into a path and
// arguments. A bare path has no arguments.
func parseExecAddress(address string) (string, []string, error) {
	if !strings.HasPrefix(strings.ToLower(address), "exec://") {
		if address == "" {
			return "", nil, fmt.Errorf("empty provider address")
		}
		return address, nil, nil
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", nil, fmt.Errorf("parse %s: %w", address, err)
	}
	path := u.Path
	if u.Host != "" {
		// exec://relative/bin keeps the host as the first path element.
		path = u.Host + path
	}
	if path == "" {
		return "", nil, fmt.Errorf("exec address %s has no binary path", address)
	}
	return path, u.Query()["arg"], nil
}
