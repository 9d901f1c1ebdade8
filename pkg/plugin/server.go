package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
)

// Handler is implemented by tool providers. The host calls Capabilities
// once per connect and Call for each capability invocation.
type Handler interface {
	Capabilities() CapabilitiesMsg
	Call(ctx context.Context, req Request) Response
}

// Serve starts a Unix socket listener and serves host requests with
// handler. It prints the handshake line to stdout so the host can find
// the socket, then blocks until ctx is cancelled or the listener fails.
func Serve(ctx context.Context, handler Handler) error {
	sockDir, err := os.MkdirTemp("", "autopilot-plugin-*")
	if err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(sockDir) }()
	sockPath := filepath.Join(sockDir, "plugin.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() { _ = ln.Close() }()

	hs := Handshake{Version: HandshakeVersion, Network: "unix", Address: sockPath}
	if _, err := fmt.Fprintln(os.Stdout, hs.String()); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go ServeConnection(ctx, handler, conn)
	}
}

// ServeConnection answers requests on one connection until it closes.
func ServeConnection(ctx context.Context, handler Handler, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			return
		}

		var resp Response
		switch req.Method {
		case MethodCapabilities:
			caps := handler.Capabilities()
			resp.Caps = &caps
		case MethodCall:
			resp = handler.Call(ctx, req)
			resp.CallID = req.ID
		default:
			resp.CallID = req.ID
			resp.Error = fmt.Sprintf("unknown method %q", req.Method)
		}

		if err := WriteMessage(conn, &resp); err != nil {
			slog.Warn("plugin server: write response", "error", err)
			return
		}
	}
}
