package plugin

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
)

func TestParseHandshakeValid(t *testing.T) {
	tests := []struct {
		input   string
		network string
		address string
	}{
		{"1|unix|/tmp/plug.sock", "unix", "/tmp/plug.sock"},
		{"1|tcp|127.0.0.1:9001", "tcp", "127.0.0.1:9001"},
		{"  1|unix|/tmp/x.sock\n", "unix", "/tmp/x.sock"},
	}
	for _, tc := range tests {
		hs, err := ParseHandshake(tc.input)
		if err != nil {
			t.Errorf("ParseHandshake(%q): %v", tc.input, err)
			continue
		}
		if hs.Version != HandshakeVersion {
			t.Errorf("version = %d", hs.Version)
		}
		if hs.Network != tc.network {
			t.Errorf("network = %q, want %q", hs.Network, tc.network)
		}
		if hs.Address != tc.address {
			t.Errorf("address = %q, want %q", hs.Address, tc.address)
		}
	}
}

func TestParseHandshakeInvalid(t *testing.T) {
	bad := []string{
		"",
		"garbage",
		"2|unix|/tmp/x.sock",
		"1|http|localhost:8080",
		"1|unix",
		"1|unix|",
		"x|unix|/tmp/x.sock",
	}
	for _, input := range bad {
		if _, err := ParseHandshake(input); err == nil {
			t.Errorf("ParseHandshake(%q): expected error", input)
		}
	}
}

func TestHandshakeString(t *testing.T) {
	hs := Handshake{Version: 1, Network: "unix", Address: "/tmp/p.sock"}
	if got := hs.String(); got != "1|unix|/tmp/p.sock" {
		t.Errorf("String() = %q", got)
	}
}

func TestWriteReadRequest(t *testing.T) {
	var buf bytes.Buffer
	sent := Request{
		Method:     MethodCall,
		ID:         "call-1",
		Capability: "send_message",
		Args:       map[string]any{"channel": "general", "limit": 5},
	}
	if err := WriteMessage(&buf, &sent); err != nil {
		t.Fatal(err)
	}

	var received Request
	if err := ReadMessage(&buf, &received); err != nil {
		t.Fatal(err)
	}
	if received.Method != MethodCall || received.ID != "call-1" {
		t.Errorf("received = %+v", received)
	}
	if received.Capability != "send_message" {
		t.Errorf("capability = %q", received.Capability)
	}
	if received.Args["channel"] != "general" {
		t.Errorf("args[channel] = %v", received.Args["channel"])
	}
	// JSON numbers decode as float64.
	if received.Args["limit"] != float64(5) {
		t.Errorf("args[limit] = %v (%T)", received.Args["limit"], received.Args["limit"])
	}
}

func TestReadMessageRejectsOversize(t *testing.T) {
	header := []byte{0xff, 0xff, 0xff, 0xff}
	var v Response
	err := ReadMessage(bytes.NewReader(header), &v)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("err = %v, want too large", err)
	}
}

func TestReadMessageTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, &Response{Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()[:buf.Len()-2]
	var v Response
	if err := ReadMessage(bytes.NewReader(data), &v); err == nil {
		t.Error("expected error for truncated body")
	}
}

type stubHandler struct{}

func (stubHandler) Capabilities() CapabilitiesMsg {
	return CapabilitiesMsg{
		Name:        "stub",
		Description: "Stub provider",
		Capabilities: []CapabilityMsg{
			{Name: "ping", Description: "Reply with pong"},
		},
	}
}

func (stubHandler) Call(_ context.Context, req Request) Response {
	if req.Capability != "ping" {
		return Response{Error: "unknown capability " + req.Capability}
	}
	return Response{Content: "pong"}
}

func TestServeConnection(t *testing.T) {
	server, client := net.Pipe()
	defer func() { _ = client.Close() }()

	go ServeConnection(context.Background(), stubHandler{}, server)

	go func() { _ = WriteMessage(client, &Request{Method: MethodCapabilities}) }()
	var caps Response
	if err := ReadMessage(client, &caps); err != nil {
		t.Fatal(err)
	}
	if caps.Caps == nil || caps.Caps.Name != "stub" || len(caps.Caps.Capabilities) != 1 {
		t.Fatalf("caps = %+v", caps.Caps)
	}

	go func() { _ = WriteMessage(client, &Request{Method: MethodCall, ID: "c1", Capability: "ping"}) }()
	var resp Response
	if err := ReadMessage(client, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.CallID != "c1" || resp.Content != "pong" {
		t.Errorf("resp = %+v", resp)
	}

	go func() { _ = WriteMessage(client, &Request{Method: "bogus", ID: "c2"}) }()
	var bad Response
	if err := ReadMessage(client, &bad); err != nil {
		t.Fatal(err)
	}
	if bad.CallID != "c2" || !strings.Contains(bad.Error, "unknown method") {
		t.Errorf("bad = %+v", bad)
	}
}
