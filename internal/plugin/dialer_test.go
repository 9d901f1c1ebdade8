package plugin

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opentalon/autopilot/internal/capability"
)

func TestDetectMode(t *testing.T) {
	tests := []struct {
		addr string
		want transportMode
	}{
		{"unix:///run/autopilot/tools.sock", modeUnix},
		{"tcp://10.0.0.5:7400", modeTCP},
		{"http://localhost:8931/mcp", modeHTTP},
		{"HTTPS://tools.example.com/mcp", modeHTTP},
		{"ws://localhost:9000/mcp", modeWebSocket},
		{"wss://tools.example.com/mcp", modeWebSocket},
		{"exec:///usr/local/bin/autopilot-workspace", modeExec},
		{"/usr/local/bin/autopilot-workspace", modeExec},
		{"./bin/tool", modeExec},
		{"local://scheduler", modeLocal},
	}
	for _, tt := range tests {
		if got := detectMode(tt.addr); got != tt.want {
			t.Errorf("detectMode(%q) = %s, want %s", tt.addr, got, tt.want)
		}
	}
}

func TestParseExecAddress(t *testing.T) {
	tests := []struct {
		addr     string
		wantPath string
		wantArgs []string
	}{
		{"/opt/tools/search", "/opt/tools/search", nil},
		{"exec:///opt/tools/search", "/opt/tools/search", nil},
		{"exec:///opt/tools/search?arg=-config&arg=/etc/search.yaml", "/opt/tools/search", []string{"-config", "/etc/search.yaml"}},
		{"exec://bin/tool", "bin/tool", nil},
	}
	for _, tt := range tests {
		path, args, err := parseExecAddress(tt.addr)
		if err != nil {
			t.Errorf("%s: %v", tt.addr, err)
			continue
		}
		if path != tt.wantPath || strings.Join(args, " ") != strings.Join(tt.wantArgs, " ") {
			t.Errorf("%s: path=%q args=%v", tt.addr, path, args)
		}
	}

	for _, bad := range []string{"", "exec://"} {
		if _, _, err := parseExecAddress(bad); err == nil {
			t.Errorf("parseExecAddress(%q) should fail", bad)
		}
	}
}

func TestDialerRoutesByScheme(t *testing.T) {
	sock := fakeProviderServer(t, &echoHandler{})
	srv := httptest.NewServer(&mcpStub{})
	defer srv.Close()

	d := NewDialer(nil)
	d.HTTPClient = srv.Client()

	tr, err := d.Dial(context.Background(), "unix://"+sock)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*SocketTransport); !ok {
		t.Errorf("unix address gave %T", tr)
	}
	_ = tr.Close()

	tr, err = d.Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*HTTPTransport); !ok {
		t.Errorf("http address gave %T", tr)
	}
	_ = tr.Close()

	if _, err := d.Dial(context.Background(), "/nonexistent/autopilot-tool"); err == nil {
		t.Error("expected launch failure for missing binary")
	}
}

func TestSchemaFromJSON(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"channel": {"type": "string", "description": "Channel name"},
			"limit":   {"type": "integer"},
			"filter":  {"type": ["object", "null"]},
			"blob":    {}
		},
		"required": ["channel"]
	}`)
	schema, err := schemaFromJSON(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := capability.Schema{
		"channel": {Type: capability.TypeString, Required: true, Description: "Channel name"},
		"limit":   {Type: capability.TypeInteger},
		"filter":  {Type: capability.TypeObject},
		"blob":    {Type: capability.TypeAny},
	}
	if len(schema) != len(want) {
		t.Fatalf("schema = %+v", schema)
	}
	for name, p := range want {
		if schema[name] != p {
			t.Errorf("%s = %+v, want %+v", name, schema[name], p)
		}
	}

	empty, err := schemaFromJSON(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("nil schema = %v, %v", empty, err)
	}
	if _, err := schemaFromJSON(json.RawMessage(`[`)); err == nil {
		t.Error("expected parse error")
	}
}
