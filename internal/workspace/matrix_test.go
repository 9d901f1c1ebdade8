package workspace

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeHomeserver answers the client-server API calls the Matrix backend
// makes, for two joined rooms.
type fakeHomeserver struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(path, "/joined_rooms"):
		_, _ = io.WriteString(w, `{"joined_rooms": ["!gen:example.org", "!ops:example.org"]}`)
	case strings.Contains(path, "/state/m.room.name"):
		switch {
		case strings.Contains(path, "!gen:example.org"):
			_, _ = io.WriteString(w, `{"name": "general"}`)
		case strings.Contains(path, "!ops:example.org"):
			_, _ = io.WriteString(w, `{"name": "ops"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errcode": "M_NOT_FOUND", "error": "no name"}`)
		}
	case strings.Contains(path, "/messages"):
		if r.URL.Query().Get("dir") != "b" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if strings.Contains(path, "!ops:example.org") {
			_, _ = io.WriteString(w, `{"start": "s1", "end": "s0", "chunk": [
				{"type": "m.room.message", "event_id": "$o1", "room_id": "!ops:example.org", "sender": "@dana:example.org", "origin_server_ts": 1772355600000, "content": {"msgtype": "m.text", "body": "disk alert on db-2"}}
			]}`)
			return
		}
		_, _ = io.WriteString(w, `{"start": "s1", "end": "s0", "chunk": [
			{"type": "m.room.message", "event_id": "$3", "room_id": "!gen:example.org", "sender": "@bob:example.org", "origin_server_ts": 1772355720000, "content": {"msgtype": "m.text", "body": "thanks, the alert is resolved"}},
			{"type": "m.room.member", "event_id": "$2", "room_id": "!gen:example.org", "sender": "@bob:example.org", "state_key": "@bob:example.org", "origin_server_ts": 1772355660000, "content": {"membership": "join"}},
			{"type": "m.room.message", "event_id": "$1", "room_id": "!gen:example.org", "sender": "@alice:example.org", "origin_server_ts": 1772355600000, "content": {"msgtype": "m.text", "body": "standup in 5"}}
		]}`)
	case strings.Contains(path, "/send/m.room.message/"):
		var body struct {
			Body string `json:"body"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.sent = append(f.sent, body.Body)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"event_id": "$sent1"}`)
	case strings.HasSuffix(path, "/createRoom"):
		var req struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Name == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"room_id": "!new:example.org"}`)
	case strings.Contains(path, "/directory/room/"):
		if strings.Contains(path, "#ops:example.org") {
			_, _ = io.WriteString(w, `{"room_id": "!ops:example.org", "servers": ["example.org"]}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errcode": "M_NOT_FOUND", "error": "unknown alias"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errcode": "M_UNRECOGNIZED", "error": "unexpected request"}`)
	}
}

func newTestMatrix(t *testing.T) (*Matrix, *fakeHomeserver) {
	t.Helper()
	hs := &fakeHomeserver{}
	srv := httptest.NewServer(hs)
	t.Cleanup(srv.Close)
	m, err := NewMatrix(srv.URL, "@autopilot:example.org", "token", nil)
	if err != nil {
		t.Fatal(err)
	}
	return m, hs
}

func TestMatrixListChannels(t *testing.T) {
	m, _ := newTestMatrix(t)
	channels, err := m.ListChannels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 2 || channels[0].Name != "general" || channels[1].ID != "!ops:example.org" {
		t.Errorf("channels = %+v", channels)
	}
}

func TestMatrixResolveChannel(t *testing.T) {
	m, _ := newTestMatrix(t)
	ctx := context.Background()

	for ref, want := range map[string]string{
		"#general":         "!gen:example.org",
		"general":          "!gen:example.org",
		"!ops:example.org": "!ops:example.org",
		"#ops:example.org": "!ops:example.org",
	} {
		c, err := m.ResolveChannel(ctx, ref)
		if err != nil {
			t.Errorf("resolve %q: %v", ref, err)
			continue
		}
		if c.ID != want {
			t.Errorf("resolve %q = %s, want %s", ref, c.ID, want)
		}
	}
	if _, err := m.ResolveChannel(ctx, "#nope:example.org"); err == nil {
		t.Error("unknown alias should fail")
	}
}

func TestMatrixFetch(t *testing.T) {
	m, _ := newTestMatrix(t)
	msgs, err := m.Fetch(context.Background(), "!gen:example.org", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Text != "standup in 5" || msgs[1].User != "@bob:example.org" {
		t.Errorf("order or content wrong: %+v", msgs)
	}
	if msgs[0].Timestamp.UnixMilli() != 1772355600000 {
		t.Errorf("timestamp = %v", msgs[0].Timestamp)
	}
}

func TestMatrixSearch(t *testing.T) {
	m, _ := newTestMatrix(t)
	msgs, err := m.Search(context.Background(), "alert", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "$3" || msgs[1].ID != "$o1" {
		t.Errorf("matches = %+v", msgs)
	}
}

func TestMatrixSendAndCreate(t *testing.T) {
	m, hs := newTestMatrix(t)
	ctx := context.Background()

	msg, err := m.Send(ctx, "!gen:example.org", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "$sent1" || msg.User != "@autopilot:example.org" {
		t.Errorf("message = %+v", msg)
	}
	if len(hs.sent) != 1 || hs.sent[0] != "hello" {
		t.Errorf("sent = %v", hs.sent)
	}

	c, err := m.CreateChannel(ctx, "#launch")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "!new:example.org" || c.Name != "launch" {
		t.Errorf("channel = %+v", c)
	}
}

func TestMatrixThroughHandler(t *testing.T) {
	m, hs := newTestMatrix(t)
	h := NewHandler(m, nil)
	resp := call(h, "send_message", map[string]any{"channel": "#ops", "text": "ack"})
	if resp.Error != "" || resp.Content != "Message sent successfully: $sent1" {
		t.Fatalf("send = %+v", resp)
	}
	if len(hs.sent) != 1 {
		t.Errorf("sent = %v", hs.sent)
	}
}
