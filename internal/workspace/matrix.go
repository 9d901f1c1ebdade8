package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Matrix is a Backend on a Matrix homeserver. Channels are the rooms
// the account has joined; a room's name comes from its m.room.name
// state.
type Matrix struct {
	client *mautrix.Client
	logger *slog.Logger

	mu    sync.Mutex
	names map[id.RoomID]string
}

func NewMatrix(homeserver, userID, accessToken string, logger *slog.Logger) (*Matrix, error) {
	client, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matrix{
		client: client,
		logger: logger.With("component", "matrix"),
		names:  make(map[id.RoomID]string),
	}, nil
}

func (m *Matrix) ListChannels(ctx context.Context) ([]Channel, error) {
	resp, err := m.client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("joined rooms: %w", err)
	}
	out := make([]Channel, 0, len(resp.JoinedRooms))
	for _, room := range resp.JoinedRooms {
		out = append(out, Channel{ID: room.String(), Name: m.roomName(ctx, room)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Matrix) roomName(ctx context.Context, room id.RoomID) string {
	m.mu.Lock()
	name, ok := m.names[room]
	m.mu.Unlock()
	if ok {
		return name
	}

	var content event.RoomNameEventContent
	if err := m.client.StateEvent(ctx, room, event.StateRoomName, "", &content); err != nil {
		m.logger.Debug("room has no name", "room", room.String(), "error", err)
		return ""
	}
	m.mu.Lock()
	m.names[room] = content.Name
	m.mu.Unlock()
	return content.Name
}

// ResolveChannel accepts a room ID ("!abc:server"), a room alias
// ("#general:server") or a room name with or without '#'.
func (m *Matrix) ResolveChannel(ctx context.Context, ref string) (Channel, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "!"):
		room := id.RoomID(ref)
		return Channel{ID: ref, Name: m.roomName(ctx, room)}, nil
	case strings.HasPrefix(ref, "#") && strings.Contains(ref, ":"):
		resp, err := m.client.ResolveAlias(ctx, id.RoomAlias(ref))
		if err != nil {
			return Channel{}, fmt.Errorf("%w: %s: %v", ErrChannelNotFound, ref, err)
		}
		return Channel{ID: resp.RoomID.String(), Name: m.roomName(ctx, resp.RoomID)}, nil
	}
	channels, err := m.ListChannels(ctx)
	if err != nil {
		return Channel{}, err
	}
	return matchChannel(channels, ref)
}

func (m *Matrix) Send(ctx context.Context, channelID, text string) (Message, error) {
	resp, err := m.client.SendText(ctx, id.RoomID(channelID), text)
	if err != nil {
		return Message{}, fmt.Errorf("send to %s: %w", channelID, err)
	}
	return Message{
		ID:        resp.EventID.String(),
		Channel:   channelID,
		User:      m.client.UserID.String(),
		Text:      text,
		Timestamp: time.Now(),
	}, nil
}

func (m *Matrix) Fetch(ctx context.Context, channelID string, limit int) ([]Message, error) {
	limit = clampLimit(limit, DefaultFetchLimit)
	resp, err := m.client.Messages(ctx, id.RoomID(channelID), "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("messages in %s: %w", channelID, err)
	}
	// Chunk is newest first when paginating backwards.
	out := make([]Message, 0, len(resp.Chunk))
	for i := len(resp.Chunk) - 1; i >= 0; i-- {
		if msg, ok := toMessage(channelID, resp.Chunk[i]); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Search scans the recent history of every joined room.
func (m *Matrix) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	channels, err := m.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []Message
	for _, c := range channels {
		msgs, err := m.Fetch(ctx, c.ID, MaxFetchLimit)
		if err != nil {
			m.logger.Warn("skipping room in search", "room", c.ID, "error", err)
			continue
		}
		for _, msg := range msgs {
			if strings.Contains(strings.ToLower(msg.Text), q) {
				out = append(out, msg)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit = clampLimit(limit, DefaultSearchLimit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Matrix) CreateChannel(ctx context.Context, name string) (Channel, error) {
	name = NormalizeChannelName(name)
	if name == "" {
		return Channel{}, fmt.Errorf("channel name is required")
	}
	resp, err := m.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Name:   name,
		Preset: "private_chat",
	})
	if err != nil {
		return Channel{}, fmt.Errorf("create room %q: %w", name, err)
	}
	m.mu.Lock()
	m.names[resp.RoomID] = name
	m.mu.Unlock()
	return Channel{ID: resp.RoomID.String(), Name: name}, nil
}

func toMessage(channelID string, evt *event.Event) (Message, bool) {
	if evt == nil || evt.Type.Type != event.EventMessage.Type {
		return Message{}, false
	}
	body, _ := evt.Content.Raw["body"].(string)
	if body == "" {
		return Message{}, false
	}
	return Message{
		ID:        evt.ID.String(),
		Channel:   channelID,
		User:      evt.Sender.String(),
		Text:      body,
		Timestamp: time.UnixMilli(evt.Timestamp),
	}, true
}
