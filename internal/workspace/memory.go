package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Backend for local runs and tests.
type Memory struct {
	mu       sync.RWMutex
	user     string
	channels []Channel
	messages map[string][]Message
	now      func() time.Time
}

// NewMemory creates a workspace with the named channels. Messages sent
// through it are attributed to user.
func NewMemory(user string, channels ...string) *Memory {
	m := &Memory{
		user:     user,
		messages: make(map[string][]Message),
		now:      time.Now,
	}
	for _, name := range channels {
		_, _ = m.CreateChannel(context.Background(), name)
	}
	return m
}

func (m *Memory) ListChannels(context.Context) ([]Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, len(m.channels))
	copy(out, m.channels)
	return out, nil
}

func (m *Memory) ResolveChannel(ctx context.Context, ref string) (Channel, error) {
	channels, _ := m.ListChannels(ctx)
	return matchChannel(channels, ref)
}

func (m *Memory) Send(_ context.Context, channelID, text string) (Message, error) {
	return m.Post(channelID, m.user, text)
}

// Post appends a message from user, as if someone else wrote it.
func (m *Memory) Post(channelID, user, text string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasLocked(channelID) {
		return Message{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	msg := Message{
		ID:        uuid.NewString(),
		Channel:   channelID,
		User:      user,
		Text:      text,
		Timestamp: m.now(),
	}
	m.messages[channelID] = append(m.messages[channelID], msg)
	return msg, nil
}

func (m *Memory) Fetch(_ context.Context, channelID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasLocked(channelID) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	msgs := m.messages[channelID]
	limit = clampLimit(limit, DefaultFetchLimit)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *Memory) Search(_ context.Context, query string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	var out []Message
	for _, msgs := range m.messages {
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

func (m *Memory) CreateChannel(_ context.Context, name string) (Channel, error) {
	name = NormalizeChannelName(name)
	if name == "" {
		return Channel{}, fmt.Errorf("channel name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		if strings.EqualFold(c.Name, name) {
			return Channel{}, fmt.Errorf("channel %q already exists", name)
		}
	}
	c := Channel{ID: "C" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10]), Name: name}
	m.channels = append(m.channels, c)
	return c, nil
}

func (m *Memory) hasLocked(channelID string) bool {
	for _, c := range m.channels {
		if c.ID == channelID {
			return true
		}
	}
	return false
}
