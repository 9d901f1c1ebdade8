// Package workspace exposes a team messaging workspace (channels and
// their messages) as a tool provider.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultFetchLimit  = 50
	MaxFetchLimit      = 100
	DefaultSearchLimit = 20
)

var ErrChannelNotFound = errors.New("channel not found")

type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Message struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	User      string    `json:"user"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Backend is a messaging service. Channel arguments are channel IDs as
// returned by ListChannels or ResolveChannel.
type Backend interface {
	ListChannels(ctx context.Context) ([]Channel, error)
	// ResolveChannel maps a user-supplied reference (ID, name, or
	// "#name") to a channel.
	ResolveChannel(ctx context.Context, ref string) (Channel, error)
	Send(ctx context.Context, channelID, text string) (Message, error)
	// Fetch returns up to limit of the most recent messages, oldest first.
	Fetch(ctx context.Context, channelID string, limit int) ([]Message, error)
	// Search returns up to limit messages containing query, newest first.
	Search(ctx context.Context, query string, limit int) ([]Message, error)
	CreateChannel(ctx context.Context, name string) (Channel, error)
}

// NormalizeChannelName strips surrounding space and a leading '#'.
func NormalizeChannelName(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), "#")
}

// matchChannel finds ref among channels by ID, then by name ignoring
// case and a leading '#'.
func matchChannel(channels []Channel, ref string) (Channel, error) {
	ref = strings.TrimSpace(ref)
	for _, c := range channels {
		if c.ID == ref {
			return c, nil
		}
	}
	name := NormalizeChannelName(ref)
	for _, c := range channels {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return Channel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, ref)
}

func clampLimit(n, def int) int {
	switch {
	case n <= 0:
		return def
	case n > MaxFetchLimit:
		return MaxFetchLimit
	default:
		return n
	}
}
