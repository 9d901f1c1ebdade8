package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	pkg "github.com/opentalon/autopilot/pkg/plugin"
)

const ProviderName = "workspace"

// Handler serves a Backend over the plugin protocol.
type Handler struct {
	backend Backend
	logger  *slog.Logger
}

func NewHandler(backend Backend, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{backend: backend, logger: logger.With("component", "workspace")}
}

var _ pkg.Handler = (*Handler)(nil)

func (h *Handler) Capabilities() pkg.CapabilitiesMsg {
	channel := pkg.ParameterMsg{Name: "channel", Description: "Channel ID or name, with or without '#'", Type: "string", Required: true}
	return pkg.CapabilitiesMsg{
		Name:        ProviderName,
		Description: "Team messaging workspace: channels and their messages",
		Capabilities: []pkg.CapabilityMsg{
			{
				Name:        "send_message",
				Description: "Post a message to a channel",
				Parameters: []pkg.ParameterMsg{
					channel,
					{Name: "text", Description: "Message text", Type: "string", Required: true},
				},
			},
			{
				Name:        "list_channels",
				Description: "List the channels the assistant can access",
			},
			{
				Name:        "fetch_messages",
				Description: "Fetch the most recent messages in a channel, oldest first",
				Parameters: []pkg.ParameterMsg{
					channel,
					{Name: "limit", Description: fmt.Sprintf("Number of messages (default %d, max %d)", DefaultFetchLimit, MaxFetchLimit), Type: "integer"},
				},
			},
			{
				Name:        "search_messages",
				Description: "Find messages containing a phrase across all channels, newest first",
				Parameters: []pkg.ParameterMsg{
					{Name: "query", Description: "Text to look for", Type: "string", Required: true},
					{Name: "limit", Description: fmt.Sprintf("Number of matches (default %d, max %d)", DefaultSearchLimit, MaxFetchLimit), Type: "integer"},
				},
			},
			{
				Name:        "create_channel",
				Description: "Create a new channel",
				Parameters: []pkg.ParameterMsg{
					{Name: "name", Description: "Channel name", Type: "string", Required: true},
				},
			},
		},
	}
}

func (h *Handler) Call(ctx context.Context, req pkg.Request) pkg.Response {
	content, err := h.dispatch(ctx, req)
	if err != nil {
		h.logger.Debug("call failed", "capability", req.Capability, "error", err)
		return pkg.Response{CallID: req.ID, Error: err.Error()}
	}
	return pkg.Response{CallID: req.ID, Content: content}
}

func (h *Handler) dispatch(ctx context.Context, req pkg.Request) (string, error) {
	switch req.Capability {
	case "send_message":
		return h.sendMessage(ctx, req.Args)
	case "list_channels":
		channels, err := h.backend.ListChannels(ctx)
		if err != nil {
			return "", err
		}
		return encode(channels)
	case "fetch_messages":
		return h.fetchMessages(ctx, req.Args)
	case "search_messages":
		query := strings.TrimSpace(stringArg(req.Args, "query"))
		if query == "" {
			return "", errors.New("query is required")
		}
		msgs, err := h.backend.Search(ctx, query, intArg(req.Args, "limit"))
		if err != nil {
			return "", err
		}
		return encode(toView(msgs))
	case "create_channel":
		c, err := h.backend.CreateChannel(ctx, stringArg(req.Args, "name"))
		if err != nil {
			return "", err
		}
		return encode(c)
	default:
		return "", fmt.Errorf("unknown capability %q", req.Capability)
	}
}

func (h *Handler) sendMessage(ctx context.Context, args map[string]any) (string, error) {
	text := stringArg(args, "text")
	if strings.TrimSpace(text) == "" {
		return "", errors.New("text is required")
	}
	c, err := h.backend.ResolveChannel(ctx, stringArg(args, "channel"))
	if err != nil {
		return "", err
	}
	msg, err := h.backend.Send(ctx, c.ID, text)
	if err != nil {
		return "", err
	}
	return "Message sent successfully: " + msg.ID, nil
}

func (h *Handler) fetchMessages(ctx context.Context, args map[string]any) (string, error) {
	c, err := h.backend.ResolveChannel(ctx, stringArg(args, "channel"))
	if err != nil {
		return "", err
	}
	msgs, err := h.backend.Fetch(ctx, c.ID, intArg(args, "limit"))
	if err != nil {
		return "", err
	}
	return encode(toView(msgs))
}

// messageView is the wire shape of a message handed to the planner.
type messageView struct {
	User      string `json:"user"`
	Text      string `json:"text"`
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	Datetime  string `json:"datetime"`
}

func toView(msgs []Message) []messageView {
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		out[i] = messageView{
			User:      m.User,
			Text:      m.Text,
			Channel:   m.Channel,
			Timestamp: strconv.FormatInt(m.Timestamp.Unix(), 10),
			Datetime:  m.Timestamp.UTC().Format(time.DateTime),
		}
	}
	return out
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg reads an integer argument that may arrive as a JSON number,
// an int, or a numeric string. Missing or unparseable values give 0.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}
