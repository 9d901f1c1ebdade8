package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider implements Provider on the Anthropic Messages API.
// The API has no JSON response mode; CompletionRequest.JSON is ignored
// and callers rely on the prompt to shape output.
type AnthropicProvider struct {
	id    string
	inner anthropic.Client
}

// NewAnthropicProvider creates a provider for the Anthropic API. SDK
// retries are off so each Complete is a single request; opts may turn
// them back on.
func NewAnthropicProvider(id, baseURL, apiKey string, opts ...option.RequestOption) *AnthropicProvider {
	all := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		all = append(all, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	return &AnthropicProvider{id: id, inner: anthropic.NewClient(all...)}
}

func (p *AnthropicProvider) ID() string { return p.id }

func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.inner.Messages.New(ctx, p.toParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var parts []string
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, text.Text)
		}
	}

	return &CompletionResponse{
		ID:      resp.ID,
		Model:   string(resp.Model),
		Content: strings.Join(parts, "\n\n"),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func (p *AnthropicProvider) toParams(req *CompletionRequest) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		System:    system,
		Messages:  msgs,
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}
