package capability

import (
	"context"
	"log/slog"
	"time"
)

const DefaultCallTimeout = 30 * time.Second

// Client makes exactly one attempt per capability call and reports the
// outcome truthfully. Retry policy belongs to its callers.
type Client struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient creates a client that resolves providers through registry
// and bounds each call by timeout (DefaultCallTimeout when zero).
func NewClient(registry *Registry, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		registry: registry,
		timeout:  timeout,
		logger:   logger.With("component", "capability-client"),
	}
}

// Invoke calls capabilityName on provider. Connection state is checked
// at call time. Errors are *UnknownProviderError, *NotConnectedError,
// *UnknownCapabilityError, *InvalidArgumentError or *InvocationError.
func (c *Client) Invoke(ctx context.Context, provider, capabilityName string, args map[string]any) (string, error) {
	capability, transport, err := c.registry.Resolve(provider, capabilityName)
	if err != nil {
		return "", err
	}

	validated, err := capability.Schema.Validate(capabilityName, args)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := transport.Call(callCtx, capabilityName, validated)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			err = callCtx.Err()
		}
		if b, ok := transport.(Breakable); ok {
			if cause := b.Broken(); cause != nil {
				c.registry.markFailed(provider, transport, cause)
			}
		}
		return "", &InvocationError{Provider: provider, Capability: capabilityName, Err: err}
	}
	if result.IsError {
		return "", &InvocationError{Provider: provider, Capability: capabilityName, Err: &ToolError{Message: result.Content}}
	}

	c.logger.Debug("capability invoked",
		"provider", provider,
		"capability", capabilityName,
		"bytes", len(result.Content),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return result.Content, nil
}
