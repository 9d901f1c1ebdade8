// Package failover moves inference calls to fallback models when the
// requested model's backend turns them away.
package failover

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/opentalon/autopilot/internal/provider"
)

// Completer is the inference service being protected, normally a
// *provider.Registry.
type Completer interface {
	Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

type Controller struct {
	llm       Completer
	cooldowns *CooldownTracker
	fallbacks []provider.ModelRef
	logger    *slog.Logger
	now       func() time.Time
}

func NewController(llm Completer, cooldowns *CooldownTracker, fallbacks []provider.ModelRef, logger *slog.Logger) *Controller {
	if cooldowns == nil {
		cooldowns = NewCooldownTracker(DefaultCooldownConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		llm:       llm,
		cooldowns: cooldowns,
		fallbacks: fallbacks,
		logger:    logger.With("component", "failover"),
		now:       time.Now,
	}
}

// Complete tries req.Model, then each fallback in order. A model whose
// provider is cooling down is skipped. Errors that another model cannot
// fix are returned as they are.
func (c *Controller) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	models := append([]provider.ModelRef{provider.ModelRef(req.Model)}, c.fallbacks...)
	attempted := make([]string, 0, len(models))
	var lastErr error

	for _, m := range models {
		if slices.Contains(attempted, m.String()) {
			continue
		}
		attempted = append(attempted, m.String())

		if c.cooldowns.InCooldown(m.Provider(), c.now()) {
			c.logger.Debug("skipping model in cooldown", "model", m.String())
			continue
		}

		attempt := *req
		attempt.Model = m.String()
		resp, err := c.llm.Complete(ctx, &attempt)
		if err == nil {
			c.cooldowns.Reset(m.Provider())
			return resp, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		if IsRateLimitError(err) || IsAuthError(err) {
			until := c.cooldowns.PutInCooldown(m.Provider(), c.now())
			c.logger.Warn("inference provider cooling down", "provider", m.Provider(), "until", until, "error", err)
		} else {
			c.logger.Warn("inference failed, trying next model", "model", m.String(), "error", err)
		}
	}

	return nil, &AllExhaustedError{Attempted: attempted, Last: lastErr}
}
