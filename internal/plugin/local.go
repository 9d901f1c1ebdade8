package plugin

import (
	"context"

	"github.com/google/uuid"

	"github.com/opentalon/autopilot/internal/capability"
	pkg "github.com/opentalon/autopilot/pkg/plugin"
)

// LocalTransport serves a pkg.Handler inside the host process, for
// built-in providers such as the scheduler.
type LocalTransport struct {
	handler pkg.Handler
}

func NewLocalTransport(handler pkg.Handler) *LocalTransport {
	return &LocalTransport{handler: handler}
}

func (t *LocalTransport) Discover(ctx context.Context) ([]capability.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	caps := t.handler.Capabilities()
	return fromCapabilitiesMsg(&caps), nil
}

func (t *LocalTransport) Call(ctx context.Context, name string, args map[string]any) (capability.Result, error) {
	resp := t.handler.Call(ctx, pkg.Request{
		Method:     pkg.MethodCall,
		ID:         uuid.NewString(),
		Capability: name,
		Args:       args,
	})
	if err := ctx.Err(); err != nil {
		return capability.Result{}, err
	}
	if resp.Error != "" {
		return capability.Result{Content: resp.Error, IsError: true}, nil
	}
	return capability.Result{Content: resp.Content}, nil
}

func (t *LocalTransport) Close() error { return nil }
