package plugin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opentalon/autopilot/internal/capability"
	pkg "github.com/opentalon/autopilot/pkg/plugin"
)

// SocketTransport speaks the length-prefixed plugin protocol over a
// Unix socket or TCP connection. Exchanges are serialized on the
// connection; a failed exchange poisons it, since the stream may be
// left mid-message.
type SocketTransport struct {
	mu     sync.Mutex
	conn   net.Conn
	name   string
	broken error
}

// DialSocket connects to a provider listening at network/address.
func DialSocket(ctx context.Context, network, address string) (*SocketTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	return &SocketTransport{conn: conn}, nil
}

// Name returns the name the provider reported at discovery.
func (t *SocketTransport) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

func (t *SocketTransport) Discover(ctx context.Context) ([]capability.Descriptor, error) {
	var resp pkg.Response
	if err := t.roundTrip(ctx, &pkg.Request{Method: pkg.MethodCapabilities}, &resp); err != nil {
		return nil, fmt.Errorf("request capabilities: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("capabilities error: %s", resp.Error)
	}
	if resp.Caps == nil {
		return nil, errors.New("provider returned empty capabilities")
	}

	t.mu.Lock()
	t.name = resp.Caps.Name
	t.mu.Unlock()
	return fromCapabilitiesMsg(resp.Caps), nil
}

func (t *SocketTransport) Call(ctx context.Context, name string, args map[string]any) (capability.Result, error) {
	req := pkg.Request{
		Method:     pkg.MethodCall,
		ID:         uuid.NewString(),
		Capability: name,
		Args:       args,
	}

	var resp pkg.Response
	if err := t.roundTrip(ctx, &req, &resp); err != nil {
		return capability.Result{}, err
	}
	if resp.CallID != req.ID {
		t.poison(fmt.Errorf("mismatched call id %q (want %q)", resp.CallID, req.ID))
		return capability.Result{}, fmt.Errorf("provider returned mismatched call id %q", resp.CallID)
	}
	if resp.Error != "" {
		return capability.Result{Content: resp.Error, IsError: true}, nil
	}
	return capability.Result{Content: resp.Content}, nil
}

func (t *SocketTransport) roundTrip(ctx context.Context, req *pkg.Request, resp *pkg.Response) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.broken != nil {
		return fmt.Errorf("connection unusable: %w", t.broken)
	}

	deadline, hasDeadline := ctx.Deadline()
	if err := t.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetDeadline(time.Now())
	})
	defer stop()

	err := pkg.WriteMessage(t.conn, req)
	if err == nil {
		err = pkg.ReadMessage(t.conn, resp)
	}
	if err != nil {
		var ne net.Error
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("%w (%v)", ctx.Err(), err)
		case hasDeadline && errors.As(err, &ne) && ne.Timeout():
			err = fmt.Errorf("%w (%v)", context.DeadlineExceeded, err)
		}
		t.broken = err
		return err
	}
	return nil
}

// Broken reports why the connection can no longer be used, if it can't.
func (t *SocketTransport) Broken() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broken
}

func (t *SocketTransport) poison(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broken = err
}

// Close terminates the connection.
func (t *SocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken == nil {
		t.broken = errors.New("transport closed")
	}
	return t.conn.Close()
}

var _ capability.Breakable = (*SocketTransport)(nil)

func fromCapabilitiesMsg(msg *pkg.CapabilitiesMsg) []capability.Descriptor {
	descs := make([]capability.Descriptor, len(msg.Capabilities))
	for i, c := range msg.Capabilities {
		schema := make(capability.Schema, len(c.Parameters))
		for _, p := range c.Parameters {
			schema[p.Name] = capability.Param{
				Type:        capability.ParamType(p.Type),
				Required:    p.Required,
				Description: p.Description,
			}
		}
		descs[i] = capability.Descriptor{
			Name:        c.Name,
			Description: c.Description,
			Schema:      schema,
		}
	}
	return descs
}
