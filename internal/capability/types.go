package capability

import (
	"context"
	"sort"
)

// ConnectionState is the lifecycle position of a Provider.
type ConnectionState string

const (
	StateUnregistered ConnectionState = "unregistered"
	StateRegistered   ConnectionState = "registered"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// Provider is a read-only snapshot of a tool-providing service. The
// Registry owns the live record; callers only ever see copies.
type Provider struct {
	Name         string          `json:"name"`
	Address      string          `json:"address"`
	State        ConnectionState `json:"state"`
	Capabilities []Capability    `json:"capabilities"`
	LastError    string          `json:"last_error,omitempty"`
}

// Capability is one callable operation exposed by a Provider.
type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      Schema `json:"schema"`
	Provider    string `json:"provider"`
}

// Entry pairs a capability with the provider that exposes it.
type Entry struct {
	Provider   Provider
	Capability Capability
}

// Descriptor is what a transport reports for one capability during
// discovery, before the Registry binds it to a provider.
type Descriptor struct {
	Name        string
	Description string
	Schema      Schema
}

// Result is the verbatim outcome of one capability call. IsError is set
// when the provider ran the call and reported a failure.
type Result struct {
	Content string
	IsError bool
}

// Transport is a live connection to one provider.
type Transport interface {
	// Discover lists the capabilities the provider exposes.
	Discover(ctx context.Context) ([]Descriptor, error)
	// Call invokes one capability with already-validated arguments.
	Call(ctx context.Context, capability string, args map[string]any) (Result, error)
	Close() error
}

// Breakable is implemented by transports that a failed exchange can
// leave unusable. Broken returns the cause, or nil while usable.
type Breakable interface {
	Broken() error
}

// Dialer opens a Transport to the provider at address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, address string) (Transport, error) {
	return f(ctx, address)
}

func bindCapabilities(provider string, descs []Descriptor) []Capability {
	caps := make([]Capability, 0, len(descs))
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if d.Name == "" || seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		caps = append(caps, Capability{
			Name:        d.Name,
			Description: d.Description,
			Schema:      d.Schema.clone(),
			Provider:    provider,
		})
	}
	return caps
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
