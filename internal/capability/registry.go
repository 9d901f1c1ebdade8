package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const DefaultConnectTimeout = 10 * time.Second

// ConnectObserver is notified of every connect attempt.
type ConnectObserver interface {
	ObserveConnect(provider string, err error)
}

// record is the live state of one provider. op serializes connect,
// disconnect and remove on the provider so they never interleave; mu
// guards the fields and is never held across network I/O.
type record struct {
	op sync.Mutex

	mu        sync.RWMutex
	name      string
	address   string
	state     ConnectionState
	caps      []Capability
	transport Transport
	lastErr   string
}

func (rec *record) snapshot() Provider {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.snapshotLocked()
}

func (rec *record) snapshotLocked() Provider {
	caps := make([]Capability, len(rec.caps))
	copy(caps, rec.caps)
	return Provider{
		Name:         rec.name,
		Address:      rec.address,
		State:        rec.state,
		Capabilities: caps,
		LastError:    rec.lastErr,
	}
}

// Registry owns every known provider, its connection state and the
// capabilities discovered from it.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record

	dialer         Dialer
	connectTimeout time.Duration
	logger         *slog.Logger
	observer       ConnectObserver
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConnectTimeout bounds each discovery round-trip.
func WithConnectTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.connectTimeout = d }
}

func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func WithConnectObserver(o ConnectObserver) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates an empty registry that reaches providers through dialer.
func NewRegistry(dialer Dialer, opts ...RegistryOption) *Registry {
	r := &Registry{
		records:        make(map[string]*record),
		dialer:         dialer,
		connectTimeout: DefaultConnectTimeout,
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// AddProvider registers a provider in the Registered state.
func (r *Registry) AddProvider(name, address string) (Provider, error) {
	if name == "" {
		return Provider{}, errors.New("provider name is required")
	}
	if address == "" {
		return Provider{}, fmt.Errorf("provider %q: address is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[name]; exists {
		return Provider{}, &DuplicateProviderError{Provider: name}
	}
	rec := &record{
		name:    name,
		address: address,
		state:   StateRegistered,
	}
	r.records[name] = rec
	return rec.snapshot(), nil
}

func (r *Registry) get(name string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// Connect performs a discovery round-trip against the provider. On
// success the provider becomes Connected and its capabilities are
// replaced wholesale. On failure it becomes Failed, previously known
// capabilities are kept as they were, and a *ConnectionError is
// returned along with the Failed snapshot.
func (r *Registry) Connect(ctx context.Context, name string) (Provider, error) {
	rec, ok := r.get(name)
	if !ok {
		return Provider{}, &UnknownProviderError{Provider: name}
	}

	rec.op.Lock()
	defer rec.op.Unlock()

	rec.mu.Lock()
	if rec.state == StateUnregistered {
		// Removed while waiting for op.
		rec.mu.Unlock()
		return Provider{}, &UnknownProviderError{Provider: name}
	}
	rec.state = StateConnecting
	address := rec.address
	rec.mu.Unlock()

	start := time.Now()
	transport, descs, err := r.discover(ctx, address)

	rec.mu.Lock()
	if err != nil {
		old := rec.transport
		rec.transport = nil
		rec.state = StateFailed
		rec.lastErr = err.Error()
		snap := rec.snapshotLocked()
		rec.mu.Unlock()

		if old != nil {
			_ = old.Close()
		}
		r.observe(name, err)
		r.logger.Warn("provider connect failed", "provider", name, "address", address, "error", err)
		return snap, &ConnectionError{Provider: name, Address: address, Err: err}
	}

	old := rec.transport
	rec.transport = transport
	rec.caps = bindCapabilities(name, descs)
	rec.state = StateConnected
	rec.lastErr = ""
	snap := rec.snapshotLocked()
	rec.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	r.observe(name, nil)
	r.logger.Info("provider connected",
		"provider", name,
		"capabilities", len(snap.Capabilities),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return snap, nil
}

func (r *Registry) discover(ctx context.Context, address string) (Transport, []Descriptor, error) {
	if r.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.connectTimeout)
		defer cancel()
	}

	transport, err := r.dialer.Dial(ctx, address)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	descs, err := transport.Discover(ctx)
	if err != nil {
		_ = transport.Close()
		return nil, nil, fmt.Errorf("discover: %w", err)
	}
	return transport, descs, nil
}

func (r *Registry) observe(name string, err error) {
	if r.observer != nil {
		r.observer.ObserveConnect(name, err)
	}
}

// ConnectAll connects every registered provider, at most concurrency at
// a time (unbounded when concurrency <= 0). Failures do not stop the
// others; they are joined into the returned error.
func (r *Registry) ConnectAll(ctx context.Context, concurrency int) error {
	r.mu.RLock()
	names := sortedNames(r.records)
	r.mu.RUnlock()

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, name := range names {
		g.Go(func() error {
			if _, err := r.Connect(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Disconnect moves a Connected provider back to Registered and clears
// its capabilities. It is a no-op for unknown or not-connected providers.
func (r *Registry) Disconnect(name string) {
	rec, ok := r.get(name)
	if !ok {
		return
	}

	rec.op.Lock()
	defer rec.op.Unlock()

	rec.mu.Lock()
	if rec.state != StateConnected {
		rec.mu.Unlock()
		return
	}
	old := rec.transport
	rec.transport = nil
	rec.caps = nil
	rec.state = StateRegistered
	rec.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	r.logger.Info("provider disconnected", "provider", name)
}

// markFailed settles a provider into Failed when the transport it was
// reached through has become unusable. Capabilities are kept as after
// a failed connect. A transport already replaced by a newer connect is
// left alone.
func (r *Registry) markFailed(name string, transport Transport, cause error) {
	rec, ok := r.get(name)
	if !ok {
		return
	}

	rec.mu.Lock()
	if rec.transport != transport {
		rec.mu.Unlock()
		return
	}
	rec.transport = nil
	rec.state = StateFailed
	rec.lastErr = cause.Error()
	rec.mu.Unlock()

	_ = transport.Close()
	r.logger.Warn("provider connection lost", "provider", name, "error", cause)
}

// RemoveProvider destroys the provider record and closes its transport.
// Unknown names are ignored.
func (r *Registry) RemoveProvider(name string) {
	r.mu.Lock()
	rec, ok := r.records[name]
	delete(r.records, name)
	r.mu.Unlock()
	if !ok {
		return
	}

	rec.op.Lock()
	defer rec.op.Unlock()

	rec.mu.Lock()
	old := rec.transport
	rec.transport = nil
	rec.caps = nil
	rec.state = StateUnregistered
	rec.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	r.logger.Info("provider removed", "provider", name)
}

// Provider returns a snapshot of one provider.
func (r *Registry) Provider(name string) (Provider, bool) {
	rec, ok := r.get(name)
	if !ok {
		return Provider{}, false
	}
	return rec.snapshot(), true
}

// ListProviders returns snapshots of all providers ordered by name.
func (r *Registry) ListProviders() []Provider {
	recs := r.sortedRecords()
	out := make([]Provider, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot())
	}
	return out
}

// ListCapabilities returns the capabilities of Connected providers,
// ordered by provider name and then discovery order. With a non-empty
// providerName only that provider is considered; an unknown or
// not-connected provider contributes nothing.
func (r *Registry) ListCapabilities(providerName string) []Entry {
	var recs []*record
	if providerName != "" {
		if rec, ok := r.get(providerName); ok {
			recs = []*record{rec}
		}
	} else {
		recs = r.sortedRecords()
	}

	var out []Entry
	for _, rec := range recs {
		p := rec.snapshot()
		if p.State != StateConnected {
			continue
		}
		for _, c := range p.Capabilities {
			out = append(out, Entry{Provider: p, Capability: c})
		}
	}
	return out
}

// Resolve looks up a capability on a Connected provider against the
// current state and returns it with the transport to call it on.
func (r *Registry) Resolve(providerName, capabilityName string) (Capability, Transport, error) {
	rec, ok := r.get(providerName)
	if !ok {
		return Capability{}, nil, &UnknownProviderError{Provider: providerName}
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()

	if rec.state != StateConnected || rec.transport == nil {
		return Capability{}, nil, &NotConnectedError{Provider: providerName, State: rec.state}
	}
	for _, c := range rec.caps {
		if c.Name == capabilityName {
			return c, rec.transport, nil
		}
	}
	return Capability{}, nil, &UnknownCapabilityError{Provider: providerName, Capability: capabilityName}
}

// Close disconnects every provider.
func (r *Registry) Close() {
	for _, rec := range r.sortedRecords() {
		r.Disconnect(rec.name)
	}
}

func (r *Registry) sortedRecords() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := make([]*record, 0, len(r.records))
	for _, name := range sortedNames(r.records) {
		recs = append(recs, r.records[name])
	}
	return recs
}
