package capability

import (
	"context"
	"errors"
	"sync"
)

// fakeTransport serves a fixed capability list and records calls.
type fakeTransport struct {
	mu      sync.Mutex
	descs   []Descriptor
	callFn  func(ctx context.Context, name string, args map[string]any) (Result, error)
	calls   []string
	lastArg map[string]any
	closed  bool
	broken  error
}

func (f *fakeTransport) Discover(context.Context) ([]Descriptor, error) {
	return f.descs, nil
}

func (f *fakeTransport) Call(ctx context.Context, name string, args map[string]any) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.lastArg = args
	fn := f.callFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, name, args)
	}
	return Result{Content: "ok:" + name}, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Broken() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broken
}

func (f *fakeTransport) breakWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = err
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer maps addresses to transports. Addresses without an entry
// fail to dial; fail[address] forces failure even when an entry exists.
type fakeDialer struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
	fail       map[string]error
	block      map[string]chan struct{}
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		transports: make(map[string]*fakeTransport),
		fail:       make(map[string]error),
		block:      make(map[string]chan struct{}),
	}
}

func (d *fakeDialer) set(address string, descs ...Descriptor) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &fakeTransport{descs: descs}
	d.transports[address] = t
	delete(d.fail, address)
	return t
}

func (d *fakeDialer) setFail(address string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[address] = err
}

func (d *fakeDialer) Dial(ctx context.Context, address string) (Transport, error) {
	d.mu.Lock()
	block := d.block[address]
	d.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.fail[address]; ok {
		return nil, err
	}
	t, ok := d.transports[address]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return t, nil
}

func searchDescriptor() Descriptor {
	return Descriptor{
		Name:        "search",
		Description: "Search the web",
		Schema: Schema{
			"query":       {Type: TypeString, Required: true, Description: "Search query"},
			"max_results": {Type: TypeInteger},
		},
	}
}
