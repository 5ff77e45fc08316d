package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"webterm/internal/identity"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// IdentityProvider supplies the client identity a new session authenticates with.
type IdentityProvider interface {
	GetOrCreate(ctx context.Context) (*identity.Identity, error)
}

// Options configures a Registry.
type Options struct {
	Identities IdentityProvider
	Surfaces   SurfaceFactory
	Listener   Listener
	Clock      Clock
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Registry maps tab ids to their sessions. It is the only place sessions are
// created or destroyed, and it keeps exactly one session per open tab.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	tabs    map[string]*Controller
	order   []string
	pending map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLoadTimeout
	}
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		opts:    opts,
		tabs:    make(map[string]*Controller),
		pending: make(map[string]struct{}),
	}
}

// NewTabID returns a fresh, unique tab identifier.
func (r *Registry) NewTabID() string {
	return uuid.NewString()
}

// Open creates the session for tabID in StateUnavailable. It provisions the
// client identity and the terminal surface before the session becomes visible.
func (r *Registry) Open(ctx context.Context, tabID string) (*Controller, error) {
	r.mu.Lock()
	if _, ok := r.tabs[tabID]; ok {
		r.mu.Unlock()
		return nil, &DuplicateTabError{TabID: tabID}
	}
	if _, ok := r.pending[tabID]; ok {
		r.mu.Unlock()
		return nil, &DuplicateTabError{TabID: tabID}
	}
	r.pending[tabID] = struct{}{}
	r.mu.Unlock()

	c, err := r.build(ctx, tabID)

	r.mu.Lock()
	delete(r.pending, tabID)
	if err == nil {
		r.tabs[tabID] = c
		r.order = append(r.order, tabID)
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	r.opts.Logger.Info("Opened tab", zap.String("tab", tabID))
	return c, nil
}

func (r *Registry) build(ctx context.Context, tabID string) (*Controller, error) {
	var id *identity.Identity
	if r.opts.Identities != nil {
		var err error
		id, err = r.opts.Identities.GetOrCreate(ctx)
		if err != nil {
			return nil, fmt.Errorf("open tab %s: %w", tabID, err)
		}
	}

	c := newController(tabID, id, r.opts.Clock, r.opts.Timeout, r.opts.Listener, r.opts.Logger)
	if r.opts.Surfaces != nil {
		surface, err := r.opts.Surfaces(ctx, tabID, c)
		if err != nil {
			return nil, fmt.Errorf("open tab %s: create surface: %w", tabID, err)
		}
		c.attach(surface)
	}
	return c, nil
}

// Close disarms the session timer, releases its surface and forgets tabID.
// Closing an unknown tab is a no-op.
func (r *Registry) Close(tabID string) error {
	r.mu.Lock()
	c, ok := r.tabs[tabID]
	if ok {
		delete(r.tabs, tabID)
		for i, id := range r.order {
			if id == tabID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.opts.Logger.Info("Closed tab", zap.String("tab", tabID))
	return c.Close()
}

// Get looks a session up. It never creates one.
func (r *Registry) Get(tabID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.tabs[tabID]
	return c, ok
}

// Len returns the number of open tabs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}

// List returns a snapshot of every open session in tab creation order.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	controllers := make([]*Controller, 0, len(r.order))
	for _, id := range r.order {
		controllers = append(controllers, r.tabs[id])
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, c.Snapshot())
	}
	return out
}

// CloseAll closes every open tab concurrently.
func (r *Registry) CloseAll(_ context.Context) error {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error { return r.Close(id) })
	}
	return g.Wait()
}
