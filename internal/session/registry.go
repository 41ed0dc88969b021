package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/gamehost/internal/game"
)

// Registry owns one Manager per community. The process entry point holds the
// only Registry.
type Registry struct {
	template Options
	logger   *zap.Logger

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates a registry whose managers are built from template with
// Community filled in.
//
// Precondition: template.Logger must be non-nil.
func NewRegistry(template Options) *Registry {
	return &Registry{
		template: template,
		logger:   template.Logger,
		managers: make(map[string]*Manager),
	}
}

// Manager returns the community's manager, creating it if needed.
func (r *Registry) Manager(community string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[community]; ok {
		return m
	}
	opts := r.template
	opts.Community = community
	m := NewManager(opts)
	r.managers[community] = m
	r.logger.Info("session manager created", zap.String("community", community))
	return m
}

// Lookup returns the community's manager without creating one.
func (r *Registry) Lookup(community string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[community]
	return m, ok
}

// Remove closes and forgets the community's manager.
func (r *Registry) Remove(ctx context.Context, community string) error {
	r.mu.Lock()
	m, ok := r.managers[community]
	delete(r.managers, community)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return m.Close(ctx)
}

// Prune closes and forgets every dead manager.
//
// Postcondition: Returns the communities that were removed, sorted. A manager
// woken by a concurrent StartGame is kept; one closed here rejects later calls
// with ErrManagerClosed, so callers fetch a fresh manager from the registry.
func (r *Registry) Prune(context.Context) []string {
	r.mu.Lock()
	var removed []string
	for community, m := range r.managers {
		if m.closeIfDead() {
			delete(r.managers, community)
			removed = append(removed, community)
		}
	}
	r.mu.Unlock()

	sort.Strings(removed)
	if len(removed) > 0 {
		r.logger.Info("pruned dead session managers", zap.Strings("communities", removed))
	}
	return removed
}

// ManagerSnapshot describes one manager for diagnostics.
type ManagerSnapshot struct {
	Community string
	State     State
	IdleSince time.Time
	Sessions  []game.Stats
}

// Snapshot describes every manager, ordered by community.
func (r *Registry) Snapshot() []ManagerSnapshot {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	out := make([]ManagerSnapshot, 0, len(managers))
	for _, m := range managers {
		since, _ := m.IdleSince()
		out = append(out, ManagerSnapshot{
			Community: m.Community(),
			State:     m.State(),
			IdleSince: since,
			Sessions:  m.Sessions(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Community < out[j].Community })
	return out
}

// Close closes every manager concurrently and empties the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range managers {
		m := m
		g.Go(func() error { return m.Close(gctx) })
	}
	return g.Wait()
}

// Reaper periodically prunes dead managers. It satisfies server.Service.
type Reaper struct {
	registry *Registry
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewReaper creates a Reaper for registry.
//
// Precondition: interval > 0.
func NewReaper(registry *Registry, interval time.Duration) *Reaper {
	return &Reaper{registry: registry, interval: interval, stop: make(chan struct{})}
}

// Start prunes every interval until Stop is called.
func (p *Reaper) Start() error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return nil
		case <-t.C:
			p.registry.Prune(context.Background())
		}
	}
}

// Stop ends Start. Safe to call more than once.
func (p *Reaper) Stop() {
	p.once.Do(func() { close(p.stop) })
}
