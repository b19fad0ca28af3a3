package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrEmptyTenant is returned when a tenant name is blank.
var ErrEmptyTenant = errors.New("tenant must not be empty")

// Registry holds one engine per tenant. Engines are created on first use
// and share the registry's configuration, clock, logger and metrics.
type Registry struct {
	cfg  Config
	opts []Option

	mu      sync.Mutex
	engines map[string]*Engine
	ctx     context.Context
	running bool
}

// NewRegistry validates cfg once so Get cannot fail on configuration.
func NewRegistry(cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &Registry{
		cfg:     cfg,
		opts:    opts,
		engines: make(map[string]*Engine),
	}, nil
}

// Get returns the tenant's engine, creating it if needed. Engines created
// while the registry is running are started immediately.
func (r *Registry) Get(tenant string) (*Engine, error) {
	if tenant == "" {
		return nil, ErrEmptyTenant
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[tenant]; ok {
		return e, nil
	}

	opts := append(append([]Option(nil), r.opts...), WithTenant(tenant))
	e, err := New(r.cfg, opts...)
	if err != nil {
		return nil, err
	}
	if r.running {
		if err := e.Start(r.ctx); err != nil {
			return nil, err
		}
	}
	r.engines[tenant] = e
	return e, nil
}

// Lookup returns an existing engine without creating one.
func (r *Registry) Lookup(tenant string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[tenant]
	return e, ok
}

// Tenants lists the tenants with an engine, sorted.
func (r *Registry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.engines))
	for t := range r.engines {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Start starts every engine and any created later.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	for _, e := range r.engines {
		if err := e.Start(ctx); err != nil {
			return fmt.Errorf("tenant %s: %w", e.Tenant(), err)
		}
	}
	r.ctx = ctx
	r.running = true
	return nil
}

// Stop stops every engine.
func (r *Registry) Stop() {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.running = false
	r.ctx = nil
	r.mu.Unlock()

	for _, e := range engines {
		e.Stop()
	}
}

// SetRetention updates the retention windows of every engine and of
// engines created afterwards.
func (r *Registry) SetRetention(atomDays, campaignDays, userDays int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cfg
	next.AtomRetentionDays = atomDays
	next.CampaignRetentionDays = campaignDays
	next.UserRetentionDays = userDays
	if err := next.Validate(); err != nil {
		return err
	}
	for _, e := range r.engines {
		if err := e.SetRetention(atomDays, campaignDays, userDays); err != nil {
			return fmt.Errorf("tenant %s: %w", e.Tenant(), err)
		}
	}
	r.cfg = next
	return nil
}

// Healthy reports the first unhealthy engine.
func (r *Registry) Healthy(ctx context.Context) error {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	for _, e := range engines {
		if err := e.Healthy(ctx); err != nil {
			return fmt.Errorf("tenant %s: %w", e.Tenant(), err)
		}
	}
	return nil
}

// Summaries returns one summary per tenant, sorted by tenant.
func (r *Registry) Summaries() []Summary {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out
}
