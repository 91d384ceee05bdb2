package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/persist"
)

var (
	ErrPluginNotFound = errors.New("plugin not found")
	ErrInvalidPlugin  = errors.New("invalid plugin")
)

// PluginStatus represents the activation state of a plugin.
type PluginStatus string

const (
	PluginStatusActive   PluginStatus = "active"
	PluginStatusInactive PluginStatus = "inactive"
)

// Events lists every event a plugin may subscribe to.
var Events = []string{persist.EventShapeCreated, persist.EventShapeUpdated, persist.EventShapeDeleted}

// Plugin is an external JSON-RPC service that receives shape events.
type Plugin struct {
	ID               uuid.UUID    `json:"id"`
	Name             string       `json:"name"`
	Endpoint         string       `json:"endpoint"`
	SubscribedEvents []string     `json:"subscribed_events"`
	Status           PluginStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Validate checks the name, endpoint, status and subscriptions.
func (p *Plugin) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPlugin)
	}
	u, err := url.Parse(p.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint %q is not an http(s) URL", ErrInvalidPlugin, p.Endpoint)
	}
	switch p.Status {
	case "", PluginStatusActive, PluginStatusInactive:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPlugin, p.Status)
	}
	if len(p.SubscribedEvents) == 0 {
		return fmt.Errorf("%w: subscribe to at least one event", ErrInvalidPlugin)
	}
	for _, ev := range p.SubscribedEvents {
		if !slices.Contains(Events, ev) {
			return fmt.Errorf("%w: unknown event %q", ErrInvalidPlugin, ev)
		}
	}
	return nil
}

// PluginFilter narrows a plugin listing. Zero fields match everything.
type PluginFilter struct {
	Event  string
	Status PluginStatus
}

// Matches reports whether p passes the filter.
func (f PluginFilter) Matches(p *Plugin) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return f.Event == "" || slices.Contains(p.SubscribedEvents, f.Event)
}

// PluginRegistry is a thread-safe in-memory set of plugins, optionally
// backed by a PluginStore.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins map[uuid.UUID]*Plugin
	store   PluginStore
}

// NewPluginRegistry creates an empty registry. store may be nil.
func NewPluginRegistry(store PluginStore) *PluginRegistry {
	return &PluginRegistry{plugins: make(map[uuid.UUID]*Plugin), store: store}
}

// Load replaces the registry contents with the plugins in the store.
func (r *PluginRegistry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	plugins, err := r.store.ListPlugins(ctx, PluginFilter{})
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[uuid.UUID]*Plugin, len(plugins))
	for _, p := range plugins {
		r.plugins[p.ID] = p
	}
	return nil
}

// Register validates p, assigns its ID and creation time, persists it and
// adds it to the registry.
func (r *PluginRegistry) Register(ctx context.Context, p *Plugin) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	if p.Status == "" {
		p.Status = PluginStatusActive
	}
	if r.store != nil {
		if err := r.store.SavePlugin(ctx, p); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.ID] = p
	return nil
}

// Get returns a copy of a plugin by ID.
func (r *PluginRegistry) Get(id uuid.UUID) (*Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	cp := *p
	cp.SubscribedEvents = slices.Clone(p.SubscribedEvents)
	return &cp, nil
}

// List returns the plugins matching f, oldest first.
func (r *PluginRegistry) List(f PluginFilter) []*Plugin {
	r.mu.RLock()
	out := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		if !f.Matches(p) {
			continue
		}
		cp := *p
		cp.SubscribedEvents = slices.Clone(p.SubscribedEvents)
		out = append(out, &cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete removes a plugin from the store and the registry.
func (r *PluginRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.RLock()
	_, ok := r.plugins[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if r.store != nil {
		if err := r.store.DeletePlugin(ctx, id); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, id)
	return nil
}

// ForEvent returns all active plugins subscribed to event.
func (r *PluginRegistry) ForEvent(event string) []*Plugin {
	return r.List(PluginFilter{Event: event, Status: PluginStatusActive})
}
