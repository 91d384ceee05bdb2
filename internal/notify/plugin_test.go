package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/persist"
)

// mockPluginStore is an in-memory PluginStore.
type mockPluginStore struct {
	mu      sync.Mutex
	plugins map[uuid.UUID]*Plugin
	err     error
}

func newMockPluginStore() *mockPluginStore {
	return &mockPluginStore{plugins: make(map[uuid.UUID]*Plugin)}
}

func (m *mockPluginStore) SavePlugin(_ context.Context, p *Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *p
	m.plugins[p.ID] = &cp
	return nil
}

func (m *mockPluginStore) DeletePlugin(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.plugins[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	delete(m.plugins, id)
	return nil
}

func (m *mockPluginStore) ListPlugins(_ context.Context, f PluginFilter) ([]*Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		if !f.Matches(p) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func validPlugin(name string, events ...string) *Plugin {
	return &Plugin{Name: name, Endpoint: "http://localhost:9000/rpc", SubscribedEvents: events}
}

func TestPlugin_Validate(t *testing.T) {
	tests := []struct {
		name string
		p    Plugin
		ok   bool
	}{
		{"valid", *validPlugin("a", persist.EventShapeCreated), true},
		{"inactive", Plugin{Name: "a", Endpoint: "https://x.example/rpc", SubscribedEvents: []string{persist.EventShapeDeleted}, Status: PluginStatusInactive}, true},
		{"no name", Plugin{Endpoint: "http://x/rpc", SubscribedEvents: []string{persist.EventShapeCreated}}, false},
		{"bad scheme", Plugin{Name: "a", Endpoint: "ftp://x/rpc", SubscribedEvents: []string{persist.EventShapeCreated}}, false},
		{"no host", Plugin{Name: "a", Endpoint: "http:///rpc", SubscribedEvents: []string{persist.EventShapeCreated}}, false},
		{"no events", Plugin{Name: "a", Endpoint: "http://x/rpc"}, false},
		{"unknown event", Plugin{Name: "a", Endpoint: "http://x/rpc", SubscribedEvents: []string{"cell.written"}}, false},
		{"unknown status", Plugin{Name: "a", Endpoint: "http://x/rpc", SubscribedEvents: []string{persist.EventShapeCreated}, Status: "paused"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.ok && err != nil {
				t.Errorf("got %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidPlugin) {
				t.Errorf("got %v, want ErrInvalidPlugin", err)
			}
		})
	}
}

func TestPluginRegistry_Register(t *testing.T) {
	r := NewPluginRegistry(nil)
	p := validPlugin("a", persist.EventShapeCreated)
	if err := r.Register(context.Background(), p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected an assigned ID")
	}
	if p.Status != PluginStatusActive {
		t.Errorf("status: got %q, want active", p.Status)
	}
	if p.CreatedAt.IsZero() {
		t.Error("expected a creation time")
	}

	if err := r.Register(context.Background(), &Plugin{Name: "bad"}); !errors.Is(err, ErrInvalidPlugin) {
		t.Errorf("got %v, want ErrInvalidPlugin", err)
	}
	if got := len(r.List(PluginFilter{})); got != 1 {
		t.Errorf("List: got %d, want 1", got)
	}
}

func TestPluginRegistry_GetReturnsCopy(t *testing.T) {
	r := NewPluginRegistry(nil)
	p := validPlugin("a", persist.EventShapeCreated)
	r.Register(context.Background(), p)

	got, err := r.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.SubscribedEvents[0] = "mutated"
	again, _ := r.Get(p.ID)
	if again.SubscribedEvents[0] != persist.EventShapeCreated {
		t.Errorf("registry entry changed through a returned copy: %v", again.SubscribedEvents)
	}

	if _, err := r.Get(uuid.New()); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("got %v, want ErrPluginNotFound", err)
	}
}

func TestPluginRegistry_ListOrdered(t *testing.T) {
	r := NewPluginRegistry(nil)
	for _, name := range []string{"first", "second", "third"} {
		r.Register(context.Background(), validPlugin(name, persist.EventShapeCreated))
		time.Sleep(time.Millisecond)
	}
	list := r.List(PluginFilter{})
	for i, want := range []string{"first", "second", "third"} {
		if list[i].Name != want {
			t.Errorf("List[%d]: got %q, want %q", i, list[i].Name, want)
		}
	}
}

func TestPluginRegistry_ForEvent(t *testing.T) {
	r := NewPluginRegistry(nil)
	r.Register(context.Background(), validPlugin("created", persist.EventShapeCreated))
	r.Register(context.Background(), validPlugin("all", persist.EventShapeCreated, persist.EventShapeUpdated, persist.EventShapeDeleted))
	off := validPlugin("off", persist.EventShapeCreated)
	off.Status = PluginStatusInactive
	r.Register(context.Background(), off)

	if got := len(r.ForEvent(persist.EventShapeCreated)); got != 2 {
		t.Errorf("created: got %d, want 2", got)
	}
	if got := len(r.ForEvent(persist.EventShapeDeleted)); got != 1 {
		t.Errorf("deleted: got %d, want 1", got)
	}
	if got := len(r.ForEvent("nothing")); got != 0 {
		t.Errorf("unknown: got %d, want 0", got)
	}
}

func TestPluginRegistry_ListFiltered(t *testing.T) {
	r := NewPluginRegistry(nil)
	r.Register(context.Background(), validPlugin("created", persist.EventShapeCreated))
	off := validPlugin("off", persist.EventShapeCreated, persist.EventShapeDeleted)
	off.Status = PluginStatusInactive
	r.Register(context.Background(), off)

	tests := []struct {
		name   string
		filter PluginFilter
		want   int
	}{
		{"all", PluginFilter{}, 2},
		{"by event", PluginFilter{Event: persist.EventShapeDeleted}, 1},
		{"by status", PluginFilter{Status: PluginStatusActive}, 1},
		{"both", PluginFilter{Event: persist.EventShapeDeleted, Status: PluginStatusActive}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(r.List(tt.filter)); got != tt.want {
				t.Errorf("List: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPluginRegistry_WithStore(t *testing.T) {
	store := newMockPluginStore()
	r := NewPluginRegistry(store)

	p := validPlugin("persisted", persist.EventShapeUpdated)
	if err := r.Register(context.Background(), p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	stored, _ := store.ListPlugins(context.Background(), PluginFilter{})
	if len(stored) != 1 || stored[0].Name != "persisted" {
		t.Fatalf("stored: got %+v", stored)
	}

	if err := r.Delete(context.Background(), p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	stored, _ = store.ListPlugins(context.Background(), PluginFilter{})
	if len(stored) != 0 {
		t.Errorf("expected 0 stored plugins after delete, got %d", len(stored))
	}
	if err := r.Delete(context.Background(), p.ID); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("second delete: got %v, want ErrPluginNotFound", err)
	}
}

func TestPluginRegistry_StoreFailure(t *testing.T) {
	store := newMockPluginStore()
	r := NewPluginRegistry(store)
	kept := validPlugin("kept", persist.EventShapeCreated)
	r.Register(context.Background(), kept)

	store.err = errors.New("connection refused")
	if err := r.Register(context.Background(), validPlugin("lost", persist.EventShapeCreated)); err == nil {
		t.Error("expected register to fail")
	}
	if err := r.Delete(context.Background(), kept.ID); err == nil {
		t.Error("expected delete to fail")
	}
	if got := len(r.List(PluginFilter{})); got != 1 {
		t.Errorf("registry changed despite store failure: %d plugins", got)
	}
}

func TestPluginRegistry_Load(t *testing.T) {
	store := newMockPluginStore()
	existing := &Plugin{
		ID:               uuid.New(),
		Name:             "pre-existing",
		Endpoint:         "http://localhost:9000/rpc",
		SubscribedEvents: []string{persist.EventShapeDeleted},
		Status:           PluginStatusActive,
	}
	store.SavePlugin(context.Background(), existing)

	r := NewPluginRegistry(store)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := r.Get(existing.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "pre-existing" {
		t.Errorf("Name: got %q, want %q", got.Name, "pre-existing")
	}

	if err := NewPluginRegistry(nil).Load(context.Background()); err != nil {
		t.Errorf("Load without store: %v", err)
	}
}
