package persist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/mapconfig"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
	"github.com/ryanbastic/go-fieldmap/internal/storage"
)

// memStore is an in-memory storage.Store. err, when set, fails every write.
type memStore struct {
	mu         sync.Mutex
	shapes     map[uuid.UUID]*shape.Shape
	categories map[uuid.UUID]schema.Category
	mapConfig  *mapconfig.Config
	err        error
	listErr    error
	calls      map[string]int
	clock      time.Time
}

func newMemStore() *memStore {
	return &memStore{
		shapes:     make(map[uuid.UUID]*shape.Shape),
		categories: make(map[uuid.UUID]schema.Category),
		calls:      make(map[string]int),
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) CreateShape(ctx context.Context, req shape.CreateRequest) (*shape.Shape, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["create"]++
	if m.err != nil {
		return nil, m.err
	}
	if req.CategoryID != uuid.Nil {
		if _, ok := m.categories[req.CategoryID]; !ok {
			return nil, schema.ErrUnknownCategory
		}
	}
	id := uuid.New()
	s := &shape.Shape{
		ID:              id,
		Type:            req.Type,
		Name:            req.Name,
		Description:     req.Description,
		LocationAddress: req.LocationAddress,
		CategoryID:      req.CategoryID,
		Metadata:        shape.CloneMetadata(req.Metadata),
		CreatorID:       req.CreatorID,
		CreatedAt:       m.tick(),
		Points:          shape.Sequence(id, req.Points),
	}
	m.shapes[id] = s
	return s.Clone(), nil
}

func (m *memStore) GetShape(ctx context.Context, id uuid.UUID) (*shape.Shape, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shapes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memStore) PatchShape(ctx context.Context, id uuid.UUID, p shape.Patch) (*shape.Shape, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["patch"]++
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.shapes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p.Apply(s)
	return s.Clone(), nil
}

func (m *memStore) DeleteShape(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["delete"]++
	if m.err != nil {
		return m.err
	}
	if _, ok := m.shapes[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.shapes, id)
	return nil
}

func (m *memStore) sortedShapes(keep func(*shape.Shape) bool) []*shape.Shape {
	var out []*shape.Shape
	for _, s := range m.shapes {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memStore) ListShapes(ctx context.Context) ([]*shape.Shape, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["list"]++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.sortedShapes(func(*shape.Shape) bool { return true }), nil
}

func (m *memStore) ListShapesPage(ctx context.Context, cursor string, limit int) (*storage.Page, error) {
	shapes, err := m.ListShapes(ctx)
	if err != nil {
		return nil, err
	}
	return &storage.Page{Shapes: shapes}, nil
}

func (m *memStore) ShapesInCategory(ctx context.Context, categoryID uuid.UUID) ([]*shape.Shape, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedShapes(func(s *shape.Shape) bool { return s.CategoryID == categoryID }), nil
}

func (m *memStore) ListCategories(ctx context.Context) ([]schema.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]schema.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) GetCategory(ctx context.Context, id uuid.UUID) (*schema.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["get_category"]++
	c, ok := m.categories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := c.Clone()
	return &cp, nil
}

func (m *memStore) CreateCategory(ctx context.Context, c schema.Category) (*schema.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c.ID = uuid.New()
	c.CreatedAt = m.tick()
	m.categories[c.ID] = c.Clone()
	return &c, nil
}

func (m *memStore) UpdateCategory(ctx context.Context, c schema.Category) (*schema.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	old, ok := m.categories[c.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c.CreatedAt = old.CreatedAt
	m.categories[c.ID] = c.Clone()
	return &c, nil
}

func (m *memStore) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.categories, id)
	for _, s := range m.shapes {
		if s.CategoryID == id {
			s.CategoryID = uuid.Nil
		}
	}
	return nil
}

func (m *memStore) GetMapConfiguration(ctx context.Context) (*mapconfig.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["get_map_config"]++
	if m.mapConfig == nil {
		return nil, nil
	}
	cp := *m.mapConfig
	return &cp, nil
}

func (m *memStore) PutMapConfiguration(ctx context.Context, cfg mapconfig.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.mapConfig = &cfg
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

// seedCategory stores a category directly, bypassing the coordinator.
func (m *memStore) seedCategory(c schema.Category) schema.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = m.tick()
	m.categories[c.ID] = c
	return c
}

// seedShape stores a persisted shape directly.
func (m *memStore) seedShape(s shape.Shape) *shape.Shape {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = m.tick()
	m.shapes[s.ID] = &s
	return s.Clone()
}
