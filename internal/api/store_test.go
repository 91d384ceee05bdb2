package api

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/identity"
	"github.com/ryanbastic/go-fieldmap/internal/mapconfig"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
	"github.com/ryanbastic/go-fieldmap/internal/storage"
)

// fakeStore is an in-memory storage.Store applying the same authorization
// rules as the Postgres store. pingErr fails Ping; err fails every write.
type fakeStore struct {
	mu         sync.Mutex
	shapes     map[uuid.UUID]*shape.Shape
	categories map[uuid.UUID]schema.Category
	mapConfig  *mapconfig.Config
	clock      time.Time
	err        error
	pingErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		shapes:     make(map[uuid.UUID]*shape.Shape),
		categories: make(map[uuid.UUID]schema.Category),
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var _ storage.Store = (*fakeStore)(nil)

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func admin(ctx context.Context) error {
	u, ok := identity.FromContext(ctx)
	if !ok || !u.IsAdmin() {
		return fmt.Errorf("%w: admin role required", storage.ErrForbidden)
	}
	return nil
}

func (f *fakeStore) CreateShape(ctx context.Context, req shape.CreateRequest) (*shape.Shape, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.categories[req.CategoryID]; req.CategoryID != uuid.Nil && !ok {
		return nil, schema.ErrUnknownCategory
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
		CreatedAt:       f.tick(),
		Points:          shape.Sequence(id, req.Points),
	}
	f.shapes[id] = s
	return s.Clone(), nil
}

func (f *fakeStore) GetShape(ctx context.Context, id uuid.UUID) (*shape.Shape, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shapes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.Clone(), nil
}

func (f *fakeStore) PatchShape(ctx context.Context, id uuid.UUID, p shape.Patch) (*shape.Shape, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.shapes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p.Apply(s)
	return s.Clone(), nil
}

func (f *fakeStore) DeleteShape(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	s, ok := f.shapes[id]
	if !ok {
		return storage.ErrNotFound
	}
	u, ok := identity.FromContext(ctx)
	if !ok || (!u.IsAdmin() && u.ID != s.CreatorID) {
		return fmt.Errorf("%w: only the creator or an admin may delete", storage.ErrForbidden)
	}
	delete(f.shapes, id)
	return nil
}

func (f *fakeStore) sorted(keep func(*shape.Shape) bool) []*shape.Shape {
	out := []*shape.Shape{}
	for _, s := range f.shapes {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f *fakeStore) ListShapes(ctx context.Context) ([]*shape.Shape, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(*shape.Shape) bool { return true }), nil
}

// ListShapesPage treats the cursor as the number of shapes already returned.
func (f *fakeStore) ListShapesPage(ctx context.Context, cursor string, limit int) (*storage.Page, error) {
	all, _ := f.ListShapes(ctx)
	offset := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "%d", &offset); err != nil || offset < 0 {
			return nil, fmt.Errorf("%w: %q", storage.ErrInvalidCursor, cursor)
		}
	}
	offset = min(offset, len(all))
	end := min(offset+limit, len(all))
	page := &storage.Page{Shapes: all[offset:end], HasMore: end < len(all)}
	if page.HasMore {
		page.NextCursor = fmt.Sprint(end)
	}
	return page, nil
}

func (f *fakeStore) ShapesInCategory(ctx context.Context, categoryID uuid.UUID) ([]*shape.Shape, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(s *shape.Shape) bool { return s.CategoryID == categoryID }), nil
}

func (f *fakeStore) ListCategories(ctx context.Context) ([]schema.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schema.Category, 0, len(f.categories))
	for _, c := range f.categories {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) GetCategory(ctx context.Context, id uuid.UUID) (*schema.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.categories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := c.Clone()
	return &cp, nil
}

func (f *fakeStore) CreateCategory(ctx context.Context, c schema.Category) (*schema.Category, error) {
	if err := admin(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c.ID = uuid.New()
	c.CreatedAt = f.tick()
	f.categories[c.ID] = c.Clone()
	return &c, nil
}

func (f *fakeStore) UpdateCategory(ctx context.Context, c schema.Category) (*schema.Category, error) {
	if err := admin(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.categories[c.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c.CreatedAt = old.CreatedAt
	f.categories[c.ID] = c.Clone()
	return &c, nil
}

func (f *fakeStore) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	if err := admin(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.categories[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.categories, id)
	for _, s := range f.shapes {
		if s.CategoryID == id {
			s.CategoryID = uuid.Nil
		}
	}
	return nil
}

func (f *fakeStore) GetMapConfiguration(ctx context.Context) (*mapconfig.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mapConfig == nil {
		return nil, nil
	}
	cp := *f.mapConfig
	return &cp, nil
}

func (f *fakeStore) PutMapConfiguration(ctx context.Context, cfg mapconfig.Config) error {
	if err := admin(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mapConfig = &cfg
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

// seedShape stores a persisted shape directly.
func (f *fakeStore) seedShape(s shape.Shape) *shape.Shape {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = f.tick()
	f.shapes[s.ID] = &s
	return s.Clone()
}
