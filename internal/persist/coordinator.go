package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/ryanbastic/go-fieldmap/internal/draft"
	"github.com/ryanbastic/go-fieldmap/internal/mapconfig"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
	"github.com/ryanbastic/go-fieldmap/internal/storage"
)

// Shape events published after a successful mutation.
const (
	EventShapeCreated = "shape.created"
	EventShapeUpdated = "shape.updated"
	EventShapeDeleted = "shape.deleted"
)

// ErrInvalidMapConfiguration is returned for a map configuration that names unknown shape types.
var ErrInvalidMapConfiguration = errors.New("invalid map configuration")

const mapConfigKey = "map_configuration"

// Publisher receives shape events. Publish must not block.
type Publisher interface {
	Publish(event string, s *shape.Shape)
}

// Observer records the outcome of coordinator operations.
type Observer interface {
	ObserveOperation(op string, err error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAllocator replaces the default scan-based auto-id allocator.
func WithAllocator(a schema.Allocator) Option {
	return func(c *Coordinator) { c.alloc = a }
}

// WithPublisher sets where shape events go.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.pub = p }
}

// WithObserver sets the operation observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.obs = o }
}

// WithMapConfigTTL sets how long the map configuration is cached.
func WithMapConfigTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.mapConfigTTL = ttl }
}

// Coordinator turns drafts and edits into store requests and keeps the
// shared Collection in step with the store.
type Coordinator struct {
	store        storage.Store
	coll         *Collection
	alloc        schema.Allocator
	pub          Publisher
	obs          Observer
	mapConfigTTL time.Duration
	cache        *gocache.Cache
	logger       *slog.Logger
}

// NewCoordinator creates a Coordinator writing to store and coll.
func NewCoordinator(store storage.Store, coll *Collection, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        store,
		coll:         coll,
		mapConfigTTL: 30 * time.Second,
		logger:       logger,
	}
	for _, o := range opts {
		o(c)
	}
	if c.alloc == nil {
		c.alloc = schema.NewScanAllocator(store)
	}
	c.cache = gocache.New(c.mapConfigTTL, 2*c.mapConfigTTL)
	return c
}

// Collection returns the shared collection.
func (c *Coordinator) Collection() *Collection {
	return c.coll
}

func (c *Coordinator) observe(op string, err error) {
	if c.obs != nil {
		c.obs.ObserveOperation(op, err)
	}
}

func (c *Coordinator) publish(event string, s *shape.Shape) {
	if c.pub != nil {
		c.pub.Publish(event, s)
	}
}

// Shape returns one shape, from the collection when it is there.
func (c *Coordinator) Shape(ctx context.Context, id uuid.UUID) (*shape.Shape, error) {
	if s, ok := c.coll.Shape(id); ok {
		return s, nil
	}
	s, err := c.store.GetShape(ctx, id)
	if err != nil {
		return nil, storeErr("get shape", err)
	}
	return s, nil
}

// Page reads one keyset page of shapes straight from the store.
func (c *Coordinator) Page(ctx context.Context, cursor string, limit int) (*storage.Page, error) {
	page, err := c.store.ListShapesPage(ctx, cursor, limit)
	if err != nil {
		return nil, storeErr("list shapes page", err)
	}
	return page, nil
}

// Category returns a category by id.
func (c *Coordinator) Category(ctx context.Context, id uuid.UUID) (*schema.Category, error) {
	return c.category(ctx, id)
}

// category resolves a category from the collection, falling back to the store.
func (c *Coordinator) category(ctx context.Context, id uuid.UUID) (*schema.Category, error) {
	if id == uuid.Nil {
		return nil, schema.ErrMissingCategory
	}
	if cat, ok := c.coll.Category(id); ok {
		return cat, nil
	}
	cat, err := c.store.GetCategory(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", schema.ErrUnknownCategory, id)
	}
	if err != nil {
		return nil, storeErr("get category", err)
	}
	return cat, nil
}

// Create validates a draft, allocates its auto_id values and submits it.
// On failure the draft is untouched.
func (c *Coordinator) Create(ctx context.Context, s *shape.Shape) (out *shape.Shape, err error) {
	defer func() { c.observe("create", err) }()

	if !s.IsDraft() {
		return nil, draft.ErrNotDraft
	}
	points := s.OrderedPoints()
	if need := s.Type.MinPoints(); len(points) < need {
		return nil, &draft.InsufficientPointsError{Kind: s.Type, Have: len(points), Need: need}
	}
	if s.Type == shape.TypePoint && len(points) > 1 {
		points = points[:1]
	}
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: point %d: %v", draft.ErrInvalidPoint, i+1, err)
		}
	}
	cat, err := c.category(ctx, s.CategoryID)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(cat, s.Metadata); err != nil {
		return nil, err
	}
	md, err := schema.ApplyAutoIDs(ctx, c.alloc, cat, schema.Normalize(cat, s.Metadata))
	if err != nil {
		return nil, err
	}

	created, err := c.store.CreateShape(ctx, shape.CreateRequest{
		Type:            s.Type,
		Name:            s.Name,
		Description:     s.Description,
		LocationAddress: s.LocationAddress,
		CategoryID:      s.CategoryID,
		Metadata:        md,
		CreatorID:       s.CreatorID,
		Points:          points,
	})
	if err != nil {
		return nil, storeErr("create shape", err)
	}

	c.coll.upsertShape(created)
	c.logger.Info("shape created", "shape_id", created.ID, "type", created.Type, "category_id", created.CategoryID)
	c.refreshAfter(ctx, "create")
	c.publish(EventShapeCreated, created)
	return created, nil
}

// Update applies an attribute patch. Metadata is validated against the
// shape's (possibly new) category. Stored auto_id values and keys the
// current schema no longer defines are carried over unchanged.
func (c *Coordinator) Update(ctx context.Context, id uuid.UUID, p shape.Patch) (out *shape.Shape, err error) {
	defer func() { c.observe("update", err) }()

	current, err := c.store.GetShape(ctx, id)
	if err != nil {
		return nil, storeErr("get shape", err)
	}
	if p.IsEmpty() {
		return current, nil
	}

	if p.CategoryID != nil || p.Metadata != nil {
		next := current.Clone()
		p.Apply(next)
		cat, err := c.category(ctx, next.CategoryID)
		if err != nil {
			return nil, err
		}
		md := carryOver(cat, current.Metadata, next.Metadata)
		if err := schema.Validate(cat, md); err != nil {
			return nil, err
		}
		md = schema.Normalize(cat, md)
		if md, err = c.allocateMissing(ctx, cat, md); err != nil {
			return nil, err
		}
		p.Metadata = md
	}

	updated, err := c.store.PatchShape(ctx, id, p)
	if err != nil {
		return nil, storeErr("patch shape", err)
	}

	c.coll.upsertShape(updated)
	c.logger.Info("shape updated", "shape_id", id)
	c.refreshAfter(ctx, "update")
	c.publish(EventShapeUpdated, updated)
	return updated, nil
}

// carryOver builds the metadata to store: next, with stored auto_id values
// and stale keys from previous put back.
func carryOver(cat *schema.Category, previous, next map[string]any) map[string]any {
	out := shape.CloneMetadata(next)
	if out == nil {
		out = make(map[string]any)
	}
	for _, f := range schema.AutoIDFields(cat) {
		delete(out, f.ID)
		if v, ok := previous[f.ID]; ok {
			out[f.ID] = v
		}
	}
	for _, k := range schema.StaleKeys(cat, previous) {
		if _, ok := out[k]; !ok {
			out[k] = previous[k]
		}
	}
	return out
}

// allocateMissing gives a value to auto_id fields the shape never had,
// which happens when it moves into a category that defines them.
func (c *Coordinator) allocateMissing(ctx context.Context, cat *schema.Category, md map[string]any) (map[string]any, error) {
	for _, f := range schema.AutoIDFields(cat) {
		if _, ok := md[f.ID]; ok {
			continue
		}
		n, err := c.alloc.Next(ctx, cat.ID, f.ID)
		if err != nil {
			return nil, fmt.Errorf("allocate %s: %w", f.ID, err)
		}
		md[f.ID] = n
	}
	return md, nil
}

// Delete removes a shape.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { c.observe("delete", err) }()

	if err := c.store.DeleteShape(ctx, id); err != nil {
		return storeErr("delete shape", err)
	}
	deleted, ok := c.coll.Shape(id)
	if !ok {
		deleted = &shape.Shape{ID: id}
	}
	c.coll.removeShape(id)
	c.logger.Info("shape deleted", "shape_id", id)
	c.refreshAfter(ctx, "delete")
	c.publish(EventShapeDeleted, deleted)
	return nil
}

// Refresh replaces the collection wholesale with the store's shapes and categories.
func (c *Coordinator) Refresh(ctx context.Context) (err error) {
	defer func() { c.observe("refresh", err) }()

	shapes, err := c.store.ListShapes(ctx)
	if err != nil {
		return storeErr("list shapes", err)
	}
	cats, err := c.store.ListCategories(ctx)
	if err != nil {
		return storeErr("list categories", err)
	}
	c.coll.replace(shapes, cats)
	return nil
}

// refreshAfter refreshes after a successful mutation. The mutation already
// succeeded, so a failed refresh is only logged.
func (c *Coordinator) refreshAfter(ctx context.Context, op string) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("refresh after mutation failed", "op", op, "error", err)
	}
}

// Save submits the session's selected shape: a draft is created, a
// persisted shape is updated. On success the editor is closed; on failure
// the draft or edit stays as it was.
func (c *Coordinator) Save(ctx context.Context, m *draft.Manager) (*shape.Shape, error) {
	s, ticket, err := m.BeginSave()
	if err != nil {
		return nil, err
	}
	var out *shape.Shape
	if s.IsDraft() {
		out, err = c.Create(ctx, s)
	} else {
		out, err = c.Update(ctx, s.ID, attributesOf(s))
	}
	if endErr := m.EndSave(ticket, err); endErr != nil {
		c.logger.Debug("editor changed during save", "error", endErr)
	}
	return out, err
}

// DeleteSelected deletes the session's selected persisted shape and closes the editor.
func (c *Coordinator) DeleteSelected(ctx context.Context, m *draft.Manager) error {
	s, ticket, err := m.BeginDelete()
	if err != nil {
		return err
	}
	err = c.Delete(ctx, s.ID)
	if endErr := m.EndSave(ticket, err); endErr != nil {
		c.logger.Debug("editor changed during delete", "error", endErr)
	}
	return err
}

func attributesOf(s *shape.Shape) shape.Patch {
	cat := s.CategoryID
	md := shape.CloneMetadata(s.Metadata)
	if md == nil {
		md = map[string]any{}
	}
	return shape.Patch{
		Name:            &s.Name,
		Description:     &s.Description,
		LocationAddress: &s.LocationAddress,
		CategoryID:      &cat,
		Metadata:        md,
	}
}

// NextAutoID previews the value the next shape in a category would get.
// It allocates nothing.
func (c *Coordinator) NextAutoID(ctx context.Context, categoryID uuid.UUID, fieldID string) (int64, error) {
	cat, err := c.category(ctx, categoryID)
	if err != nil {
		return 0, err
	}
	f, ok := cat.Field(fieldID)
	if !ok || f.Type != schema.FieldTypeAutoID {
		return 0, &schema.FieldError{FieldID: fieldID, Err: schema.ErrInvalidDefinition, Detail: "not an auto_id field"}
	}
	return schema.ResolveAutoID(ctx, c.store, categoryID, fieldID), nil
}

// SaveCategory validates and stores a category. A nil id creates it.
func (c *Coordinator) SaveCategory(ctx context.Context, cat schema.Category) (out *schema.Category, err error) {
	defer func() { c.observe("save_category", err) }()

	if err := schema.ValidateDefinition(&cat); err != nil {
		return nil, err
	}
	if cat.ID == uuid.Nil {
		out, err = c.store.CreateCategory(ctx, cat)
	} else {
		out, err = c.store.UpdateCategory(ctx, cat)
	}
	if err != nil {
		return nil, storeErr("save category", err)
	}
	c.coll.upsertCategory(*out)
	c.logger.Info("category saved", "category_id", out.ID, "fields", len(out.FieldsDefinition))
	c.refreshAfter(ctx, "save_category")
	return out, nil
}

// DeleteCategory removes a category. Its shapes lose their category but keep their metadata.
func (c *Coordinator) DeleteCategory(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { c.observe("delete_category", err) }()

	if err := c.store.DeleteCategory(ctx, id); err != nil {
		return storeErr("delete category", err)
	}
	c.coll.removeCategory(id)
	c.logger.Info("category deleted", "category_id", id)
	c.refreshAfter(ctx, "delete_category")
	return nil
}

// MapConfiguration returns the map configuration through a TTL cache.
// A nil result means none is stored and everything is allowed.
func (c *Coordinator) MapConfiguration(ctx context.Context) (*mapconfig.Config, error) {
	if v, ok := c.cache.Get(mapConfigKey); ok {
		return v.(*mapconfig.Config), nil
	}
	cfg, err := c.store.GetMapConfiguration(ctx)
	if err != nil {
		return nil, storeErr("get map configuration", err)
	}
	c.cache.Set(mapConfigKey, cfg, gocache.DefaultExpiration)
	return cfg, nil
}

// SaveMapConfiguration validates and stores the map configuration.
func (c *Coordinator) SaveMapConfiguration(ctx context.Context, cfg mapconfig.Config) (err error) {
	defer func() { c.observe("save_map_configuration", err) }()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMapConfiguration, err)
	}
	if err := c.store.PutMapConfiguration(ctx, cfg); err != nil {
		return storeErr("put map configuration", err)
	}
	c.cache.Set(mapConfigKey, &cfg, gocache.DefaultExpiration)
	c.logger.Info("map configuration saved", "allowed_shapes", cfg.AllowedShapes)
	return nil
}
