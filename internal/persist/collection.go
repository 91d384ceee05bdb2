package persist

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

// Collection is the shared, read-mostly copy of every shape and category.
// Only the Coordinator writes to it.
type Collection struct {
	mu          sync.RWMutex
	shapes      []*shape.Shape
	categories  []schema.Category
	refreshedAt time.Time
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{}
}

// Shapes returns copies of all shapes.
func (c *Collection) Shapes() []*shape.Shape {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*shape.Shape, len(c.shapes))
	for i, s := range c.shapes {
		out[i] = s.Clone()
	}
	return out
}

// Shape returns a copy of one shape.
func (c *Collection) Shape(id uuid.UUID) (*shape.Shape, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.shapes {
		if s.ID == id {
			return s.Clone(), true
		}
	}
	return nil, false
}

// Categories returns copies of all categories in store order.
func (c *Collection) Categories() []schema.Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]schema.Category, len(c.categories))
	for i, cat := range c.categories {
		out[i] = cat.Clone()
	}
	return out
}

// Category returns a copy of one category.
func (c *Collection) Category(id uuid.UUID) (*schema.Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cat := range c.categories {
		if cat.ID == id {
			cp := cat.Clone()
			return &cp, true
		}
	}
	return nil, false
}

// RefreshedAt returns when the collection was last replaced.
func (c *Collection) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

func (c *Collection) replace(shapes []*shape.Shape, categories []schema.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shapes = shapes
	c.categories = categories
	c.refreshedAt = time.Now()
}

func (c *Collection) upsertShape(s *shape.Shape) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.shapes {
		if existing.ID == s.ID {
			c.shapes[i] = s.Clone()
			return
		}
	}
	c.shapes = append(c.shapes, s.Clone())
}

func (c *Collection) removeShape(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.shapes {
		if s.ID == id {
			c.shapes = append(c.shapes[:i:i], c.shapes[i+1:]...)
			return
		}
	}
}

func (c *Collection) upsertCategory(cat schema.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.categories {
		if existing.ID == cat.ID {
			c.categories[i] = cat.Clone()
			return
		}
	}
	c.categories = append(c.categories, cat.Clone())
}

func (c *Collection) removeCategory(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cat := range c.categories {
		if cat.ID == id {
			c.categories = append(c.categories[:i:i], c.categories[i+1:]...)
			return
		}
	}
}
