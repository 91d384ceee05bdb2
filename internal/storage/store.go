package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/mapconfig"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

var (
	// ErrNotFound is returned when a lookup finds no matching row.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller may not perform a write.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCursor is returned for a page cursor that cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// ShapeStore persists shapes and their ordered points.
type ShapeStore interface {
	// CreateShape inserts a shape and its points in one transaction.
	CreateShape(ctx context.Context, req shape.CreateRequest) (*shape.Shape, error)

	GetShape(ctx context.Context, id uuid.UUID) (*shape.Shape, error)

	// PatchShape updates attributes only; type and points are immutable.
	PatchShape(ctx context.Context, id uuid.UUID, p shape.Patch) (*shape.Shape, error)

	// DeleteShape removes a shape together with its points. Only the
	// creator or an admin may delete.
	DeleteShape(ctx context.Context, id uuid.UUID) error

	ListShapes(ctx context.Context) ([]*shape.Shape, error)

	// ListShapesPage returns shapes ordered by (created_at, id).
	ListShapesPage(ctx context.Context, cursor string, limit int) (*Page, error)

	// ShapesInCategory returns every persisted shape of a category.
	ShapesInCategory(ctx context.Context, categoryID uuid.UUID) ([]*shape.Shape, error)
}

// CategoryStore persists categories. Writes require the admin role.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]schema.Category, error)
	GetCategory(ctx context.Context, id uuid.UUID) (*schema.Category, error)
	CreateCategory(ctx context.Context, c schema.Category) (*schema.Category, error)
	UpdateCategory(ctx context.Context, c schema.Category) (*schema.Category, error)
	DeleteCategory(ctx context.Context, id uuid.UUID) error
}

// MapConfigStore holds the single map configuration record.
type MapConfigStore interface {
	// GetMapConfiguration returns nil when none has been stored.
	GetMapConfiguration(ctx context.Context) (*mapconfig.Config, error)
	PutMapConfiguration(ctx context.Context, cfg mapconfig.Config) error
}

// Store is the full external store contract.
type Store interface {
	ShapeStore
	CategoryStore
	MapConfigStore
	Ping(ctx context.Context) error
}

// Page is one page of a cursor listing.
type Page struct {
	Shapes     []*shape.Shape `json:"shapes"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}
