package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/circuitbreaker"
	"github.com/ryanbastic/go-fieldmap/internal/mapconfig"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

// IsStoreFailure reports whether err indicates an unhealthy store rather
// than a rejected request.
func IsStoreFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidCursor),
		errors.Is(err, schema.ErrUnknownCategory),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Guarded runs every call of a Store through a circuit breaker.
type Guarded struct {
	next    Store
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps next with breaker.
func NewGuarded(next Store, breaker *circuitbreaker.Breaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

func guard[T any](g *Guarded, fn func() (T, error)) (T, error) {
	var out T
	err := g.breaker.Execute(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (g *Guarded) CreateShape(ctx context.Context, req shape.CreateRequest) (*shape.Shape, error) {
	return guard(g, func() (*shape.Shape, error) { return g.next.CreateShape(ctx, req) })
}

func (g *Guarded) GetShape(ctx context.Context, id uuid.UUID) (*shape.Shape, error) {
	return guard(g, func() (*shape.Shape, error) { return g.next.GetShape(ctx, id) })
}

func (g *Guarded) PatchShape(ctx context.Context, id uuid.UUID, p shape.Patch) (*shape.Shape, error) {
	return guard(g, func() (*shape.Shape, error) { return g.next.PatchShape(ctx, id, p) })
}

func (g *Guarded) DeleteShape(ctx context.Context, id uuid.UUID) error {
	return g.breaker.Execute(func() error { return g.next.DeleteShape(ctx, id) })
}

func (g *Guarded) ListShapes(ctx context.Context) ([]*shape.Shape, error) {
	return guard(g, func() ([]*shape.Shape, error) { return g.next.ListShapes(ctx) })
}

func (g *Guarded) ListShapesPage(ctx context.Context, cursor string, limit int) (*Page, error) {
	return guard(g, func() (*Page, error) { return g.next.ListShapesPage(ctx, cursor, limit) })
}

func (g *Guarded) ShapesInCategory(ctx context.Context, categoryID uuid.UUID) ([]*shape.Shape, error) {
	return guard(g, func() ([]*shape.Shape, error) { return g.next.ShapesInCategory(ctx, categoryID) })
}

func (g *Guarded) ListCategories(ctx context.Context) ([]schema.Category, error) {
	return guard(g, func() ([]schema.Category, error) { return g.next.ListCategories(ctx) })
}

func (g *Guarded) GetCategory(ctx context.Context, id uuid.UUID) (*schema.Category, error) {
	return guard(g, func() (*schema.Category, error) { return g.next.GetCategory(ctx, id) })
}

func (g *Guarded) CreateCategory(ctx context.Context, c schema.Category) (*schema.Category, error) {
	return guard(g, func() (*schema.Category, error) { return g.next.CreateCategory(ctx, c) })
}

func (g *Guarded) UpdateCategory(ctx context.Context, c schema.Category) (*schema.Category, error) {
	return guard(g, func() (*schema.Category, error) { return g.next.UpdateCategory(ctx, c) })
}

func (g *Guarded) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return g.breaker.Execute(func() error { return g.next.DeleteCategory(ctx, id) })
}

func (g *Guarded) GetMapConfiguration(ctx context.Context) (*mapconfig.Config, error) {
	return guard(g, func() (*mapconfig.Config, error) { return g.next.GetMapConfiguration(ctx) })
}

func (g *Guarded) PutMapConfiguration(ctx context.Context, cfg mapconfig.Config) error {
	return g.breaker.Execute(func() error { return g.next.PutMapConfiguration(ctx, cfg) })
}

// Ping bypasses the breaker so readiness reflects the database itself.
func (g *Guarded) Ping(ctx context.Context) error {
	return g.next.Ping(ctx)
}

// BreakerState reports the breaker state for health checks.
func (g *Guarded) BreakerState() circuitbreaker.State {
	return g.breaker.GetState()
}
