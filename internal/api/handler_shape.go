package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/ryanbastic/go-fieldmap/internal/draft"
	"github.com/ryanbastic/go-fieldmap/internal/geometry"
	"github.com/ryanbastic/go-fieldmap/internal/identity"
	"github.com/ryanbastic/go-fieldmap/internal/mapconfig"
	"github.com/ryanbastic/go-fieldmap/internal/persist"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
	"github.com/ryanbastic/go-fieldmap/internal/storage"
)

// --- Huma Input/Output types ---

type FeatureCollectionOutput struct {
	Body json.RawMessage `doc:"GeoJSON FeatureCollection of every shape"`
}

type ShapePageInput struct {
	Cursor string `query:"cursor" doc:"Opaque cursor from a previous page"`
	Limit  int    `query:"limit" doc:"Page size" minimum:"1" maximum:"1000" default:"100"`
}

type ShapePageOutput struct {
	Body *storage.Page
}

type ShapeInput struct {
	ShapeID string `path:"shape_id" doc:"Shape UUID" format:"uuid"`
}

type ShapeDetail struct {
	Shape     *shape.Shape `json:"shape"`
	StaleKeys []string     `json:"stale_keys,omitempty" doc:"Metadata keys the category no longer defines"`
}

type ShapeOutput struct {
	Body ShapeDetail
}

type PatchShapeInput struct {
	ShapeID string `path:"shape_id" doc:"Shape UUID" format:"uuid"`
	Body    shape.Patch
}

type ImportShapeInput struct {
	RawBody []byte `contentType:"application/geo+json"`
}

type RefreshResponse struct {
	Shapes     int `json:"shapes" doc:"Shapes in the collection"`
	Categories int `json:"categories" doc:"Categories in the collection"`
}

type RefreshOutput struct {
	Body RefreshResponse
}

// --- Handler ---

type ShapeHandler struct {
	coord  *persist.Coordinator
	logger *slog.Logger
}

func NewShapeHandler(coord *persist.Coordinator, logger *slog.Logger) *ShapeHandler {
	return &ShapeHandler{coord: coord, logger: logger}
}

func registerShapeRoutes(api huma.API, h *ShapeHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-shapes",
		Method:      http.MethodGet,
		Path:        "/v1/shapes",
		Summary:     "All shapes as a GeoJSON FeatureCollection",
		Tags:        []string{"shapes"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "page-shapes",
		Method:      http.MethodGet,
		Path:        "/v1/shapes/page",
		Summary:     "Page through shapes in creation order",
		Tags:        []string{"shapes"},
	}, h.Page)

	huma.Register(api, huma.Operation{
		OperationID: "get-shape",
		Method:      http.MethodGet,
		Path:        "/v1/shapes/{shape_id}",
		Summary:     "Get a shape",
		Tags:        []string{"shapes"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "patch-shape",
		Method:      http.MethodPatch,
		Path:        "/v1/shapes/{shape_id}",
		Summary:     "Update a shape's attributes",
		Tags:        []string{"shapes"},
	}, h.Patch)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-shape",
		Method:        http.MethodDelete,
		Path:          "/v1/shapes/{shape_id}",
		Summary:       "Delete a shape",
		Tags:          []string{"shapes"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID:   "import-shape",
		Method:        http.MethodPost,
		Path:          "/v1/shapes/import",
		Summary:       "Create a shape from a GeoJSON Feature",
		Tags:          []string{"shapes"},
		DefaultStatus: http.StatusCreated,
	}, h.Import)

	huma.Register(api, huma.Operation{
		OperationID: "refresh-collection",
		Method:      http.MethodPost,
		Path:        "/v1/refresh",
		Summary:     "Reload shapes and categories from the store",
		Tags:        []string{"shapes"},
	}, h.Refresh)
}

func (h *ShapeHandler) List(ctx context.Context, _ *struct{}) (*FeatureCollectionOutput, error) {
	fc, errs := geometry.Collection(h.coord.Collection().Shapes())
	for _, err := range errs {
		h.logger.Warn("shape skipped in feature collection", "error", err)
	}
	raw, err := json.Marshal(fc)
	if err != nil {
		return nil, toHTTP(h.logger, "list shapes", err)
	}
	return &FeatureCollectionOutput{Body: raw}, nil
}

func (h *ShapeHandler) Page(ctx context.Context, input *ShapePageInput) (*ShapePageOutput, error) {
	page, err := h.coord.Page(ctx, input.Cursor, input.Limit)
	if err != nil {
		return nil, toHTTP(h.logger, "page shapes", err)
	}
	return &ShapePageOutput{Body: page}, nil
}

func (h *ShapeHandler) detail(ctx context.Context, s *shape.Shape) ShapeDetail {
	d := ShapeDetail{Shape: s}
	if s.HasCategory() {
		if cat, err := h.coord.Category(ctx, s.CategoryID); err == nil {
			d.StaleKeys = schema.StaleKeys(cat, s.Metadata)
		}
	}
	return d
}

func (h *ShapeHandler) Get(ctx context.Context, input *ShapeInput) (*ShapeOutput, error) {
	id, err := parseID("shape_id", input.ShapeID)
	if err != nil {
		return nil, err
	}
	s, err := h.coord.Shape(ctx, id)
	if err != nil {
		return nil, toHTTP(h.logger, "get shape", err)
	}
	return &ShapeOutput{Body: h.detail(ctx, s)}, nil
}

func (h *ShapeHandler) Patch(ctx context.Context, input *PatchShapeInput) (*ShapeOutput, error) {
	id, err := parseID("shape_id", input.ShapeID)
	if err != nil {
		return nil, err
	}
	if err := h.controlEnabled(ctx, "patch shape", mapconfig.ControlEdit); err != nil {
		return nil, err
	}
	s, err := h.coord.Update(ctx, id, input.Body)
	if err != nil {
		return nil, toHTTP(h.logger, "patch shape", err)
	}
	return &ShapeOutput{Body: h.detail(ctx, s)}, nil
}

func (h *ShapeHandler) Delete(ctx context.Context, input *ShapeInput) (*struct{}, error) {
	id, err := parseID("shape_id", input.ShapeID)
	if err != nil {
		return nil, err
	}
	if err := h.controlEnabled(ctx, "delete shape", mapconfig.ControlDelete); err != nil {
		return nil, err
	}
	if err := h.coord.Delete(ctx, id); err != nil {
		return nil, toHTTP(h.logger, "delete shape", err)
	}
	return nil, nil
}

func (h *ShapeHandler) Import(ctx context.Context, input *ImportShapeInput) (*ShapeOutput, error) {
	u, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	f, err := geojson.UnmarshalFeature(input.RawBody)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid GeoJSON feature: " + err.Error())
	}
	req, err := geometry.FromFeature(f)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := h.allowed(ctx, u, req.Type); err != nil {
		return nil, err
	}
	s, err := h.coord.Create(ctx, &shape.Shape{
		Type:            req.Type,
		Name:            req.Name,
		Description:     req.Description,
		LocationAddress: req.LocationAddress,
		CategoryID:      req.CategoryID,
		Metadata:        req.Metadata,
		CreatorID:       u.ID,
		Points:          shape.Sequence(uuid.Nil, req.Points),
	})
	if err != nil {
		return nil, toHTTP(h.logger, "import shape", err)
	}
	return &ShapeOutput{Body: h.detail(ctx, s)}, nil
}

// allowed applies the map configuration to imports the same way it gates drawing.
func (h *ShapeHandler) allowed(ctx context.Context, u identity.User, t shape.Type) error {
	cfg, err := h.coord.MapConfiguration(ctx)
	if err != nil {
		return toHTTP(h.logger, "import shape", err)
	}
	if !cfg.Allows(u.Role, t) {
		return toHTTP(h.logger, "import shape", draft.ErrShapeNotAllowed)
	}
	return nil
}

// controlEnabled applies the map configuration's edit and delete controls
// to the direct shape routes, as sessions do.
func (h *ShapeHandler) controlEnabled(ctx context.Context, op string, ctl mapconfig.Control) error {
	cfg, err := h.coord.MapConfiguration(ctx)
	if err != nil {
		return toHTTP(h.logger, op, err)
	}
	if !cfg.Enabled(ctl) {
		return toHTTP(h.logger, op, fmt.Errorf("%w: %s", draft.ErrControlDisabled, ctl))
	}
	return nil
}

func (h *ShapeHandler) Refresh(ctx context.Context, _ *struct{}) (*RefreshOutput, error) {
	if err := h.coord.Refresh(ctx); err != nil {
		return nil, toHTTP(h.logger, "refresh", err)
	}
	coll := h.coord.Collection()
	return &RefreshOutput{Body: RefreshResponse{
		Shapes:     len(coll.Shapes()),
		Categories: len(coll.Categories()),
	}}, nil
}
