package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ryanbastic/go-fieldmap/internal/identity"
	"github.com/ryanbastic/go-fieldmap/internal/mapconfig"
	"github.com/ryanbastic/go-fieldmap/internal/persist"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

type MapConfigResponse struct {
	Config *mapconfig.Config `json:"config" doc:"Stored configuration; null when none is set"`
	Shapes []shape.Type      `json:"shapes" doc:"Shape types the caller may draw"`
}

type MapConfigOutput struct {
	Body MapConfigResponse
}

type PutMapConfigInput struct {
	Body mapconfig.Config
}

type MapConfigHandler struct {
	coord    *persist.Coordinator
	sessions *Sessions
	logger   *slog.Logger
}

func NewMapConfigHandler(coord *persist.Coordinator, sessions *Sessions, logger *slog.Logger) *MapConfigHandler {
	return &MapConfigHandler{coord: coord, sessions: sessions, logger: logger}
}

func registerMapConfigRoutes(api huma.API, h *MapConfigHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-map-config",
		Method:      http.MethodGet,
		Path:        "/v1/map-configuration",
		Summary:     "Map configuration and the caller's drawable shapes",
		Tags:        []string{"map-config"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "put-map-config",
		Method:      http.MethodPut,
		Path:        "/v1/map-configuration",
		Summary:     "Replace the map configuration (admin)",
		Tags:        []string{"map-config"},
	}, h.Put)
}

func (h *MapConfigHandler) Get(ctx context.Context, _ *struct{}) (*MapConfigOutput, error) {
	cfg, err := h.coord.MapConfiguration(ctx)
	if err != nil {
		return nil, toHTTP(h.logger, "get map config", err)
	}
	u, _ := identity.FromContext(ctx)
	return &MapConfigOutput{Body: MapConfigResponse{Config: cfg, Shapes: cfg.ShapesFor(u.Role)}}, nil
}

func (h *MapConfigHandler) Put(ctx context.Context, input *PutMapConfigInput) (*MapConfigOutput, error) {
	cfg := input.Body
	if err := h.coord.SaveMapConfiguration(ctx, cfg); err != nil {
		return nil, toHTTP(h.logger, "put map config", err)
	}
	h.sessions.Regate(&cfg)
	u, _ := identity.FromContext(ctx)
	return &MapConfigOutput{Body: MapConfigResponse{Config: &cfg, Shapes: cfg.ShapesFor(u.Role)}}, nil
}
