package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/identity"
	"github.com/ryanbastic/go-fieldmap/internal/notify"
	"github.com/ryanbastic/go-fieldmap/internal/storage"
)

// --- Huma Input/Output types ---

type RegisterPluginBody struct {
	Name             string   `json:"name" doc:"Plugin name" required:"true" minLength:"1"`
	Endpoint         string   `json:"endpoint" doc:"JSON-RPC endpoint URL" required:"true" minLength:"1"`
	SubscribedEvents []string `json:"subscribed_events" doc:"Shape events to receive" required:"true" minItems:"1"`
	Status           string   `json:"status,omitempty" enum:"active,inactive" doc:"Initial status; defaults to active"`
}

type RegisterPluginInput struct {
	Body RegisterPluginBody
}

type PluginResponse struct {
	ID               uuid.UUID `json:"id" doc:"Plugin UUID"`
	Name             string    `json:"name" doc:"Plugin name"`
	Endpoint         string    `json:"endpoint" doc:"JSON-RPC endpoint URL"`
	SubscribedEvents []string  `json:"subscribed_events" doc:"Subscribed events"`
	Status           string    `json:"status" doc:"Plugin status" example:"active"`
	CreatedAt        time.Time `json:"created_at" doc:"Creation timestamp"`
}

type PluginOutput struct {
	Body PluginResponse
}

type ListPluginsOutput struct {
	Body []PluginResponse
}

type ListPluginsInput struct {
	Event  string `query:"event" doc:"Only plugins subscribed to this event" enum:"shape.created,shape.updated,shape.deleted"`
	Status string `query:"status" doc:"Only plugins with this status" enum:"active,inactive"`
}

type PluginInput struct {
	PluginID string `path:"plugin_id" doc:"Plugin UUID" format:"uuid"`
}

// --- Handler ---

type PluginHandler struct {
	registry *notify.PluginRegistry
	logger   *slog.Logger
}

func NewPluginHandler(registry *notify.PluginRegistry, logger *slog.Logger) *PluginHandler {
	return &PluginHandler{registry: registry, logger: logger}
}

func registerPluginRoutes(api huma.API, h *PluginHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-plugin",
		Method:        http.MethodPost,
		Path:          "/v1/plugins",
		Summary:       "Register a shape event plugin (admin)",
		Tags:          []string{"plugins"},
		DefaultStatus: http.StatusCreated,
	}, h.RegisterPlugin)

	huma.Register(api, huma.Operation{
		OperationID: "list-plugins",
		Method:      http.MethodGet,
		Path:        "/v1/plugins",
		Summary:     "List plugins, optionally by event and status",
		Tags:        []string{"plugins"},
	}, h.ListPlugins)

	huma.Register(api, huma.Operation{
		OperationID: "get-plugin",
		Method:      http.MethodGet,
		Path:        "/v1/plugins/{plugin_id}",
		Summary:     "Get a plugin by ID",
		Tags:        []string{"plugins"},
	}, h.GetPlugin)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-plugin",
		Method:        http.MethodDelete,
		Path:          "/v1/plugins/{plugin_id}",
		Summary:       "Delete a plugin (admin)",
		Tags:          []string{"plugins"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeletePlugin)
}

func requireAdmin(ctx context.Context) error {
	u, ok := identity.FromContext(ctx)
	if !ok || !u.IsAdmin() {
		return huma.Error403Forbidden(fmt.Errorf("%w: admin role required", storage.ErrForbidden).Error())
	}
	return nil
}

func (h *PluginHandler) RegisterPlugin(ctx context.Context, input *RegisterPluginInput) (*PluginOutput, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	p := &notify.Plugin{
		Name:             input.Body.Name,
		Endpoint:         input.Body.Endpoint,
		SubscribedEvents: input.Body.SubscribedEvents,
		Status:           notify.PluginStatus(input.Body.Status),
	}
	if err := h.registry.Register(ctx, p); err != nil {
		return nil, toHTTP(h.logger, "register plugin", err)
	}

	h.logger.Info("plugin registered", "id", p.ID, "name", p.Name, "endpoint", p.Endpoint)

	return &PluginOutput{Body: pluginToResponse(p)}, nil
}

func (h *PluginHandler) ListPlugins(ctx context.Context, input *ListPluginsInput) (*ListPluginsOutput, error) {
	plugins := h.registry.List(notify.PluginFilter{
		Event:  input.Event,
		Status: notify.PluginStatus(input.Status),
	})
	resp := make([]PluginResponse, len(plugins))
	for i, p := range plugins {
		resp[i] = pluginToResponse(p)
	}
	return &ListPluginsOutput{Body: resp}, nil
}

func (h *PluginHandler) GetPlugin(ctx context.Context, input *PluginInput) (*PluginOutput, error) {
	id, err := parseID("plugin_id", input.PluginID)
	if err != nil {
		return nil, err
	}
	p, err := h.registry.Get(id)
	if err != nil {
		return nil, toHTTP(h.logger, "get plugin", err)
	}
	return &PluginOutput{Body: pluginToResponse(p)}, nil
}

func (h *PluginHandler) DeletePlugin(ctx context.Context, input *PluginInput) (*struct{}, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	id, err := parseID("plugin_id", input.PluginID)
	if err != nil {
		return nil, err
	}
	if err := h.registry.Delete(ctx, id); err != nil {
		return nil, toHTTP(h.logger, "delete plugin", err)
	}

	h.logger.Info("plugin deleted", "id", id)
	return nil, nil
}

func pluginToResponse(p *notify.Plugin) PluginResponse {
	return PluginResponse{
		ID:               p.ID,
		Name:             p.Name,
		Endpoint:         p.Endpoint,
		SubscribedEvents: p.SubscribedEvents,
		Status:           string(p.Status),
		CreatedAt:        p.CreatedAt,
	}
}
