package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/ryanbastic/go-fieldmap/internal/draft"
	"github.com/ryanbastic/go-fieldmap/internal/identity"
	"github.com/ryanbastic/go-fieldmap/internal/persist"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

// --- Huma Input/Output types ---

type SessionResponse struct {
	ID          uuid.UUID          `json:"id" doc:"Session UUID"`
	State       draft.State        `json:"state" doc:"Editing state"`
	Affordances []draft.Affordance `json:"affordances" doc:"Drawing controls and their availability"`
}

type SessionOutput struct {
	Body SessionResponse
}

type SessionInput struct {
	SessionID string `path:"session_id" doc:"Session UUID" format:"uuid"`
}

type BeginDrawingBody struct {
	Kind string `json:"kind" doc:"Shape type to draw" enum:"point,line,polygon"`
}

type BeginDrawingInput struct {
	SessionID string `path:"session_id" doc:"Session UUID" format:"uuid"`
	Body      BeginDrawingBody
}

type RecordPointInput struct {
	SessionID string `path:"session_id" doc:"Session UUID" format:"uuid"`
	Body      shape.Point
}

type SelectBody struct {
	ShapeID string `json:"shape_id" doc:"Persisted shape to edit" format:"uuid"`
}

type SelectInput struct {
	SessionID string `path:"session_id" doc:"Session UUID" format:"uuid"`
	Body      SelectBody
}

type SetAttributesInput struct {
	SessionID string `path:"session_id" doc:"Session UUID" format:"uuid"`
	Body      shape.Patch
}

type SaveResponse struct {
	Shape   *shape.Shape    `json:"shape" doc:"The stored shape"`
	Session SessionResponse `json:"session" doc:"Session after the save"`
}

type SaveOutput struct {
	Body SaveResponse
}

type PreviewOutput struct {
	Body json.RawMessage `doc:"GeoJSON geometry of the shape being drawn or edited, or null"`
}

type AffordancesOutput struct {
	Body []draft.Affordance
}

// --- Handler ---

type SessionHandler struct {
	sessions *Sessions
	coord    *persist.Coordinator
	logger   *slog.Logger
}

func NewSessionHandler(sessions *Sessions, coord *persist.Coordinator, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, coord: coord, logger: logger}
}

func registerSessionRoutes(api huma.API, h *SessionHandler) {
	op := func(id, method, path, summary string) huma.Operation {
		return huma.Operation{OperationID: id, Method: method, Path: "/v1/sessions" + path, Summary: summary, Tags: []string{"sessions"}}
	}

	created := op("open-session", http.MethodPost, "", "Open an editing session")
	created.DefaultStatus = http.StatusCreated
	huma.Register(api, created, h.Open)
	huma.Register(api, op("get-session", http.MethodGet, "/{session_id}", "Get session state"), h.Get)
	closed := op("close-session", http.MethodDelete, "/{session_id}", "Close a session and discard its draft")
	closed.DefaultStatus = http.StatusNoContent
	huma.Register(api, closed, h.Close)

	huma.Register(api, op("begin-drawing", http.MethodPost, "/{session_id}/drawing", "Start drawing a shape"), h.BeginDrawing)
	huma.Register(api, op("record-point", http.MethodPost, "/{session_id}/points", "Add a point to the shape being drawn"), h.RecordPoint)
	huma.Register(api, op("confirm-drawing", http.MethodPost, "/{session_id}/confirm", "Finish drawing and open the attribute editor"), h.Confirm)
	huma.Register(api, op("resume-drawing", http.MethodPost, "/{session_id}/resume", "Return from the editor to drawing"), h.Resume)
	huma.Register(api, op("cancel-editing", http.MethodPost, "/{session_id}/cancel", "Discard the draft or edit"), h.Cancel)
	huma.Register(api, op("select-shape", http.MethodPost, "/{session_id}/select", "Open a persisted shape for editing"), h.Select)
	huma.Register(api, op("set-attributes", http.MethodPatch, "/{session_id}/selected", "Change attributes of the selected shape"), h.SetAttributes)
	huma.Register(api, op("save-selected", http.MethodPost, "/{session_id}/save", "Create or update the selected shape"), h.Save)
	deleted := op("delete-selected", http.MethodDelete, "/{session_id}/selected", "Delete the selected persisted shape")
	deleted.DefaultStatus = http.StatusNoContent
	huma.Register(api, deleted, h.DeleteSelected)
	huma.Register(api, op("session-preview", http.MethodGet, "/{session_id}/preview", "Geometry preview"), h.Preview)
	huma.Register(api, op("session-affordances", http.MethodGet, "/{session_id}/affordances", "Drawing controls"), h.Affordances)
}

// caller returns the identified user; sessions need one.
func caller(ctx context.Context) (identity.User, error) {
	u, ok := identity.FromContext(ctx)
	if !ok {
		return identity.User{}, huma.Error401Unauthorized("X-User-ID header required")
	}
	return u, nil
}

func parseID(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, huma.Error400BadRequest("invalid " + name)
	}
	return id, nil
}

func (h *SessionHandler) session(ctx context.Context, raw string) (*Session, error) {
	u, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("session_id", raw)
	if err != nil {
		return nil, err
	}
	sess, err := h.sessions.Get(id, u)
	if err != nil {
		return nil, toHTTP(h.logger, "get session", err)
	}
	return sess, nil
}

func sessionResponse(s *Session) SessionResponse {
	return SessionResponse{ID: s.ID, State: s.Manager.State(), Affordances: s.Manager.Affordances()}
}

// apply runs fn against the session's manager and returns the new state.
func (h *SessionHandler) apply(ctx context.Context, raw, op string, fn func(*draft.Manager) error) (*SessionOutput, error) {
	sess, err := h.session(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := fn(sess.Manager); err != nil {
		return nil, toHTTP(h.logger, op, err)
	}
	return &SessionOutput{Body: sessionResponse(sess)}, nil
}

func (h *SessionHandler) Open(ctx context.Context, _ *struct{}) (*SessionOutput, error) {
	u, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := h.sessions.Open(ctx, u)
	if err != nil {
		return nil, toHTTP(h.logger, "open session", err)
	}
	return &SessionOutput{Body: sessionResponse(sess)}, nil
}

func (h *SessionHandler) Get(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	return h.apply(ctx, input.SessionID, "get session", func(*draft.Manager) error { return nil })
}

func (h *SessionHandler) Close(ctx context.Context, input *SessionInput) (*struct{}, error) {
	u, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("session_id", input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := h.sessions.Close(id, u); err != nil {
		return nil, toHTTP(h.logger, "close session", err)
	}
	return nil, nil
}

func (h *SessionHandler) BeginDrawing(ctx context.Context, input *BeginDrawingInput) (*SessionOutput, error) {
	kind, err := shape.ParseType(input.Body.Kind)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return h.apply(ctx, input.SessionID, "begin drawing", func(m *draft.Manager) error {
		return m.BeginDrawing(kind)
	})
}

func (h *SessionHandler) RecordPoint(ctx context.Context, input *RecordPointInput) (*SessionOutput, error) {
	return h.apply(ctx, input.SessionID, "record point", func(m *draft.Manager) error {
		return m.RecordPoint(input.Body)
	})
}

func (h *SessionHandler) Confirm(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	return h.apply(ctx, input.SessionID, "confirm drawing", func(m *draft.Manager) error {
		_, err := m.Confirm()
		return err
	})
}

func (h *SessionHandler) Resume(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	return h.apply(ctx, input.SessionID, "resume drawing", (*draft.Manager).ResumeDrawing)
}

func (h *SessionHandler) Cancel(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	return h.apply(ctx, input.SessionID, "cancel", func(m *draft.Manager) error {
		m.Cancel()
		return nil
	})
}

func (h *SessionHandler) Select(ctx context.Context, input *SelectInput) (*SessionOutput, error) {
	shapeID, err := parseID("shape_id", input.Body.ShapeID)
	if err != nil {
		return nil, err
	}
	sess, err := h.session(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	s, err := h.coord.Shape(ctx, shapeID)
	if err != nil {
		return nil, toHTTP(h.logger, "select shape", err)
	}
	if err := sess.Manager.SelectForEdit(s); err != nil {
		return nil, toHTTP(h.logger, "select shape", err)
	}
	return &SessionOutput{Body: sessionResponse(sess)}, nil
}

func (h *SessionHandler) SetAttributes(ctx context.Context, input *SetAttributesInput) (*SessionOutput, error) {
	return h.apply(ctx, input.SessionID, "set attributes", func(m *draft.Manager) error {
		return m.SetAttributes(input.Body)
	})
}

func (h *SessionHandler) Save(ctx context.Context, input *SessionInput) (*SaveOutput, error) {
	sess, err := h.session(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	saved, err := h.coord.Save(ctx, sess.Manager)
	if err != nil {
		return nil, toHTTP(h.logger, "save shape", err)
	}
	return &SaveOutput{Body: SaveResponse{Shape: saved, Session: sessionResponse(sess)}}, nil
}

func (h *SessionHandler) DeleteSelected(ctx context.Context, input *SessionInput) (*struct{}, error) {
	sess, err := h.session(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := h.coord.DeleteSelected(ctx, sess.Manager); err != nil {
		return nil, toHTTP(h.logger, "delete shape", err)
	}
	return nil, nil
}

func (h *SessionHandler) Preview(ctx context.Context, input *SessionInput) (*PreviewOutput, error) {
	sess, err := h.session(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	g := sess.Manager.Preview()
	if g == nil {
		return &PreviewOutput{Body: json.RawMessage("null")}, nil
	}
	raw, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return nil, toHTTP(h.logger, "preview", err)
	}
	return &PreviewOutput{Body: raw}, nil
}

func (h *SessionHandler) Affordances(ctx context.Context, input *SessionInput) (*AffordancesOutput, error) {
	sess, err := h.session(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	return &AffordancesOutput{Body: sess.Manager.Affordances()}, nil
}
