package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

func TestMapConfig_DefaultAllowsEverything(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, fieldUser, http.MethodGet, "/v1/map-configuration", nil)
	expectStatus(t, w, http.StatusOK)
	resp := decode[MapConfigResponse](t, w)
	assert.Nil(t, resp.Config)
	assert.Equal(t, shape.Types, resp.Shapes)
}

func TestMapConfig_PutRequiresAdmin(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, fieldUser, http.MethodPut, "/v1/map-configuration", map[string]any{"allowed_shapes": []string{"point"}})
	expectStatus(t, w, http.StatusForbidden)
}

func TestMapConfig_RejectsUnknownShape(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, adminUser, http.MethodPut, "/v1/map-configuration", map[string]any{"allowed_shapes": []string{"circle"}})
	expectStatus(t, w, http.StatusUnprocessableEntity)
}

func TestMapConfig_RoleOverride(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, adminUser, http.MethodPut, "/v1/map-configuration", map[string]any{
		"allowed_shapes": []string{"point", "line"},
		"role_overrides": map[string][]string{"surveyor": {"polygon"}},
	})
	expectStatus(t, w, http.StatusOK)
	assert.Equal(t, []shape.Type{shape.TypePoint, shape.TypeLine}, decode[MapConfigResponse](t, w).Shapes)

	w = srv.do(t, fieldUser, http.MethodGet, "/v1/map-configuration", nil)
	expectStatus(t, w, http.StatusOK)
	resp := decode[MapConfigResponse](t, w)
	require.NotNil(t, resp.Config)
	assert.Equal(t, []shape.Type{shape.TypePolygon}, resp.Shapes)
}

func TestMapConfig_RegatesOpenSessions(t *testing.T) {
	srv := newTestServer(t)
	sess := srv.openSession(t, fieldUser)

	w := srv.do(t, adminUser, http.MethodPut, "/v1/map-configuration", map[string]any{
		"allowed_shapes":   []string{"point", "line", "polygon"},
		"enabled_controls": []string{"add_line"},
	})
	expectStatus(t, w, http.StatusOK)

	w = srv.do(t, fieldUser, http.MethodPost, sessionPath(sess.ID, "/drawing"), BeginDrawingBody{Kind: "point"})
	expectStatus(t, w, http.StatusForbidden)
	srv.step(t, fieldUser, http.MethodPost, sessionPath(sess.ID, "/drawing"), BeginDrawingBody{Kind: "line"}, http.StatusOK)
}
