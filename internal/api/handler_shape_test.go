package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanbastic/go-fieldmap/internal/identity"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
	"github.com/ryanbastic/go-fieldmap/internal/storage"
)

func seedPoint(t *testing.T, srv *testServer, name string, creator uuid.UUID, cat uuid.UUID) *shape.Shape {
	t.Helper()
	return srv.store.seedShape(shape.Shape{
		Type:       shape.TypePoint,
		Name:       name,
		CategoryID: cat,
		CreatorID:  creator,
		Metadata:   map[string]any{},
		Points:     shape.Sequence(uuid.Nil, []shape.Point{{Latitude: 1, Longitude: 2}}),
	})
}

func (s *testServer) importFeature(t *testing.T, u identity.User, feature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/shapes/import", bytes.NewBufferString(feature))
	req.Header.Set("Content-Type", "application/geo+json")
	req.Header.Set("X-User-ID", u.ID.String())
	req.Header.Set("X-User-Role", u.Role)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func TestShapes_ListAsFeatureCollection(t *testing.T) {
	srv := newTestServer(t)
	seedPoint(t, srv, "a", fieldUser.ID, uuid.Nil)
	seedPoint(t, srv, "b", fieldUser.ID, uuid.Nil)
	expectStatus(t, srv.do(t, fieldUser, http.MethodPost, "/v1/refresh", nil), http.StatusOK)

	w := srv.do(t, fieldUser, http.MethodGet, "/v1/shapes", nil)
	expectStatus(t, w, http.StatusOK)

	fc := decode[struct {
		Type     string           `json:"type"`
		Features []map[string]any `json:"features"`
	}](t, w)
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Len(t, fc.Features, 2)
}

func TestShapes_Refresh(t *testing.T) {
	srv := newTestServer(t)
	srv.createCategory(t, "Trees")
	seedPoint(t, srv, "a", fieldUser.ID, uuid.Nil)

	w := srv.do(t, fieldUser, http.MethodPost, "/v1/refresh", nil)
	expectStatus(t, w, http.StatusOK)
	resp := decode[RefreshResponse](t, w)
	assert.Equal(t, RefreshResponse{Shapes: 1, Categories: 1}, resp)
}

func TestShapes_Page(t *testing.T) {
	srv := newTestServer(t)
	for i := range 3 {
		seedPoint(t, srv, fmt.Sprint("p", i), fieldUser.ID, uuid.Nil)
	}

	w := srv.do(t, fieldUser, http.MethodGet, "/v1/shapes/page?limit=2", nil)
	expectStatus(t, w, http.StatusOK)
	first := decode[storage.Page](t, w)
	require.Len(t, first.Shapes, 2)
	require.True(t, first.HasMore)

	w = srv.do(t, fieldUser, http.MethodGet, "/v1/shapes/page?limit=2&cursor="+first.NextCursor, nil)
	expectStatus(t, w, http.StatusOK)
	second := decode[storage.Page](t, w)
	require.Len(t, second.Shapes, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "p2", second.Shapes[0].Name)
}

func TestShapes_PageInvalidCursor(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, fieldUser, http.MethodGet, "/v1/shapes/page?cursor=garbage", nil)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestShapes_GetReportsStaleKeys(t *testing.T) {
	srv := newTestServer(t)
	cat := srv.createCategory(t, "Trees", schema.FieldDefinition{ID: "height", Label: "Height", Type: schema.FieldTypeNumber})
	s := srv.store.seedShape(shape.Shape{
		Type:       shape.TypePoint,
		CategoryID: cat.ID,
		CreatorID:  fieldUser.ID,
		Metadata:   map[string]any{"height": 3.0, "girth": 1.2},
		Points:     shape.Sequence(uuid.Nil, []shape.Point{{Latitude: 1, Longitude: 2}}),
	})

	w := srv.do(t, fieldUser, http.MethodGet, "/v1/shapes/"+s.ID.String(), nil)
	expectStatus(t, w, http.StatusOK)
	d := decode[ShapeDetail](t, w)
	assert.Equal(t, s.ID, d.Shape.ID)
	assert.Equal(t, []string{"girth"}, d.StaleKeys)
}

func TestShapes_GetNotFound(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, fieldUser, http.MethodGet, "/v1/shapes/"+uuid.NewString(), nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestShapes_Patch(t *testing.T) {
	srv := newTestServer(t)
	cat := srv.createCategory(t, "Trees", schema.FieldDefinition{ID: "height", Label: "Height", Type: schema.FieldTypeNumber})
	s := seedPoint(t, srv, "a", fieldUser.ID, cat.ID)

	w := srv.do(t, fieldUser, http.MethodPatch, "/v1/shapes/"+s.ID.String(), map[string]any{
		"name":     "renamed",
		"metadata": map[string]any{"height": 12},
	})
	expectStatus(t, w, http.StatusOK)
	d := decode[ShapeDetail](t, w)
	assert.Equal(t, "renamed", d.Shape.Name)
	assert.EqualValues(t, 12, d.Shape.Metadata["height"])

	w = srv.do(t, fieldUser, http.MethodPatch, "/v1/shapes/"+s.ID.String(), map[string]any{
		"metadata": map[string]any{"height": "tall"},
	})
	expectStatus(t, w, http.StatusUnprocessableEntity)
}

func TestShapes_DeleteOnlyCreatorOrAdmin(t *testing.T) {
	srv := newTestServer(t)
	s := seedPoint(t, srv, "a", fieldUser.ID, uuid.Nil)

	w := srv.do(t, otherUser, http.MethodDelete, "/v1/shapes/"+s.ID.String(), nil)
	expectStatus(t, w, http.StatusForbidden)

	w = srv.do(t, adminUser, http.MethodDelete, "/v1/shapes/"+s.ID.String(), nil)
	expectStatus(t, w, http.StatusNoContent)

	w = srv.do(t, adminUser, http.MethodDelete, "/v1/shapes/"+s.ID.String(), nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestShapes_Import(t *testing.T) {
	srv := newTestServer(t)
	cat := srv.createCategory(t, "Trails")

	feature := fmt.Sprintf(`{
		"type": "Feature",
		"geometry": {"type": "LineString", "coordinates": [[-73.6, 45.5], [-73.5, 45.6]]},
		"properties": {"name": "Ridge trail", "category_id": %q}
	}`, cat.ID)

	w := srv.importFeature(t, fieldUser, feature)
	expectStatus(t, w, http.StatusCreated)
	d := decode[ShapeDetail](t, w)
	assert.Equal(t, shape.TypeLine, d.Shape.Type)
	assert.Equal(t, "Ridge trail", d.Shape.Name)
	assert.Equal(t, fieldUser.ID, d.Shape.CreatorID)
	require.Len(t, d.Shape.Points, 2)
	assert.Equal(t, 45.5, d.Shape.Points[0].Point.Latitude)
	assert.Equal(t, 1, d.Shape.Points[0].SequenceOrder)
}

func TestShapes_ImportRejected(t *testing.T) {
	srv := newTestServer(t)
	cat := srv.createCategory(t, "Sites")
	expectStatus(t, srv.do(t, adminUser, http.MethodPut, "/v1/map-configuration", map[string]any{"allowed_shapes": []string{"point"}}), http.StatusOK)

	tests := []struct {
		name    string
		feature string
		want    int
	}{
		{"not json", `{`, http.StatusUnprocessableEntity},
		{"unsupported geometry", `{"type":"Feature","geometry":{"type":"MultiPoint","coordinates":[[1,2],[3,4]]},"properties":{}}`, http.StatusUnprocessableEntity},
		{"shape type not allowed", fmt.Sprintf(`{"type":"Feature","geometry":{"type":"LineString","coordinates":[[1,2],[3,4]]},"properties":{"category_id":%q}}`, cat.ID), http.StatusForbidden},
		{"missing category", `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}`, http.StatusUnprocessableEntity},
		{"out-of-range coordinate", fmt.Sprintf(`{"type":"Feature","geometry":{"type":"Point","coordinates":[500,-400]},"properties":{"category_id":%q}}`, cat.ID), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.importFeature(t, fieldUser, tt.feature)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d\nbody: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestShapes_ImportRequiresUser(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/shapes/import", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/geo+json")
	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, req)

	expectStatus(t, w, http.StatusUnauthorized)
}

func TestShapes_DisabledControlsBlockPatchAndDelete(t *testing.T) {
	srv := newTestServer(t)
	s := seedPoint(t, srv, "a", fieldUser.ID, uuid.Nil)
	expectStatus(t, srv.do(t, adminUser, http.MethodPut, "/v1/map-configuration", map[string]any{
		"allowed_shapes":   []string{"point"},
		"enabled_controls": []string{"add_point"},
	}), http.StatusOK)

	name := "renamed"
	w := srv.do(t, fieldUser, http.MethodPatch, "/v1/shapes/"+s.ID.String(), map[string]any{"name": name})
	expectStatus(t, w, http.StatusForbidden)

	w = srv.do(t, fieldUser, http.MethodDelete, "/v1/shapes/"+s.ID.String(), nil)
	expectStatus(t, w, http.StatusForbidden)

	stored, err := srv.store.GetShape(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", stored.Name)
}
