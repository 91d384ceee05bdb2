package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/identity"
	"github.com/ryanbastic/go-fieldmap/internal/notify"
	"github.com/ryanbastic/go-fieldmap/internal/persist"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
)

type testServer struct {
	handler  http.Handler
	store    *fakeStore
	coord    *persist.Coordinator
	plugins  *notify.PluginRegistry
	sessions *Sessions
}

var (
	adminUser = identity.User{ID: uuid.New(), Role: identity.RoleAdmin}
	fieldUser = identity.User{ID: uuid.New(), Role: "surveyor"}
	otherUser = identity.User{ID: uuid.New(), Role: "surveyor"}
	noUser    = identity.User{}
)

func newTestServer(t *testing.T, opts ...func(*Deps)) *testServer {
	t.Helper()
	store := newFakeStore()
	coord := persist.NewCoordinator(store, persist.NewCollection(), testLogger())
	plugins := notify.NewPluginRegistry(nil)
	d := Deps{
		Logger:      testLogger(),
		Coordinator: coord,
		Plugins:     plugins,
		Backends:    map[string]Pinger{"store": store},
	}
	for _, o := range opts {
		o(&d)
	}
	h, sessions := NewServer(d)
	return &testServer{handler: h, store: store, coord: coord, plugins: plugins, sessions: sessions}
}

// do sends a JSON request as u. A zero user sends no identity headers.
func (s *testServer) do(t *testing.T, u identity.User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if u.ID != uuid.Nil {
		req.Header.Set("X-User-ID", u.ID.String())
		req.Header.Set("X-User-Role", u.Role)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status: got %d, want %d\nbody: %s", w.Code, want, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v\nbody: %s", err, w.Body.String())
	}
	return v
}

// createCategory stores a category through the API as the admin.
func (s *testServer) createCategory(t *testing.T, name string, fields ...schema.FieldDefinition) schema.Category {
	t.Helper()
	if fields == nil {
		fields = []schema.FieldDefinition{}
	}
	w := s.do(t, adminUser, http.MethodPost, "/v1/categories", CategoryBody{Name: name, FieldsDefinition: fields})
	expectStatus(t, w, http.StatusCreated)
	return decode[schema.Category](t, w)
}

func TestServer_OpenAPIDocument(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, noUser, http.MethodGet, "/openapi.json", nil)
	expectStatus(t, w, http.StatusOK)

	doc := decode[map[string]any](t, w)
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/v1/sessions", "/v1/shapes", "/v1/categories", "/v1/map-configuration", "/v1/plugins"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("openapi: missing path %s", p)
		}
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, noUser, http.MethodGet, "/v1/livez", nil)

	w := srv.do(t, noUser, http.MethodGet, "/metrics", nil)
	expectStatus(t, w, http.StatusOK)
	if !bytes.Contains(w.Body.Bytes(), []byte("fieldmap_http_requests_total")) {
		t.Error("expected fieldmap_http_requests_total in /metrics output")
	}
}

func TestServer_RequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	w := srv.do(t, noUser, http.MethodGet, "/v1/categories", nil)
	expectStatus(t, w, http.StatusOK)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}
