package api

import (
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/notify"
	"github.com/ryanbastic/go-fieldmap/internal/persist"
)

func validPlugin() RegisterPluginBody {
	return RegisterPluginBody{
		Name:             "test-plugin",
		Endpoint:         "http://localhost:9000/rpc",
		SubscribedEvents: []string{persist.EventShapeCreated, persist.EventShapeDeleted},
	}
}

func TestRegisterPlugin_Success(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, adminUser, http.MethodPost, "/v1/plugins", validPlugin())
	expectStatus(t, w, http.StatusCreated)

	resp := decode[PluginResponse](t, w)
	if resp.Name != "test-plugin" {
		t.Errorf("Name: got %q", resp.Name)
	}
	if resp.Status != "active" {
		t.Errorf("Status: got %q", resp.Status)
	}
	if resp.ID == uuid.Nil {
		t.Error("expected non-nil ID")
	}
	if got := len(srv.plugins.ForEvent(persist.EventShapeCreated)); got != 1 {
		t.Errorf("subscribers for created: got %d, want 1", got)
	}
}

func TestRegisterPlugin_RequiresAdmin(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, fieldUser, http.MethodPost, "/v1/plugins", validPlugin())
	expectStatus(t, w, http.StatusForbidden)
	if got := len(srv.plugins.List(notify.PluginFilter{})); got != 0 {
		t.Errorf("plugins: got %d, want 0", got)
	}
}

func TestRegisterPlugin_Invalid(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		mutate func(*RegisterPluginBody)
	}{
		{"missing name", func(b *RegisterPluginBody) { b.Name = "" }},
		{"no events", func(b *RegisterPluginBody) { b.SubscribedEvents = nil }},
		{"unknown event", func(b *RegisterPluginBody) { b.SubscribedEvents = []string{"shape.exploded"} }},
		{"bad endpoint", func(b *RegisterPluginBody) { b.Endpoint = "ftp://example.com" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validPlugin()
			tt.mutate(&body)
			w := srv.do(t, adminUser, http.MethodPost, "/v1/plugins", body)
			if w.Code < 400 || w.Code >= 500 {
				t.Errorf("status: got %d, want 4xx\nbody: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestListPlugins(t *testing.T) {
	srv := newTestServer(t)
	for range 2 {
		expectStatus(t, srv.do(t, adminUser, http.MethodPost, "/v1/plugins", validPlugin()), http.StatusCreated)
	}

	w := srv.do(t, fieldUser, http.MethodGet, "/v1/plugins", nil)
	expectStatus(t, w, http.StatusOK)
	if got := len(decode[[]PluginResponse](t, w)); got != 2 {
		t.Errorf("plugins: got %d, want 2", got)
	}
}

func TestListPlugins_Filtered(t *testing.T) {
	srv := newTestServer(t)
	created := validPlugin()
	created.SubscribedEvents = []string{persist.EventShapeCreated}
	expectStatus(t, srv.do(t, adminUser, http.MethodPost, "/v1/plugins", created), http.StatusCreated)
	off := validPlugin()
	off.Name = "off"
	off.SubscribedEvents = []string{persist.EventShapeDeleted}
	off.Status = "inactive"
	expectStatus(t, srv.do(t, adminUser, http.MethodPost, "/v1/plugins", off), http.StatusCreated)

	tests := []struct {
		query string
		want  []string
	}{
		{"?event=shape.created", []string{"test-plugin"}},
		{"?event=shape.deleted", []string{"off"}},
		{"?event=shape.updated", []string{}},
		{"?status=inactive", []string{"off"}},
		{"?event=shape.deleted&status=active", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := srv.do(t, fieldUser, http.MethodGet, "/v1/plugins"+tt.query, nil)
			expectStatus(t, w, http.StatusOK)
			names := []string{}
			for _, p := range decode[[]PluginResponse](t, w) {
				names = append(names, p.Name)
			}
			if len(names) != len(tt.want) || (len(names) > 0 && names[0] != tt.want[0]) {
				t.Errorf("plugins: got %v, want %v", names, tt.want)
			}
		})
	}

	expectStatus(t, srv.do(t, fieldUser, http.MethodGet, "/v1/plugins?event=shape.exploded", nil), http.StatusUnprocessableEntity)
}

func TestGetPlugin(t *testing.T) {
	srv := newTestServer(t)
	w := srv.do(t, adminUser, http.MethodPost, "/v1/plugins", validPlugin())
	expectStatus(t, w, http.StatusCreated)
	created := decode[PluginResponse](t, w)

	w = srv.do(t, fieldUser, http.MethodGet, "/v1/plugins/"+created.ID.String(), nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[PluginResponse](t, w); got.ID != created.ID {
		t.Errorf("ID: got %s, want %s", got.ID, created.ID)
	}

	w = srv.do(t, fieldUser, http.MethodGet, "/v1/plugins/"+uuid.NewString(), nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestDeletePlugin(t *testing.T) {
	srv := newTestServer(t)
	w := srv.do(t, adminUser, http.MethodPost, "/v1/plugins", validPlugin())
	expectStatus(t, w, http.StatusCreated)
	created := decode[PluginResponse](t, w)
	path := "/v1/plugins/" + created.ID.String()

	expectStatus(t, srv.do(t, fieldUser, http.MethodDelete, path, nil), http.StatusForbidden)
	expectStatus(t, srv.do(t, adminUser, http.MethodDelete, path, nil), http.StatusNoContent)
	expectStatus(t, srv.do(t, adminUser, http.MethodDelete, path, nil), http.StatusNotFound)
}
