package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperengineering/jukutatsu/internal/store"
	"github.com/hyperengineering/jukutatsu/internal/types"
)

// mockStore implements store.Store for error-path tests.
type mockStore struct {
	stats    *types.StoreStats
	statsErr error
	err      error
	listed   []store.Entity
	upserted []store.Entity
	devices  []types.DeviceRegistration
}

func (m *mockStore) List(ctx context.Context, kind, ownerID string) ([]store.Entity, error) {
	return m.listed, m.err
}

func (m *mockStore) Upsert(ctx context.Context, e store.Entity) error {
	if m.err != nil {
		return m.err
	}
	m.upserted = append(m.upserted, e)
	return nil
}

func (m *mockStore) Patch(ctx context.Context, kind, id string, fields map[string]any) (*store.Entity, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &store.Entity{Kind: kind, ID: id, Body: json.RawMessage(`{}`)}, nil
}

func (m *mockStore) Delete(ctx context.Context, kind, id string) error { return m.err }

func (m *mockStore) RegisterDevice(ctx context.Context, reg types.DeviceRegistration) error {
	if m.err != nil {
		return m.err
	}
	m.devices = append(m.devices, reg)
	return nil
}

func (m *mockStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	return m.stats, m.statsErr
}

func (m *mockStore) Close() error { return nil }

func newTestServer(t *testing.T) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	captureLogs(t)
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return NewRouter(NewHandler(s, testAPIKey, "1.2.3"), nil), s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h, s := newTestServer(t)
	_ = s.Upsert(context.Background(), store.Entity{Kind: types.KindThemes, ID: "t1", OwnerID: "u1", Body: json.RawMessage(`{}`)})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 without auth", w.Code)
	}
	var resp types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Version != "1.2.3" || resp.EntityCount != 1 {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_StoreDown(t *testing.T) {
	captureLogs(t)
	h := NewRouter(NewHandler(&mockStore{statsErr: errors.New("disk")}, testAPIKey, "dev"), nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/insights",
		`{"id":"i1","user_id":"u1","theme_id":"t1","body":"Relax the wrist","linked_to_ids":[]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST status = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPatch, "/api/v1/insights/i1", `{"body":"Relax the shoulder"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/v1/insights?owner_id=u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var list struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 || list.Items[0]["body"] != "Relax the shoulder" || list.Items[0]["theme_id"] != "t1" {
		t.Errorf("items = %v", list.Items)
	}

	if w = do(t, h, http.MethodDelete, "/api/v1/insights/i1", ""); w.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", w.Code)
	}
	if w = do(t, h, http.MethodDelete, "/api/v1/insights/i1", ""); w.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", w.Code)
	}
	if w = do(t, h, http.MethodPatch, "/api/v1/insights/i1", `{"body":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("PATCH missing status = %d, want 404", w.Code)
	}
}

func TestList_EmptyIsArray(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/themes?owner_id=nobody", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"items":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestProfilesAreOwnedBySelf(t *testing.T) {
	h, _ := newTestServer(t)

	if w := do(t, h, http.MethodPost, "/api/v1/profiles", `{"id":"u1","name":"Yuki","notification_frequency":"daily"}`); w.Code != http.StatusCreated {
		t.Fatalf("POST status = %d: %s", w.Code, w.Body.String())
	}
	w := do(t, h, http.MethodGet, "/api/v1/profiles?owner_id=u1", "")
	if !strings.Contains(w.Body.String(), `"Yuki"`) {
		t.Errorf("profile not listed by its own id: %s", w.Body.String())
	}
}

func TestRequestErrors(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown kind", http.MethodGet, "/api/v1/notes?owner_id=u1", "", http.StatusNotFound},
		{"list without owner", http.MethodGet, "/api/v1/themes", "", http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/v1/themes", `{`, http.StatusBadRequest},
		{"array body", http.MethodPost, "/api/v1/themes", `[1]`, http.StatusBadRequest},
		{"missing id", http.MethodPost, "/api/v1/themes", `{"user_id":"u1"}`, http.StatusUnprocessableEntity},
		{"missing owner", http.MethodPost, "/api/v1/themes", `{"id":"t1"}`, http.StatusUnprocessableEntity},
		{"empty patch", http.MethodPatch, "/api/v1/themes/t1", `{}`, http.StatusBadRequest},
		{"bad platform", http.MethodPost, "/api/v1/devices", `{"owner_id":"u1","installation_id":"x","platform":"fax"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestValidationErrorsUseJSONNames(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/themes", `{"id":"t1"}`)
	var p ProblemWithErrors
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if len(p.Errors) != 1 || p.Errors[0].Field != "user_id" {
		t.Errorf("errors = %+v", p.Errors)
	}
}

func TestRegisterDevice(t *testing.T) {
	captureLogs(t)
	ms := &mockStore{}
	h := NewRouter(NewHandler(ms, testAPIKey, "dev"), nil)

	w := do(t, h, http.MethodPost, "/api/v1/devices",
		`{"owner_id":"u1","installation_id":"inst-1","platform":"cli"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(ms.devices) != 1 || ms.devices[0].InstallationID != "inst-1" {
		t.Errorf("devices = %+v", ms.devices)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	h, _ := newTestServer(t)

	for _, path := range []string{"/api/v1/themes?owner_id=u1", "/api/v1/insights?owner_id=u1"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, w.Code)
		}
	}
}

func TestMetricsMount(t *testing.T) {
	captureLogs(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	h := NewRouter(NewHandler(&mockStore{}, testAPIKey, "dev"), metrics)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.String() != "# metrics" {
		t.Errorf("metrics = %d %q", w.Code, w.Body.String())
	}
}
