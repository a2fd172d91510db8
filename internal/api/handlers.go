package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hyperengineering/jukutatsu/internal/store"
	"github.com/hyperengineering/jukutatsu/internal/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler implements the API handlers
type Handler struct {
	store    store.Store
	apiKey   string
	version  string
	validate *validator.Validate
}

// NewHandler creates a new Handler with store.Store interface
func NewHandler(s store.Store, apiKey, version string) *Handler {
	return &Handler{
		store:    s,
		apiKey:   apiKey,
		version:  version,
		validate: newValidator(),
	}
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		slog.Error("health stats failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:      "healthy",
		Version:     h.version,
		EntityCount: stats.Total(),
		DeviceCount: stats.Devices,
	})
}

// List handles GET /api/v1/{kind}?owner_id=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	kind := MustKindFromContext(r.Context())
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		WriteProblem(w, r, http.StatusBadRequest, "owner_id query parameter is required")
		return
	}

	entities, err := h.store.List(r.Context(), kind, owner)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	resp := types.ListResponse{Items: make([]json.RawMessage, 0, len(entities))}
	for _, e := range entities {
		resp.Items = append(resp.Items, e.Body)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Upsert handles POST /api/v1/{kind}
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	kind := MustKindFromContext(r.Context())

	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}
	var doc types.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Document must be a JSON object")
		return
	}
	if kind == types.KindProfiles {
		doc.OwnerID = doc.ID
	}
	if err := h.validate.Struct(doc); err != nil {
		WriteProblemWithErrors(w, r, "Document contains invalid fields", fieldErrors(err))
		return
	}

	err := h.store.Upsert(r.Context(), store.Entity{
		Kind:      kind,
		ID:        doc.ID,
		OwnerID:   doc.OwnerID,
		Body:      raw,
		UpdatedAt: doc.UpdatedAt,
	})
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	slog.Debug("document stored", "component", "api", "kind", kind, "entity_id", doc.ID)
	writeJSON(w, http.StatusCreated, types.WriteResponse{ID: doc.ID})
}

// Patch handles PATCH /api/v1/{kind}/{id}
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	kind := MustKindFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}
	if len(fields) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, "No fields to update")
		return
	}

	e, err := h.store.Patch(r.Context(), kind, id, fields)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(e.Body)
}

// Delete handles DELETE /api/v1/{kind}/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	kind := MustKindFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.store.Delete(r.Context(), kind, id); err != nil {
		MapStoreError(w, r, err)
		return
	}

	slog.Info("document deleted", "component", "api", "kind", kind, "entity_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// RegisterDevice handles POST /api/v1/devices
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var reg types.DeviceRegistration
	if !decodeBody(w, r, &reg) {
		return
	}
	if err := h.validate.Struct(reg); err != nil {
		WriteProblemWithErrors(w, r, "Registration contains invalid fields", fieldErrors(err))
		return
	}

	if err := h.store.RegisterDevice(r.Context(), reg); err != nil {
		MapStoreError(w, r, err)
		return
	}

	slog.Info("device registered", "component", "api",
		"owner_id", reg.OwnerID, "installation_id", reg.InstallationID, "platform", reg.Platform)
	w.WriteHeader(http.StatusNoContent)
}
