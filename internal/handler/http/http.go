// Package http implements the relay's non-socket HTTP surface (spec §6):
// self-diagnostic teardown, a single-project read, and an avatar/name
// cache proxy stub.
//
// Grounded on the teacher's chi usage in internal/handler/lp (router
// construction, chi.URLParam) extended to a small route table; webitel's
// own HTTP surface is all gRPC so there's no direct teacher analogue for
// these three routes themselves.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/parkbeat/relay/internal/conn"
	"github.com/parkbeat/relay/internal/domain/model"
	"github.com/parkbeat/relay/internal/registry"
	"github.com/parkbeat/relay/internal/store/postgres"
)

// ProjectReader is the narrow read surface this handler needs from the
// Project Store, satisfied by *postgres.Store in production and a fake in
// tests (no sqlmock-style driver is in the retrieved pack).
type ProjectReader interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
}

type Handler struct {
	hub      *conn.Hub
	reg      *registry.Registry
	projects ProjectReader
	logger   *slog.Logger
}

func NewHandler(hub *conn.Hub, reg *registry.Registry, projects ProjectReader, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, reg: reg, projects: projects, logger: logger}
}

// Router builds the chi mux for the non-socket surface.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/tree", func(r chi.Router) {
		r.Post("/killActiveSockets", h.killActiveSockets)
		r.Get("/getProject", h.getProject)
	})
	r.Get("/api/users/{id}", h.proxyUser)

	return r
}

type killActiveSocketsRequest struct {
	SocketID string `json:"socketId"`
}

// killActiveSockets runs cleanup(socketId) on demand (spec §6: "used by
// self-diagnostic teardown").
func (h *Handler) killActiveSockets(w http.ResponseWriter, r *http.Request) {
	var req killActiveSocketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SocketID == "" {
		http.Error(w, "missing socketId", http.StatusBadRequest)
		return
	}

	h.hub.Unregister(req.SocketID)
	if err := h.reg.Cleanup(r.Context(), req.SocketID); err != nil {
		h.logger.Error("killActiveSockets cleanup failed", "socket_id", req.SocketID, "error", err)
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// getProject returns a single project record by id.
func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	p, err := h.projects.GetProject(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("getProject failed", "project_id", id, "error", err)
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

// proxyUser is a stub for the avatar/name cache proxy (spec §6: "out of
// core"). It returns the bare id so clients have a stable shape to code
// against without the relay owning user profile data.
func (h *Handler) proxyUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}
