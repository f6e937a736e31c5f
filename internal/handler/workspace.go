package handler

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/middleware"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/internal/scratch"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

// writeStripes bounds the locks that serialize workspace writes. Users
// hashing to the same stripe wait on each other.
const writeStripes = 64

// WorkspaceHandler serves each user's scratch stores.
type WorkspaceHandler struct {
	backend scratch.Backend
	logger  *logger.Logger

	writes [writeStripes]sync.Mutex
}

// NewWorkspaceHandler creates a handler over one shared backend. A nil
// backend serves empty stores and rejects writes.
func NewWorkspaceHandler(backend scratch.Backend, log *logger.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{
		backend: backend,
		logger:  logger.OrGlobal(log),
	}
}

// Routes mounts the workspace and settings endpoints.
func (h *WorkspaceHandler) Routes(r chi.Router) {
	r.Route("/workspace", func(r chi.Router) {
		r.Get("/context", h.Context)
		r.Get("/brandkit", h.GetBrandKit)
		r.Put("/brandkit", h.PutBrandKit)
		r.Get("/{store}", h.List)
		r.Post("/{store}", h.Add)
		r.Delete("/{store}/{id}", h.Remove)
	})
	r.Get("/settings/{scope}", h.GetSettings)
	r.Put("/settings/{scope}", h.PutSettings)
}

// workspace returns the caller's workspace.
func (h *WorkspaceHandler) workspace(r *http.Request) *scratch.Workspace {
	return scratch.NewWorkspace(scratch.Scoped(h.backend, middleware.GetUserID(r.Context())), h.logger)
}

// lockWrites holds the caller's write stripe so read-modify-write cycles on
// one user's stores do not interleave. Call the returned func to release it.
func (h *WorkspaceHandler) lockWrites(r *http.Request) func() {
	f := fnv.New32a()
	f.Write([]byte(middleware.GetUserID(r.Context())))
	mu := &h.writes[f.Sum32()%writeStripes]
	mu.Lock()
	return mu.Unlock
}

func (h *WorkspaceHandler) collection(w http.ResponseWriter, r *http.Request) (scratch.Collection, bool) {
	name := chi.URLParam(r, "store")
	c, ok := h.workspace(r).Collection(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown store "+name)
	}
	return c, ok
}

// List handles GET /workspace/{store}
func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": c.Items(r.Context())})
}

// Add handles POST /workspace/{store}
func (h *WorkspaceHandler) Add(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	unlock := h.lockWrites(r)
	rec, err := c.AddJSON(r.Context(), data)
	unlock()
	if err != nil {
		h.writeScratchError(w, c.Key(), err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Remove handles DELETE /workspace/{store}/{id}
func (h *WorkspaceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	unlock := h.lockWrites(r)
	err := c.Remove(r.Context(), chi.URLParam(r, "id"))
	unlock()
	if err != nil {
		h.writeScratchError(w, c.Key(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBrandKit handles GET /workspace/brandkit
func (h *WorkspaceHandler) GetBrandKit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workspace(r).BrandKit.Get(r.Context()))
}

// PutBrandKit handles PUT /workspace/brandkit
func (h *WorkspaceHandler) PutBrandKit(w http.ResponseWriter, r *http.Request) {
	var kit model.BrandKit
	if err := readJSON(w, r, &kit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	unlock := h.lockWrites(r)
	err := h.workspace(r).BrandKit.Set(r.Context(), kit)
	unlock()
	if err != nil {
		h.writeScratchError(w, scratch.KeyBrandKit, err)
		return
	}
	writeJSON(w, http.StatusOK, kit)
}

// Context handles GET /workspace/context
func (h *WorkspaceHandler) Context(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"context": scratch.BuildContext(r.Context(), h.workspace(r)),
	})
}

// GetSettings handles GET /settings/{scope}
func (h *WorkspaceHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	var v json.RawMessage
	if !h.workspace(r).Settings.Get(r.Context(), chi.URLParam(r, "scope"), &v) {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// PutSettings handles PUT /settings/{scope}
func (h *WorkspaceHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var v map[string]any
	if err := readJSON(w, r, &v); err != nil {
		writeError(w, http.StatusBadRequest, "settings must be a JSON object")
		return
	}
	scope := chi.URLParam(r, "scope")
	unlock := h.lockWrites(r)
	err := h.workspace(r).Settings.Set(r.Context(), scope, v)
	unlock()
	if err != nil {
		h.writeScratchError(w, "settings."+scope, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *WorkspaceHandler) writeScratchError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.Is(err, scratch.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scratch.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scratch.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "workspace storage unavailable")
	default:
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("workspace write failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save")
	}
}
