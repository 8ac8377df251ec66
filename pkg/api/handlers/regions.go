package handlers

import (
	"cmp"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/manager"
	"github.com/marmos91/dittocache/pkg/region"
)

// maxValueSize bounds the request body accepted by Put.
const maxValueSize = 64 << 20

// RegionHandler exposes regions over HTTP.
type RegionHandler struct {
	manager *manager.Manager
}

// NewRegionHandler creates a region handler backed by m.
func NewRegionHandler(m *manager.Manager) *RegionHandler {
	return &RegionHandler{manager: m}
}

// RegionSummary is one entry of the region list.
type RegionSummary struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	Status     string `json:"status"`
	MaxObjects int    `json:"max_objects"`
	DiskUsage  string `json:"disk_usage"`
	Memory     int    `json:"memory_size"`
	Disk       int    `json:"disk_size"`
}

// ElementResponse describes an element without its value.
type ElementResponse struct {
	Key       string    `json:"key"`
	Size      int       `json:"size"`
	Eternal   bool      `json:"eternal"`
	Spool     bool      `json:"spool"`
	CreatedAt time.Time `json:"created_at"`
}

func toElementResponse(e *cache.Element) ElementResponse {
	return ElementResponse{
		Key:       e.Key,
		Size:      len(e.Value),
		Eternal:   e.Attributes.IsEternal,
		Spool:     e.Attributes.IsSpool,
		CreatedAt: e.Attributes.CreatedAt.UTC(),
	}
}

// List handles GET /regions.
func (h *RegionHandler) List(w http.ResponseWriter, r *http.Request) {
	out := make([]RegionSummary, 0, h.manager.Count())
	for _, name := range h.manager.Names() {
		reg, err := h.manager.Get(name)
		if err != nil {
			continue
		}
		cfg := reg.Config()
		out = append(out, RegionSummary{
			Name:       name,
			ID:         reg.ID().String(),
			Status:     reg.Status().String(),
			MaxObjects: cfg.MaxObjects,
			DiskUsage:  cfg.DiskUsage,
			Memory:     reg.Size(),
			Disk:       reg.DiskSize(),
		})
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// Stats handles GET /regions/{name}/stats.
func (h *RegionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, okResponse(reg.Stats()))
}

// Verify handles POST /regions/{name}/verify.
func (h *RegionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}
	if err := reg.Verify(); err != nil {
		logger.Error("Region verification failed", logger.KeyRegion, reg.Name(), logger.Err(err))
		InternalServerError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"region": reg.Name()}))
}

// Keys handles GET /regions/{name}/keys. The optional limit query parameter
// bounds the number of keys returned.
func (h *RegionHandler) Keys(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}

	limit := -1
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	keys, err := reg.Keys(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to list keys")
		return
	}
	slices.Sort(keys)
	if limit >= 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	writeJSON(w, http.StatusOK, okResponse(keys))
}

// Match handles GET /regions/{name}/match?pattern=...
func (h *RegionHandler) Match(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}

	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		BadRequest(w, "pattern is required")
		return
	}

	matches, err := reg.GetMatching(r.Context(), pattern)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	out := make([]ElementResponse, 0, len(matches))
	for _, e := range matches {
		out = append(out, toElementResponse(e))
	}
	slices.SortFunc(out, func(a, b ElementResponse) int {
		return cmp.Compare(a.Key, b.Key)
	})
	writeJSON(w, http.StatusOK, okResponse(out))
}

// Get handles GET /regions/{name}/keys/{key}. The value is written as the
// raw response body.
func (h *RegionHandler) Get(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}

	key := chi.URLParam(r, "key")
	elem, err := reg.Get(r.Context(), key)
	if err != nil {
		h.elementError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(elem.Value)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(elem.Value)
}

// Put handles PUT /regions/{name}/keys/{key}. The request body is the value.
func (h *RegionHandler) Put(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
	if err != nil {
		BadRequest(w, "Failed to read request body")
		return
	}

	key := chi.URLParam(r, "key")
	if err := reg.Put(r.Context(), key, value); err != nil {
		h.elementError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, okResponse(map[string]any{"key": key, "size": len(value)}))
}

// Remove handles DELETE /regions/{name}/keys/{key}.
func (h *RegionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}

	key := chi.URLParam(r, "key")
	removed, err := reg.Remove(r.Context(), key)
	if err != nil {
		h.elementError(w, err)
		return
	}
	if !removed {
		NotFound(w, "Key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Purge handles DELETE /regions/{name}/keys.
func (h *RegionHandler) Purge(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}
	if err := reg.RemoveAll(r.Context()); err != nil {
		h.elementError(w, err)
		return
	}
	logger.Info("Region purged", logger.KeyRegion, reg.Name())
	w.WriteHeader(http.StatusNoContent)
}

// Free handles DELETE /regions/{name}.
func (h *RegionHandler) Free(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.manager.Free(r.Context(), name); err != nil {
		if errors.Is(err, manager.ErrRegionNotFound) {
			NotFound(w, "Region not found")
			return
		}
		InternalServerError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// region resolves the {name} URL parameter. It writes the error response and
// returns false if the region cannot be used.
func (h *RegionHandler) region(w http.ResponseWriter, r *http.Request) (*region.Region, bool) {
	reg, err := h.manager.Get(chi.URLParam(r, "name"))
	switch {
	case err == nil:
		return reg, true
	case errors.Is(err, manager.ErrRegionNotFound):
		NotFound(w, "Region not found")
	case errors.Is(err, manager.ErrShutdown):
		ServiceUnavailable(w, "Cache manager is shutting down")
	default:
		InternalServerError(w, err.Error())
	}
	return nil, false
}

func (h *RegionHandler) elementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cache.ErrNotFound):
		NotFound(w, "Key not found")
	case errors.Is(err, cache.ErrEmptyKey):
		BadRequest(w, "Key is required")
	case errors.Is(err, cache.ErrDisposed):
		ServiceUnavailable(w, "Region is disposed")
	default:
		InternalServerError(w, err.Error())
	}
}
