package handlers

import (
	"net/http"

	"github.com/marmos91/dittocache/pkg/cache"
	"github.com/marmos91/dittocache/pkg/manager"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the cache manager up?
//   - Region health: Status of every region
type HealthHandler struct {
	manager *manager.Manager
}

// NewHealthHandler creates a new health handler. The manager may be nil, in
// which case readiness and region checks report unhealthy.
func NewHealthHandler(m *manager.Manager) *HealthHandler {
	return &HealthHandler{manager: m}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "dittocache",
	}))
}

// Readiness handles GET /health/ready.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("cache manager not initialized"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"regions": h.manager.Count(),
	}))
}

// RegionHealth is the health of one region.
type RegionHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Memory int    `json:"memory_size"`
	Disk   int    `json:"disk_size"`
}

// Regions handles GET /health/regions. It returns 503 if any region is in
// error.
func (h *HealthHandler) Regions(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("cache manager not initialized"))
		return
	}

	regions := make([]RegionHealth, 0)
	allHealthy := true
	for _, name := range h.manager.Names() {
		reg, err := h.manager.Get(name)
		if err != nil {
			continue
		}
		status := reg.Status()
		if status == cache.StatusError {
			allHealthy = false
		}
		regions = append(regions, RegionHealth{
			Name:   name,
			Status: status.String(),
			Memory: reg.Size(),
			Disk:   reg.DiskSize(),
		})
	}

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(regions))
		return
	}
	resp := unhealthyResponse("one or more regions are in error")
	resp.Data = regions
	writeJSON(w, http.StatusServiceUnavailable, resp)
}
