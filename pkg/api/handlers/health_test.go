package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marmos91/dittocache/pkg/config"
	"github.com/marmos91/dittocache/pkg/manager"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Defaults.Disk.Path = t.TempDir()
	m := manager.New(cfg)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(nil)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	resp := decode(t, w)
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}

	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if data["service"] != "dittocache" {
		t.Errorf("Expected service 'dittocache', got '%v'", data["service"])
	}
}

func TestReadiness_NoManager_Returns503(t *testing.T) {
	handler := NewHealthHandler(nil)
	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	resp := decode(t, w)
	if resp.Status != "unhealthy" {
		t.Errorf("Expected status 'unhealthy', got '%s'", resp.Status)
	}
	if resp.Error != "cache manager not initialized" {
		t.Errorf("Expected error 'cache manager not initialized', got '%s'", resp.Error)
	}
}

func TestReadiness_WithManager_ReturnsOK(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.GetOrCreate(context.Background(), "users"); err != nil {
		t.Fatalf("Failed to create region: %v", err)
	}

	handler := NewHealthHandler(m)
	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	data, ok := decode(t, w).Data.(map[string]any)
	if !ok {
		t.Fatal("Expected Data to be a map")
	}
	// JSON numbers decode as float64
	if data["regions"] != float64(1) {
		t.Errorf("Expected 1 region, got %v", data["regions"])
	}
}

func TestRegions_ReportsEachRegion(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	for _, name := range []string{"b", "a"} {
		r, err := m.GetOrCreate(ctx, name)
		if err != nil {
			t.Fatalf("Failed to create region: %v", err)
		}
		if err := r.Put(ctx, "k", []byte("v")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	handler := NewHealthHandler(m)
	req := httptest.NewRequest("GET", "/health/regions", nil)
	w := httptest.NewRecorder()

	handler.Regions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	regions, ok := decode(t, w).Data.([]any)
	if !ok {
		t.Fatal("Expected Data to be a list")
	}
	if len(regions) != 2 {
		t.Fatalf("Expected 2 regions, got %d", len(regions))
	}

	first := regions[0].(map[string]any)
	if first["name"] != "a" {
		t.Errorf("Expected regions sorted by name, got %v first", first["name"])
	}
	if first["status"] != "alive" {
		t.Errorf("Expected status 'alive', got %v", first["status"])
	}
	if first["memory_size"] != float64(1) {
		t.Errorf("Expected memory_size 1, got %v", first["memory_size"])
	}
}
