package handler

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/paymux/paymux/infra/middle"
)

func TestTenantRateLimitHandler_GetTenantStats(t *testing.T) {
	rl := middle.NewTenantRateLimiter()
	handler := NewTenantRateLimitHandler(rl)

	t.Run("no activity", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/v1/rate-limit/stats", nil)
		req = req.WithContext(middle.SetTenantIDInContext(req.Context(), "idle-tenant"))
		w := httptest.NewRecorder()

		handler.GetTenantStats(w, req)

		if w.Code != 200 {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}

		data := resp["data"].(map[string]any)
		if data["status"] != "no_activity" {
			t.Errorf("Expected no_activity status, got %v", data["status"])
		}
	})

	t.Run("with activity", func(t *testing.T) {
		rl.Allow("active-tenant", "payment", "10.0.0.1")
		rl.Allow("active-tenant", "status", "10.0.0.1")

		req := httptest.NewRequest("GET", "/v1/rate-limit/stats", nil)
		req = req.WithContext(middle.SetTenantIDInContext(req.Context(), "active-tenant"))
		w := httptest.NewRecorder()

		handler.GetTenantStats(w, req)

		if w.Code != 200 {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if !resp["success"].(bool) {
			t.Error("Expected success to be true")
		}

		data := resp["data"].(map[string]any)
		if data["tenant_id"] != "active-tenant" {
			t.Errorf("Expected tenant_id active-tenant, got %v", data["tenant_id"])
		}
		if data["global_used"].(float64) != 2 {
			t.Errorf("Expected 2 global uses, got %v", data["global_used"])
		}

		actions, ok := data["actions"].(map[string]any)
		if !ok {
			t.Fatal("Expected per-action usage breakdown")
		}
		payment, ok := actions["payment"].(map[string]any)
		if !ok {
			t.Fatal("Expected payment action stats")
		}
		if payment["used"].(float64) != 1 {
			t.Errorf("Expected 1 payment use, got %v", payment["used"])
		}
	})
}
