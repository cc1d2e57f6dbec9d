package handler

import (
	"net/http"

	"github.com/paymux/paymux/infra/middle"
	"github.com/paymux/paymux/infra/response"
)

// TenantRateLimitHandler exposes per-tenant rate limit usage.
type TenantRateLimitHandler struct {
	rateLimiter *middle.TenantRateLimiter
}

// NewTenantRateLimitHandler creates a new tenant rate limit handler
func NewTenantRateLimitHandler(rateLimiter *middle.TenantRateLimiter) *TenantRateLimitHandler {
	return &TenantRateLimitHandler{
		rateLimiter: rateLimiter,
	}
}

// GetTenantStats returns rate limiting statistics for the requesting tenant
func (h *TenantRateLimitHandler) GetTenantStats(w http.ResponseWriter, r *http.Request) {
	tenantID := middle.GetTenantIDFromContext(r.Context())

	stats := h.rateLimiter.GetTenantRateLimitStats(tenantID)

	response.WriteJSON(w, http.StatusOK, response.Response{
		Code:    http.StatusOK,
		Success: true,
		Message: "Tenant rate limiting statistics retrieved successfully",
		Data:    stats,
	})
}
