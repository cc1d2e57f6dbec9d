package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/infra/config"
	"github.com/paymux/paymux/infra/middle"
	"github.com/paymux/paymux/infra/response"
)

// ConfigHandler handles gateway credential configuration requests
type ConfigHandler struct {
	store    *config.CredentialStore
	registry *gateway.Registry
	resolver *gateway.Resolver
	validate *validator.Validate
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(store *config.CredentialStore, registry *gateway.Registry, resolver *gateway.Resolver, validate *validator.Validate) *ConfigHandler {
	return &ConfigHandler{
		store:    store,
		registry: registry,
		resolver: resolver,
		validate: validate,
	}
}

// SetGatewayConfigRequest carries credentials for one tenant-gateway pair
type SetGatewayConfigRequest struct {
	Gateway     string            `json:"gateway" validate:"required"`
	Mode        string            `json:"mode,omitempty"`
	Credentials map[string]string `json:"credentials" validate:"required"`
}

// RotateKeyRequest carries the replacement master key
type RotateKeyRequest struct {
	NewKey string `json:"newKey" validate:"required"`
}

// SetGatewayConfig validates and stores credentials for the calling tenant.
// The stored record replaces any previous one for the same gateway.
func (h *ConfigHandler) SetGatewayConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := middle.GetTenantIDFromContext(r.Context())

	var req SetGatewayConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	if err := h.store.Store(r.Context(), tenantID, req.Gateway, req.Mode, req.Credentials); err != nil {
		var cfgErr *gateway.ConfigError
		if errors.As(err, &cfgErr) {
			response.Error(w, http.StatusBadRequest, "Invalid gateway credentials", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to store configuration", err)
		return
	}

	// Stale instances must not serve the old credentials.
	h.resolver.Invalidate(tenantID, req.Gateway)

	responseData := map[string]any{
		"tenantId": tenantID,
		"gateway":  req.Gateway,
		"message":  "Gateway configuration stored",
	}

	response.Success(w, http.StatusOK, "Configuration updated", responseData)
}

// ListGatewayConfigs returns the tenant's configured gateways. Credential
// values never leave the store; only metadata is reported.
func (h *ConfigHandler) ListGatewayConfigs(w http.ResponseWriter, r *http.Request) {
	tenantID := middle.GetTenantIDFromContext(r.Context())

	records, err := h.store.ListRecords(r.Context(), tenantID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to list configurations", err)
		return
	}

	responseData := map[string]any{
		"tenantId":          tenantID,
		"gateways":          records,
		"availableGateways": h.registry.Names(),
	}

	response.Success(w, http.StatusOK, "Configurations retrieved", responseData)
}

// GetGatewayFields returns the credential schema a gateway requires, so
// integrators know what to send before storing anything
func (h *ConfigHandler) GetGatewayFields(w http.ResponseWriter, r *http.Request) {
	gatewayID := r.URL.Query().Get("gateway")
	if gatewayID == "" {
		response.Error(w, http.StatusBadRequest, "gateway query parameter is required", nil)
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = gateway.ModeTest
	}

	instance, err := h.registry.Create(gatewayID)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Unknown gateway", err)
		return
	}

	responseData := map[string]any{
		"gateway": gatewayID,
		"mode":    mode,
		"fields":  instance.RequiredConfig(mode),
	}

	response.Success(w, http.StatusOK, "Gateway fields retrieved", responseData)
}

// DeleteGatewayConfig disables a tenant's gateway. The encrypted record
// stays so a later store call can re-enable without re-entering secrets.
func (h *ConfigHandler) DeleteGatewayConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := middle.GetTenantIDFromContext(r.Context())

	gatewayID := chi.URLParam(r, "gateway")
	if gatewayID == "" {
		response.Error(w, http.StatusBadRequest, "Missing gateway parameter", nil)
		return
	}

	if err := h.store.Disable(r.Context(), tenantID, gatewayID); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "Configuration not found", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to disable configuration", err)
		return
	}

	h.resolver.Invalidate(tenantID, gatewayID)

	responseData := map[string]any{
		"tenantId": tenantID,
		"gateway":  gatewayID,
		"message":  "Gateway disabled",
	}

	response.Success(w, http.StatusOK, "Configuration disabled", responseData)
}

// RotateKey re-encrypts every stored credential under a new master key
func (h *ConfigHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	var req RotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	rotated, skipped, err := h.store.RotateKey(r.Context(), req.NewKey)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Key rotation failed", err)
		return
	}

	responseData := map[string]any{
		"rotated": rotated,
		"skipped": skipped,
	}

	response.Success(w, http.StatusOK, "Master key rotated", responseData)
}

// GetStats returns credential storage statistics
func (h *ConfigHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats()
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to get statistics", err)
		return
	}

	response.Success(w, http.StatusOK, "Statistics retrieved", stats)
}
