package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/infra/logger"
	"github.com/paymux/paymux/infra/middle"
	"github.com/paymux/paymux/infra/opensearch"
	"github.com/paymux/paymux/infra/response"
)

// Webhook bodies are small JSON notifications; anything bigger is abuse.
const maxWebhookBody = 1 << 20

// WebhookHandler receives gateway notifications, verifies their signatures
// against the tenant's live gateway instance and records the event
type WebhookHandler struct {
	resolver *gateway.Resolver
	audit    *opensearch.Logger
}

// NewWebhookHandler creates a new webhook handler. audit may be nil.
func NewWebhookHandler(resolver *gateway.Resolver, audit *opensearch.Logger) *WebhookHandler {
	return &WebhookHandler{
		resolver: resolver,
		audit:    audit,
	}
}

// HandleWebhook verifies and parses one gateway notification. Nothing from
// an unverified payload is trusted: signature failure ends the request
// before any parsing happens.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	gatewayID := chi.URLParam(r, "gateway")
	if gatewayID == "" {
		response.Error(w, http.StatusBadRequest, "Gateway parameter is required", nil)
		return
	}

	// Gateways deliver to a per-tenant URL; a header default covers
	// single-tenant deployments.
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		tenantID = middle.GetTenantIDFromContext(ctx)
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read webhook body", err)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	live, err := h.resolver.Resolve(ctx, tenantID)
	if err != nil {
		response.Error(w, http.StatusServiceUnavailable, "Gateway resolution failed", err)
		return
	}

	lg, ok := live.Get(gatewayID)
	if !ok {
		response.Error(w, http.StatusNotFound, "Gateway not configured for tenant", nil)
		return
	}

	valid, err := lg.Gateway.ValidateWebhook(payload, headers)
	if err != nil || !valid {
		logger.Warn("webhook signature rejected", logger.LogContext{
			TenantID: tenantID,
			Gateway:  gatewayID,
			Fields:   map[string]any{"valid": valid},
		})
		response.Error(w, http.StatusUnauthorized, "Invalid webhook signature", err)
		return
	}

	event, err := lg.Gateway.ParseWebhook(payload)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Unparseable webhook payload", err)
		return
	}

	logger.Info("webhook received", logger.LogContext{
		TenantID: tenantID,
		Gateway:  gatewayID,
		Fields: map[string]any{
			"transaction_id": event.TransactionID,
			"status":         string(event.Status),
		},
	})
	h.recordWebhook(tenantID, event)

	response.Success(w, http.StatusOK, "Webhook processed", map[string]any{
		"transactionId": event.TransactionID,
		"status":        event.Status,
	})
}

// recordWebhook ships the event to the audit index without blocking the
// gateway's delivery attempt.
func (h *WebhookHandler) recordWebhook(tenantID string, event *gateway.WebhookEvent) {
	if h.audit == nil {
		return
	}

	doc := opensearch.AttemptDoc{
		Timestamp:     time.Now().UTC(),
		TenantID:      tenantID,
		Gateway:       event.GatewayID,
		TransactionID: event.TransactionID,
		Operation:     "webhook",
		Outcome:       string(event.Status),
	}
	if event.Amount != nil {
		doc.Amount = event.Amount.Float64()
		doc.Currency = event.Amount.Currency
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.audit.LogAttempt(ctx, tenantID, doc); err != nil {
			logger.Debug("webhook audit indexing failed", logger.LogContext{
				TenantID: tenantID,
				Gateway:  event.GatewayID,
				Fields:   map[string]any{"error": err.Error()},
			})
		}
	}()
}
