package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/infra/middle"
	"github.com/paymux/paymux/infra/response"
	"github.com/paymux/paymux/payment"
	"github.com/paymux/paymux/routing"
)

// A full fallback chain can burn several per-gateway attempts, so the
// handler deadline is a multiple of the single-attempt timeout.
const processTimeout = 90 * time.Second

// OrchestratorInterface defines the payment operations the handlers need
type OrchestratorInterface interface {
	Process(ctx context.Context, req payment.Request) (*payment.Result, error)
	Refund(ctx context.Context, req payment.RefundRequest) (*gateway.RefundResult, error)
	AvailableMethods(ctx context.Context, tenantID string, amount gateway.Money) ([]payment.MethodQuote, error)
}

// PaymentHandler handles payment related HTTP requests
type PaymentHandler struct {
	orchestrator OrchestratorInterface
	validate     *validator.Validate
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(orchestrator OrchestratorInterface, validate *validator.Validate) *PaymentHandler {
	return &PaymentHandler{
		orchestrator: orchestrator,
		validate:     validate,
	}
}

// ProcessPayment handles charge requests, routing them across the tenant's
// gateways with automatic fallback
func (h *PaymentHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), processTimeout)
	defer cancel()

	var req payment.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	req.TenantID = middle.GetTenantIDFromContext(ctx)
	req.RequestID = middle.GetRequestIDFromContext(ctx)
	req.ForcedGateway = r.URL.Query().Get("gateway")
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := h.orchestrator.Process(ctx, req)
	if err != nil {
		h.writePaymentError(w, result, err)
		return
	}

	response.Success(w, http.StatusOK, "Payment processed", result)
}

// RefundPayment sends a refund to the gateway that captured the original
// transaction
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req payment.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	req.TenantID = middle.GetTenantIDFromContext(ctx)
	req.RequestID = middle.GetRequestIDFromContext(ctx)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := h.orchestrator.Refund(ctx, req)
	if err != nil {
		h.writePaymentError(w, nil, err)
		return
	}

	response.Success(w, http.StatusOK, "Payment refunded", result)
}

// GetAvailableMethods quotes every gateway and method combination the
// tenant could charge the given amount through
func (h *PaymentHandler) GetAvailableMethods(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	amountStr := r.URL.Query().Get("amount")
	if amountStr == "" {
		response.Error(w, http.StatusBadRequest, "amount query parameter is required", nil)
		return
	}
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = "USD"
	}

	amount, err := gateway.NewMoney(amountStr, currency)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tenantID := middle.GetTenantIDFromContext(ctx)
	quotes, err := h.orchestrator.AvailableMethods(ctx, tenantID, amount)
	if err != nil {
		h.writePaymentError(w, nil, err)
		return
	}

	responseData := map[string]any{
		"tenantId": tenantID,
		"amount":   amount,
		"methods":  quotes,
	}

	response.Success(w, http.StatusOK, "Available methods retrieved", responseData)
}

// writePaymentError maps orchestrator errors onto HTTP status codes. On
// exhaustion the partial result rides along so callers can see the full
// attempt trail.
func (h *PaymentHandler) writePaymentError(w http.ResponseWriter, result *payment.Result, err error) {
	var exhausted *payment.ExhaustedError
	if errors.As(err, &exhausted) {
		response.WriteJSON(w, http.StatusBadGateway, response.Response{
			Code:    http.StatusBadGateway,
			Success: false,
			Message: "All eligible gateways failed",
			Error:   err.Error(),
			Data:    result,
		})
		return
	}

	if errors.Is(err, routing.ErrNoEligibleGateway) {
		response.Error(w, http.StatusUnprocessableEntity, "No eligible gateway for this payment", err)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		response.Error(w, http.StatusRequestTimeout, "Payment request timed out", err)
		return
	}

	switch gateway.CodeOf(err) {
	case gateway.ErrCodeInvalidRequest:
		response.Error(w, http.StatusBadRequest, "Invalid payment request", err)
	case gateway.ErrCodeDeclined:
		response.WriteJSON(w, http.StatusPaymentRequired, response.Response{
			Code:    http.StatusPaymentRequired,
			Success: false,
			Message: "Payment declined",
			Error:   err.Error(),
			Data:    result,
		})
	case gateway.ErrCodeTimeout:
		response.Error(w, http.StatusGatewayTimeout, "Gateway timed out", err)
	case gateway.ErrCodeUnavailable:
		response.Error(w, http.StatusBadGateway, "Gateway unavailable", err)
	default:
		response.Error(w, http.StatusInternalServerError, "Payment failed", err)
	}
}
