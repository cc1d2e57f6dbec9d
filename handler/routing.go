package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/infra/middle"
	"github.com/paymux/paymux/infra/response"
	"github.com/paymux/paymux/routing"
)

// RouterInterface defines the routing operations the handlers need
type RouterInterface interface {
	Route(ctx context.Context, q routing.Query) (*routing.Decision, error)
}

// RoutingHandler exposes routing decisions without charging anything,
// so integrators can inspect how a payment would be routed
type RoutingHandler struct {
	engine RouterInterface
}

// NewRoutingHandler creates a new routing handler
func NewRoutingHandler(engine RouterInterface) *RoutingHandler {
	return &RoutingHandler{engine: engine}
}

// GetRecommendations returns the routing decision for the given amount.
// With ?strategy= it returns the one full decision; without, it runs every
// strategy and reports which gateway each would pick.
func (h *RoutingHandler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
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

	query := routing.Query{
		TenantID: middle.GetTenantIDFromContext(ctx),
		Amount:   amount,
		Method:   r.URL.Query().Get("method"),
		Region:   r.URL.Query().Get("region"),
	}

	if raw := r.URL.Query().Get("strategy"); raw != "" {
		strategy, err := routing.ParseStrategy(raw, "")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Unknown routing strategy", err)
			return
		}
		query.Strategy = strategy

		decision, err := h.engine.Route(ctx, query)
		if err != nil {
			h.writeRoutingError(w, err)
			return
		}

		response.Success(w, http.StatusOK, "Routing decision computed", decision)
		return
	}

	report := make(map[string]*routing.Decision, len(routing.Strategies()))
	for _, strategy := range routing.Strategies() {
		query.Strategy = strategy
		decision, err := h.engine.Route(ctx, query)
		if err != nil {
			h.writeRoutingError(w, err)
			return
		}
		report[string(strategy)] = decision
	}

	responseData := map[string]any{
		"tenantId":        query.TenantID,
		"amount":          amount,
		"recommendations": report,
	}

	response.Success(w, http.StatusOK, "Routing recommendations computed", responseData)
}

func (h *RoutingHandler) writeRoutingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, routing.ErrNoEligibleGateway):
		response.Error(w, http.StatusUnprocessableEntity, "No eligible gateway", err)
	case gateway.CodeOf(err) == gateway.ErrCodeInvalidRequest:
		response.Error(w, http.StatusBadRequest, "Invalid routing query", err)
	default:
		response.Error(w, http.StatusInternalServerError, "Routing failed", err)
	}
}
