package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/paymux/paymux/infra/middle"
	v1 "github.com/paymux/paymux/router/v1"

	// Import for side-effect registration
	_ "github.com/paymux/paymux/gateway/cardplus"
	_ "github.com/paymux/paymux/gateway/cash"
	_ "github.com/paymux/paymux/gateway/flatpay"
	_ "github.com/paymux/paymux/gateway/tierpay"
)

// Routes mounts the authenticated API surface. Webhooks, health and
// metrics stay outside; gateways and probes cannot send bearer tokens.
func Routes(r chi.Router, h *v1.Handlers, limiter *middle.TenantRateLimiter) {
	r.Use(middle.AuthMiddleware())
	r.Use(middle.TenantRateLimitMiddleware(limiter))

	r.Route("/v1", func(r chi.Router) {
		v1.Routes(r, h)
	})
}
