package v1

import (
	"github.com/go-chi/chi/v5"
	"github.com/paymux/paymux/handler"
)

// Handlers groups the constructed API handlers the v1 routes dispatch to.
type Handlers struct {
	Payment   *handler.PaymentHandler
	Routing   *handler.RoutingHandler
	Config    *handler.ConfigHandler
	Analytics *handler.AnalyticsHandler
	RateLimit *handler.TenantRateLimitHandler
}

// Routes registers all v1 API routes
func Routes(r chi.Router, h *Handlers) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.Payment.ProcessPayment)
		r.Post("/refund", h.Payment.RefundPayment)
		r.Get("/methods", h.Payment.GetAvailableMethods)
	})

	r.Route("/routing", func(r chi.Router) {
		r.Get("/recommendations", h.Routing.GetRecommendations)
	})

	r.Route("/config", func(r chi.Router) {
		r.Post("/gateways", h.Config.SetGatewayConfig)
		r.Get("/gateways", h.Config.ListGatewayConfigs)
		r.Get("/gateways/fields", h.Config.GetGatewayFields)
		r.Delete("/gateways/{gateway}", h.Config.DeleteGatewayConfig)
		r.Post("/rotate-key", h.Config.RotateKey)
		r.Get("/stats", h.Config.GetStats)
	})

	r.Route("/analytics", func(r chi.Router) {
		r.Get("/gateways", h.Analytics.GetGatewayStats)
		r.Get("/attempts", h.Analytics.GetRecentAttempts)
		r.Get("/rate-limit", h.RateLimit.GetTenantStats)
	})
}
