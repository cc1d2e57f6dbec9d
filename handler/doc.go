// Package handler provides the HTTP request handlers for the paymux
// payment routing service.
//
// The handlers bridge the HTTP layer with the routing engine, the payment
// orchestrator and the credential store. Every response uses the standard
// envelope from infra/response.
//
// # Core Handlers
//
// The package includes several specialized handlers:
//
//   - PaymentHandler: charge, refund and method discovery
//   - RoutingHandler: routing decisions without charging
//   - ConfigHandler: encrypted gateway credential management
//   - WebhookHandler: gateway notification verification
//   - AnalyticsHandler: per-gateway performance views
//   - HealthHandler: service, store and feed health
//
// # Payment Handler
//
// The PaymentHandler manages charge and refund requests:
//
//	paymentHandler := handler.NewPaymentHandler(orchestrator, validator)
//
//	// Routes
//	r.Post("/v1/payments", paymentHandler.ProcessPayment)
//	r.Post("/v1/payments/refund", paymentHandler.RefundPayment)
//	r.Get("/v1/payments/methods", paymentHandler.GetAvailableMethods)
//
// A charge is routed across the tenant's gateways automatically. Appending
// ?gateway=flatpay forces a specific gateway and skips scoring. On
// exhaustion the response carries the full attempt trail:
//
//	{
//	  "success": false,
//	  "message": "All eligible gateways failed",
//	  "data": {
//	    "attempts": [
//	      {"gatewayId": "cardplus", "outcome": "error", ...},
//	      {"gatewayId": "flatpay", "outcome": "declined", ...}
//	    ]
//	  }
//	}
//
// # Multi-Tenant Support
//
// All handlers resolve the tenant from the X-Tenant-ID header:
//
//	POST /v1/payments
//	Headers:
//	  X-Tenant-ID: acme
//	  Authorization: Bearer your-api-key
//	  Idempotency-Key: order-1234
//	  Content-Type: application/json
//
//	Body:
//	{
//	  "amount": {"amount": "25.00", "currency": "GBP"},
//	  "strategy": "cost_optimal",
//	  "customer": {"email": "jane@example.com"},
//	  "capture": true
//	}
//
// Requests without the header fall into the "default" tenant.
//
// # Routing Handler
//
// The RoutingHandler answers "where would this payment go" without moving
// any money:
//
//	routingHandler := handler.NewRoutingHandler(engine)
//
//	// One decision for a named strategy
//	r.Get("/v1/routing/recommendations?amount=25.00&strategy=cost_optimal", ...)
//
//	// The full per-strategy report
//	r.Get("/v1/routing/recommendations?amount=25.00", ...)
//
// # Configuration Handler
//
// The ConfigHandler manages encrypted per-tenant gateway credentials:
//
//	configHandler := handler.NewConfigHandler(store, registry, resolver, validator)
//
//	r.Post("/v1/config/gateways", configHandler.SetGatewayConfig)
//	r.Get("/v1/config/gateways", configHandler.ListGatewayConfigs)
//	r.Get("/v1/config/gateways/fields", configHandler.GetGatewayFields)
//	r.Delete("/v1/config/gateways/{gateway}", configHandler.DeleteGatewayConfig)
//	r.Post("/v1/config/rotate-key", configHandler.RotateKey)
//
// Example configuration request:
//
//	POST /v1/config/gateways
//	Headers:
//	  X-Tenant-ID: acme
//	  Content-Type: application/json
//
//	Body:
//	{
//	  "gateway": "flatpay",
//	  "mode": "test",
//	  "credentials": {
//	    "apiKey": "fp_test_9f8e7d6c5b4a",
//	    "webhookSecret": "whsec_1a2b3c4d5e6f"
//	  }
//	}
//
// Credential values are validated against the gateway's declared schema,
// encrypted and stored. They never appear in any read endpoint.
//
// # Webhook Handling
//
// The WebhookHandler verifies gateway notifications before trusting
// anything in them:
//
//	r.Post("/webhooks/{gateway}", webhookHandler.HandleWebhook)
//
// A payload whose signature does not verify is rejected with 401 and
// never parsed.
//
// # Error Handling
//
// All handlers return the standard envelope:
//
//	// Success response
//	{
//	  "code": 200,
//	  "success": true,
//	  "message": "Payment processed",
//	  "data": {"gatewayUsed": "flatpay", "transactionId": "tx_123"}
//	}
//
//	// Error response
//	{
//	  "code": 422,
//	  "success": false,
//	  "message": "No eligible gateway for this payment",
//	  "error": "no eligible gateway: tenant acme, 25 GBP via card"
//	}
//
// # HTTP Status Codes
//
// Handlers use standard HTTP status codes:
//
//   - 200 OK: successful operation
//   - 400 Bad Request: invalid request format or validation error
//   - 401 Unauthorized: missing auth or failed webhook signature
//   - 402 Payment Required: the selected gateway declined
//   - 404 Not Found: unknown gateway or configuration
//   - 422 Unprocessable Entity: no gateway can take the payment
//   - 429 Too Many Requests: rate limit exceeded
//   - 502 Bad Gateway: every eligible gateway failed
//
// # Testing
//
// Handler tests drive the HTTP layer with httptest and fake orchestrator
// and engine implementations:
//
//	func TestPaymentHandler_ProcessPayment(t *testing.T) {
//	    handler := NewPaymentHandler(fakeOrchestrator, validator.New())
//
//	    req := httptest.NewRequest("POST", "/v1/payments", requestBody)
//	    req.Header.Set("X-Tenant-ID", "acme")
//
//	    w := httptest.NewRecorder()
//	    handler.ProcessPayment(w, req)
//
//	    assert.Equal(t, 200, w.Code)
//	}
package handler
