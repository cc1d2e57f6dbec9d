// Package paymux routes payments across interchangeable gateway backends,
// picking the gateway expected to be cheapest and most reliable for each
// request and falling back through the remaining candidates when one fails.
//
// # Overview
//
// Paymux sits between your applications and a set of payment gateways. Each
// tenant configures credentials for the gateways it wants to use; for every
// payment, the routing engine scores the tenant's live gateways on cost,
// reliability, speed, volume fit and regional availability, and the
// orchestrator attempts them strictly in score order until one accepts the
// charge.
//
// # Architecture
//
//	┌─────────────────┐    ┌─────────────────┐    ┌─────────────────┐
//	│                 │    │                 │    │                 │
//	│   Your Apps     │◄──►│     Paymux      │◄──►│    Payment      │
//	│  (per tenant)   │    │ (smart routing) │    │    Gateways     │
//	│                 │    │                 │    │                 │
//	└─────────────────┘    └─────────────────┘    └─────────────────┘
//
// The main components, leaves first:
//
//   - infra/config: encrypted credential store (AES-GCM over SQLite) with
//     schema validation and master-key rotation.
//   - gateway: the Gateway interface, fee schedules and capabilities, the
//     factory registry, and the per-tenant resolver that builds the live
//     gateway set behind concurrent health probes and circuit breakers.
//   - feed: observed gateway performance aggregated from the attempt audit
//     index, plus rolling monthly volume per tenant.
//   - routing: the scoring engine and strategy weight profiles.
//   - payment: the orchestrator that executes routed payments with
//     sequential fallback and records every attempt.
//
// # Built-in gateways
//
//   - tierpay: volume-discount pricing with a lower tier past a monthly
//     volume threshold
//   - flatpay: flat percentage per transaction, no fixed or monthly fees
//   - cardplus: standard card pricing, percentage plus fixed fee
//   - cash: local no-op gateway for cash and over-the-counter payments
//
// # Quick start
//
//	export MASTER_ENCRYPTION_KEY="your-master-key"
//	export API_KEY="your-api-key"
//	go run cmd/main.go
//
//	# store gateway credentials for a tenant
//	curl -X POST http://localhost:9999/v1/config/gateways \
//	  -H "Authorization: Bearer your-api-key" \
//	  -H "X-Tenant-ID: APP1" \
//	  -d '{"gateway":"flatpay","mode":"test","credentials":{"apiKey":"...","apiSecret":"..."}}'
//
//	# process a payment with automatic routing and fallback
//	curl -X POST http://localhost:9999/v1/payments \
//	  -H "Authorization: Bearer your-api-key" \
//	  -H "X-Tenant-ID: APP1" \
//	  -d '{"amount":{"amount":"25.00","currency":"GBP"},"method":"card","strategy":"cost_optimal"}'
//
// Routing strategies: cost_optimal, reliability_first, speed_optimal,
// volume_aware and balanced. A ?gateway= query parameter on the payment
// endpoint forces a specific gateway and bypasses scoring entirely.
package paymux
