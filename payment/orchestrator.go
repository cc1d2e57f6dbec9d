// Package payment executes routed payments with sequential fallback. The
// orchestrator asks the routing engine for a ranked candidate list, then
// walks it in order until a gateway accepts the charge or every candidate
// has failed, recording an audit attempt for each try.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paymux/paymux/feed"
	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/infra/logger"
	"github.com/paymux/paymux/infra/metrics"
	"github.com/paymux/paymux/infra/opensearch"
	"github.com/paymux/paymux/routing"
)

// Request is one payment to process.
type Request struct {
	TenantID  string            `json:"-"`
	RequestID string            `json:"-"`
	Amount    gateway.Money     `json:"amount"`
	Method    string            `json:"method,omitempty"`
	Region    string            `json:"region,omitempty"`
	Strategy  routing.Strategy  `json:"strategy,omitempty"`
	Reference string            `json:"reference,omitempty"`
	Customer  gateway.Customer  `json:"customer"`
	Card      *gateway.CardInfo `json:"card,omitempty"`
	Capture   bool              `json:"capture"`

	// ForcedGateway skips routing and targets one gateway directly.
	ForcedGateway string `json:"-"`

	// IdempotencyKey is the caller's replay token. Each gateway receives
	// its own derived key, since idempotency is gateway-scoped.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RefundRequest asks for funds back from the gateway that captured them.
// Refunds never fall back: they go to the gateway of record or nowhere.
type RefundRequest struct {
	TenantID       string         `json:"-"`
	RequestID      string         `json:"-"`
	GatewayID      string         `json:"gatewayId"`
	TransactionID  string         `json:"transactionId"`
	Amount         *gateway.Money `json:"amount,omitempty"` // nil means full refund
	Reason         string         `json:"reason,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

// Result is the outcome of one Process call, including the full attempt
// trail. On exhaustion the Result is still returned alongside the error so
// callers can surface what was tried.
type Result struct {
	Success         bool              `json:"success"`
	GatewayUsed     string            `json:"gatewayUsed,omitempty"`
	TransactionID   string            `json:"transactionId,omitempty"`
	Status          gateway.Status    `json:"status,omitempty"`
	Amount          gateway.Money     `json:"amount"`
	Fee             gateway.Money     `json:"fee"`
	WasFallback     bool              `json:"wasFallback"`
	OriginalGateway string            `json:"originalGateway"`
	Attempts        []Attempt         `json:"attempts"`
	Decision        *routing.Decision `json:"decision,omitempty"`
}

// Orchestrator coordinates routing, charging and fallback.
type Orchestrator struct {
	resolver       *gateway.Resolver
	engine         *routing.Engine
	feed           *feed.Service
	volumes        feed.VolumeTracker
	audit          *opensearch.Logger
	attemptTimeout time.Duration
}

// NewOrchestrator wires the orchestrator. feed, volumes and audit may be
// nil; the orchestrator then runs without snapshots, volume tracking or
// audit indexing respectively.
func NewOrchestrator(resolver *gateway.Resolver, engine *routing.Engine, feedSvc *feed.Service, volumes feed.VolumeTracker, audit *opensearch.Logger, attemptTimeout time.Duration) *Orchestrator {
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	return &Orchestrator{
		resolver:       resolver,
		engine:         engine,
		feed:           feedSvc,
		volumes:        volumes,
		audit:          audit,
		attemptTimeout: attemptTimeout,
	}
}

// Process routes and executes one payment. Candidates are attempted
// strictly in score order; any gateway-local failure falls through to the
// next candidate, and only a malformed request or the caller's own
// context ends the walk early. On exhaustion the returned error wraps
// ErrAllGatewaysExhausted and the Result carries the trail.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	if o.feed != nil {
		o.feed.RegisterTenant(req.TenantID)
	}

	live, err := o.resolver.Resolve(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	o.noteResolveWarnings(req.TenantID, live)

	decision, err := o.engine.RouteLiveSet(ctx, routing.Query{
		TenantID:      req.TenantID,
		Amount:        req.Amount,
		Method:        req.Method,
		Region:        req.Region,
		Strategy:      req.Strategy,
		ForcedGateway: req.ForcedGateway,
	}, live)
	if err != nil {
		return nil, err
	}

	metrics.RoutingDecisionsTotal.WithLabelValues(string(decision.Strategy), decision.SelectedGateway).Inc()

	baseKey := req.IdempotencyKey
	if baseKey == "" {
		baseKey = uuid.New().String()
	}

	ranked := decision.RankedGateways()
	result := &Result{
		Amount:          req.Amount,
		OriginalGateway: ranked[0],
		Decision:        decision,
	}
	causes := make(map[string]error)

	for i, gatewayID := range ranked {
		lg, ok := live.Get(gatewayID)
		if !ok {
			continue
		}

		isFallback := i > 0
		att, chargeRes, attemptErr := o.attemptCharge(ctx, req, lg, deriveIdempotencyKey(baseKey, gatewayID), isFallback)
		result.Attempts = append(result.Attempts, att)
		o.recordAttempt(req.TenantID, req.RequestID, req.Reference, decision.Strategy, att, i+1)

		if attemptErr == nil {
			result.Success = true
			result.GatewayUsed = gatewayID
			result.TransactionID = chargeRes.TransactionID
			result.Status = chargeRes.Status
			result.Fee = chargeRes.Fee
			result.WasFallback = isFallback

			if isFallback {
				metrics.FallbacksTotal.WithLabelValues(req.TenantID).Inc()
			}
			o.recordVolume(ctx, req)

			logger.Info(fmt.Sprintf("payment succeeded on attempt %d", i+1), logger.LogContext{
				TenantID:  req.TenantID,
				Gateway:   gatewayID,
				RequestID: req.RequestID,
				Fields: map[string]any{
					"transaction_id": chargeRes.TransactionID,
					"fallback":       isFallback,
				},
			})
			return result, nil
		}

		causes[gatewayID] = attemptErr

		if errors.Is(attemptErr, context.Canceled) {
			// The caller walked away; stop burning candidates.
			return result, attemptErr
		}
		if ctx.Err() != nil {
			// The caller's own deadline is spent; another candidate cannot
			// finish in time either.
			return result, attemptErr
		}
		if !gateway.IsRetryable(attemptErr) {
			return result, attemptErr
		}

		logger.Warn("gateway attempt failed, trying next candidate", logger.LogContext{
			TenantID:  req.TenantID,
			Gateway:   gatewayID,
			RequestID: req.RequestID,
			Fields:    map[string]any{"error": attemptErr.Error()},
		})
	}

	metrics.ExhaustionsTotal.WithLabelValues(req.TenantID).Inc()

	exhausted := &ExhaustedError{Causes: causes}
	for _, att := range result.Attempts {
		exhausted.Attempted = append(exhausted.Attempted, att.GatewayID)
	}

	logger.Error("payment failed on every candidate gateway", exhausted, logger.LogContext{
		TenantID:  req.TenantID,
		RequestID: req.RequestID,
	})
	return result, exhausted
}

// Refund sends a refund to the gateway that holds the transaction.
func (o *Orchestrator) Refund(ctx context.Context, req RefundRequest) (*gateway.RefundResult, error) {
	if req.TenantID == "" {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "", "tenantID is required")
	}
	if req.GatewayID == "" || req.TransactionID == "" {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, req.GatewayID, "gatewayId and transactionId are required")
	}
	if req.Amount != nil {
		if err := req.Amount.Validate(); err != nil {
			return nil, gateway.WrapError(gateway.ErrCodeInvalidRequest, req.GatewayID, "invalid refund amount", err)
		}
	}

	live, err := o.resolver.Resolve(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	lg, ok := live.Get(req.GatewayID)
	if !ok {
		return nil, gateway.NewError(gateway.ErrCodeUnavailable, req.GatewayID,
			fmt.Sprintf("gateway is not live for tenant %s", req.TenantID))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	defer cancel()

	start := time.Now()
	raw, err := lg.Breaker.Execute(func() (any, error) {
		return lg.Gateway.Refund(attemptCtx, gateway.RefundRequest{
			TransactionID:  req.TransactionID,
			Amount:         req.Amount,
			Reason:         req.Reason,
			IdempotencyKey: req.IdempotencyKey,
		})
	})
	latency := time.Since(start)

	att := Attempt{
		GatewayID:     req.GatewayID,
		Outcome:       outcomeOf(err),
		TransactionID: req.TransactionID,
		Latency:       latency,
		At:            time.Now().UTC(),
	}
	if req.Amount != nil {
		att.Amount = *req.Amount
	}
	if err != nil {
		att.ErrorCode = gateway.CodeOf(err)
		att.ErrorMessage = err.Error()
	}
	o.recordOperation(req.TenantID, req.RequestID, "refund", att)

	if err != nil {
		return nil, err
	}
	return raw.(*gateway.RefundResult), nil
}

// attemptCharge runs one charge through the gateway's circuit breaker
// with its own deadline, and returns the recorded attempt.
func (o *Orchestrator) attemptCharge(ctx context.Context, req Request, lg *gateway.LiveGateway, idempotencyKey string, isFallback bool) (Attempt, *gateway.ChargeResult, error) {
	gatewayID := lg.Gateway.ID()
	att := Attempt{
		GatewayID:   gatewayID,
		Amount:      req.Amount,
		WasFallback: isFallback,
		At:          time.Now().UTC(),
	}

	chargeReq := gateway.ChargeRequest{
		Amount:         req.Amount,
		Method:         req.Method,
		Region:         req.Region,
		Reference:      req.Reference,
		IdempotencyKey: idempotencyKey,
		Customer:       req.Customer,
		Card:           req.Card,
		Capture:        req.Capture,
		Description:    req.Description,
		Metadata:       req.Metadata,
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	defer cancel()

	start := time.Now()
	raw, err := lg.Breaker.Execute(func() (any, error) {
		return lg.Gateway.Charge(attemptCtx, chargeReq)
	})
	att.Latency = time.Since(start)
	att.Outcome = outcomeOf(err)

	if err != nil {
		att.ErrorCode = gateway.CodeOf(err)
		att.ErrorMessage = err.Error()
		return att, nil, err
	}

	res := raw.(*gateway.ChargeResult)
	att.TransactionID = res.TransactionID
	att.Fee = res.Fee
	return att, res, nil
}

// recordAttempt publishes one charge attempt to metrics and, when
// configured, to the audit index. Indexing is asynchronous; the payment
// path never waits for it.
func (o *Orchestrator) recordAttempt(tenantID, requestID, paymentRef string, strategy routing.Strategy, att Attempt, attemptNumber int) {
	metrics.AttemptsTotal.WithLabelValues(att.GatewayID, "charge", string(att.Outcome)).Inc()
	metrics.ChargeDuration.WithLabelValues(att.GatewayID).Observe(att.Latency.Seconds())

	if o.audit == nil {
		return
	}

	doc := opensearch.AttemptDoc{
		Timestamp:     att.At,
		Gateway:       att.GatewayID,
		PaymentID:     paymentRef,
		TransactionID: att.TransactionID,
		RequestID:     requestID,
		Strategy:      string(strategy),
		Operation:     "charge",
		Amount:        att.Amount.Float64(),
		Currency:      att.Amount.Currency,
		Fee:           att.Fee.Float64(),
		Outcome:       string(att.Outcome),
		ErrorCode:     string(att.ErrorCode),
		ErrorMessage:  att.ErrorMessage,
		Fallback:      att.WasFallback,
		AttemptNumber: attemptNumber,
		LatencyMs:     att.Latency.Milliseconds(),
	}
	o.shipAuditDoc(tenantID, doc)
}

// recordOperation publishes a non-charge attempt (refund, capture, void).
func (o *Orchestrator) recordOperation(tenantID, requestID, operation string, att Attempt) {
	metrics.AttemptsTotal.WithLabelValues(att.GatewayID, operation, string(att.Outcome)).Inc()

	if o.audit == nil {
		return
	}

	doc := opensearch.AttemptDoc{
		Timestamp:     att.At,
		Gateway:       att.GatewayID,
		TransactionID: att.TransactionID,
		RequestID:     requestID,
		Operation:     operation,
		Amount:        att.Amount.Float64(),
		Currency:      att.Amount.Currency,
		Outcome:       string(att.Outcome),
		ErrorCode:     string(att.ErrorCode),
		ErrorMessage:  att.ErrorMessage,
		LatencyMs:     att.Latency.Milliseconds(),
	}
	o.shipAuditDoc(tenantID, doc)
}

func (o *Orchestrator) shipAuditDoc(tenantID string, doc opensearch.AttemptDoc) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := o.audit.LogAttempt(ctx, tenantID, doc); err != nil {
			logger.Debug("attempt audit write failed: " + err.Error())
		}
	}()
}

// recordVolume feeds the successful charge into the tenant's monthly
// volume counter. Failures only cost future volume-fit accuracy.
func (o *Orchestrator) recordVolume(ctx context.Context, req Request) {
	if o.volumes == nil {
		return
	}
	if err := o.volumes.Record(ctx, req.TenantID, req.Amount); err != nil {
		logger.Warn("failed to record charge volume", logger.LogContext{
			TenantID: req.TenantID,
			Fields:   map[string]any{"error": err.Error()},
		})
	}
}

func (o *Orchestrator) noteResolveWarnings(tenantID string, live *gateway.LiveSet) {
	for _, id := range live.FailedProbes {
		metrics.ProbeFailuresTotal.WithLabelValues(id).Inc()
	}
	for _, warning := range live.Warnings {
		logger.Warn(warning, logger.LogContext{TenantID: tenantID})
	}
}

func validateRequest(req *Request) error {
	if req.TenantID == "" {
		return gateway.NewError(gateway.ErrCodeInvalidRequest, "", "tenantID is required")
	}
	if err := req.Amount.Validate(); err != nil {
		return gateway.WrapError(gateway.ErrCodeInvalidRequest, "", "invalid amount", err)
	}
	if req.Method == "" {
		req.Method = gateway.MethodCard
	}
	return nil
}

func deriveIdempotencyKey(baseKey, gatewayID string) string {
	return baseKey + ":" + gatewayID
}
