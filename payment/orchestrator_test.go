package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/routing"
)

// fakeGateway is a controllable Gateway for orchestrator tests. The fee
// percentage steers routing order under the cost_optimal strategy.
type fakeGateway struct {
	id        string
	feePct    decimal.Decimal
	chargeErr error
	refundErr error

	mu      sync.Mutex
	charges []gateway.ChargeRequest
	refunds []gateway.RefundRequest
}

func (f *fakeGateway) ID() string                                    { return f.id }
func (f *fakeGateway) Initialize(config map[string]string) error     { return nil }
func (f *fakeGateway) RequiredConfig(mode string) []gateway.ConfigField { return nil }
func (f *fakeGateway) ValidateConfig(config map[string]string) error { return nil }
func (f *fakeGateway) Probe(ctx context.Context) error               { return nil }

func (f *fakeGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.charges = append(f.charges, req)
	f.mu.Unlock()

	if f.chargeErr != nil {
		return nil, f.chargeErr
	}

	fee, _ := f.CalculateFee(req.Amount, decimal.Zero)
	return &gateway.ChargeResult{
		TransactionID: f.id + "_txn_1",
		Status:        gateway.StatusCaptured,
		Amount:        req.Amount,
		Fee:           fee,
		ProcessedAt:   time.Now(),
	}, nil
}

func (f *fakeGateway) Capture(ctx context.Context, transactionID string, amount *gateway.Money) (*gateway.ChargeResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	f.mu.Lock()
	f.refunds = append(f.refunds, req)
	f.mu.Unlock()

	if f.refundErr != nil {
		return nil, f.refundErr
	}

	result := &gateway.RefundResult{
		RefundID:      f.id + "_ref_1",
		TransactionID: req.TransactionID,
		Status:        gateway.StatusRefunded,
		ProcessedAt:   time.Now(),
	}
	if req.Amount != nil {
		result.Amount = *req.Amount
	}
	return result, nil
}

func (f *fakeGateway) Void(ctx context.Context, transactionID string) error { return nil }

func (f *fakeGateway) GetStatus(ctx context.Context, transactionID string) (gateway.Status, error) {
	return gateway.StatusCaptured, nil
}

func (f *fakeGateway) ValidateWebhook(payload []byte, headers map[string]string) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeGateway) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) CalculateFee(amount gateway.Money, monthlyVolume decimal.Decimal) (gateway.Money, error) {
	fee := amount.Amount.Mul(f.feePct).Div(decimal.NewFromInt(100))
	return gateway.MoneyFromDecimal(fee, amount.Currency), nil
}

func (f *fakeGateway) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{
		Currencies:          []string{"GBP", "EUR", "USD"},
		Methods:             []string{gateway.MethodCard, gateway.MethodWallet},
		SupportsRefunds:     true,
		BaselineReliability: 0.95,
		AvgLatency:          time.Second,
		Fees:                gateway.FeeSchedule{Percent: f.feePct},
	}
}

func (f *fakeGateway) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

func (f *fakeGateway) lastCharge(t *testing.T) gateway.ChargeRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.charges)
	return f.charges[len(f.charges)-1]
}

// stubSource is a fixed CredentialSource.
type stubSource struct {
	creds []gateway.Credentials
}

func (s *stubSource) LoadEnabled(ctx context.Context, tenantID string) ([]gateway.Credentials, error) {
	return s.creds, nil
}

// newTestOrchestrator builds an orchestrator over the given gateways with no
// feed, no volume tracking and no audit index. Routing runs on declared
// capabilities only, so fee percentages fully determine cost_optimal order.
func newTestOrchestrator(t *testing.T, gws ...*fakeGateway) *Orchestrator {
	t.Helper()

	registry := gateway.NewRegistry()
	creds := make([]gateway.Credentials, 0, len(gws))
	for _, gw := range gws {
		gw := gw
		registry.Register(gw.id, func() gateway.Gateway { return gw })
		creds = append(creds, gateway.Credentials{GatewayID: gw.id, Mode: gateway.ModeTest})
	}

	resolver := gateway.NewResolver(&stubSource{creds: creds}, registry, gateway.NewInstanceCache(16, time.Minute), time.Second)
	engine := routing.NewEngine(resolver, nil, nil, "UK", routing.StrategyBalanced)

	return NewOrchestrator(resolver, engine, nil, nil, nil, time.Second)
}

func testRequest(amount string) Request {
	return Request{
		TenantID:       "tenant-1",
		Amount:         gateway.MoneyFromDecimal(decimal.RequireFromString(amount), "GBP"),
		Method:         gateway.MethodCard,
		Strategy:       routing.StrategyCostOptimal,
		IdempotencyKey: "order-42",
		Capture:        true,
	}
}

func TestProcess_Success(t *testing.T) {
	gw := &fakeGateway{id: "alpha"}
	orch := newTestOrchestrator(t, gw)

	result, err := orch.Process(context.Background(), testRequest("25.00"))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "alpha", result.GatewayUsed)
	assert.Equal(t, "alpha_txn_1", result.TransactionID)
	assert.Equal(t, gateway.StatusCaptured, result.Status)
	assert.False(t, result.WasFallback)
	assert.Equal(t, "alpha", result.OriginalGateway)

	require.Len(t, result.Attempts, 1)
	att := result.Attempts[0]
	assert.Equal(t, "alpha", att.GatewayID)
	assert.Equal(t, OutcomeSuccess, att.Outcome)
	assert.False(t, att.WasFallback)
	assert.Equal(t, "alpha_txn_1", att.TransactionID)
}

func TestProcess_FallbackWalksCandidatesInScoreOrder(t *testing.T) {
	down := gateway.NewError(gateway.ErrCodeUnavailable, "", "connection refused")

	// cost_optimal ranks by fee: alpha (free) > beta (1%) > gamma (2%).
	alpha := &fakeGateway{id: "alpha", chargeErr: down}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1), chargeErr: gateway.NewError(gateway.ErrCodeTimeout, "beta", "deadline exceeded")}
	gamma := &fakeGateway{id: "gamma", feePct: decimal.NewFromInt(2)}

	orch := newTestOrchestrator(t, alpha, beta, gamma)

	result, err := orch.Process(context.Background(), testRequest("25.00"))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "gamma", result.GatewayUsed)
	assert.True(t, result.WasFallback)
	assert.Equal(t, "alpha", result.OriginalGateway)

	// Exactly three attempts, in rank order, with per-attempt outcomes.
	require.Len(t, result.Attempts, 3)
	assert.Equal(t, "alpha", result.Attempts[0].GatewayID)
	assert.Equal(t, OutcomeError, result.Attempts[0].Outcome)
	assert.False(t, result.Attempts[0].WasFallback)

	assert.Equal(t, "beta", result.Attempts[1].GatewayID)
	assert.Equal(t, OutcomeTimeout, result.Attempts[1].Outcome)
	assert.True(t, result.Attempts[1].WasFallback)

	assert.Equal(t, "gamma", result.Attempts[2].GatewayID)
	assert.Equal(t, OutcomeSuccess, result.Attempts[2].Outcome)
	assert.True(t, result.Attempts[2].WasFallback)
}

func TestProcess_Exhaustion(t *testing.T) {
	down := gateway.NewError(gateway.ErrCodeUnavailable, "", "down")
	alpha := &fakeGateway{id: "alpha", chargeErr: down}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1), chargeErr: down}

	orch := newTestOrchestrator(t, alpha, beta)

	result, err := orch.Process(context.Background(), testRequest("25.00"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllGatewaysExhausted))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, []string{"alpha", "beta"}, exhausted.Attempted)
	assert.Error(t, exhausted.CauseFor("alpha"))
	assert.Error(t, exhausted.CauseFor("beta"))
	assert.NoError(t, exhausted.CauseFor("gamma"))

	// The result still carries the full trail for the caller.
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Len(t, result.Attempts, 2)
	assert.Empty(t, result.GatewayUsed)
}

func TestProcess_DeclineTriggersFallback(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", chargeErr: gateway.NewError(gateway.ErrCodeDeclined, "alpha", "insufficient funds")}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1)}

	orch := newTestOrchestrator(t, alpha, beta)

	result, err := orch.Process(context.Background(), testRequest("25.00"))
	require.NoError(t, err)

	assert.Equal(t, "beta", result.GatewayUsed)
	assert.True(t, result.WasFallback)
	assert.Equal(t, OutcomeDeclined, result.Attempts[0].Outcome)
	assert.Equal(t, gateway.ErrCodeDeclined, result.Attempts[0].ErrorCode)
}

func TestProcess_UnclassifiedErrorTriggersFallback(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", chargeErr: errors.New("assertion failed deep inside the sdk")}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1)}

	orch := newTestOrchestrator(t, alpha, beta)

	result, err := orch.Process(context.Background(), testRequest("25.00"))
	require.NoError(t, err)

	// An unexpected failure is local to the gateway that produced it; the
	// next candidate still gets its turn.
	assert.True(t, result.Success)
	assert.Equal(t, "beta", result.GatewayUsed)
	assert.True(t, result.WasFallback)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, OutcomeError, result.Attempts[0].Outcome)
	assert.Equal(t, 1, beta.chargeCount())
}

func TestProcess_InvalidRequestStopsImmediately(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", chargeErr: gateway.NewError(gateway.ErrCodeInvalidRequest, "alpha", "malformed card number")}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1)}

	orch := newTestOrchestrator(t, alpha, beta)

	result, err := orch.Process(context.Background(), testRequest("25.00"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAllGatewaysExhausted))
	assert.Equal(t, gateway.ErrCodeInvalidRequest, gateway.CodeOf(err))

	// A malformed request fails everywhere; no candidate is worth burning.
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, 0, beta.chargeCount())
}

func TestProcess_AttemptDeadlineTriggersFallback(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", chargeErr: context.DeadlineExceeded}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1)}

	orch := newTestOrchestrator(t, alpha, beta)

	result, err := orch.Process(context.Background(), testRequest("25.00"))
	require.NoError(t, err)

	assert.Equal(t, "beta", result.GatewayUsed)
	assert.True(t, result.WasFallback)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, OutcomeTimeout, result.Attempts[0].Outcome)
}

func TestProcess_IdempotencyKeysAreGatewayScoped(t *testing.T) {
	down := gateway.NewError(gateway.ErrCodeUnavailable, "", "down")
	alpha := &fakeGateway{id: "alpha", chargeErr: down}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1)}

	orch := newTestOrchestrator(t, alpha, beta)

	req := testRequest("25.00")
	req.IdempotencyKey = "order-42"

	_, err := orch.Process(context.Background(), req)
	require.NoError(t, err)

	// Each gateway sees its own derived key; the caller key is never
	// replayed verbatim across gateways.
	assert.Equal(t, "order-42:alpha", alpha.lastCharge(t).IdempotencyKey)
	assert.Equal(t, "order-42:beta", beta.lastCharge(t).IdempotencyKey)
}

func TestProcess_GeneratesIdempotencyKeyWhenCallerOmitsIt(t *testing.T) {
	gw := &fakeGateway{id: "alpha"}
	orch := newTestOrchestrator(t, gw)

	req := testRequest("25.00")
	req.IdempotencyKey = ""

	_, err := orch.Process(context.Background(), req)
	require.NoError(t, err)

	key := gw.lastCharge(t).IdempotencyKey
	assert.True(t, strings.HasSuffix(key, ":alpha"))
	assert.Greater(t, len(key), len(":alpha"))
}

func TestProcess_CancellationRecordsCancelledAttempt(t *testing.T) {
	alpha := &fakeGateway{id: "alpha"}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1)}
	orch := newTestOrchestrator(t, alpha, beta)

	// Warm the instance cache so resolution succeeds without probing on
	// the cancelled context.
	_, err := orch.Process(context.Background(), testRequest("10.00"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := orch.Process(ctx, testRequest("25.00"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	// The caller walked away; the attempt is recorded as cancelled and no
	// further candidate is burned.
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, OutcomeCancelled, result.Attempts[0].Outcome)
	assert.Equal(t, 0, beta.chargeCount())
}

func TestProcess_ForcedGateway(t *testing.T) {
	alpha := &fakeGateway{id: "alpha"}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1)}
	orch := newTestOrchestrator(t, alpha, beta)

	req := testRequest("25.00")
	req.ForcedGateway = "beta"

	result, err := orch.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "beta", result.GatewayUsed)
	assert.False(t, result.WasFallback)
	require.NotNil(t, result.Decision)
	assert.True(t, result.Decision.Forced)
	assert.Equal(t, 1.0, result.Decision.Confidence)
	assert.Equal(t, 0, alpha.chargeCount())
}

func TestProcess_ForcedGatewayHasNoFallback(t *testing.T) {
	alpha := &fakeGateway{id: "alpha"}
	beta := &fakeGateway{id: "beta", chargeErr: gateway.NewError(gateway.ErrCodeUnavailable, "beta", "down")}
	orch := newTestOrchestrator(t, alpha, beta)

	req := testRequest("25.00")
	req.ForcedGateway = "beta"

	_, err := orch.Process(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllGatewaysExhausted))
	assert.Equal(t, 0, alpha.chargeCount())
}

func TestProcess_OpenBreakerExcludesGatewayFromCandidates(t *testing.T) {
	alpha := &fakeGateway{id: "alpha"}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1)}
	orch := newTestOrchestrator(t, alpha, beta)

	// Trip alpha's breaker with consecutive outages.
	live, err := orch.resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)
	lg, ok := live.Get("alpha")
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		_, _ = lg.Breaker.Execute(func() (any, error) {
			return nil, gateway.NewError(gateway.ErrCodeUnavailable, "alpha", "down")
		})
	}

	result, err := orch.Process(context.Background(), testRequest("25.00"))
	require.NoError(t, err)

	// Alpha never enters the candidate list while its breaker is open.
	assert.Equal(t, "beta", result.GatewayUsed)
	assert.False(t, result.WasFallback)
	assert.Equal(t, 0, alpha.chargeCount())
}

func TestProcess_ValidatesRequest(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeGateway{id: "alpha"})

	t.Run("missing tenant", func(t *testing.T) {
		req := testRequest("25.00")
		req.TenantID = ""
		_, err := orch.Process(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, gateway.ErrCodeInvalidRequest, gateway.CodeOf(err))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		req := testRequest("25.00")
		req.Amount = gateway.ZeroMoney("GBP")
		_, err := orch.Process(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, gateway.ErrCodeInvalidRequest, gateway.CodeOf(err))
	})
}

func TestRefund_GoesToGatewayOfRecord(t *testing.T) {
	alpha := &fakeGateway{id: "alpha"}
	beta := &fakeGateway{id: "beta", feePct: decimal.NewFromInt(1)}
	orch := newTestOrchestrator(t, alpha, beta)

	amount := gateway.MoneyFromDecimal(decimal.RequireFromString("10.00"), "GBP")
	result, err := orch.Refund(context.Background(), RefundRequest{
		TenantID:      "tenant-1",
		GatewayID:     "beta",
		TransactionID: "beta_txn_1",
		Amount:        &amount,
		Reason:        "customer request",
	})
	require.NoError(t, err)

	assert.Equal(t, "beta_ref_1", result.RefundID)
	assert.Equal(t, gateway.StatusRefunded, result.Status)

	// Refunds never re-route; only the gateway of record is asked.
	beta.mu.Lock()
	require.Len(t, beta.refunds, 1)
	assert.Equal(t, "beta_txn_1", beta.refunds[0].TransactionID)
	beta.mu.Unlock()
	assert.Empty(t, alpha.refunds)
}

func TestRefund_UnknownGateway(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeGateway{id: "alpha"})

	_, err := orch.Refund(context.Background(), RefundRequest{
		TenantID:      "tenant-1",
		GatewayID:     "ghost",
		TransactionID: "txn-1",
	})
	require.Error(t, err)
	assert.Equal(t, gateway.ErrCodeUnavailable, gateway.CodeOf(err))
}

func TestRefund_Validation(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeGateway{id: "alpha"})

	t.Run("missing identifiers", func(t *testing.T) {
		_, err := orch.Refund(context.Background(), RefundRequest{TenantID: "tenant-1"})
		require.Error(t, err)
		assert.Equal(t, gateway.ErrCodeInvalidRequest, gateway.CodeOf(err))
	})

	t.Run("invalid amount", func(t *testing.T) {
		bad := gateway.MoneyFromDecimal(decimal.NewFromInt(-5), "GBP")
		_, err := orch.Refund(context.Background(), RefundRequest{
			TenantID:      "tenant-1",
			GatewayID:     "alpha",
			TransactionID: "txn-1",
			Amount:        &bad,
		})
		require.Error(t, err)
		assert.Equal(t, gateway.ErrCodeInvalidRequest, gateway.CodeOf(err))
	})
}

func TestRefund_FailureRecordsError(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", refundErr: gateway.NewError(gateway.ErrCodeDeclined, "alpha", "already refunded")}
	orch := newTestOrchestrator(t, alpha)

	_, err := orch.Refund(context.Background(), RefundRequest{
		TenantID:      "tenant-1",
		GatewayID:     "alpha",
		TransactionID: "txn-1",
	})
	require.Error(t, err)
	assert.Equal(t, gateway.ErrCodeDeclined, gateway.CodeOf(err))
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{name: "nil is success", err: nil, want: OutcomeSuccess},
		{name: "cancellation", err: context.Canceled, want: OutcomeCancelled},
		{name: "attempt deadline", err: context.DeadlineExceeded, want: OutcomeTimeout},
		{name: "decline", err: gateway.NewError(gateway.ErrCodeDeclined, "gw", "no"), want: OutcomeDeclined},
		{name: "timeout", err: gateway.NewError(gateway.ErrCodeTimeout, "gw", "slow"), want: OutcomeTimeout},
		{name: "outage", err: gateway.NewError(gateway.ErrCodeUnavailable, "gw", "down"), want: OutcomeError},
		{name: "unclassified", err: errors.New("boom"), want: OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeOf(tt.err))
		})
	}
}
