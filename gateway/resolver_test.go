package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a controllable Gateway for resolver and cache tests.
type fakeGateway struct {
	id         string
	initErr    error
	probeErr   error
	probeCalls *atomic.Int32
	caps       Capabilities
}

func (f *fakeGateway) ID() string                                 { return f.id }
func (f *fakeGateway) Initialize(config map[string]string) error  { return f.initErr }
func (f *fakeGateway) RequiredConfig(mode string) []ConfigField   { return nil }
func (f *fakeGateway) ValidateConfig(config map[string]string) error { return nil }

func (f *fakeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	return &ChargeResult{TransactionID: f.id + "_txn", Status: StatusCaptured, Amount: req.Amount}, nil
}

func (f *fakeGateway) Capture(ctx context.Context, transactionID string, amount *Money) (*ChargeResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) Void(ctx context.Context, transactionID string) error { return nil }

func (f *fakeGateway) GetStatus(ctx context.Context, transactionID string) (Status, error) {
	return StatusCaptured, nil
}

func (f *fakeGateway) ValidateWebhook(payload []byte, headers map[string]string) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeGateway) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) CalculateFee(amount Money, monthlyVolume decimal.Decimal) (Money, error) {
	return ZeroMoney(amount.Currency), nil
}

func (f *fakeGateway) Capabilities() Capabilities { return f.caps }

func (f *fakeGateway) Probe(ctx context.Context) error {
	if f.probeCalls != nil {
		f.probeCalls.Add(1)
	}
	return f.probeErr
}

// stubSource is a fixed CredentialSource.
type stubSource struct {
	creds []Credentials
	err   error
}

func (s *stubSource) LoadEnabled(ctx context.Context, tenantID string) ([]Credentials, error) {
	return s.creds, s.err
}

func newTestResolver(t *testing.T, source CredentialSource, registry *Registry) *Resolver {
	t.Helper()
	return NewResolver(source, registry, NewInstanceCache(16, time.Minute), time.Second)
}

func TestResolver_Resolve(t *testing.T) {
	registry := NewRegistry()
	registry.Register("beta", func() Gateway { return &fakeGateway{id: "beta"} })
	registry.Register("alpha", func() Gateway { return &fakeGateway{id: "alpha"} })

	source := &stubSource{creds: []Credentials{
		{GatewayID: "beta", Mode: ModeTest},
		{GatewayID: "alpha", Mode: ModeLive},
	}}

	resolver := newTestResolver(t, source, registry)

	set, err := resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", set.TenantID)
	assert.Empty(t, set.Warnings)
	assert.Empty(t, set.FailedProbes)

	// Live gateways come back sorted by id
	assert.Equal(t, []string{"alpha", "beta"}, set.IDs())

	alpha, ok := set.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, ModeLive, alpha.Mode)
	assert.True(t, alpha.Available())

	_, ok = set.Get("missing")
	assert.False(t, ok)
}

func TestResolver_Resolve_SourceError(t *testing.T) {
	resolver := newTestResolver(t, &stubSource{err: errors.New("storage down")}, NewRegistry())

	_, err := resolver.Resolve(context.Background(), "tenant-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant-1")
}

func TestResolver_Resolve_ProbeFailureExcludesGateway(t *testing.T) {
	registry := NewRegistry()
	registry.Register("healthy", func() Gateway { return &fakeGateway{id: "healthy"} })
	registry.Register("broken", func() Gateway {
		return &fakeGateway{id: "broken", probeErr: errors.New("connection refused")}
	})

	source := &stubSource{creds: []Credentials{
		{GatewayID: "healthy", Mode: ModeTest},
		{GatewayID: "broken", Mode: ModeTest},
	}}

	resolver := newTestResolver(t, source, registry)

	set, err := resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)

	// The broken gateway is a warning, never an error
	assert.Equal(t, []string{"healthy"}, set.IDs())
	require.Len(t, set.Warnings, 1)
	assert.Contains(t, set.Warnings[0], "broken")
	assert.Equal(t, []string{"broken"}, set.FailedProbes)
}

func TestResolver_Resolve_UnknownGatewayIsWarning(t *testing.T) {
	registry := NewRegistry()
	registry.Register("known", func() Gateway { return &fakeGateway{id: "known"} })

	source := &stubSource{creds: []Credentials{
		{GatewayID: "known", Mode: ModeTest},
		{GatewayID: "ghost", Mode: ModeTest},
	}}

	resolver := newTestResolver(t, source, registry)

	set, err := resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"known"}, set.IDs())
	require.Len(t, set.Warnings, 1)
	assert.Contains(t, set.Warnings[0], "ghost")
	// Build failures never count as probe failures
	assert.Empty(t, set.FailedProbes)
}

func TestResolver_Resolve_InitFailureIsWarning(t *testing.T) {
	registry := NewRegistry()
	registry.Register("badinit", func() Gateway {
		return &fakeGateway{id: "badinit", initErr: errors.New("missing apiKey")}
	})

	source := &stubSource{creds: []Credentials{{GatewayID: "badinit", Mode: ModeTest}}}
	resolver := newTestResolver(t, source, registry)

	set, err := resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)

	assert.Empty(t, set.IDs())
	require.Len(t, set.Warnings, 1)
	assert.Contains(t, set.Warnings[0], "initialization failed")
	assert.Empty(t, set.FailedProbes)
}

func TestResolver_Resolve_ReusesCachedInstances(t *testing.T) {
	var probes atomic.Int32

	registry := NewRegistry()
	registry.Register("cached", func() Gateway {
		return &fakeGateway{id: "cached", probeCalls: &probes}
	})

	source := &stubSource{creds: []Credentials{{GatewayID: "cached", Mode: ModeTest}}}
	resolver := newTestResolver(t, source, registry)

	_, err := resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), probes.Load())

	// Second resolve hits the cache and does not probe again
	_, err = resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), probes.Load())
}

func TestResolver_Invalidate(t *testing.T) {
	var probes atomic.Int32

	registry := NewRegistry()
	registry.Register("gw", func() Gateway {
		return &fakeGateway{id: "gw", probeCalls: &probes}
	})

	source := &stubSource{creds: []Credentials{{GatewayID: "gw", Mode: ModeTest}}}
	resolver := newTestResolver(t, source, registry)

	_, err := resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)

	resolver.Invalidate("tenant-1", "gw")

	// Invalidation forces a rebuild and a fresh probe
	_, err = resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), probes.Load())
}

func TestResolver_BreakerPersistsAcrossResolves(t *testing.T) {
	registry := NewRegistry()
	registry.Register("gw", func() Gateway { return &fakeGateway{id: "gw"} })

	source := &stubSource{creds: []Credentials{{GatewayID: "gw", Mode: ModeTest}}}
	resolver := newTestResolver(t, source, registry)

	first, err := resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)

	lg1, _ := first.Get("gw")
	lg2, _ := second.Get("gw")
	assert.Same(t, lg1.Breaker, lg2.Breaker)
}

func TestResolver_BreakerOpensOnConsecutiveOutages(t *testing.T) {
	registry := NewRegistry()
	registry.Register("gw", func() Gateway { return &fakeGateway{id: "gw"} })

	source := &stubSource{creds: []Credentials{{GatewayID: "gw", Mode: ModeTest}}}
	resolver := newTestResolver(t, source, registry)

	set, err := resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)

	lg, ok := set.Get("gw")
	require.True(t, ok)
	assert.True(t, lg.Available())

	for i := 0; i < 5; i++ {
		_, _ = lg.Breaker.Execute(func() (any, error) {
			return nil, NewError(ErrCodeUnavailable, "gw", "down")
		})
	}

	assert.Equal(t, gobreaker.StateOpen, lg.Breaker.State())
	assert.False(t, lg.Available())
}

func TestResolver_DeclinesDoNotOpenBreaker(t *testing.T) {
	registry := NewRegistry()
	registry.Register("gw", func() Gateway { return &fakeGateway{id: "gw"} })

	source := &stubSource{creds: []Credentials{{GatewayID: "gw", Mode: ModeTest}}}
	resolver := newTestResolver(t, source, registry)

	set, err := resolver.Resolve(context.Background(), "tenant-1")
	require.NoError(t, err)

	lg, _ := set.Get("gw")

	// A decline is a processed answer; it must not look like an outage
	for i := 0; i < 20; i++ {
		_, _ = lg.Breaker.Execute(func() (any, error) {
			return nil, NewError(ErrCodeDeclined, "gw", "insufficient funds")
		})
	}

	assert.Equal(t, gobreaker.StateClosed, lg.Breaker.State())
	assert.True(t, lg.Available())
}
