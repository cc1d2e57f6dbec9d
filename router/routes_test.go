package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/gateway/flatpay"
	"github.com/paymux/paymux/handler"
	"github.com/paymux/paymux/infra/config"
	"github.com/paymux/paymux/infra/middle"
	"github.com/paymux/paymux/payment"
	"github.com/paymux/paymux/routing"
	v1 "github.com/paymux/paymux/router/v1"
)

type stubOrchestrator struct{}

func (stubOrchestrator) Process(ctx context.Context, req payment.Request) (*payment.Result, error) {
	return nil, payment.ErrAllGatewaysExhausted
}

func (stubOrchestrator) Refund(ctx context.Context, req payment.RefundRequest) (*gateway.RefundResult, error) {
	return nil, gateway.NewError(gateway.ErrCodeUnavailable, "", "no gateway configured")
}

func (stubOrchestrator) AvailableMethods(ctx context.Context, tenantID string, amount gateway.Money) ([]payment.MethodQuote, error) {
	return nil, nil
}

type stubRouter struct{}

func (stubRouter) Route(ctx context.Context, q routing.Query) (*routing.Decision, error) {
	return nil, routing.ErrNoEligibleGateway
}

func newTestHandlers(t *testing.T) *v1.Handlers {
	t.Helper()

	storage, err := config.NewSQLiteStorage(filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	registry := gateway.NewRegistry()
	registry.Register("flatpay", flatpay.NewGateway)

	store, err := config.NewCredentialStore(storage, registry, "routes-test-master-key")
	require.NoError(t, err)

	resolver := gateway.NewResolver(store, registry, gateway.NewInstanceCache(16, time.Minute), time.Second)
	validate := validator.New()

	return &v1.Handlers{
		Payment:   handler.NewPaymentHandler(stubOrchestrator{}, validate),
		Routing:   handler.NewRoutingHandler(stubRouter{}),
		Config:    handler.NewConfigHandler(store, registry, resolver, validate),
		Analytics: handler.NewAnalyticsHandler(nil, nil),
		RateLimit: handler.NewTenantRateLimitHandler(middle.NewTenantRateLimiter()),
	}
}

func TestRoutes(t *testing.T) {
	r := chi.NewRouter()
	require.NotNil(t, r)

	h := newTestHandlers(t)
	limiter := middle.NewTenantRateLimiter()

	assert.NotPanics(t, func() {
		Routes(r, h, limiter)
	})
}

func TestRoutes_Authentication(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")

	r := chi.NewRouter()
	Routes(r, newTestHandlers(t), middle.NewTenantRateLimiter())

	tests := []struct {
		name       string
		authHeader string
		expectCode int
	}{
		{
			name:       "missing_header",
			authHeader: "",
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "wrong_scheme",
			authHeader: "Basic dXNlcjpwYXNz",
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "wrong_key",
			authHeader: "Bearer not-the-key",
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "valid_key",
			authHeader: "Bearer test-api-key",
			expectCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/config/stats", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectCode, rec.Code)
		})
	}
}

func TestRoutes_MissingAPIKeyConfig(t *testing.T) {
	t.Setenv("API_KEY", "")

	r := chi.NewRouter()
	Routes(r, newTestHandlers(t), middle.NewTenantRateLimiter())

	req := httptest.NewRequest("GET", "/v1/config/stats", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRoutes_RateLimitHeaders(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")

	r := chi.NewRouter()
	Routes(r, newTestHandlers(t), middle.NewTenantRateLimiter())

	req := httptest.NewRequest("GET", "/v1/config/stats", nil)
	req.Header.Set("Authorization", "Bearer test-api-key")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "default", rec.Header().Get("X-RateLimit-Tenant"))
}
