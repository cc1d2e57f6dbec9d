package flatpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/paymux/paymux/gateway"
	"github.com/shopspring/decimal"
)

const (
	// API URLs
	apiTestURL = "https://sandbox.flatpay.com/api"
	apiLiveURL = "https://api.flatpay.com"

	// API Endpoints
	endpointPay    = "/pay"
	endpointRefund = "/refund"
	endpointStatus = "/status"
	endpointHealth = "/health"

	// FlatPay result codes
	resultOK       = "ok"
	resultDeclined = "declined"
	resultError    = "error"

	signatureHeader = "X-Flatpay-Signature"

	defaultTimeout = 25 * time.Second
)

// FlatPay charges a single flat rate on every transaction regardless of
// volume. No fixed fee, no monthly fee.
var flatPercent = decimal.NewFromFloat(1.69)

// FlatPayGateway implements the gateway.Gateway interface for FlatPay.
type FlatPayGateway struct {
	apiKey        string
	webhookSecret string
	mode          string
	httpClient    *gateway.HTTPClient
}

// NewGateway creates a new FlatPay gateway.
func NewGateway() gateway.Gateway {
	return &FlatPayGateway{}
}

// ID returns the registry identifier.
func (g *FlatPayGateway) ID() string {
	return "flatpay"
}

// RequiredConfig returns the credential fields required for FlatPay.
func (g *FlatPayGateway) RequiredConfig(mode string) []gateway.ConfigField {
	return []gateway.ConfigField{
		{
			Key:         "apiKey",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "FlatPay API key",
			Example:     "fp_live_9kQ3jW7xRv2tYb5dHn8m",
			MinLength:   16,
			MaxLength:   128,
		},
		{
			Key:         "webhookSecret",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "FlatPay webhook signing secret",
			Example:     "ws_Nc7Lp0qTze4AxK2v",
			MinLength:   12,
			MaxLength:   128,
		},
		{
			Key:         "mode",
			Required:    true,
			Type:        "string",
			Description: "Operating mode (test or live)",
			Example:     "test",
			Pattern:     "^(test|live)$",
		},
	}
}

// ValidateConfig validates credentials against FlatPay requirements.
func (g *FlatPayGateway) ValidateConfig(config map[string]string) error {
	return gateway.ValidateConfigFields("flatpay", config, g.RequiredConfig(config["mode"]))
}

// Initialize sets up the gateway with tenant credentials.
func (g *FlatPayGateway) Initialize(conf map[string]string) error {
	g.apiKey = conf["apiKey"]
	g.webhookSecret = conf["webhookSecret"]

	if g.apiKey == "" || g.webhookSecret == "" {
		return errors.New("flatpay: apiKey and webhookSecret are required")
	}

	g.mode = conf["mode"]
	if g.mode == "" {
		g.mode = gateway.ModeTest
	}

	baseURL := apiTestURL
	if g.mode == gateway.ModeLive {
		baseURL = apiLiveURL
	}

	g.httpClient = gateway.NewHTTPClient(gateway.NewHTTPClientConfig(baseURL, g.mode, defaultTimeout))

	return nil
}

// Capabilities returns FlatPay's declared capabilities.
func (g *FlatPayGateway) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{
		Currencies:          []string{"GBP", "EUR", "USD", "CAD", "AUD"},
		Methods:             []string{gateway.MethodCard, gateway.MethodWallet},
		Regions:             []string{"UK", "EU", "US", "CA", "AU"},
		MinAmount:           gateway.MoneyFromDecimal(decimal.RequireFromString("0.30"), "GBP"),
		SupportsRefunds:     true,
		SupportsWebhooks:    true,
		BaselineReliability: 0.965,
		AvgLatency:          1200 * time.Millisecond,
		Fees: gateway.FeeSchedule{
			Percent: flatPercent,
		},
	}
}

// CalculateFee computes the flat FlatPay fee for the amount. The volume
// argument does not change the rate.
func (g *FlatPayGateway) CalculateFee(amount gateway.Money, monthlyVolume decimal.Decimal) (gateway.Money, error) {
	if err := amount.Validate(); err != nil {
		return gateway.Money{}, err
	}
	fee := g.Capabilities().Fees.FeeFor(amount.Amount, monthlyVolume)
	return gateway.MoneyFromDecimal(fee, amount.Currency), nil
}

type payResponse struct {
	Result        string `json:"result"`
	TransactionID string `json:"transaction_id"`
	State         string `json:"state"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Fee           string `json:"fee"`
	AuthCode      string `json:"auth_code"`
	Reason        string `json:"reason"`
}

// Charge authorizes and optionally captures a payment. FlatPay's API is
// form-encoded.
func (g *FlatPayGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if err := req.Amount.Validate(); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeInvalidRequest, "flatpay", "invalid amount", err)
	}
	if req.Method == gateway.MethodCard && req.Card == nil {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "flatpay", "card details are required for card payments")
	}

	form := map[string]string{
		"amount":   req.Amount.Amount.StringFixed(2),
		"currency": req.Amount.Currency,
		"method":   req.Method,
		"capture":  fmt.Sprintf("%t", req.Capture),
	}
	if req.Reference != "" {
		form["reference"] = req.Reference
	}
	if req.IdempotencyKey != "" {
		form["idempotency_key"] = req.IdempotencyKey
	}
	if req.Customer.Email != "" {
		form["customer_email"] = req.Customer.Email
	}
	if req.Card != nil {
		form["card_holder"] = req.Card.HolderName
		form["card_number"] = req.Card.Number
		form["card_expire_month"] = req.Card.ExpireMonth
		form["card_expire_year"] = req.Card.ExpireYear
		form["card_cvv"] = req.Card.CVV
	}

	resp, err := g.httpClient.SendForm(ctx, &gateway.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointPay,
		Headers:  g.authHeaders(),
		FormData: form,
	})
	if err != nil {
		return nil, g.classifyTransportError(ctx, resp, err)
	}

	var pr payResponse
	if err := g.httpClient.ParseJSONResponse(resp, &pr); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "flatpay", "malformed pay response", err)
	}

	switch pr.Result {
	case resultOK:
	case resultDeclined:
		msg := pr.Reason
		if msg == "" {
			msg = "payment declined"
		}
		return nil, gateway.NewError(gateway.ErrCodeDeclined, "flatpay", msg)
	default:
		return nil, gateway.NewError(gateway.ErrCodeUnavailable, "flatpay", "gateway reported: "+pr.Reason)
	}

	amount, err := gateway.NewMoney(pr.Amount, pr.Currency)
	if err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "flatpay", "malformed pay amount", err)
	}

	fee := gateway.ZeroMoney(pr.Currency)
	if pr.Fee != "" {
		if parsed, err := gateway.NewMoney(pr.Fee, pr.Currency); err == nil {
			fee = parsed
		}
	}

	status := gateway.StatusAuthorized
	if req.Capture {
		status = gateway.StatusCaptured
	}

	return &gateway.ChargeResult{
		TransactionID: pr.TransactionID,
		Status:        status,
		Amount:        amount,
		Fee:           fee,
		AuthCode:      pr.AuthCode,
		ProcessedAt:   time.Now(),
		Raw:           pr,
	}, nil
}

// Capture settles a previously authorized transaction.
func (g *FlatPayGateway) Capture(ctx context.Context, transactionID string, amount *gateway.Money) (*gateway.ChargeResult, error) {
	form := map[string]string{
		"transaction_id": transactionID,
		"action":         "capture",
	}
	if amount != nil {
		form["amount"] = amount.Amount.StringFixed(2)
		form["currency"] = amount.Currency
	}

	resp, err := g.httpClient.SendForm(ctx, &gateway.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointPay,
		Headers:  g.authHeaders(),
		FormData: form,
	})
	if err != nil {
		return nil, g.classifyTransportError(ctx, resp, err)
	}

	var pr payResponse
	if err := g.httpClient.ParseJSONResponse(resp, &pr); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "flatpay", "malformed capture response", err)
	}
	if pr.Result != resultOK {
		return nil, gateway.NewError(gateway.ErrCodeUnavailable, "flatpay", "capture failed: "+pr.Reason)
	}

	capAmount, err := gateway.NewMoney(pr.Amount, pr.Currency)
	if err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "flatpay", "malformed capture amount", err)
	}

	return &gateway.ChargeResult{
		TransactionID: pr.TransactionID,
		Status:        gateway.StatusCaptured,
		Amount:        capAmount,
		Fee:           gateway.ZeroMoney(pr.Currency),
		ProcessedAt:   time.Now(),
		Raw:           pr,
	}, nil
}

type refundResponse struct {
	Result        string `json:"result"`
	RefundID      string `json:"refund_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
}

// Refund returns funds for a captured transaction.
func (g *FlatPayGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if req.TransactionID == "" {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "flatpay", "transactionId is required")
	}

	form := map[string]string{"transaction_id": req.TransactionID}
	if req.Amount != nil {
		form["amount"] = req.Amount.Amount.StringFixed(2)
		form["currency"] = req.Amount.Currency
	}
	if req.IdempotencyKey != "" {
		form["idempotency_key"] = req.IdempotencyKey
	}

	resp, err := g.httpClient.SendForm(ctx, &gateway.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointRefund,
		Headers:  g.authHeaders(),
		FormData: form,
	})
	if err != nil {
		return nil, g.classifyTransportError(ctx, resp, err)
	}

	var rr refundResponse
	if err := g.httpClient.ParseJSONResponse(resp, &rr); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "flatpay", "malformed refund response", err)
	}
	if rr.Result != resultOK {
		return nil, gateway.NewError(gateway.ErrCodeDeclined, "flatpay", "refund refused: "+rr.Reason)
	}

	amount, err := gateway.NewMoney(rr.Amount, rr.Currency)
	if err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "flatpay", "malformed refund amount", err)
	}

	return &gateway.RefundResult{
		RefundID:      rr.RefundID,
		TransactionID: rr.TransactionID,
		Status:        gateway.StatusRefunded,
		Amount:        amount,
		ProcessedAt:   time.Now(),
	}, nil
}

// Void is not offered by FlatPay; uncaptured authorizations expire upstream.
func (g *FlatPayGateway) Void(ctx context.Context, transactionID string) error {
	return gateway.NewError(gateway.ErrCodeInvalidRequest, "flatpay", "void is not supported")
}

type statusResponse struct {
	Result        string `json:"result"`
	TransactionID string `json:"transaction_id"`
	State         string `json:"state"`
}

// GetStatus retrieves the current status of a transaction.
func (g *FlatPayGateway) GetStatus(ctx context.Context, transactionID string) (gateway.Status, error) {
	resp, err := g.httpClient.SendForm(ctx, &gateway.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointStatus,
		Headers:  g.authHeaders(),
		FormData: map[string]string{"transaction_id": transactionID},
	})
	if err != nil {
		return "", g.classifyTransportError(ctx, resp, err)
	}

	var sr statusResponse
	if err := g.httpClient.ParseJSONResponse(resp, &sr); err != nil {
		return "", gateway.WrapError(gateway.ErrCodeUnavailable, "flatpay", "malformed status response", err)
	}

	return mapState(sr.State), nil
}

// ValidateWebhook verifies the base64 HMAC-SHA256 signature FlatPay attaches
// to notifications.
func (g *FlatPayGateway) ValidateWebhook(payload []byte, headers map[string]string) (bool, error) {
	signature := headers[signatureHeader]
	if signature == "" {
		return false, errors.New("flatpay: missing webhook signature header")
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return false, errors.New("flatpay: webhook signature mismatch")
	}

	return true, nil
}

type webhookPayload struct {
	Event         string    `json:"event"`
	TransactionID string    `json:"transaction_id"`
	State         string    `json:"state"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ParseWebhook translates a verified notification to the common event shape.
func (g *FlatPayGateway) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	var wp webhookPayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		return nil, fmt.Errorf("flatpay: malformed webhook payload: %w", err)
	}
	if wp.TransactionID == "" {
		return nil, errors.New("flatpay: webhook payload missing transaction id")
	}

	event := &gateway.WebhookEvent{
		GatewayID:     "flatpay",
		TransactionID: wp.TransactionID,
		Status:        mapState(wp.State),
		OccurredAt:    wp.OccurredAt,
	}

	if wp.Amount != "" {
		amount, err := gateway.NewMoney(wp.Amount, wp.Currency)
		if err == nil {
			event.Amount = &amount
		}
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err == nil {
		event.Raw = raw
	}

	return event, nil
}

// Probe checks connectivity and credentials against the health endpoint.
func (g *FlatPayGateway) Probe(ctx context.Context) error {
	resp, err := g.httpClient.SendForm(ctx, &gateway.HTTPRequest{
		Method:   http.MethodGet,
		Endpoint: endpointHealth,
		Headers:  g.authHeaders(),
	})
	if err != nil {
		return g.classifyTransportError(ctx, resp, err)
	}
	return nil
}

func (g *FlatPayGateway) authHeaders() map[string]string {
	return map[string]string{"X-Api-Key": g.apiKey}
}

func (g *FlatPayGateway) classifyTransportError(ctx context.Context, resp *gateway.HTTPResponse, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return gateway.WrapError(gateway.ErrCodeTimeout, "flatpay", "request deadline exceeded", err)
		}
		return ctx.Err()
	}

	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return gateway.WrapError(gateway.ErrCodeInvalidRequest, "flatpay", fmt.Sprintf("request rejected with status %d", resp.StatusCode), err)
	}

	return gateway.WrapError(gateway.ErrCodeUnavailable, "flatpay", "gateway unreachable", err)
}

func mapState(state string) gateway.Status {
	switch state {
	case "captured", "settled":
		return gateway.StatusCaptured
	case "authorized":
		return gateway.StatusAuthorized
	case "declined":
		return gateway.StatusDeclined
	case "refunded":
		return gateway.StatusRefunded
	default:
		return gateway.StatusPending
	}
}
