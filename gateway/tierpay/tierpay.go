package tierpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	apiTestURL = "https://sandbox.tierpay.io"
	apiLiveURL = "https://api.tierpay.io"

	// API Endpoints
	endpointCharges = "/v1/charges"
	endpointRefunds = "/v1/refunds"
	endpointPing    = "/v1/ping"

	// TierPay transaction states
	stateSucceeded  = "succeeded"
	stateAuthorized = "authorized"
	stateDeclined   = "declined"
	stateRefunded   = "refunded"
	stateVoided     = "voided"

	// Signature header for webhook verification
	signatureHeader = "X-Tierpay-Signature"

	defaultTimeout = 30 * time.Second
)

// Pricing: 2.5% on the standard tier. Tenants whose trailing monthly volume
// reaches the discount threshold move to 0.99% plus a monthly platform fee.
var (
	standardPercent   = decimal.NewFromFloat(2.5)
	discountPercent   = decimal.NewFromFloat(0.99)
	monthlyFee        = decimal.NewFromFloat(19.99)
	discountThreshold = decimal.NewFromInt(2714)
)

// TierPayGateway implements the gateway.Gateway interface for TierPay, a
// card acquirer with volume-tiered pricing.
type TierPayGateway struct {
	merchantID string
	apiKey     string
	secretKey  string
	mode       string
	httpClient *gateway.HTTPClient
}

// NewGateway creates a new TierPay gateway.
func NewGateway() gateway.Gateway {
	return &TierPayGateway{}
}

// ID returns the registry identifier.
func (g *TierPayGateway) ID() string {
	return "tierpay"
}

// RequiredConfig returns the credential fields required for TierPay.
func (g *TierPayGateway) RequiredConfig(mode string) []gateway.ConfigField {
	return []gateway.ConfigField{
		{
			Key:         "merchantId",
			Required:    true,
			Type:        "string",
			Description: "TierPay merchant identifier",
			Example:     "mch_8Fq2p1Xk93",
			MinLength:   8,
			MaxLength:   64,
		},
		{
			Key:         "apiKey",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "TierPay API key (merchant dashboard, Developers tab)",
			Example:     "tp_test_4fJx92kQpL37bNcR81mZ",
			MinLength:   20,
			MaxLength:   128,
		},
		{
			Key:         "secretKey",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "TierPay signing secret for requests and webhooks",
			Example:     "whsec_Zm9vYmFyYmF6cXV4MTIzNA",
			MinLength:   20,
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

// ValidateConfig validates credentials against TierPay requirements.
func (g *TierPayGateway) ValidateConfig(config map[string]string) error {
	return gateway.ValidateConfigFields("tierpay", config, g.RequiredConfig(config["mode"]))
}

// Initialize sets up the gateway with tenant credentials.
func (g *TierPayGateway) Initialize(conf map[string]string) error {
	g.merchantID = conf["merchantId"]
	g.apiKey = conf["apiKey"]
	g.secretKey = conf["secretKey"]

	if g.merchantID == "" || g.apiKey == "" || g.secretKey == "" {
		return errors.New("tierpay: merchantId, apiKey and secretKey are required")
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

// Capabilities returns TierPay's declared capabilities.
func (g *TierPayGateway) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{
		Currencies:          []string{"GBP", "EUR", "USD"},
		Methods:             []string{gateway.MethodCard},
		Regions:             []string{"UK", "EU", "US"},
		MinAmount:           gateway.MoneyFromDecimal(decimal.RequireFromString("0.50"), "GBP"),
		SupportsRefunds:     true,
		SupportsVoids:       true,
		SupportsWebhooks:    true,
		BaselineReliability: 0.92,
		AvgLatency:          1800 * time.Millisecond,
		Fees: gateway.FeeSchedule{
			Percent:           standardPercent,
			MonthlyFee:        monthlyFee,
			DiscountThreshold: discountThreshold,
			DiscountPercent:   discountPercent,
		},
	}
}

// CalculateFee computes the TierPay fee for the amount at the given trailing
// monthly volume.
func (g *TierPayGateway) CalculateFee(amount gateway.Money, monthlyVolume decimal.Decimal) (gateway.Money, error) {
	if err := amount.Validate(); err != nil {
		return gateway.Money{}, err
	}
	fee := g.Capabilities().Fees.FeeFor(amount.Amount, monthlyVolume)
	return gateway.MoneyFromDecimal(fee, amount.Currency), nil
}

type chargePayload struct {
	MerchantID  string            `json:"merchant_id"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Capture     bool              `json:"capture"`
	Reference   string            `json:"reference,omitempty"`
	Description string            `json:"description,omitempty"`
	Card        *cardPayload      `json:"card,omitempty"`
	Customer    customerPayload   `json:"customer"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type cardPayload struct {
	HolderName  string `json:"holder_name"`
	Number      string `json:"number"`
	ExpireMonth string `json:"expire_month"`
	ExpireYear  string `json:"expire_year"`
	CVV         string `json:"cvv"`
}

type customerPayload struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type chargeResponse struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Fee      string `json:"fee"`
	AuthCode string `json:"auth_code"`
	Declined struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"declined"`
}

// Charge authorizes and optionally captures a payment.
func (g *TierPayGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if err := req.Amount.Validate(); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeInvalidRequest, "tierpay", "invalid amount", err)
	}
	if req.Card == nil {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "tierpay", "card details are required")
	}

	payload := chargePayload{
		MerchantID:  g.merchantID,
		Amount:      req.Amount.Amount.StringFixed(2),
		Currency:    req.Amount.Currency,
		Capture:     req.Capture,
		Reference:   req.Reference,
		Description: req.Description,
		Customer:    customerPayload{ID: req.Customer.ID, Name: req.Customer.Name, Email: req.Customer.Email},
		Card: &cardPayload{
			HolderName:  req.Card.HolderName,
			Number:      req.Card.Number,
			ExpireMonth: req.Card.ExpireMonth,
			ExpireYear:  req.Card.ExpireYear,
			CVV:         req.Card.CVV,
		},
		Metadata: req.Metadata,
	}

	headers := g.authHeaders()
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}

	resp, err := g.httpClient.SendJSON(ctx, &gateway.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointCharges,
		Headers:  headers,
		Body:     payload,
	})
	if err != nil {
		return nil, g.classifyTransportError(ctx, resp, err)
	}

	var cr chargeResponse
	if err := g.httpClient.ParseJSONResponse(resp, &cr); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "tierpay", "malformed charge response", err)
	}

	return g.toChargeResult(cr)
}

// Capture settles a previously authorized transaction.
func (g *TierPayGateway) Capture(ctx context.Context, transactionID string, amount *gateway.Money) (*gateway.ChargeResult, error) {
	body := map[string]string{}
	if amount != nil {
		body["amount"] = amount.Amount.StringFixed(2)
		body["currency"] = amount.Currency
	}

	resp, err := g.httpClient.SendJSON(ctx, &gateway.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf("%s/%s/capture", endpointCharges, transactionID),
		Headers:  g.authHeaders(),
		Body:     body,
	})
	if err != nil {
		return nil, g.classifyTransportError(ctx, resp, err)
	}

	var cr chargeResponse
	if err := g.httpClient.ParseJSONResponse(resp, &cr); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "tierpay", "malformed capture response", err)
	}

	return g.toChargeResult(cr)
}

type refundResponse struct {
	ID       string `json:"id"`
	ChargeID string `json:"charge_id"`
	State    string `json:"state"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Refund returns funds for a captured transaction.
func (g *TierPayGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if req.TransactionID == "" {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "tierpay", "transactionId is required")
	}

	body := map[string]string{"charge_id": req.TransactionID}
	if req.Amount != nil {
		body["amount"] = req.Amount.Amount.StringFixed(2)
		body["currency"] = req.Amount.Currency
	}
	if req.Reason != "" {
		body["reason"] = req.Reason
	}

	headers := g.authHeaders()
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}

	resp, err := g.httpClient.SendJSON(ctx, &gateway.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointRefunds,
		Headers:  headers,
		Body:     body,
	})
	if err != nil {
		return nil, g.classifyTransportError(ctx, resp, err)
	}

	var rr refundResponse
	if err := g.httpClient.ParseJSONResponse(resp, &rr); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "tierpay", "malformed refund response", err)
	}

	amount, err := gateway.NewMoney(rr.Amount, rr.Currency)
	if err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "tierpay", "malformed refund amount", err)
	}

	return &gateway.RefundResult{
		RefundID:      rr.ID,
		TransactionID: rr.ChargeID,
		Status:        gateway.StatusRefunded,
		Amount:        amount,
		ProcessedAt:   time.Now(),
	}, nil
}

// Void cancels an authorized but uncaptured transaction.
func (g *TierPayGateway) Void(ctx context.Context, transactionID string) error {
	resp, err := g.httpClient.SendJSON(ctx, &gateway.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf("%s/%s/void", endpointCharges, transactionID),
		Headers:  g.authHeaders(),
	})
	if err != nil {
		return g.classifyTransportError(ctx, resp, err)
	}
	return nil
}

// GetStatus retrieves the current status of a transaction.
func (g *TierPayGateway) GetStatus(ctx context.Context, transactionID string) (gateway.Status, error) {
	resp, err := g.httpClient.SendJSON(ctx, &gateway.HTTPRequest{
		Method:   http.MethodGet,
		Endpoint: fmt.Sprintf("%s/%s", endpointCharges, transactionID),
		Headers:  g.authHeaders(),
	})
	if err != nil {
		return "", g.classifyTransportError(ctx, resp, err)
	}

	var cr chargeResponse
	if err := g.httpClient.ParseJSONResponse(resp, &cr); err != nil {
		return "", gateway.WrapError(gateway.ErrCodeUnavailable, "tierpay", "malformed status response", err)
	}

	return mapState(cr.State), nil
}

// ValidateWebhook verifies the HMAC-SHA256 signature TierPay attaches to
// notifications.
func (g *TierPayGateway) ValidateWebhook(payload []byte, headers map[string]string) (bool, error) {
	signature := headers[signatureHeader]
	if signature == "" {
		return false, errors.New("tierpay: missing webhook signature header")
	}

	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return false, errors.New("tierpay: webhook signature mismatch")
	}

	return true, nil
}

type webhookPayload struct {
	EventType string `json:"event_type"`
	Charge    struct {
		ID       string `json:"id"`
		State    string `json:"state"`
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"charge"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ParseWebhook translates a verified notification to the common event shape.
func (g *TierPayGateway) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	var wp webhookPayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		return nil, fmt.Errorf("tierpay: malformed webhook payload: %w", err)
	}
	if wp.Charge.ID == "" {
		return nil, errors.New("tierpay: webhook payload missing charge id")
	}

	event := &gateway.WebhookEvent{
		GatewayID:     "tierpay",
		TransactionID: wp.Charge.ID,
		Status:        mapState(wp.Charge.State),
		OccurredAt:    wp.OccurredAt,
	}

	if wp.Charge.Amount != "" {
		amount, err := gateway.NewMoney(wp.Charge.Amount, wp.Charge.Currency)
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

// Probe checks connectivity and credentials against the ping endpoint.
func (g *TierPayGateway) Probe(ctx context.Context) error {
	resp, err := g.httpClient.SendJSON(ctx, &gateway.HTTPRequest{
		Method:   http.MethodGet,
		Endpoint: endpointPing,
		Headers:  g.authHeaders(),
	})
	if err != nil {
		return g.classifyTransportError(ctx, resp, err)
	}
	return nil
}

func (g *TierPayGateway) authHeaders() map[string]string {
	return map[string]string{
		"Authorization":      "Bearer " + g.apiKey,
		"X-Tierpay-Merchant": g.merchantID,
	}
}

func (g *TierPayGateway) toChargeResult(cr chargeResponse) (*gateway.ChargeResult, error) {
	status := mapState(cr.State)
	if status == gateway.StatusDeclined {
		msg := cr.Declined.Message
		if msg == "" {
			msg = "charge declined"
		}
		return nil, gateway.NewError(gateway.ErrCodeDeclined, "tierpay", msg)
	}

	amount, err := gateway.NewMoney(cr.Amount, cr.Currency)
	if err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "tierpay", "malformed charge amount", err)
	}

	fee := gateway.ZeroMoney(cr.Currency)
	if cr.Fee != "" {
		if parsed, err := gateway.NewMoney(cr.Fee, cr.Currency); err == nil {
			fee = parsed
		}
	}

	return &gateway.ChargeResult{
		TransactionID: cr.ID,
		Status:        status,
		Amount:        amount,
		Fee:           fee,
		AuthCode:      cr.AuthCode,
		ProcessedAt:   time.Now(),
		Raw:           cr,
	}, nil
}

// classifyTransportError maps transport and HTTP failures to gateway error
// codes. Context cancellation is passed through so callers can distinguish
// a caller abort from a gateway fault.
func (g *TierPayGateway) classifyTransportError(ctx context.Context, resp *gateway.HTTPResponse, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return gateway.WrapError(gateway.ErrCodeTimeout, "tierpay", "request deadline exceeded", err)
		}
		return ctx.Err()
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusPaymentRequired:
			return gateway.WrapError(gateway.ErrCodeDeclined, "tierpay", "charge declined", err)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return gateway.WrapError(gateway.ErrCodeInvalidRequest, "tierpay", fmt.Sprintf("request rejected with status %d", resp.StatusCode), err)
		}
	}

	return gateway.WrapError(gateway.ErrCodeUnavailable, "tierpay", "gateway unreachable", err)
}

func mapState(state string) gateway.Status {
	switch state {
	case stateSucceeded:
		return gateway.StatusCaptured
	case stateAuthorized:
		return gateway.StatusAuthorized
	case stateDeclined:
		return gateway.StatusDeclined
	case stateRefunded:
		return gateway.StatusRefunded
	case stateVoided:
		return gateway.StatusVoided
	default:
		return gateway.StatusPending
	}
}
