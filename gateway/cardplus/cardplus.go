package cardplus

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paymux/paymux/gateway"
	"github.com/shopspring/decimal"
)

const (
	// API URLs
	apiTestURL = "https://test-gateway.cardplus.net"
	apiLiveURL = "https://gateway.cardplus.net"

	// API Endpoints
	endpointAuthorize = "/api/v2/authorize"
	endpointCapture   = "/api/v2/capture"
	endpointRefund    = "/api/v2/refund"
	endpointVoid      = "/api/v2/void"
	endpointInquiry   = "/api/v2/inquiry"
	endpointStatus    = "/api/v2/merchant/status"

	// CardPlus response codes
	codeApproved     = "00"
	codeInsufficient = "51"
	codeDoNotHonor   = "05"
	codeInvalidTxn   = "12"

	signatureHeader = "X-Cardplus-Signature"

	defaultTimeout = 30 * time.Second
)

// Standard card-present-style pricing: 1.4% plus a fixed 0.20 per
// transaction.
var (
	cardPercent = decimal.NewFromFloat(1.4)
	cardFixed   = decimal.NewFromFloat(0.20)
)

// CardPlusGateway implements the gateway.Gateway interface for CardPlus, a
// traditional card acquirer with per-transaction fixed fees and recurring
// billing support.
type CardPlusGateway struct {
	merchantID string
	apiKey     string
	apiSecret  string
	mode       string
	baseURL    string
	client     *http.Client
}

// NewGateway creates a new CardPlus gateway.
func NewGateway() gateway.Gateway {
	return &CardPlusGateway{}
}

// ID returns the registry identifier.
func (g *CardPlusGateway) ID() string {
	return "cardplus"
}

// RequiredConfig returns the credential fields required for CardPlus.
func (g *CardPlusGateway) RequiredConfig(mode string) []gateway.ConfigField {
	return []gateway.ConfigField{
		{
			Key:         "merchantId",
			Required:    true,
			Type:        "string",
			Description: "CardPlus merchant number",
			Example:     "700000012345",
			MinLength:   6,
			MaxLength:   32,
		},
		{
			Key:         "apiKey",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "CardPlus API key",
			Example:     "cp_k_T7wQ9zL4xN1rB6vM2j",
			MinLength:   16,
			MaxLength:   128,
		},
		{
			Key:         "apiSecret",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "CardPlus API secret used for request signing",
			Example:     "cp_s_F3hD8sK5pA9qW0eY7u",
			MinLength:   16,
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

// ValidateConfig validates credentials against CardPlus requirements.
func (g *CardPlusGateway) ValidateConfig(config map[string]string) error {
	return gateway.ValidateConfigFields("cardplus", config, g.RequiredConfig(config["mode"]))
}

// Initialize sets up the gateway with tenant credentials.
func (g *CardPlusGateway) Initialize(conf map[string]string) error {
	g.merchantID = conf["merchantId"]
	g.apiKey = conf["apiKey"]
	g.apiSecret = conf["apiSecret"]

	if g.merchantID == "" || g.apiKey == "" || g.apiSecret == "" {
		return errors.New("cardplus: merchantId, apiKey and apiSecret are required")
	}

	g.mode = conf["mode"]
	if g.mode == "" {
		g.mode = gateway.ModeTest
	}

	g.baseURL = apiTestURL
	if g.mode == gateway.ModeLive {
		g.baseURL = apiLiveURL
	}

	g.client = &http.Client{
		Timeout: defaultTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: g.mode != gateway.ModeLive},
		},
	}

	return nil
}

// Capabilities returns CardPlus's declared capabilities.
func (g *CardPlusGateway) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{
		Currencies:          []string{"GBP", "EUR", "USD", "CAD", "AUD", "JPY", "CHF", "SEK", "NOK", "DKK"},
		Methods:             []string{gateway.MethodCard, gateway.MethodBankTransfer},
		Regions:             []string{"UK", "EU", "US", "CA", "AU", "JP"},
		MinAmount:           gateway.MoneyFromDecimal(decimal.RequireFromString("1.00"), "GBP"),
		MaxAmount:           gateway.MoneyFromDecimal(decimal.NewFromInt(50000), "GBP"),
		SupportsRefunds:     true,
		SupportsVoids:       true,
		SupportsRecurring:   true,
		SupportsWebhooks:    true,
		BaselineReliability: 0.98,
		AvgLatency:          2600 * time.Millisecond,
		Fees: gateway.FeeSchedule{
			Percent: cardPercent,
			Fixed:   cardFixed,
		},
	}
}

// CalculateFee computes the CardPlus fee for the amount.
func (g *CardPlusGateway) CalculateFee(amount gateway.Money, monthlyVolume decimal.Decimal) (gateway.Money, error) {
	if err := amount.Validate(); err != nil {
		return gateway.Money{}, err
	}
	fee := g.Capabilities().Fees.FeeFor(amount.Amount, monthlyVolume)
	return gateway.MoneyFromDecimal(fee, amount.Currency), nil
}

type apiResponse struct {
	ResponseCode  string `json:"responseCode"`
	ResponseText  string `json:"responseText"`
	TransactionID string `json:"transactionId"`
	RefundID      string `json:"refundId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Fee           string `json:"fee"`
	AuthCode      string `json:"authCode"`
	TxnState      string `json:"txnState"`
}

// Charge authorizes and optionally captures a payment.
func (g *CardPlusGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if err := req.Amount.Validate(); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeInvalidRequest, "cardplus", "invalid amount", err)
	}
	if req.Method == gateway.MethodCard && req.Card == nil {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "cardplus", "card details are required for card payments")
	}

	payload := map[string]any{
		"merchantId":  g.merchantID,
		"amount":      req.Amount.Amount.StringFixed(2),
		"currency":    req.Amount.Currency,
		"capture":     req.Capture,
		"reference":   req.Reference,
		"description": req.Description,
	}
	if req.IdempotencyKey != "" {
		payload["idempotencyKey"] = req.IdempotencyKey
	}
	if req.Card != nil {
		payload["card"] = map[string]string{
			"holderName":  req.Card.HolderName,
			"number":      req.Card.Number,
			"expireMonth": req.Card.ExpireMonth,
			"expireYear":  req.Card.ExpireYear,
			"cvv":         req.Card.CVV,
		}
	}

	var resp apiResponse
	if err := g.send(ctx, endpointAuthorize, payload, &resp); err != nil {
		return nil, err
	}

	switch resp.ResponseCode {
	case codeApproved:
	case codeInsufficient, codeDoNotHonor:
		return nil, gateway.NewError(gateway.ErrCodeDeclined, "cardplus", resp.ResponseText)
	case codeInvalidTxn:
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "cardplus", resp.ResponseText)
	default:
		return nil, gateway.NewError(gateway.ErrCodeDeclined, "cardplus", fmt.Sprintf("response code %s: %s", resp.ResponseCode, resp.ResponseText))
	}

	return g.toChargeResult(resp, req.Capture)
}

// Capture settles a previously authorized transaction.
func (g *CardPlusGateway) Capture(ctx context.Context, transactionID string, amount *gateway.Money) (*gateway.ChargeResult, error) {
	payload := map[string]any{
		"merchantId":    g.merchantID,
		"transactionId": transactionID,
	}
	if amount != nil {
		payload["amount"] = amount.Amount.StringFixed(2)
		payload["currency"] = amount.Currency
	}

	var resp apiResponse
	if err := g.send(ctx, endpointCapture, payload, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != codeApproved {
		return nil, gateway.NewError(gateway.ErrCodeDeclined, "cardplus", "capture refused: "+resp.ResponseText)
	}

	return g.toChargeResult(resp, true)
}

// Refund returns funds for a captured transaction.
func (g *CardPlusGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if req.TransactionID == "" {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "cardplus", "transactionId is required")
	}

	payload := map[string]any{
		"merchantId":    g.merchantID,
		"transactionId": req.TransactionID,
	}
	if req.Amount != nil {
		payload["amount"] = req.Amount.Amount.StringFixed(2)
		payload["currency"] = req.Amount.Currency
	}
	if req.Reason != "" {
		payload["reason"] = req.Reason
	}
	if req.IdempotencyKey != "" {
		payload["idempotencyKey"] = req.IdempotencyKey
	}

	var resp apiResponse
	if err := g.send(ctx, endpointRefund, payload, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != codeApproved {
		return nil, gateway.NewError(gateway.ErrCodeDeclined, "cardplus", "refund refused: "+resp.ResponseText)
	}

	amount, err := gateway.NewMoney(resp.Amount, resp.Currency)
	if err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "cardplus", "malformed refund amount", err)
	}

	return &gateway.RefundResult{
		RefundID:      resp.RefundID,
		TransactionID: req.TransactionID,
		Status:        gateway.StatusRefunded,
		Amount:        amount,
		ProcessedAt:   time.Now(),
	}, nil
}

// Void cancels an authorized but uncaptured transaction.
func (g *CardPlusGateway) Void(ctx context.Context, transactionID string) error {
	payload := map[string]any{
		"merchantId":    g.merchantID,
		"transactionId": transactionID,
	}

	var resp apiResponse
	if err := g.send(ctx, endpointVoid, payload, &resp); err != nil {
		return err
	}
	if resp.ResponseCode != codeApproved {
		return gateway.NewError(gateway.ErrCodeDeclined, "cardplus", "void refused: "+resp.ResponseText)
	}

	return nil
}

// GetStatus retrieves the current status of a transaction.
func (g *CardPlusGateway) GetStatus(ctx context.Context, transactionID string) (gateway.Status, error) {
	payload := map[string]any{
		"merchantId":    g.merchantID,
		"transactionId": transactionID,
	}

	var resp apiResponse
	if err := g.send(ctx, endpointInquiry, payload, &resp); err != nil {
		return "", err
	}

	return mapTxnState(resp.TxnState), nil
}

// ValidateWebhook verifies the base64 HMAC-SHA256 signature CardPlus attaches
// to notifications.
func (g *CardPlusGateway) ValidateWebhook(payload []byte, headers map[string]string) (bool, error) {
	signature := headers[signatureHeader]
	if signature == "" {
		return false, errors.New("cardplus: missing webhook signature header")
	}

	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return false, errors.New("cardplus: webhook signature mismatch")
	}

	return true, nil
}

type webhookPayload struct {
	EventType     string    `json:"eventType"`
	TransactionID string    `json:"transactionId"`
	TxnState      string    `json:"txnState"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// ParseWebhook translates a verified notification to the common event shape.
func (g *CardPlusGateway) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	var wp webhookPayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		return nil, fmt.Errorf("cardplus: malformed webhook payload: %w", err)
	}
	if wp.TransactionID == "" {
		return nil, errors.New("cardplus: webhook payload missing transaction id")
	}

	event := &gateway.WebhookEvent{
		GatewayID:     "cardplus",
		TransactionID: wp.TransactionID,
		Status:        mapTxnState(wp.TxnState),
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

// Probe checks connectivity and credentials against the merchant status
// endpoint.
func (g *CardPlusGateway) Probe(ctx context.Context) error {
	var resp apiResponse
	return g.send(ctx, endpointStatus, map[string]any{"merchantId": g.merchantID}, &resp)
}

// send signs and posts a JSON payload, decoding the JSON response into out.
func (g *CardPlusGateway) send(ctx context.Context, endpoint string, payload map[string]any, out *apiResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return gateway.WrapError(gateway.ErrCodeInvalidRequest, "cardplus", "failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return gateway.WrapError(gateway.ErrCodeInvalidRequest, "cardplus", "failed to build request", err)
	}

	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write(body)

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", g.apiKey)
	httpReq.Header.Set(signatureHeader, base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return gateway.WrapError(gateway.ErrCodeTimeout, "cardplus", "request deadline exceeded", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return gateway.WrapError(gateway.ErrCodeUnavailable, "cardplus", "gateway unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.WrapError(gateway.ErrCodeUnavailable, "cardplus", "failed to read response", err)
	}

	if resp.StatusCode >= 500 {
		return gateway.NewError(gateway.ErrCodeUnavailable, "cardplus", fmt.Sprintf("gateway error %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return gateway.NewError(gateway.ErrCodeInvalidRequest, "cardplus", fmt.Sprintf("request rejected with status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return gateway.WrapError(gateway.ErrCodeUnavailable, "cardplus", "malformed response", err)
	}

	return nil
}

func (g *CardPlusGateway) toChargeResult(resp apiResponse, captured bool) (*gateway.ChargeResult, error) {
	amount, err := gateway.NewMoney(resp.Amount, resp.Currency)
	if err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeUnavailable, "cardplus", "malformed charge amount", err)
	}

	fee := gateway.ZeroMoney(resp.Currency)
	if resp.Fee != "" {
		if parsed, err := gateway.NewMoney(resp.Fee, resp.Currency); err == nil {
			fee = parsed
		}
	}

	status := gateway.StatusAuthorized
	if captured {
		status = gateway.StatusCaptured
	}

	return &gateway.ChargeResult{
		TransactionID: resp.TransactionID,
		Status:        status,
		Amount:        amount,
		Fee:           fee,
		AuthCode:      resp.AuthCode,
		ProcessedAt:   time.Now(),
		Raw:           resp,
	}, nil
}

func mapTxnState(state string) gateway.Status {
	switch state {
	case "CAPTURED", "SETTLED":
		return gateway.StatusCaptured
	case "AUTHORIZED":
		return gateway.StatusAuthorized
	case "DECLINED":
		return gateway.StatusDeclined
	case "REFUNDED":
		return gateway.StatusRefunded
	case "VOIDED":
		return gateway.StatusVoided
	default:
		return gateway.StatusPending
	}
}
