// Package cash implements a local gateway for cash and over-the-counter
// payments. There is no upstream processor: charges settle immediately,
// refunds are recorded as handed back, and fees are zero. The gateway keeps
// its own transaction ledger in memory so status lookups and idempotent
// replays behave the same way a remote processor's would.
package cash

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paymux/paymux/gateway"
	"github.com/shopspring/decimal"
)

const maxLedgerEntries = 10_000

// CashGateway implements the gateway.Gateway interface for cash payments.
type CashGateway struct {
	location string

	mu           sync.Mutex
	transactions map[string]*gateway.ChargeResult
	replays      map[string]*gateway.ChargeResult
	replayOrder  []string
	statuses     map[string]gateway.Status
}

// NewGateway creates a new cash gateway.
func NewGateway() gateway.Gateway {
	return &CashGateway{
		transactions: make(map[string]*gateway.ChargeResult),
		replays:      make(map[string]*gateway.ChargeResult),
		statuses:     make(map[string]gateway.Status),
	}
}

// ID returns the registry identifier.
func (g *CashGateway) ID() string {
	return "cash"
}

// RequiredConfig returns the credential fields for the cash gateway. Nothing
// is required; the location field only labels the ledger.
func (g *CashGateway) RequiredConfig(mode string) []gateway.ConfigField {
	return []gateway.ConfigField{
		{
			Key:         "location",
			Required:    false,
			Type:        "string",
			Description: "Label for the till or drawer accepting the cash",
			Example:     "front-desk-1",
			MaxLength:   64,
		},
	}
}

// ValidateConfig validates the provided configuration.
func (g *CashGateway) ValidateConfig(config map[string]string) error {
	return gateway.ValidateConfigFields("cash", config, g.RequiredConfig(config["mode"]))
}

// Initialize sets up the gateway.
func (g *CashGateway) Initialize(conf map[string]string) error {
	g.location = conf["location"]
	return nil
}

// Capabilities returns the cash gateway's declared capabilities. No declared
// regions means it operates everywhere the merchant does.
func (g *CashGateway) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{
		Currencies:          []string{"GBP", "EUR", "USD"},
		Methods:             []string{gateway.MethodCash},
		SupportsRefunds:     true,
		SupportsVoids:       true,
		BaselineReliability: 0.999,
		AvgLatency:          10 * time.Millisecond,
		Fees:                gateway.FeeSchedule{},
	}
}

// CalculateFee always returns zero; cash costs nothing to accept.
func (g *CashGateway) CalculateFee(amount gateway.Money, monthlyVolume decimal.Decimal) (gateway.Money, error) {
	if err := amount.Validate(); err != nil {
		return gateway.Money{}, err
	}
	return gateway.ZeroMoney(amount.Currency), nil
}

// Charge records a cash payment. Replaying an idempotency key returns the
// original result without creating a second transaction.
func (g *CashGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if err := req.Amount.Validate(); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeInvalidRequest, "cash", "invalid amount", err)
	}
	if req.Method != "" && req.Method != gateway.MethodCash {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "cash", "only cash payments are accepted")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if req.IdempotencyKey != "" {
		if prior, ok := g.replays[req.IdempotencyKey]; ok {
			return prior, nil
		}
	}

	status := gateway.StatusAuthorized
	if req.Capture {
		status = gateway.StatusCaptured
	}

	result := &gateway.ChargeResult{
		TransactionID: "cash_" + uuid.New().String(),
		Status:        status,
		Amount:        req.Amount,
		Fee:           gateway.ZeroMoney(req.Amount.Currency),
		ProcessedAt:   time.Now(),
	}

	g.transactions[result.TransactionID] = result
	g.statuses[result.TransactionID] = status

	if req.IdempotencyKey != "" {
		if len(g.replayOrder) >= maxLedgerEntries {
			oldest := g.replayOrder[0]
			g.replayOrder = g.replayOrder[1:]
			delete(g.replays, oldest)
		}
		g.replays[req.IdempotencyKey] = result
		g.replayOrder = append(g.replayOrder, req.IdempotencyKey)
	}

	return result, nil
}

// Capture marks an authorized cash payment as collected.
func (g *CashGateway) Capture(ctx context.Context, transactionID string, amount *gateway.Money) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	txn, ok := g.transactions[transactionID]
	if !ok {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "cash", "unknown transaction "+transactionID)
	}
	if g.statuses[transactionID] != gateway.StatusAuthorized {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "cash", "transaction is not awaiting capture")
	}

	captured := *txn
	captured.Status = gateway.StatusCaptured
	if amount != nil {
		captured.Amount = *amount
	}
	captured.ProcessedAt = time.Now()

	g.transactions[transactionID] = &captured
	g.statuses[transactionID] = gateway.StatusCaptured

	return &captured, nil
}

// Refund records cash handed back to the customer.
func (g *CashGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	txn, ok := g.transactions[req.TransactionID]
	if !ok {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "cash", "unknown transaction "+req.TransactionID)
	}

	amount := txn.Amount
	if req.Amount != nil {
		if req.Amount.Currency != txn.Amount.Currency {
			return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "cash", "refund currency does not match charge")
		}
		if req.Amount.Amount.GreaterThan(txn.Amount.Amount) {
			return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "cash", "refund exceeds charged amount")
		}
		amount = *req.Amount
	}

	g.statuses[req.TransactionID] = gateway.StatusRefunded

	return &gateway.RefundResult{
		RefundID:      "cashrf_" + uuid.New().String(),
		TransactionID: req.TransactionID,
		Status:        gateway.StatusRefunded,
		Amount:        amount,
		ProcessedAt:   time.Now(),
	}, nil
}

// Void cancels an authorized cash payment before collection.
func (g *CashGateway) Void(ctx context.Context, transactionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.transactions[transactionID]; !ok {
		return gateway.NewError(gateway.ErrCodeInvalidRequest, "cash", "unknown transaction "+transactionID)
	}
	if g.statuses[transactionID] == gateway.StatusCaptured {
		return gateway.NewError(gateway.ErrCodeInvalidRequest, "cash", "captured transaction cannot be voided")
	}

	g.statuses[transactionID] = gateway.StatusVoided
	return nil
}

// GetStatus retrieves the status of a recorded transaction.
func (g *CashGateway) GetStatus(ctx context.Context, transactionID string) (gateway.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	status, ok := g.statuses[transactionID]
	if !ok {
		return "", gateway.NewError(gateway.ErrCodeInvalidRequest, "cash", "unknown transaction "+transactionID)
	}

	return status, nil
}

// ValidateWebhook always fails; there is no upstream to notify us.
func (g *CashGateway) ValidateWebhook(payload []byte, headers map[string]string) (bool, error) {
	return false, errors.New("cash: webhooks are not supported")
}

// ParseWebhook always fails; there is no upstream to notify us.
func (g *CashGateway) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	return nil, errors.New("cash: webhooks are not supported")
}

// Probe always succeeds; the ledger is local.
func (g *CashGateway) Probe(ctx context.Context) error {
	return ctx.Err()
}
