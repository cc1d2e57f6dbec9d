package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusDeclined   Status = "declined"
	StatusRefunded   Status = "refunded"
	StatusVoided     Status = "voided"
)

// Operating modes a gateway configuration can target.
const (
	ModeTest = "test"
	ModeLive = "live"
)

// ConfigField describes one credential field a gateway requires.
type ConfigField struct {
	Key         string `json:"key"`
	Required    bool   `json:"required"`
	Secret      bool   `json:"secret"`
	Type        string `json:"type"` // "string", "number", "url", "email", "boolean"
	Description string `json:"description"`
	Example     string `json:"example"`
	Pattern     string `json:"pattern,omitempty"`
	MinLength   int    `json:"minLength,omitempty"`
	MaxLength   int    `json:"maxLength,omitempty"`
}

// Customer identifies the paying party.
type Customer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// CardInfo carries card details for card-method charges.
type CardInfo struct {
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpireMonth string `json:"expireMonth"`
	ExpireYear  string `json:"expireYear"`
	CVV         string `json:"cvv"`
}

// ChargeRequest contains everything needed to charge a customer.
type ChargeRequest struct {
	Amount         Money             `json:"amount"`
	Method         string            `json:"method"`
	Region         string            `json:"region,omitempty"`
	Reference      string            `json:"reference,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Customer       Customer          `json:"customer"`
	Card           *CardInfo         `json:"card,omitempty"`
	Capture        bool              `json:"capture"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ChargeResult contains the outcome of a charge or capture.
type ChargeResult struct {
	TransactionID string    `json:"transactionId"`
	Status        Status    `json:"status"`
	Amount        Money     `json:"amount"`
	Fee           Money     `json:"fee"`
	AuthCode      string    `json:"authCode,omitempty"`
	ProcessedAt   time.Time `json:"processedAt"`
	Raw           any       `json:"-"`
}

// RefundRequest asks a gateway to return funds for a prior transaction.
type RefundRequest struct {
	TransactionID  string `json:"transactionId"`
	Amount         *Money `json:"amount,omitempty"` // nil means full refund
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// RefundResult contains the outcome of a refund.
type RefundResult struct {
	RefundID      string    `json:"refundId"`
	TransactionID string    `json:"transactionId"`
	Status        Status    `json:"status"`
	Amount        Money     `json:"amount"`
	ProcessedAt   time.Time `json:"processedAt"`
}

// WebhookEvent is a gateway notification translated to the common shape.
type WebhookEvent struct {
	GatewayID     string         `json:"gatewayId"`
	TransactionID string         `json:"transactionId"`
	Status        Status         `json:"status"`
	Amount        *Money         `json:"amount,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Raw           map[string]any `json:"-"`
}

// Gateway is the interface every payment gateway implements. Implementations
// must be safe for concurrent use after Initialize.
type Gateway interface {
	// ID returns the gateway's registry identifier.
	ID() string

	// Initialize sets up the gateway with decrypted tenant credentials.
	Initialize(config map[string]string) error

	// RequiredConfig returns the credential fields required for the given mode.
	RequiredConfig(mode string) []ConfigField

	// ValidateConfig validates credentials against the gateway's requirements.
	ValidateConfig(config map[string]string) error

	// Charge authorizes (and captures, when requested) a payment. Supplying
	// the same idempotency key twice must not charge the customer twice.
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)

	// Capture settles a previously authorized transaction. A nil amount
	// captures the full authorized amount.
	Capture(ctx context.Context, transactionID string, amount *Money) (*ChargeResult, error)

	// Refund returns funds for a captured transaction.
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// Void cancels an authorized but uncaptured transaction.
	Void(ctx context.Context, transactionID string) error

	// GetStatus retrieves the current status of a transaction.
	GetStatus(ctx context.Context, transactionID string) (Status, error)

	// ValidateWebhook verifies the signature of an incoming notification.
	ValidateWebhook(payload []byte, headers map[string]string) (bool, error)

	// ParseWebhook translates a verified notification to a WebhookEvent.
	ParseWebhook(payload []byte) (*WebhookEvent, error)

	// CalculateFee computes the fee this gateway would charge for the amount
	// at the given trailing monthly volume. Pure; no network calls.
	CalculateFee(amount Money, monthlyVolume decimal.Decimal) (Money, error)

	// Capabilities returns the gateway's declared capabilities.
	Capabilities() Capabilities

	// Probe performs a cheap connectivity and credential check.
	Probe(ctx context.Context) error
}

// Factory creates a new, uninitialized Gateway instance.
type Factory func() Gateway
