package payment

import (
	"context"
	"errors"
	"time"

	"github.com/paymux/paymux/gateway"
)

// Outcome classifies how one gateway attempt ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeDeclined  Outcome = "declined"
	OutcomeError     Outcome = "error"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Attempt is one entry in a payment's audit trail. Attempts are recorded
// in the order they were made and never mutated afterwards.
type Attempt struct {
	GatewayID     string            `json:"gatewayId"`
	Amount        gateway.Money     `json:"amount"`
	Fee           gateway.Money     `json:"fee"`
	Outcome       Outcome           `json:"outcome"`
	ErrorCode     gateway.ErrorCode `json:"errorCode,omitempty"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	TransactionID string            `json:"transactionId,omitempty"`
	WasFallback   bool              `json:"wasFallback"`
	Latency       time.Duration     `json:"latency"`
	At            time.Time         `json:"at"`
}

// outcomeOf classifies an attempt error. Caller cancellation is kept
// apart from gateway timeouts so an abandoned payment is never blamed on
// the gateway.
func outcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// A raw deadline leaking out of a gateway is the attempt timeout.
		return OutcomeTimeout
	}

	switch gateway.CodeOf(err) {
	case gateway.ErrCodeDeclined:
		return OutcomeDeclined
	case gateway.ErrCodeTimeout:
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
