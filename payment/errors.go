package payment

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAllGatewaysExhausted signals that every candidate gateway was tried
// and none succeeded. The orchestrator does not retry past this point; a
// caller may re-invoke Process later.
var ErrAllGatewaysExhausted = errors.New("all gateways unavailable")

// ExhaustedError carries the attempt trail of a fully failed payment:
// which gateways were tried, in order, and the last error each produced.
type ExhaustedError struct {
	Attempted []string
	Causes    map[string]error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all gateways unavailable after %d attempts (%s)",
		len(e.Attempted), strings.Join(e.Attempted, ", "))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrAllGatewaysExhausted
}

// CauseFor returns the last error recorded for a gateway, or nil.
func (e *ExhaustedError) CauseFor(gatewayID string) error {
	if e.Causes == nil {
		return nil
	}
	return e.Causes[gatewayID]
}
