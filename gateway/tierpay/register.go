package tierpay

import "github.com/paymux/paymux/gateway"

// Register TierPay with the gateway registry
func init() {
	gateway.Register("tierpay", NewGateway)
}
