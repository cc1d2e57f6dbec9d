package flatpay

import "github.com/paymux/paymux/gateway"

// Register FlatPay with the gateway registry
func init() {
	gateway.Register("flatpay", NewGateway)
}
