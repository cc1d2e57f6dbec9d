package cash

import "github.com/paymux/paymux/gateway"

// Register the cash gateway with the gateway registry
func init() {
	gateway.Register("cash", NewGateway)
}
