package cardplus

import "github.com/paymux/paymux/gateway"

// Register CardPlus with the gateway registry
func init() {
	gateway.Register("cardplus", NewGateway)
}
