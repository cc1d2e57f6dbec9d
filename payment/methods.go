package payment

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/routing"
)

// MethodQuote is one way a tenant can take a payment right now: a live
// gateway, a method it accepts, and what that combination would cost for
// the quoted amount.
type MethodQuote struct {
	GatewayID       string        `json:"gatewayId"`
	Method          string        `json:"method"`
	Fee             gateway.Money `json:"fee"`
	EffectiveRate   float64       `json:"effectiveRate"` // fee as % of amount
	SupportsRefunds bool          `json:"supportsRefunds"`
	SupportsVoids   bool          `json:"supportsVoids"`
	IsRecommended   bool          `json:"isRecommended"`
}

// AvailableMethods quotes every live gateway and method combination that
// could take the given amount, with fees computed at the tenant's current
// monthly volume.
func (o *Orchestrator) AvailableMethods(ctx context.Context, tenantID string, amount gateway.Money) ([]MethodQuote, error) {
	if tenantID == "" {
		return nil, gateway.NewError(gateway.ErrCodeInvalidRequest, "", "tenantID is required")
	}
	if err := amount.Validate(); err != nil {
		return nil, gateway.WrapError(gateway.ErrCodeInvalidRequest, "", "invalid amount", err)
	}

	live, err := o.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	monthlyVolume := decimal.Zero
	if o.volumes != nil {
		if v, err := o.volumes.MonthlyAverage(ctx, tenantID, amount.Currency); err == nil {
			monthlyVolume = v
		}
	}

	var quotes []MethodQuote
	for _, lg := range live.Gateways {
		caps := lg.Gateway.Capabilities()

		if !caps.SupportsCurrency(amount.Currency) || !caps.InAmountRange(amount) {
			continue
		}

		fee, err := lg.Gateway.CalculateFee(amount, monthlyVolume)
		if err != nil {
			continue
		}

		rate := 0.0
		if amount.Amount.IsPositive() {
			rate = fee.Amount.Div(amount.Amount).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}

		for _, method := range caps.Methods {
			quotes = append(quotes, MethodQuote{
				GatewayID:       lg.Gateway.ID(),
				Method:          method,
				Fee:             fee,
				EffectiveRate:   rate,
				SupportsRefunds: caps.SupportsRefunds,
				SupportsVoids:   caps.SupportsVoids,
			})
		}
	}

	// Mark the gateway a balanced route would pick. Best effort; quotes are
	// still useful without a recommendation.
	if o.engine != nil {
		decision, err := o.engine.RouteLiveSet(ctx, routing.Query{
			TenantID: tenantID,
			Amount:   amount,
			Strategy: routing.StrategyBalanced,
		}, live)
		if err == nil {
			for i := range quotes {
				if quotes[i].GatewayID == decision.SelectedGateway {
					quotes[i].IsRecommended = true
				}
			}
		}
	}

	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].GatewayID != quotes[j].GatewayID {
			return quotes[i].GatewayID < quotes[j].GatewayID
		}
		return quotes[i].Method < quotes[j].Method
	})

	return quotes, nil
}
