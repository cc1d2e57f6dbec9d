package gateway

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods a gateway can accept.
const (
	MethodCard         = "card"
	MethodWallet       = "wallet"
	MethodBankTransfer = "bank_transfer"
	MethodCash         = "cash"
)

// FeeSchedule describes a gateway's pricing. Percent values are expressed as
// percentages (1.69 means 1.69%). A non-zero DiscountThreshold marks a tiered
// schedule: once the tenant's trailing monthly volume reaches the threshold,
// DiscountPercent applies and MonthlyFee is apportioned to each transaction
// pro rata to its share of monthly volume.
type FeeSchedule struct {
	Percent           decimal.Decimal `json:"percent"`
	Fixed             decimal.Decimal `json:"fixed"`
	MonthlyFee        decimal.Decimal `json:"monthlyFee"`
	DiscountThreshold decimal.Decimal `json:"discountThreshold"`
	DiscountPercent   decimal.Decimal `json:"discountPercent"`
}

// Tiered reports whether the schedule has a volume discount tier.
func (f FeeSchedule) Tiered() bool {
	return f.DiscountThreshold.IsPositive()
}

// Free reports whether the schedule charges nothing at all.
func (f FeeSchedule) Free() bool {
	return f.Percent.IsZero() && f.Fixed.IsZero() && f.MonthlyFee.IsZero()
}

// FeeFor computes the fee for a single transaction of the given amount under
// the given trailing monthly volume. The result is monotonically
// non-decreasing in amount for a fixed volume.
func (f FeeSchedule) FeeFor(amount, monthlyVolume decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)

	if f.Tiered() && monthlyVolume.GreaterThanOrEqual(f.DiscountThreshold) {
		fee := amount.Mul(f.DiscountPercent).Div(hundred).Add(f.Fixed)
		if f.MonthlyFee.IsPositive() && monthlyVolume.IsPositive() {
			fee = fee.Add(f.MonthlyFee.Mul(amount).Div(monthlyVolume))
		}
		return fee
	}

	return amount.Mul(f.Percent).Div(hundred).Add(f.Fixed)
}

// Capabilities declares what a gateway supports and its published
// characteristics. Baseline figures are the gateway's declared numbers;
// observed performance comes from the feed, not from here.
type Capabilities struct {
	Currencies          []string      `json:"currencies"`
	Methods             []string      `json:"methods"`
	Regions             []string      `json:"regions"`
	MinAmount           Money         `json:"minAmount"`
	MaxAmount           Money         `json:"maxAmount"` // zero amount means no cap
	SupportsRefunds     bool          `json:"supportsRefunds"`
	SupportsVoids       bool          `json:"supportsVoids"`
	SupportsRecurring   bool          `json:"supportsRecurring"`
	SupportsWebhooks    bool          `json:"supportsWebhooks"`
	BaselineReliability float64       `json:"baselineReliability"` // declared success rate, 0..1
	AvgLatency          time.Duration `json:"avgLatency"`
	Fees                FeeSchedule   `json:"fees"`
}

// SupportsCurrency reports whether the given currency code is accepted.
func (c Capabilities) SupportsCurrency(currency string) bool {
	return slices.Contains(c.Currencies, currency)
}

// SupportsMethod reports whether the given payment method is accepted.
func (c Capabilities) SupportsMethod(method string) bool {
	return slices.Contains(c.Methods, method)
}

// CoversRegion reports whether the gateway operates in the given region.
// An empty region on the query side counts as covered, and a gateway that
// declares no regions operates everywhere.
func (c Capabilities) CoversRegion(region string) bool {
	if region == "" || len(c.Regions) == 0 {
		return true
	}
	return slices.Contains(c.Regions, region)
}

// InAmountRange reports whether the amount is within the gateway's
// min/max bounds. Currency mismatches are handled by SupportsCurrency.
func (c Capabilities) InAmountRange(amount Money) bool {
	if c.MinAmount.Amount.IsPositive() && amount.Amount.LessThan(c.MinAmount.Amount) {
		return false
	}
	if c.MaxAmount.Amount.IsPositive() && amount.Amount.GreaterThan(c.MaxAmount.Amount) {
		return false
	}
	return true
}
