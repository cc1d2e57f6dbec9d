// Package feed maintains the performance data the routing engine scores
// gateways with: observed success rates and latencies aggregated from the
// attempt audit index, and rolling monthly processing volume per tenant.
package feed

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is one gateway's observed performance over the feed window.
// A snapshot with zero attempts carries no signal; the routing engine
// treats it the same as no snapshot at all.
type Snapshot struct {
	GatewayID   string          `json:"gatewayId"`
	WindowDays  int             `json:"windowDays"`
	Attempts    int64           `json:"attempts"`
	Successes   int64           `json:"successes"`
	AvgLatency  time.Duration   `json:"avgLatency"`
	TotalVolume decimal.Decimal `json:"totalVolume"`
	ObservedAt  time.Time       `json:"observedAt"`
}

// SuccessRate returns the observed success ratio in [0, 1].
func (s Snapshot) SuccessRate() float64 {
	if s.Attempts <= 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// HasData reports whether the snapshot carries a usable signal.
func (s Snapshot) HasData() bool {
	return s.Attempts > 0
}

// Age returns how old the snapshot is.
func (s Snapshot) Age() time.Duration {
	return time.Since(s.ObservedAt)
}
