package routing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/paymux/paymux/feed"
	"github.com/paymux/paymux/gateway"
)

// Score holds one gateway's five sub-scores and the strategy-weighted
// total. All sub-scores live in [0, 100].
type Score struct {
	GatewayID    string  `json:"gatewayId"`
	Cost         float64 `json:"cost"`
	Reliability  float64 `json:"reliability"`
	Speed        float64 `json:"speed"`
	VolumeFit    float64 `json:"volumeFit"`
	Availability float64 `json:"availability"`
	Total        float64 `json:"total"`
}

// Speed scoring bounds. Declared latency at or under the best case scores
// 100, at or over the worst case scores 0, linear in between.
const (
	bestCaseLatency  = 2 * time.Second
	worstCaseLatency = 10 * time.Second
)

// Volume-fit bands for flat per-transaction pricing. Flat pricing is most
// competitive in the mid-size band where tiered discounts have not kicked
// in yet but per-transaction fixed fees are already diluted.
var (
	flatBandLow  = decimal.NewFromInt(1_000)
	flatBandHigh = decimal.NewFromInt(50_000)
)

const (
	flatScoreBelowBand = 60.0
	flatScoreInBand    = 90.0
	flatScoreAboveBand = 40.0
	freeModelScore     = 50.0
	uncoveredRegion    = 40.0
)

// scoreCost maps the effective fee ratio to [0, 100]. A fee of 2% of the
// amount already zeroes the score.
func scoreCost(fee gateway.Money, amount gateway.Money) float64 {
	if !amount.Amount.IsPositive() {
		return 0
	}

	feeRatio := fee.Amount.Div(amount.Amount).Mul(decimal.NewFromInt(100)).InexactFloat64()
	penalty := feeRatio * 50
	if penalty > 100 {
		penalty = 100
	}
	if penalty < 0 {
		penalty = 0
	}
	return 100 - penalty
}

// scoreReliability blends the declared baseline with observed success
// rate, 30/70 toward observation when a snapshot exists.
func scoreReliability(baseline float64, snap *feed.Snapshot) float64 {
	base := clampScore(baseline * 100)
	if snap == nil || !snap.HasData() {
		return base
	}

	observed := clampScore(snap.SuccessRate() * 100)
	return 0.3*base + 0.7*observed
}

// scoreSpeed interpolates declared average latency between the bounds.
func scoreSpeed(latency time.Duration) float64 {
	if latency <= bestCaseLatency {
		return 100
	}
	if latency >= worstCaseLatency {
		return 0
	}

	window := float64(worstCaseLatency - bestCaseLatency)
	return float64(worstCaseLatency-latency) / window * 100
}

// scoreVolumeFit rates how well the gateway's pricing model matches the
// tenant's trailing monthly volume.
func scoreVolumeFit(fees gateway.FeeSchedule, monthlyVolume decimal.Decimal) float64 {
	switch {
	case fees.Free():
		// No fees to optimize for either way.
		return freeModelScore

	case fees.Tiered():
		// Approaches 100 as volume approaches the discount threshold,
		// stays there once past it.
		ratio := monthlyVolume.Div(fees.DiscountThreshold).Mul(decimal.NewFromInt(100)).InexactFloat64()
		return clampScore(ratio)

	default:
		if monthlyVolume.LessThan(flatBandLow) {
			return flatScoreBelowBand
		}
		if monthlyVolume.GreaterThan(flatBandHigh) {
			return flatScoreAboveBand
		}
		return flatScoreInBand
	}
}

// scoreAvailability rates regional coverage. Uncovered regions are not
// filtered out, only penalized, so a tenant in an unlisted region can
// still route somewhere.
func scoreAvailability(caps gateway.Capabilities, region string) float64 {
	if caps.CoversRegion(region) {
		return 100
	}
	return uncoveredRegion
}

// weightedTotal combines the five sub-scores under a strategy profile.
func weightedTotal(s Score, w Weights) float64 {
	return w.Cost*s.Cost +
		w.Reliability*s.Reliability +
		w.Speed*s.Speed +
		w.VolumeFit*s.VolumeFit +
		w.Availability*s.Availability
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
