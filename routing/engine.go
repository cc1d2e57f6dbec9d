// Package routing scores a tenant's live gateways against a weighting
// strategy and picks the one a payment should go to first. The engine is
// read-only: it never talks to a gateway, it only ranks them.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paymux/paymux/feed"
	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/infra/logger"
)

// ErrNoEligibleGateway is returned when the capability filter leaves no
// candidate to score. Callers must surface it, never route around it.
var ErrNoEligibleGateway = errors.New("no eligible gateway for request")

// SnapshotSource supplies observed performance per tenant and gateway.
// The feed service is the production implementation.
type SnapshotSource interface {
	Get(tenantID, gatewayID string) (feed.Snapshot, bool)
}

// Query is one routing request.
type Query struct {
	TenantID string
	Amount   gateway.Money
	Method   string
	Region   string
	Strategy Strategy

	// ForcedGateway bypasses scoring entirely when set. The forced gateway
	// only has to be live; capability checks are the caller's problem.
	ForcedGateway string
}

// Alternative is one non-selected candidate and its total score.
type Alternative struct {
	GatewayID string  `json:"gatewayId"`
	Score     float64 `json:"score"`
}

// Decision is the outcome of one routing call.
type Decision struct {
	TenantID        string        `json:"tenantId"`
	Strategy        Strategy      `json:"strategy"`
	SelectedGateway string        `json:"selectedGateway"`
	Confidence      float64       `json:"confidence"`
	Scores          []Score       `json:"scores"`
	Alternatives    []Alternative `json:"alternatives"`
	Reasoning       []string      `json:"reasoning"`
	RiskFactors     []string      `json:"riskFactors,omitempty"`
	Forced          bool          `json:"forced"`
	DecidedAt       time.Time     `json:"decidedAt"`
}

// RankedGateways returns every candidate id in descending score order,
// selected gateway first. This is the orchestrator's fallback order.
func (d *Decision) RankedGateways() []string {
	if d.Forced {
		return []string{d.SelectedGateway}
	}

	ids := make([]string, len(d.Scores))
	for i, s := range d.Scores {
		ids[i] = s.GatewayID
	}
	return ids
}

// Engine ranks live gateways for payment requests.
type Engine struct {
	resolver  *gateway.Resolver
	snapshots SnapshotSource
	volumes   feed.VolumeTracker

	defaultRegion   string
	defaultStrategy Strategy
}

// NewEngine creates a routing engine. snapshots and volumes may be nil;
// the engine then scores on declared baselines and zero volume.
func NewEngine(resolver *gateway.Resolver, snapshots SnapshotSource, volumes feed.VolumeTracker, defaultRegion string, defaultStrategy Strategy) *Engine {
	if defaultStrategy == "" {
		defaultStrategy = StrategyBalanced
	}
	return &Engine{
		resolver:        resolver,
		snapshots:       snapshots,
		volumes:         volumes,
		defaultRegion:   defaultRegion,
		defaultStrategy: defaultStrategy,
	}
}

// Route resolves the tenant's live gateways and ranks them for the query.
func (e *Engine) Route(ctx context.Context, q Query) (*Decision, error) {
	live, err := e.resolver.Resolve(ctx, q.TenantID)
	if err != nil {
		return nil, err
	}
	return e.RouteLiveSet(ctx, q, live)
}

// RouteLiveSet ranks an already-resolved live set. Callers that need the
// live set afterwards, like the payment orchestrator, use this to avoid a
// second resolve.
func (e *Engine) RouteLiveSet(ctx context.Context, q Query, live *gateway.LiveSet) (*Decision, error) {
	if err := q.Amount.Validate(); err != nil {
		return nil, err
	}
	if q.Region == "" {
		q.Region = e.defaultRegion
	}
	if q.Strategy == "" {
		q.Strategy = e.defaultStrategy
	}

	weights, err := WeightsFor(q.Strategy)
	if err != nil {
		return nil, err
	}

	if q.ForcedGateway != "" {
		return e.routeForced(q, live)
	}

	candidates := e.filterEligible(q, live)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: tenant %s, %s %s via %s",
			ErrNoEligibleGateway, q.TenantID, q.Amount.Amount, q.Amount.Currency, q.Method)
	}

	monthlyVolume := e.monthlyVolume(ctx, q)

	scores := make([]Score, 0, len(candidates))
	for _, lg := range candidates {
		scores = append(scores, e.scoreGateway(q, lg, monthlyVolume, weights))
	}

	// Descending by total; ties break on id so the order is deterministic.
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].GatewayID < scores[j].GatewayID
	})

	decision := &Decision{
		TenantID:        q.TenantID,
		Strategy:        q.Strategy,
		SelectedGateway: scores[0].GatewayID,
		Confidence:      confidence(scores),
		Scores:          scores,
		DecidedAt:       time.Now().UTC(),
	}

	for _, s := range scores[1:] {
		decision.Alternatives = append(decision.Alternatives, Alternative{
			GatewayID: s.GatewayID,
			Score:     s.Total,
		})
	}

	decision.Reasoning = buildReasoning(q.Strategy, scores[0])
	decision.RiskFactors = buildRiskFactors(scores[0], decision.Confidence, q.Region)

	return decision, nil
}

// routeForced honors an explicit gateway override. Scoring is skipped;
// the override either is live or the route fails.
func (e *Engine) routeForced(q Query, live *gateway.LiveSet) (*Decision, error) {
	lg, ok := live.Get(q.ForcedGateway)
	if !ok || !lg.Available() {
		return nil, fmt.Errorf("%w: forced gateway '%s' is not live for tenant %s",
			ErrNoEligibleGateway, q.ForcedGateway, q.TenantID)
	}

	return &Decision{
		TenantID:        q.TenantID,
		Strategy:        q.Strategy,
		SelectedGateway: q.ForcedGateway,
		Confidence:      1.0,
		Forced:          true,
		Reasoning:       []string{fmt.Sprintf("gateway %s forced by caller, scoring bypassed", q.ForcedGateway)},
		DecidedAt:       time.Now().UTC(),
	}, nil
}

// filterEligible applies the hard capability filter: currency, method,
// amount range and breaker state. Region is soft and only affects the
// availability score.
func (e *Engine) filterEligible(q Query, live *gateway.LiveSet) []*gateway.LiveGateway {
	eligible := make([]*gateway.LiveGateway, 0, len(live.Gateways))

	for _, lg := range live.Gateways {
		caps := lg.Gateway.Capabilities()

		if !caps.SupportsCurrency(q.Amount.Currency) {
			continue
		}
		if q.Method != "" && !caps.SupportsMethod(q.Method) {
			continue
		}
		if !caps.InAmountRange(q.Amount) {
			continue
		}
		if !lg.Available() {
			// Breaker is open; the gateway is live but not taking traffic.
			continue
		}

		eligible = append(eligible, lg)
	}

	return eligible
}

func (e *Engine) scoreGateway(q Query, lg *gateway.LiveGateway, monthlyVolume decimal.Decimal, weights Weights) Score {
	caps := lg.Gateway.Capabilities()
	id := lg.Gateway.ID()

	score := Score{GatewayID: id}

	fee, err := lg.Gateway.CalculateFee(q.Amount, monthlyVolume)
	if err != nil {
		logger.Warn("fee calculation failed, scoring cost as worst case", logger.LogContext{
			TenantID: q.TenantID,
			Gateway:  id,
			Fields:   map[string]any{"error": err.Error()},
		})
		score.Cost = 0
	} else {
		score.Cost = scoreCost(fee, q.Amount)
	}

	var snap *feed.Snapshot
	if e.snapshots != nil {
		if s, ok := e.snapshots.Get(q.TenantID, id); ok {
			snap = &s
		}
	}

	score.Reliability = scoreReliability(caps.BaselineReliability, snap)
	score.Speed = scoreSpeed(caps.AvgLatency)
	score.VolumeFit = scoreVolumeFit(caps.Fees, monthlyVolume)
	score.Availability = scoreAvailability(caps, q.Region)
	score.Total = weightedTotal(score, weights)

	return score
}

// monthlyVolume reads the tenant's trailing monthly volume. Tracker
// failures degrade to zero volume rather than blocking the route.
func (e *Engine) monthlyVolume(ctx context.Context, q Query) decimal.Decimal {
	if e.volumes == nil {
		return decimal.Zero
	}

	volume, err := e.volumes.MonthlyAverage(ctx, q.TenantID, q.Amount.Currency)
	if err != nil {
		logger.Warn("volume lookup failed, scoring with zero volume", logger.LogContext{
			TenantID: q.TenantID,
			Fields:   map[string]any{"error": err.Error()},
		})
		return decimal.Zero
	}
	return volume
}

// confidence measures how clear the win was. A single candidate is a
// certain choice.
func confidence(scores []Score) float64 {
	if len(scores) == 1 {
		return 1.0
	}

	c := 0.5 + (scores[0].Total-scores[1].Total)/100
	if c > 1.0 {
		c = 1.0
	}
	if c < 0 {
		c = 0
	}
	return c
}

// Reasoning and risk thresholds.
const (
	excellentCost      = 80.0
	strongReliability  = 95.0
	fastSettlement     = 90.0
	goodVolumeFit      = 80.0
	riskReliability    = 80.0
	riskAvailability   = 90.0
	lowConfidenceLimit = 0.7
)

func buildReasoning(strategy Strategy, top Score) []string {
	reasoning := []string{
		fmt.Sprintf("selected %s by %s strategy with total score %.1f", top.GatewayID, strategy, top.Total),
	}

	if top.Cost >= excellentCost {
		reasoning = append(reasoning, "excellent cost efficiency")
	}
	if top.Reliability >= strongReliability {
		reasoning = append(reasoning, "top-tier reliability")
	}
	if top.Speed >= fastSettlement {
		reasoning = append(reasoning, "fast processing")
	}
	if top.VolumeFit >= goodVolumeFit {
		reasoning = append(reasoning, "pricing model fits current volume")
	}

	return reasoning
}

func buildRiskFactors(top Score, conf float64, region string) []string {
	var risks []string

	if top.Reliability < riskReliability {
		risks = append(risks, fmt.Sprintf("reliability score %.1f is below %.0f", top.Reliability, riskReliability))
	}
	if top.Availability < riskAvailability {
		risks = append(risks, fmt.Sprintf("limited coverage for region %s", region))
	}
	if conf < lowConfidenceLimit {
		risks = append(risks, fmt.Sprintf("low confidence %.2f, alternatives score close", conf))
	}

	return risks
}
