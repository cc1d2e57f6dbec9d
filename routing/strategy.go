package routing

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Strategy names a weighting profile applied to gateway scoring.
type Strategy string

const (
	StrategyCostOptimal      Strategy = "cost_optimal"
	StrategyReliabilityFirst Strategy = "reliability_first"
	StrategySpeedOptimal     Strategy = "speed_optimal"
	StrategyVolumeAware      Strategy = "volume_aware"
	StrategyBalanced         Strategy = "balanced"
)

// Weights is the five-way split a strategy applies to the sub-scores.
// A valid profile sums to 1.0 within 1e-9.
type Weights struct {
	Cost         float64 `json:"cost"`
	Reliability  float64 `json:"reliability"`
	Speed        float64 `json:"speed"`
	VolumeFit    float64 `json:"volumeFit"`
	Availability float64 `json:"availability"`
}

// Sum returns the total of the five weights.
func (w Weights) Sum() float64 {
	return w.Cost + w.Reliability + w.Speed + w.VolumeFit + w.Availability
}

// Validate checks the profile sums to 1.0 within tolerance.
func (w Weights) Validate() error {
	if math.Abs(w.Sum()-1.0) > 1e-9 {
		return fmt.Errorf("strategy weights sum to %v, want 1.0", w.Sum())
	}
	return nil
}

var strategyWeights = map[Strategy]Weights{
	StrategyCostOptimal: {
		Cost:         0.50,
		Reliability:  0.20,
		Speed:        0.10,
		VolumeFit:    0.15,
		Availability: 0.05,
	},
	StrategyReliabilityFirst: {
		Cost:         0.10,
		Reliability:  0.50,
		Speed:        0.20,
		VolumeFit:    0.10,
		Availability: 0.10,
	},
	StrategySpeedOptimal: {
		Cost:         0.10,
		Reliability:  0.20,
		Speed:        0.50,
		VolumeFit:    0.10,
		Availability: 0.10,
	},
	StrategyVolumeAware: {
		Cost:         0.25,
		Reliability:  0.20,
		Speed:        0.10,
		VolumeFit:    0.35,
		Availability: 0.10,
	},
	StrategyBalanced: {
		Cost:         0.25,
		Reliability:  0.25,
		Speed:        0.20,
		VolumeFit:    0.15,
		Availability: 0.15,
	},
}

// WeightsFor returns the weight profile of a strategy.
func WeightsFor(s Strategy) (Weights, error) {
	w, ok := strategyWeights[s]
	if !ok {
		return Weights{}, fmt.Errorf("unknown routing strategy '%s'", s)
	}
	return w, nil
}

// Strategies returns all known strategy names, sorted.
func Strategies() []Strategy {
	names := make([]Strategy, 0, len(strategyWeights))
	for s := range strategyWeights {
		names = append(names, s)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ParseStrategy normalizes a strategy name from an API parameter.
// Short aliases are accepted; an empty input returns the fallback.
func ParseStrategy(raw string, fallback Strategy) (Strategy, error) {
	if raw == "" {
		return fallback, nil
	}

	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")

	switch normalized {
	case "cost", "cost_optimal":
		return StrategyCostOptimal, nil
	case "reliability", "reliability_first":
		return StrategyReliabilityFirst, nil
	case "speed", "speed_optimal":
		return StrategySpeedOptimal, nil
	case "volume", "volume_aware":
		return StrategyVolumeAware, nil
	case "balanced":
		return StrategyBalanced, nil
	default:
		return "", fmt.Errorf("unknown routing strategy '%s'", raw)
	}
}
