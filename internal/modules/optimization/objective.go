package optimization

import (
	"fmt"
	"strings"
)

// Objective selects what the optimizer minimizes.
type Objective string

const (
	// ObjectiveRisk minimizes portfolio volatility.
	ObjectiveRisk Objective = "risk"
	// ObjectiveReturn minimizes volatility subject to a target return.
	ObjectiveReturn Objective = "return"
	// ObjectiveLiquidity minimizes volatility of the liquidity-penalized covariance.
	ObjectiveLiquidity Objective = "liquidity"
)

// Objectives lists every supported objective.
func Objectives() []Objective {
	return []Objective{ObjectiveRisk, ObjectiveReturn, ObjectiveLiquidity}
}

// Valid reports whether o is a supported objective.
func (o Objective) Valid() bool {
	switch o {
	case ObjectiveRisk, ObjectiveReturn, ObjectiveLiquidity:
		return true
	}
	return false
}

// ParseObjective converts a caller-supplied name into an Objective.
func ParseObjective(s string) (Objective, error) {
	o := Objective(strings.ToLower(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", fmt.Errorf("%w: unknown objective %q (use risk, return or liquidity)", ErrUnsupportedOption, s)
	}
	return o, nil
}

// LiquidityMetric names a per-instrument liquidity measure.
type LiquidityMetric string

const (
	MetricAverageTradingVolume LiquidityMetric = "Average Trading Volume"
	MetricTurnoverRatio        LiquidityMetric = "Turnover Ratio"
	MetricBidAskSpread         LiquidityMetric = "Bid-Ask Spread"
	MetricTimeToSale           LiquidityMetric = "Time to Sale"
)

// DefaultLiquidityMetric is used when the caller does not choose one.
const DefaultLiquidityMetric = MetricAverageTradingVolume

// LiquidityMetrics lists every supported liquidity metric.
func LiquidityMetrics() []LiquidityMetric {
	return []LiquidityMetric{
		MetricAverageTradingVolume,
		MetricTurnoverRatio,
		MetricBidAskSpread,
		MetricTimeToSale,
	}
}

// Valid reports whether m is a supported liquidity metric.
func (m LiquidityMetric) Valid() bool {
	_, ok := liquidityPenalties[m]
	return ok
}

// ParseLiquidityMetric accepts the display name of a metric, case-insensitively.
// An empty string yields DefaultLiquidityMetric.
func ParseLiquidityMetric(s string) (LiquidityMetric, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultLiquidityMetric, nil
	}
	for _, m := range LiquidityMetrics() {
		if strings.EqualFold(string(m), s) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown liquidity metric %q", ErrUnsupportedOption, s)
}
