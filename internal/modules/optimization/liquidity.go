package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// penaltyFunc maps a liquidity level to the variance added on the diagonal.
type penaltyFunc func(level float64) float64

// liquidityPenalties is the fixed metric -> penalty table. A zero level
// always yields a zero penalty.
var liquidityPenalties = map[LiquidityMetric]penaltyFunc{
	// Higher volume means more liquid, so the penalty is inverse.
	MetricAverageTradingVolume: func(level float64) float64 {
		if level <= 0 {
			return 0
		}
		return 1 / (level + 1e-6)
	},
	MetricTurnoverRatio: func(level float64) float64 { return level },
	MetricBidAskSpread:  func(level float64) float64 { return level * 0.01 },
	MetricTimeToSale:    func(level float64) float64 { return level * 0.1 },
}

func init() {
	for _, m := range LiquidityMetrics() {
		if liquidityPenalties[m] == nil {
			panic(fmt.Sprintf("optimization: no covariance penalty for liquidity metric %q", m))
		}
	}
	if len(liquidityPenalties) != len(LiquidityMetrics()) {
		panic("optimization: liquidity penalty table has unlisted metrics")
	}
}

// LiquidityLevels holds per-instrument values of each computable metric.
// Metrics that cannot be computed from the supplied data are recorded with
// the reason they are unavailable.
type LiquidityLevels struct {
	Instruments []string
	values      map[LiquidityMetric][]float64
	unavailable map[LiquidityMetric]string
}

// Levels returns the per-instrument values of metric, or ErrInsufficientData
// when the metric could not be computed.
func (l *LiquidityLevels) Levels(metric LiquidityMetric) ([]float64, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: unknown liquidity metric %q", ErrUnsupportedOption, metric)
	}
	if reason, ok := l.unavailable[metric]; ok {
		return nil, fmt.Errorf("%w: %s unavailable: %s", ErrInsufficientData, metric, reason)
	}
	return append([]float64(nil), l.values[metric]...), nil
}

// ComputeLiquidityMetrics derives every liquidity metric from volumes and,
// when both are supplied, bid and ask prices:
//
//   - Average Trading Volume: mean volume
//   - Turnover Ratio: total volume / number of observations
//   - Bid-Ask Spread: mean(ask - bid)
//   - Time to Sale: 1 / mean volume
//
// NaN observations are skipped by the means and sums.
func ComputeLiquidityMetrics(volumes, bid, ask *Frame) (*LiquidityLevels, error) {
	if volumes == nil || volumes.Cols() == 0 {
		return nil, fmt.Errorf("%w: no volume data", ErrInsufficientData)
	}
	p := volumes.Cols()
	levels := &LiquidityLevels{
		Instruments: append([]string(nil), volumes.Columns...),
		values:      make(map[LiquidityMetric][]float64, 4),
		unavailable: make(map[LiquidityMetric]string),
	}

	avg := make([]float64, p)
	turnover := make([]float64, p)
	timeToSale := make([]float64, p)
	for j, id := range volumes.Columns {
		sum, count := 0.0, 0
		for _, row := range volumes.Values {
			if !math.IsNaN(row[j]) {
				sum += row[j]
				count++
			}
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: instrument %s has no volume history", ErrInsufficientData, id)
		}
		avg[j] = sum / float64(count)
		turnover[j] = sum / float64(volumes.Rows())
		if avg[j] > 0 {
			timeToSale[j] = 1 / avg[j]
		} else if _, done := levels.unavailable[MetricTimeToSale]; !done {
			levels.unavailable[MetricTimeToSale] = fmt.Sprintf("instrument %s has zero mean volume", id)
		}
	}
	levels.values[MetricAverageTradingVolume] = avg
	levels.values[MetricTurnoverRatio] = turnover
	if _, bad := levels.unavailable[MetricTimeToSale]; !bad {
		levels.values[MetricTimeToSale] = timeToSale
	}

	switch {
	case bid == nil || ask == nil:
		levels.unavailable[MetricBidAskSpread] = "no bid/ask data source"
	default:
		spread, err := meanSpread(volumes.Columns, bid, ask)
		if err != nil {
			return nil, err
		}
		levels.values[MetricBidAskSpread] = spread
	}

	return levels, nil
}

func meanSpread(columns []string, bid, ask *Frame) ([]float64, error) {
	b, err := bid.Select(columns)
	if err != nil {
		return nil, fmt.Errorf("bid prices: %w", err)
	}
	a, err := ask.Select(columns)
	if err != nil {
		return nil, fmt.Errorf("ask prices: %w", err)
	}
	if a.Rows() != b.Rows() {
		return nil, fmt.Errorf("%w: %d bid rows vs %d ask rows", ErrInputShape, b.Rows(), a.Rows())
	}

	spread := make([]float64, len(columns))
	for j, id := range columns {
		sum, count := 0.0, 0
		for i := range a.Values {
			av, bv := a.Values[i][j], b.Values[i][j]
			if math.IsNaN(av) || math.IsNaN(bv) {
				continue
			}
			sum += av - bv
			count++
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: instrument %s has no bid/ask quotes", ErrInsufficientData, id)
		}
		spread[j] = sum / float64(count)
	}
	return spread, nil
}

// AdjustCovariance returns cov plus a diagonal penalty built from levels
// with the metric's penalty formula. cov is not modified.
func AdjustCovariance(cov mat.Symmetric, metric LiquidityMetric, levels []float64) (*mat.SymDense, error) {
	penalty, ok := liquidityPenalties[metric]
	if !ok {
		return nil, fmt.Errorf("%w: unknown liquidity metric %q", ErrUnsupportedOption, metric)
	}
	n := cov.SymmetricDim()
	if len(levels) != n {
		return nil, fmt.Errorf("%w: %d liquidity levels for %d instruments", ErrInputShape, len(levels), n)
	}

	adjusted := mat.NewSymDense(n, nil)
	adjusted.CopySym(cov)
	for i, level := range levels {
		if math.IsNaN(level) || math.IsInf(level, 0) {
			return nil, fmt.Errorf("%w: liquidity level %d is not finite", ErrInsufficientData, i)
		}
		adjusted.SetSym(i, i, adjusted.At(i, i)+penalty(level))
	}
	return adjusted, nil
}
