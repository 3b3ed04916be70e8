package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultWeightCutoff zeroes weights below it during cleanup.
	DefaultWeightCutoff = 1e-4
	// DefaultWeightDecimals is the rounding precision of cleaned weights.
	DefaultWeightDecimals = 3
	// DefaultRiskFreeRate is the reference rate for the Sharpe ratio.
	DefaultRiskFreeRate = 0.02
)

// CleanOptions controls presentation cleanup of raw solver weights.
type CleanOptions struct {
	Cutoff   float64
	Decimals int
}

// DefaultCleanOptions returns the cutoff and rounding used for display.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{Cutoff: DefaultWeightCutoff, Decimals: DefaultWeightDecimals}
}

// CleanWeights zeroes weights below the cutoff, renormalizes, rounds to the
// configured decimals and assigns the rounding residual to the largest
// weight, so the result is non-negative and sums to 1.
func CleanWeights(raw []float64, opts CleanOptions) ([]float64, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no weights to clean", ErrInsufficientData)
	}
	out := make([]float64, len(raw))
	for i, w := range raw {
		if math.IsNaN(w) {
			return nil, fmt.Errorf("%w: weight %d is NaN", ErrNumericDegeneracy, i)
		}
		if w >= opts.Cutoff && w > 0 {
			out[i] = w
		}
	}
	total := floats.Sum(out)
	if total <= 0 {
		return nil, fmt.Errorf("%w: every weight is below cutoff %g", ErrNumericDegeneracy, opts.Cutoff)
	}
	floats.Scale(1/total, out)

	for i := range out {
		out[i] = roundTo(out[i], opts.Decimals)
	}
	largest := floats.MaxIdx(out)
	out[largest] = roundTo(out[largest]+1-floats.Sum(out), opts.Decimals)
	return out, nil
}

// Performance summarizes a portfolio's expected return and risk.
type Performance struct {
	ExpectedReturn     float64
	ExpectedVolatility float64
	SharpeRatio        float64
}

// PortfolioPerformance computes μᵗw, sqrt(wᵗΣw) and (μᵗw - rf) / sqrt(wᵗΣw).
func PortfolioPerformance(weights, mu []float64, cov mat.Symmetric, riskFreeRate float64) (Performance, error) {
	n := cov.SymmetricDim()
	if len(weights) != n || len(mu) != n {
		return Performance{}, fmt.Errorf("%w: %d weights, %d returns, covariance dimension %d", ErrInputShape, len(weights), len(mu), n)
	}
	w := mat.NewVecDense(n, append([]float64(nil), weights...))
	variance := mat.Inner(w, cov, w)
	if !(variance > 0) {
		return Performance{}, fmt.Errorf("%w: portfolio variance %g is not positive", ErrNumericDegeneracy, variance)
	}
	ret := floats.Dot(weights, mu)
	vol := math.Sqrt(variance)
	return Performance{
		ExpectedReturn:     ret,
		ExpectedVolatility: vol,
		SharpeRatio:        (ret - riskFreeRate) / vol,
	}, nil
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
