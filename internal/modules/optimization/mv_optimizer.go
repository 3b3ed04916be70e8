package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// returnTolerance absorbs floating error when comparing portfolio returns to a target.
const returnTolerance = 1e-9

// MVOptimizer performs long-only mean-variance portfolio optimization.
// It has no state across calls and is safe for concurrent use.
type MVOptimizer struct {
	log zerolog.Logger
}

// NewMVOptimizer creates a new mean-variance optimizer.
func NewMVOptimizer(log zerolog.Logger) *MVOptimizer {
	return &MVOptimizer{
		log: log.With().Str("component", "mv_optimizer").Logger(),
	}
}

// Optimize solves for raw weights under the given objective.
//
// Constraints for every objective: w >= 0 and Σw = 1.
//   - risk, liquidity: minimize wᵗΣw
//   - return: minimize wᵗΣw subject to μᵗw >= targetReturn
//
// The liquidity objective differs from risk only in the covariance passed in.
func (mvo *MVOptimizer) Optimize(
	objective Objective,
	mu []float64,
	cov mat.Symmetric,
	targetReturn *float64,
) ([]float64, error) {
	n := cov.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("%w: no instruments to optimize", ErrInsufficientData)
	}
	if len(mu) != n {
		return nil, fmt.Errorf("%w: %d expected returns for covariance dimension %d", ErrInputShape, len(mu), n)
	}

	switch objective {
	case ObjectiveRisk, ObjectiveLiquidity:
		return mvo.MinVolatility(cov)
	case ObjectiveReturn:
		if targetReturn == nil {
			return nil, fmt.Errorf("%w: target return required for return objective", ErrMissingParameter)
		}
		return mvo.EfficientReturn(mu, cov, *targetReturn)
	default:
		return nil, fmt.Errorf("%w: unknown objective %q", ErrUnsupportedOption, objective)
	}
}

// MinVolatility returns the long-only minimum-variance portfolio.
func (mvo *MVOptimizer) MinVolatility(cov mat.Symmetric) ([]float64, error) {
	n := cov.SymmetricDim()
	w0 := make([]float64, n)
	for i := range w0 {
		w0[i] = 1 / float64(n)
	}
	qp := newLongOnlyQP(cov, [][]float64{ones(n)}, []float64{1})
	w, err := qp.solve(w0, make([]bool, n))
	if err != nil {
		return nil, fmt.Errorf("min volatility: %w", err)
	}
	return w, nil
}

// EfficientReturn returns the minimum-variance portfolio whose expected
// return is at least target.
//
// When the minimum-variance portfolio already meets the target it is
// returned unchanged. A target above the highest instrument return fails
// with a *TargetReturnError.
func (mvo *MVOptimizer) EfficientReturn(mu []float64, cov mat.Symmetric, target float64) ([]float64, error) {
	n := len(mu)
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return nil, fmt.Errorf("%w: target return is not finite", ErrUnsupportedOption)
	}

	minVol, err := mvo.MinVolatility(cov)
	if err != nil {
		return nil, err
	}
	if floats.Dot(mu, minVol) >= target-returnTolerance {
		mvo.log.Debug().
			Float64("target_return", target).
			Float64("min_vol_return", floats.Dot(mu, minVol)).
			Msg("Minimum volatility portfolio meets target return")
		return minVol, nil
	}

	lo, hi := 0, 0
	for i := range mu {
		if mu[i] < mu[lo] {
			lo = i
		}
		if mu[i] > mu[hi] {
			hi = i
		}
	}
	maxMu, minMu := mu[hi], mu[lo]
	if target > maxMu+returnTolerance {
		return nil, &TargetReturnError{Target: target, MaxAttainable: maxMu}
	}

	// Only the best-returning instruments can reach a target at the maximum.
	if target >= maxMu-returnTolerance {
		locked := make([]bool, n)
		w0 := make([]float64, n)
		count := 0
		for i := range mu {
			if mu[i] < maxMu-returnTolerance {
				locked[i] = true
			} else {
				count++
			}
		}
		for i := range mu {
			if !locked[i] {
				w0[i] = 1 / float64(count)
			}
		}
		qp := newLongOnlyQP(cov, [][]float64{ones(n)}, []float64{1})
		w, err := qp.solve(w0, locked)
		if err != nil {
			return nil, fmt.Errorf("efficient return: %w", err)
		}
		return w, nil
	}

	// Strictly interior start: blend the equal-weight portfolio with the
	// extreme instrument on the target's side of its return.
	mean := 0.0
	for _, m := range mu {
		mean += m / float64(n)
	}
	extreme, share := hi, 0.0
	if target >= mean {
		share = (maxMu - target) / (maxMu - mean)
	} else {
		extreme = lo
		share = (target - minMu) / (mean - minMu)
	}
	w0 := make([]float64, n)
	for i := range w0 {
		w0[i] = share / float64(n)
	}
	w0[extreme] += 1 - share

	qp := newLongOnlyQP(cov, [][]float64{ones(n), append([]float64(nil), mu...)}, []float64{1, target})
	w, err := qp.solve(w0, make([]bool, n))
	if err != nil {
		return nil, fmt.Errorf("efficient return: %w", err)
	}
	return w, nil
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}
