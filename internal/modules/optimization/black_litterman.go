package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultRiskAversion is the reference investor's risk aversion δ.
	DefaultRiskAversion = 2.5
	// DefaultTau scales prior uncertainty in the Black-Litterman blend.
	DefaultTau = 0.05
)

// Views are investor views on instrument returns: each row of P selects a
// combination of instruments whose expected return is the matching Q entry.
type Views struct {
	P *mat.Dense
	Q []float64
}

// EqualWeightViews returns one view per instrument (P = I) expecting a
// return of 1/n from each.
func EqualWeightViews(n int) Views {
	p := mat.NewDense(n, n, nil)
	q := make([]float64, n)
	for i := 0; i < n; i++ {
		p.Set(i, i, 1)
		q[i] = 1 / float64(n)
	}
	return Views{P: p, Q: q}
}

// BlendOptions configures Blend.
type BlendOptions struct {
	Tau float64
	// Omega is the view uncertainty matrix. When nil it is derived from the
	// prior as P(τΣ)Pᵗ.
	Omega mat.Matrix
}

// ImpliedReturns computes market-implied equilibrium returns Π = δΣw.
func ImpliedReturns(cov mat.Symmetric, marketWeights []float64, riskAversion float64) ([]float64, error) {
	n := cov.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty covariance matrix", ErrInsufficientData)
	}
	if len(marketWeights) != n {
		return nil, fmt.Errorf("%w: %d market weights for covariance dimension %d", ErrInputShape, len(marketWeights), n)
	}
	var pi mat.VecDense
	pi.MulVec(cov, mat.NewVecDense(n, append([]float64(nil), marketWeights...)))
	pi.ScaleVec(riskAversion, &pi)
	return mat.Col(nil, 0, &pi), nil
}

// Blend computes the Black-Litterman posterior expected returns:
//
//	Ω = P(τΣ)Pᵗ
//	E[R] = [(τΣ)⁻¹ + PᵗΩ⁻¹P]⁻¹ [(τΣ)⁻¹Π + PᵗΩ⁻¹Q]
//
// Dimensions are validated before any inversion. A singular τΣ, Ω or
// posterior precision matrix fails with ErrNumericDegeneracy.
func Blend(prior []float64, cov mat.Symmetric, views Views, opts BlendOptions) ([]float64, error) {
	n := cov.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty covariance matrix", ErrInsufficientData)
	}
	if views.P == nil {
		return nil, fmt.Errorf("%w: view matrix P is required", ErrMissingParameter)
	}
	k, cols := views.P.Dims()
	if cols != n {
		return nil, fmt.Errorf("%w: P has %d columns, covariance dimension is %d", ErrInputShape, cols, n)
	}
	if k != len(views.Q) {
		return nil, fmt.Errorf("%w: P has %d rows, Q has %d entries", ErrInputShape, k, len(views.Q))
	}
	if len(prior) != n {
		return nil, fmt.Errorf("%w: %d prior returns for covariance dimension %d", ErrInputShape, len(prior), n)
	}
	if opts.Omega != nil {
		r, c := opts.Omega.Dims()
		if r != k || c != k {
			return nil, fmt.Errorf("%w: Ω is %dx%d, expected %dx%d", ErrInputShape, r, c, k, k)
		}
	}
	tau := opts.Tau
	if tau <= 0 || math.IsNaN(tau) {
		return nil, fmt.Errorf("%w: tau must be positive, got %v", ErrUnsupportedOption, tau)
	}

	tauSigma := mat.NewDense(n, n, nil)
	tauSigma.Scale(tau, cov)

	var omega mat.Dense
	if opts.Omega != nil {
		omega.CloneFrom(opts.Omega)
	} else {
		var pts mat.Dense
		pts.Mul(views.P, tauSigma)
		omega.Mul(&pts, views.P.T())
	}

	var tauSigmaInv mat.Dense
	if err := tauSigmaInv.Inverse(tauSigma); err != nil {
		return nil, fmt.Errorf("%w: invert τΣ: %v", ErrNumericDegeneracy, err)
	}
	var omegaInv mat.Dense
	if err := omegaInv.Inverse(&omega); err != nil {
		return nil, fmt.Errorf("%w: invert Ω: %v", ErrNumericDegeneracy, err)
	}

	// P'Ω⁻¹
	var ptOmegaInv mat.Dense
	ptOmegaInv.Mul(views.P.T(), &omegaInv)

	var viewPrecision, precision mat.Dense
	viewPrecision.Mul(&ptOmegaInv, views.P)
	precision.Add(&tauSigmaInv, &viewPrecision)

	var priorTerm, viewTerm, rhs mat.VecDense
	priorTerm.MulVec(&tauSigmaInv, mat.NewVecDense(n, append([]float64(nil), prior...)))
	viewTerm.MulVec(&ptOmegaInv, mat.NewVecDense(k, append([]float64(nil), views.Q...)))
	rhs.AddVec(&priorTerm, &viewTerm)

	var posterior mat.VecDense
	if err := posterior.SolveVec(&precision, &rhs); err != nil {
		return nil, fmt.Errorf("%w: solve posterior precision: %v", ErrNumericDegeneracy, err)
	}

	out := mat.Col(nil, 0, &posterior)
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: posterior return %d is not finite", ErrNumericDegeneracy, i)
		}
	}
	return out, nil
}
