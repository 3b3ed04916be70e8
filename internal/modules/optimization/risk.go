package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

// Statistics holds the annualized return and risk estimates for a universe.
type Statistics struct {
	Instruments []string
	Mu          []float64     // compounded annual mean return per instrument
	Cov         *mat.SymDense // annualized Ledoit-Wolf covariance
	Shrinkage   float64       // Ledoit-Wolf intensity in [0, 1]
	Returns     int           // number of period returns used
}

// EstimateStatistics computes annualized mean returns and a shrunk covariance
// matrix from a cleaned close-price table.
//
// Estimation uses the window in which every instrument has a price, i.e. the
// rows after the latest listing date. Any instrument with fewer than two
// observations in that window fails with ErrInsufficientData.
func EstimateStatistics(closes *Frame) (*Statistics, error) {
	if closes == nil || closes.Cols() == 0 {
		return nil, fmt.Errorf("%w: no instruments", ErrInsufficientData)
	}
	for j, id := range closes.Columns {
		valid := 0
		for _, row := range closes.Values {
			if !math.IsNaN(row[j]) {
				valid++
			}
		}
		if valid < 2 {
			return nil, fmt.Errorf("%w: instrument %s has %d observations, need at least 2", ErrInsufficientData, id, valid)
		}
	}

	start := firstValidRow(closes)
	if start < 0 || closes.Rows()-start < 2 {
		return nil, fmt.Errorf("%w: fewer than 2 observations shared by all instruments", ErrInsufficientData)
	}

	returns, err := calculateReturns(closes, start)
	if err != nil {
		return nil, err
	}

	mu := meanHistoricalReturn(returns)
	cov, shrinkage := ledoitWolf(returns)
	cov.ScaleSym(TradingDaysPerYear, cov)

	return &Statistics{
		Instruments: append([]string(nil), closes.Columns...),
		Mu:          mu,
		Cov:         cov,
		Shrinkage:   shrinkage,
		Returns:     closes.Rows() - start - 1,
	}, nil
}

// calculateReturns builds the (rows-start-1) x cols matrix of simple returns.
func calculateReturns(closes *Frame, start int) (*mat.Dense, error) {
	n := closes.Rows() - start - 1
	p := closes.Cols()
	returns := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		prev := closes.Values[start+i]
		cur := closes.Values[start+i+1]
		for j := 0; j < p; j++ {
			if math.IsNaN(prev[j]) || math.IsNaN(cur[j]) {
				return nil, fmt.Errorf("%w: instrument %s has a gap at row %d", ErrInsufficientData, closes.Columns[j], start+i+1)
			}
			if prev[j] <= 0 {
				return nil, fmt.Errorf("%w: instrument %s has non-positive price at row %d", ErrInsufficientData, closes.Columns[j], start+i)
			}
			returns.Set(i, j, cur[j]/prev[j]-1)
		}
	}
	return returns, nil
}

// meanHistoricalReturn returns the compounded annual growth rate per column:
// prod(1+r)^(252/n) - 1.
func meanHistoricalReturn(returns *mat.Dense) []float64 {
	n, p := returns.Dims()
	mu := make([]float64, p)
	for j := 0; j < p; j++ {
		logSum := 0.0
		for i := 0; i < n; i++ {
			logSum += math.Log1p(returns.At(i, j))
		}
		mu[j] = math.Expm1(logSum * TradingDaysPerYear / float64(n))
	}
	return mu
}

// ledoitWolf shrinks the empirical covariance of returns toward a scaled
// identity with the Ledoit-Wolf optimal intensity.
// Reference: Ledoit & Wolf (2004), "A well-conditioned estimator for
// large-dimensional covariance matrices".
func ledoitWolf(returns *mat.Dense) (*mat.SymDense, float64) {
	n, p := returns.Dims()

	x := mat.NewDense(n, p, nil)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, returns)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			x.Set(i, j, col[i]-mean)
		}
	}

	emp := mat.NewSymDense(p, nil)
	emp.SymOuterK(1/float64(n), x.T())

	mu := mat.Trace(emp) / float64(p)

	shrinkage := 0.0
	if p > 1 {
		// delta_ = sum((X'X)^2) / n^2, beta_ = sum((X^2)'(X^2))
		deltaRaw := 0.0
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				v := emp.At(i, j)
				deltaRaw += v * v
			}
		}
		betaRaw := 0.0
		for t := 0; t < n; t++ {
			s := 0.0
			for j := 0; j < p; j++ {
				v := x.At(t, j)
				s += v * v
			}
			betaRaw += s * s
		}

		beta := (betaRaw/float64(n) - deltaRaw) / float64(p*n)
		delta := (deltaRaw - float64(p)*mu*mu) / float64(p)
		beta = math.Min(beta, delta)
		if delta > 0 && beta > 0 {
			shrinkage = beta / delta
		}
	}

	shrunk := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := (1 - shrinkage) * emp.At(i, j)
			if i == j {
				v += shrinkage * mu
			}
			shrunk.SetSym(i, j, v)
		}
	}
	return shrunk, shrinkage
}
