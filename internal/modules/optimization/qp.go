package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	qpStepTolerance       = 1e-10
	qpMultiplierTolerance = 1e-10
)

// longOnlyQP minimizes wᵗΣw subject to A·w = b and w >= 0 with a primal
// active-set method (Nocedal & Wright, Algorithm 16.3). The first equality
// row must be the budget constraint (all ones).
type longOnlyQP struct {
	sigma   mat.Symmetric
	aeq     [][]float64
	beq     []float64
	maxIter int
}

func newLongOnlyQP(sigma mat.Symmetric, aeq [][]float64, beq []float64) *longOnlyQP {
	n := sigma.SymmetricDim()
	return &longOnlyQP{
		sigma:   sigma,
		aeq:     aeq,
		beq:     beq,
		maxIter: 50*n + 100,
	}
}

// solve starts from a feasible w0. Variables with locked[i] set are pinned
// at zero for the whole solve and never leave the working set.
func (qp *longOnlyQP) solve(w0 []float64, locked []bool) ([]float64, error) {
	n := len(w0)
	w := append([]float64(nil), w0...)
	working := append([]bool(nil), locked...)

	for iter := 0; iter < qp.maxIter; iter++ {
		free := make([]int, 0, n)
		for i := 0; i < n; i++ {
			if !working[i] {
				free = append(free, i)
			}
		}

		target, nu, err := qp.solveEquality(free)
		if err != nil {
			return nil, err
		}

		step := make([]float64, n)
		maxStep := 0.0
		for k, i := range free {
			step[i] = target[k] - w[i]
			maxStep = math.Max(maxStep, math.Abs(step[i]))
		}

		if maxStep <= qpStepTolerance {
			release := qp.mostNegativeMultiplier(w, nu, working, locked)
			if release < 0 {
				for i := range w {
					if w[i] < 0 {
						w[i] = 0
					}
				}
				return w, nil
			}
			working[release] = false
			continue
		}

		alpha, block := 1.0, -1
		for _, i := range free {
			if step[i] < 0 {
				ratio := math.Max(w[i], 0) / -step[i]
				if ratio < alpha {
					alpha, block = ratio, i
				}
			}
		}
		for _, i := range free {
			w[i] += alpha * step[i]
		}
		if block >= 0 {
			w[block] = 0
			working[block] = true
		}
	}
	return nil, fmt.Errorf("%w: quadratic program did not converge in %d iterations", ErrNumericDegeneracy, qp.maxIter)
}

// solveEquality minimizes over the free variables with the others pinned at
// zero, subject to the equality constraints. It returns the free variables
// and the equality multipliers ν of ∇f + Aᵗν = 0.
func (qp *longOnlyQP) solveEquality(free []int) ([]float64, []float64, error) {
	m := len(free)
	if m == 0 {
		return nil, nil, fmt.Errorf("%w: every weight pinned at zero", ErrNumericDegeneracy)
	}

	// Rows that are constant over the free set duplicate the budget row.
	rows := []int{0}
	for r := 1; r < len(qp.aeq); r++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range free {
			lo = math.Min(lo, qp.aeq[r][i])
			hi = math.Max(hi, qp.aeq[r][i])
		}
		if hi-lo > 1e-12*math.Max(1, math.Abs(hi)) {
			rows = append(rows, r)
		}
	}
	k := len(rows)

	kkt := mat.NewDense(m+k, m+k, nil)
	for a, i := range free {
		for b, j := range free {
			kkt.Set(a, b, 2*qp.sigma.At(i, j))
		}
		for c, r := range rows {
			kkt.Set(a, m+c, qp.aeq[r][i])
			kkt.Set(m+c, a, qp.aeq[r][i])
		}
	}
	rhs := mat.NewVecDense(m+k, nil)
	for c, r := range rows {
		rhs.SetVec(m+c, qp.beq[r])
	}

	var sol mat.VecDense
	if err := sol.SolveVec(kkt, rhs); err != nil {
		return nil, nil, fmt.Errorf("%w: KKT system: %v", ErrNumericDegeneracy, err)
	}

	x := make([]float64, m)
	for a := range x {
		x[a] = sol.AtVec(a)
	}
	nu := make([]float64, len(qp.aeq))
	for c, r := range rows {
		nu[r] = sol.AtVec(m + c)
	}
	return x, nu, nil
}

// mostNegativeMultiplier returns the pinned, unlocked variable whose bound
// multiplier is most negative, or -1 when every multiplier is non-negative.
func (qp *longOnlyQP) mostNegativeMultiplier(w, nu []float64, working, locked []bool) int {
	var grad mat.VecDense
	grad.MulVec(qp.sigma, mat.NewVecDense(len(w), append([]float64(nil), w...)))

	release, lowest := -1, -qpMultiplierTolerance
	for i, pinned := range working {
		if !pinned || locked[i] {
			continue
		}
		mult := 2 * grad.AtVec(i)
		for r := range qp.aeq {
			mult += qp.aeq[r][i] * nu[r]
		}
		if mult < lowest {
			release, lowest = i, mult
		}
	}
	return release
}
