package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestImpliedReturns(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0.04, 0, 0, 0.09})
	pi, err := ImpliedReturns(cov, []float64{0.5, 0.5}, DefaultRiskAversion)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.05, 0.1125}, pi, 1e-12)

	_, err = ImpliedReturns(cov, []float64{1}, DefaultRiskAversion)
	assert.ErrorIs(t, err, ErrInputShape)
}

func TestBlend_EqualWeightViews(t *testing.T) {
	cov := mat.NewSymDense(3, []float64{
		0.04, 0.01, 0.005,
		0.01, 0.03, 0.008,
		0.005, 0.008, 0.025,
	})
	prior := []float64{0.06, 0.04, 0.05}
	views := EqualWeightViews(3)

	// With P = I and Ω = τΣ the posterior is the midpoint of prior and views.
	posterior, err := Blend(prior, cov, views, BlendOptions{Tau: DefaultTau})
	require.NoError(t, err)
	for i := range prior {
		assert.InDelta(t, (prior[i]+1.0/3)/2, posterior[i], 1e-9, "instrument %d", i)
	}
}

func TestBlend_SmallTauFavoursPrior(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0.04, 0.006, 0.006, 0.09})
	prior := []float64{0.05, 0.11}
	views := Views{
		P: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		Q: []float64{0.5, -0.3},
	}
	omega := mat.NewDense(2, 2, []float64{0.01, 0, 0, 0.01})

	loose, err := Blend(prior, cov, views, BlendOptions{Tau: 1, Omega: omega})
	require.NoError(t, err)
	tight, err := Blend(prior, cov, views, BlendOptions{Tau: 1e-8, Omega: omega})
	require.NoError(t, err)

	for i := range prior {
		assert.InDelta(t, prior[i], tight[i], 1e-5, "views lose influence as tau shrinks")
		assert.Greater(t, abs(loose[i]-prior[i]), abs(tight[i]-prior[i]))
	}
}

func TestBlend_DimensionMismatch(t *testing.T) {
	cov := mat.NewSymDense(3, []float64{
		0.04, 0, 0,
		0, 0.05, 0,
		0, 0, 0.06,
	})
	prior := []float64{0.1, 0.1, 0.1}

	t.Run("P has fewer columns than covariance", func(t *testing.T) {
		views := Views{P: mat.NewDense(2, 2, []float64{1, 0, 0, 1}), Q: []float64{0.1, 0.1}}
		_, err := Blend(prior, cov, views, BlendOptions{Tau: DefaultTau})
		assert.ErrorIs(t, err, ErrInputShape)
	})

	t.Run("P rows differ from Q length", func(t *testing.T) {
		views := Views{P: mat.NewDense(1, 3, []float64{1, -1, 0}), Q: []float64{0.1, 0.2}}
		_, err := Blend(prior, cov, views, BlendOptions{Tau: DefaultTau})
		assert.ErrorIs(t, err, ErrInputShape)
	})

	t.Run("prior length", func(t *testing.T) {
		_, err := Blend([]float64{0.1}, cov, EqualWeightViews(3), BlendOptions{Tau: DefaultTau})
		assert.ErrorIs(t, err, ErrInputShape)
	})

	t.Run("omega shape", func(t *testing.T) {
		_, err := Blend(prior, cov, EqualWeightViews(3), BlendOptions{Tau: DefaultTau, Omega: mat.NewDense(2, 2, nil)})
		assert.ErrorIs(t, err, ErrInputShape)
	})
}

func TestBlend_Degenerate(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0.04, 0, 0, 0.09})
	prior := []float64{0.05, 0.1}

	t.Run("singular omega", func(t *testing.T) {
		_, err := Blend(prior, cov, EqualWeightViews(2), BlendOptions{Tau: DefaultTau, Omega: mat.NewDense(2, 2, nil)})
		assert.ErrorIs(t, err, ErrNumericDegeneracy)
	})

	t.Run("redundant views", func(t *testing.T) {
		views := Views{P: mat.NewDense(2, 2, []float64{1, 1, 1, 1}), Q: []float64{0.1, 0.1}}
		_, err := Blend(prior, cov, views, BlendOptions{Tau: DefaultTau})
		assert.ErrorIs(t, err, ErrNumericDegeneracy)
	})

	t.Run("singular covariance", func(t *testing.T) {
		singular := mat.NewSymDense(2, []float64{0.04, 0.04, 0.04, 0.04})
		_, err := Blend(prior, singular, EqualWeightViews(2), BlendOptions{Tau: DefaultTau})
		assert.ErrorIs(t, err, ErrNumericDegeneracy)
	})

	t.Run("non-positive tau", func(t *testing.T) {
		_, err := Blend(prior, cov, EqualWeightViews(2), BlendOptions{})
		assert.ErrorIs(t, err, ErrUnsupportedOption)
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
