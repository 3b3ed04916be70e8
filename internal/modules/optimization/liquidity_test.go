package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestComputeLiquidityMetrics(t *testing.T) {
	volumes := mustFrame(t, []string{"A", "B"}, [][]float64{
		{100, nan},
		{200, 50},
		{300, 150},
	})

	levels, err := ComputeLiquidityMetrics(volumes, nil, nil)
	require.NoError(t, err)

	avg, err := levels.Levels(MetricAverageTradingVolume)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{200, 100}, avg, 1e-12)

	turnover, err := levels.Levels(MetricTurnoverRatio)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{200, 200.0 / 3}, turnover, 1e-12)

	tts, err := levels.Levels(MetricTimeToSale)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.0 / 200, 1.0 / 100}, tts, 1e-12)
}

func TestComputeLiquidityMetrics_BidAskSpread(t *testing.T) {
	volumes := mustFrame(t, []string{"A", "B"}, [][]float64{{10, 20}, {30, 40}})

	t.Run("unavailable without quotes", func(t *testing.T) {
		levels, err := ComputeLiquidityMetrics(volumes, nil, nil)
		require.NoError(t, err)
		_, err = levels.Levels(MetricBidAskSpread)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("mean spread from quotes", func(t *testing.T) {
		bid := mustFrame(t, []string{"B", "A"}, [][]float64{{9, 99}, {10, 100}})
		ask := mustFrame(t, []string{"A", "B"}, [][]float64{{100, 10}, {102, 10.5}})
		levels, err := ComputeLiquidityMetrics(volumes, bid, ask)
		require.NoError(t, err)
		spread, err := levels.Levels(MetricBidAskSpread)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{1.5, 0.75}, spread, 1e-12)
	})

	t.Run("quotes for other instruments", func(t *testing.T) {
		bid := mustFrame(t, []string{"A", "C"}, [][]float64{{1, 1}})
		ask := mustFrame(t, []string{"A", "B"}, [][]float64{{2, 2}})
		_, err := ComputeLiquidityMetrics(volumes, bid, ask)
		assert.ErrorIs(t, err, ErrInputShape)
	})
}

func TestComputeLiquidityMetrics_ZeroVolume(t *testing.T) {
	volumes := mustFrame(t, []string{"A", "B"}, [][]float64{{0, 10}, {0, 20}})
	levels, err := ComputeLiquidityMetrics(volumes, nil, nil)
	require.NoError(t, err)

	_, err = levels.Levels(MetricTimeToSale)
	assert.ErrorIs(t, err, ErrInsufficientData)

	avg, err := levels.Levels(MetricAverageTradingVolume)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 15}, avg)

	empty := mustFrame(t, []string{"A"}, [][]float64{{nan}})
	_, err = ComputeLiquidityMetrics(empty, nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAdjustCovariance_ZeroLevelsIsIdentity(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0.04, 0.01, 0.01, 0.09})
	for _, metric := range LiquidityMetrics() {
		t.Run(string(metric), func(t *testing.T) {
			adjusted, err := AdjustCovariance(cov, metric, []float64{0, 0})
			require.NoError(t, err)
			assert.True(t, mat.Equal(cov, adjusted))
		})
	}
}

func TestAdjustCovariance_PenaltyTable(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0.04, 0.01, 0.01, 0.09})
	levels := []float64{2, 4}

	tests := []struct {
		metric  LiquidityMetric
		penalty []float64
	}{
		{MetricAverageTradingVolume, []float64{1 / (2 + 1e-6), 1 / (4 + 1e-6)}},
		{MetricTurnoverRatio, []float64{2, 4}},
		{MetricBidAskSpread, []float64{0.02, 0.04}},
		{MetricTimeToSale, []float64{0.2, 0.4}},
	}
	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			adjusted, err := AdjustCovariance(cov, tt.metric, levels)
			require.NoError(t, err)
			assert.InDelta(t, 0.04+tt.penalty[0], adjusted.At(0, 0), 1e-12)
			assert.InDelta(t, 0.09+tt.penalty[1], adjusted.At(1, 1), 1e-12)
			assert.Equal(t, 0.01, adjusted.At(0, 1), "off-diagonal untouched")
			assert.Equal(t, 0.04, cov.At(0, 0), "input untouched")
		})
	}
}

func TestAdjustCovariance_Errors(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0.04, 0, 0, 0.09})

	_, err := AdjustCovariance(cov, LiquidityMetric("Free Float"), []float64{1, 1})
	assert.ErrorIs(t, err, ErrUnsupportedOption)

	_, err = AdjustCovariance(cov, MetricTurnoverRatio, []float64{1})
	assert.ErrorIs(t, err, ErrInputShape)
}

func TestParseLiquidityMetric(t *testing.T) {
	m, err := ParseLiquidityMetric("time to sale")
	require.NoError(t, err)
	assert.Equal(t, MetricTimeToSale, m)

	m, err = ParseLiquidityMetric("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLiquidityMetric, m)

	_, err = ParseLiquidityMetric("Market Depth")
	assert.ErrorIs(t, err, ErrUnsupportedOption)

	for _, metric := range LiquidityMetrics() {
		assert.True(t, metric.Valid(), metric)
	}
}

func TestParseObjective(t *testing.T) {
	for _, o := range Objectives() {
		parsed, err := ParseObjective(string(o))
		require.NoError(t, err)
		assert.Equal(t, o, parsed)
	}
	_, err := ParseObjective("sharpe")
	assert.ErrorIs(t, err, ErrUnsupportedOption)
}
