package optimization

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nan = math.NaN()

func dailyIndex(n int) []time.Time {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := make([]time.Time, n)
	for i := range idx {
		idx[i] = start.AddDate(0, 0, i)
	}
	return idx
}

func mustFrame(t *testing.T, columns []string, values [][]float64) *Frame {
	t.Helper()
	f, err := NewFrame(dailyIndex(len(values)), columns, values)
	require.NoError(t, err)
	return f
}

func TestForwardFill(t *testing.T) {
	f := mustFrame(t, []string{"A", "B"}, [][]float64{
		{nan, 10},
		{1, nan},
		{nan, nan},
		{3, 12},
		{nan, nan},
	})

	filled := ForwardFill(f)

	assert.True(t, math.IsNaN(filled.Values[0][0]), "leading gap has no prior observation")
	assert.Equal(t, []float64{1, 1, 3, 3}, filled.Column(0)[1:])
	assert.Equal(t, []float64{10, 10, 10, 12, 12}, filled.Column(1))

	// Input untouched
	assert.True(t, math.IsNaN(f.Values[1][1]))
	assert.True(t, math.IsNaN(f.Values[4][0]))
}

func TestForwardFill_Idempotent(t *testing.T) {
	f := mustFrame(t, []string{"A", "B", "C"}, [][]float64{
		{nan, 1, 5},
		{2, nan, nan},
		{nan, 3, nan},
		{nan, nan, 7},
	})

	once := ForwardFill(f)
	twice := ForwardFill(once)

	require.Equal(t, once.Rows(), twice.Rows())
	for i := range once.Values {
		for j := range once.Values[i] {
			a, b := once.Values[i][j], twice.Values[i][j]
			if math.IsNaN(a) {
				assert.True(t, math.IsNaN(b), "row %d col %d", i, j)
				continue
			}
			assert.Equal(t, a, b, "row %d col %d", i, j)
		}
	}
}

func TestNewFrame_ShapeErrors(t *testing.T) {
	tests := []struct {
		name    string
		index   []time.Time
		columns []string
		values  [][]float64
	}{
		{"row count differs from index", dailyIndex(2), []string{"A"}, [][]float64{{1}}},
		{"ragged row", dailyIndex(2), []string{"A", "B"}, [][]float64{{1, 2}, {3}}},
		{"duplicate column", dailyIndex(1), []string{"A", "A"}, [][]float64{{1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrame(tt.index, tt.columns, tt.values)
			assert.ErrorIs(t, err, ErrInputShape)
		})
	}
}

func TestFrame_Select(t *testing.T) {
	f := mustFrame(t, []string{"A", "B", "C"}, [][]float64{
		{1, 2, 3},
		{4, 5, 6},
	})

	sel, err := f.Select([]string{"C", "A", "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, sel.Columns)
	assert.Equal(t, [][]float64{{3, 1, 2}, {6, 4, 5}}, sel.Values)

	_, err = f.Select([]string{"A", "B", "D"})
	assert.ErrorIs(t, err, ErrInputShape)

	_, err = f.Select([]string{"A", "B"})
	assert.ErrorIs(t, err, ErrInputShape)
}

func TestAlignColumns(t *testing.T) {
	closes := mustFrame(t, []string{"A", "B"}, [][]float64{{1, 2}})
	opens := mustFrame(t, []string{"B", "A"}, [][]float64{{20, 10}})
	volumes := mustFrame(t, []string{"B", "A"}, [][]float64{{200, 100}})

	o, v, err := AlignColumns(opens, closes, volumes)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, o.Columns)
	assert.Equal(t, []float64{10, 20}, o.Values[0])
	assert.Equal(t, []float64{100, 200}, v.Values[0])

	other := mustFrame(t, []string{"A", "C"}, [][]float64{{1, 2}})
	_, _, err = AlignColumns(opens, closes, other)
	assert.ErrorIs(t, err, ErrInputShape)

	_, _, err = AlignColumns(nil, closes, volumes)
	assert.ErrorIs(t, err, ErrInputShape)
}
