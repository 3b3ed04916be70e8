package prices

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Check(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	tests := []struct {
		name      string
		candle    Candle
		prevClose float64
		reason    string
	}{
		{"valid", Candle{Open: 100, High: 105, Low: 95, Close: 101, Volume: 10}, 100, ""},
		{"valid without high/low", Candle{Close: 101}, 0, ""},
		{"zero close", Candle{Close: 0}, 0, "non_positive_close"},
		{"nan close", Candle{Close: math.NaN()}, 0, "non_positive_close"},
		{"negative volume", Candle{Close: 1, Volume: -1}, 0, "negative_volume"},
		{"high below low", Candle{High: 90, Low: 95, Close: 92}, 0, "high_below_low"},
		{"high below close", Candle{High: 90, Low: 80, Close: 92}, 0, "high_below_close"},
		{"low above close", Candle{High: 100, Low: 95, Close: 92}, 0, "low_above_close"},
		{"spike", Candle{Close: 1200}, 100, "spike_detected"},
		{"crash", Candle{Close: 5}, 100, "crash_detected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.reason, v.Check(tt.candle, tt.prevClose))
		})
	}
}

func TestValidator_SeriesFromCandles(t *testing.T) {
	v := NewValidator(zerolog.Nop())
	at := func(d, h int) time.Time { return time.Date(2024, 5, d, h, 0, 0, 0, time.UTC) }

	candles := []Candle{
		{Date: at(3, 10), Open: 101, Close: 102, Volume: 3},
		{Date: at(1, 10), Open: 100, Close: 100, Volume: 1},
		{Date: at(2, 10), Open: 100, Close: 0, Volume: 2},   // dropped
		{Date: at(3, 18), Open: 102, Close: 103, Volume: 4}, // later bar of the same day wins
	}

	s, err := v.SeriesFromCandles("RU000A0JR282", candles)
	require.NoError(t, err)
	assert.Equal(t, "RU000A0JR282", s.ISIN)
	assert.Equal(t, []time.Time{day0(2024, 5, 1), day0(2024, 5, 3)}, s.Dates)
	assert.Equal(t, []float64{100, 103}, s.Closes)
	assert.Equal(t, []float64{100, 102}, s.Opens)
	assert.Equal(t, []float64{1, 4}, s.Volumes)

	_, rejected := v.Filter("RU000A0JR282", candles)
	require.Len(t, rejected, 1)
	assert.Equal(t, "non_positive_close", rejected[0].Reason)

	_, err = v.SeriesFromCandles("RU000A0JR282", []Candle{{Date: at(1, 0), Close: -1}})
	assert.Error(t, err)
}

func day0(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
