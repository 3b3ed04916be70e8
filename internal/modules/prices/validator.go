package prices

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxPriceChangePercent = 1000.0 // >1000% day-over-day change is a spike
	minPriceChangePercent = -90.0  // <-90% day-over-day change is a crash
)

// Candle is one daily bar as reported by the exchange.
type Candle struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Rejection records a candle dropped by the validator.
type Rejection struct {
	Date   time.Time
	Close  float64
	Reason string
}

// Validator drops abnormal candles before they reach the cache. Dropped
// dates become gaps that the optimizer forward fills.
type Validator struct {
	log zerolog.Logger
}

// NewValidator creates a new candle validator
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{
		log: log.With().Str("component", "price_validator").Logger(),
	}
}

// Check validates a candle against the previous accepted close (zero when
// there is none). It returns an empty reason for a valid candle.
func (v *Validator) Check(c Candle, prevClose float64) string {
	switch {
	case math.IsNaN(c.Close) || c.Close <= 0:
		return "non_positive_close"
	case c.Volume < 0 || math.IsNaN(c.Volume):
		return "negative_volume"
	case c.High > 0 && c.Low > 0 && c.High < c.Low:
		return "high_below_low"
	case c.High > 0 && c.High < c.Close:
		return "high_below_close"
	case c.Low > 0 && c.Low > c.Close:
		return "low_above_close"
	}

	if prevClose > 0 {
		changePercent := (c.Close - prevClose) / prevClose * 100.0
		if changePercent > maxPriceChangePercent {
			return "spike_detected"
		}
		if changePercent < minPriceChangePercent {
			return "crash_detected"
		}
	}
	return ""
}

// Filter sorts candles by date, keeps the last candle of a repeated date and
// drops invalid ones.
func (v *Validator) Filter(isin string, candles []Candle) ([]Candle, []Rejection) {
	sorted := append([]Candle(nil), candles...)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Date.Before(sorted[b].Date) })

	kept := make([]Candle, 0, len(sorted))
	var rejected []Rejection
	for i, c := range sorted {
		if i+1 < len(sorted) && sameDay(c.Date, sorted[i+1].Date) {
			continue
		}
		prevClose := 0.0
		if len(kept) > 0 {
			prevClose = kept[len(kept)-1].Close
		}
		if reason := v.Check(c, prevClose); reason != "" {
			rejected = append(rejected, Rejection{Date: c.Date, Close: c.Close, Reason: reason})
			v.log.Warn().
				Str("isin", isin).
				Time("date", c.Date).
				Float64("close", c.Close).
				Str("reason", reason).
				Msg("Dropped abnormal candle")
			continue
		}
		kept = append(kept, c)
	}
	return kept, rejected
}

// SeriesFromCandles validates candles and converts them into a cache series.
func (v *Validator) SeriesFromCandles(isin string, candles []Candle) (Series, error) {
	kept, _ := v.Filter(isin, candles)
	if len(kept) == 0 {
		return Series{}, fmt.Errorf("no valid candles for %s", isin)
	}
	s := Series{
		ISIN:    isin,
		Dates:   make([]time.Time, len(kept)),
		Opens:   make([]float64, len(kept)),
		Closes:  make([]float64, len(kept)),
		Volumes: make([]float64, len(kept)),
	}
	for i, c := range kept {
		y, m, d := c.Date.Date()
		s.Dates[i] = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		s.Opens[i] = c.Open
		s.Closes[i] = c.Close
		s.Volumes[i] = c.Volume
	}
	return s, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
