// Package prices provides the sqlite-backed price cache.
package prices

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an instrument has no cached series.
var ErrNotFound = errors.New("instrument not cached")

// Series is the daily history of one instrument. All slices have the same
// length and Dates is strictly increasing.
type Series struct {
	ISIN    string
	Dates   []time.Time
	Opens   []float64
	Closes  []float64
	Volumes []float64
}

// Len returns the number of observations.
func (s *Series) Len() int { return len(s.Dates) }

// Summary describes a cached series without loading it.
type Summary struct {
	ISIN         string    `json:"isin"`
	Observations int       `json:"observations"`
	LastDate     time.Time `json:"last_date"`
	UpdatedAt    time.Time `json:"updated_at"`
}
