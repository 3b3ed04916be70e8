// Package charts renders allocation charts and price history series.
package charts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/fundfolio/internal/modules/prices"
	"github.com/rs/zerolog"
)

// ChartDataPoint represents a single point on a chart
type ChartDataPoint struct {
	Time  string  `json:"time"`  // YYYY-MM-DD, YYYY-W## or YYYY-MM
	Value float64 `json:"value"` // Close price
}

// SeriesReader loads one cached price series.
type SeriesReader interface {
	Get(ctx context.Context, isin string) (*prices.Series, error)
}

// Service provides chart data operations
type Service struct {
	prices SeriesReader
	now    func() time.Time
	log    zerolog.Logger
}

// NewService creates a new charts service
func NewService(prices SeriesReader, log zerolog.Logger) *Service {
	return &Service{
		prices: prices,
		now:    time.Now,
		log:    log.With().Str("service", "charts").Logger(),
	}
}

// GetSecurityChart returns daily closes of isin within dateRange
// ("1M", "3M", "6M", "1Y", "5Y", "10Y" or "all").
func (s *Service) GetSecurityChart(ctx context.Context, isin string, dateRange string) ([]ChartDataPoint, error) {
	if isin == "" {
		return nil, fmt.Errorf("ISIN cannot be empty")
	}
	series, err := s.prices.Get(ctx, isin)
	if err != nil {
		return nil, fmt.Errorf("failed to get prices: %w", err)
	}

	start := parseDateRange(dateRange, s.now())
	points := make([]ChartDataPoint, 0, series.Len())
	for i, d := range series.Dates {
		if d.Before(start) {
			continue
		}
		points = append(points, ChartDataPoint{Time: d.Format("2006-01-02"), Value: series.Closes[i]})
	}
	return points, nil
}

// GetSecurityChartAggregated averages closes per ISO week ("1Y") or per
// month ("5Y") over the period.
func (s *Service) GetSecurityChartAggregated(ctx context.Context, isin string, period string) ([]ChartDataPoint, error) {
	var groupBy func(time.Time) string
	switch period {
	case "1Y":
		groupBy = func(t time.Time) string {
			year, week := t.ISOWeek()
			return fmt.Sprintf("%d-W%02d", year, week)
		}
	case "5Y":
		groupBy = func(t time.Time) string { return t.Format("2006-01") }
	default:
		return nil, fmt.Errorf("invalid period: %s (must be 1Y or 5Y)", period)
	}

	series, err := s.prices.Get(ctx, isin)
	if err != nil {
		return nil, fmt.Errorf("failed to get prices: %w", err)
	}

	start := parseDateRange(period, s.now())
	aggregated := make(map[string][]float64)
	for i, d := range series.Dates {
		if d.Before(start) {
			continue
		}
		key := groupBy(d)
		aggregated[key] = append(aggregated[key], series.Closes[i])
	}

	periods := make([]string, 0, len(aggregated))
	for p := range aggregated {
		periods = append(periods, p)
	}
	sort.Strings(periods)

	points := make([]ChartDataPoint, 0, len(periods))
	for _, p := range periods {
		values := aggregated[p]
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		points = append(points, ChartDataPoint{Time: p, Value: sum / float64(len(values))})
	}
	return points, nil
}

// parseDateRange converts a range string to a start date. Unknown ranges
// and "all" return the zero time.
func parseDateRange(rangeStr string, now time.Time) time.Time {
	switch rangeStr {
	case "1M":
		return now.AddDate(0, -1, 0)
	case "3M":
		return now.AddDate(0, -3, 0)
	case "6M":
		return now.AddDate(0, -6, 0)
	case "1Y":
		return now.AddDate(-1, 0, 0)
	case "5Y":
		return now.AddDate(-5, 0, 0)
	case "10Y":
		return now.AddDate(-10, 0, 0)
	default:
		return time.Time{}
	}
}
