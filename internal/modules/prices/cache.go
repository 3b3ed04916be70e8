package prices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/fundfolio/internal/database"
	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache stores one row per instrument in the price_series table.
type Cache struct {
	db  *database.DB
	log zerolog.Logger
}

// NewCache creates a price cache on a migrated prices database.
func NewCache(db *database.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		log: log.With().Str("component", "price_cache").Logger(),
	}
}

// Upsert replaces the cached series of s.ISIN in a single statement.
func (c *Cache) Upsert(ctx context.Context, s Series) error {
	if err := validateSeries(s); err != nil {
		return err
	}

	days := toDays(s.Dates)
	dates, err := msgpack.Marshal(days)
	if err != nil {
		return fmt.Errorf("failed to encode dates for %s: %w", s.ISIN, err)
	}
	columns := make([][]byte, 3)
	for i, values := range [][]float64{s.Opens, s.Closes, s.Volumes} {
		if columns[i], err = msgpack.Marshal(values); err != nil {
			return fmt.Errorf("failed to encode series for %s: %w", s.ISIN, err)
		}
	}

	var lastDate interface{}
	if n := len(days); n > 0 {
		lastDate = days[n-1]
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO price_series (isin, dates, opens, closes, volumes, observations, last_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(isin) DO UPDATE SET
			dates = excluded.dates,
			opens = excluded.opens,
			closes = excluded.closes,
			volumes = excluded.volumes,
			observations = excluded.observations,
			last_date = excluded.last_date,
			updated_at = excluded.updated_at`,
		s.ISIN, dates, columns[0], columns[1], columns[2], s.Len(), lastDate, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert series for %s: %w", s.ISIN, err)
	}

	c.log.Debug().Str("isin", s.ISIN).Int("observations", s.Len()).Msg("Series cached")
	return nil
}

// Get loads one cached series.
func (c *Cache) Get(ctx context.Context, isin string) (*Series, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT isin, dates, opens, closes, volumes FROM price_series WHERE isin = ?", isin)
	s, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, isin)
	}
	return s, err
}

// List summarizes every cached series ordered by ISIN.
func (c *Cache) List(ctx context.Context) ([]Summary, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT isin, observations, last_date, updated_at FROM price_series ORDER BY isin")
	if err != nil {
		return nil, fmt.Errorf("failed to list price series: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			lastDate  sql.NullInt64
			updatedAt int64
		)
		if err := rows.Scan(&sum.ISIN, &sum.Observations, &lastDate, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price series summary: %w", err)
		}
		if lastDate.Valid {
			sum.LastDate = time.Unix(lastDate.Int64, 0).UTC()
		}
		sum.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Count returns the number of cached instruments.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM price_series").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count price series: %w", err)
	}
	return n, nil
}

// Delete removes an instrument from the cache.
func (c *Cache) Delete(ctx context.Context, isin string) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM price_series WHERE isin = ?", isin)
	if err != nil {
		return fmt.Errorf("failed to delete series for %s: %w", isin, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, isin)
	}
	return nil
}

// ReadAll loads every cached series into open, close and volume frames that
// share one date axis (the sorted union of all dates) and one instrument axis
// sorted by ISIN. Dates an instrument did not trade are NaN.
func (c *Cache) ReadAll(ctx context.Context) (*optimization.MarketData, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT isin, dates, opens, closes, volumes FROM price_series ORDER BY isin")
	if err != nil {
		return nil, fmt.Errorf("failed to read price series: %w", err)
	}
	defer rows.Close()

	var all []*Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read price series: %w", err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: price cache is empty", optimization.ErrInsufficientData)
	}
	return buildMarketData(all)
}

func buildMarketData(all []*Series) (*optimization.MarketData, error) {
	rowOf := make(map[int64]int)
	var days []int64
	for _, s := range all {
		for _, d := range s.Dates {
			day := d.Unix()
			if _, ok := rowOf[day]; !ok {
				rowOf[day] = 0
				days = append(days, day)
			}
		}
	}
	sort.Slice(days, func(a, b int) bool { return days[a] < days[b] })
	index := make([]time.Time, len(days))
	for i, day := range days {
		rowOf[day] = i
		index[i] = time.Unix(day, 0).UTC()
	}

	columns := make([]string, len(all))
	opens, closes, volumes := nanTable(len(days), len(all)), nanTable(len(days), len(all)), nanTable(len(days), len(all))
	for j, s := range all {
		columns[j] = s.ISIN
		for k, d := range s.Dates {
			i := rowOf[d.Unix()]
			opens[i][j] = s.Opens[k]
			closes[i][j] = s.Closes[k]
			volumes[i][j] = s.Volumes[k]
		}
	}

	open, err := optimization.NewFrame(index, columns, opens)
	if err != nil {
		return nil, err
	}
	closeFrame, err := optimization.NewFrame(index, append([]string(nil), columns...), closes)
	if err != nil {
		return nil, err
	}
	volume, err := optimization.NewFrame(index, append([]string(nil), columns...), volumes)
	if err != nil {
		return nil, err
	}
	return &optimization.MarketData{Open: open, Close: closeFrame, Volume: volume}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSeries(row rowScanner) (*Series, error) {
	var (
		isin string
		blob [4][]byte
	)
	if err := row.Scan(&isin, &blob[0], &blob[1], &blob[2], &blob[3]); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan price series: %w", err)
	}

	var days []int64
	if err := msgpack.Unmarshal(blob[0], &days); err != nil {
		return nil, fmt.Errorf("failed to decode dates for %s: %w", isin, err)
	}
	s := &Series{ISIN: isin, Dates: fromDays(days)}
	for i, dst := range []*[]float64{&s.Opens, &s.Closes, &s.Volumes} {
		if err := msgpack.Unmarshal(blob[i+1], dst); err != nil {
			return nil, fmt.Errorf("failed to decode series for %s: %w", isin, err)
		}
		if len(*dst) != len(days) {
			return nil, fmt.Errorf("corrupt series for %s: %d values for %d dates", isin, len(*dst), len(days))
		}
	}
	return s, nil
}

func validateSeries(s Series) error {
	if s.ISIN == "" {
		return fmt.Errorf("%w: series has no ISIN", optimization.ErrInputShape)
	}
	n := len(s.Dates)
	if len(s.Opens) != n || len(s.Closes) != n || len(s.Volumes) != n {
		return fmt.Errorf("%w: %s has %d dates, %d opens, %d closes, %d volumes",
			optimization.ErrInputShape, s.ISIN, n, len(s.Opens), len(s.Closes), len(s.Volumes))
	}
	days := toDays(s.Dates)
	for i := 1; i < n; i++ {
		if days[i] <= days[i-1] {
			return fmt.Errorf("%w: %s dates not strictly increasing at %d", optimization.ErrInputShape, s.ISIN, i)
		}
	}
	return nil
}

// toDays truncates dates to UTC midnight and encodes them as Unix seconds.
func toDays(dates []time.Time) []int64 {
	out := make([]int64, len(dates))
	for i, d := range dates {
		y, m, day := d.Date()
		out[i] = time.Date(y, m, day, 0, 0, 0, 0, time.UTC).Unix()
	}
	return out
}

func fromDays(days []int64) []time.Time {
	out := make([]time.Time, len(days))
	for i, d := range days {
		out[i] = time.Unix(d, 0).UTC()
	}
	return out
}

func nanTable(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = math.NaN()
		}
	}
	return out
}
