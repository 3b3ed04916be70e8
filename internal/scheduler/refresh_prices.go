package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/fundfolio/internal/clients/moex"
	"github.com/aristath/fundfolio/internal/modules/prices"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrRefreshInProgress is returned when a refresh is requested while one runs.
var ErrRefreshInProgress = errors.New("price refresh already running")

// UniverseSource lists the instruments to fetch.
type UniverseSource interface {
	FetchUniverse() []string
}

// CandleFetcher downloads daily candles from the exchange.
type CandleFetcher interface {
	GetDailyCandles(ctx context.Context, secid string, from, till time.Time) ([]moex.Candle, error)
}

// SeriesWriter stores one instrument's series.
type SeriesWriter interface {
	Upsert(ctx context.Context, s prices.Series) error
}

// RefreshConfig configures RefreshPricesJob.
type RefreshConfig struct {
	From        time.Time     // First date requested from the exchange
	Concurrency int           // Instruments fetched in parallel
	Timeout     time.Duration // Upper bound for one refresh run
}

// RefreshSummary counts instrument outcomes of one refresh run.
type RefreshSummary struct {
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// RefreshStatus reports the job state for status endpoints.
type RefreshStatus struct {
	Running   bool           `json:"running"`
	LastRun   time.Time      `json:"last_run,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Last      RefreshSummary `json:"last"`
}

// RefreshPricesJob repopulates the price cache from the exchange. Every
// instrument is written with one upsert, so readers see either the old or
// the new series of an instrument.
type RefreshPricesJob struct {
	universe  UniverseSource
	fetcher   CandleFetcher
	cache     SeriesWriter
	validator *prices.Validator
	cfg       RefreshConfig
	outcomes  *prometheus.CounterVec
	now       func() time.Time
	log       zerolog.Logger

	lock    sync.Mutex
	running atomic.Bool

	statusMu sync.RWMutex
	status   RefreshStatus
}

// NewRefreshPricesJob creates the refresh job. reg may be nil.
func NewRefreshPricesJob(
	universe UniverseSource,
	fetcher CandleFetcher,
	cache SeriesWriter,
	validator *prices.Validator,
	cfg RefreshConfig,
	reg prometheus.Registerer,
	log zerolog.Logger,
) *RefreshPricesJob {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundfolio_price_refresh_instruments_total",
			Help: "Instruments processed by the price refresh job by outcome",
		},
		[]string{"outcome"},
	)
	if reg != nil {
		reg.MustRegister(outcomes)
	}

	return &RefreshPricesJob{
		universe:  universe,
		fetcher:   fetcher,
		cache:     cache,
		validator: validator,
		cfg:       cfg,
		outcomes:  outcomes,
		now:       time.Now,
		log:       log.With().Str("job", "refresh_prices").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *RefreshPricesJob) Name() string {
	return "refresh_prices"
}

// Run executes one refresh for the scheduler
func (j *RefreshPricesJob) Run() error {
	_, err := j.Refresh(context.Background())
	return err
}

// Refresh fetches every instrument of the universe and upserts its series.
// It fails only when every instrument failed or ctx ends.
func (j *RefreshPricesJob) Refresh(ctx context.Context) (RefreshSummary, error) {
	if !j.lock.TryLock() {
		return RefreshSummary{}, ErrRefreshInProgress
	}
	defer j.lock.Unlock()
	return j.refresh(ctx)
}

// RefreshAsync starts a refresh in the background and returns immediately.
func (j *RefreshPricesJob) RefreshAsync() error {
	if !j.lock.TryLock() {
		return ErrRefreshInProgress
	}
	go func() {
		defer j.lock.Unlock()
		_, _ = j.refresh(context.Background())
	}()
	return nil
}

// Status returns the state of the job and the outcome of the last run
func (j *RefreshPricesJob) Status() RefreshStatus {
	j.statusMu.RLock()
	defer j.statusMu.RUnlock()
	status := j.status
	status.Running = j.running.Load()
	return status
}

func (j *RefreshPricesJob) refresh(ctx context.Context) (RefreshSummary, error) {
	j.running.Store(true)
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	start := time.Now()
	ids := j.universe.FetchUniverse()
	till := j.now().UTC()
	j.log.Info().Int("instruments", len(ids)).Msg("Starting price refresh")

	var updated, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)
	for _, isin := range ids {
		isin := isin
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := j.refreshOne(gctx, isin, till)
			switch outcome {
			case "updated":
				updated.Add(1)
			case "skipped":
				skipped.Add(1)
			default:
				failed.Add(1)
				j.log.Warn().Err(err).Str("isin", isin).Msg("Failed to refresh instrument")
			}
			j.outcomes.WithLabelValues(outcome).Inc()
			return nil
		})
	}
	err := g.Wait()

	summary := RefreshSummary{
		Updated:  int(updated.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
	}
	if err == nil && len(ids) > 0 && summary.Failed == len(ids) {
		err = fmt.Errorf("all %d instruments failed to refresh", len(ids))
	}
	j.record(summary, err)

	event := j.log.Info()
	if err != nil {
		event = j.log.Error().Err(err)
	}
	event.
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Price refresh finished")
	return summary, err
}

// refreshOne returns "updated", "skipped" (no usable candles) or "failed".
func (j *RefreshPricesJob) refreshOne(ctx context.Context, isin string, till time.Time) (string, error) {
	raw, err := j.fetcher.GetDailyCandles(ctx, isin, j.cfg.From, till)
	if err != nil {
		return "failed", err
	}
	if len(raw) == 0 {
		j.log.Warn().Str("isin", isin).Msg("Exchange returned no candles, skipping")
		return "skipped", nil
	}

	candles := make([]prices.Candle, len(raw))
	for i, c := range raw {
		candles[i] = prices.Candle{
			Date:   c.Begin,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
	}
	series, err := j.validator.SeriesFromCandles(isin, candles)
	if err != nil {
		j.log.Warn().Err(err).Str("isin", isin).Msg("No valid candles, skipping")
		return "skipped", nil
	}
	if err := j.cache.Upsert(ctx, series); err != nil {
		return "failed", err
	}
	return "updated", nil
}

func (j *RefreshPricesJob) record(summary RefreshSummary, err error) {
	j.statusMu.Lock()
	defer j.statusMu.Unlock()
	j.status.LastRun = j.now()
	j.status.Last = summary
	j.status.LastError = ""
	if err != nil {
		j.status.LastError = err.Error()
	}
}
