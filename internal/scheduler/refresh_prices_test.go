package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/fundfolio/internal/clients/moex"
	"github.com/aristath/fundfolio/internal/modules/prices"
	testdb "github.com/aristath/fundfolio/internal/testing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticUniverse []string

func (u staticUniverse) FetchUniverse() []string { return u }

type fakeFetcher struct {
	mu      sync.Mutex
	candles map[string][]moex.Candle
	errs    map[string]error
	calls   []string
	block   chan struct{}
}

func (f *fakeFetcher) GetDailyCandles(ctx context.Context, secid string, _, _ time.Time) ([]moex.Candle, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, secid)
	f.mu.Unlock()
	if err := f.errs[secid]; err != nil {
		return nil, err
	}
	return f.candles[secid], nil
}

func candles(closes ...float64) []moex.Candle {
	out := make([]moex.Candle, len(closes))
	for i, c := range closes {
		out[i] = moex.Candle{
			Begin:  time.Date(2024, 3, 1+i, 0, 0, 0, 0, time.UTC),
			Open:   c,
			Close:  c,
			High:   c,
			Low:    c,
			Volume: 10,
		}
	}
	return out
}

func newRefreshJob(t *testing.T, ids []string, fetcher *fakeFetcher, reg prometheus.Registerer) (*RefreshPricesJob, *prices.Cache) {
	t.Helper()
	cache := prices.NewCache(testdb.NewTestDB(t, "prices"), zerolog.Nop())
	job := NewRefreshPricesJob(
		staticUniverse(ids),
		fetcher,
		cache,
		prices.NewValidator(zerolog.Nop()),
		RefreshConfig{From: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), Concurrency: 2},
		reg,
		zerolog.Nop(),
	)
	return job, cache
}

func TestRefreshPricesJob_Refresh(t *testing.T) {
	fetcher := &fakeFetcher{
		candles: map[string][]moex.Candle{
			"RU000A0JR282": candles(100, 101, 102),
			"RU000A0JPGF2": candles(50, 51),
			"RU000A0JRHC0": nil,
			"RU000A0ZZ1S2": candles(-1),
		},
		errs: map[string]error{"RU000A1022Z1": errors.New("gateway timeout")},
	}
	ids := []string{"RU000A0JR282", "RU000A0JPGF2", "RU000A0JRHC0", "RU000A0ZZ1S2", "RU000A1022Z1"}
	reg := prometheus.NewRegistry()
	job, cache := newRefreshJob(t, ids, fetcher, reg)

	summary, err := job.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, fetcher.calls, len(ids))

	series, err := cache.Get(context.Background(), "RU000A0JR282")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 102}, series.Closes)

	_, err = cache.Get(context.Background(), "RU000A0JRHC0")
	assert.ErrorIs(t, err, prices.ErrNotFound)

	assert.Equal(t, 2.0, testutil.ToFloat64(job.outcomes.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(job.outcomes.WithLabelValues("failed")))

	status := job.Status()
	assert.False(t, status.Running)
	assert.Empty(t, status.LastError)
	assert.Equal(t, summary, status.Last)
}

func TestRefreshPricesJob_AllFailed(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{
		"RU000A0JR282": errors.New("down"),
		"RU000A0JPGF2": errors.New("down"),
	}}
	job, _ := newRefreshJob(t, []string{"RU000A0JR282", "RU000A0JPGF2"}, fetcher, nil)

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, job.Status().LastError, "all 2 instruments failed")
}

func TestRefreshPricesJob_RejectsOverlappingRuns(t *testing.T) {
	fetcher := &fakeFetcher{
		candles: map[string][]moex.Candle{"RU000A0JR282": candles(100)},
		block:   make(chan struct{}),
	}
	job, _ := newRefreshJob(t, []string{"RU000A0JR282"}, fetcher, nil)

	require.NoError(t, job.RefreshAsync())
	assert.Eventually(t, func() bool { return job.Status().Running }, time.Second, 5*time.Millisecond)

	_, err := job.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInProgress)
	assert.ErrorIs(t, job.RefreshAsync(), ErrRefreshInProgress)

	close(fetcher.block)
	assert.Eventually(t, func() bool { return !job.Status().Running }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, job.Status().Last.Updated)
}

func TestRefreshPricesJob_Canceled(t *testing.T) {
	fetcher := &fakeFetcher{candles: map[string][]moex.Candle{"RU000A0JR282": candles(100)}}
	job, _ := newRefreshJob(t, []string{"RU000A0JR282"}, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := job.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
