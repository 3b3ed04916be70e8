// Package moex provides a client for the Moscow Exchange ISS API.
package moex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://iss.moex.com"
	defaultBoard   = "TQIF" // Closed-end investment funds board
	dailyInterval  = 24
	maxPages       = 200
	issDateLayout  = "2006-01-02"
	issTimeLayout  = "2006-01-02 15:04:05"
)

// Candle is one ISS candle.
type Candle struct {
	Begin  time.Time
	Open   float64
	Close  float64
	High   float64
	Low    float64
	Value  float64 // Turnover in rubles
	Volume float64 // Units traded
}

// Config configures the client. Zero values fall back to defaults.
type Config struct {
	BaseURL string
	Board   string
	RPS     float64
	Timeout time.Duration
}

// Client is the ISS client. Every request passes a rate limiter and a
// circuit breaker shared by all callers.
type Client struct {
	baseURL    string
	board      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// NewClient creates a new ISS client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Board == "" {
		cfg.Board = defaultBoard
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	log = log.With().Str("client", "moex").Logger()
	settings := gobreaker.Settings{
		Name:     "moex-iss",
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		board:      cfg.Board,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		log:        log,
	}
}

// issTable is the ISS columnar block: column names plus rows of values.
type issTable struct {
	Columns []string            `json:"columns"`
	Data    [][]json.RawMessage `json:"data"`
}

type candlesResponse struct {
	Candles issTable `json:"candles"`
}

// GetDailyCandles returns daily candles of secid between from and till
// inclusive, following ISS pagination until an empty page.
func (c *Client) GetDailyCandles(ctx context.Context, secid string, from, till time.Time) ([]Candle, error) {
	endpoint := fmt.Sprintf("%s/iss/engines/stock/markets/shares/boards/%s/securities/%s/candles.json",
		c.baseURL, url.PathEscape(c.board), url.PathEscape(secid))

	var out []Candle
	for page := 0; page < maxPages; page++ {
		query := url.Values{}
		query.Set("from", from.Format(issDateLayout))
		query.Set("till", till.Format(issDateLayout))
		query.Set("interval", strconv.Itoa(dailyInterval))
		query.Set("start", strconv.Itoa(len(out)))

		var resp candlesResponse
		if err := c.getJSON(ctx, endpoint+"?"+query.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("candles for %s: %w", secid, err)
		}
		if len(resp.Candles.Data) == 0 {
			c.log.Debug().Str("secid", secid).Int("candles", len(out)).Msg("Fetched candles")
			return out, nil
		}
		candles, err := parseCandles(resp.Candles)
		if err != nil {
			return nil, fmt.Errorf("candles for %s: %w", secid, err)
		}
		out = append(out, candles...)
	}
	return nil, fmt.Errorf("candles for %s: more than %d pages", secid, maxPages)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, dst interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ISS returned status %d", resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body.([]byte), dst); err != nil {
		return fmt.Errorf("failed to decode ISS response: %w", err)
	}
	return nil
}

func parseCandles(t issTable) ([]Candle, error) {
	col := make(map[string]int, len(t.Columns))
	for i, name := range t.Columns {
		col[name] = i
	}
	for _, name := range []string{"open", "close", "begin"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("ISS candles missing column %q", name)
		}
	}

	out := make([]Candle, 0, len(t.Data))
	for r, row := range t.Data {
		number := func(name string) (float64, error) {
			i, ok := col[name]
			if !ok || i >= len(row) || string(row[i]) == "null" {
				return 0, nil
			}
			var v float64
			if err := json.Unmarshal(row[i], &v); err != nil {
				return 0, fmt.Errorf("row %d column %s: %w", r, name, err)
			}
			return v, nil
		}

		var c Candle
		var err error
		fields := []struct {
			name string
			dst  *float64
		}{
			{"open", &c.Open}, {"close", &c.Close}, {"high", &c.High},
			{"low", &c.Low}, {"value", &c.Value}, {"volume", &c.Volume},
		}
		for _, f := range fields {
			if *f.dst, err = number(f.name); err != nil {
				return nil, err
			}
		}

		i := col["begin"]
		if i >= len(row) {
			return nil, fmt.Errorf("row %d has no begin", r)
		}
		var begin string
		if err := json.Unmarshal(row[i], &begin); err != nil {
			return nil, fmt.Errorf("row %d column begin: %w", r, err)
		}
		if c.Begin, err = time.ParseInLocation(issTimeLayout, begin, time.UTC); err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		out = append(out, c)
	}
	return out, nil
}
