package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTargetRisk is the volatility budget used when the caller has no risk profile.
const DefaultTargetRisk = 0.04

// MarketData is a snapshot of cached series. Bid and Ask are optional.
type MarketData struct {
	Open   *Frame
	Close  *Frame
	Volume *Frame
	Bid    *Frame
	Ask    *Frame
}

// PriceReader provides the latest cached market data.
type PriceReader interface {
	ReadAll(ctx context.Context) (*MarketData, error)
}

// ReferenceTable resolves instrument identifiers to display names and
// market-capitalization weights.
type ReferenceTable interface {
	Lookup(id string) (name string, marketWeight float64, err error)
}

// Config holds the model constants of the optimization pipeline.
type Config struct {
	RiskAversion float64
	Tau          float64
	RiskFreeRate float64
	Clean        CleanOptions
	StatDecimals int
}

// DefaultConfig returns δ = 2.5, τ = 0.05, rf = 0.02 and three-decimal output.
func DefaultConfig() Config {
	return Config{
		RiskAversion: DefaultRiskAversion,
		Tau:          DefaultTau,
		RiskFreeRate: DefaultRiskFreeRate,
		Clean:        DefaultCleanOptions(),
		StatDecimals: 3,
	}
}

// RunRequest is a resolved optimization request.
type RunRequest struct {
	Objective       Objective
	TargetReturn    *float64 // fraction in [0, 1]; required for ObjectiveReturn
	TargetRisk      float64  // risk profile volatility budget; zero means DefaultTargetRisk
	LiquidityMetric LiquidityMetric
	RiskFreeRate    *float64
}

// Allocation is one instrument's share of the optimized portfolio.
type Allocation struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Weight           float64 `json:"weight"`
	HistoricalReturn float64 `json:"historical_return"`
	PosteriorReturn  float64 `json:"posterior_return"`
}

// PortfolioResult is a complete, internally consistent optimization output.
type PortfolioResult struct {
	RunID              string             `json:"run_id"`
	Objective          Objective          `json:"objective"`
	LiquidityMetric    LiquidityMetric    `json:"liquidity_metric,omitempty"`
	Weights            map[string]float64 `json:"weights"`
	Allocations        []Allocation       `json:"allocations"`
	ExpectedReturn     float64            `json:"expected_return"`
	ExpectedVolatility float64            `json:"expected_volatility"`
	SharpeRatio        float64            `json:"sharpe_ratio"`
	TargetRisk         float64            `json:"target_risk"`
	RiskBudgetExceeded bool               `json:"risk_budget_exceeded"`
	ComputedAt         time.Time          `json:"computed_at"`
}

// RunResult pairs the presented result with the unrounded solver weights,
// ordered as Instruments.
type RunResult struct {
	Result      PortfolioResult `json:"result"`
	Instruments []string        `json:"instruments"`
	RawWeights  []float64       `json:"raw_weights"`
}

// Service runs the optimization pipeline:
// read cache -> clean -> estimate -> liquidity adjust -> blend -> optimize.
// It holds no mutable state, so concurrent runs are safe.
type Service struct {
	prices    PriceReader
	reference ReferenceTable
	optimizer *MVOptimizer
	metrics   *Metrics
	cfg       Config
	log       zerolog.Logger
}

// NewService creates the optimization service. metrics may be nil.
func NewService(prices PriceReader, reference ReferenceTable, cfg Config, metrics *Metrics, log zerolog.Logger) *Service {
	return &Service{
		prices:    prices,
		reference: reference,
		optimizer: NewMVOptimizer(log),
		metrics:   metrics,
		cfg:       cfg,
		log:       log.With().Str("service", "optimization").Logger(),
	}
}

// Run executes one optimization. Every failure wraps one of the package's
// error kinds, or the context error when ctx expires between stages.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	runID := uuid.NewString()
	start := time.Now()
	log := s.log.With().
		Str("run_id", runID).
		Str("objective", string(req.Objective)).
		Logger()

	res, err := s.run(ctx, runID, req, log)
	elapsed := time.Since(start)
	s.metrics.observe(req.Objective, err, elapsed)
	if err != nil {
		log.Warn().Err(err).Str("kind", ErrorKind(err)).Dur("duration", elapsed).Msg("Optimization failed")
		return nil, err
	}

	log.Info().
		Int("instruments", len(res.Instruments)).
		Float64("expected_return", res.Result.ExpectedReturn).
		Float64("expected_volatility", res.Result.ExpectedVolatility).
		Bool("risk_budget_exceeded", res.Result.RiskBudgetExceeded).
		Dur("duration", elapsed).
		Msg("Optimization completed")
	return res, nil
}

func (s *Service) run(ctx context.Context, runID string, req RunRequest, log zerolog.Logger) (*RunResult, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	data, err := s.prices.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read price cache: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	market, err := cleanMarketData(data)
	if err != nil {
		return nil, err
	}
	ids := market.Close.Columns

	names, marketWeights, err := s.lookupUniverse(ids)
	if err != nil {
		return nil, err
	}

	stats, err := EstimateStatistics(market.Close)
	if err != nil {
		return nil, fmt.Errorf("estimate statistics: %w", err)
	}
	log.Debug().
		Int("returns", stats.Returns).
		Float64("shrinkage", stats.Shrinkage).
		Msg("Estimated return statistics")

	var cov = stats.Cov
	if req.Objective == ObjectiveLiquidity {
		levels, err := ComputeLiquidityMetrics(market.Volume, market.Bid, market.Ask)
		if err != nil {
			return nil, fmt.Errorf("liquidity metrics: %w", err)
		}
		values, err := levels.Levels(req.LiquidityMetric)
		if err != nil {
			return nil, err
		}
		if cov, err = AdjustCovariance(stats.Cov, req.LiquidityMetric, values); err != nil {
			return nil, err
		}
	}

	prior, err := ImpliedReturns(cov, marketWeights, s.cfg.RiskAversion)
	if err != nil {
		return nil, fmt.Errorf("implied returns: %w", err)
	}
	posterior, err := Blend(prior, cov, EqualWeightViews(len(ids)), BlendOptions{Tau: s.cfg.Tau})
	if err != nil {
		return nil, fmt.Errorf("black-litterman: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := s.optimizer.Optimize(req.Objective, posterior, cov, req.TargetReturn)
	if err != nil {
		return nil, err
	}
	weights, err := CleanWeights(raw, s.cfg.Clean)
	if err != nil {
		return nil, err
	}
	rf := s.cfg.RiskFreeRate
	if req.RiskFreeRate != nil {
		rf = *req.RiskFreeRate
	}
	perf, err := PortfolioPerformance(weights, posterior, cov, rf)
	if err != nil {
		return nil, err
	}

	result := PortfolioResult{
		RunID:              runID,
		Objective:          req.Objective,
		Weights:            make(map[string]float64, len(ids)),
		Allocations:        make([]Allocation, len(ids)),
		ExpectedReturn:     roundTo(perf.ExpectedReturn, s.cfg.StatDecimals),
		ExpectedVolatility: roundTo(perf.ExpectedVolatility, s.cfg.StatDecimals),
		SharpeRatio:        roundTo(perf.SharpeRatio, s.cfg.StatDecimals),
		TargetRisk:         req.TargetRisk,
		RiskBudgetExceeded: perf.ExpectedVolatility > req.TargetRisk,
		ComputedAt:         time.Now().UTC(),
	}
	if req.Objective == ObjectiveLiquidity {
		result.LiquidityMetric = req.LiquidityMetric
	}
	for i, id := range ids {
		key := names[i]
		if _, dup := result.Weights[key]; dup {
			key = fmt.Sprintf("%s (%s)", names[i], id)
		}
		result.Weights[key] = weights[i]
		result.Allocations[i] = Allocation{
			ID:               id,
			Name:             names[i],
			Weight:           weights[i],
			HistoricalReturn: roundTo(stats.Mu[i], s.cfg.StatDecimals),
			PosteriorReturn:  roundTo(posterior[i], s.cfg.StatDecimals),
		}
	}
	sort.SliceStable(result.Allocations, func(a, b int) bool {
		return result.Allocations[a].Weight > result.Allocations[b].Weight
	})

	return &RunResult{
		Result:      result,
		Instruments: append([]string(nil), ids...),
		RawWeights:  raw,
	}, nil
}

func (s *Service) normalize(req RunRequest) (RunRequest, error) {
	if !req.Objective.Valid() {
		return req, fmt.Errorf("%w: unknown objective %q", ErrUnsupportedOption, req.Objective)
	}
	if req.LiquidityMetric == "" {
		req.LiquidityMetric = DefaultLiquidityMetric
	}
	if !req.LiquidityMetric.Valid() {
		return req, fmt.Errorf("%w: unknown liquidity metric %q", ErrUnsupportedOption, req.LiquidityMetric)
	}
	if req.Objective == ObjectiveReturn {
		if req.TargetReturn == nil {
			return req, fmt.Errorf("%w: target return required for return objective", ErrMissingParameter)
		}
		if t := *req.TargetReturn; math.IsNaN(t) || t < 0 || t > 1 {
			return req, fmt.Errorf("%w: target return %v outside [0, 1]", ErrUnsupportedOption, t)
		}
	}
	if req.TargetRisk < 0 || math.IsNaN(req.TargetRisk) {
		return req, fmt.Errorf("%w: target risk %v is negative", ErrUnsupportedOption, req.TargetRisk)
	}
	if req.TargetRisk == 0 {
		req.TargetRisk = DefaultTargetRisk
	}
	return req, nil
}

// lookupUniverse resolves display names and market weights renormalized
// over the instruments present in the price data.
func (s *Service) lookupUniverse(ids []string) ([]string, []float64, error) {
	names := make([]string, len(ids))
	weights := make([]float64, len(ids))
	total := 0.0
	for i, id := range ids {
		name, weight, err := s.reference.Lookup(id)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrReferenceLookup, id, err)
		}
		names[i] = name
		weights[i] = weight
		total += weight
	}
	if !(total > 0) {
		return nil, nil, fmt.Errorf("%w: reference weights of cached instruments sum to zero", ErrInsufficientData)
	}
	for i := range weights {
		weights[i] /= total
	}
	return names, weights, nil
}

// cleanMarketData reconciles column order with the close table and forward
// fills each table independently.
func cleanMarketData(data *MarketData) (*MarketData, error) {
	if data == nil || data.Close == nil || data.Close.Cols() == 0 {
		return nil, fmt.Errorf("%w: price cache is empty", ErrInsufficientData)
	}
	open, volume, err := AlignColumns(data.Open, data.Close, data.Volume)
	if err != nil {
		return nil, err
	}
	return &MarketData{
		Open:   ForwardFill(open),
		Close:  ForwardFill(data.Close),
		Volume: ForwardFill(volume),
		Bid:    data.Bid,
		Ask:    data.Ask,
	}, nil
}
