// Package handlers provides HTTP handlers for the fund universe.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/fundfolio/internal/modules/charts"
	"github.com/aristath/fundfolio/internal/modules/prices"
	"github.com/aristath/fundfolio/internal/modules/universe"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ReferenceSource exposes the reference table rows.
type ReferenceSource interface {
	Instruments() []universe.Instrument
	Instrument(id string) (universe.Instrument, error)
}

// CoverageReader summarizes the cached price series.
type CoverageReader interface {
	List(ctx context.Context) ([]prices.Summary, error)
}

// ChartProvider returns price history points for one instrument.
type ChartProvider interface {
	GetSecurityChart(ctx context.Context, isin string, dateRange string) ([]charts.ChartDataPoint, error)
	GetSecurityChartAggregated(ctx context.Context, isin string, period string) ([]charts.ChartDataPoint, error)
}

// InstrumentView is a reference row joined with its cache coverage.
type InstrumentView struct {
	universe.Instrument
	Cached       bool       `json:"cached"`
	Observations int        `json:"observations"`
	LastDate     *time.Time `json:"last_date"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

// UniverseHandlers serves the instrument listing and price charts.
type UniverseHandlers struct {
	reference ReferenceSource
	coverage  CoverageReader
	charts    ChartProvider
	log       zerolog.Logger
}

// NewUniverseHandlers creates the universe handlers.
func NewUniverseHandlers(reference ReferenceSource, coverage CoverageReader, charts ChartProvider, log zerolog.Logger) *UniverseHandlers {
	return &UniverseHandlers{
		reference: reference,
		coverage:  coverage,
		charts:    charts,
		log:       log.With().Str("handler", "universe").Logger(),
	}
}

// RegisterRoutes registers universe routes
func (h *UniverseHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/instruments", func(r chi.Router) {
		r.Get("/", h.HandleGetInstruments)
		r.Get("/{isin}", h.HandleGetInstrument)
		r.Get("/{isin}/chart", h.HandleGetChart)
	})
}

// HandleGetInstruments lists every reference row with cache coverage.
// GET /api/instruments
func (h *UniverseHandlers) HandleGetInstruments(w http.ResponseWriter, r *http.Request) {
	coverage, err := h.coverageByISIN(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list price cache")
		h.writeError(w, http.StatusInternalServerError, "Failed to list price cache")
		return
	}

	instruments := h.reference.Instruments()
	views := make([]InstrumentView, 0, len(instruments))
	cached := 0
	for _, inst := range instruments {
		view := newView(inst, coverage)
		if view.Cached {
			cached++
		}
		views = append(views, view)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": views,
		"metadata": map[string]interface{}{
			"total":     len(views),
			"cached":    cached,
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetInstrument returns one reference row with cache coverage.
// GET /api/instruments/{isin}
func (h *UniverseHandlers) HandleGetInstrument(w http.ResponseWriter, r *http.Request) {
	isin, ok := h.isinParam(w, r)
	if !ok {
		return
	}

	inst, err := h.reference.Instrument(isin)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Instrument not found")
		return
	}
	coverage, err := h.coverageByISIN(r.Context())
	if err != nil {
		h.log.Error().Err(err).Str("isin", isin).Msg("Failed to list price cache")
		h.writeError(w, http.StatusInternalServerError, "Failed to list price cache")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": newView(inst, coverage),
	})
}

// HandleGetChart returns the close price history of one instrument.
// GET /api/instruments/{isin}/chart?range=1Y[&aggregate=true]
func (h *UniverseHandlers) HandleGetChart(w http.ResponseWriter, r *http.Request) {
	isin, ok := h.isinParam(w, r)
	if !ok {
		return
	}

	dateRange := r.URL.Query().Get("range")
	if dateRange == "" {
		dateRange = "1Y"
	}
	aggregate := r.URL.Query().Get("aggregate") == "true"

	var (
		points []charts.ChartDataPoint
		err    error
	)
	if aggregate {
		if dateRange != "1Y" && dateRange != "5Y" {
			h.writeError(w, http.StatusBadRequest, "Aggregated charts support range 1Y or 5Y")
			return
		}
		points, err = h.charts.GetSecurityChartAggregated(r.Context(), isin, dateRange)
	} else {
		points, err = h.charts.GetSecurityChart(r.Context(), isin, dateRange)
	}
	if errors.Is(err, prices.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "No cached prices for instrument")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("isin", isin).Msg("Failed to build chart")
		h.writeError(w, http.StatusInternalServerError, "Failed to build chart")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": points,
		"metadata": map[string]interface{}{
			"isin":       isin,
			"range":      dateRange,
			"aggregated": aggregate,
			"points":     len(points),
		},
	})
}

func (h *UniverseHandlers) isinParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	isin := strings.TrimSpace(strings.ToUpper(chi.URLParam(r, "isin")))
	if !universe.IsISIN(isin) {
		h.writeError(w, http.StatusBadRequest, "Invalid ISIN format")
		return "", false
	}
	return isin, true
}

func (h *UniverseHandlers) coverageByISIN(ctx context.Context) (map[string]prices.Summary, error) {
	summaries, err := h.coverage.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]prices.Summary, len(summaries))
	for _, s := range summaries {
		out[s.ISIN] = s
	}
	return out, nil
}

func newView(inst universe.Instrument, coverage map[string]prices.Summary) InstrumentView {
	view := InstrumentView{Instrument: inst}
	if s, ok := coverage[inst.ISIN]; ok {
		view.Cached = true
		view.Observations = s.Observations
		if !s.LastDate.IsZero() {
			last := s.LastDate
			view.LastDate = &last
		}
		updated := s.UpdatedAt
		view.UpdatedAt = &updated
	}
	return view
}

func (h *UniverseHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *UniverseHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

var _ ReferenceSource = (*universe.ReferenceTable)(nil)
