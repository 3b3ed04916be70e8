// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Runner executes optimization requests.
type Runner interface {
	Run(ctx context.Context, req optimization.RunRequest) (*optimization.RunResult, error)
}

// runRequest is the JSON body of POST /optimizer/run.
type runRequest struct {
	Objective       string   `json:"objective" validate:"required,oneof=risk return liquidity"`
	TargetReturn    *float64 `json:"target_return" validate:"omitempty,gte=0,lte=1"`
	TargetRisk      float64  `json:"target_risk" validate:"gte=0,lte=1"`
	LiquidityMetric string   `json:"liquidity_metric"`
	RiskFreeRate    *float64 `json:"risk_free_rate" validate:"omitempty,gte=-1,lte=1"`
}

// Handler handles optimization HTTP requests
type Handler struct {
	service  Runner
	validate *validator.Validate
	timeout  time.Duration
	log      zerolog.Logger
}

// NewHandler creates a new optimization handler. Each run is bounded by timeout.
func NewHandler(service Runner, timeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		timeout:  timeout,
		log:      log.With().Str("handler", "optimization").Logger(),
	}
}

// HandleGetOptions handles GET /api/optimizer/
func (h *Handler) HandleGetOptions(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"data": map[string]interface{}{
			"objectives":          optimization.Objectives(),
			"liquidity_metrics":   optimization.LiquidityMetrics(),
			"default_metric":      optimization.DefaultLiquidityMetric,
			"default_target_risk": optimization.DefaultTargetRisk,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, http.StatusOK, response)
}

// HandleRun handles POST /api/optimizer/run
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", validationMessage(err))
		return
	}

	metric, err := optimization.ParseLiquidityMetric(body.LiquidityMetric)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, optimization.ErrorKind(err), err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.service.Run(ctx, optimization.RunRequest{
		Objective:       optimization.Objective(body.Objective),
		TargetReturn:    body.TargetReturn,
		TargetRisk:      body.TargetRisk,
		LiquidityMetric: metric,
		RiskFreeRate:    body.RiskFreeRate,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Msg("Optimization run failed")
		}
		h.writeError(w, status, optimization.ErrorKind(err), err.Error())
		return
	}

	response := map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, http.StatusOK, response)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, optimization.ErrInputShape),
		errors.Is(err, optimization.ErrMissingParameter),
		errors.Is(err, optimization.ErrUnsupportedOption),
		errors.Is(err, optimization.ErrTargetUnattainable):
		return http.StatusBadRequest
	case errors.Is(err, optimization.ErrInsufficientData),
		errors.Is(err, optimization.ErrNumericDegeneracy),
		errors.Is(err, optimization.ErrReferenceLookup):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "gte", "lte":
		return fe.Field() + " is out of range"
	default:
		return fe.Field() + " is invalid"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": message,
		"kind":  kind,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
