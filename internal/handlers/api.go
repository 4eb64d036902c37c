package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hdb-insights/internal/errors"
	"hdb-insights/internal/observability"
	"hdb-insights/internal/services"
)

const maxTransactionRows = 500

type APIHandlers struct {
	insights *services.Insights
	logger   *slog.Logger
}

func NewAPIHandlers(insights *services.Insights, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		insights: insights,
		logger:   logger,
	}
}

// parseViewQuery reads the filter parameters shared by every data endpoint.
// The sample size is clamped here so the pipeline always sees a valid value.
func parseViewQuery(r *http.Request, insights *services.Insights) (services.Query, error) {
	values := r.URL.Query()
	q := services.Query{}

	q.SampleSize = insights.DefaultSample()
	if raw := values.Get("sample"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, errors.BadRequest("sample must be an integer")
		}
		q.SampleSize = insights.ClampSample(n)
	}

	for _, raw := range values["towns"] {
		for _, town := range strings.Split(raw, ",") {
			if town = strings.TrimSpace(town); town != "" {
				q.Towns = append(q.Towns, town)
			}
		}
	}

	minYear, maxYear, hasYears := insights.YearBounds()
	if hasYears {
		q.MinYear, q.MaxYear = minYear, maxYear
		if raw := values.Get("year_min"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return q, errors.BadRequest("year_min must be an integer")
			}
			q.MinYear = n
		}
		if raw := values.Get("year_max"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return q, errors.BadRequest("year_max must be an integer")
			}
			q.MaxYear = n
		}
		if q.MinYear > q.MaxYear {
			return q, errors.BadRequest("year_min cannot exceed year_max")
		}
	}

	return q, nil
}

func (h *APIHandlers) ensure(w http.ResponseWriter, r *http.Request) bool {
	if err := h.insights.Ensure(r.Context()); err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return false
	}
	return true
}

// HandleFilters describes the available controls: town choices, year bounds
// and sample size bounds, plus their defaults.
func (h *APIHandlers) HandleFilters(w http.ResponseWriter, r *http.Request) {
	if !h.ensure(w, r) {
		return
	}

	data := map[string]any{
		"towns":          h.insights.Towns(),
		"default_towns":  h.insights.DefaultTowns(),
		"total_rows":     h.insights.RowCount(),
		"sample_min":     services.MinSampleSize,
		"sample_max":     h.insights.MaxSample(),
		"sample_step":    services.SampleStep,
		"sample_default": h.insights.DefaultSample(),
		"has_year_range": h.insights.HasYearRange(),
	}
	if minYear, maxYear, ok := h.insights.YearBounds(); ok {
		data["year_min"] = minYear
		data["year_max"] = maxYear
	}

	errors.WriteSuccessWithHeaders(w, data, map[string]string{
		"Cache-Control": "public, max-age=300",
	})
}

func (h *APIHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if !h.ensure(w, r) {
		return
	}

	q, err := parseViewQuery(r, h.insights)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}

	vr, err := h.insights.View(q)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}

	errors.WriteSuccess(w, vr.Metrics)
}

func (h *APIHandlers) HandlePivot(w http.ResponseWriter, r *http.Request) {
	if !h.ensure(w, r) {
		return
	}

	q, err := parseViewQuery(r, h.insights)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}

	vr, err := h.insights.View(q)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}

	if vr.Pivot == nil {
		errors.WriteError(w, h.logger,
			errors.InsufficientChartData("not enough town/flat type combinations to chart"),
			observability.GetRequestID(r.Context()))
		return
	}

	errors.WriteSuccess(w, vr.Pivot)
}

func (h *APIHandlers) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	if !h.ensure(w, r) {
		return
	}

	q, err := parseViewQuery(r, h.insights)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}

	orderBy := r.URL.Query().Get("order_by")
	descending := true
	switch r.URL.Query().Get("dir") {
	case "", "desc":
	case "asc":
		descending = false
	default:
		errors.WriteError(w, h.logger, errors.BadRequest("dir must be asc or desc"),
			observability.GetRequestID(r.Context()))
		return
	}

	ds, err := h.insights.Transactions(q, orderBy, descending, maxTransactionRows)
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}

	errors.WriteSuccess(w, ds)
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	errors.WriteSuccess(w, healthData)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.insights.Stats()

	errors.WriteSuccess(w, stats)
}
