package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/api/svc"
	"github.com/bikeshrana/cnquant/pkg/types"
)

// BacktestsHandler triggers rotation/portfolio backtest runs (spec.md
// §4.3/§4.4) and reports their outcome.
type BacktestsHandler struct {
	service *svc.Service
	logger  zerolog.Logger
}

// NewBacktestsHandler creates a new backtests handler.
func NewBacktestsHandler(service *svc.Service, logger zerolog.Logger) *BacktestsHandler {
	return &BacktestsHandler{service: service, logger: logger}
}

// Run executes {taskName} through the engine named by the "type" query
// parameter ("rotation" or "portfolio", default "rotation").
func (h *BacktestsHandler) Run(w http.ResponseWriter, r *http.Request) {
	taskName := chi.URLParam(r, "taskName")

	kind := types.BacktestSingle
	if r.URL.Query().Get("type") == "portfolio" {
		kind = types.BacktestPortfolio
	}

	report, err := h.service.RunBacktest(r.Context(), taskName, kind)
	if err != nil {
		h.logger.Error().Err(err).Str("task", taskName).Msg("backtest run failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if report.Status == types.StatusFailed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}
