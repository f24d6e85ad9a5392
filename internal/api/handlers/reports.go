package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/api/svc"
	"github.com/bikeshrana/cnquant/internal/store"
)

// ReportsHandler serves previously saved BacktestReports (spec.md §4.5
// persistence).
type ReportsHandler struct {
	service *svc.Service
	logger  zerolog.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(service *svc.Service, logger zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{service: service, logger: logger}
}

// Get returns the most recently saved report for {taskName}.
func (h *ReportsHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskName := chi.URLParam(r, "taskName")

	report, err := h.service.GetReport(r.Context(), taskName)
	if err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			writeError(w, http.StatusNotFound, "no saved report for task "+taskName)
			return
		}
		h.logger.Error().Err(err).Str("task", taskName).Msg("failed to load report")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}
