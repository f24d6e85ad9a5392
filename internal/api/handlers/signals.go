package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/api/svc"
)

// SignalsHandler exposes per-task signal evaluation (spec.md §4.2).
type SignalsHandler struct {
	service *svc.Service
	logger  zerolog.Logger
}

// NewSignalsHandler creates a new signals handler.
func NewSignalsHandler(service *svc.Service, logger zerolog.Logger) *SignalsHandler {
	return &SignalsHandler{service: service, logger: logger}
}

// Evaluate runs the signal generator for {taskName} on the date query
// parameter (default: today), and returns the buy/sell candidate lists.
func (h *SignalsHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	taskName := chi.URLParam(r, "taskName")

	date := time.Now().Truncate(24 * time.Hour)
	if ds := r.URL.Query().Get("date"); ds != "" {
		parsed, err := time.Parse("2006-01-02", ds)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		date = parsed
	}

	result, err := h.service.EvaluateSignals(r.Context(), taskName, date)
	if err != nil {
		h.logger.Error().Err(err).Str("task", taskName).Msg("signal evaluation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListTasks returns every loadable strategy declaration under the
// configured strategy directory.
func (h *SignalsHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, errs := h.service.ListTasks()
	response := map[string]interface{}{"tasks": tasks}
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		response["load_errors"] = msgs
	}
	writeJSON(w, http.StatusOK, response)
}
