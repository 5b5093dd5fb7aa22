package api

import (
	"context"
	"net/http"

	apperrors "homeapi/internal/errors"
	"homeapi/internal/logging"
	"homeapi/internal/metrics"

	"github.com/gorilla/mux"
)

type MetricsHandler struct {
	store  metrics.Store
	logger *logging.Logger
}

func NewMetricsHandler(store metrics.Store, logger *logging.Logger) *MetricsHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &MetricsHandler{store: store, logger: logger}
}

// queryRange reads the optional {start}/{end} path variables.
func queryRange(r *http.Request) (metrics.Range, error) {
	vars := mux.Vars(r)
	start, hasStart := vars["start"]
	end, hasEnd := vars["end"]
	if !hasStart && !hasEnd {
		return metrics.Range{}, nil
	}
	return metrics.ParseRange(start, end)
}

func (h *MetricsHandler) Locations(w http.ResponseWriter, r *http.Request) {
	rng, err := queryRange(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	locations, err := h.store.Locations(r.Context(), rng)
	if err != nil {
		writeError(w, r, h.logger, apperrors.Internal("getting location data", err))
		return
	}
	if locations == nil {
		locations = []metrics.Location{}
	}
	writeJSON(w, http.StatusOK, locations)
}

func (h *MetricsHandler) UploadLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := metrics.DecodeLocations(r.Body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.store.InsertLocations(r.Context(), locations); err != nil {
		writeError(w, r, h.logger, apperrors.Internal("saving location data", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"inserted": len(locations)})
}

func (h *MetricsHandler) Visits(w http.ResponseWriter, r *http.Request) {
	rng, err := queryRange(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	visits, err := h.store.Visits(r.Context(), rng)
	if err != nil {
		writeError(w, r, h.logger, apperrors.Internal("getting visit data", err))
		return
	}
	if visits == nil {
		visits = []metrics.Visit{}
	}
	writeJSON(w, http.StatusOK, visits)
}

func (h *MetricsHandler) UploadVisits(w http.ResponseWriter, r *http.Request) {
	visits, err := metrics.DecodeVisits(r.Body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.store.InsertVisits(r.Context(), visits); err != nil {
		writeError(w, r, h.logger, apperrors.Internal("saving visit data", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"inserted": len(visits)})
}

func (h *MetricsHandler) TimeIn(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.TimeIn(r.Context())
	if err != nil {
		writeError(w, r, h.logger, apperrors.Internal("getting time in", err))
		return
	}
	if rows == nil {
		rows = []metrics.TimeIn{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *MetricsHandler) TopLimit(w http.ResponseWriter, r *http.Request) {
	h.programUsage(w, r, h.store.TopLimit)
}

func (h *MetricsHandler) Top(w http.ResponseWriter, r *http.Request) {
	h.programUsage(w, r, h.store.ProgramUsageByHour)
}

func (h *MetricsHandler) programUsage(w http.ResponseWriter, r *http.Request, query func(ctx context.Context) ([]metrics.ProgramUsage, error)) {
	rows, err := query(r.Context())
	if err != nil {
		writeError(w, r, h.logger, apperrors.Internal("getting program usage", err))
		return
	}
	if rows == nil {
		rows = []metrics.ProgramUsage{}
	}
	writeJSON(w, http.StatusOK, rows)
}
