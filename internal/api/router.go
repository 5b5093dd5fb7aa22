// Package api exposes the notes updater, metrics and meme board over HTTP.
package api

import (
	"net/http"

	apperrors "homeapi/internal/errors"
	"homeapi/internal/logging"

	"github.com/gorilla/mux"
)

// Handlers groups the route handlers. Nil members leave their routes
// unregistered.
type Handlers struct {
	Notes   *NotesHandler
	Metrics *MetricsHandler
	Meme    *MemeHandler
	Events  http.Handler
	Logger  *logging.Logger
}

func NewRouter(h Handlers) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)

	if h.Notes != nil {
		r.HandleFunc("/notes", h.Notes.Get).Methods(http.MethodGet)
		r.HandleFunc("/notes/update", h.Notes.Update).Methods(http.MethodPost)
		r.HandleFunc("/notes/history", h.Notes.History).Methods(http.MethodGet)
		r.HandleFunc("/notes/revisions", h.Notes.Revisions).Methods(http.MethodGet)
		r.HandleFunc("/notes/revisions/{id}", h.Notes.Revision).Methods(http.MethodGet)
	}
	if h.Events != nil {
		r.Handle("/notes/events", h.Events).Methods(http.MethodGet)
	}

	if h.Metrics != nil {
		r.HandleFunc("/locations", h.Metrics.Locations).Methods(http.MethodGet)
		r.HandleFunc("/locations", h.Metrics.UploadLocations).Methods(http.MethodPost)
		r.HandleFunc("/locations/{start}/{end}", h.Metrics.Locations).Methods(http.MethodGet)
		r.HandleFunc("/visits", h.Metrics.Visits).Methods(http.MethodGet)
		r.HandleFunc("/visits", h.Metrics.UploadVisits).Methods(http.MethodPost)
		r.HandleFunc("/visits/{start}/{end}", h.Metrics.Visits).Methods(http.MethodGet)
		r.HandleFunc("/timein", h.Metrics.TimeIn).Methods(http.MethodGet)
		r.HandleFunc("/toplimit", h.Metrics.TopLimit).Methods(http.MethodGet)
		r.HandleFunc("/top", h.Metrics.Top).Methods(http.MethodGet)
	}

	if h.Meme != nil {
		r.HandleFunc("/battery", h.Meme.Battery).Methods(http.MethodGet)
		r.HandleFunc("/meme", h.Meme.Update).Methods(http.MethodPost)
		r.HandleFunc("/meme/url", h.Meme.UpdateFromURL).Methods(http.MethodPost)
		r.HandleFunc("/meme/status", h.Meme.Status).Methods(http.MethodPost)
	}

	logger := h.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, logger, apperrors.NotFound("no route for "+req.Method+" "+req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Type:    apperrors.ErrorType("METHOD_NOT_ALLOWED"),
			Message: req.Method + " is not allowed on " + req.URL.Path,
		})
	})

	return r
}
