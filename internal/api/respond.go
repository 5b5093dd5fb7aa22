package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	apperrors "homeapi/internal/errors"
	"homeapi/internal/logging"

	"go.uber.org/zap"
)

type errorResponse struct {
	Type    apperrors.ErrorType `json:"type"`
	Message string              `json:"message"`
	Details any                 `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError replies with the JSON form of err. Errors without a type are
// reported as INTERNAL.
func writeError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	resp := errorResponse{
		Type:    apperrors.TypeOf(err),
		Message: err.Error(),
	}
	var appErr *apperrors.Error
	if apperrors.As(err, &appErr) {
		resp.Details = appErr.Details
	}

	status := apperrors.StatusCode(err)
	log := logger.WithRequestID(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		log.Info("request rejected", zap.String("path", r.URL.Path), zap.String("type", string(resp.Type)), zap.Error(err))
	}

	writeJSON(w, status, resp)
}

// remoteIP strips the port from the client address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// queryLimit reads a non-negative ?limit=N, defaulting to def.
func queryLimit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperrors.ValidationError("limit must be a non-negative integer", map[string]string{"field": "limit"})
	}
	return n, nil
}
