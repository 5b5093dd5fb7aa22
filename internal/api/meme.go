package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "homeapi/internal/errors"
	"homeapi/internal/logging"
	"homeapi/internal/meme"
)

type MemeBoard interface {
	UpdateFromBytes(ctx context.Context, img []byte, remoteAddr string) (int, error)
	UpdateFromURL(ctx context.Context, rawURL, remoteAddr string) (int, error)
	Status(ctx context.Context, body string) ([]byte, error)
	BatteryHistory(since time.Time) ([]meme.BatteryReading, error)
}

type MemeHandler struct {
	board  MemeBoard
	logger *logging.Logger
	now    func() time.Time
}

func NewMemeHandler(board MemeBoard, logger *logging.Logger) *MemeHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &MemeHandler{board: board, logger: logger, now: time.Now}
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, apperrors.MalformedRequest("", fmt.Sprintf("reading request body: %v", err))
	}
	if int64(len(body)) > limit {
		return nil, apperrors.ValidationError(fmt.Sprintf("request body larger than %d bytes", limit), nil)
	}
	return body, nil
}

// Status is polled by the display with its battery level and the id it
// shows.
func (h *MemeHandler) Status(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, 1<<10)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out, err := h.board.Status(r.Context(), string(body))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(out)
}

func (h *MemeHandler) Update(w http.ResponseWriter, r *http.Request) {
	img, err := readBody(r, meme.MaxImageBytes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	id, err := h.board.UpdateFromBytes(r.Context(), img, remoteIP(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("X-Meme-ID", strconv.Itoa(id))
	w.WriteHeader(http.StatusOK)
}

func (h *MemeHandler) UpdateFromURL(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, 8<<10)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	id, err := h.board.UpdateFromURL(r.Context(), string(body), remoteIP(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("X-Meme-ID", strconv.Itoa(id))
	w.WriteHeader(http.StatusOK)
}

// Battery returns the battery log newest first, optionally limited to a
// lookback window such as ?limit=7d.
func (h *MemeHandler) Battery(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if limit := r.URL.Query().Get("limit"); limit != "" {
		d, err := meme.ParseLookback(limit)
		if err != nil {
			writeError(w, r, h.logger, apperrors.ValidationError(err.Error(), map[string]string{"field": "limit"}))
			return
		}
		since = h.now().Add(-d)
	}

	readings, err := h.board.BatteryHistory(since)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}
