package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	apperrors "homeapi/internal/errors"
	"homeapi/internal/journal"
	"homeapi/internal/logging"
	"homeapi/internal/notes"
	"homeapi/internal/vcs"

	"github.com/gorilla/mux"
)

type NotesService interface {
	Apply(ctx context.Context, req notes.EditRequest) (*notes.Result, error)
	Current(ctx context.Context) (*notes.Document, error)
}

type SnapshotLog interface {
	Log(ctx context.Context, path string, limit int) ([]vcs.Snapshot, error)
}

type RevisionStore interface {
	List(ctx context.Context, limit int) ([]*journal.Revision, error)
	Content(ctx context.Context, id string) ([]byte, error)
}

type NotesHandler struct {
	notes     NotesService
	path      string
	snapshots SnapshotLog
	revisions RevisionStore
	logger    *logging.Logger
}

// NewNotesHandler serves the document at path. snapshots and revisions
// may be nil, in which case their endpoints report NOT_FOUND.
func NewNotesHandler(svc NotesService, path string, snapshots SnapshotLog, revisions RevisionStore, logger *logging.Logger) *NotesHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &NotesHandler{
		notes:     svc,
		path:      path,
		snapshots: snapshots,
		revisions: revisions,
		logger:    logger,
	}
}

func setDocumentHeaders(w http.ResponseWriter, checksum uint32, length int) {
	w.Header().Set("X-Notes-Checksum", strconv.FormatUint(uint64(checksum), 10))
	w.Header().Set("X-Notes-Length", strconv.Itoa(length))
}

func (h *NotesHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.notes.Current(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	setDocumentHeaders(w, doc.Checksum, doc.Length)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Last-Modified", doc.ModTime.UTC().Format(http.TimeFormat))
	w.Write([]byte(doc.Content))
}

// Update applies one edit request. Success is an empty 200 reply.
func (h *NotesHandler) Update(w http.ResponseWriter, r *http.Request) {
	req, err := notes.DecodeEditRequest(r.Body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := notes.WithOrigin(r.Context(), remoteIP(r))
	res, err := h.notes.Apply(ctx, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	setDocumentHeaders(w, res.Checksum, res.Length)
	if res.Commit != "" {
		w.Header().Set("X-Notes-Commit", res.Commit)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *NotesHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		writeError(w, r, h.logger, apperrors.NotFound("snapshot history is not configured"))
		return
	}
	limit, err := queryLimit(r, 50)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	snapshots, err := h.snapshots.Log(r.Context(), h.path, limit)
	if err != nil {
		writeError(w, r, h.logger, apperrors.VersioningError("reading snapshot history", err))
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (h *NotesHandler) Revisions(w http.ResponseWriter, r *http.Request) {
	if h.revisions == nil {
		writeError(w, r, h.logger, apperrors.NotFound("revision journal is not configured"))
		return
	}
	limit, err := queryLimit(r, 50)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	revisions, err := h.revisions.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, apperrors.Internal("listing revisions", err))
		return
	}
	writeJSON(w, http.StatusOK, revisions)
}

func (h *NotesHandler) Revision(w http.ResponseWriter, r *http.Request) {
	if h.revisions == nil {
		writeError(w, r, h.logger, apperrors.NotFound("revision journal is not configured"))
		return
	}

	id := mux.Vars(r)["id"]
	content, err := h.revisions.Content(r.Context(), id)
	if stderrors.Is(err, journal.ErrNotFound) {
		writeError(w, r, h.logger, apperrors.NotFound("revision "+id+" not found"))
		return
	}
	if err != nil {
		writeError(w, r, h.logger, apperrors.Internal("reading revision", err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(content)
}
