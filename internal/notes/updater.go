package notes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"homeapi/internal/atomicfile"
	apperrors "homeapi/internal/errors"
	"homeapi/internal/filelock"
	"homeapi/internal/journal"
	"homeapi/internal/logging"
	"homeapi/internal/notify"

	"go.uber.org/zap"
)

// Versioner snapshots the document into version control.
type Versioner interface {
	CheckForChanges(ctx context.Context, path string) (bool, error)
	CommitSnapshot(ctx context.Context, path, message string) (string, error)
}

// Recorder keeps a record of every persisted revision.
type Recorder interface {
	Record(ctx context.Context, rev *journal.Revision, content []byte) error
}

type Config struct {
	// Path of the document.
	Path string
	// LockPath is the advisory lock file serializing updates.
	LockPath string
	// LockTimeout bounds the wait for the lock. Zero waits indefinitely.
	LockTimeout time.Duration
	// CommitMessage is used for every snapshot. It may be empty.
	CommitMessage string
}

// Result describes the document after a successful update.
type Result struct {
	Checksum uint32 `json:"checksum"`
	Length   int    `json:"length"`
	Bytes    int    `json:"bytes"`
	Changed  bool   `json:"changed"`
	Commit   string `json:"commit,omitempty"`
	Revision string `json:"revision,omitempty"`
}

// Document is the current state of the document.
type Document struct {
	Content  string
	Checksum uint32
	Length   int
	ModTime  time.Time
}

// Updater applies edit requests to the document. It holds no state
// between calls; all serialization happens through the lock file, so
// any number of Updaters in any number of processes may share a document.
type Updater struct {
	cfg       Config
	versioner Versioner
	recorder  Recorder
	publisher notify.Publisher
	logger    *logging.Logger
}

type Option func(*Updater)

// WithJournal records every persisted revision in r.
func WithJournal(r Recorder) Option {
	return func(u *Updater) { u.recorder = r }
}

// WithPublisher announces every persisted revision on p.
func WithPublisher(p notify.Publisher) Option {
	return func(u *Updater) { u.publisher = p }
}

func NewUpdater(cfg Config, versioner Versioner, logger *logging.Logger, opts ...Option) *Updater {
	if cfg.LockPath == "" {
		cfg.LockPath = cfg.Path + ".lock"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	u := &Updater{
		cfg:       cfg,
		versioner: versioner,
		publisher: notify.Nop{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Updater) Config() Config {
	return u.cfg
}

type originKey struct{}

// WithOrigin attaches the client address recorded with a revision.
func WithOrigin(ctx context.Context, remoteAddr string) context.Context {
	return context.WithValue(ctx, originKey{}, remoteAddr)
}

func origin(ctx context.Context) string {
	addr, _ := ctx.Value(originKey{}).(string)
	return addr
}

// Apply rebuilds the document from req, verifies the result against
// req.Hash, persists it and snapshots it when it changed. Every step runs
// under the exclusive lock, which is released on every path.
//
// A failed snapshot is reported as a VERSIONING error even though the new
// content has already been written.
func (u *Updater) Apply(ctx context.Context, req EditRequest) (*Result, error) {
	log := u.logger.WithRequestID(ctx).With(zap.String("path", u.cfg.Path))
	start := time.Now()

	lock, err := filelock.Acquire(ctx, u.cfg.LockPath, u.cfg.LockTimeout)
	if err != nil {
		log.Error("acquiring document lock", zap.String("lock_path", u.cfg.LockPath), zap.Error(err))
		if errors.Is(err, filelock.ErrTimeout) {
			return nil, apperrors.LockError("timed out waiting for document lock", err)
		}
		return nil, apperrors.LockError("acquiring document lock", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("releasing document lock", zap.Error(err))
		}
	}()
	log.Debug("document lock acquired", zap.Duration("waited", time.Since(start)))

	result, content, err := u.apply(ctx, log, req)
	if err != nil {
		return nil, err
	}

	if u.recorder != nil {
		rev := &journal.Revision{
			Checksum:   result.Checksum,
			Length:     result.Length,
			Commit:     result.Commit,
			RequestID:  logging.RequestID(ctx),
			RemoteAddr: origin(ctx),
		}
		if err := u.recorder.Record(ctx, rev, content); err != nil {
			log.Warn("recording revision", zap.Error(err))
		} else {
			result.Revision = rev.ID
		}
	}

	if err := lock.Release(); err != nil {
		log.Warn("releasing document lock", zap.Error(err))
	}

	ev := notify.Event{
		Checksum: result.Checksum,
		Length:   result.Length,
		Bytes:    result.Bytes,
		Revision: result.Revision,
		Commit:   result.Commit,
		Time:     time.Now().UTC(),
	}
	if err := u.publisher.Publish(ctx, ev); err != nil {
		log.Warn("publishing change notification", zap.Error(err))
	}

	log.Info("document updated",
		zap.Uint32("checksum", result.Checksum),
		zap.Int("length", result.Length),
		zap.Bool("snapshot", result.Changed),
		zap.String("commit", result.Commit),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

// apply runs the read, reconstruct, verify, persist and snapshot steps.
// The caller holds the lock.
func (u *Updater) apply(ctx context.Context, log *zap.Logger, req EditRequest) (*Result, []byte, error) {
	data, info, err := readDocument(u.cfg.Path)
	if err != nil {
		log.Error("reading document", zap.Error(err))
		return nil, nil, err
	}
	current, perm := string(data), info.Mode().Perm()

	candidate, err := Reconstruct(current, req.PrefixLen, req.SuffixLen, req.NewContent)
	if err != nil {
		log.Info("rejecting edit",
			zap.Int("reusable_prefix_len", req.PrefixLen),
			zap.Int("reusable_suffix_len", req.SuffixLen),
			zap.Int("document_length", utf8.RuneCountInString(current)),
		)
		return nil, nil, err
	}

	content := []byte(candidate)
	actual := Checksum(content)
	if actual != req.Hash {
		log.Info("checksum mismatch", zap.Uint32("expected", req.Hash), zap.Uint32("actual", actual))
		return nil, nil, apperrors.ChecksumMismatch(req.Hash, actual)
	}

	if err := atomicfile.WriteFile(u.cfg.Path, content, perm); err != nil {
		log.Error("writing document", zap.Error(err))
		return nil, nil, apperrors.WriteError("writing document", err)
	}

	result := &Result{
		Checksum: actual,
		Length:   utf8.RuneCount(content),
		Bytes:    len(content),
	}

	changed, err := u.versioner.CheckForChanges(ctx, u.cfg.Path)
	if err != nil {
		log.Error("checking for changes", zap.Error(err))
		return nil, nil, apperrors.VersioningError("checking document for changes", err)
	}
	if changed {
		commit, err := u.versioner.CommitSnapshot(ctx, u.cfg.Path, u.cfg.CommitMessage)
		if err != nil {
			log.Error("committing snapshot", zap.Error(err))
			return nil, nil, apperrors.VersioningError("committing document snapshot", err)
		}
		result.Changed = true
		result.Commit = commit
		log.Debug("snapshot committed", zap.String("commit", commit))
	}

	return result, content, nil
}

// Current returns the document as it is on disk. Writers replace the file
// by rename, so no lock is needed to see a consistent version.
func (u *Updater) Current(ctx context.Context) (*Document, error) {
	data, info, err := readDocument(u.cfg.Path)
	if err != nil {
		return nil, err
	}
	return &Document{
		Content:  string(data),
		Checksum: Checksum(data),
		Length:   utf8.RuneCount(data),
		ModTime:  info.ModTime(),
	}, nil
}

// readDocument reads path and its metadata from one open file, so both
// describe the same version even when a writer renames over path.
func readDocument(path string) ([]byte, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, apperrors.ReadError("reading document", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, apperrors.ReadError("reading document", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, apperrors.ReadError("reading document", err)
	}
	if !utf8.Valid(data) {
		return nil, nil, apperrors.ReadError("reading document", fmt.Errorf("%s is not valid UTF-8", path))
	}
	return data, info, nil
}
