package main

import (
	"context"
	"fmt"
	"sync"

	"homeapi/internal/api"
	"homeapi/internal/journal"
	"homeapi/internal/meme"
	"homeapi/internal/metrics"
	"homeapi/internal/notes"
	"homeapi/internal/notify"
	"homeapi/internal/vcs"

	"go.uber.org/zap"
)

// app holds the components built from the configuration.
type app struct {
	repo      *vcs.Repository
	journal   *journal.Journal
	updater   *notes.Updater
	store     *metrics.PgStore
	board     *meme.Board
	publisher notify.Publisher
	closers   []func()
}

func newRepository() *vcs.Repository {
	return vcs.New(vcs.Config{
		WorkTree:    cfg.Notes.WorkTree,
		GitDir:      cfg.Notes.GitDir,
		AuthorName:  cfg.Notes.AuthorName,
		AuthorEmail: cfg.Notes.AuthorEmail,
	})
}

// openJournal returns nil when no journal is configured. The journal opens
// badger per call under a lock file, so a server and any number of CGI
// processes can share one directory.
func openJournal() (*journal.Journal, error) {
	if cfg.Notes.JournalPath == "" {
		return nil, nil
	}
	return journal.New(journal.Options{
		Dir:         cfg.Notes.JournalPath,
		LockTimeout: cfg.Notes.LockTimeout.Std(),
	})
}

// buildApp wires every component. With a nil publisher, Redis is dialed
// when configured.
func buildApp(ctx context.Context, publisher notify.Publisher) (*app, error) {
	a := &app{repo: newRepository(), publisher: publisher}

	j, err := openJournal()
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if j != nil {
		a.journal = j
		a.closers = append(a.closers, func() { j.Close() })
	}

	if a.publisher == nil && cfg.Redis.Addr != "" {
		r, err := notify.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			logger.Warn("change notifications disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			a.publisher = r
			a.closers = append(a.closers, func() { r.Close() })
		}
	}

	opts := []notes.Option{}
	if a.journal != nil {
		opts = append(opts, notes.WithJournal(a.journal))
	}
	if a.publisher != nil {
		opts = append(opts, notes.WithPublisher(a.publisher))
	}
	a.updater = notes.NewUpdater(notes.Config{
		Path:          cfg.Notes.Path,
		LockPath:      cfg.Notes.LockPath,
		LockTimeout:   cfg.Notes.LockTimeout.Std(),
		CommitMessage: cfg.Notes.CommitMessage,
	}, a.repo, logger, opts...)

	if cfg.Database.URL != "" {
		store, err := metrics.Connect(ctx, cfg.Database.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connecting to metrics database: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}

	a.board = meme.NewBoard(meme.Paths{
		Kindle:  cfg.Meme.KindleFile,
		Raw:     cfg.Meme.RawFile,
		Web:     cfg.Meme.WebFile,
		ID:      cfg.Meme.IDFile,
		Battery: cfg.Meme.BatteryFile,
		Archive: cfg.Meme.ArchiveDir,
	}, meme.Magick{Binary: cfg.Meme.Convert}, logger, meme.WithLockTimeout(cfg.Notes.LockTimeout.Std()))

	return a, nil
}

func (a *app) handlers(events notify.Subscriber) api.Handlers {
	h := api.Handlers{
		Meme:   api.NewMemeHandler(a.board, logger),
		Logger: logger,
	}

	var revisions api.RevisionStore
	if a.journal != nil {
		revisions = a.journal
	}
	h.Notes = api.NewNotesHandler(a.updater, cfg.Notes.Path, a.repo, revisions, logger)

	if a.store != nil {
		h.Metrics = api.NewMetricsHandler(a.store, logger)
	}
	if events != nil {
		h.Events = notify.NewRelay(events, logger)
	}
	return h
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// dedupe forwards an event only when the checksum differs from the last
// one forwarded, so a write seen both by the updater and by the file
// watcher is announced once.
type dedupe struct {
	next notify.Publisher

	mu   sync.Mutex
	last uint32
	seen bool
}

func (d *dedupe) Publish(ctx context.Context, ev notify.Event) error {
	d.mu.Lock()
	if d.seen && d.last == ev.Checksum {
		d.mu.Unlock()
		return nil
	}
	d.last, d.seen = ev.Checksum, true
	d.mu.Unlock()

	return d.next.Publish(ctx, ev)
}
