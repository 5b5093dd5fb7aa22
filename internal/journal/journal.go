// Package journal keeps a local, queryable record of every persisted notes
// revision alongside the git history.
//
// Metadata and content live in badger under the keys "revision:<id>" and
// "content:<id>". Ids are UUIDv7, so lexical key order is creation order.
// Badger holds an exclusive directory lock while open; a journal created
// with New opens the database per call under a flock so that concurrent
// CGI processes take turns instead of failing. Open keeps the database
// open for the lifetime of a server process.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"homeapi/internal/filelock"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrNotFound = errors.New("revision not found")

const (
	revisionPrefix = "revision:"
	contentPrefix  = "content:"
)

// Revision describes one persisted version of the document.
type Revision struct {
	ID         string    `json:"id"`
	Checksum   uint32    `json:"checksum"`
	Length     int       `json:"length"`
	Size       int64     `json:"size"`
	Commit     string    `json:"commit,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Options configures a Journal.
type Options struct {
	Dir         string        // Badger directory; ignored when InMemory
	InMemory    bool          // Keep everything in memory (tests)
	CacheSize   int           // Number of revision contents to cache
	LockTimeout time.Duration // Bound on waiting for the directory lock
	Compression CompressionOptions
}

type Journal struct {
	opts  Options
	db    *badger.DB // non-nil when held open
	cache *lru.Cache[string, []byte]
	codec *codec
}

// New returns a journal that opens the database for each operation.
func New(opts Options) (*Journal, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("journal directory is required")
	}
	return newJournal(opts)
}

// Open returns a journal holding the database open until Close.
func Open(opts Options) (*Journal, error) {
	j, err := newJournal(opts)
	if err != nil {
		return nil, err
	}

	db, err := openDB(opts)
	if err != nil {
		return nil, err
	}
	j.db = db
	return j, nil
}

func newJournal(opts Options) (*Journal, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	if opts.Compression.MinSize == 0 && opts.Compression.Level == 0 {
		opts.Compression = DefaultCompressionOptions()
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	c, err := newCodec(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}

	return &Journal{opts: opts, cache: cache, codec: c}, nil
}

func openDB(opts Options) (*badger.DB, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
		bopts = badger.DefaultOptions(opts.Dir).
			WithNumVersionsToKeep(1).
			WithNumGoroutines(1)
	}
	bopts.Logger = nil // Disable logging noise

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	return db, nil
}

// withDB runs fn against the open database, opening it under the journal
// lock first when the journal is not held open.
func (j *Journal) withDB(ctx context.Context, fn func(db *badger.DB) error) error {
	if j.db != nil {
		return fn(j.db)
	}

	lock, err := filelock.Acquire(ctx, filepath.Clean(j.opts.Dir)+".lock", j.opts.LockTimeout)
	if err != nil {
		return fmt.Errorf("acquiring journal lock: %w", err)
	}
	defer lock.Release()

	db, err := openDB(j.opts)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(db)
}

// Record stores rev and its content. ID, CreatedAt, Size and Compressed
// are filled in.
func (j *Journal) Record(ctx context.Context, rev *Revision, content []byte) error {
	if rev.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating revision id: %w", err)
		}
		rev.ID = id.String()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	rev.Size = int64(len(content))

	stored, compressed := j.codec.compress(content)
	rev.Compressed = compressed

	meta, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("marshaling revision: %w", err)
	}

	err = j.withDB(ctx, func(db *badger.DB) error {
		return db.Update(func(txn *badger.Txn) error {
			if err := txn.Set([]byte(revisionPrefix+rev.ID), meta); err != nil {
				return err
			}
			return txn.Set([]byte(contentPrefix+rev.ID), stored)
		})
	})
	if err != nil {
		return fmt.Errorf("storing revision %s: %w", rev.ID, err)
	}

	j.cache.Add(rev.ID, content)
	return nil
}

// Get returns the metadata of revision id.
func (j *Journal) Get(ctx context.Context, id string) (*Revision, error) {
	var rev Revision
	err := j.withDB(ctx, func(db *badger.DB) error {
		return db.View(func(txn *badger.Txn) error {
			return getJSON(txn, revisionPrefix+id, &rev)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

// Content returns the document text stored with revision id.
func (j *Journal) Content(ctx context.Context, id string) ([]byte, error) {
	if content, ok := j.cache.Get(id); ok {
		return content, nil
	}

	var (
		rev    Revision
		stored []byte
	)
	err := j.withDB(ctx, func(db *badger.DB) error {
		return db.View(func(txn *badger.Txn) error {
			if err := getJSON(txn, revisionPrefix+id, &rev); err != nil {
				return err
			}
			item, err := txn.Get([]byte(contentPrefix + id))
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			stored, err = item.ValueCopy(nil)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	content, err := j.codec.decompress(stored, rev.Compressed)
	if err != nil {
		return nil, err
	}
	j.cache.Add(id, content)
	return content, nil
}

// List returns up to limit revisions, newest first. limit <= 0 returns all.
func (j *Journal) List(ctx context.Context, limit int) ([]*Revision, error) {
	revisions := []*Revision{}
	err := j.withDB(ctx, func(db *badger.DB) error {
		return db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Reverse = true
			it := txn.NewIterator(opts)
			defer it.Close()

			prefix := []byte(revisionPrefix)
			seek := append([]byte(revisionPrefix), 0xFF)
			for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
				var rev Revision
				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &rev)
				})
				if err != nil {
					return err
				}
				revisions = append(revisions, &rev)
				if limit > 0 && len(revisions) >= limit {
					break
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing revisions: %w", err)
	}
	return revisions, nil
}

// Latest returns the newest revision or ErrNotFound when the journal is
// empty.
func (j *Journal) Latest(ctx context.Context) (*Revision, error) {
	revisions, err := j.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(revisions) == 0 {
		return nil, ErrNotFound
	}
	return revisions[0], nil
}

// Close releases the database of a journal created with Open.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}
