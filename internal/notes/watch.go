package notes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"homeapi/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// State is a snapshot of the document seen by Watch.
type State struct {
	Checksum uint32
	Length   int
	Bytes    int
	ModTime  time.Time
}

// Watch calls fn with the document's state once at start and again every
// time its content changes, until ctx is done. The parent directory is
// watched rather than the file because updates replace the file by
// rename.
func Watch(ctx context.Context, path string, logger *logging.Logger, fn func(State)) error {
	if logger == nil {
		logger = logging.Nop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	var (
		last State
		seen bool
	)
	check := func() {
		st, err := stat(path)
		if err != nil {
			logger.Debug("reading watched document", zap.String("path", path), zap.Error(err))
			return
		}
		if seen && st.Checksum == last.Checksum && st.Bytes == last.Bytes {
			return
		}
		last, seen = st, true
		fn(st)
	}
	check()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				check()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", zap.Error(err))
		}
	}
}

func stat(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return State{}, err
	}
	return State{
		Checksum: Checksum(data),
		Length:   utf8.RuneCount(data),
		Bytes:    len(data),
		ModTime:  info.ModTime(),
	}, nil
}
