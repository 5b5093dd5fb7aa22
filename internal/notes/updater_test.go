package notes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "homeapi/internal/errors"
	"homeapi/internal/filelock"
	"homeapi/internal/journal"
	"homeapi/internal/logging"
	"homeapi/internal/notify"
	"homeapi/internal/vcs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVersioner records calls and checks that no two callers are ever
// inside it at once.
type fakeVersioner struct {
	changed   bool
	checkErr  error
	commitErr error
	delay     time.Duration

	inside    atomic.Int32
	maxInside atomic.Int32
	commits   atomic.Int32
}

func (f *fakeVersioner) enter() func() {
	n := f.inside.Add(1)
	for {
		cur := f.maxInside.Load()
		if n <= cur || f.maxInside.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() { f.inside.Add(-1) }
}

func (f *fakeVersioner) CheckForChanges(ctx context.Context, path string) (bool, error) {
	defer f.enter()()
	time.Sleep(f.delay)
	return f.changed, f.checkErr
}

func (f *fakeVersioner) CommitSnapshot(ctx context.Context, path, message string) (string, error) {
	defer f.enter()()
	if f.commitErr != nil {
		return "", f.commitErr
	}
	n := f.commits.Add(1)
	return fmt.Sprintf("%040d", n), nil
}

func setupTestDocument(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestUpdater_Apply(t *testing.T) {
	path := setupTestDocument(t, "ABCDEFGHIJ")
	v := &fakeVersioner{changed: true}
	u := NewUpdater(Config{Path: path}, v, logging.Nop())

	res, err := u.Apply(context.Background(), EditRequest{
		PrefixLen:  3,
		SuffixLen:  2,
		NewContent: "xyz",
		Hash:       1619031250,
	})
	require.NoError(t, err)

	assert.Equal(t, "ABCxyzIJ", readFile(t, path))
	assert.Equal(t, uint32(1619031250), res.Checksum)
	assert.Equal(t, 8, res.Length)
	assert.Equal(t, 8, res.Bytes)
	assert.True(t, res.Changed)
	assert.NotEmpty(t, res.Commit)
	assert.Equal(t, int32(1), v.commits.Load())
}

func TestUpdater_Apply_ChecksumMismatch(t *testing.T) {
	path := setupTestDocument(t, "ABCDEFGHIJ")
	v := &fakeVersioner{changed: true}
	u := NewUpdater(Config{Path: path}, v, logging.Nop())

	_, err := u.Apply(context.Background(), EditRequest{
		PrefixLen:  3,
		SuffixLen:  2,
		NewContent: "xyz",
		Hash:       0,
	})
	require.Error(t, err)

	var appErr *apperrors.Error
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrorTypeChecksumMismatch, appErr.Type)
	assert.Equal(t, map[string]uint32{"expected": 0, "actual": 1619031250}, appErr.Details)

	assert.Equal(t, "ABCDEFGHIJ", readFile(t, path), "document must be untouched")
	assert.Equal(t, int32(0), v.commits.Load())
}

func TestUpdater_Apply_InvalidRange(t *testing.T) {
	path := setupTestDocument(t, "ABCDEFGHIJ")
	u := NewUpdater(Config{Path: path}, &fakeVersioner{}, logging.Nop())

	_, err := u.Apply(context.Background(), EditRequest{PrefixLen: 8, SuffixLen: 8, Hash: 0})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeInvalidRange))
	assert.Equal(t, "ABCDEFGHIJ", readFile(t, path))
}

func TestUpdater_Apply_ReadErrors(t *testing.T) {
	t.Run("missing document", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.txt")
		u := NewUpdater(Config{Path: path}, &fakeVersioner{}, logging.Nop())

		_, err := u.Apply(context.Background(), EditRequest{})
		assert.True(t, apperrors.Is(err, apperrors.ErrorTypeRead))
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		path := setupTestDocument(t, "ok\xff\xfe")
		u := NewUpdater(Config{Path: path}, &fakeVersioner{}, logging.Nop())

		_, err := u.Apply(context.Background(), EditRequest{})
		assert.True(t, apperrors.Is(err, apperrors.ErrorTypeRead))
	})
}

func TestUpdater_Apply_Unchanged(t *testing.T) {
	path := setupTestDocument(t, "same")
	v := &fakeVersioner{changed: false}
	u := NewUpdater(Config{Path: path}, v, logging.Nop())

	res, err := u.Apply(context.Background(), EditRequest{PrefixLen: 4, Hash: ChecksumString("same")})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, res.Commit)
	assert.Equal(t, int32(0), v.commits.Load())
}

func TestUpdater_Apply_VersioningError(t *testing.T) {
	path := setupTestDocument(t, "old")
	v := &fakeVersioner{changed: true, commitErr: errors.New("git exploded")}
	u := NewUpdater(Config{Path: path}, v, logging.Nop())

	_, err := u.Apply(context.Background(), EditRequest{NewContent: "new", Hash: ChecksumString("new")})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeVersioning))

	// The write is not rolled back.
	assert.Equal(t, "new", readFile(t, path))

	v.commitErr = nil
	v.checkErr = errors.New("status failed")
	_, err = u.Apply(context.Background(), EditRequest{NewContent: "newer", Hash: ChecksumString("newer")})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeVersioning))
}

func TestUpdater_Apply_PreservesMode(t *testing.T) {
	path := setupTestDocument(t, "mode")
	require.NoError(t, os.Chmod(path, 0600))
	u := NewUpdater(Config{Path: path}, &fakeVersioner{}, logging.Nop())

	_, err := u.Apply(context.Background(), EditRequest{NewContent: "x", Hash: ChecksumString("x")})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestUpdater_LockReleasedAfterError(t *testing.T) {
	path := setupTestDocument(t, "ABCDEFGHIJ")
	u := NewUpdater(Config{Path: path}, &fakeVersioner{}, logging.Nop())

	_, err := u.Apply(context.Background(), EditRequest{NewContent: "x", Hash: 1})
	require.Error(t, err)

	lock, ok, err := filelock.TryAcquire(u.Config().LockPath)
	require.NoError(t, err)
	require.True(t, ok, "lock must be free after a failed update")
	require.NoError(t, lock.Release())
}

func TestUpdater_LockTimeout(t *testing.T) {
	path := setupTestDocument(t, "held")
	u := NewUpdater(Config{Path: path, LockTimeout: 50 * time.Millisecond}, &fakeVersioner{}, logging.Nop())

	held, err := filelock.Acquire(context.Background(), u.Config().LockPath, 0)
	require.NoError(t, err)
	defer held.Release()

	_, err = u.Apply(context.Background(), EditRequest{NewContent: "x", Hash: ChecksumString("x")})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeLock))
	assert.ErrorIs(t, err, filelock.ErrTimeout)
	assert.Equal(t, "held", readFile(t, path))
}

func TestUpdater_LockCancelled(t *testing.T) {
	path := setupTestDocument(t, "held")
	u := NewUpdater(Config{Path: path}, &fakeVersioner{}, logging.Nop())

	held, err := filelock.Acquire(context.Background(), u.Config().LockPath, 0)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = u.Apply(ctx, EditRequest{NewContent: "x", Hash: ChecksumString("x")})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeLock))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ownWriteVersioner checks, from inside the snapshot step, that the file on
// disk still holds what its own caller wrote.
type ownWriteVersioner struct {
	*fakeVersioner
	want    string
	foreign *atomic.Int32
}

func (v ownWriteVersioner) CheckForChanges(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if string(data) != v.want {
		v.foreign.Add(1)
	}
	return v.fakeVersioner.CheckForChanges(ctx, path)
}

func TestUpdater_MutualExclusion(t *testing.T) {
	path := setupTestDocument(t, "start")
	v := &fakeVersioner{changed: true, delay: 2 * time.Millisecond}

	const workers = 16
	var (
		wg      sync.WaitGroup
		foreign atomic.Int32
	)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Separate updaters stand in for separate processes.
			content := fmt.Sprintf("version %d", i)
			u := NewUpdater(Config{Path: path}, ownWriteVersioner{v, content, &foreign}, logging.Nop())
			_, err := u.Apply(context.Background(), EditRequest{NewContent: content, Hash: ChecksumString(content)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), v.maxInside.Load(), "updates overlapped")
	assert.Zero(t, foreign.Load(), "another update landed between write and snapshot")
	assert.Equal(t, int32(workers), v.commits.Load())
	assert.Regexp(t, `^version \d+$`, readFile(t, path))
}

func TestUpdater_JournalAndPublish(t *testing.T) {
	ctx := logging.ContextWithRequestID(context.Background(), "req-1")
	ctx = WithOrigin(ctx, "192.0.2.7")

	path := setupTestDocument(t, "ABCDEFGHIJ")
	j, err := journal.Open(journal.Options{InMemory: true})
	require.NoError(t, err)
	defer j.Close()

	hub := notify.NewHub()
	events, cancel, err := hub.Subscribe(context.Background())
	require.NoError(t, err)
	defer cancel()

	u := NewUpdater(Config{Path: path}, &fakeVersioner{changed: true}, logging.Nop(),
		WithJournal(j), WithPublisher(hub))

	res, err := u.Apply(ctx, EditRequest{PrefixLen: 3, SuffixLen: 2, NewContent: "xyz", Hash: 1619031250})
	require.NoError(t, err)
	require.NotEmpty(t, res.Revision)

	rev, err := j.Get(context.Background(), res.Revision)
	require.NoError(t, err)
	assert.Equal(t, uint32(1619031250), rev.Checksum)
	assert.Equal(t, res.Commit, rev.Commit)
	assert.Equal(t, "req-1", rev.RequestID)
	assert.Equal(t, "192.0.2.7", rev.RemoteAddr)

	content, err := j.Content(context.Background(), res.Revision)
	require.NoError(t, err)
	assert.Equal(t, "ABCxyzIJ", string(content))

	select {
	case ev := <-events:
		assert.Equal(t, res.Checksum, ev.Checksum)
		assert.Equal(t, res.Revision, ev.Revision)
		assert.Equal(t, res.Commit, ev.Commit)
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *journal.Revision, []byte) error {
	return errors.New("disk full")
}

func TestUpdater_JournalFailureIsNotFatal(t *testing.T) {
	path := setupTestDocument(t, "a")
	u := NewUpdater(Config{Path: path}, &fakeVersioner{}, logging.Nop(), WithJournal(failingRecorder{}))

	res, err := u.Apply(context.Background(), EditRequest{NewContent: "b", Hash: ChecksumString("b")})
	require.NoError(t, err)
	assert.Empty(t, res.Revision)
	assert.Equal(t, "b", readFile(t, path))
}

func TestUpdater_Current(t *testing.T) {
	path := setupTestDocument(t, "héllo wörld")
	u := NewUpdater(Config{Path: path}, &fakeVersioner{}, logging.Nop())

	doc, err := u.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", doc.Content)
	assert.Equal(t, uint32(2913044703), doc.Checksum)
	assert.Equal(t, 11, doc.Length)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), doc.ModTime)
}

func TestUpdater_Current_ReadErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		setup func(path string)
	}{
		{name: "missing", setup: func(string) {}},
		{name: "invalid utf-8", setup: func(path string) {
			require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe}, 0644))
		}},
		{name: "directory", setup: func(path string) {
			require.NoError(t, os.Mkdir(path, 0755))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			tt.setup(path)

			u := NewUpdater(Config{Path: path}, &fakeVersioner{}, logging.Nop())
			_, err := u.Current(context.Background())
			assert.True(t, apperrors.Is(err, apperrors.ErrorTypeRead), "got %v", err)
		})
	}
}

func TestUpdater_WithGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	ctx := context.Background()
	root := t.TempDir()
	workTree := filepath.Join(root, "notes")
	require.NoError(t, os.MkdirAll(workTree, 0755))
	path := filepath.Join(workTree, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("ABCDEFGHIJ"), 0644))

	repo := vcs.New(vcs.Config{WorkTree: workTree, GitDir: filepath.Join(root, "notes.git")})
	require.NoError(t, repo.Init(ctx))

	u := NewUpdater(Config{Path: path, LockPath: filepath.Join(root, "notes.lock")}, repo, logging.Nop())

	res, err := u.Apply(ctx, EditRequest{PrefixLen: 3, SuffixLen: 2, NewContent: "xyz", Hash: 1619031250})
	require.NoError(t, err)
	require.True(t, res.Changed)

	snapshots, err := repo.Log(ctx, path, 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, res.Commit, snapshots[0].Commit)

	shown, err := repo.Show(ctx, res.Commit, path)
	require.NoError(t, err)
	assert.Equal(t, "ABCxyzIJ", shown)

	// Re-submitting the same content is accepted but needs no snapshot.
	res, err = u.Apply(ctx, EditRequest{PrefixLen: 8, Hash: 1619031250})
	require.NoError(t, err)
	assert.False(t, res.Changed)

	snapshots, err = repo.Log(ctx, path, 0)
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}
