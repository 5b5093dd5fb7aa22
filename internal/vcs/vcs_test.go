package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRepo initializes a repository whose storage lives outside the
// work tree, the layout used in production.
func newTestRepo(t *testing.T) (*Repository, string) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := t.TempDir()
	workTree := filepath.Join(root, "notes")
	require.NoError(t, os.MkdirAll(workTree, 0755))

	repo := New(Config{
		WorkTree: workTree,
		GitDir:   filepath.Join(root, "notes.git"),
	})
	require.NoError(t, repo.Init(context.Background()))
	return repo, workTree
}

func TestRepository_SnapshotCycle(t *testing.T) {
	ctx := context.Background()
	repo, workTree := newTestRepo(t)
	path := filepath.Join(workTree, "notes.txt")

	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0644))

	changed, err := repo.CheckForChanges(ctx, path)
	require.NoError(t, err)
	assert.True(t, changed, "untracked file should count as changed")

	commit, err := repo.CommitSnapshot(ctx, path, "")
	require.NoError(t, err)
	assert.Len(t, commit, 40)

	changed, err = repo.CheckForChanges(ctx, path)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte("second\n"), 0644))
	changed, err = repo.CheckForChanges(ctx, path)
	require.NoError(t, err)
	assert.True(t, changed)

	second, err := repo.CommitSnapshot(ctx, path, "edit")
	require.NoError(t, err)

	log, err := repo.Log(ctx, path, 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, second, log[0].Commit)
	assert.Equal(t, "edit", log[0].Message)
	assert.Equal(t, commit, log[1].Commit)

	limited, err := repo.Log(ctx, path, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	old, err := repo.Show(ctx, commit, path)
	require.NoError(t, err)
	assert.Equal(t, "first\n", old)
}

func TestRepository_LogWithoutCommits(t *testing.T) {
	repo, workTree := newTestRepo(t)

	log, err := repo.Log(context.Background(), filepath.Join(workTree, "notes.txt"), 10)
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestRepository_InitIsIdempotent(t *testing.T) {
	repo, _ := newTestRepo(t)
	assert.NoError(t, repo.Init(context.Background()))
}

func TestRepository_RelativePaths(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()

	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(prev) })

	require.NoError(t, os.MkdirAll("notes", 0755))
	repo := New(Config{WorkTree: "notes"})
	require.NoError(t, repo.Init(ctx))
	assert.True(t, filepath.IsAbs(repo.Config().WorkTree))
	assert.True(t, filepath.IsAbs(repo.Config().GitDir))

	path := filepath.Join("notes", "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0644))

	changed, err := repo.CheckForChanges(ctx, path)
	require.NoError(t, err)
	assert.True(t, changed, "untracked file should count as changed")

	commit, err := repo.CommitSnapshot(ctx, path, "first")
	require.NoError(t, err)
	assert.Len(t, commit, 40)

	snapshots, err := repo.Log(ctx, path, 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, commit, snapshots[0].Commit)

	content, err := repo.Show(ctx, "HEAD", path)
	require.NoError(t, err)
	assert.Equal(t, "first\n", content)
}

func TestRepository_AbsolutePathRelativeWorkTree(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()

	root := t.TempDir()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	t.Cleanup(func() { os.Chdir(prev) })

	require.NoError(t, os.MkdirAll("notes", 0755))
	repo := New(Config{WorkTree: "notes"})
	require.NoError(t, repo.Init(ctx))

	wd, err := os.Getwd()
	require.NoError(t, err)
	path := filepath.Join(wd, "notes", "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	changed, err := repo.CheckForChanges(ctx, path)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = repo.CommitSnapshot(ctx, path, "")
	require.NoError(t, err)
}

func TestRepository_PathOutsideWorkTree(t *testing.T) {
	repo := New(Config{WorkTree: "/srv/notes"})

	_, err := repo.CheckForChanges(context.Background(), "/etc/passwd")
	assert.Error(t, err)
}

func TestRepository_Command(t *testing.T) {
	repo := New(Config{WorkTree: "/srv/notes"})

	cmd := repo.Command(context.Background(), "status")

	assert.Equal(t, []string{
		"git",
		"--git-dir", "/srv/notes/.git",
		"--work-tree", "/srv/notes",
		"-c", "user.name=homeapi",
		"-c", "user.email=homeapi@localhost",
		"-c", "commit.gpgsign=false",
		"status",
	}, cmd.Args)
}

func TestParseLog(t *testing.T) {
	out := "abc\x1f1700000000\x1fhello world\n" +
		"def\x1f1600000000\x1f\n"

	snapshots, err := parseLog(out)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "abc", snapshots[0].Commit)
	assert.Equal(t, int64(1700000000), snapshots[0].Time.Unix())
	assert.Equal(t, "hello world", snapshots[0].Message)
	assert.Equal(t, "", snapshots[1].Message)

	_, err = parseLog("garbage\n")
	assert.Error(t, err)
}
