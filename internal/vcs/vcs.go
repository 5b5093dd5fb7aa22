// Package vcs records snapshots of tracked files in a git repository.
//
// The repository is always addressed explicitly through --git-dir and
// --work-tree, so nothing depends on the process working directory or on
// GIT_* environment variables. Committer identity is passed with -c flags
// for the same reason.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config locates the repository.
type Config struct {
	// WorkTree is the directory containing the tracked document.
	WorkTree string
	// GitDir is the repository storage directory. Defaults to
	// WorkTree/.git.
	GitDir string
	// Binary is the git executable. Defaults to "git".
	Binary string

	AuthorName  string
	AuthorEmail string
}

// Snapshot is one commit touching a tracked path.
type Snapshot struct {
	Commit  string    `json:"commit"`
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Repository runs git against a single configured repository.
type Repository struct {
	cfg Config
}

func New(cfg Config) *Repository {
	if abs, err := filepath.Abs(cfg.WorkTree); err == nil {
		cfg.WorkTree = abs
	}
	if cfg.GitDir != "" {
		if abs, err := filepath.Abs(cfg.GitDir); err == nil {
			cfg.GitDir = abs
		}
	}
	if cfg.GitDir == "" {
		cfg.GitDir = filepath.Join(cfg.WorkTree, ".git")
	}
	if cfg.Binary == "" {
		cfg.Binary = "git"
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "homeapi"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "homeapi@localhost"
	}
	return &Repository{cfg: cfg}
}

// Config returns the effective configuration, defaults applied.
func (r *Repository) Config() Config {
	return r.cfg
}

// Run executes git with the repository flags prepended and returns
// stdout. Stderr is folded into the error on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := r.Command(ctx, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.cfg.WorkTree, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Command returns an *exec.Cmd for a git command without running it.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := []string{
		"--git-dir", r.cfg.GitDir,
		"--work-tree", r.cfg.WorkTree,
		"-c", "user.name=" + r.cfg.AuthorName,
		"-c", "user.email=" + r.cfg.AuthorEmail,
		"-c", "commit.gpgsign=false",
	}
	fullArgs = append(fullArgs, args...)
	return exec.CommandContext(ctx, r.cfg.Binary, fullArgs...)
}

// Init creates the repository if GitDir does not hold one yet.
func (r *Repository) Init(ctx context.Context) error {
	if _, err := r.Run(ctx, "rev-parse", "--git-dir"); err == nil {
		return nil
	}
	if _, err := r.Run(ctx, "init", "--quiet"); err != nil {
		return err
	}
	return nil
}

// CheckForChanges reports whether the working copy of path differs from
// the last committed snapshot. An untracked path counts as changed.
func (r *Repository) CheckForChanges(ctx context.Context, path string) (bool, error) {
	rel, err := r.relative(path)
	if err != nil {
		return false, err
	}

	out, err := r.Run(ctx, "status", "--porcelain", "--untracked-files=all", "--", rel)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitSnapshot stages path and commits it with message, which may be
// empty. It returns the new commit hash.
func (r *Repository) CommitSnapshot(ctx context.Context, path, message string) (string, error) {
	rel, err := r.relative(path)
	if err != nil {
		return "", err
	}

	if _, err := r.Run(ctx, "add", "--", rel); err != nil {
		return "", err
	}
	if _, err := r.Run(ctx, "commit", "--quiet", "--allow-empty-message", "-m", message, "--", rel); err != nil {
		return "", err
	}

	out, err := r.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Log lists snapshots of path, newest first. limit <= 0 means no limit.
func (r *Repository) Log(ctx context.Context, path string, limit int) ([]Snapshot, error) {
	rel, err := r.relative(path)
	if err != nil {
		return nil, err
	}

	args := []string{"log", "--format=%H%x1f%ct%x1f%s"}
	if limit > 0 {
		args = append(args, "-n", strconv.Itoa(limit))
	}
	args = append(args, "--", rel)

	out, err := r.Run(ctx, args...)
	if err != nil {
		// A repository without commits has no history yet.
		if strings.Contains(err.Error(), "does not have any commits") {
			return []Snapshot{}, nil
		}
		return nil, err
	}
	return parseLog(out)
}

// Show returns the contents of path as of rev.
func (r *Repository) Show(ctx context.Context, rev, path string) (string, error) {
	rel, err := r.relative(path)
	if err != nil {
		return "", err
	}
	return r.Run(ctx, "show", rev+":"+filepath.ToSlash(rel))
}

// relative turns path into a pathspec for git, which reads pathspecs
// against the work tree rather than the process working directory.
func (r *Repository) relative(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	rel, err := filepath.Rel(r.cfg.WorkTree, abs)
	if err != nil {
		return "", fmt.Errorf("resolving %s against work tree: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside work tree %s", path, r.cfg.WorkTree)
	}
	return rel, nil
}

func parseLog(out string) ([]Snapshot, error) {
	snapshots := []Snapshot{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\x1f", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("unexpected log line %q", line)
		}
		seconds, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing commit time %q: %w", fields[1], err)
		}
		snapshots = append(snapshots, Snapshot{
			Commit:  fields[0],
			Time:    time.Unix(seconds, 0).UTC(),
			Message: fields[2],
		})
	}
	return snapshots, nil
}
