// Package vcs records accepted work as commits. Every commit names its files
// explicitly; staging everything is allowed exactly once, for the initial
// scaffold.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/aristath/phasegate/internal/logging"
)

var (
	// ErrEmptyFileSet is returned when a commit names no files.
	ErrEmptyFileSet = errors.New("commit must name at least one file")
	// ErrUnqualifiedPath is returned for paths that are not a single relative file.
	ErrUnqualifiedPath = errors.New("commit paths must be explicit relative files")
	// ErrBootstrapUsed is returned when the bootstrap commit was already made.
	ErrBootstrapUsed = errors.New("bootstrap commit already made")
)

// Committer records accepted work.
type Committer interface {
	// Commit stages exactly files and commits them.
	Commit(ctx context.Context, files []string, message string) (string, error)
	// Bootstrap stages the whole tree once for the initial scaffold.
	Bootstrap(ctx context.Context, message string) (string, error)
}

// Author is the commit signature.
type Author struct {
	Name  string
	Email string
}

// Git commits to a repository on disk.
type Git struct {
	mu           sync.Mutex
	repo         *git.Repository
	dir          string
	author       Author
	bootstrapped bool
	logger       *zap.Logger
}

// Open opens the repository at dir, initializing one if none exists.
func Open(dir string, author Author, logger *zap.Logger) (*Git, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", dir, err)
	}
	return &Git{repo: repo, dir: dir, author: author, logger: logging.OrNop(logger).Named("vcs")}, nil
}

// Commit stages each named file and commits. Duplicates are collapsed.
func (g *Git) Commit(ctx context.Context, files []string, message string) (string, error) {
	paths, err := qualify(files)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	wt, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	for _, p := range paths {
		if _, err := wt.Add(p); err != nil {
			return "", fmt.Errorf("staging %s: %w", p, err)
		}
	}

	// Files that already match HEAD, e.g. shared with an earlier task, leave
	// nothing to commit.
	st, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("reading status: %w", err)
	}
	if !changed(st, paths) {
		if head, err := g.repo.Head(); err == nil {
			g.logger.Info("files unchanged since HEAD, nothing to commit",
				zap.String("commit", head.Hash().String()), zap.Strings("files", paths))
			return head.Hash().String(), nil
		}
	}

	hash, err := g.commit(wt, message)
	if err != nil {
		return "", err
	}
	g.logger.Info("committed", zap.String("commit", hash), zap.Strings("files", paths))
	return hash, nil
}

// Bootstrap stages every non-ignored file. It may be used once per Git value.
func (g *Git) Bootstrap(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.bootstrapped {
		return "", ErrBootstrapUsed
	}
	wt, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("staging scaffold: %w", err)
	}
	hash, err := g.commit(wt, message)
	if err != nil {
		return "", err
	}
	g.bootstrapped = true
	g.logger.Info("bootstrap commit", zap.String("commit", hash))
	return hash, nil
}

func (g *Git) commit(wt *git.Worktree, message string) (string, error) {
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: g.author.Name, Email: g.author.Email, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}

func changed(st git.Status, paths []string) bool {
	for _, p := range paths {
		if fs, ok := st[p]; ok && (fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified) {
			return true
		}
	}
	return false
}

// qualify rejects directories, globs and anything outside the tree, and
// returns the cleaned, sorted, de-duplicated paths.
func qualify(files []string) ([]string, error) {
	if len(files) == 0 {
		return nil, ErrEmptyFileSet
	}
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		p := filepath.ToSlash(filepath.Clean(strings.TrimSpace(f)))
		switch {
		case f == "" || p == "." || strings.HasSuffix(f, "/"):
			return nil, fmt.Errorf("%q: %w", f, ErrUnqualifiedPath)
		case filepath.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../"):
			return nil, fmt.Errorf("%q: %w", f, ErrUnqualifiedPath)
		case strings.ContainsAny(p, "*?["):
			return nil, fmt.Errorf("%q: %w", f, ErrUnqualifiedPath)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Nop records nothing; used when version control is unmanaged.
type Nop struct{}

func (Nop) Commit(context.Context, []string, string) (string, error) { return "", nil }
func (Nop) Bootstrap(context.Context, string) (string, error)        { return "", nil }

// Lazy opens the repository on first use, so nothing is initialized on disk
// for runs that never commit.
type Lazy struct {
	Dir    string
	Author Author
	Logger *zap.Logger

	once sync.Once
	git  *Git
	err  error
}

func (l *Lazy) open() (*Git, error) {
	l.once.Do(func() { l.git, l.err = Open(l.Dir, l.Author, l.Logger) })
	return l.git, l.err
}

func (l *Lazy) Commit(ctx context.Context, files []string, message string) (string, error) {
	g, err := l.open()
	if err != nil {
		return "", err
	}
	return g.Commit(ctx, files, message)
}

func (l *Lazy) Bootstrap(ctx context.Context, message string) (string, error) {
	g, err := l.open()
	if err != nil {
		return "", err
	}
	return g.Bootstrap(ctx, message)
}
