package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func commitTree(t *testing.T, dir, hash string) *object.Tree {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	c, err := repo.CommitObject(plumbing.NewHash(hash))
	require.NoError(t, err)
	tree, err := c.Tree()
	require.NoError(t, err)
	return tree
}

func openTest(t *testing.T) (*Git, string) {
	t.Helper()
	dir := t.TempDir()
	g, err := Open(dir, Author{Name: "test", Email: "test@example.com"}, nil)
	require.NoError(t, err)
	return g, dir
}

func TestCommitStagesOnlyNamedFiles(t *testing.T) {
	g, dir := openTest(t)
	writeFile(t, dir, "api/handler.go", "package api\n")
	writeFile(t, dir, "scratch.txt", "not mine\n")

	hash, err := g.Commit(context.Background(), []string{"api/handler.go", "./api/handler.go"}, "T1: handler")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	tree := commitTree(t, dir, hash)
	_, err = tree.File("api/handler.go")
	assert.NoError(t, err)
	_, err = tree.File("scratch.txt")
	assert.ErrorIs(t, err, object.ErrFileNotFound)
}

func TestCommitOfUnchangedFilesReturnsHead(t *testing.T) {
	g, dir := openTest(t)
	ctx := context.Background()
	writeFile(t, dir, "a.go", "package a\n")

	first, err := g.Commit(ctx, []string{"a.go"}, "T1: a")
	require.NoError(t, err)

	again, err := g.Commit(ctx, []string{"a.go"}, "T2: shares a")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	writeFile(t, dir, "a.go", "package a\n\nvar X = 1\n")
	third, err := g.Commit(ctx, []string{"a.go"}, "T3: a again")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestCommitRejectsUnqualifiedPaths(t *testing.T) {
	g, _ := openTest(t)
	ctx := context.Background()

	_, err := g.Commit(ctx, nil, "empty")
	assert.ErrorIs(t, err, ErrEmptyFileSet)

	for _, bad := range []string{".", "..", "../outside.go", "/etc/passwd", "*.go", "src/", ""} {
		_, err := g.Commit(ctx, []string{bad}, "bad")
		assert.ErrorIs(t, err, ErrUnqualifiedPath, bad)
	}
}

func TestBootstrapIsSingleUse(t *testing.T) {
	g, dir := openTest(t)
	writeFile(t, dir, "go.mod", "module example\n")
	writeFile(t, dir, "cmd/main.go", "package main\n")

	hash, err := g.Bootstrap(context.Background(), "scaffold")
	require.NoError(t, err)
	tree := commitTree(t, dir, hash)
	_, err = tree.File("cmd/main.go")
	assert.NoError(t, err)

	writeFile(t, dir, "later.go", "package later\n")
	_, err = g.Bootstrap(context.Background(), "again")
	assert.ErrorIs(t, err, ErrBootstrapUsed)
}

func TestOpenReusesExistingRepository(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	g, err := Open(dir, Author{Name: "a", Email: "a@b"}, nil)
	require.NoError(t, err)
	writeFile(t, dir, "x.go", "package x\n")
	_, err = g.Commit(context.Background(), []string{"x.go"}, "x")
	assert.NoError(t, err)
}

func TestNopCommitter(t *testing.T) {
	var c Committer = Nop{}
	hash, err := c.Commit(context.Background(), []string{"a.go"}, "m")
	assert.NoError(t, err)
	assert.Empty(t, hash)
}

func TestLazyOpensOnFirstCommit(t *testing.T) {
	dir := t.TempDir()
	l := &Lazy{Dir: dir, Author: Author{Name: "test", Email: "test@example.com"}}

	_, err := os.Stat(filepath.Join(dir, ".git"))
	require.True(t, os.IsNotExist(err))

	writeFile(t, dir, "main.go", "package main\n")
	hash, err := l.Bootstrap(context.Background(), "Scaffold project")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	_, err = l.Bootstrap(context.Background(), "again")
	assert.ErrorIs(t, err, ErrBootstrapUsed)
}
