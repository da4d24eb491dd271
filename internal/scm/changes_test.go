package scm_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/internal/scm"
)

func commitFiles(testInstance *testing.T, repository *git.Repository, repositoryRoot string, files map[string]string, message string) {
	testInstance.Helper()
	worktree, worktreeError := repository.Worktree()
	require.NoError(testInstance, worktreeError)
	for relativePath, content := range files {
		absolutePath := filepath.Join(repositoryRoot, filepath.FromSlash(relativePath))
		require.NoError(testInstance, os.MkdirAll(filepath.Dir(absolutePath), 0o755))
		require.NoError(testInstance, os.WriteFile(absolutePath, []byte(content), 0o644))
		_, addError := worktree.Add(relativePath)
		require.NoError(testInstance, addError)
	}
	_, commitError := worktree.Commit(message, &git.CommitOptions{Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}})
	require.NoError(testInstance, commitError)
}

func TestRepositoryChangedFiles(testInstance *testing.T) {
	repositoryRoot := testInstance.TempDir()
	repository, initError := git.PlainInit(repositoryRoot, false)
	require.NoError(testInstance, initError)

	commitFiles(testInstance, repository, repositoryRoot, map[string]string{
		"packages/core/main.go": "package core\n",
		"packages/lib/lib.go":   "package lib\n",
	}, "initial")
	_, tagError := repository.CreateTag("v1", mustHead(testInstance, repository), nil)
	require.NoError(testInstance, tagError)

	commitFiles(testInstance, repository, repositoryRoot, map[string]string{
		"packages/lib/lib.go": "package lib\n\nconst Version = 2\n",
	}, "change lib")

	changesRepository, openError := scm.Open(repositoryRoot)
	require.NoError(testInstance, openError)

	committed, committedError := changesRepository.ChangedFiles(context.Background(), "v1", "HEAD")
	require.NoError(testInstance, committedError)
	require.Equal(testInstance, []string{"packages/lib/lib.go"}, committed)

	require.NoError(testInstance, os.WriteFile(filepath.Join(repositoryRoot, "packages", "core", "new.go"), []byte("package core\n"), 0o644))
	withWorktree, worktreeError := changesRepository.ChangedFiles(context.Background(), "v1", "")
	require.NoError(testInstance, worktreeError)
	require.Equal(testInstance, []string{"packages/core/new.go", "packages/lib/lib.go"}, withWorktree)

	_, unknownError := changesRepository.ChangedFiles(context.Background(), "does-not-exist", "")
	require.Error(testInstance, unknownError)
}

func TestRepositoryChangedFilesFromNestedWorkspace(testInstance *testing.T) {
	repositoryRoot := testInstance.TempDir()
	repository, initError := git.PlainInit(repositoryRoot, false)
	require.NoError(testInstance, initError)

	commitFiles(testInstance, repository, repositoryRoot, map[string]string{
		"monorepo/packages/core/main.go": "package core\n",
		"other/file.txt":                 "x\n",
	}, "initial")
	commitFiles(testInstance, repository, repositoryRoot, map[string]string{
		"monorepo/packages/core/main.go": "package core\n\n// changed\n",
		"other/file.txt":                 "y\n",
	}, "second")

	changesRepository, openError := scm.Open(filepath.Join(repositoryRoot, "monorepo"))
	require.NoError(testInstance, openError)

	changed, changedError := changesRepository.ChangedFiles(context.Background(), "HEAD~1", "HEAD")
	require.NoError(testInstance, changedError)
	require.Equal(testInstance, []string{"packages/core/main.go"}, changed)
}

func mustHead(testInstance *testing.T, repository *git.Repository) plumbing.Hash {
	testInstance.Helper()
	head, headError := repository.Head()
	require.NoError(testInstance, headError)
	return head.Hash()
}
