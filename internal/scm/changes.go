// Package scm computes changed files from the git history of the workspace.
package scm

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	repositoryOpenErrorTemplate  = "failed to open git repository at %s: %w"
	revisionResolveErrorTemplate = "failed to resolve revision %q: %w"
	revisionTreeErrorTemplate    = "failed to read tree for revision %q: %w"
	treeDiffErrorTemplate        = "failed to diff %s against %s: %w"
	worktreeStatusErrorTemplate  = "failed to read worktree status: %w"
	headRevisionConstant         = "HEAD"
)

// ErrBareRepository indicates the repository has no worktree to compare against.
var ErrBareRepository = errors.New("git repository has no worktree")

// Repository reports changed files relative to the workspace root.
type Repository struct {
	repository      *git.Repository
	workspacePrefix string
}

// Open locates the git repository containing workspaceRoot.
func Open(workspaceRoot string) (*Repository, error) {
	absoluteRoot, absoluteError := filepath.Abs(workspaceRoot)
	if absoluteError != nil {
		return nil, absoluteError
	}
	repository, openError := git.PlainOpenWithOptions(absoluteRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if openError != nil {
		return nil, fmt.Errorf(repositoryOpenErrorTemplate, absoluteRoot, openError)
	}
	worktree, worktreeError := repository.Worktree()
	if worktreeError != nil {
		return nil, ErrBareRepository
	}

	repositoryRoot, resolveError := filepath.EvalSymlinks(worktree.Filesystem.Root())
	if resolveError != nil {
		repositoryRoot = worktree.Filesystem.Root()
	}
	resolvedWorkspaceRoot, resolveError := filepath.EvalSymlinks(absoluteRoot)
	if resolveError != nil {
		resolvedWorkspaceRoot = absoluteRoot
	}
	prefix, relativeError := filepath.Rel(repositoryRoot, resolvedWorkspaceRoot)
	if relativeError != nil || prefix == "." {
		prefix = ""
	}

	return &Repository{repository: repository, workspacePrefix: filepath.ToSlash(prefix)}, nil
}

// ChangedFiles lists workspace-relative files that differ between from and to.
// An empty to compares from against HEAD plus uncommitted and untracked worktree changes.
func (repository *Repository) ChangedFiles(executionContext context.Context, from string, to string) ([]string, error) {
	fromTree, fromError := repository.revisionTree(from)
	if fromError != nil {
		return nil, fromError
	}

	target := to
	if len(target) == 0 {
		target = headRevisionConstant
	}
	toTree, toError := repository.revisionTree(target)
	if toError != nil {
		return nil, toError
	}

	changes, diffError := object.DiffTreeWithOptions(executionContext, fromTree, toTree, object.DefaultDiffTreeOptions)
	if diffError != nil {
		return nil, fmt.Errorf(treeDiffErrorTemplate, from, target, diffError)
	}

	changed := make(map[string]struct{})
	for _, change := range changes {
		if len(change.From.Name) > 0 {
			changed[change.From.Name] = struct{}{}
		}
		if len(change.To.Name) > 0 {
			changed[change.To.Name] = struct{}{}
		}
	}

	if len(to) == 0 {
		worktree, worktreeError := repository.repository.Worktree()
		if worktreeError != nil {
			return nil, ErrBareRepository
		}
		status, statusError := worktree.Status()
		if statusError != nil {
			return nil, fmt.Errorf(worktreeStatusErrorTemplate, statusError)
		}
		for filePath, fileStatus := range status {
			if fileStatus.Staging == git.Unmodified && fileStatus.Worktree == git.Unmodified {
				continue
			}
			changed[filePath] = struct{}{}
		}
	}

	return repository.workspaceRelative(changed), nil
}

func (repository *Repository) revisionTree(revision string) (*object.Tree, error) {
	hash, resolveError := repository.repository.ResolveRevision(plumbing.Revision(revision))
	if resolveError != nil {
		return nil, fmt.Errorf(revisionResolveErrorTemplate, revision, resolveError)
	}
	commit, commitError := repository.repository.CommitObject(*hash)
	if commitError != nil {
		return nil, fmt.Errorf(revisionTreeErrorTemplate, revision, commitError)
	}
	tree, treeError := commit.Tree()
	if treeError != nil {
		return nil, fmt.Errorf(revisionTreeErrorTemplate, revision, treeError)
	}
	return tree, nil
}

func (repository *Repository) workspaceRelative(repositoryPaths map[string]struct{}) []string {
	relativePaths := make([]string, 0, len(repositoryPaths))
	for repositoryPath := range repositoryPaths {
		normalized := path.Clean(filepath.ToSlash(repositoryPath))
		if len(repository.workspacePrefix) > 0 {
			if !strings.HasPrefix(normalized, repository.workspacePrefix+"/") {
				continue
			}
			normalized = strings.TrimPrefix(normalized, repository.workspacePrefix+"/")
		}
		relativePaths = append(relativePaths, normalized)
	}
	sort.Strings(relativePaths)
	return relativePaths
}
