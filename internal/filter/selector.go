package filter

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/tyemirov/monorun/internal/workspace"
)

const (
	changedFilesErrorTemplate    = "failed to resolve changed files for %s: %w"
	changedPackagesResolvedEvent = "filter_changed_packages_resolved"
	globalDependencyChangedEvent = "filter_global_dependency_changed"
	revisionFieldName            = "revision"
	packagesFieldName            = "packages"
	fileFieldName                = "file"
)

// ErrChangedFilesProviderMissing indicates a revision filter was used without source control access.
var ErrChangedFilesProviderMissing = errors.New("no source control provider configured")

// ChangedFilesProvider lists workspace-relative files changed between two revisions.
// An empty to compares the from revision against the working tree.
type ChangedFilesProvider interface {
	ChangedFiles(executionContext context.Context, from string, to string) ([]string, error)
}

// NoMatchError reports a literal package name that matches no workspace package.
type NoMatchError struct {
	Selector string
}

// Error implements the error interface.
func (noMatchError NoMatchError) Error() string {
	return fmt.Sprintf("no workspace package matches filter %q", noMatchError.Selector)
}

// Selector resolves filter expressions to package names.
type Selector struct {
	workspaceGraph           *workspace.Graph
	changedFilesProvider     ChangedFilesProvider
	globalDependencyPatterns []string
	logger                   *zap.Logger
}

// NewSelector constructs a Selector. A change to a file matching globalDependencyPatterns marks every
// package changed.
func NewSelector(workspaceGraph *workspace.Graph, changedFilesProvider ChangedFilesProvider, globalDependencyPatterns []string, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		workspaceGraph:           workspaceGraph,
		changedFilesProvider:     changedFilesProvider,
		globalDependencyPatterns: globalDependencyPatterns,
		logger:                   logger,
	}
}

// Select unions the included expressions and subtracts the excluded ones.
// With no inclusive expression the selection starts from every package.
func (selector *Selector) Select(executionContext context.Context, expressions []Expression) ([]string, error) {
	included := make(map[string]struct{})
	excluded := make(map[string]struct{})
	hasInclusion := false

	for _, expression := range expressions {
		if exclusion, isExclusion := expression.(Exclude); isExclusion {
			names, resolveError := selector.resolve(executionContext, exclusion.Inner)
			if resolveError != nil {
				return nil, resolveError
			}
			addAll(excluded, names)
			continue
		}
		hasInclusion = true
		names, resolveError := selector.resolve(executionContext, expression)
		if resolveError != nil {
			return nil, resolveError
		}
		addAll(included, names)
	}

	if !hasInclusion {
		addAll(included, selector.workspaceGraph.Names())
	}

	selected := make([]string, 0, len(included))
	for name := range included {
		if _, isExcluded := excluded[name]; isExcluded {
			continue
		}
		selected = append(selected, name)
	}
	sort.Strings(selected)
	return selected, nil
}

func (selector *Selector) resolve(executionContext context.Context, expression Expression) ([]string, error) {
	switch typed := expression.(type) {
	case ByName:
		return selector.matchNames(typed.Pattern)
	case ByPath:
		return selector.matchPaths(typed.Pattern)
	case ByRevision:
		return selector.changedPackages(executionContext, typed)
	case WithDependencies:
		seeds, seedError := selector.resolve(executionContext, typed.Inner)
		if seedError != nil {
			return nil, seedError
		}
		return expand(seeds, selector.workspaceGraph.DependencyClosure(seeds), typed.ExcludeSelf), nil
	case WithDependents:
		seeds, seedError := selector.resolve(executionContext, typed.Inner)
		if seedError != nil {
			return nil, seedError
		}
		return expand(seeds, selector.workspaceGraph.DependentClosure(seeds), typed.ExcludeSelf), nil
	case Exclude:
		return nil, FilterSyntaxError{Expression: typed.String(), Reason: "nested exclusion"}
	default:
		return nil, fmt.Errorf("unsupported filter expression %T", expression)
	}
}

func (selector *Selector) matchNames(pattern string) ([]string, error) {
	matches := make([]string, 0)
	for _, name := range selector.workspaceGraph.Names() {
		matched, matchError := path.Match(pattern, name)
		if matchError != nil {
			return nil, FilterSyntaxError{Expression: pattern, Reason: matchError.Error()}
		}
		if matched {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return nil, NoMatchError{Selector: pattern}
	}
	return matches, nil
}

func (selector *Selector) matchPaths(pattern string) ([]string, error) {
	normalized := filepath.ToSlash(pattern)
	if filepath.IsAbs(pattern) {
		relative, relativeError := filepath.Rel(selector.workspaceGraph.Root(), pattern)
		if relativeError == nil {
			normalized = filepath.ToSlash(relative)
		}
	}
	normalized = path.Clean(normalized)
	if !doublestar.ValidatePattern(normalized) {
		return nil, FilterSyntaxError{Expression: pattern, Reason: "invalid path pattern"}
	}

	matches := make([]string, 0)
	for _, name := range selector.workspaceGraph.Names() {
		workspacePackage, _ := selector.workspaceGraph.Package(name)
		if matched, _ := doublestar.Match(normalized, workspacePackage.RelativeRoot); matched {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

func (selector *Selector) changedPackages(executionContext context.Context, revision ByRevision) ([]string, error) {
	if selector.changedFilesProvider == nil {
		return nil, fmt.Errorf(changedFilesErrorTemplate, revision.String(), ErrChangedFilesProviderMissing)
	}
	changedFiles, changedError := selector.changedFilesProvider.ChangedFiles(executionContext, revision.From, revision.To)
	if changedError != nil {
		return nil, fmt.Errorf(changedFilesErrorTemplate, revision.String(), changedError)
	}

	changed := make(map[string]struct{})
	for _, changedFile := range changedFiles {
		if selector.matchesGlobalDependency(changedFile) {
			selector.logger.Info(globalDependencyChangedEvent,
				zap.String(revisionFieldName, revision.String()),
				zap.String(fileFieldName, changedFile),
			)
			return selector.workspaceGraph.Names(), nil
		}
		if owner, owned := selector.workspaceGraph.PackageForPath(changedFile); owned {
			changed[owner] = struct{}{}
		}
	}

	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	sort.Strings(names)
	selector.logger.Debug(changedPackagesResolvedEvent,
		zap.String(revisionFieldName, revision.String()),
		zap.Strings(packagesFieldName, names),
	)
	return names, nil
}

func (selector *Selector) matchesGlobalDependency(changedFile string) bool {
	normalized := filepath.ToSlash(changedFile)
	for _, pattern := range selector.globalDependencyPatterns {
		if matched, _ := doublestar.Match(path.Clean(filepath.ToSlash(pattern)), normalized); matched {
			return true
		}
	}
	return false
}

func expand(seeds []string, closure []string, excludeSelf bool) []string {
	if !excludeSelf {
		return closure
	}
	seedSet := make(map[string]struct{}, len(seeds))
	addAll(seedSet, seeds)
	expanded := make([]string, 0, len(closure))
	for _, name := range closure {
		if _, isSeed := seedSet[name]; isSeed {
			continue
		}
		expanded = append(expanded, name)
	}
	return expanded
}

func addAll(target map[string]struct{}, names []string) {
	for _, name := range names {
		target[name] = struct{}{}
	}
}
