package hashing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tyemirov/monorun/internal/taskgraph"
)

const (
	hashFormatVersionConstant = "monorun-task-v1"
	negatedPatternPrefix      = "!"
	environmentUnsetMarker    = "\x00unset"

	inputPatternErrorTemplate   = "invalid input pattern %q: %w"
	inputCollectionTemplate     = "failed to collect inputs for %s: %w"
	fileDigestErrorTemplate     = "failed to hash %s: %w"
	dotEnvReadErrorTemplate     = "failed to read dotenv file %s: %w"
	upstreamHashMissingTemplate = "hash for upstream task %s of %s is not available"

	taskHashedEvent      = "task_hashed"
	globalHashedEvent    = "global_hash_computed"
	taskFieldName        = "task"
	hashFieldName        = "hash"
	inputCountFieldName  = "input_files"
	globalFilesFieldName = "global_files"
)

// Options configures a Hasher.
type Options struct {
	WorkspaceRoot         string
	GlobalDependencies    []string
	GlobalEnvironmentKeys []string
	GlobalDotEnv          []string
	// ExcludedDirectories are workspace-relative directories never treated as inputs.
	ExcludedDirectories []string
	Concurrency         int
	LookupEnvironment   func(string) (string, bool)
	Logger              *zap.Logger
}

// InputFile is a hashed input file relative to its package root.
type InputFile struct {
	Path   string
	Digest string
}

// Fingerprint is the computed cache key of a node together with the material that produced it.
type Fingerprint struct {
	Hash       string
	InputFiles []InputFile
	// DotEnvironment holds dotenv values that must be exported to the task process.
	DotEnvironment map[string]string
}

// Hasher computes node fingerprints. It is safe for concurrent use.
type Hasher struct {
	options Options
	logger  *zap.Logger

	globalOnce        sync.Once
	globalDigest      string
	globalEnvironment map[string]string
	globalError       error

	mutex    sync.Mutex
	computed map[taskgraph.NodeID]string
}

// NewHasher constructs a Hasher.
func NewHasher(options Options) *Hasher {
	if options.Concurrency <= 0 {
		options.Concurrency = runtime.NumCPU()
	}
	if options.LookupEnvironment == nil {
		options.LookupEnvironment = os.LookupEnv
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	excluded := make([]string, 0, len(options.ExcludedDirectories)+1)
	excluded = append(excluded, ".git")
	for _, directory := range options.ExcludedDirectories {
		cleaned := path.Clean(filepath.ToSlash(directory))
		if cleaned == "." || strings.HasPrefix(cleaned, "../") {
			continue
		}
		excluded = append(excluded, cleaned)
	}
	options.ExcludedDirectories = excluded
	return &Hasher{
		options:  options,
		logger:   logger,
		computed: make(map[taskgraph.NodeID]string),
	}
}

// HashNode computes the fingerprint of node. Every dependency hash must already be present in
// upstreamHashes. Hashing the same node twice with a different result panics with DeterminismViolation.
func (hasher *Hasher) HashNode(executionContext context.Context, node *taskgraph.Node, upstreamHashes map[taskgraph.NodeID]string) (Fingerprint, error) {
	globalDigest, globalEnvironment, globalError := hasher.global(executionContext)
	if globalError != nil {
		return Fingerprint{}, globalError
	}

	inputFiles, inputError := hasher.collectInputs(executionContext, node)
	if inputError != nil {
		return Fingerprint{}, fmt.Errorf(inputCollectionTemplate, node.ID, inputError)
	}

	dotEnvironment := make(map[string]string, len(globalEnvironment))
	for key, value := range globalEnvironment {
		dotEnvironment[key] = value
	}
	taskDotEnvironment, dotEnvError := readDotEnv(node.PackageRoot, node.Definition.DotEnv)
	if dotEnvError != nil {
		return Fingerprint{}, dotEnvError
	}
	for key, value := range taskDotEnvironment {
		dotEnvironment[key] = value
	}

	writer := newFieldWriter()
	writer.field("version", hashFormatVersionConstant)
	writer.field("global", globalDigest)
	writer.field("package", node.ID.Package)
	writer.field("task", node.ID.Task)
	writer.field("command", node.Command)
	writer.list("inputs", node.Definition.Inputs)
	writer.list("outputs", node.Definition.Outputs)
	writer.flag("cacheable", node.Definition.Cacheable)
	writer.flag("persistent", node.Definition.Persistent)

	dependencySpecifiers := make([]string, 0, len(node.Definition.DependsOn))
	for _, specifier := range node.Definition.DependsOn {
		dependencySpecifiers = append(dependencySpecifiers, specifier.String())
	}
	writer.list("depends_on", dependencySpecifiers)

	fileEntries := make([]string, 0, len(inputFiles)*2)
	for _, inputFile := range inputFiles {
		fileEntries = append(fileEntries, inputFile.Path, inputFile.Digest)
	}
	writer.list("files", fileEntries)

	writer.list("env", hasher.environmentEntries(node.Definition.EnvironmentKeys))
	writer.list("dotenv", mapEntries(taskDotEnvironment))

	upstream := node.Upstream()
	upstreamEntries := make([]string, 0, len(upstream)*2)
	for _, dependency := range upstream {
		upstreamHash, available := upstreamHashes[dependency]
		if !available {
			return Fingerprint{}, fmt.Errorf(upstreamHashMissingTemplate, dependency, node.ID)
		}
		upstreamEntries = append(upstreamEntries, dependency.String(), upstreamHash)
	}
	writer.list("upstream", upstreamEntries)

	fingerprint := Fingerprint{Hash: writer.sum(), InputFiles: inputFiles, DotEnvironment: dotEnvironment}
	hasher.record(node.ID, fingerprint.Hash)

	hasher.logger.Debug(taskHashedEvent,
		zap.String(taskFieldName, node.ID.String()),
		zap.String(hashFieldName, fingerprint.Hash),
		zap.Int(inputCountFieldName, len(inputFiles)),
	)
	return fingerprint, nil
}

// HashGraph fingerprints every node bottom-up in topological order. Hashes of dependencies pruned
// from the graph are taken from the graph itself.
func (hasher *Hasher) HashGraph(executionContext context.Context, graph *taskgraph.Graph) (map[taskgraph.NodeID]Fingerprint, error) {
	fingerprints := make(map[taskgraph.NodeID]Fingerprint, graph.Len())
	hashes := graph.SatisfiedHashes()
	for _, identifier := range graph.TopologicalOrder() {
		node, _ := graph.Node(identifier)
		fingerprint, hashError := hasher.HashNode(executionContext, node, hashes)
		if hashError != nil {
			return nil, hashError
		}
		fingerprints[identifier] = fingerprint
		hashes[identifier] = fingerprint.Hash
	}
	return fingerprints, nil
}

func (hasher *Hasher) record(identifier taskgraph.NodeID, computedHash string) {
	hasher.mutex.Lock()
	defer hasher.mutex.Unlock()
	if previous, seen := hasher.computed[identifier]; seen && previous != computedHash {
		panic(DeterminismViolation{Node: identifier.String(), First: previous, Second: computedHash})
	}
	hasher.computed[identifier] = computedHash
}

func (hasher *Hasher) global(executionContext context.Context) (string, map[string]string, error) {
	hasher.globalOnce.Do(func() {
		workspaceFiles := os.DirFS(hasher.options.WorkspaceRoot)
		globalFiles, collectError := hasher.matchFiles(workspaceFiles, hasher.options.GlobalDependencies, hasher.options.ExcludedDirectories)
		if collectError != nil {
			hasher.globalError = fmt.Errorf(inputCollectionTemplate, "global dependencies", collectError)
			return
		}
		hashedFiles, digestError := hasher.digestFiles(executionContext, hasher.options.WorkspaceRoot, globalFiles)
		if digestError != nil {
			hasher.globalError = digestError
			return
		}
		globalEnvironment, dotEnvError := readDotEnv(hasher.options.WorkspaceRoot, hasher.options.GlobalDotEnv)
		if dotEnvError != nil {
			hasher.globalError = dotEnvError
			return
		}

		writer := newFieldWriter()
		writer.field("version", hashFormatVersionConstant)
		fileEntries := make([]string, 0, len(hashedFiles)*2)
		for _, hashedFile := range hashedFiles {
			fileEntries = append(fileEntries, hashedFile.Path, hashedFile.Digest)
		}
		writer.list("global_files", fileEntries)
		writer.list("global_env", hasher.environmentEntries(hasher.options.GlobalEnvironmentKeys))
		writer.list("global_dotenv", mapEntries(globalEnvironment))

		hasher.globalDigest = writer.sum()
		hasher.globalEnvironment = globalEnvironment
		hasher.logger.Debug(globalHashedEvent,
			zap.String(hashFieldName, hasher.globalDigest),
			zap.Int(globalFilesFieldName, len(hashedFiles)),
		)
	})
	return hasher.globalDigest, hasher.globalEnvironment, hasher.globalError
}

func (hasher *Hasher) collectInputs(executionContext context.Context, node *taskgraph.Node) ([]InputFile, error) {
	packageFiles := os.DirFS(node.PackageRoot)
	excluded := hasher.packageExclusions(node.RelativeRoot)

	var relativePaths []string
	var matchError error
	if len(node.Definition.Inputs) == 0 {
		relativePaths, matchError = hasher.allFiles(packageFiles, excluded, node.Definition.Outputs)
	} else {
		relativePaths, matchError = hasher.matchFiles(packageFiles, node.Definition.Inputs, excluded)
	}
	if matchError != nil {
		return nil, matchError
	}
	return hasher.digestFiles(executionContext, node.PackageRoot, relativePaths)
}

// packageExclusions maps workspace-relative exclusions into the package directory.
func (hasher *Hasher) packageExclusions(relativeRoot string) []string {
	excluded := []string{".git"}
	prefix := path.Clean(filepath.ToSlash(relativeRoot))
	for _, directory := range hasher.options.ExcludedDirectories {
		if prefix == "." || len(prefix) == 0 {
			excluded = append(excluded, directory)
			continue
		}
		if strings.HasPrefix(directory, prefix+"/") {
			excluded = append(excluded, strings.TrimPrefix(directory, prefix+"/"))
		}
	}
	return excluded
}

func (hasher *Hasher) allFiles(fileSystem fs.FS, excluded []string, outputPatterns []string) ([]string, error) {
	files := make([]string, 0)
	walkError := fs.WalkDir(fileSystem, ".", func(filePath string, entry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}
		if entry.IsDir() {
			if filePath != "." && isExcluded(filePath, excluded) {
				return fs.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		for _, outputPattern := range outputPatterns {
			if matched, _ := doublestar.Match(strings.TrimPrefix(outputPattern, negatedPatternPrefix), filePath); matched && !strings.HasPrefix(outputPattern, negatedPatternPrefix) {
				return nil
			}
		}
		files = append(files, filePath)
		return nil
	})
	if walkError != nil {
		return nil, walkError
	}
	sort.Strings(files)
	return files, nil
}

// matchFiles expands include patterns and removes files matched by "!" patterns.
func (hasher *Hasher) matchFiles(fileSystem fs.FS, patterns []string, excluded []string) ([]string, error) {
	included := make(map[string]struct{})
	negated := make([]string, 0)
	for _, pattern := range patterns {
		isNegated := strings.HasPrefix(pattern, negatedPatternPrefix)
		cleaned := path.Clean(filepath.ToSlash(strings.TrimPrefix(pattern, negatedPatternPrefix)))
		if !doublestar.ValidatePattern(cleaned) {
			return nil, fmt.Errorf(inputPatternErrorTemplate, pattern, doublestar.ErrBadPattern)
		}
		if isNegated {
			negated = append(negated, cleaned)
			continue
		}
		matches, globError := doublestar.Glob(fileSystem, cleaned, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
		if globError != nil {
			return nil, fmt.Errorf(inputPatternErrorTemplate, pattern, globError)
		}
		for _, match := range matches {
			if isExcluded(match, excluded) {
				continue
			}
			included[match] = struct{}{}
		}
	}

	files := make([]string, 0, len(included))
	for match := range included {
		skip := false
		for _, negatedPattern := range negated {
			if matched, _ := doublestar.Match(negatedPattern, match); matched {
				skip = true
				break
			}
		}
		if !skip {
			files = append(files, match)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (hasher *Hasher) digestFiles(executionContext context.Context, root string, relativePaths []string) ([]InputFile, error) {
	hashed := make([]InputFile, len(relativePaths))
	group, groupContext := errgroup.WithContext(executionContext)
	group.SetLimit(hasher.options.Concurrency)
	for fileIndex, relativePath := range relativePaths {
		group.Go(func() error {
			if contextError := groupContext.Err(); contextError != nil {
				return contextError
			}
			digest, digestError := FileDigest(filepath.Join(root, filepath.FromSlash(relativePath)))
			if digestError != nil {
				return fmt.Errorf(fileDigestErrorTemplate, relativePath, digestError)
			}
			hashed[fileIndex] = InputFile{Path: relativePath, Digest: digest}
			return nil
		})
	}
	if waitError := group.Wait(); waitError != nil {
		return nil, waitError
	}
	return hashed, nil
}

func (hasher *Hasher) environmentEntries(keys []string) []string {
	sortedKeys := append([]string(nil), keys...)
	sort.Strings(sortedKeys)
	entries := make([]string, 0, len(sortedKeys))
	for _, key := range sortedKeys {
		value, present := hasher.options.LookupEnvironment(key)
		if !present {
			value = environmentUnsetMarker
		}
		entries = append(entries, key+"="+value)
	}
	return entries
}

func readDotEnv(root string, relativePaths []string) (map[string]string, error) {
	values := make(map[string]string)
	for _, relativePath := range relativePaths {
		dotEnvPath := filepath.Join(root, filepath.FromSlash(relativePath))
		fileValues, readError := godotenv.Read(dotEnvPath)
		if readError != nil {
			if errors.Is(readError, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf(dotEnvReadErrorTemplate, dotEnvPath, readError)
		}
		for key, value := range fileValues {
			values[key] = value
		}
	}
	return values, nil
}

func mapEntries(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	entries := make([]string, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, key+"="+values[key])
	}
	return entries
}

func isExcluded(relativePath string, excluded []string) bool {
	for _, directory := range excluded {
		if relativePath == directory || strings.HasPrefix(relativePath, directory+"/") {
			return true
		}
	}
	return false
}
