package cache

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tyemirov/monorun/internal/hashing"
)

const (
	negatedOutputPrefix           = "!"
	outputPatternErrorTemplate    = "invalid output pattern %q: %w"
	outputReadErrorTemplate       = "failed to read output %s: %w"
	outputRestoreErrorTemplate    = "failed to restore output %s: %w"
	outputDigestMismatchTemplate  = "%w: %s"
	outputEscapesPackageTemplate  = "output path %q escapes the package directory"
	defaultOutputFileModeConstant = 0o644
	outputDirectoryModeConstant   = 0o755
)

// CaptureOutputs reads every file under packageRoot matched by the output patterns.
// Patterns prefixed with "!" remove matches.
func CaptureOutputs(packageRoot string, patterns []string) ([]OutputFile, error) {
	packageFiles := os.DirFS(packageRoot)
	included := make(map[string]struct{})
	negated := make([]string, 0)
	for _, pattern := range patterns {
		isNegated := strings.HasPrefix(pattern, negatedOutputPrefix)
		cleaned := path.Clean(filepath.ToSlash(strings.TrimPrefix(pattern, negatedOutputPrefix)))
		if !doublestar.ValidatePattern(cleaned) {
			return nil, fmt.Errorf(outputPatternErrorTemplate, pattern, doublestar.ErrBadPattern)
		}
		if isNegated {
			negated = append(negated, cleaned)
			continue
		}
		matches, globError := doublestar.Glob(packageFiles, cleaned, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
		if globError != nil {
			return nil, fmt.Errorf(outputPatternErrorTemplate, pattern, globError)
		}
		for _, match := range matches {
			included[match] = struct{}{}
		}
	}

	relativePaths := make([]string, 0, len(included))
	for match := range included {
		excluded := false
		for _, negatedPattern := range negated {
			if matched, _ := doublestar.Match(negatedPattern, match); matched {
				excluded = true
				break
			}
		}
		if !excluded {
			relativePaths = append(relativePaths, match)
		}
	}
	sort.Strings(relativePaths)

	outputs := make([]OutputFile, 0, len(relativePaths))
	for _, relativePath := range relativePaths {
		absolutePath := filepath.Join(packageRoot, filepath.FromSlash(relativePath))
		info, statError := os.Lstat(absolutePath)
		if statError != nil {
			return nil, fmt.Errorf(outputReadErrorTemplate, relativePath, statError)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		content, readError := os.ReadFile(absolutePath)
		if readError != nil {
			return nil, fmt.Errorf(outputReadErrorTemplate, relativePath, readError)
		}
		outputs = append(outputs, OutputFile{
			Path:    relativePath,
			Digest:  hashing.BytesDigest(content),
			Mode:    uint32(info.Mode().Perm()),
			Content: content,
		})
	}
	return outputs, nil
}

// RestoreOutputs writes the outputs back under packageRoot and verifies each restored file
// against its recorded digest.
func RestoreOutputs(packageRoot string, outputs []OutputFile) error {
	for _, output := range outputs {
		destination, destinationError := containedPath(packageRoot, output.Path)
		if destinationError != nil {
			return destinationError
		}
		if hashing.BytesDigest(output.Content) != output.Digest {
			return fmt.Errorf(outputDigestMismatchTemplate, ErrDigestMismatch, output.Path)
		}
		if mkdirError := os.MkdirAll(filepath.Dir(destination), outputDirectoryModeConstant); mkdirError != nil {
			return fmt.Errorf(outputRestoreErrorTemplate, output.Path, mkdirError)
		}
		mode := fs.FileMode(output.Mode).Perm()
		if mode == 0 {
			mode = defaultOutputFileModeConstant
		}
		if writeError := writeFileAtomically(destination, output.Content, mode); writeError != nil {
			return fmt.Errorf(outputRestoreErrorTemplate, output.Path, writeError)
		}
		restoredDigest, digestError := hashing.FileDigest(destination)
		if digestError != nil {
			return fmt.Errorf(outputRestoreErrorTemplate, output.Path, digestError)
		}
		if restoredDigest != output.Digest {
			return fmt.Errorf(outputDigestMismatchTemplate, ErrDigestMismatch, output.Path)
		}
	}
	return nil
}

func containedPath(root string, relativePath string) (string, error) {
	cleaned := path.Clean(filepath.ToSlash(relativePath))
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf(outputEscapesPackageTemplate, relativePath)
	}
	return filepath.Join(root, filepath.FromSlash(cleaned)), nil
}

func writeFileAtomically(destination string, content []byte, mode fs.FileMode) error {
	temporaryFile, createError := os.CreateTemp(filepath.Dir(destination), ".monorun-restore-*")
	if createError != nil {
		return createError
	}
	temporaryName := temporaryFile.Name()
	_, writeError := temporaryFile.Write(content)
	closeError := temporaryFile.Close()
	if writeError == nil {
		writeError = closeError
	}
	if writeError == nil {
		writeError = os.Chmod(temporaryName, mode)
	}
	if writeError == nil {
		writeError = os.Rename(temporaryName, destination)
	}
	if writeError != nil {
		_ = os.Remove(temporaryName)
	}
	return writeError
}
