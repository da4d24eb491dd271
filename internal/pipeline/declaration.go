package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DeclarationFileName is the pipeline declaration file expected at the workspace root.
	DeclarationFileName = "monorun.yaml"

	declarationReadErrorTemplate  = "failed to read pipeline declaration: %w"
	declarationParseErrorTemplate = "failed to parse pipeline declaration: %w"
)

// DefaultPackagePatterns lists the workspace globs used when the declaration names none.
var DefaultPackagePatterns = []string{"packages/*", "apps/*"}

// ErrDeclarationMissing indicates that no declaration file exists at the workspace root.
var ErrDeclarationMissing = errors.New("pipeline declaration not found")

// Declaration is the validated workspace-level pipeline declaration.
type Declaration struct {
	Packages              []string
	GlobalDependencies    []string
	GlobalEnvironmentKeys []string
	GlobalDotEnv          []string
	Tasks                 map[string]TaskDefinition
}

type declarationFile struct {
	Packages           []string                `yaml:"packages"`
	GlobalDependencies []string                `yaml:"globalDependencies"`
	GlobalEnv          []string                `yaml:"globalEnv"`
	GlobalDotEnv       []string                `yaml:"globalDotEnv"`
	Tasks              map[string]TaskOverride `yaml:"tasks"`
}

// LoadDeclaration reads DeclarationFileName from the workspace root.
func LoadDeclaration(workspaceRoot string) (Declaration, error) {
	declarationPath := filepath.Join(workspaceRoot, DeclarationFileName)
	contentBytes, readError := os.ReadFile(declarationPath)
	if readError != nil {
		if errors.Is(readError, os.ErrNotExist) {
			return Declaration{}, fmt.Errorf("%w: %s", ErrDeclarationMissing, declarationPath)
		}
		return Declaration{}, fmt.Errorf(declarationReadErrorTemplate, readError)
	}
	return ParseDeclaration(contentBytes)
}

// ParseDeclaration decodes and validates declaration content. Unknown keys are rejected.
func ParseDeclaration(contentBytes []byte) (Declaration, error) {
	var parsed declarationFile
	decoder := yaml.NewDecoder(bytes.NewReader(contentBytes))
	decoder.KnownFields(true)
	if decodeError := decoder.Decode(&parsed); decodeError != nil && !errors.Is(decodeError, io.EOF) {
		return Declaration{}, fmt.Errorf(declarationParseErrorTemplate, decodeError)
	}

	declaration := Declaration{
		Packages:              normalizePatterns(parsed.Packages),
		GlobalDependencies:    normalizePatterns(parsed.GlobalDependencies),
		GlobalEnvironmentKeys: normalizeNames(parsed.GlobalEnv),
		GlobalDotEnv:          normalizePatterns(parsed.GlobalDotEnv),
		Tasks:                 make(map[string]TaskDefinition, len(parsed.Tasks)),
	}
	if len(declaration.Packages) == 0 {
		declaration.Packages = append([]string(nil), DefaultPackagePatterns...)
	}

	for rawName, override := range parsed.Tasks {
		taskName := strings.TrimSpace(rawName)
		if len(taskName) == 0 {
			return Declaration{}, DeclarationError{Reason: "task name must not be empty"}
		}
		if strings.ContainsAny(taskName, "^?:# \t") {
			return Declaration{}, DeclarationError{Task: taskName, Reason: "task name contains reserved characters"}
		}
		definition, applyError := override.Apply(DefaultTaskDefinition(taskName))
		if applyError != nil {
			return Declaration{}, applyError
		}
		declaration.Tasks[taskName] = definition
	}

	return declaration, nil
}

// TaskNames returns the declared task names in sorted order.
func (declaration Declaration) TaskNames() []string {
	names := make([]string, 0, len(declaration.Tasks))
	for name := range declaration.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the definition of taskName for a package carrying the provided overrides.
// The boolean reports whether the task is declared globally or by the package.
func (declaration Declaration) Resolve(taskName string, packageOverrides map[string]TaskOverride) (TaskDefinition, bool, error) {
	base, declared := declaration.Tasks[taskName]
	if !declared {
		base = DefaultTaskDefinition(taskName)
	}
	override, overridden := packageOverrides[taskName]
	if !overridden {
		return base, declared, nil
	}
	resolved, applyError := override.Apply(base)
	if applyError != nil {
		return TaskDefinition{}, false, applyError
	}
	return resolved, true, nil
}
