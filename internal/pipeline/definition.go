// Package pipeline parses pipeline declarations into typed task definitions.
package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// TaskDefinition is the validated, strongly-typed form of a pipeline task declaration.
type TaskDefinition struct {
	Name            string
	DependsOn       []DependencySpecifier
	Inputs          []string
	Outputs         []string
	Cacheable       bool
	Persistent      bool
	EnvironmentKeys []string
	DotEnv          []string
	// Command runs when a package declares no script of the same name.
	Command string
}

// DefaultTaskDefinition returns the definition used for tasks that only exist as package scripts.
func DefaultTaskDefinition(name string) TaskDefinition {
	return TaskDefinition{Name: name, Cacheable: true}
}

// TaskOverride carries the declared fields of a task; nil fields inherit from the base definition.
type TaskOverride struct {
	DependsOn  *[]string `yaml:"dependsOn"`
	Inputs     *[]string `yaml:"inputs"`
	Outputs    *[]string `yaml:"outputs"`
	Cache      *bool     `yaml:"cache"`
	Persistent *bool     `yaml:"persistent"`
	Env        *[]string `yaml:"env"`
	DotEnv     *[]string `yaml:"dotEnv"`
	Command    *string   `yaml:"command"`
}

// Apply layers the override on top of base and validates the result.
func (override TaskOverride) Apply(base TaskDefinition) (TaskDefinition, error) {
	resolved := base.clone()

	if override.DependsOn != nil {
		specifiers := make([]DependencySpecifier, 0, len(*override.DependsOn))
		for _, rawSpecifier := range *override.DependsOn {
			specifier, parseError := ParseDependencySpecifier(rawSpecifier)
			if parseError != nil {
				return TaskDefinition{}, withTask(parseError, base.Name)
			}
			specifiers = append(specifiers, specifier)
		}
		resolved.DependsOn = specifiers
	}
	if override.Inputs != nil {
		resolved.Inputs = normalizePatterns(*override.Inputs)
	}
	if override.Outputs != nil {
		resolved.Outputs = normalizePatterns(*override.Outputs)
	}
	if override.Persistent != nil {
		resolved.Persistent = *override.Persistent
		if resolved.Persistent && override.Cache == nil {
			resolved.Cacheable = false
		}
	}
	if override.Cache != nil {
		resolved.Cacheable = *override.Cache
	}
	if override.Env != nil {
		resolved.EnvironmentKeys = normalizeNames(*override.Env)
	}
	if override.DotEnv != nil {
		resolved.DotEnv = normalizePatterns(*override.DotEnv)
	}
	if override.Command != nil {
		resolved.Command = strings.TrimSpace(*override.Command)
	}

	if validationError := resolved.Validate(); validationError != nil {
		return TaskDefinition{}, validationError
	}
	return resolved, nil
}

// Validate checks the definition invariants.
func (definition TaskDefinition) Validate() error {
	if len(strings.TrimSpace(definition.Name)) == 0 {
		return DeclarationError{Reason: "task name must not be empty"}
	}
	if definition.Persistent && definition.Cacheable {
		return DeclarationError{Task: definition.Name, Field: "cache", Reason: "persistent tasks cannot be cached"}
	}
	seen := make(map[string]struct{}, len(definition.DependsOn))
	for _, specifier := range definition.DependsOn {
		if specifier.Kind == DependencySamePackage && specifier.Task == definition.Name {
			return DeclarationError{Task: definition.Name, Field: "dependsOn", Reason: "task cannot depend on itself"}
		}
		key := specifier.String()
		if _, duplicate := seen[key]; duplicate {
			return DeclarationError{Task: definition.Name, Field: "dependsOn", Reason: fmt.Sprintf("duplicate dependency %q", key)}
		}
		seen[key] = struct{}{}
	}
	for _, environmentKey := range definition.EnvironmentKeys {
		if strings.ContainsAny(environmentKey, "= \t") {
			return DeclarationError{Task: definition.Name, Field: "env", Reason: fmt.Sprintf("invalid variable name %q", environmentKey)}
		}
	}
	return nil
}

func (definition TaskDefinition) clone() TaskDefinition {
	cloned := definition
	cloned.DependsOn = append([]DependencySpecifier(nil), definition.DependsOn...)
	cloned.Inputs = append([]string(nil), definition.Inputs...)
	cloned.Outputs = append([]string(nil), definition.Outputs...)
	cloned.EnvironmentKeys = append([]string(nil), definition.EnvironmentKeys...)
	cloned.DotEnv = append([]string(nil), definition.DotEnv...)
	return cloned
}

func normalizePatterns(patterns []string) []string {
	normalized := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		trimmed := strings.TrimSpace(pattern)
		if len(trimmed) == 0 {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

func normalizeNames(names []string) []string {
	unique := make(map[string]struct{}, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if len(trimmed) == 0 {
			continue
		}
		unique[trimmed] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for name := range unique {
		normalized = append(normalized, name)
	}
	sort.Strings(normalized)
	return normalized
}

func withTask(err error, task string) error {
	declarationError, ok := err.(DeclarationError)
	if !ok {
		return err
	}
	if len(declarationError.Task) == 0 {
		declarationError.Task = task
	}
	return declarationError
}
