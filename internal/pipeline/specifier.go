package pipeline

import (
	"fmt"
	"strings"
)

const (
	dependencyPrefixConstant = "^"
	softSuffixConstant       = "?"
)

// DependencyKind distinguishes same-package dependencies from dependency-package fan-out.
type DependencyKind int

const (
	// DependencySamePackage references a task within the same package.
	DependencySamePackage DependencyKind = iota
	// DependencyAllDependencies references the named task in every direct dependency package.
	DependencyAllDependencies
)

// String returns a readable kind name.
func (kind DependencyKind) String() string {
	switch kind {
	case DependencySamePackage:
		return "same-package"
	case DependencyAllDependencies:
		return "all-dependencies"
	default:
		return fmt.Sprintf("dependency-kind(%d)", int(kind))
	}
}

// DependencySpecifier is the parsed form of a dependsOn entry.
type DependencySpecifier struct {
	Kind DependencyKind
	Task string
	// Soft omits the edge instead of failing when the same-package task does not exist.
	Soft bool
}

// SamePackage constructs a same-package dependency on task.
func SamePackage(task string) DependencySpecifier {
	return DependencySpecifier{Kind: DependencySamePackage, Task: task}
}

// SoftSamePackage constructs a same-package dependency that is omitted when the task is absent.
func SoftSamePackage(task string) DependencySpecifier {
	return DependencySpecifier{Kind: DependencySamePackage, Task: task, Soft: true}
}

// AllDependencies constructs a dependency on task in every direct dependency package.
func AllDependencies(task string) DependencySpecifier {
	return DependencySpecifier{Kind: DependencyAllDependencies, Task: task}
}

// ParseDependencySpecifier converts "build", "build?" and "^build" into a DependencySpecifier.
func ParseDependencySpecifier(raw string) (DependencySpecifier, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 0 {
		return DependencySpecifier{}, DeclarationError{Field: "dependsOn", Reason: "empty dependency specifier"}
	}

	specifier := DependencySpecifier{Kind: DependencySamePackage}
	if strings.HasPrefix(trimmed, dependencyPrefixConstant) {
		specifier.Kind = DependencyAllDependencies
		trimmed = strings.TrimPrefix(trimmed, dependencyPrefixConstant)
	}
	if strings.HasSuffix(trimmed, softSuffixConstant) {
		if specifier.Kind == DependencyAllDependencies {
			return DependencySpecifier{}, DeclarationError{Field: "dependsOn", Reason: fmt.Sprintf("%q: soft marker is only valid for same-package dependencies", raw)}
		}
		specifier.Soft = true
		trimmed = strings.TrimSuffix(trimmed, softSuffixConstant)
	}

	trimmed = strings.TrimSpace(trimmed)
	if len(trimmed) == 0 {
		return DependencySpecifier{}, DeclarationError{Field: "dependsOn", Reason: fmt.Sprintf("%q: missing task name", raw)}
	}
	if strings.ContainsAny(trimmed, dependencyPrefixConstant+softSuffixConstant+" \t") {
		return DependencySpecifier{}, DeclarationError{Field: "dependsOn", Reason: fmt.Sprintf("%q: invalid task name", raw)}
	}

	specifier.Task = trimmed
	return specifier, nil
}

// String renders the specifier in declaration syntax.
func (specifier DependencySpecifier) String() string {
	rendered := specifier.Task
	if specifier.Kind == DependencyAllDependencies {
		rendered = dependencyPrefixConstant + rendered
	}
	if specifier.Soft {
		rendered += softSuffixConstant
	}
	return rendered
}
