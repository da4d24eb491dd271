// Package filter parses package scope expressions and resolves them against the workspace graph.
package filter

import "fmt"

// Expression is a node of the filter syntax tree.
type Expression interface {
	fmt.Stringer
	expression()
}

// ByName selects packages whose name matches Pattern. Pattern may contain * wildcards.
type ByName struct {
	Pattern string
}

// ByPath selects packages whose directory matches Pattern, relative to the workspace root.
type ByPath struct {
	Pattern string
}

// ByRevision selects packages owning files changed between From and To.
// An empty To compares against the working tree.
type ByRevision struct {
	From string
	To   string
}

// WithDependencies adds everything the matched packages depend on.
type WithDependencies struct {
	Inner       Expression
	ExcludeSelf bool
}

// WithDependents adds everything depending on the matched packages.
type WithDependents struct {
	Inner       Expression
	ExcludeSelf bool
}

// Exclude removes the matched packages from the selection.
type Exclude struct {
	Inner Expression
}

func (ByName) expression()           {}
func (ByPath) expression()           {}
func (ByRevision) expression()       {}
func (WithDependencies) expression() {}
func (WithDependents) expression()   {}
func (Exclude) expression()          {}

func (selector ByName) String() string { return selector.Pattern }

func (selector ByPath) String() string { return "{" + selector.Pattern + "}" }

func (selector ByRevision) String() string {
	if len(selector.To) == 0 {
		return "[" + selector.From + "]"
	}
	return "[" + selector.From + revisionRangeSeparatorConstant + selector.To + "]"
}

func (selector WithDependencies) String() string {
	if selector.ExcludeSelf {
		return selector.Inner.String() + "^" + ellipsisConstant
	}
	return selector.Inner.String() + ellipsisConstant
}

func (selector WithDependents) String() string {
	if selector.ExcludeSelf {
		return ellipsisConstant + "^" + selector.Inner.String()
	}
	return ellipsisConstant + selector.Inner.String()
}

func (selector Exclude) String() string { return "!" + selector.Inner.String() }
