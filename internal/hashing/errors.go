package hashing

import "fmt"

// DeterminismViolation is raised as a panic when the same node hashes to two different keys
// within one invocation, meaning input collection is not deterministic.
type DeterminismViolation struct {
	Node   string
	First  string
	Second string
}

// Error implements the error interface.
func (violation DeterminismViolation) Error() string {
	return fmt.Sprintf("non-deterministic hash for %s: %s != %s", violation.Node, violation.First, violation.Second)
}
