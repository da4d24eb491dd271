package pipeline

import "fmt"

// DeclarationError reports an invalid pipeline declaration.
type DeclarationError struct {
	Task   string
	Field  string
	Reason string
}

// Error implements the error interface.
func (declarationError DeclarationError) Error() string {
	switch {
	case len(declarationError.Task) > 0 && len(declarationError.Field) > 0:
		return fmt.Sprintf("pipeline task %q field %q: %s", declarationError.Task, declarationError.Field, declarationError.Reason)
	case len(declarationError.Task) > 0:
		return fmt.Sprintf("pipeline task %q: %s", declarationError.Task, declarationError.Reason)
	case len(declarationError.Field) > 0:
		return fmt.Sprintf("pipeline field %q: %s", declarationError.Field, declarationError.Reason)
	default:
		return fmt.Sprintf("pipeline declaration: %s", declarationError.Reason)
	}
}
