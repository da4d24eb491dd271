package taskrunner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyemirov/monorun/internal/filter"
	"github.com/tyemirov/monorun/internal/pipeline"
)

// Stage names the orchestration step an error originated from.
type Stage string

// Orchestration stages.
const (
	StageDeclaration   Stage = "declaration"
	StageWorkspace     Stage = "workspace"
	StageFilter        Stage = "filter"
	StageGraph         Stage = "graph"
	StageConfiguration Stage = "configuration"
	StageExecution     Stage = "execution"
)

// Process exit codes.
const (
	ExitCodeSuccess      = 0
	ExitCodeFailure      = 1
	ExitCodeInvalidInput = 2
)

// StageError attributes a failure to an orchestration stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (stageError StageError) Error() string {
	return fmt.Sprintf("%s: %v", stageError.Stage, stageError.Err)
}

// Unwrap exposes the underlying error.
func (stageError StageError) Unwrap() error {
	return stageError.Err
}

// TasksFailedError reports failed tasks after a completed run.
type TasksFailedError struct {
	Tasks       []string
	Interrupted bool
}

func (failedError TasksFailedError) Error() string {
	if failedError.Interrupted && len(failedError.Tasks) == 0 {
		return "run interrupted"
	}
	return fmt.Sprintf("%d task(s) failed: %s", len(failedError.Tasks), strings.Join(failedError.Tasks, ", "))
}

// ExitCode maps an invocation error to the process exit code: declaration, filter and
// configuration problems exit 2, task failures and graph errors exit 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	var declarationError pipeline.DeclarationError
	if errors.As(err, &declarationError) {
		return ExitCodeInvalidInput
	}
	var syntaxError filter.FilterSyntaxError
	if errors.As(err, &syntaxError) {
		return ExitCodeInvalidInput
	}
	var stageError StageError
	if errors.As(err, &stageError) {
		switch stageError.Stage {
		case StageDeclaration, StageFilter, StageConfiguration:
			return ExitCodeInvalidInput
		}
	}
	return ExitCodeFailure
}
