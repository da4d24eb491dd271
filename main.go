package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tyemirov/monorun/cmd/cli"
)

const (
	exitErrorTemplateConstant = "%v\n"
	defaultFailureExitCode    = 1
)

type exitCoder interface {
	ExitCode() int
}

// main executes the monorun command-line application.
func main() {
	executionError := cli.Execute()
	if executionError == nil {
		return
	}
	fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, executionError)

	exitCode := defaultFailureExitCode
	var coder exitCoder
	if errors.As(executionError, &coder) {
		exitCode = coder.ExitCode()
	}
	os.Exit(exitCode)
}
