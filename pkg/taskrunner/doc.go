// Package taskrunner hosts the orchestration of a monorun invocation. It exposes the
// `Executor` interface plus helpers (`Factory`, `Resolve`, `BuildDependencies`) so CLI
// packages resolve collaborators once and obtain a runner, while unit tests can swap in
// fakes for the cache store, the command runner and source control.
package taskrunner
