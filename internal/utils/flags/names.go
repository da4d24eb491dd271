package flags

const (
	// DryRunFlagName exposes the shared dry-run flag name.
	DryRunFlagName = "dry-run"
	// DryRunFlagUsage describes the shared dry-run flag purpose.
	DryRunFlagUsage = "Compute the plan and task hashes without executing tasks"
	// ForceFlagName exposes the shared force flag name.
	ForceFlagName = "force"
	// ForceFlagUsage describes the shared force flag purpose.
	ForceFlagUsage = "Ignore existing cache entries and execute every task"
	// WorkspaceFlagName exposes the shared workspace root flag name.
	WorkspaceFlagName = "cwd"
	// WorkspaceFlagUsage describes the shared workspace root flag purpose.
	WorkspaceFlagUsage = "Workspace root directory (defaults to the current directory)"
)
