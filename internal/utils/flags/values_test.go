package flags

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestCollectExecutionFlagsReportsChangedState(t *testing.T) {
	root := &cobra.Command{Use: "root"}
	BindExecutionFlags(root, ExecutionDefaults{}, ExecutionFlagDefinitions{
		DryRun: ExecutionFlagDefinition{Name: DryRunFlagName, Usage: DryRunFlagUsage, Enabled: true},
		Force:  ExecutionFlagDefinition{Name: ForceFlagName, Usage: ForceFlagUsage, Enabled: true},
	})
	child := &cobra.Command{Use: "child", RunE: func(*cobra.Command, []string) error { return nil }}
	root.AddCommand(child)

	require.NoError(t, root.PersistentFlags().Parse([]string{"--dry-run"}))

	executionFlags := CollectExecutionFlags(child)
	require.True(t, executionFlags.DryRun)
	require.True(t, executionFlags.DryRunSet)
	require.False(t, executionFlags.Force)
	require.False(t, executionFlags.ForceSet)
}

func TestBoolFlagMissingDefinition(t *testing.T) {
	command := &cobra.Command{Use: "bare"}
	_, _, err := BoolFlag(command, "absent")
	require.ErrorIs(t, err, ErrFlagNotDefined)
}

func TestStringArrayFlagReturnsRepeatedValues(t *testing.T) {
	command := &cobra.Command{Use: "run"}
	command.Flags().StringArray("filter", nil, "")
	require.NoError(t, command.Flags().Parse([]string{"--filter", "web...", "--filter", "...core"}))

	values, changed, err := StringArrayFlag(command, "filter")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, []string{"web...", "...core"}, values)
}
