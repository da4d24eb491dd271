package cache

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	flagutils "github.com/tyemirov/monorun/internal/utils/flags"
)

func newRootCommand(testInstance *testing.T, subcommand *cobra.Command) (*cobra.Command, *bytes.Buffer) {
	testInstance.Helper()
	rootCommand := &cobra.Command{Use: "monorun", SilenceUsage: true, SilenceErrors: true}
	rootCommand.PersistentFlags().String(flagutils.WorkspaceFlagName, "", flagutils.WorkspaceFlagUsage)
	rootCommand.AddCommand(subcommand)
	output := &bytes.Buffer{}
	rootCommand.SetOut(output)
	rootCommand.SetErr(&bytes.Buffer{})
	return rootCommand, output
}

func TestCleanCommandRemovesCacheDirectory(testInstance *testing.T) {
	testCases := []struct {
		name       string
		configured string
		arguments  []string
		target     func(root string) string
	}{
		{
			name:   "default directory",
			target: func(root string) string { return filepath.Join(root, ".monorun", "cache") },
		},
		{
			name:       "configured relative directory",
			configured: "build-cache",
			target:     func(root string) string { return filepath.Join(root, "build-cache") },
		},
		{
			name:       "flag overrides configuration",
			configured: "build-cache",
			arguments:  []string{"--cache-dir", "flag-cache"},
			target:     func(root string) string { return filepath.Join(root, "flag-cache") },
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			root := testInstance.TempDir()
			target := testCase.target(root)
			require.NoError(testInstance, os.MkdirAll(filepath.Join(target, "ab"), 0o755))
			require.NoError(testInstance, os.WriteFile(filepath.Join(target, "ab", "abcdef.tar.zst"), []byte("x"), 0o644))

			builder := &CleanCommandBuilder{CacheDirectoryProvider: func() string { return testCase.configured }}
			cleanCommand, buildError := builder.Build()
			require.NoError(testInstance, buildError)
			rootCommand, output := newRootCommand(testInstance, cleanCommand)
			rootCommand.SetArgs(append([]string{"clean", "--cwd", root}, testCase.arguments...))

			require.NoError(testInstance, rootCommand.ExecuteContext(context.Background()))
			require.NoDirExists(testInstance, target)
			require.Equal(testInstance, "removed "+target+"\n", output.String())
		})
	}
}

func TestCleanCommandMissingDirectorySucceeds(testInstance *testing.T) {
	root := testInstance.TempDir()
	cleanCommand, buildError := (&CleanCommandBuilder{}).Build()
	require.NoError(testInstance, buildError)
	rootCommand, _ := newRootCommand(testInstance, cleanCommand)
	rootCommand.SetArgs([]string{"clean", "--cwd", root})
	require.NoError(testInstance, rootCommand.ExecuteContext(context.Background()))
}

func TestServeCommandServesArtifactsUntilCancelled(testInstance *testing.T) {
	root := testInstance.TempDir()
	addresses := make(chan net.Addr, 1)
	builder := &ServeCommandBuilder{
		ConfigurationProvider: func() ServeConfiguration {
			return ServeConfiguration{Address: "127.0.0.1:0", Token: "secret"}
		},
		Listen: func(network string, address string) (net.Listener, error) {
			listener, listenError := net.Listen(network, address)
			if listenError == nil {
				addresses <- listener.Addr()
			}
			return listener, listenError
		},
	}
	serveCommand, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	rootCommand, _ := newRootCommand(testInstance, serveCommand)
	rootCommand.SetArgs([]string{"serve", "--cwd", root})

	executionContext, cancel := context.WithCancel(context.Background())
	defer cancel()
	finished := make(chan error, 1)
	go func() {
		finished <- rootCommand.ExecuteContext(executionContext)
	}()

	var address net.Addr
	select {
	case address = <-addresses:
	case <-time.After(5 * time.Second):
		testInstance.Fatal("server did not start listening")
	}
	artifactURL := "http://" + address.String() + "/artifacts/abc123?teamId=team"

	unauthorized, requestError := http.Get(artifactURL)
	require.NoError(testInstance, requestError)
	require.NoError(testInstance, unauthorized.Body.Close())
	require.Equal(testInstance, http.StatusUnauthorized, unauthorized.StatusCode)

	putRequest, requestError := http.NewRequest(http.MethodPut, artifactURL, strings.NewReader("artifact"))
	require.NoError(testInstance, requestError)
	putRequest.Header.Set("Authorization", "Bearer secret")
	putResponse, requestError := http.DefaultClient.Do(putRequest)
	require.NoError(testInstance, requestError)
	require.NoError(testInstance, putResponse.Body.Close())
	require.Equal(testInstance, http.StatusAccepted, putResponse.StatusCode)

	getRequest, requestError := http.NewRequest(http.MethodGet, artifactURL, nil)
	require.NoError(testInstance, requestError)
	getRequest.Header.Set("Authorization", "Bearer secret")
	getResponse, requestError := http.DefaultClient.Do(getRequest)
	require.NoError(testInstance, requestError)
	body, readError := io.ReadAll(getResponse.Body)
	require.NoError(testInstance, readError)
	require.NoError(testInstance, getResponse.Body.Close())
	require.Equal(testInstance, http.StatusOK, getResponse.StatusCode)
	require.Equal(testInstance, "artifact", string(body))
	require.DirExists(testInstance, filepath.Join(root, ".monorun", "remote"))

	cancel()
	select {
	case executionError := <-finished:
		require.NoError(testInstance, executionError)
	case <-time.After(10 * time.Second):
		testInstance.Fatal("server did not stop after cancellation")
	}
}

func TestServeConfigurationSanitize(testInstance *testing.T) {
	sanitized := ServeConfiguration{Address: "  ", Directory: " /data ", Token: " t "}.Sanitize()
	require.Equal(testInstance, ServeConfiguration{Address: ":8080", Directory: "/data", Token: "t"}, sanitized)
}
