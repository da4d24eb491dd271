package version_test

import (
	"context"
	"errors"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/internal/version"
)

type stubBuildInfoProvider struct {
	info      *debug.BuildInfo
	available bool
}

func (provider stubBuildInfoProvider) Read() (*debug.BuildInfo, bool) {
	if !provider.available {
		return nil, false
	}
	return provider.info, true
}

type stubRevisionDescriber struct {
	revision      string
	describeError error
	calls         int
}

func (describer *stubRevisionDescriber) Describe() (string, error) {
	describer.calls++
	return describer.revision, describer.describeError
}

func TestDetectorVersion(testInstance *testing.T) {
	develBuild := stubBuildInfoProvider{info: &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, available: true}
	testCases := []struct {
		name              string
		buildInfo         version.BuildInfoProvider
		describer         *stubRevisionDescriber
		expectedVersion   string
		expectedDescribes int
	}{
		{
			name:              "build info wins",
			buildInfo:         stubBuildInfoProvider{info: &debug.BuildInfo{Main: debug.Module{Version: "v1.2.3"}}, available: true},
			describer:         &stubRevisionDescriber{revision: "v0.0.1"},
			expectedVersion:   "v1.2.3",
			expectedDescribes: 0,
		},
		{
			name:              "devel build falls back to revision",
			buildInfo:         develBuild,
			describer:         &stubRevisionDescriber{revision: " v0.9.0\n"},
			expectedVersion:   "v0.9.0",
			expectedDescribes: 1,
		},
		{
			name:              "missing build info falls back to revision",
			buildInfo:         stubBuildInfoProvider{},
			describer:         &stubRevisionDescriber{revision: "abcdef012345"},
			expectedVersion:   "abcdef012345",
			expectedDescribes: 1,
		},
		{
			name:              "unknown when all sources fail",
			buildInfo:         develBuild,
			describer:         &stubRevisionDescriber{describeError: errors.New("no repository")},
			expectedVersion:   "unknown",
			expectedDescribes: 1,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			detector := version.NewDetector(version.Dependencies{
				BuildInfoProvider: testCase.buildInfo,
				RevisionDescriber: testCase.describer,
			})
			require.Equal(testInstance, testCase.expectedVersion, detector.Version(context.Background()))
			require.Equal(testInstance, testCase.expectedDescribes, testCase.describer.calls)
		})
	}
}

func TestDetectorOutsideRepositoryReportsUnknown(testInstance *testing.T) {
	versionString := version.Detect(context.Background(), version.Dependencies{
		BuildInfoProvider: stubBuildInfoProvider{},
		WorkingDirectory:  testInstance.TempDir(),
	})
	require.Equal(testInstance, "unknown", versionString)
}

func TestDetectorCancelledContextSkipsRevision(testInstance *testing.T) {
	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()
	describer := &stubRevisionDescriber{revision: "v1.0.0"}
	detector := version.NewDetector(version.Dependencies{BuildInfoProvider: stubBuildInfoProvider{}, RevisionDescriber: describer})
	require.Equal(testInstance, "unknown", detector.Version(cancelledContext))
	require.Zero(testInstance, describer.calls)
}
