package version

import (
	"context"
	"os"
	"runtime/debug"
	"strings"

	"github.com/tyemirov/monorun/internal/scm"
)

const (
	unknownVersionFallbackConstant = "unknown"
	buildInfoDevelVersionValue     = "devel"
	buildInfoDevelVersionMarker    = "(devel)"
)

// BuildInfoProvider exposes runtime build metadata.
type BuildInfoProvider interface {
	Read() (*debug.BuildInfo, bool)
}

// RevisionDescriber names the checked-out revision of a source tree.
type RevisionDescriber interface {
	Describe() (string, error)
}

// Detector resolves application version strings.
type Detector struct {
	buildInfoProvider BuildInfoProvider
	revisionDescriber RevisionDescriber
	workingDirectory  string
}

// Dependencies describes the collaborators required for version detection.
type Dependencies struct {
	BuildInfoProvider BuildInfoProvider
	// RevisionDescriber defaults to the git repository containing WorkingDirectory.
	RevisionDescriber RevisionDescriber
	WorkingDirectory  string
}

// NewDetector constructs a Detector with the supplied dependencies or sensible defaults.
func NewDetector(dependencies Dependencies) *Detector {
	provider := dependencies.BuildInfoProvider
	if provider == nil {
		provider = runtimeBuildInfoProvider{}
	}

	workingDirectory := strings.TrimSpace(dependencies.WorkingDirectory)
	if len(workingDirectory) == 0 {
		currentDirectory, workingDirectoryError := os.Getwd()
		if workingDirectoryError == nil {
			workingDirectory = currentDirectory
		}
	}

	return &Detector{
		buildInfoProvider: provider,
		revisionDescriber: dependencies.RevisionDescriber,
		workingDirectory:  workingDirectory,
	}
}

// Detect resolves the application version using the supplied dependencies.
func Detect(executionContext context.Context, dependencies Dependencies) string {
	return NewDetector(dependencies).Version(executionContext)
}

// Version returns the module version recorded in the binary, then the tag or commit of
// the source checkout, then "unknown".
func (detector *Detector) Version(executionContext context.Context) string {
	if detector == nil {
		return unknownVersionFallbackConstant
	}

	if buildVersion := detector.versionFromBuildInfo(); len(buildVersion) > 0 {
		return buildVersion
	}
	if executionContext != nil && executionContext.Err() != nil {
		return unknownVersionFallbackConstant
	}
	if revision := detector.describeRevision(); len(revision) > 0 {
		return revision
	}
	return unknownVersionFallbackConstant
}

func (detector *Detector) versionFromBuildInfo() string {
	if detector.buildInfoProvider == nil {
		return ""
	}

	buildInfo, available := detector.buildInfoProvider.Read()
	if !available || buildInfo == nil {
		return ""
	}

	trimmedVersion := strings.TrimSpace(buildInfo.Main.Version)
	if len(trimmedVersion) == 0 {
		return ""
	}

	if strings.EqualFold(trimmedVersion, buildInfoDevelVersionValue) || trimmedVersion == buildInfoDevelVersionMarker {
		return ""
	}

	return trimmedVersion
}

func (detector *Detector) describeRevision() string {
	describer := detector.revisionDescriber
	if describer == nil {
		if len(detector.workingDirectory) == 0 {
			return ""
		}
		repository, openError := scm.Open(detector.workingDirectory)
		if openError != nil {
			return ""
		}
		describer = repository
	}

	revision, describeError := describer.Describe()
	if describeError != nil {
		return ""
	}
	return strings.TrimSpace(revision)
}

type runtimeBuildInfoProvider struct{}

func (runtimeBuildInfoProvider) Read() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}
