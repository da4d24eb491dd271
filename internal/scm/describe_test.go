package scm_test

import (
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/internal/scm"
)

func TestRepositoryDescribe(testInstance *testing.T) {
	testCases := []struct {
		name          string
		lightweight   []string
		annotated     []string
		expectVersion string
		expectHash    bool
	}{
		{name: "untagged head", expectHash: true},
		{name: "lightweight tag", lightweight: []string{"release"}, expectVersion: "release"},
		{name: "highest semantic version wins", lightweight: []string{"v1.2.0", "v1.10.0", "nightly"}, expectVersion: "v1.10.0"},
		{name: "annotated tag", annotated: []string{"v2.0.0"}, expectVersion: "v2.0.0"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			repositoryRoot := testInstance.TempDir()
			repository, initError := git.PlainInit(repositoryRoot, false)
			require.NoError(testInstance, initError)
			commitFiles(testInstance, repository, repositoryRoot, map[string]string{"README.md": "x\n"}, "initial")
			head := mustHead(testInstance, repository)

			for _, tagName := range testCase.lightweight {
				_, tagError := repository.CreateTag(tagName, head, nil)
				require.NoError(testInstance, tagError)
			}
			for _, tagName := range testCase.annotated {
				_, tagError := repository.CreateTag(tagName, head, &git.CreateTagOptions{
					Message: "release " + tagName,
					Tagger:  &object.Signature{Name: "tester", Email: "tester@example.com"},
				})
				require.NoError(testInstance, tagError)
			}

			describer, openError := scm.Open(repositoryRoot)
			require.NoError(testInstance, openError)
			description, describeError := describer.Describe()
			require.NoError(testInstance, describeError)
			if testCase.expectHash {
				require.Equal(testInstance, head.String()[:12], description)
				return
			}
			require.Equal(testInstance, testCase.expectVersion, description)
		})
	}
}
