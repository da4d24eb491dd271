package scm

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/mod/semver"
)

const (
	headResolveErrorTemplate = "failed to resolve HEAD: %w"
	tagListErrorTemplate     = "failed to list tags: %w"
	shortHashLength          = 12
)

// Describe names the HEAD commit: the highest semantic version tag pointing at it,
// any other tag pointing at it, or the abbreviated commit hash.
func (repository *Repository) Describe() (string, error) {
	head, headError := repository.repository.Head()
	if headError != nil {
		return "", fmt.Errorf(headResolveErrorTemplate, headError)
	}
	tagReferences, tagsError := repository.repository.Tags()
	if tagsError != nil {
		return "", fmt.Errorf(tagListErrorTemplate, tagsError)
	}

	var headTags []string
	iterationError := tagReferences.ForEach(func(reference *plumbing.Reference) error {
		target := reference.Hash()
		if tagObject, objectError := repository.repository.TagObject(target); objectError == nil {
			target = tagObject.Target
		}
		if target == head.Hash() {
			headTags = append(headTags, reference.Name().Short())
		}
		return nil
	})
	if iterationError != nil {
		return "", fmt.Errorf(tagListErrorTemplate, iterationError)
	}
	if len(headTags) == 0 {
		return head.Hash().String()[:shortHashLength], nil
	}

	sort.SliceStable(headTags, func(left int, right int) bool {
		leftValid := semver.IsValid(headTags[left])
		rightValid := semver.IsValid(headTags[right])
		if leftValid != rightValid {
			return leftValid
		}
		if leftValid {
			if comparison := semver.Compare(headTags[left], headTags[right]); comparison != 0 {
				return comparison > 0
			}
		}
		return headTags[left] < headTags[right]
	})
	return headTags[0], nil
}
