// Package cache stores task results keyed by task hash, locally and in optional remote stores.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrDigestMismatch indicates an output file does not match its recorded digest.
var ErrDigestMismatch = errors.New("cache output digest mismatch")

// OutputFile is a captured output file relative to the package root.
type OutputFile struct {
	Path    string
	Digest  string
	Mode    uint32
	Content []byte
}

// Entry is an immutable cached task result.
type Entry struct {
	Hash     string
	Logs     []byte
	Outputs  []OutputFile
	Duration time.Duration
}

// Store is a keyed entry store. Lookup reports a miss with found=false and no error.
// Write is idempotent: an entry already present for the hash is left untouched.
type Store interface {
	Lookup(executionContext context.Context, hash string) (Entry, bool, error)
	Write(executionContext context.Context, entry Entry) error
}

// Invalidator is implemented by stores that can drop a single entry, such as one whose outputs
// failed digest verification on restore.
type Invalidator interface {
	Invalidate(executionContext context.Context, hash string) error
}

// Manifest lists the recorded outputs of an entry without their content.
type Manifest struct {
	Hash           string           `json:"hash"`
	DurationMillis int64            `json:"duration_ms"`
	Outputs        []ManifestOutput `json:"outputs"`
}

// ManifestOutput maps an output path to its content digest.
type ManifestOutput struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
	Mode   uint32 `json:"mode"`
}

func manifestFor(entry Entry) Manifest {
	manifest := Manifest{
		Hash:           entry.Hash,
		DurationMillis: entry.Duration.Milliseconds(),
		Outputs:        make([]ManifestOutput, 0, len(entry.Outputs)),
	}
	for _, output := range entry.Outputs {
		manifest.Outputs = append(manifest.Outputs, ManifestOutput{Path: output.Path, Digest: output.Digest, Mode: output.Mode})
	}
	return manifest
}
