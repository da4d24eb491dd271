package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	manifestFileName         = "manifest.json"
	logsFileName             = "logs.bin"
	outputsDirectoryName     = "outputs"
	temporaryEntryPattern    = ".tmp-*"
	hashPrefixLength         = 2
	cacheDirectoryMode       = 0o755
	cacheFileMode            = 0o644
	invalidHashTemplate      = "invalid cache hash %q"
	entryReadErrorTemplate   = "failed to read cache entry %s: %w"
	entryWriteErrorTemplate  = "failed to write cache entry %s: %w"
	entryCorruptTemplate     = "cache entry %s is corrupt: %w"
	entryRemoveErrorTemplate = "failed to remove cache entry %s: %w"
	localEntryExistsEvent    = "cache_entry_exists"
	localEntryCommittedEvent = "cache_entry_committed"
	localEntryRemovedEvent   = "cache_entry_removed"
	hashField                = "hash"
	pathField                = "path"
)

// LocalStore keeps entries in a directory: root/<first two hash characters>/<hash>/.
// Entries are assembled in a temporary directory and renamed into place.
type LocalStore struct {
	root   string
	logger *zap.Logger
}

// NewLocalStore constructs a LocalStore rooted at root.
func NewLocalStore(root string, logger *zap.Logger) *LocalStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStore{root: filepath.Clean(root), logger: logger}
}

// Root returns the store directory.
func (store *LocalStore) Root() string {
	return store.root
}

// Lookup loads the entry for hash.
func (store *LocalStore) Lookup(_ context.Context, hash string) (Entry, bool, error) {
	entryDirectory, pathError := store.entryDirectory(hash)
	if pathError != nil {
		return Entry{}, false, pathError
	}

	manifestBytes, readError := os.ReadFile(filepath.Join(entryDirectory, manifestFileName))
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf(entryReadErrorTemplate, hash, readError)
	}

	var manifest Manifest
	if decodeError := json.Unmarshal(manifestBytes, &manifest); decodeError != nil {
		return Entry{}, false, fmt.Errorf(entryCorruptTemplate, hash, decodeError)
	}

	logs, logsError := os.ReadFile(filepath.Join(entryDirectory, logsFileName))
	if logsError != nil {
		return Entry{}, false, fmt.Errorf(entryReadErrorTemplate, hash, logsError)
	}

	entry := Entry{
		Hash:     hash,
		Logs:     logs,
		Outputs:  make([]OutputFile, 0, len(manifest.Outputs)),
		Duration: time.Duration(manifest.DurationMillis) * time.Millisecond,
	}
	for _, manifestOutput := range manifest.Outputs {
		outputPath, containError := containedPath(filepath.Join(entryDirectory, outputsDirectoryName), manifestOutput.Path)
		if containError != nil {
			return Entry{}, false, fmt.Errorf(entryCorruptTemplate, hash, containError)
		}
		content, contentError := os.ReadFile(outputPath)
		if contentError != nil {
			return Entry{}, false, fmt.Errorf(entryCorruptTemplate, hash, contentError)
		}
		entry.Outputs = append(entry.Outputs, OutputFile{
			Path:    manifestOutput.Path,
			Digest:  manifestOutput.Digest,
			Mode:    manifestOutput.Mode,
			Content: content,
		})
	}
	return entry, true, nil
}

// Write commits entry unless an entry for the same hash already exists.
func (store *LocalStore) Write(_ context.Context, entry Entry) error {
	entryDirectory, pathError := store.entryDirectory(entry.Hash)
	if pathError != nil {
		return pathError
	}
	if _, statError := os.Stat(entryDirectory); statError == nil {
		store.logger.Debug(localEntryExistsEvent, zap.String(hashField, entry.Hash))
		return nil
	}

	parentDirectory := filepath.Dir(entryDirectory)
	if mkdirError := os.MkdirAll(parentDirectory, cacheDirectoryMode); mkdirError != nil {
		return fmt.Errorf(entryWriteErrorTemplate, entry.Hash, mkdirError)
	}
	temporaryDirectory, temporaryError := os.MkdirTemp(parentDirectory, temporaryEntryPattern)
	if temporaryError != nil {
		return fmt.Errorf(entryWriteErrorTemplate, entry.Hash, temporaryError)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(temporaryDirectory)
		}
	}()

	if assembleError := assembleEntry(temporaryDirectory, entry); assembleError != nil {
		return fmt.Errorf(entryWriteErrorTemplate, entry.Hash, assembleError)
	}

	if renameError := os.Rename(temporaryDirectory, entryDirectory); renameError != nil {
		if _, statError := os.Stat(entryDirectory); statError == nil {
			store.logger.Debug(localEntryExistsEvent, zap.String(hashField, entry.Hash))
			return nil
		}
		return fmt.Errorf(entryWriteErrorTemplate, entry.Hash, renameError)
	}
	committed = true
	store.logger.Debug(localEntryCommittedEvent, zap.String(hashField, entry.Hash), zap.String(pathField, entryDirectory))
	return nil
}

// Invalidate removes the entry for hash. A missing entry is not an error.
func (store *LocalStore) Invalidate(_ context.Context, hash string) error {
	entryDirectory, pathError := store.entryDirectory(hash)
	if pathError != nil {
		return pathError
	}
	if removeError := os.RemoveAll(entryDirectory); removeError != nil {
		return fmt.Errorf(entryRemoveErrorTemplate, hash, removeError)
	}
	store.logger.Debug(localEntryRemovedEvent, zap.String(hashField, hash))
	return nil
}

// Clean removes every entry.
func (store *LocalStore) Clean() error {
	return os.RemoveAll(store.root)
}

func (store *LocalStore) entryDirectory(hash string) (string, error) {
	if !validHash(hash) {
		return "", fmt.Errorf(invalidHashTemplate, hash)
	}
	return filepath.Join(store.root, hash[:hashPrefixLength], hash), nil
}

func assembleEntry(directory string, entry Entry) error {
	manifestBytes, encodeError := json.MarshalIndent(manifestFor(entry), "", "  ")
	if encodeError != nil {
		return encodeError
	}
	if writeError := os.WriteFile(filepath.Join(directory, manifestFileName), manifestBytes, cacheFileMode); writeError != nil {
		return writeError
	}
	if writeError := os.WriteFile(filepath.Join(directory, logsFileName), entry.Logs, cacheFileMode); writeError != nil {
		return writeError
	}
	outputsDirectory := filepath.Join(directory, outputsDirectoryName)
	for _, output := range entry.Outputs {
		outputPath, containError := containedPath(outputsDirectory, output.Path)
		if containError != nil {
			return containError
		}
		if mkdirError := os.MkdirAll(filepath.Dir(outputPath), cacheDirectoryMode); mkdirError != nil {
			return mkdirError
		}
		if writeError := os.WriteFile(outputPath, output.Content, cacheFileMode); writeError != nil {
			return writeError
		}
	}
	return nil
}

func validHash(hash string) bool {
	if len(hash) <= hashPrefixLength {
		return false
	}
	for _, character := range hash {
		isDigit := character >= '0' && character <= '9'
		isLowerHex := character >= 'a' && character <= 'f'
		if !isDigit && !isLowerHex {
			return false
		}
	}
	return true
}
