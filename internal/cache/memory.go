package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in memory. Writes for an existing hash are discarded.
type MemoryStore struct {
	mutex   sync.Mutex
	entries map[string]Entry
	writes  int
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Lookup returns a copy of the stored entry.
func (store *MemoryStore) Lookup(_ context.Context, hash string) (Entry, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry, found := store.entries[hash]
	if !found {
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

// Write stores a copy of entry unless the hash is already present.
func (store *MemoryStore) Write(_ context.Context, entry Entry) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.entries[entry.Hash]; exists {
		return nil
	}
	store.entries[entry.Hash] = cloneEntry(entry)
	store.writes++
	return nil
}

// Invalidate drops the entry for hash.
func (store *MemoryStore) Invalidate(_ context.Context, hash string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, hash)
	return nil
}

// Len returns the number of stored entries.
func (store *MemoryStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.entries)
}

// Writes returns the number of committed writes.
func (store *MemoryStore) Writes() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.writes
}

func cloneEntry(entry Entry) Entry {
	cloned := Entry{
		Hash:     entry.Hash,
		Logs:     append([]byte(nil), entry.Logs...),
		Outputs:  make([]OutputFile, 0, len(entry.Outputs)),
		Duration: entry.Duration,
	}
	for _, output := range entry.Outputs {
		output.Content = append([]byte(nil), output.Content...)
		cloned.Outputs = append(cloned.Outputs, output)
	}
	return cloned
}
