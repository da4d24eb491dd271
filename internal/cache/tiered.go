package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Cache request labels reported to a RequestObserver.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"

	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"

	localCacheUnavailableEvent  = "local_cache_unavailable"
	remoteCacheUnavailableEvent = "remote_cache_unavailable"
	remoteCacheHitEvent         = "remote_cache_hit"
	operationField              = "operation"
	lookupOperation             = "lookup"
	writeOperation              = "write"
	backfillOperation           = "backfill"
)

// RequestObserver receives one notification per cache request.
type RequestObserver interface {
	ObserveCacheRequest(source string, result string)
}

type noopRequestObserver struct{}

func (noopRequestObserver) ObserveCacheRequest(string, string) {}

// TieredStore consults the local store first and the optional remote store on a local miss.
// Failures in either tier are logged and degrade to a miss; they never fail the run.
type TieredStore struct {
	local    Store
	remote   Store
	logger   *zap.Logger
	observer RequestObserver
}

// NewTieredStore constructs a TieredStore. remote may be nil.
func NewTieredStore(local Store, remote Store, logger *zap.Logger, observer RequestObserver) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = noopRequestObserver{}
	}
	return &TieredStore{local: local, remote: remote, logger: logger, observer: observer}
}

// Lookup returns the first entry found. A remote hit is backfilled into the local store.
func (store *TieredStore) Lookup(executionContext context.Context, hash string) (Entry, bool, error) {
	entry, found, localError := store.local.Lookup(executionContext, hash)
	switch {
	case localError != nil:
		store.observer.ObserveCacheRequest(SourceLocal, ResultError)
		store.logger.Warn(localCacheUnavailableEvent, zap.String(hashField, hash), zap.String(operationField, lookupOperation), zap.Error(localError))
	case found:
		store.observer.ObserveCacheRequest(SourceLocal, ResultHit)
		return entry, true, nil
	default:
		store.observer.ObserveCacheRequest(SourceLocal, ResultMiss)
	}

	if store.remote == nil {
		return Entry{}, false, nil
	}

	entry, found, remoteError := store.remote.Lookup(executionContext, hash)
	switch {
	case remoteError != nil:
		store.observer.ObserveCacheRequest(SourceRemote, ResultError)
		store.logger.Warn(remoteCacheUnavailableEvent, zap.String(hashField, hash), zap.String(operationField, lookupOperation), zap.Error(remoteError))
		return Entry{}, false, nil
	case !found:
		store.observer.ObserveCacheRequest(SourceRemote, ResultMiss)
		return Entry{}, false, nil
	}

	store.observer.ObserveCacheRequest(SourceRemote, ResultHit)
	store.logger.Debug(remoteCacheHitEvent, zap.String(hashField, hash))
	if backfillError := store.local.Write(executionContext, entry); backfillError != nil {
		store.logger.Warn(localCacheUnavailableEvent, zap.String(hashField, hash), zap.String(operationField, backfillOperation), zap.Error(backfillError))
	}
	return entry, true, nil
}

// Write commits the entry locally and then to the remote store.
func (store *TieredStore) Write(executionContext context.Context, entry Entry) error {
	if localError := store.local.Write(executionContext, entry); localError != nil {
		store.logger.Warn(localCacheUnavailableEvent, zap.String(hashField, entry.Hash), zap.String(operationField, writeOperation), zap.Error(localError))
	}
	if store.remote == nil {
		return nil
	}
	if remoteError := store.remote.Write(executionContext, entry); remoteError != nil {
		store.logger.Warn(remoteCacheUnavailableEvent, zap.String(hashField, entry.Hash), zap.String(operationField, writeOperation), zap.Error(remoteError))
	}
	return nil
}

// Invalidate drops the entry from every tier that supports removal.
func (store *TieredStore) Invalidate(executionContext context.Context, hash string) error {
	var invalidateError error
	for _, tier := range []Store{store.local, store.remote} {
		invalidator, supported := tier.(Invalidator)
		if !supported {
			continue
		}
		if tierError := invalidator.Invalidate(executionContext, hash); tierError != nil {
			invalidateError = errors.Join(invalidateError, tierError)
		}
	}
	return invalidateError
}
