package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	natsConnectErrorTemplate = "failed to connect to NATS at %s: %w"
	natsBucketErrorTemplate  = "failed to open NATS object store %q: %w"
	natsObjectErrorTemplate  = "NATS object store request for %s failed: %w"
	natsBucketDescription    = "monorun task cache"
	defaultNATSBucket        = "monorun-cache"
)

// NATSRemoteOptions configures a NATSRemote.
type NATSRemoteOptions struct {
	URL    string
	Bucket string
	Team   string
}

// NATSRemote stores encoded entries in a JetStream object store bucket.
type NATSRemote struct {
	connection  *nats.Conn
	objectStore jetstream.ObjectStore
	team        string
}

// NewNATSRemote connects to NATS and opens or creates the object store bucket.
func NewNATSRemote(executionContext context.Context, options NATSRemoteOptions) (*NATSRemote, error) {
	connection, connectError := nats.Connect(options.URL)
	if connectError != nil {
		return nil, fmt.Errorf(natsConnectErrorTemplate, options.URL, connectError)
	}
	stream, streamError := jetstream.New(connection)
	if streamError != nil {
		connection.Close()
		return nil, fmt.Errorf(natsConnectErrorTemplate, options.URL, streamError)
	}

	bucket := strings.TrimSpace(options.Bucket)
	if len(bucket) == 0 {
		bucket = defaultNATSBucket
	}
	objectStore, storeError := stream.ObjectStore(executionContext, bucket)
	if errors.Is(storeError, jetstream.ErrBucketNotFound) {
		objectStore, storeError = stream.CreateObjectStore(executionContext, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: natsBucketDescription,
		})
	}
	if storeError != nil {
		connection.Close()
		return nil, fmt.Errorf(natsBucketErrorTemplate, bucket, storeError)
	}

	return &NATSRemote{connection: connection, objectStore: objectStore, team: options.Team}, nil
}

// Lookup fetches and decodes the entry for hash.
func (remote *NATSRemote) Lookup(executionContext context.Context, hash string) (Entry, bool, error) {
	archive, getError := remote.objectStore.GetBytes(executionContext, remote.objectName(hash))
	if errors.Is(getError, jetstream.ErrObjectNotFound) {
		return Entry{}, false, nil
	}
	if getError != nil {
		return Entry{}, false, fmt.Errorf(natsObjectErrorTemplate, hash, getError)
	}
	entry, decodeError := DecodeArchive(hash, archive)
	if decodeError != nil {
		return Entry{}, false, decodeError
	}
	return entry, true, nil
}

// Write stores the encoded entry unless one already exists.
func (remote *NATSRemote) Write(executionContext context.Context, entry Entry) error {
	objectName := remote.objectName(entry.Hash)
	if _, infoError := remote.objectStore.GetInfo(executionContext, objectName); infoError == nil {
		return nil
	}
	archive, encodeError := EncodeArchive(entry)
	if encodeError != nil {
		return encodeError
	}
	if _, putError := remote.objectStore.PutBytes(executionContext, objectName, archive); putError != nil {
		return fmt.Errorf(natsObjectErrorTemplate, entry.Hash, putError)
	}
	return nil
}

// Close drains the NATS connection.
func (remote *NATSRemote) Close() error {
	if remote.connection == nil {
		return nil
	}
	return remote.connection.Drain()
}

func (remote *NATSRemote) objectName(hash string) string {
	if len(remote.team) == 0 {
		return hash
	}
	return remote.team + "/" + hash
}
