package cache

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tyemirov/monorun/internal/hashing"
)

const (
	archiveManifestName        = "manifest.json"
	archiveLogsName            = "logs.bin"
	archiveOutputsPrefix       = "outputs/"
	archiveEntryMode           = 0o644
	maximumArchiveMemberBytes  = 1 << 30
	archiveEncodeErrorTemplate = "failed to encode cache archive: %w"
	archiveDecodeErrorTemplate = "failed to decode cache archive: %w"
	memberTooLargeTemplate     = "%w: %s is %d bytes"
)

var (
	// ErrArchiveHashMismatch indicates an archive recorded a different hash than requested.
	ErrArchiveHashMismatch = errors.New("cache archive hash mismatch")
	// ErrArchiveMemberTooLarge indicates an archive member exceeds the decode limit.
	ErrArchiveMemberTooLarge = errors.New("cache archive member exceeds 1 GiB")
)

type archiveMember struct {
	name    string
	content []byte
	mode    int64
}

// EncodeArchive serializes entry into a zstd-compressed tar stream used by remote stores.
func EncodeArchive(entry Entry) ([]byte, error) {
	var buffer bytes.Buffer
	compressor, compressorError := zstd.NewWriter(&buffer)
	if compressorError != nil {
		return nil, fmt.Errorf(archiveEncodeErrorTemplate, compressorError)
	}
	tarWriter := tar.NewWriter(compressor)

	manifestBytes, manifestError := json.Marshal(manifestFor(entry))
	if manifestError != nil {
		return nil, fmt.Errorf(archiveEncodeErrorTemplate, manifestError)
	}
	members := []archiveMember{
		{name: archiveManifestName, content: manifestBytes, mode: archiveEntryMode},
		{name: archiveLogsName, content: entry.Logs, mode: archiveEntryMode},
	}
	for _, output := range entry.Outputs {
		members = append(members, archiveMember{name: archiveOutputsPrefix + output.Path, content: output.Content, mode: int64(output.Mode)})
	}

	for _, member := range members {
		header := &tar.Header{
			Name:     member.name,
			Mode:     member.mode,
			Size:     int64(len(member.content)),
			ModTime:  time.Unix(0, 0),
			Typeflag: tar.TypeReg,
		}
		if headerError := tarWriter.WriteHeader(header); headerError != nil {
			return nil, fmt.Errorf(archiveEncodeErrorTemplate, headerError)
		}
		if _, writeError := tarWriter.Write(member.content); writeError != nil {
			return nil, fmt.Errorf(archiveEncodeErrorTemplate, writeError)
		}
	}
	if closeError := tarWriter.Close(); closeError != nil {
		return nil, fmt.Errorf(archiveEncodeErrorTemplate, closeError)
	}
	if closeError := compressor.Close(); closeError != nil {
		return nil, fmt.Errorf(archiveEncodeErrorTemplate, closeError)
	}
	return buffer.Bytes(), nil
}

// DecodeArchive restores an entry from EncodeArchive output and verifies it belongs to hash.
func DecodeArchive(hash string, archive []byte) (Entry, error) {
	decompressor, decompressorError := zstd.NewReader(bytes.NewReader(archive))
	if decompressorError != nil {
		return Entry{}, fmt.Errorf(archiveDecodeErrorTemplate, decompressorError)
	}
	defer decompressor.Close()

	tarReader := tar.NewReader(decompressor)
	var manifest *Manifest
	var logs []byte
	contents := make(map[string][]byte)
	for {
		header, nextError := tarReader.Next()
		if errors.Is(nextError, io.EOF) {
			break
		}
		if nextError != nil {
			return Entry{}, fmt.Errorf(archiveDecodeErrorTemplate, nextError)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if header.Size > maximumArchiveMemberBytes {
			return Entry{}, fmt.Errorf(archiveDecodeErrorTemplate, fmt.Errorf(memberTooLargeTemplate, ErrArchiveMemberTooLarge, header.Name, header.Size))
		}
		content, readError := io.ReadAll(tarReader)
		if readError != nil {
			return Entry{}, fmt.Errorf(archiveDecodeErrorTemplate, readError)
		}
		switch {
		case header.Name == archiveManifestName:
			var decoded Manifest
			if decodeError := json.Unmarshal(content, &decoded); decodeError != nil {
				return Entry{}, fmt.Errorf(archiveDecodeErrorTemplate, decodeError)
			}
			manifest = &decoded
		case header.Name == archiveLogsName:
			logs = content
		case strings.HasPrefix(header.Name, archiveOutputsPrefix):
			contents[path.Clean(strings.TrimPrefix(header.Name, archiveOutputsPrefix))] = content
		}
	}

	if manifest == nil {
		return Entry{}, fmt.Errorf(archiveDecodeErrorTemplate, errors.New("manifest missing"))
	}
	if manifest.Hash != hash {
		return Entry{}, fmt.Errorf("%w: expected %s, found %s", ErrArchiveHashMismatch, hash, manifest.Hash)
	}

	entry := Entry{
		Hash:     hash,
		Logs:     logs,
		Outputs:  make([]OutputFile, 0, len(manifest.Outputs)),
		Duration: time.Duration(manifest.DurationMillis) * time.Millisecond,
	}
	for _, manifestOutput := range manifest.Outputs {
		content, present := contents[path.Clean(manifestOutput.Path)]
		if !present {
			return Entry{}, fmt.Errorf(archiveDecodeErrorTemplate, fmt.Errorf("output %s missing", manifestOutput.Path))
		}
		if hashing.BytesDigest(content) != manifestOutput.Digest {
			return Entry{}, fmt.Errorf(outputDigestMismatchTemplate, ErrDigestMismatch, manifestOutput.Path)
		}
		entry.Outputs = append(entry.Outputs, OutputFile{
			Path:    manifestOutput.Path,
			Digest:  manifestOutput.Digest,
			Mode:    manifestOutput.Mode,
			Content: content,
		})
	}
	return entry, nil
}
