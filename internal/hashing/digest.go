// Package hashing computes deterministic cache keys for task nodes.
package hashing

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// fieldWriter feeds length-prefixed fields into a digest so adjacent fields cannot alias.
type fieldWriter struct {
	digest hash.Hash
}

func newFieldWriter() *fieldWriter {
	return &fieldWriter{digest: sha256.New()}
}

func (writer *fieldWriter) field(label string, value string) {
	writer.raw(label)
	writer.raw(value)
}

func (writer *fieldWriter) list(label string, values []string) {
	writer.raw(label)
	var countBuffer [8]byte
	binary.BigEndian.PutUint64(countBuffer[:], uint64(len(values)))
	writer.digest.Write(countBuffer[:])
	for _, value := range values {
		writer.raw(value)
	}
}

func (writer *fieldWriter) flag(label string, value bool) {
	if value {
		writer.field(label, "true")
		return
	}
	writer.field(label, "false")
}

func (writer *fieldWriter) raw(value string) {
	var lengthBuffer [8]byte
	binary.BigEndian.PutUint64(lengthBuffer[:], uint64(len(value)))
	writer.digest.Write(lengthBuffer[:])
	io.WriteString(writer.digest, value)
}

func (writer *fieldWriter) sum() string {
	return hex.EncodeToString(writer.digest.Sum(nil))
}

// FileDigest returns the hex SHA-256 of the file content.
func FileDigest(filePath string) (string, error) {
	file, openError := os.Open(filePath)
	if openError != nil {
		return "", openError
	}
	defer file.Close()

	digest := sha256.New()
	if _, copyError := io.Copy(digest, file); copyError != nil {
		return "", copyError
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// BytesDigest returns the hex SHA-256 of content.
func BytesDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
