package execshell

import (
	"bytes"
	"io"
	"sync"
)

// PrefixWriter prefixes every complete line with a label before forwarding it.
// Partial lines are buffered until a newline arrives or Flush is called.
type PrefixWriter struct {
	mutex       sync.Mutex
	destination io.Writer
	prefix      []byte
	pending     []byte
}

// NewPrefixWriter constructs a PrefixWriter writing "prefix: line" records.
func NewPrefixWriter(destination io.Writer, label string) *PrefixWriter {
	return &PrefixWriter{destination: destination, prefix: []byte(label + ": ")}
}

// Write buffers content and emits every complete line.
func (writer *PrefixWriter) Write(content []byte) (int, error) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	writer.pending = append(writer.pending, content...)
	for {
		newlineIndex := bytes.IndexByte(writer.pending, '\n')
		if newlineIndex < 0 {
			break
		}
		if writeError := writer.emit(writer.pending[:newlineIndex+1]); writeError != nil {
			return 0, writeError
		}
		writer.pending = writer.pending[newlineIndex+1:]
	}
	return len(content), nil
}

// Flush emits a trailing partial line terminated with a newline.
func (writer *PrefixWriter) Flush() error {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	if len(writer.pending) == 0 {
		return nil
	}
	line := append(writer.pending, '\n')
	writer.pending = nil
	return writer.emit(line)
}

func (writer *PrefixWriter) emit(line []byte) error {
	record := make([]byte, 0, len(writer.prefix)+len(line))
	record = append(record, writer.prefix...)
	record = append(record, line...)
	_, writeError := writer.destination.Write(record)
	return writeError
}
