package utils

import "io"

type flusher interface {
	Flush() error
}

type flushingWriter struct {
	target io.Writer
}

// NewFlushingWriter wraps target so that every write is followed by a flush when target supports it.
func NewFlushingWriter(target io.Writer) io.Writer {
	return &flushingWriter{target: target}
}

func (writer *flushingWriter) Write(data []byte) (int, error) {
	bytesWritten, writeError := writer.target.Write(data)
	if writeError != nil {
		return bytesWritten, writeError
	}
	if flushTarget, flushable := writer.target.(flusher); flushable {
		if flushError := flushTarget.Flush(); flushError != nil {
			return bytesWritten, flushError
		}
	}
	return bytesWritten, nil
}
