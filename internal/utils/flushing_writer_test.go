package utils_test

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/internal/utils"
)

type failingFlusher struct {
	bytes.Buffer
}

func (flusher *failingFlusher) Flush() error {
	return errors.New("flush failed")
}

func TestFlushingWriterForwardsTaskOutput(testInstance *testing.T) {
	var destination bytes.Buffer
	buffered := bufio.NewWriterSize(&destination, 4096)
	writer := utils.NewFlushingWriter(buffered)

	lines := []string{"core:build: compiling\n", "core:build: done\n"}
	for lineIndex, line := range lines {
		written, writeError := writer.Write([]byte(line))
		require.NoError(testInstance, writeError)
		require.Equal(testInstance, len(line), written)
		require.Equal(testInstance, 0, buffered.Buffered(), "line %d stayed buffered", lineIndex)
	}
	require.Equal(testInstance, "core:build: compiling\ncore:build: done\n", destination.String())
}

func TestFlushingWriterTargets(testInstance *testing.T) {
	testCases := []struct {
		name        string
		target      func() (*bytes.Buffer, io.Writer)
		expectError bool
	}{
		{
			name: "plain writer",
			target: func() (*bytes.Buffer, io.Writer) {
				buffer := &bytes.Buffer{}
				return buffer, buffer
			},
		},
		{
			name: "flush failure",
			target: func() (*bytes.Buffer, io.Writer) {
				flusher := &failingFlusher{}
				return &flusher.Buffer, flusher
			},
			expectError: true,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			contents, target := testCase.target()
			writer := utils.NewFlushingWriter(target)

			written, writeError := writer.Write([]byte("app:test: ok\n"))
			require.Equal(testInstance, len("app:test: ok\n"), written)
			if testCase.expectError {
				require.Error(testInstance, writeError)
			} else {
				require.NoError(testInstance, writeError)
			}
			require.Equal(testInstance, "app:test: ok\n", contents.String())
		})
	}
}
