// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package transcode

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// LogReaderError pretty-prints the failure of an inbound session to
// log. The YAML layer only reports that its input broke; the cached
// reader diagnostic says why, so it is preferred when present. The
// context string names the operation that was being attempted.
func LogReaderError(log io.Writer, err error, reader *Reader, context string) {
	if reader != nil {
		if readerErr := reader.Err(); readerErr != nil {
			fmt.Fprintf(log, "Failed to %s: reader error '%v'\n", context, readerErr)
			return
		}
	}
	if err == nil {
		return
	}

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		for _, problem := range typeErr.Errors {
			fmt.Fprintf(log, "Parser error: %s\n", problem)
		}
		return
	}
	fmt.Fprintf(log, "Failed to %s: %v\n", context, err)
}

// LogWriterError pretty-prints the failure of an outbound session,
// preferring the cached writer diagnostic over the YAML layer's
// error.
func LogWriterError(log io.Writer, err error, writer *Writer) {
	if writer != nil {
		if writerErr := writer.Err(); writerErr != nil {
			fmt.Fprintf(log, "Writer error: %v\n", writerErr)
			return
		}
	}
	if err != nil {
		fmt.Fprintf(log, "Emitter error: %v\n", err)
	}
}
