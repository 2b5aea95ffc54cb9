// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bufio"
	"bytes"
	"io"
)

// sseDoneSentinel is the end-of-stream marker used by OpenAI-style APIs.
var sseDoneSentinel = []byte("[DONE]")

// sseReader parses Server-Sent Events from a streaming response body.
// It understands `event:` and `data:` fields; everything else (ids, retry
// hints, comments) is ignored.
type sseReader struct {
	reader *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReader(r)}
}

// readEvent reads the next SSE event, returning its type and joined data
// payload. Returns io.EOF when the stream ends. A final event that is not
// terminated by a blank line is still returned before EOF.
func (s *sseReader) readEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line terminates the current event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimSpace(line[len("data:"):]))
		}
	}
}
