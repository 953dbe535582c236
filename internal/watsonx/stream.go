package watsonx

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// maxEventSize caps a single SSE line; tool results can be large.
const maxEventSize = 4 * 1024 * 1024

// Stream iterates the data payloads of an AI service event stream.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	closed  bool
}

// Next returns the next event's data. Multi-line data fields are joined
// with "\n" and "[DONE]" markers are skipped. It returns io.EOF when the
// stream ends; a deadline or cancellation surfaces as the read error.
func (s *Stream) Next() (string, error) {
	if s.closed {
		return "", io.EOF
	}

	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if len(data) == 0 {
				continue
			}
			payload := strings.Join(data, "\n")
			data = data[:0]
			if payload == "[DONE]" {
				continue
			}
			return payload, nil
		}

		if strings.HasPrefix(line, ":") {
			continue // comment / keep-alive
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(rest, " "))
		}
		// event:, id: and retry: fields carry nothing the translator needs
	}

	if err := s.scanner.Err(); err != nil {
		return "", err
	}

	// flush an event that was not followed by a blank line
	if len(data) > 0 {
		if payload := strings.Join(data, "\n"); payload != "[DONE]" {
			return payload, nil
		}
	}
	return "", io.EOF
}

// Close releases the response body and the stream deadline.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.body.Close()
	s.cancel()
	return err
}
