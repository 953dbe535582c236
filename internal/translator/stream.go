package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/wxai-gateway/agent-gateway/internal/models"
	"go.uber.org/zap"
)

// DefaultModel is the model label stamped on every emitted event.
const DefaultModel = "wx.ai AI service"

// ChunkSource yields raw upstream chunks. Next returns io.EOF once the
// upstream stream is exhausted; any other error ends the stream.
type ChunkSource interface {
	Next() (string, error)
	Close() error
}

// Recorder receives one call per processed chunk with the delta kind, or
// "error" for the terminal error frame.
type Recorder interface {
	RecordFrame(kind string)
}

// Option configures a Stream.
type Option func(*Stream)

func WithModel(model string) Option {
	return func(s *Stream) { s.model = model }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Stream) { s.logger = logger }
}

func WithRecorder(r Recorder) Option {
	return func(s *Stream) { s.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Stream) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Stream) { s.newID = newID }
}

// Stream is a pull-based translator over a ChunkSource. It is not safe for
// concurrent use.
type Stream struct {
	src      ChunkSource
	threadID string
	model    string
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
	newID    func() string

	done bool
}

// New creates a Stream translating src for the given thread.
func New(src ChunkSource, threadID string, opts ...Option) *Stream {
	s := &Stream{
		src:      src,
		threadID: threadID,
		model:    DefaultModel,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next wire frame. ok is false once the stream has ended.
// A failure produces a single "Error: ..." frame, after which ok is always
// false.
func (s *Stream) Next() (frame string, ok bool) {
	for !s.done {
		chunk, err := s.src.Next()
		if errors.Is(err, io.EOF) {
			s.done = true
			return "", false
		}
		if err != nil {
			return s.fail(fmt.Errorf("upstream stream: %w", err)), true
		}

		s.logger.Debug("Received chunk", zap.String("chunk", chunk))

		delta, err := Classify(chunk)
		if err != nil {
			s.logger.Warn("Cannot parse chunk", zap.String("chunk", chunk), zap.Error(err))
			return s.fail(err), true
		}

		if delta.Kind == KindUnrecognized {
			s.logger.Warn("Unable to parse delta", zap.String("delta", delta.Raw))
			s.record(delta.Kind.String())
			continue
		}

		frame, err := FormatFrame(s.event(delta))
		if err != nil {
			return s.fail(err), true
		}

		s.record(delta.Kind.String())
		s.logger.Debug("Sending event", zap.String("kind", delta.Kind.String()))
		return frame, true
	}
	return "", false
}

// Close stops the stream and releases the source.
func (s *Stream) Close() error {
	s.done = true
	return s.src.Close()
}

func (s *Stream) event(delta Delta) models.StepDeltaEvent {
	return models.StepDeltaEvent{
		ID:       s.newID(),
		Object:   models.ObjectStepDelta,
		Created:  s.now().Unix(),
		ThreadID: s.threadID,
		Model:    s.model,
		Choices:  []models.StepDeltaChoice{{Delta: delta.Payload()}},
	}
}

func (s *Stream) fail(err error) string {
	s.done = true
	s.record("error")
	s.logger.Error("Stream ended with error", zap.String("thread_id", s.threadID), zap.Error(err))
	return ErrorFrame(err)
}

func (s *Stream) record(kind string) {
	if s.recorder != nil {
		s.recorder.RecordFrame(kind)
	}
}

// FormatFrame encodes v as a server-sent event data frame.
func FormatFrame(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	// Encode terminates with a single newline; frames end with a blank line
	return "data: " + string(bytes.TrimRight(buf.Bytes(), "\n")) + "\n\n", nil
}

// ErrorFrame renders the terminal in-band error line.
func ErrorFrame(err error) string {
	return "Error: " + err.Error() + "\n"
}
