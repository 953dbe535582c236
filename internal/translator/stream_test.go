package translator

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	chunks []string
	err    error // returned after chunks are exhausted, io.EOF when nil
	pulled int
	closed bool
}

func (s *sliceSource) Next() (string, error) {
	if s.pulled < len(s.chunks) {
		c := s.chunks[s.pulled]
		s.pulled++
		return c, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type frameRecorder struct {
	kinds []string
}

func (r *frameRecorder) RecordFrame(kind string) { r.kinds = append(r.kinds, kind) }

func drain(s *Stream) []string {
	var frames []string
	for {
		frame, ok := s.Next()
		if !ok {
			return frames
		}
		frames = append(frames, frame)
	}
}

func decodeFrame(t *testing.T, frame string) map[string]interface{} {
	t.Helper()
	require.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
	require.True(t, strings.HasSuffix(frame, "\n\n"), "frame %q", frame)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")), &event))
	return event
}

func frameDelta(t *testing.T, frame string) interface{} {
	t.Helper()
	event := decodeFrame(t, frame)
	choices := event["choices"].([]interface{})
	require.Len(t, choices, 1)
	return choices[0].(map[string]interface{})["delta"]
}

func fixedStream(src ChunkSource, threadID string, opts ...Option) *Stream {
	base := []Option{
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
		WithIDGenerator(func() string { return "evt-1" }),
	}
	return New(src, threadID, append(base, opts...)...)
}

func TestStream_PlainTextEnvelope(t *testing.T) {
	src := &sliceSource{chunks: []string{`{"choices":[{"delta":{"role":"assistant","content":"hi"}}]}`}}
	frames := drain(fixedStream(src, "thread-1"))

	require.Len(t, frames, 1)
	event := decodeFrame(t, frames[0])
	assert.Equal(t, "evt-1", event["id"])
	assert.Equal(t, "thread.run.step.delta", event["object"])
	assert.Equal(t, float64(1_700_000_000), event["created"])
	assert.Equal(t, "thread-1", event["thread_id"])
	assert.Equal(t, "wx.ai AI service", event["model"])
	assert.Equal(t, map[string]interface{}{"role": "assistant", "content": "hi"}, frameDelta(t, frames[0]))
}

func TestStream_KeyOrder(t *testing.T) {
	src := &sliceSource{chunks: []string{`{"choices":[{"delta":{"role":"assistant","content":"hi"}}]}`}}
	frames := drain(fixedStream(src, "t"))

	require.Len(t, frames, 1)
	assert.Equal(t,
		`data: {"id":"evt-1","object":"thread.run.step.delta","created":1700000000,"thread_id":"t","model":"wx.ai AI service","choices":[{"delta":{"role":"assistant","content":"hi"}}]}`+"\n\n",
		frames[0])
}

func TestStream_ToolCallsThenResultThenText(t *testing.T) {
	src := &sliceSource{chunks: []string{
		`{"choices":[{"delta":{"role":"assistant","tool_calls":[{"function":{"name":"f","arguments":"{\"x\":1}"},"id":"c1"}]}}]}`,
		`{"choices":[{"delta":{"role":"tool","name":"f","tool_call_id":"c1","content":"done"}}]}`,
		`{"choices":[{"delta":{"role":"assistant","content":"All set <ok> & done"}}]}`,
	}}
	rec := &frameRecorder{}
	frames := drain(fixedStream(src, "t", WithRecorder(rec)))

	require.Len(t, frames, 3)
	assert.Equal(t, map[string]interface{}{
		"role": "assistant",
		"step_details": map[string]interface{}{
			"type":       "tool_calls",
			"tool_calls": []interface{}{map[string]interface{}{"name": "f", "args": map[string]interface{}{"x": float64(1)}, "id": "c1"}},
		},
	}, frameDelta(t, frames[0]))
	assert.Equal(t, map[string]interface{}{
		"role": "assistant",
		"step_details": map[string]interface{}{
			"type":         "tool_response",
			"name":         "f",
			"tool_call_id": "c1",
			"content":      "done",
		},
	}, frameDelta(t, frames[1]))
	assert.Contains(t, frames[2], "All set <ok> & done")
	assert.Equal(t, []string{"tool_calls", "tool_response", "plain_text"}, rec.kinds)
}

func TestStream_MalformedArgumentsContinue(t *testing.T) {
	src := &sliceSource{chunks: []string{
		`{"choices":[{"delta":{"role":"assistant","tool_calls":[{"function":{"name":"f","arguments":"{oops"},"id":"c1"}]}}]}`,
		`{"choices":[{"delta":{"role":"assistant","content":"after"}}]}`,
	}}
	frames := drain(fixedStream(src, "t"))

	require.Len(t, frames, 2)
	delta := frameDelta(t, frames[0]).(map[string]interface{})
	calls := delta["step_details"].(map[string]interface{})["tool_calls"].([]interface{})
	assert.Equal(t, map[string]interface{}{}, calls[0].(map[string]interface{})["args"])
	assert.Equal(t, "after", frameDelta(t, frames[1]).(map[string]interface{})["content"])
}

func TestStream_InvalidJSONEndsWithErrorFrame(t *testing.T) {
	src := &sliceSource{chunks: []string{
		`{"choices":[{"delta":{"role":"assistant","content":"first"}}]}`,
		`not json at all`,
		`{"choices":[{"delta":{"role":"assistant","content":"never sent"}}]}`,
	}}
	rec := &frameRecorder{}
	s := fixedStream(src, "t", WithRecorder(rec))
	frames := drain(s)

	require.Len(t, frames, 2)
	assert.True(t, strings.HasPrefix(frames[1], "Error: "))
	assert.True(t, strings.HasSuffix(frames[1], "\n"))
	assert.False(t, strings.HasSuffix(frames[1], "\n\n"))
	assert.Equal(t, 2, src.pulled, "no chunk is pulled after the error frame")
	assert.Equal(t, []string{"plain_text", "error"}, rec.kinds)

	frame, ok := s.Next()
	assert.False(t, ok)
	assert.Empty(t, frame)
}

func TestStream_MissingDeltaEndsWithErrorFrame(t *testing.T) {
	src := &sliceSource{chunks: []string{`{"choices":[{"finish_reason":"stop"}]}`}}
	frames := drain(fixedStream(src, "t"))

	require.Len(t, frames, 1)
	assert.True(t, strings.HasPrefix(frames[0], "Error: malformed chunk"))
}

func TestStream_UnrecognizedSkipped(t *testing.T) {
	src := &sliceSource{chunks: []string{
		`{"choices":[{"delta":{"role":"user","content":"echo"}}]}`,
		`{"choices":[{"delta":{"role":"assistant"}}]}`,
		`{"choices":[{"delta":{"role":"assistant","content":"kept"}}]}`,
	}}
	rec := &frameRecorder{}
	frames := drain(fixedStream(src, "t", WithRecorder(rec)))

	require.Len(t, frames, 1)
	assert.Equal(t, "kept", frameDelta(t, frames[0]).(map[string]interface{})["content"])
	assert.Equal(t, []string{"unrecognized", "unrecognized", "plain_text"}, rec.kinds)
}

func TestStream_UpstreamErrorMidStream(t *testing.T) {
	src := &sliceSource{
		chunks: []string{`{"choices":[{"delta":{"role":"assistant","content":"partial"}}]}`},
		err:    errors.New("connection reset by peer"),
	}
	frames := drain(fixedStream(src, "t"))

	require.Len(t, frames, 2)
	assert.Equal(t, "Error: upstream stream: connection reset by peer\n", frames[1])
}

func TestStream_EmptySource(t *testing.T) {
	frames := drain(fixedStream(&sliceSource{}, "t"))
	assert.Empty(t, frames)
}

func TestStream_SameChunkSamePayload(t *testing.T) {
	chunk := `{"choices":[{"delta":{"role":"assistant","tool_calls":[{"function":{"name":"f","arguments":"{\"a\":[1,2]}"},"id":"c9"}]}}]}`

	first := drain(New(&sliceSource{chunks: []string{chunk}}, "t"))
	second := drain(New(&sliceSource{chunks: []string{chunk}}, "t"))

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, decodeFrame(t, first[0])["id"], decodeFrame(t, second[0])["id"])
	assert.Equal(t, frameDelta(t, first[0]), frameDelta(t, second[0]))
}

func TestStream_Close(t *testing.T) {
	src := &sliceSource{chunks: []string{`{"choices":[{"delta":{"role":"assistant","content":"x"}}]}`}}
	s := New(src, "t")

	require.NoError(t, s.Close())
	assert.True(t, src.closed)

	_, ok := s.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, src.pulled)
}
