package translator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wxai-gateway/agent-gateway/internal/models"
)

func TestClassify_PlainText(t *testing.T) {
	delta, err := Classify(`{"choices":[{"delta":{"role":"assistant","content":"hi"}}]}`)
	require.NoError(t, err)

	assert.Equal(t, KindPlainText, delta.Kind)
	assert.JSONEq(t, `{"role":"assistant","content":"hi"}`, string(delta.Payload().(json.RawMessage)))
}

func TestClassify_ToolCalls(t *testing.T) {
	chunk := `{"choices":[{"delta":{"role":"assistant","tool_calls":[{"function":{"name":"f","arguments":"{\"x\":1}"},"id":"c1"}]}}]}`

	delta, err := Classify(chunk)
	require.NoError(t, err)
	require.Equal(t, KindToolCalls, delta.Kind)
	require.Len(t, delta.ToolCalls, 1)

	b, err := json.Marshal(delta.Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","step_details":{"type":"tool_calls","tool_calls":[{"name":"f","args":{"x":1},"id":"c1"}]}}`, string(b))
}

func TestClassify_ToolCallsTakePriorityOverContent(t *testing.T) {
	chunk := `{"choices":[{"delta":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"f","arguments":"{}"},"id":"c1"}]}}]}`

	delta, err := Classify(chunk)
	require.NoError(t, err)
	assert.Equal(t, KindToolCalls, delta.Kind)
}

func TestClassify_MalformedArgumentsDefaultToEmptyObject(t *testing.T) {
	chunk := `{"choices":[{"delta":{"role":"assistant","tool_calls":[{"function":{"name":"f","arguments":"{not json"},"id":"c1"},{"function":{"name":"g"},"id":"c2"}]}}]}`

	delta, err := Classify(chunk)
	require.NoError(t, err)
	require.Len(t, delta.ToolCalls, 2)

	b, err := json.Marshal(delta.ToolCalls)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"f","args":{},"id":"c1"},{"name":"g","args":{},"id":"c2"}]`, string(b))
}

func TestClassify_NumericIDAndObjectArguments(t *testing.T) {
	chunk := `{"choices":[{"delta":{"role":"assistant","tool_calls":[{"function":{"name":"f","arguments":{"x":1}},"id":7}]}}]}`

	delta, err := Classify(chunk)
	require.NoError(t, err)

	b, err := json.Marshal(delta.ToolCalls)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"f","args":{},"id":7}]`, string(b))
}

func TestClassify_ToolResult(t *testing.T) {
	chunk := `{"choices":[{"delta":{"role":"tool","name":"search","tool_call_id":"c1","content":"42 results"}}]}`

	delta, err := Classify(chunk)
	require.NoError(t, err)
	require.Equal(t, KindToolResult, delta.Kind)

	b, err := json.Marshal(delta.Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","step_details":{"type":"tool_response","name":"search","tool_call_id":"c1","content":"42 results"}}`, string(b))
}

func TestClassify_Unrecognized(t *testing.T) {
	cases := map[string]string{
		"user role":         `{"choices":[{"delta":{"role":"user","content":"hi"}}]}`,
		"assistant no body": `{"choices":[{"delta":{"role":"assistant"}}]}`,
		"missing role":      `{"choices":[{"delta":{"content":"hi"}}]}`,
		"non-string role":   `{"choices":[{"delta":{"role":7,"content":"hi"}}]}`,
	}
	for name, chunk := range cases {
		t.Run(name, func(t *testing.T) {
			delta, err := Classify(chunk)
			require.NoError(t, err)
			assert.Equal(t, KindUnrecognized, delta.Kind)
			assert.Nil(t, delta.Payload())
		})
	}
}

func TestClassify_Malformed(t *testing.T) {
	cases := map[string]string{
		"invalid json":          `{"choices":`,
		"not json":              `hello`,
		"no choices":            `{"id":"x"}`,
		"empty choices":         `{"choices":[]}`,
		"no delta":              `{"choices":[{"message":{}}]}`,
		"delta not object":      `{"choices":[{"delta":"hi"}]}`,
		"tool_calls not array":  `{"choices":[{"delta":{"role":"assistant","tool_calls":null}}]}`,
		"tool call missing id":  `{"choices":[{"delta":{"role":"assistant","tool_calls":[{"function":{"name":"f"}}]}}]}`,
		"tool result no fields": `{"choices":[{"delta":{"role":"tool","content":"x"}}]}`,
	}
	for name, chunk := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Classify(chunk)
			require.Error(t, err)
			var malformed *MalformedChunkError
			assert.True(t, errors.As(err, &malformed))
		})
	}
}

func TestParseArgs(t *testing.T) {
	v, ok := ParseArgs(`{"city":"Paris"}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"city":"Paris"}`, string(v))

	_, ok = ParseArgs(`{"city":`)
	assert.False(t, ok)

	_, ok = ParseArgs("")
	assert.False(t, ok)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "plain_text", KindPlainText.String())
	assert.Equal(t, "tool_calls", KindToolCalls.String())
	assert.Equal(t, "tool_response", KindToolResult.String())
	assert.Equal(t, "unrecognized", KindUnrecognized.String())
	assert.Equal(t, models.StepTypeToolResponse, KindToolResult.String())
}
