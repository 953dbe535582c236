// Package translator turns watsonx.ai AI service stream chunks into
// thread.run.step.delta server-sent events.
//
// Each upstream chunk is expected to be a JSON object carrying
// choices[0].delta. Three delta shapes are recognized, checked in order:
//
//  1. tool call invocation: role "assistant" with a tool_calls field
//  2. tool call result: role "tool"
//  3. plain assistant text: role "assistant" with a content field
//
// Anything else is unrecognized and skipped.
package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/wxai-gateway/agent-gateway/internal/models"
)

// Kind tags the shape of a classified delta.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindPlainText
	KindToolCalls
	KindToolResult
)

func (k Kind) String() string {
	switch k {
	case KindPlainText:
		return "plain_text"
	case KindToolCalls:
		return "tool_calls"
	case KindToolResult:
		return "tool_response"
	default:
		return "unrecognized"
	}
}

// Delta is the classified form of one upstream chunk.
type Delta struct {
	Kind Kind
	// Raw is the choices[0].delta object exactly as received.
	Raw string

	ToolCalls  []models.ToolCallStep
	ToolResult *models.ToolResponseStep
}

// Payload returns the value placed in the emitted event's choices[0].delta,
// or nil for an unrecognized delta.
func (d Delta) Payload() interface{} {
	switch d.Kind {
	case KindPlainText:
		return json.RawMessage(d.Raw)
	case KindToolCalls:
		return models.StepDelta{
			Role: models.RoleAssistant,
			StepDetails: models.ToolCallsStep{
				Type:      models.StepTypeToolCalls,
				ToolCalls: d.ToolCalls,
			},
		}
	case KindToolResult:
		return models.StepDelta{
			Role:        models.RoleAssistant,
			StepDetails: d.ToolResult,
		}
	default:
		return nil
	}
}

// MalformedChunkError reports a chunk that does not follow the AI service
// response schema.
type MalformedChunkError struct {
	Reason string
}

func (e *MalformedChunkError) Error() string {
	return fmt.Sprintf("malformed chunk (%s): the AI service is likely built with a wrong or obsolete response schema, please deploy a new AI service", e.Reason)
}

// Classify parses a raw chunk and tags its delta.
func Classify(chunk string) (Delta, error) {
	if !gjson.Valid(chunk) {
		return Delta{}, &MalformedChunkError{Reason: "invalid JSON"}
	}

	delta := gjson.Get(chunk, "choices.0.delta")
	if !delta.Exists() {
		return Delta{}, &MalformedChunkError{Reason: "missing choices[0].delta"}
	}
	if !delta.IsObject() {
		return Delta{}, &MalformedChunkError{Reason: "choices[0].delta is not an object"}
	}

	var role string
	if r := delta.Get("role"); r.Type == gjson.String {
		role = r.Str
	}

	switch {
	case role == models.RoleAssistant && delta.Get("tool_calls").Exists():
		return classifyToolCalls(delta)
	case role == models.RoleTool:
		return classifyToolResult(delta)
	case role == models.RoleAssistant && delta.Get("content").Exists():
		return Delta{Kind: KindPlainText, Raw: delta.Raw}, nil
	default:
		return Delta{Kind: KindUnrecognized, Raw: delta.Raw}, nil
	}
}

func classifyToolCalls(delta gjson.Result) (Delta, error) {
	calls := delta.Get("tool_calls")
	if !calls.IsArray() {
		return Delta{}, &MalformedChunkError{Reason: "tool_calls is not an array"}
	}

	steps := make([]models.ToolCallStep, 0, len(calls.Array()))
	for i, call := range calls.Array() {
		name := call.Get("function.name")
		id := call.Get("id")
		if !name.Exists() || !id.Exists() {
			return Delta{}, &MalformedChunkError{Reason: fmt.Sprintf("tool_calls[%d] lacks id or function.name", i)}
		}

		// arguments arrive as a JSON-encoded string; any other type is ignored
		var args interface{} = map[string]interface{}{}
		if raw := call.Get("function.arguments"); raw.Type == gjson.String {
			if parsed, ok := ParseArgs(raw.Str); ok {
				args = parsed
			}
		}

		steps = append(steps, models.ToolCallStep{
			Name: name.String(),
			Args: args,
			ID:   json.RawMessage(id.Raw),
		})
	}

	return Delta{Kind: KindToolCalls, Raw: delta.Raw, ToolCalls: steps}, nil
}

func classifyToolResult(delta gjson.Result) (Delta, error) {
	name := delta.Get("name")
	callID := delta.Get("tool_call_id")
	content := delta.Get("content")
	if !name.Exists() || !callID.Exists() || !content.Exists() {
		return Delta{}, &MalformedChunkError{Reason: "tool delta lacks name, tool_call_id or content"}
	}

	return Delta{
		Kind: KindToolResult,
		Raw:  delta.Raw,
		ToolResult: &models.ToolResponseStep{
			Type:       models.StepTypeToolResponse,
			Name:       json.RawMessage(name.Raw),
			ToolCallID: json.RawMessage(callID.Raw),
			Content:    json.RawMessage(content.Raw),
		},
	}, nil
}

// ParseArgs parses tool call arguments. ok is false when the arguments are
// not valid JSON; callers substitute an empty object.
func ParseArgs(arguments string) (json.RawMessage, bool) {
	arguments = strings.TrimSpace(arguments)
	if !gjson.Valid(arguments) {
		return nil, false
	}
	return json.RawMessage(arguments), true
}
