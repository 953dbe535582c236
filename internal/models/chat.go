package models

import "encoding/json"

// Message roles accepted on the inbound request
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Chat Completion Request
type ChatCompletionRequest struct {
	Model     string                 `json:"model"`
	Context   map[string]interface{} `json:"context"`
	Messages  []Message              `json:"messages" binding:"required,dive"`
	Stream    bool                   `json:"stream,omitempty"`
	ExtraBody *ExtraBody             `json:"extra_body,omitempty"`
}

// Message is a single conversation turn. Content is nil when the sender
// supplied no content, and is forwarded upstream as JSON null.
type Message struct {
	Role    string  `json:"role" binding:"required,oneof=user assistant system tool"`
	Content *string `json:"content"`
}

type ExtraBody struct {
	ThreadID *string `json:"thread_id,omitempty"`
}

// Text returns the message content, or "" when absent.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Chat Completion Response
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int             `json:"index"`
	Message      MessageResponse `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type MessageResponse struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream event emitted per translated upstream chunk
type StepDeltaEvent struct {
	ID       string            `json:"id"`
	Object   string            `json:"object"`
	Created  int64             `json:"created"`
	ThreadID string            `json:"thread_id"`
	Model    string            `json:"model"`
	Choices  []StepDeltaChoice `json:"choices"`
}

// StepDeltaChoice carries either a verbatim upstream delta (json.RawMessage)
// or a StepDelta.
type StepDeltaChoice struct {
	Delta interface{} `json:"delta"`
}

type StepDelta struct {
	Role        string      `json:"role"`
	StepDetails interface{} `json:"step_details"`
}

type ToolCallsStep struct {
	Type      string         `json:"type"`
	ToolCalls []ToolCallStep `json:"tool_calls"`
}

type ToolCallStep struct {
	Name string          `json:"name"`
	Args interface{}     `json:"args"`
	ID   json.RawMessage `json:"id"`
}

// ToolResponseStep fields are copied from the upstream delta as raw JSON.
type ToolResponseStep struct {
	Type       string      `json:"type"`
	Name       interface{} `json:"name"`
	ToolCallID interface{} `json:"tool_call_id"`
	Content    interface{} `json:"content"`
}

const (
	ObjectChatCompletion = "chat.completion"
	ObjectStepDelta      = "thread.run.step.delta"

	StepTypeToolCalls    = "tool_calls"
	StepTypeToolResponse = "tool_response"
)
