package gateway

import (
	"encoding/json"
	"strings"
)

// anthropicVersion is the protocol-version marker Bedrock requires in
// every Claude invocation body.
const anthropicVersion = "bedrock-2023-05-31"

// Roles in the messages wire format.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block discriminators.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons reported by the model.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ContentBlock is one element of a message's content array. The Type
// field selects which of the remaining fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   []ContentBlock `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock creates a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool_result content block carrying text
// output for the identified call.
func ToolResultBlock(toolUseID, text string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		Content:   []ContentBlock{TextBlock(text)},
		IsError:   isError,
	}
}

// Message is one turn in the wire conversation.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserMessage creates a user message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// ToolDefinition describes one callable tool in the catalog sent to the
// model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Options are model invocation parameters passed through to the
// backend; the gateway does not interpret them.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// invokeRequest is the Anthropic-on-Bedrock request body shared by both
// gateway variants.
type invokeRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature"`
	Messages         []Message        `json:"messages"`
	Tools            []ToolDefinition `json:"tools,omitempty"`
}

func buildRequestBody(opts Options, messages []Message, tools []ToolDefinition) ([]byte, error) {
	return json.Marshal(invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        opts.MaxTokens,
		Temperature:      opts.Temperature,
		Messages:         messages,
		Tools:            tools,
	})
}

// Usage tracks token consumption for one invocation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolCall is a model-requested tool invocation extracted from a
// response. The ID is the model's opaque call identifier and must be
// echoed back on the matching tool result.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ModelResponse is the parsed backend response body.
type ModelResponse struct {
	ID         string         `json:"id,omitempty"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Text returns the concatenation of all text blocks in the response.
func (r *ModelResponse) Text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == BlockText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolCalls extracts the tool_use blocks, in the order the model
// emitted them.
func (r *ModelResponse) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range r.Content {
		if block.Type == BlockToolUse {
			calls = append(calls, ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	return calls
}
