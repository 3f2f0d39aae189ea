package agentloop

import (
	"time"

	"github.com/hshen-ai/Zscaler-Automation/gateway"
)

// TurnKind discriminates between turn types.
type TurnKind string

const (
	TurnUser        TurnKind = "user"
	TurnAssistant   TurnKind = "assistant"
	TurnToolResults TurnKind = "tool_results"
	TurnNotice      TurnKind = "notice"
)

// Turn is a single entry in the conversation history.
type Turn struct {
	Kind        TurnKind         `json:"kind"`
	Timestamp   time.Time        `json:"timestamp"`
	User        *UserTurn        `json:"user,omitempty"`
	Assistant   *AssistantTurn   `json:"assistant,omitempty"`
	ToolResults *ToolResultsTurn `json:"tool_results,omitempty"`
	Notice      *NoticeTurn      `json:"notice,omitempty"`
}

// UserTurn holds user input.
type UserTurn struct {
	Content string `json:"content"`
}

// AssistantTurn holds the model's response.
type AssistantTurn struct {
	Content    string             `json:"content"`
	ToolCalls  []gateway.ToolCall `json:"tool_calls,omitempty"`
	Usage      gateway.Usage      `json:"usage"`
	ResponseID string             `json:"response_id,omitempty"`
}

// ToolResult is the outcome of one tool call, keyed by the model's call
// identifier.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// ToolResultsTurn holds tool execution results.
type ToolResultsTurn struct {
	Results []ToolResult `json:"results"`
}

// NoticeTurn holds guidance injected by the loop itself, such as a loop
// warning or a policy-block explanation.
type NoticeTurn struct {
	Content string `json:"content"`
}

// NewUserTurn creates a Turn wrapping user input.
func NewUserTurn(content string) Turn {
	return Turn{
		Kind:      TurnUser,
		Timestamp: time.Now(),
		User:      &UserTurn{Content: content},
	}
}

// NewAssistantTurn creates a Turn wrapping a model response.
func NewAssistantTurn(content string, toolCalls []gateway.ToolCall, usage gateway.Usage, responseID string) Turn {
	return Turn{
		Kind:      TurnAssistant,
		Timestamp: time.Now(),
		Assistant: &AssistantTurn{
			Content:    content,
			ToolCalls:  toolCalls,
			Usage:      usage,
			ResponseID: responseID,
		},
	}
}

// NewToolResultsTurn creates a Turn wrapping tool results.
func NewToolResultsTurn(results []ToolResult) Turn {
	return Turn{
		Kind:        TurnToolResults,
		Timestamp:   time.Now(),
		ToolResults: &ToolResultsTurn{Results: results},
	}
}

// NewNoticeTurn creates a Turn wrapping loop-injected guidance.
func NewNoticeTurn(content string) Turn {
	return Turn{
		Kind:      TurnNotice,
		Timestamp: time.Now(),
		Notice:    &NoticeTurn{Content: content},
	}
}

// TextContent returns the text content of a turn regardless of its kind.
func (t Turn) TextContent() string {
	switch t.Kind {
	case TurnUser:
		if t.User != nil {
			return t.User.Content
		}
	case TurnAssistant:
		if t.Assistant != nil {
			return t.Assistant.Content
		}
	case TurnNotice:
		if t.Notice != nil {
			return t.Notice.Content
		}
	}
	return ""
}

// ConvertHistoryToMessages converts the turn-based history into wire
// messages. Tool results for one assistant turn are batched into a
// single user message, one tool_result block per call, preserving the
// model's call order; the backend rejects histories where the two sides
// do not line up.
func ConvertHistoryToMessages(history []Turn) []gateway.Message {
	var messages []gateway.Message
	for _, turn := range history {
		switch turn.Kind {
		case TurnUser:
			if turn.User != nil {
				messages = append(messages, gateway.UserMessage(turn.User.Content))
			}
		case TurnAssistant:
			if turn.Assistant != nil {
				msg := gateway.Message{Role: gateway.RoleAssistant}
				if turn.Assistant.Content != "" {
					msg.Content = append(msg.Content, gateway.TextBlock(turn.Assistant.Content))
				}
				for _, tc := range turn.Assistant.ToolCalls {
					msg.Content = append(msg.Content, gateway.ToolUseBlock(tc.ID, tc.Name, tc.Input))
				}
				messages = append(messages, msg)
			}
		case TurnToolResults:
			if turn.ToolResults != nil {
				msg := gateway.Message{Role: gateway.RoleUser}
				for _, result := range turn.ToolResults.Results {
					msg.Content = append(msg.Content,
						gateway.ToolResultBlock(result.ToolCallID, result.Content, result.IsError))
				}
				messages = append(messages, msg)
			}
		case TurnNotice:
			// Notices are sent as user messages so the model treats them
			// as additional instructions.
			if turn.Notice != nil {
				messages = append(messages, gateway.UserMessage(turn.Notice.Content))
			}
		}
	}
	return messages
}
