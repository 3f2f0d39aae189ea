package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hshen-ai/Zscaler-Automation/gateway"
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateProcessing SessionState = "processing"
	StateClosed     SessionState = "closed"
)

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	MaxIterations       int  `json:"max_iterations"`        // model invocations per input
	ToolResultLimit     int  `json:"tool_result_limit"`     // characters per tool result
	EnableLoopDetection bool `json:"enable_loop_detection"`
	LoopDetectionWindow int  `json:"loop_detection_window"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxIterations:       5,
		ToolResultLimit:     DefaultToolResultLimit,
		EnableLoopDetection: true,
		LoopDetectionWindow: 6,
	}
}

// Session is the central orchestrator for the agentic loop. It pairs a
// model gateway with a tool-server client: each Submit runs model
// invocations and tool rounds until the model produces a final answer
// or the iteration budget runs out.
type Session struct {
	id      string
	gateway gateway.ModelGateway
	tools   ToolClient
	history []Turn
	emitter *EventEmitter
	config  SessionConfig
	state   SessionState
	mu      sync.Mutex

	catalog       []gateway.ToolDefinition
	catalogLoaded bool
}

// NewSession creates a session over the given gateway and tool client.
// A nil config uses the defaults.
func NewSession(gw gateway.ModelGateway, tools ToolClient, config *SessionConfig) *Session {
	sessionID := uuid.New().String()

	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultSessionConfig().MaxIterations
	}

	return &Session{
		id:      sessionID,
		gateway: gw,
		tools:   tools,
		history: make([]Turn, 0),
		emitter: NewEventEmitter(sessionID, 256),
		config:  cfg,
		state:   StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]Turn, len(s.history))
	copy(h, s.history)
	return h
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Close terminates the session. The tool client and gateway belong to
// the caller and are not closed here.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.emitter.Emit(EventSessionEnd, map[string]interface{}{
		"state": string(StateClosed),
	})
	s.emitter.Close()
}

// Submit processes one user input through the agentic loop and returns
// the model's final answer. On a policy block the returned string is
// the block explanation and the error is a *gateway.PolicyBlockedError;
// on an exhausted iteration budget it is the partial narrative and the
// error is an *IterationLimitError. In both cases the session stays
// usable for the next input.
func (s *Session) Submit(ctx context.Context, userInput string) (string, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.state = StateProcessing
	s.mu.Unlock()

	return s.processInput(ctx, userInput)
}

// processInput is the core agentic loop: invoke the model, execute any
// requested tools, feed the results back, repeat.
func (s *Session) processInput(ctx context.Context, userInput string) (string, error) {
	s.appendTurn(NewUserTurn(userInput))
	s.emitter.Emit(EventUserInput, map[string]interface{}{
		"content": userInput,
	})

	catalog := s.loadCatalog(ctx)

	s.mu.Lock()
	maxIterations := s.config.MaxIterations
	enableLoop := s.config.EnableLoopDetection
	loopWindow := s.config.LoopDetectionWindow
	s.mu.Unlock()

	for iteration := 0; ; iteration++ {
		if iteration >= maxIterations {
			s.emitter.Emit(EventIterationLimit, map[string]interface{}{
				"iterations": maxIterations,
			})
			s.setState(StateIdle)
			return s.partialNarrative(), &IterationLimitError{Iterations: maxIterations}
		}

		select {
		case <-ctx.Done():
			s.setState(StateIdle)
			return "", ctx.Err()
		default:
		}

		messages := ConvertHistoryToMessages(s.History())
		response, err := s.gateway.Invoke(ctx, messages, catalog)
		if err != nil {
			return s.handleGatewayError(err)
		}

		toolCalls := response.ToolCalls()
		s.appendTurn(NewAssistantTurn(response.Text(), toolCalls, response.Usage, response.ID))
		s.emitter.Emit(EventAssistantTurn, map[string]interface{}{
			"text":        response.Text(),
			"tool_calls":  len(toolCalls),
			"stop_reason": response.StopReason,
		})

		// Natural completion: no tools requested.
		if len(toolCalls) == 0 {
			if response.StopReason == gateway.StopMaxTokens {
				s.emitter.Emit(EventWarning, map[string]interface{}{
					"message": "response cut off at the token limit",
				})
			}
			s.setState(StateIdle)
			return response.Text(), nil
		}

		results := s.executeToolCalls(ctx, toolCalls)
		s.appendTurn(NewToolResultsTurn(results))

		if enableLoop && DetectLoop(s.History(), loopWindow) {
			warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", loopWindow)
			s.appendTurn(NewNoticeTurn(warning))
			s.emitter.Emit(EventLoopDetection, map[string]interface{}{
				"message": warning,
			})
		}
	}
}

// loadCatalog fetches the tool catalog on first use. Discovery failure
// is not fatal: the model can still answer from its own knowledge, so
// the session proceeds with no tools and a warning.
func (s *Session) loadCatalog(ctx context.Context) []gateway.ToolDefinition {
	s.mu.Lock()
	if s.catalogLoaded {
		defer s.mu.Unlock()
		return s.catalog
	}
	s.mu.Unlock()

	tools, err := s.tools.ListTools(ctx)
	if err != nil {
		s.emitter.Emit(EventWarning, map[string]interface{}{
			"message": fmt.Sprintf("tool discovery failed, continuing without tools: %v", err),
		})
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = toolDefinitions(tools)
	s.catalogLoaded = true
	return s.catalog
}

// handleGatewayError maps a failed invocation onto the session's
// lifecycle. Policy blocks and transient failures leave the session
// usable; authentication and request-shape failures close it, since
// retrying the same conversation cannot succeed.
func (s *Session) handleGatewayError(err error) (string, error) {
	var policyErr *gateway.PolicyBlockedError
	if errors.As(err, &policyErr) {
		reason := "Request blocked by AI Guard policy."
		if policyErr.Message != "" {
			reason = fmt.Sprintf("Request blocked by AI Guard policy: %s", policyErr.Message)
		}
		s.appendTurn(NewNoticeTurn("The previous request was blocked by content policy. Do not repeat it."))
		s.emitter.Emit(EventPolicyBlocked, map[string]interface{}{
			"reason": reason,
		})
		s.setState(StateIdle)
		return reason, err
	}

	var authErr *gateway.AuthError
	var reqErr *gateway.InvalidRequestError
	if errors.As(err, &authErr) || errors.As(err, &reqErr) {
		s.setState(StateClosed)
		s.emitter.Emit(EventError, map[string]interface{}{
			"error": err.Error(),
		})
		return "", fmt.Errorf("unrecoverable backend error: %w", err)
	}

	// Transient failures that survived retry: report and stay usable.
	s.setState(StateIdle)
	s.emitter.Emit(EventError, map[string]interface{}{
		"error": err.Error(),
	})
	return "", err
}

// executeToolCalls runs the model's requested calls sequentially and
// returns exactly one result per call, in request order. The backend
// rejects the next invocation otherwise.
func (s *Session) executeToolCalls(ctx context.Context, toolCalls []gateway.ToolCall) []ToolResult {
	results := make([]ToolResult, len(toolCalls))
	for i, tc := range toolCalls {
		results[i] = s.executeSingleTool(ctx, tc)
	}
	return results
}

// executeSingleTool handles one call: decode input, invoke, truncate,
// emit. Failures of any kind become error results, never Go errors, so
// the model hears about them and the loop continues.
func (s *Session) executeSingleTool(ctx context.Context, toolCall gateway.ToolCall) ToolResult {
	s.emitter.Emit(EventToolCallStart, map[string]interface{}{
		"tool_name": toolCall.Name,
		"call_id":   toolCall.ID,
	})

	arguments := map[string]interface{}{}
	if len(toolCall.Input) > 0 {
		if err := json.Unmarshal(toolCall.Input, &arguments); err != nil {
			errorMsg := fmt.Sprintf("Tool %q received undecodable input: %v", toolCall.Name, err)
			s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
				"call_id": toolCall.ID,
				"error":   errorMsg,
			})
			return ToolResult{ToolCallID: toolCall.ID, Content: errorMsg, IsError: true}
		}
	}

	result, err := s.tools.CallTool(ctx, toolCall.Name, arguments)
	if err != nil {
		errorMsg := fmt.Sprintf("Tool error (%s): %v", toolCall.Name, err)
		s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
			"call_id": toolCall.ID,
			"error":   errorMsg,
		})
		return ToolResult{ToolCallID: toolCall.ID, Content: errorMsg, IsError: true}
	}

	s.mu.Lock()
	limit := s.config.ToolResultLimit
	s.mu.Unlock()
	content := TruncateOutput(result.Content, limit)

	s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
		"call_id":  toolCall.ID,
		"output":   result.Content, // full untruncated output
		"is_error": result.IsError,
	})

	return ToolResult{ToolCallID: toolCall.ID, Content: content, IsError: result.IsError}
}

// partialNarrative joins the assistant text produced since the last
// user turn, so an iteration-limited input still yields its progress.
func (s *Session) partialNarrative() string {
	history := s.History()

	start := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == TurnUser {
			start = i + 1
			break
		}
	}

	var parts []string
	for _, turn := range history[start:] {
		if turn.Kind == TurnAssistant && turn.Assistant != nil && turn.Assistant.Content != "" {
			parts = append(parts, turn.Assistant.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (s *Session) appendTurn(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
}

// setState transitions the session; a closed session stays closed.
func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = state
}
