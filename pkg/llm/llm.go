// Package llm defines the model-provider abstraction and the router that
// selects a provider/model per workflow step with one-shot failover.
package llm

import (
	"context"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FinishReasonError is the sentinel finish reason carried by responses that
// represent a failed request. Adapters never return a Go error for ordinary
// request failures; they return a response with this finish reason so the
// router's control flow stays uniform across provider transports.
const FinishReasonError = "error"

// Message is a single turn in a model conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition describes a callable tool offered to the model.
// Parameters holds a JSON-schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Arguments map[string]any `json:"arguments"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
}

// CompletionRequest carries one completion call to a provider adapter.
type CompletionRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	// ResponseFormat hints structured output, e.g. "json_object". Adapters
	// that cannot enforce it fold the hint into the prompt instead.
	ResponseFormat string
	MaxTokens      int
	Temperature    float32
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the uniform result of a completion call. A failed
// request has empty Content, FinishReason set to FinishReasonError, and
// diagnostic detail in ErrorDetail/ErrorType.
type CompletionResponse struct {
	ToolCalls    []ToolCall
	Content      string
	Model        string
	FinishReason string
	ErrorDetail  string
	ErrorType    string
	Usage        Usage
}

// Failed reports whether this response represents a failed request.
func (r *CompletionResponse) Failed() bool {
	return r.FinishReason == FinishReasonError
}

// ErrorResponse builds the uniform failure response adapters return for
// ordinary request failures.
func ErrorResponse(model string, errType string, err error) CompletionResponse {
	return CompletionResponse{
		Model:        model,
		FinishReason: FinishReasonError,
		ErrorType:    errType,
		ErrorDetail:  err.Error(),
	}
}

// Provider is the capability set every model backend implements.
type Provider interface {
	// Name returns the provider identifier, e.g. "anthropic".
	Name() string

	// Models returns the model identifiers this provider serves.
	Models() []string

	// Complete performs one completion request. Ordinary request failures
	// (HTTP errors, network errors, timeouts) are captured in the returned
	// response with FinishReasonError, never raised.
	Complete(ctx context.Context, req CompletionRequest) CompletionResponse

	// HealthCheck probes whether the backend is reachable.
	HealthCheck(ctx context.Context) bool
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// SplitSystem separates system messages from the conversational turns, for
// backends that take the system prompt as a dedicated parameter.
func SplitSystem(messages []Message) (system string, rest []Message) {
	for i := range messages {
		if messages[i].Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += messages[i].Content
			continue
		}
		rest = append(rest, messages[i])
	}
	return system, rest
}

// ValidateRequest checks structural requirements shared by all adapters.
func ValidateRequest(req *CompletionRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("message list cannot be empty")
	}
	if req.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	for i := range req.Messages {
		switch req.Messages[i].Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("invalid role %q at index %d", req.Messages[i].Role, i)
		}
	}
	return nil
}
