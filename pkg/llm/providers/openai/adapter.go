// Package openai provides the OpenAI provider adapter. With a base URL
// override the same adapter serves any OpenAI-compatible backend (DeepSeek,
// Moonshot, and similar chat-completions endpoints).
package openai

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"devflow/pkg/llm"
	"devflow/pkg/llm/llmerrors"
)

// ProviderName identifies this adapter to the router.
const ProviderName = "openai"

// Adapter wraps the official OpenAI Go client behind the llm.Provider
// interface.
type Adapter struct {
	client  openai.Client
	models  []string
	timeout time.Duration
}

// New creates an OpenAI adapter. baseURL may be empty for the default
// platform endpoint, or point at any OpenAI-compatible server.
func New(apiKey, baseURL string, models []string, timeout time.Duration) *Adapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Adapter{
		client:  openai.NewClient(opts...),
		models:  models,
		timeout: timeout,
	}
}

// Name implements llm.Provider.
func (a *Adapter) Name() string {
	return ProviderName
}

// Models implements llm.Provider.
func (a *Adapter) Models() []string {
	return a.models
}

// Complete implements llm.Provider using the chat-completions surface, which
// every OpenAI-compatible backend serves.
func (a *Adapter) Complete(ctx context.Context, req llm.CompletionRequest) llm.CompletionResponse {
	if err := llm.ValidateRequest(&req); err != nil {
		return llm.ErrorResponse(req.Model, llmerrors.ErrorTypeBadPrompt.String(), err)
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(float64(req.Temperature)),
	}
	if req.ResponseFormat == "json_object" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	if len(req.Tools) > 0 {
		params.Tools = toToolParams(req.Tools)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		classified := llmerrors.Classify(err)
		return llm.ErrorResponse(req.Model, classified.Type.String(), classified)
	}
	if resp == nil || len(resp.Choices) == 0 {
		emptyErr := llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from chat completions API")
		return llm.ErrorResponse(req.Model, emptyErr.Type.String(), emptyErr)
	}

	choice := &resp.Choices[0]
	out := llm.CompletionResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for i := range choice.Message.ToolCalls {
		call := &choice.Message.ToolCalls[i]
		var args map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return llm.ErrorResponse(req.Model, llmerrors.ErrorTypeUnknown.String(), err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out
}

// HealthCheck implements llm.Provider with a minimal one-token completion.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	model := "gpt-4o-mini"
	if len(a.models) > 0 {
		model = a.models[0]
	}
	_, err := a.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(model),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
		MaxTokens: openai.Int(1),
	})
	return err == nil
}

func toToolParams(tools []llm.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for i := range tools {
		tool := &tools[i]
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		})
	}
	return out
}
