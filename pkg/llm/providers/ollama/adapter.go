// Package ollama provides the Ollama provider adapter. Ollama is a local
// model runtime, useful as an offline fallback provider.
package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"devflow/pkg/llm"
	"devflow/pkg/llm/llmerrors"
)

// ProviderName identifies this adapter to the router.
const ProviderName = "ollama"

// Adapter wraps the Ollama API client behind the llm.Provider interface.
type Adapter struct {
	client  *api.Client
	models  []string
	timeout time.Duration
}

// New creates an Ollama adapter for the given server URL
// (e.g. "http://localhost:11434").
func New(hostURL string, models []string, timeout time.Duration) *Adapter {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Adapter{
		client:  api.NewClient(parsed, http.DefaultClient),
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

// Complete implements llm.Provider.
func (a *Adapter) Complete(ctx context.Context, req llm.CompletionRequest) llm.CompletionResponse {
	if err := llm.ValidateRequest(&req); err != nil {
		return llm.ErrorResponse(req.Model, llmerrors.ErrorTypeBadPrompt.String(), err)
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for i := range req.Messages {
		messages = append(messages, api.Message{
			Role:    string(req.Messages[i].Role),
			Content: req.Messages[i].Content,
		})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if req.ResponseFormat == "json_object" {
		chatReq.Format = []byte(`"json"`)
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return llm.ErrorResponse(req.Model, llmerrors.ErrorTypeBadPrompt.String(), err)
		}
		chatReq.Tools = tools
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var response api.ChatResponse
	err := a.client.Chat(callCtx, chatReq, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		classified := llmerrors.Classify(err)
		return llm.ErrorResponse(req.Model, classified.Type.String(), classified)
	}
	if response.Message.Content == "" && len(response.Message.ToolCalls) == 0 {
		emptyErr := llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Ollama")
		return llm.ErrorResponse(req.Model, emptyErr.Type.String(), emptyErr)
	}

	out := llm.CompletionResponse{
		Content:      response.Message.Content,
		Model:        req.Model,
		FinishReason: finishReason(&response),
		Usage: llm.Usage{
			PromptTokens:     response.Metrics.PromptEvalCount,
			CompletionTokens: response.Metrics.EvalCount,
			TotalTokens:      response.Metrics.PromptEvalCount + response.Metrics.EvalCount,
		},
	}
	for i := range response.Message.ToolCalls {
		call := &response.Message.ToolCalls[i]
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			Name:      call.Function.Name,
			Arguments: argsToMap(call.Function.Arguments),
		})
	}
	return out
}

// convertTools maps generic tool definitions onto Ollama's typed tool schema
// via a JSON round trip, which tolerates arbitrary JSON-schema parameter maps.
func convertTools(defs []llm.ToolDefinition) (api.Tools, error) {
	tools := make(api.Tools, len(defs))
	for i := range defs {
		raw, err := json.Marshal(defs[i].Parameters)
		if err != nil {
			return nil, err
		}
		var params api.ToolFunctionParameters
		if len(defs[i].Parameters) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, err
			}
		}
		tools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        defs[i].Name,
				Description: defs[i].Description,
				Parameters:  params,
			},
		}
	}
	return tools, nil
}

func argsToMap(args api.ToolCallFunctionArguments) map[string]any {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// HealthCheck implements llm.Provider using the server version endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := a.client.Version(callCtx)
	return err == nil
}

func finishReason(resp *api.ChatResponse) string {
	if resp.DoneReason != "" {
		return resp.DoneReason
	}
	if resp.Done {
		return "stop"
	}
	return ""
}
