// Package anthropic provides the Anthropic Claude provider adapter.
package anthropic

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"devflow/pkg/llm"
	"devflow/pkg/llm/llmerrors"
)

// ProviderName identifies this adapter to the router.
const ProviderName = "anthropic"

// Adapter wraps the Anthropic SDK client behind the llm.Provider interface.
type Adapter struct {
	client  anthropic.Client
	models  []string
	timeout time.Duration
}

// New creates an Anthropic adapter. The adapter holds only the SDK client's
// connection pool and is safe for concurrent use.
func New(apiKey string, models []string, timeout time.Duration) *Adapter {
	return &Adapter{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
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

// Complete implements llm.Provider. Request failures are captured in the
// returned response, never raised.
func (a *Adapter) Complete(ctx context.Context, req llm.CompletionRequest) llm.CompletionResponse {
	if err := llm.ValidateRequest(&req); err != nil {
		return llm.ErrorResponse(req.Model, llmerrors.ErrorTypeBadPrompt.String(), err)
	}

	system, turns := llm.SplitSystem(req.Messages)
	if req.ResponseFormat == "json_object" {
		// No native structured-output parameter; instruct via system prompt.
		system += "\n\nRespond with a single valid JSON object and nothing else."
	}

	messages, err := toMessageParams(turns)
	if err != nil {
		return llm.ErrorResponse(req.Model, llmerrors.ErrorTypeBadPrompt.String(), err)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toToolParams(req.Tools)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Messages.New(callCtx, params)
	if err != nil {
		classified := llmerrors.Classify(err)
		return llm.ErrorResponse(req.Model, classified.Type.String(), classified)
	}
	if resp == nil || len(resp.Content) == 0 {
		emptyErr := llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Anthropic API")
		return llm.ErrorResponse(req.Model, emptyErr.Type.String(), emptyErr)
	}

	out := llm.CompletionResponse{
		Model:        string(resp.Model),
		FinishReason: string(resp.StopReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if err := unmarshalArgs(toolUse.Input, &args); err != nil {
				return llm.ErrorResponse(req.Model, llmerrors.ErrorTypeUnknown.String(), err)
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: args,
			})
		}
	}
	return out
}

// HealthCheck implements llm.Provider with a minimal one-token completion.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	model := "claude-3-5-haiku-latest"
	if len(a.models) > 0 {
		model = a.models[0]
	}
	_, err := a.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
		MaxTokens: 1,
	})
	return err == nil
}

func unmarshalArgs(raw json.RawMessage, dst *map[string]any) error {
	if len(raw) == 0 {
		*dst = map[string]any{}
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// toMessageParams converts conversation turns to Anthropic message params,
// merging consecutive same-role turns to satisfy the API's strict
// user/assistant alternation.
func toMessageParams(turns []llm.Message) ([]anthropic.MessageParam, error) {
	if len(turns) == 0 {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "must have at least one non-system message")
	}

	var merged []llm.Message
	for i := range turns {
		if len(merged) > 0 && merged[len(merged)-1].Role == turns[i].Role {
			merged[len(merged)-1].Content += "\n\n" + turns[i].Content
			continue
		}
		merged = append(merged, turns[i])
	}
	if merged[0].Role != llm.RoleUser {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "first message must be a user message")
	}

	params := make([]anthropic.MessageParam, 0, len(merged))
	for i := range merged {
		block := anthropic.NewTextBlock(merged[i].Content)
		if merged[i].Role == llm.RoleAssistant {
			params = append(params, anthropic.NewAssistantMessage(block))
		} else {
			params = append(params, anthropic.NewUserMessage(block))
		}
	}
	return params, nil
}

func toToolParams(tools []llm.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for i := range tools {
		tool := &tools[i]
		var properties any
		var required []string
		if props, ok := tool.Parameters["properties"]; ok {
			properties = props
		}
		if req, ok := tool.Parameters["required"].([]string); ok {
			required = req
		}
		schema := anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: properties,
			Required:   required,
		}
		out = append(out, anthropic.ToolUnionParamOfTool(schema, tool.Name))
	}
	return out
}
