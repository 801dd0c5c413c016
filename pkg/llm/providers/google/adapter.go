// Package google provides the Gemini provider adapter built on the official
// Google GenAI SDK.
package google

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"devflow/pkg/llm"
	"devflow/pkg/llm/llmerrors"
)

// ProviderName identifies this adapter to the router.
const ProviderName = "gemini"

// Adapter wraps the GenAI client behind the llm.Provider interface.
// The underlying client requires a context to construct, so it is created
// lazily on the first call.
type Adapter struct {
	mu      sync.Mutex
	client  *genai.Client
	apiKey  string
	models  []string
	timeout time.Duration
}

// New creates a Gemini adapter. The client itself is built on first use.
func New(apiKey string, models []string, timeout time.Duration) *Adapter {
	return &Adapter{
		apiKey:  apiKey,
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

func (a *Adapter) getClient(ctx context.Context) (*genai.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  a.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

// Complete implements llm.Provider.
func (a *Adapter) Complete(ctx context.Context, req llm.CompletionRequest) llm.CompletionResponse {
	if err := llm.ValidateRequest(&req); err != nil {
		return llm.ErrorResponse(req.Model, llmerrors.ErrorTypeBadPrompt.String(), err)
	}

	client, err := a.getClient(ctx)
	if err != nil {
		classified := llmerrors.Classify(err)
		return llm.ErrorResponse(req.Model, classified.Type.String(), classified)
	}

	system, rest := llm.SplitSystem(req.Messages)

	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		role := "user"
		if rest[i].Role == llm.RoleAssistant {
			role = "model" // Gemini names the assistant role "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: rest[i].Content}},
		})
	}

	temp := req.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.ResponseFormat == "json_object" {
		cfg.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		decls, err := convertTools(req.Tools)
		if err != nil {
			return llm.ErrorResponse(req.Model, llmerrors.ErrorTypeBadPrompt.String(), err)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := client.Models.GenerateContent(callCtx, req.Model, contents, cfg)
	if err != nil {
		classified := llmerrors.Classify(err)
		return llm.ErrorResponse(req.Model, classified.Type.String(), classified)
	}

	text := result.Text()
	calls := result.FunctionCalls()
	if text == "" && len(calls) == 0 {
		emptyErr := llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini")
		return llm.ErrorResponse(req.Model, emptyErr.Type.String(), emptyErr)
	}

	out := llm.CompletionResponse{
		Content:      text,
		Model:        req.Model,
		FinishReason: finishReason(result),
	}
	for _, call := range calls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Args,
		})
	}
	if result.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
		}
	}
	return out
}

// HealthCheck implements llm.Provider with a minimal one token completion.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	if len(a.models) == 0 {
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp := a.Complete(callCtx, llm.CompletionRequest{
		Model:     a.models[0],
		Messages:  []llm.Message{llm.NewUserMessage("ping")},
		MaxTokens: 1,
	})
	return !resp.Failed()
}

// convertTools maps generic JSON-schema parameter maps onto Gemini's typed
// schema via a JSON round trip.
func convertTools(defs []llm.ToolDefinition) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		decl := &genai.FunctionDeclaration{
			Name:        defs[i].Name,
			Description: defs[i].Description,
		}
		if len(defs[i].Parameters) > 0 {
			raw, err := json.Marshal(defs[i].Parameters)
			if err != nil {
				return nil, err
			}
			var schema genai.Schema
			if err := json.Unmarshal(raw, &schema); err != nil {
				return nil, err
			}
			decl.Parameters = &schema
		}
		decls[i] = decl
	}
	return decls, nil
}

func finishReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 {
		return ""
	}
	return strings.ToLower(string(result.Candidates[0].FinishReason))
}
