package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devflow/pkg/config"
)

// fakeProvider returns canned responses and records the requests it saw.
type fakeProvider struct {
	name     string
	response CompletionResponse
	healthy  bool
	calls    []CompletionRequest
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Models() []string { return []string{"fake-model"} }

func (f *fakeProvider) Complete(_ context.Context, req CompletionRequest) CompletionResponse {
	f.calls = append(f.calls, req)
	resp := f.response
	resp.Model = req.Model
	return resp
}

func (f *fakeProvider) HealthCheck(context.Context) bool { return f.healthy }

func routerConfig(allowFallback bool) *config.ProvidersConfig {
	return &config.ProvidersConfig{
		Primary:       "anthropic",
		Fallback:      "openai",
		AllowFallback: allowFallback,
		Anthropic: config.ProviderConfig{
			FastModel:      "haiku",
			ReasoningModel: "sonnet",
		},
		OpenAI: config.ProviderConfig{
			FastModel:      "gpt-4o-mini",
			ReasoningModel: "o3-mini",
		},
	}
}

func okResponse(content string) CompletionResponse {
	return CompletionResponse{Content: content, FinishReason: "stop"}
}

func failedResponse() CompletionResponse {
	return CompletionResponse{
		FinishReason: FinishReasonError,
		ErrorType:    "transient",
		ErrorDetail:  "connection reset",
	}
}

func TestTierForStep(t *testing.T) {
	tests := []struct {
		step string
		want string
	}{
		{"plan", TierFast},
		{"checklist", TierFast},
		{"execute", TierReasoning},
		{"validate", TierFast},
		{"summarize", TierFast},
		{"unknown", TierFast},
	}
	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			assert.Equal(t, tt.want, TierForStep(tt.step))
		})
	}
}

func TestRoutePrimarySuccess(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", response: okResponse("plan text")}
	fallback := &fakeProvider{name: "openai", response: okResponse("unused")}

	router, err := NewRouter([]Provider{primary, fallback}, routerConfig(true), nil)
	require.NoError(t, err)

	result, err := router.Route(context.Background(), "plan", "", CompletionRequest{
		Messages:  []Message{NewUserMessage("hi")},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	assert.False(t, result.Response.Failed())
	assert.Equal(t, "anthropic", result.Provider)
	assert.Equal(t, "haiku", result.Model)
	assert.False(t, result.FellBack)
	assert.Empty(t, fallback.calls)
}

func TestRouteReasoningTierModel(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", response: okResponse("patch")}
	fallback := &fakeProvider{name: "openai", response: okResponse("unused")}

	router, err := NewRouter([]Provider{primary, fallback}, routerConfig(true), nil)
	require.NoError(t, err)

	result, err := router.Route(context.Background(), "execute", "", CompletionRequest{
		Messages:  []Message{NewUserMessage("hi")},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "sonnet", result.Model)
}

func TestRouteModelTypeOverride(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", response: okResponse("out")}

	router, err := NewRouter([]Provider{primary}, routerConfig(false), nil)
	require.NoError(t, err)

	// The override wins over the step mapping in both directions.
	result, err := router.Route(context.Background(), "plan", TierReasoning, CompletionRequest{
		Messages:  []Message{NewUserMessage("hi")},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "sonnet", result.Model)

	result, err = router.Route(context.Background(), "execute", TierFast, CompletionRequest{
		Messages:  []Message{NewUserMessage("hi")},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "haiku", result.Model)
}

func TestRouteFailover(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", response: failedResponse()}
	fallback := &fakeProvider{name: "openai", response: okResponse("recovered")}

	router, err := NewRouter([]Provider{primary, fallback}, routerConfig(true), nil)
	require.NoError(t, err)

	result, err := router.Route(context.Background(), "execute", "", CompletionRequest{
		Messages:  []Message{NewUserMessage("hi")},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	assert.False(t, result.Response.Failed())
	assert.Equal(t, "recovered", result.Response.Content)
	assert.Equal(t, "openai", result.Provider)
	assert.Equal(t, "o3-mini", result.Model)
	assert.True(t, result.FellBack)
	assert.Len(t, primary.calls, 1)
	assert.Len(t, fallback.calls, 1)
}

func TestRouteBothProvidersFail(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", response: failedResponse()}
	fallback := &fakeProvider{name: "openai", response: failedResponse()}

	router, err := NewRouter([]Provider{primary, fallback}, routerConfig(true), nil)
	require.NoError(t, err)

	result, err := router.Route(context.Background(), "plan", "", CompletionRequest{
		Messages:  []Message{NewUserMessage("hi")},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	// One attempt each, no retry loop.
	assert.True(t, result.Response.Failed())
	assert.True(t, result.FellBack)
	assert.Len(t, primary.calls, 1)
	assert.Len(t, fallback.calls, 1)
}

func TestRouteFallbackDisabled(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", response: failedResponse()}
	fallback := &fakeProvider{name: "openai", response: okResponse("unused")}

	router, err := NewRouter([]Provider{primary, fallback}, routerConfig(false), nil)
	require.NoError(t, err)

	result, err := router.Route(context.Background(), "plan", "", CompletionRequest{
		Messages:  []Message{NewUserMessage("hi")},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	assert.True(t, result.Response.Failed())
	assert.Equal(t, "anthropic", result.Provider)
	assert.False(t, result.FellBack)
	assert.Empty(t, fallback.calls)
}

func TestNewRouterRejectsUnknownPrimary(t *testing.T) {
	fallback := &fakeProvider{name: "openai"}
	_, err := NewRouter([]Provider{fallback}, routerConfig(true), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary provider")
}

type countingRecorder struct {
	requests  int
	failovers int
}

func (c *countingRecorder) RecordRequest(_, _, _, _ string, _ Usage, _ time.Duration) {
	c.requests++
}

func (c *countingRecorder) RecordFailover(_, _, _ string) {
	c.failovers++
}

func TestRouteRecordsMetrics(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", response: failedResponse()}
	fallback := &fakeProvider{name: "openai", response: okResponse("ok")}
	rec := &countingRecorder{}

	router, err := NewRouter([]Provider{primary, fallback}, routerConfig(true), rec)
	require.NoError(t, err)

	_, err = router.Route(context.Background(), "plan", "", CompletionRequest{
		Messages:  []Message{NewUserMessage("hi")},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, rec.requests)
	assert.Equal(t, 1, rec.failovers)
}
