package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// RunMetrics represents aggregated token usage for completed runs, queried
// from an external Prometheus that scrapes this process.
type RunMetrics struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	Failovers        int64 `json:"failovers"`
}

// QueryService queries aggregated metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a metrics query service against the given
// Prometheus base URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetTotals returns token and failover totals across all runs.
func (q *QueryService) GetTotals(ctx context.Context) (*RunMetrics, error) {
	out := &RunMetrics{}

	prompt, err := q.scalar(ctx, `sum(llm_tokens_total{type="prompt"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	out.PromptTokens = prompt

	completion, err := q.scalar(ctx, `sum(llm_tokens_total{type="completion"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	out.CompletionTokens = completion
	out.TotalTokens = prompt + completion

	failovers, err := q.scalar(ctx, `sum(llm_failovers_total)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query failovers: %w", err)
	}
	out.Failovers = failovers

	return out, nil
}

// GetTokensByProvider returns total token usage broken down by provider.
func (q *QueryService) GetTokensByProvider(ctx context.Context) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx, `sum by (provider) (llm_tokens_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens by provider: %w", err)
	}

	out := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if provider, ok := sample.Metric["provider"]; ok {
				out[string(provider)] = int64(sample.Value)
			}
		}
	}
	return out, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
