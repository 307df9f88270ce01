package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ExecutionMetrics represents aggregated protocol metrics for one execution.
type ExecutionMetrics struct {
	ExecutionID      string           `json:"execution_id"`
	EventsTotal      int64            `json:"events_total"`
	EventsByType     map[string]int64 `json:"events_by_type"`
	TranscriptTokens int64            `json:"transcript_tokens"`
}

// QueryService provides methods to query supervisor metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetExecutionMetrics retrieves aggregated event counts and transcript size
// for a specific execution across all stream phases (start, execute, resume).
func (q *QueryService) GetExecutionMetrics(ctx context.Context, executionID string) (*ExecutionMetrics, error) {
	metrics := &ExecutionMetrics{
		ExecutionID:  executionID,
		EventsByType: make(map[string]int64),
	}

	totalQuery := fmt.Sprintf(`sum(overseer_events_total{execution_id=%q})`, executionID)
	totalResult, _, err := q.queryAPI.Query(ctx, totalQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query event total: %w", err)
	}
	if vector, ok := totalResult.(model.Vector); ok && len(vector) > 0 {
		metrics.EventsTotal = int64(vector[0].Value)
	}

	byTypeQuery := fmt.Sprintf(`sum by (type) (overseer_events_total{execution_id=%q})`, executionID)
	byTypeResult, _, err := q.queryAPI.Query(ctx, byTypeQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query events by type: %w", err)
	}
	if vector, ok := byTypeResult.(model.Vector); ok {
		for _, sample := range vector {
			if eventType, ok := sample.Metric["type"]; ok {
				metrics.EventsByType[string(eventType)] = int64(sample.Value)
			}
		}
	}

	tokensQuery := fmt.Sprintf(`overseer_transcript_tokens{execution_id=%q}`, executionID)
	tokensResult, _, err := q.queryAPI.Query(ctx, tokensQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript tokens: %w", err)
	}
	if vector, ok := tokensResult.(model.Vector); ok && len(vector) > 0 {
		metrics.TranscriptTokens = int64(vector[0].Value)
	}

	return metrics, nil
}
