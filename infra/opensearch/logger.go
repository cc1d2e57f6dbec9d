package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Logger handles attempt audit logging to OpenSearch
type Logger struct {
	client *Client
}

// NewLogger creates a new attempt logger
func NewLogger(client *Client) *Logger {
	return &Logger{
		client: client,
	}
}

// AttemptDoc represents one gateway attempt in the audit index. Every
// charge, capture, refund and void the orchestrator makes produces one
// document, including the failed attempts that preceded a fallback.
type AttemptDoc struct {
	Timestamp     time.Time `json:"timestamp"`
	TenantID      string    `json:"tenant_id"`
	Gateway       string    `json:"gateway"`
	PaymentID     string    `json:"payment_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	Strategy      string    `json:"strategy,omitempty"`
	Operation     string    `json:"operation"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Fee           float64   `json:"fee,omitempty"`
	Outcome       string    `json:"outcome"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Fallback      bool      `json:"fallback"`
	AttemptNumber int       `json:"attempt_number,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
}

// Attempt outcomes as recorded in the audit index.
const (
	OutcomeSuccess   = "success"
	OutcomeDeclined  = "declined"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// SearchParams defines parameters for attempt search
type SearchParams struct {
	Gateway    string
	Operation  string
	Outcome    string
	PaymentID  string
	ErrorsOnly bool
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
}

// GatewayStats is the aggregated performance view of one gateway over a
// time window, parsed from the attempt index. The routing feed turns this
// into score inputs.
type GatewayStats struct {
	Gateway       string  `json:"gateway"`
	TotalAttempts int64   `json:"total_attempts"`
	SuccessCount  int64   `json:"success_count"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	TotalVolume   float64 `json:"total_volume"`
	TotalFees     float64 `json:"total_fees"`
}

// LogAttempt indexes one attempt document for a tenant
func (l *Logger) LogAttempt(ctx context.Context, tenantID string, doc AttemptDoc) error {
	if !l.client.IsEnabled() {
		return nil
	}

	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now()
	}
	doc.TenantID = tenantID

	if err := l.client.EnsureAttemptIndex(tenantID); err != nil {
		return fmt.Errorf("failed to ensure attempt index: %w", err)
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt doc: %w", err)
	}

	indexName := l.client.GetAttemptIndexName(tenantID)

	req := opensearchapi.IndexRequest{
		Index: indexName,
		Body:  bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index attempt doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch index error: %s", res.String())
	}

	return nil
}

// SearchAttempts searches attempt documents with filtering
func (l *Logger) SearchAttempts(ctx context.Context, tenantID string, params SearchParams) ([]AttemptDoc, error) {
	if !l.client.IsEnabled() {
		return nil, fmt.Errorf("opensearch logging is not enabled")
	}

	query := l.buildSearchQuery(params)

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	indexName := l.client.GetAttemptIndexName(tenantID)

	req := opensearchapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return nil, fmt.Errorf("failed to search attempts: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("opensearch search error: %s", res.String())
	}

	var searchResult struct {
		Hits struct {
			Hits []struct {
				Source AttemptDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	docs := make([]AttemptDoc, 0, len(searchResult.Hits.Hits))
	for _, hit := range searchResult.Hits.Hits {
		docs = append(docs, hit.Source)
	}

	return docs, nil
}

// buildSearchQuery builds an OpenSearch query from search parameters
func (l *Logger) buildSearchQuery(params SearchParams) map[string]any {
	must := []map[string]any{}

	if params.Gateway != "" {
		must = append(must, map[string]any{
			"term": map[string]any{"gateway": params.Gateway},
		})
	}
	if params.Operation != "" {
		must = append(must, map[string]any{
			"term": map[string]any{"operation": params.Operation},
		})
	}
	if params.Outcome != "" {
		must = append(must, map[string]any{
			"term": map[string]any{"outcome": params.Outcome},
		})
	}
	if params.PaymentID != "" {
		must = append(must, map[string]any{
			"term": map[string]any{"payment_id": params.PaymentID},
		})
	}
	if params.ErrorsOnly {
		must = append(must, map[string]any{
			"bool": map[string]any{
				"must_not": []map[string]any{
					{"term": map[string]any{"outcome": OutcomeSuccess}},
				},
			},
		})
	}

	if params.StartDate != nil || params.EndDate != nil {
		dateRange := map[string]any{}
		if params.StartDate != nil {
			dateRange["gte"] = params.StartDate.Format(time.RFC3339)
		}
		if params.EndDate != nil {
			dateRange["lte"] = params.EndDate.Format(time.RFC3339)
		}
		must = append(must, map[string]any{
			"range": map[string]any{"timestamp": dateRange},
		})
	}

	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": must,
			},
		},
		"sort": []map[string]any{
			{"timestamp": map[string]any{"order": "desc"}},
		},
		"size": limit,
	}

	if len(must) == 0 {
		query["query"] = map[string]any{"match_all": map[string]any{}}
	}

	return query
}

// GetGatewayStats aggregates one gateway's charge attempts over a window
func (l *Logger) GetGatewayStats(ctx context.Context, tenantID, gateway string, windowDays int) (*GatewayStats, error) {
	if !l.client.IsEnabled() {
		return nil, fmt.Errorf("opensearch logging is not enabled")
	}
	if windowDays <= 0 {
		windowDays = 7
	}

	query := map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"gateway": gateway}},
					{"term": map[string]any{"operation": "charge"}},
					{"range": map[string]any{
						"timestamp": map[string]any{
							"gte": fmt.Sprintf("now-%dd", windowDays),
						},
					}},
				},
			},
		},
		"aggs": statsAggregations(),
	}

	result, err := l.runAggregation(ctx, tenantID, query)
	if err != nil {
		return nil, err
	}

	stats := parseStatsAggregation(result)
	stats.Gateway = gateway
	return &stats, nil
}

// GetAllGatewayStats aggregates charge attempts for every gateway a tenant
// used inside the window, in a single query
func (l *Logger) GetAllGatewayStats(ctx context.Context, tenantID string, windowDays int) (map[string]GatewayStats, error) {
	if !l.client.IsEnabled() {
		return nil, fmt.Errorf("opensearch logging is not enabled")
	}
	if windowDays <= 0 {
		windowDays = 7
	}

	query := map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"operation": "charge"}},
					{"range": map[string]any{
						"timestamp": map[string]any{
							"gte": fmt.Sprintf("now-%dd", windowDays),
						},
					}},
				},
			},
		},
		"aggs": map[string]any{
			"by_gateway": map[string]any{
				"terms": map[string]any{
					"field": "gateway",
					"size":  50,
				},
				"aggs": statsAggregations(),
			},
		},
	}

	result, err := l.runAggregation(ctx, tenantID, query)
	if err != nil {
		return nil, err
	}

	statsByGateway := make(map[string]GatewayStats)

	aggs, _ := result["aggregations"].(map[string]any)
	byGateway, _ := aggs["by_gateway"].(map[string]any)
	buckets, _ := byGateway["buckets"].([]any)
	for _, b := range buckets {
		bucket, ok := b.(map[string]any)
		if !ok {
			continue
		}
		key, _ := bucket["key"].(string)
		if key == "" {
			continue
		}
		stats := parseStatsBucket(bucket)
		stats.Gateway = key
		statsByGateway[key] = stats
	}

	return statsByGateway, nil
}

// statsAggregations is the shared aggregation body for gateway stats.
func statsAggregations() map[string]any {
	return map[string]any{
		"total_attempts": map[string]any{
			"value_count": map[string]any{"field": "outcome"},
		},
		"successful": map[string]any{
			"filter": map[string]any{
				"term": map[string]any{"outcome": OutcomeSuccess},
			},
			"aggs": map[string]any{
				"total_volume": map[string]any{
					"sum": map[string]any{"field": "amount"},
				},
				"total_fees": map[string]any{
					"sum": map[string]any{"field": "fee"},
				},
			},
		},
		"avg_latency": map[string]any{
			"avg": map[string]any{"field": "latency_ms"},
		},
	}
}

func (l *Logger) runAggregation(ctx context.Context, tenantID string, query map[string]any) (map[string]any, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aggregation query: %w", err)
	}

	indexName := l.client.GetAttemptIndexName(tenantID)

	req := opensearchapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return nil, fmt.Errorf("failed to run aggregation: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		// A missing index just means the tenant has no attempts yet.
		if res.StatusCode == 404 {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("opensearch aggregation error: %s", res.String())
	}

	var result map[string]any
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode aggregation response: %w", err)
	}

	return result, nil
}

func parseStatsAggregation(result map[string]any) GatewayStats {
	aggs, _ := result["aggregations"].(map[string]any)
	return parseStatsBucket(aggs)
}

func parseStatsBucket(bucket map[string]any) GatewayStats {
	stats := GatewayStats{
		TotalAttempts: int64(aggValue(bucket, "total_attempts", "value")),
		AvgLatencyMs:  aggValue(bucket, "avg_latency", "value"),
	}

	if successful, ok := bucket["successful"].(map[string]any); ok {
		count, _ := successful["doc_count"].(float64)
		stats.SuccessCount = int64(count)
		stats.TotalVolume = aggValue(successful, "total_volume", "value")
		stats.TotalFees = aggValue(successful, "total_fees", "value")
	}

	return stats
}

// aggValue walks a nested aggregation result and returns the numeric value
// at the path, or 0 when any step is missing.
func aggValue(aggs map[string]any, path ...string) float64 {
	cur := any(aggs)
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0
		}
		cur = m[p]
	}
	f, _ := cur.(float64)
	return f
}

// LogSystemEvent logs an application event to the system index. The entry
// is indexed as-is, so any struct with sensible json tags works.
func (l *Logger) LogSystemEvent(ctx context.Context, entry any) error {
	if !l.client.IsEnabled() {
		return nil
	}

	docJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal system event: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: systemLogIndex,
		Body:  bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index system event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch index error: %s", res.String())
	}

	return nil
}

// Patterns for values that must never reach the audit index in clear text.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)("(?:cardNumber|card_number|pan)"\s*:\s*")(\d{6})\d+(\d{4})(")`),
	regexp.MustCompile(`(?i)("(?:cvv|cvc|securityCode|security_code)"\s*:\s*")[^"]+(")`),
	regexp.MustCompile(`(?i)("(?:password|secret|secretKey|secret_key|apiKey|api_key|token)"\s*:\s*")[^"]+(")`),
	regexp.MustCompile(`(?i)("(?:expireMonth|expire_month|expireYear|expire_year)"\s*:\s*")[^"]+(")`),
}

var sensitiveReplacements = []string{
	`$1$2******$3$4`,
	`$1***$2`,
	`$1***$2`,
	`$1**$2`,
}

// SanitizeForLog masks sensitive fields before a payload is logged.
// It operates on the JSON form, so it works for any value shape.
func SanitizeForLog(data any) any {
	raw, err := json.Marshal(data)
	if err != nil {
		return "unserializable payload"
	}

	sanitized := string(raw)
	for i, pattern := range sensitivePatterns {
		sanitized = pattern.ReplaceAllString(sanitized, sensitiveReplacements[i])
	}

	if !strings.Contains(sanitized, "{") {
		return sanitized
	}

	var out any
	if err := json.Unmarshal([]byte(sanitized), &out); err != nil {
		return sanitized
	}
	return out
}
