package opensearch

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/paymux/paymux/infra/config"
)

const systemLogIndex = "paymux-system-logs"

// Client wraps the OpenSearch client
type Client struct {
	client *opensearch.Client
	config *config.AppConfig

	// Tracks attempt indices already verified so each tenant's index is
	// checked at most once per process.
	knownIndices   map[string]bool
	knownIndicesMu sync.Mutex
}

// NewClient creates a new OpenSearch client
func NewClient(cfg *config.AppConfig) (*Client, error) {
	opensearchConfig := opensearch.Config{
		Addresses: []string{cfg.OpenSearchURL},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // For development/testing
			},
		},
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(i) * 100 * time.Millisecond
		},
	}

	// Add authentication if configured
	if cfg.OpenSearchUser != "" && cfg.OpenSearchPass != "" {
		opensearchConfig.Username = cfg.OpenSearchUser
		opensearchConfig.Password = cfg.OpenSearchPass
	}

	client, err := opensearch.NewClient(opensearchConfig)
	if err != nil {
		return nil, err
	}

	osClient := &Client{
		client:       client,
		config:       cfg,
		knownIndices: make(map[string]bool),
	}

	if err := osClient.setupIndices(); err != nil {
		log.Printf("Warning: Failed to setup OpenSearch indices: %v", err)
	}

	return osClient, nil
}

// GetClient returns the underlying OpenSearch client
func (c *Client) GetClient() *opensearch.Client {
	return c.client
}

// setupIndices creates the indices every deployment needs up front.
func (c *Client) setupIndices() error {
	exists, err := c.indexExists(systemLogIndex)
	if err != nil {
		return err
	}
	if !exists {
		if err := c.createSystemLogIndex(); err != nil {
			return err
		}
		log.Printf("Created OpenSearch index: %s", systemLogIndex)
	}

	return nil
}

// EnsureAttemptIndex creates a tenant's attempt index if it does not exist
// yet. Safe to call on every write; the check runs once per index.
func (c *Client) EnsureAttemptIndex(tenantID string) error {
	indexName := c.GetAttemptIndexName(tenantID)

	c.knownIndicesMu.Lock()
	known := c.knownIndices[indexName]
	c.knownIndicesMu.Unlock()
	if known {
		return nil
	}

	exists, err := c.indexExists(indexName)
	if err != nil {
		return err
	}
	if !exists {
		if err := c.createAttemptIndex(indexName); err != nil {
			return err
		}
		log.Printf("Created OpenSearch index: %s", indexName)
	}

	c.knownIndicesMu.Lock()
	c.knownIndices[indexName] = true
	c.knownIndicesMu.Unlock()

	return nil
}

// indexExists checks if an index exists
func (c *Client) indexExists(indexName string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{
		Index: []string{indexName},
	}

	res, err := req.Do(nil, c.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	return res.StatusCode == 200, nil
}

// createAttemptIndex creates an index for transaction attempts with proper
// mapping.
func (c *Client) createAttemptIndex(indexName string) error {
	mapping := `{
		"mappings": {
			"properties": {
				"timestamp": {
					"type": "date",
					"format": "strict_date_optional_time||epoch_millis"
				},
				"tenant_id": {
					"type": "keyword"
				},
				"gateway": {
					"type": "keyword"
				},
				"payment_id": {
					"type": "keyword"
				},
				"transaction_id": {
					"type": "keyword"
				},
				"request_id": {
					"type": "keyword"
				},
				"strategy": {
					"type": "keyword"
				},
				"operation": {
					"type": "keyword"
				},
				"amount": {
					"type": "double"
				},
				"currency": {
					"type": "keyword"
				},
				"fee": {
					"type": "double"
				},
				"outcome": {
					"type": "keyword"
				},
				"error_code": {
					"type": "keyword"
				},
				"error_message": {
					"type": "text"
				},
				"fallback": {
					"type": "boolean"
				},
				"attempt_number": {
					"type": "integer"
				},
				"latency_ms": {
					"type": "long"
				}
			}
		},
		"settings": {
			"number_of_shards": 1,
			"number_of_replicas": 0,
			"index": {
				"lifecycle": {
					"name": "payment_attempts_policy",
					"rollover_alias": "` + indexName + `"
				}
			}
		}
	}`

	req := opensearchapi.IndicesCreateRequest{
		Index: indexName,
		Body:  strings.NewReader(mapping),
	}

	res, err := req.Do(nil, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index creation error: %s", res.String())
	}

	return nil
}

// createSystemLogIndex creates the index for system logs.
func (c *Client) createSystemLogIndex() error {
	mapping := `{
		"mappings": {
			"properties": {
				"timestamp": {
					"type": "date",
					"format": "strict_date_optional_time||epoch_millis"
				},
				"level": {
					"type": "keyword"
				},
				"message": {
					"type": "text"
				},
				"component": {
					"type": "keyword"
				},
				"tenant_id": {
					"type": "keyword"
				},
				"gateway": {
					"type": "keyword"
				},
				"request_id": {
					"type": "keyword"
				},
				"error": {
					"type": "text"
				}
			}
		},
		"settings": {
			"number_of_shards": 1,
			"number_of_replicas": 0
		}
	}`

	req := opensearchapi.IndicesCreateRequest{
		Index: systemLogIndex,
		Body:  strings.NewReader(mapping),
	}

	res, err := req.Do(nil, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index creation error: %s", res.String())
	}

	return nil
}

// GetAttemptIndexName returns the attempt index name for a tenant.
func (c *Client) GetAttemptIndexName(tenantID string) string {
	if tenantID == "" {
		return "paymux-attempts"
	}
	return "paymux-" + strings.ToLower(tenantID) + "-attempts"
}

// IsEnabled returns whether OpenSearch logging is enabled
func (c *Client) IsEnabled() bool {
	return c.config.EnableLogging
}
