package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Client wraps the Elasticsearch client with a circuit breaker
type Client struct {
	config         *Config
	client         *elasticsearch.Client
	logger         *zap.Logger
	circuitBreaker *gobreaker.CircuitBreaker
	mu             sync.RWMutex
	closed         bool
}

// TermBucket is one terms-aggregation bucket
type TermBucket struct {
	Key      string `json:"key"`
	DocCount int64  `json:"doc_count"`
}

// AggregationResult holds the total hit count and the requested terms buckets
type AggregationResult struct {
	Total   int64
	Buckets map[string][]TermBucket
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Buckets []struct {
			Key      interface{} `json:"key"`
			DocCount int64       `json:"doc_count"`
		} `json:"buckets"`
	} `json:"aggregations"`
}

// NewClient creates a client. Unlike most stores it does not ping on
// construction; the index is optional and reachability is reported by Ping.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.Enabled() {
		return nil, fmt.Errorf("no elasticsearch addresses configured")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  config.Addresses,
		Username:   config.Username,
		Password:   config.Password,
		APIKey:     config.APIKey,
		MaxRetries: config.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	client := &Client{
		config: config,
		client: esClient,
		logger: logger,
	}

	client.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "elasticsearch-client",
		MaxRequests: config.CircuitBreaker.MaxRequests,
		Interval:    config.CircuitBreaker.Interval,
		Timeout:     config.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.CircuitBreaker.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	logger.Info("Elasticsearch client initialized",
		zap.Strings("addresses", config.Addresses))

	return client, nil
}

// Config returns the client configuration
func (c *Client) Config() *Config {
	return c.config
}

// Ping tests the connection to Elasticsearch
func (c *Client) Ping(ctx context.Context) error {
	return c.execute(func() error {
		res, err := c.client.Ping(c.client.Ping.WithContext(ctx))
		if err != nil {
			return err
		}
		defer res.Body.Close()

		if res.IsError() {
			return fmt.Errorf("ping failed with status: %s", res.Status())
		}
		return nil
	})
}

// IndexDocument indexes doc under id into index
func (c *Client) IndexDocument(ctx context.Context, index, id string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}

	return c.execute(func() error {
		req := esapi.IndexRequest{
			Index:      index,
			DocumentID: id,
			Body:       bytes.NewReader(body),
		}

		res, err := req.Do(ctx, c.client)
		if err != nil {
			return fmt.Errorf("failed to index document: %w", err)
		}
		defer res.Body.Close()

		if res.IsError() {
			return responseError("index", res)
		}
		return nil
	})
}

// AggregateTerms runs a size-0 search returning the total hit count and a
// terms aggregation for each entry in fields (aggregation name to field).
func (c *Client) AggregateTerms(ctx context.Context, index string, query map[string]interface{}, fields map[string]string, size int) (*AggregationResult, error) {
	aggs := make(map[string]interface{}, len(fields))
	for name, field := range fields {
		aggs[name] = map[string]interface{}{
			"terms": map[string]interface{}{"field": field, "size": size},
		}
	}

	body, err := json.Marshal(map[string]interface{}{
		"size":             0,
		"track_total_hits": true,
		"query":            query,
		"aggs":             aggs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize search: %w", err)
	}

	var parsed searchResponse
	err = c.execute(func() error {
		ignoreUnavailable := true
		req := esapi.SearchRequest{
			Index:             []string{index},
			Body:              bytes.NewReader(body),
			IgnoreUnavailable: &ignoreUnavailable,
		}

		res, err := req.Do(ctx, c.client)
		if err != nil {
			return fmt.Errorf("failed to execute search: %w", err)
		}
		defer res.Body.Close()

		if res.IsError() {
			return responseError("search", res)
		}
		return json.NewDecoder(res.Body).Decode(&parsed)
	})
	if err != nil {
		return nil, err
	}

	result := &AggregationResult{
		Total:   parsed.Hits.Total.Value,
		Buckets: make(map[string][]TermBucket, len(fields)),
	}
	for name := range fields {
		buckets := []TermBucket{}
		for _, b := range parsed.Aggregations[name].Buckets {
			buckets = append(buckets, TermBucket{Key: fmt.Sprint(b.Key), DocCount: b.DocCount})
		}
		result.Buckets[name] = buckets
	}
	return result, nil
}

// Close marks the client closed; subsequent calls fail fast
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) execute(fn func() error) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("elasticsearch client is closed")
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s failed with status %s: %s", op, res.Status(), strings.TrimSpace(string(body)))
}
