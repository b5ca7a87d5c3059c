package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/iancoleman/strcase"
	"github.com/scoutbatch-go/internal/batch/ports"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/scoutbatch-go/pkg/metrics"
	"github.com/scoutbatch-go/pkg/resilience"
)

// Documenter lets a record control the document body sent to the index.
// Records without it are indexed as their JSON encoding.
type Documenter interface {
	SearchableDocument() (map[string]interface{}, error)
}

type Config struct {
	// IndexPrefix is prepended to the snake_case entity type.
	IndexPrefix string
	// Refresh is passed through to the bulk API ("", "true", "false", "wait_for").
	Refresh string
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
}

func DefaultConfig() Config {
	return Config{
		Retry:   resilience.DefaultRetryConfig(),
		Breaker: resilience.DefaultCircuitBreakerConfig("elasticsearch"),
	}
}

// Indexer writes records to Elasticsearch with the bulk API.
type Indexer struct {
	client  *elasticsearch.Client
	config  Config
	breaker *resilience.CircuitBreaker
	logger  logger.Logger
}

var _ ports.ImmediateIndexable = (*Indexer)(nil)

func NewIndexer(client *elasticsearch.Client, cfg Config, log logger.Logger) *Indexer {
	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg = resilience.DefaultCircuitBreakerConfig("elasticsearch")
	}
	// rejected documents are not a sign of an unhealthy cluster
	breakerCfg.IsSuccessful = func(err error) bool {
		return err == nil || resilience.IsPermanent(err)
	}

	retryCfg := cfg.Retry
	retryCfg.ShouldRetry = func(err error) bool {
		return !resilience.IsPermanent(err) && !errors.Is(err, resilience.ErrCircuitOpen)
	}
	cfg.Retry = retryCfg

	return &Indexer{
		client:  client,
		config:  cfg,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		logger:  log.Named("elasticsearch"),
	}
}

// IndexName maps an entity type to its index, e.g. "App\Models\BlogPost"
// becomes "<prefix>blog_post".
func (i *Indexer) IndexName(entityType string) string {
	if n := strings.LastIndex(entityType, `\`); n >= 0 {
		entityType = entityType[n+1:]
	}
	return i.config.IndexPrefix + strcase.ToSnake(entityType)
}

func (i *Indexer) IndexRecords(ctx context.Context, entityType string, records []batch.Record) error {
	if len(records) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, rec := range records {
		doc, err := document(rec)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", entityType, rec.SearchableKey(), err)
		}
		meta := map[string]interface{}{"index": map[string]interface{}{"_id": rec.SearchableKey()}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode %s/%s: %w", entityType, rec.SearchableKey(), err)
		}
	}

	return i.bulk(ctx, "index", entityType, body.Bytes())
}

func (i *Indexer) DeindexRecords(ctx context.Context, entityType string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, id := range ids {
		meta := map[string]interface{}{"delete": map[string]interface{}{"_id": id}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
	}

	return i.bulk(ctx, "delete", entityType, body.Bytes())
}

// EnsureIndices creates the index of every entity type that lacks one.
func (i *Indexer) EnsureIndices(ctx context.Context, entityTypes ...string) error {
	for _, entityType := range entityTypes {
		index := i.IndexName(entityType)

		exists, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, i.client)
		if err != nil {
			return fmt.Errorf("check index %s: %w", index, err)
		}
		exists.Body.Close()
		if exists.StatusCode == http.StatusOK {
			continue
		}

		res, err := esapi.IndicesCreateRequest{Index: index}.Do(ctx, i.client)
		if err != nil {
			return fmt.Errorf("create index %s: %w", index, err)
		}
		msg, _ := io.ReadAll(res.Body)
		res.Body.Close()
		// 400 means another process created it first
		if res.IsError() && res.StatusCode != http.StatusBadRequest {
			return fmt.Errorf("create index %s: %s", index, strings.TrimSpace(string(msg)))
		}
		i.logger.Info("Created index", "index", index)
	}
	return nil
}

func (i *Indexer) bulk(ctx context.Context, op, entityType string, payload []byte) error {
	index := i.IndexName(entityType)
	start := time.Now()
	defer func() {
		metrics.IndexRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	err := resilience.Retry(ctx, i.config.Retry, func() error {
		return i.breaker.Execute(ctx, func(ctx context.Context) error {
			return i.doBulk(ctx, index, payload)
		})
	})
	if err != nil {
		i.logger.Error("Bulk request failed", "index", index, "operation", op, "error", err)
		return fmt.Errorf("bulk %s %s: %w", op, index, err)
	}
	return nil
}

func (i *Indexer) doBulk(ctx context.Context, index string, payload []byte) error {
	req := esapi.BulkRequest{
		Index:   index,
		Body:    bytes.NewReader(payload),
		Refresh: i.config.Refresh,
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		err := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
		if resilience.IsRetryableHTTPStatus(res.StatusCode) {
			return err
		}
		return resilience.Permanent(err)
	}

	var out bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !out.Errors {
		return nil
	}
	return out.failures()
}

type bulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkItemResponse `json:"items"`
}

type bulkItemResponse struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// failures collects item errors. Deleting a missing document is fine; any
// retryable item status makes the whole request retryable.
func (r bulkResponse) failures() error {
	var errs []error
	retryable := false
	for _, item := range r.Items {
		for op, res := range item {
			if res.Status < 300 {
				continue
			}
			if op == "delete" && res.Status == http.StatusNotFound {
				continue
			}
			reason := http.StatusText(res.Status)
			if res.Error != nil {
				reason = res.Error.Type + ": " + res.Error.Reason
			}
			errs = append(errs, fmt.Errorf("%s %s: %s", op, res.ID, reason))
			if resilience.IsRetryableHTTPStatus(res.Status) {
				retryable = true
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if retryable {
		return err
	}
	return resilience.Permanent(err)
}

func document(rec batch.Record) (interface{}, error) {
	if d, ok := rec.(Documenter); ok {
		return d.SearchableDocument()
	}
	return rec, nil
}

// NewClient builds an Elasticsearch client from addresses and credentials.
func NewClient(addresses []string, username, password string) (*elasticsearch.Client, error) {
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
}
