package eventindex

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isectech/security-logging/pkg/metrics"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/common"
)

// DocumentIndexer writes one document into a named index
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, doc interface{}) error
}

// IndexNamer maps a template and timestamp to a concrete index name
type IndexNamer interface {
	GetIndexName(template string, timestamp time.Time) string
}

// Mirror copies records into the external index on background goroutines.
// Failures are logged and counted, never returned.
type Mirror struct {
	indexer DocumentIndexer
	namer   IndexNamer
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector
	wg      sync.WaitGroup
}

// NewMirror creates a mirror with a per-document timeout
func NewMirror(indexer DocumentIndexer, namer IndexNamer, timeout time.Duration, logger *zap.Logger, m *metrics.Collector) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Mirror{
		indexer: indexer,
		namer:   namer,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

var _ repository.EventMirror = (*Mirror)(nil)

// Mirror indexes doc asynchronously. doc gains an @timestamp field.
func (m *Mirror) Mirror(template, id string, timestamp time.Time, doc interface{}) {
	body, err := withTimestamp(doc, timestamp)
	index := m.namer.GetIndexName(template, timestamp)
	if err != nil {
		m.fail(index, id, err)
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		if err := m.indexer.IndexDocument(ctx, index, id, body); err != nil {
			m.fail(index, id, err)
		}
	}()
}

// Wait blocks until in-flight documents finish or ctx is done
func (m *Mirror) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mirror) fail(index, id string, err error) {
	m.metrics.RecordMirrorFailure(index)
	m.logger.Error("Failed to mirror document to external index",
		zap.String("document_id", id),
		zap.Error(common.ErrMirror(index, err)))
}

func withTimestamp(doc interface{}, timestamp time.Time) (map[string]interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	body := make(map[string]interface{})
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	body["@timestamp"] = timestamp.UTC().Format(time.RFC3339Nano)
	return body, nil
}
