package eventindex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/database/elasticsearch"
)

type recordingIndexer struct {
	mu    sync.Mutex
	docs  map[string]map[string]interface{}
	err   error
	block chan struct{}
}

func (r *recordingIndexer) IndexDocument(ctx context.Context, index, id string, doc interface{}) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[index+"/"+id] = doc.(map[string]interface{})
	return nil
}

func TestMirror_IndexesWithTimestamp(t *testing.T) {
	indexer := &recordingIndexer{docs: map[string]map[string]interface{}{}}
	m := NewMirror(indexer, elasticsearch.DefaultConfig(), time.Second, nil, nil)

	ts := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	m.Mirror(elasticsearch.TemplateSecurityEvents, "evt-1", ts, map[string]string{"action": "LOGIN"})
	require.NoError(t, m.Wait(context.Background()))

	doc := indexer.docs["security-events-2026.10.18/evt-1"]
	require.NotNil(t, doc)
	assert.Equal(t, "LOGIN", doc["action"])
	assert.Equal(t, "2026-10-18T08:00:00Z", doc["@timestamp"])
}

func TestMirror_FailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	indexer := &recordingIndexer{err: errors.New("cluster red")}
	m := NewMirror(indexer, elasticsearch.DefaultConfig(), time.Second, zap.New(core), nil)

	m.Mirror(elasticsearch.TemplateAuditLogs, "evt-2", time.Now(), map[string]string{})
	require.NoError(t, m.Wait(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("Failed to mirror document to external index").Len())
}

func TestMirror_TimeoutBoundsSlowIndex(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	indexer := &recordingIndexer{block: make(chan struct{})}
	m := NewMirror(indexer, elasticsearch.DefaultConfig(), 200*time.Millisecond, zap.New(core), nil)

	start := time.Now()
	m.Mirror(elasticsearch.TemplateAlerts, "a-1", time.Now(), map[string]string{})
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	require.NoError(t, m.Wait(context.Background()))
	assert.Equal(t, 1, logs.Len())
}

type fakeSearcher struct {
	index  string
	query  map[string]interface{}
	result *elasticsearch.AggregationResult
}

func (f *fakeSearcher) Ping(context.Context) error { return nil }

func (f *fakeSearcher) AggregateTerms(_ context.Context, index string, query map[string]interface{}, _ map[string]string, _ int) (*elasticsearch.AggregationResult, error) {
	f.index = index
	f.query = query
	return f.result, nil
}

func TestReportIndex_AggregateAudit(t *testing.T) {
	searcher := &fakeSearcher{result: &elasticsearch.AggregationResult{
		Total: 3,
		Buckets: map[string][]elasticsearch.TermBucket{
			"categories": {{Key: "compliance", DocCount: 3}},
			"severities": {{Key: "INFO", DocCount: 2}, {Key: "LOW", DocCount: 1}},
		},
	}}
	idx := NewReportIndex(searcher, "audit-logs-*")

	agg, err := idx.AggregateAudit(context.Background(), repository.AuditQuery{
		OrganizationID: "org-1",
		Start:          time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "audit-logs-*", searcher.index)
	assert.EqualValues(t, 3, agg.Total)
	assert.Len(t, agg.Severities, 2)
	assert.NotNil(t, agg.Users)
	assert.Empty(t, agg.Users)
	assert.Contains(t, searcher.query, "bool")
}
