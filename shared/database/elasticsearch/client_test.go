package elasticsearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCluster struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string][]byte
}

func (f *fakeCluster) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.bodies[r.Method+" "+r.URL.Path] = body
		f.mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/":
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/_search"):
			_, _ = io.WriteString(w, `{
				"hits": {"total": {"value": 7, "relation": "eq"}},
				"aggregations": {
					"categories": {"buckets": [{"key": "authentication", "doc_count": 5}, {"key": "data_access", "doc_count": 2}]},
					"severities": {"buckets": [{"key": "HIGH", "doc_count": 7}]}
				}
			}`)
		case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/_doc/"):
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"result":"created"}`)
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/_index_template/"):
			_, _ = io.WriteString(w, `{"acknowledged":true}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"not found"}`)
		}
	})
}

func newFakeClient(t *testing.T) (*Client, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{bodies: make(map[string][]byte)}
	srv := httptest.NewServer(cluster.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Addresses = []string{srv.URL}
	client, err := NewClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client, cluster
}

func TestNewClient_RequiresAddress(t *testing.T) {
	_, err := NewClient(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestClient_Ping(t *testing.T) {
	client, _ := newFakeClient(t)
	assert.NoError(t, client.Ping(context.Background()))

	require.NoError(t, client.Close())
	assert.Error(t, client.Ping(context.Background()))
}

func TestClient_PingUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addresses = []string{"http://127.0.0.1:1"}
	client, err := NewClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, client.Ping(ctx))
}

func TestClient_IndexDocument(t *testing.T) {
	client, cluster := newFakeClient(t)

	index := client.Config().GetIndexName(TemplateSecurityEvents, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "security-events-2026.10.18", index)

	err := client.IndexDocument(context.Background(), index, "evt-1", map[string]interface{}{"action": "LOGIN"})
	require.NoError(t, err)

	body := cluster.bodies["PUT /security-events-2026.10.18/_doc/evt-1"]
	require.NotEmpty(t, body)
	assert.JSONEq(t, `{"action":"LOGIN"}`, string(body))

	err = client.IndexDocument(context.Background(), "", "", map[string]interface{}{})
	assert.Error(t, err)
}

func TestClient_AggregateTerms(t *testing.T) {
	client, cluster := newFakeClient(t)

	res, err := client.AggregateTerms(context.Background(), "audit-logs-*",
		map[string]interface{}{"match_all": map[string]interface{}{}},
		map[string]string{"categories": "category", "severities": "severity", "users": "userId"}, 50)
	require.NoError(t, err)

	assert.EqualValues(t, 7, res.Total)
	assert.Equal(t, []TermBucket{{Key: "authentication", DocCount: 5}, {Key: "data_access", DocCount: 2}}, res.Buckets["categories"])
	assert.Equal(t, []TermBucket{{Key: "HIGH", DocCount: 7}}, res.Buckets["severities"])
	assert.Empty(t, res.Buckets["users"])

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(cluster.bodies["POST /audit-logs-*/_search"], &sent))
	assert.EqualValues(t, 0, sent["size"])
	assert.Contains(t, sent["aggs"], "users")
}

func TestTemplateManager_EnsureTemplates(t *testing.T) {
	client, cluster := newFakeClient(t)
	tm := NewTemplateManager(client, zaptest.NewLogger(t))

	require.NoError(t, tm.EnsureTemplates(context.Background()))

	for _, name := range []string{TemplateSecurityEvents, TemplateAuditLogs, TemplateSystemLogs, TemplateAlerts} {
		assert.Contains(t, cluster.bodies, "PUT /_index_template/"+name)
	}
}
