package eventindex

import (
	"context"
	"time"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/database/elasticsearch"
)

const bucketLimit = 100

// Searcher is the subset of the Elasticsearch client used for reporting
type Searcher interface {
	Ping(ctx context.Context) error
	AggregateTerms(ctx context.Context, index string, query map[string]interface{}, fields map[string]string, size int) (*elasticsearch.AggregationResult, error)
}

// ReportIndex answers compliance aggregations from the audit-logs indices
type ReportIndex struct {
	searcher Searcher
	pattern  string
}

// NewReportIndex creates a report index reading indexPattern
func NewReportIndex(searcher Searcher, indexPattern string) *ReportIndex {
	return &ReportIndex{searcher: searcher, pattern: indexPattern}
}

var _ repository.EventIndex = (*ReportIndex)(nil)

// Ping checks index reachability
func (r *ReportIndex) Ping(ctx context.Context) error {
	return r.searcher.Ping(ctx)
}

// AggregateAudit counts audit events of one organization inside the range
func (r *ReportIndex) AggregateAudit(ctx context.Context, q repository.AuditQuery) (*repository.AuditAggregation, error) {
	query := map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []interface{}{
				map[string]interface{}{
					"term": map[string]interface{}{"organizationId": q.OrganizationID},
				},
				map[string]interface{}{
					"range": map[string]interface{}{
						"@timestamp": map[string]interface{}{
							"gte": q.Start.UTC().Format(time.RFC3339Nano),
							"lte": q.End.UTC().Format(time.RFC3339Nano),
						},
					},
				},
			},
		},
	}

	res, err := r.searcher.AggregateTerms(ctx, r.pattern, query, map[string]string{
		"categories": "category",
		"severities": "severity",
		"users":      "userId",
	}, bucketLimit)
	if err != nil {
		return nil, err
	}

	return &repository.AuditAggregation{
		Total:      res.Total,
		Categories: toBuckets(res.Buckets["categories"]),
		Severities: toBuckets(res.Buckets["severities"]),
		Users:      toBuckets(res.Buckets["users"]),
	}, nil
}

func toBuckets(in []elasticsearch.TermBucket) []entity.Bucket {
	out := make([]entity.Bucket, 0, len(in))
	for _, b := range in {
		out = append(out, entity.Bucket{Key: b.Key, Count: b.DocCount})
	}
	return out
}
