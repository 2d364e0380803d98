package repository

import (
	"context"
	"time"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
)

// LogSink is the durable local store. Append returns only after the record
// is written; a non-nil error means the record is not persisted.
type LogSink interface {
	Append(ctx context.Context, stream entity.Stream, record interface{}, onCommit func()) error
	Status() SinkStatus
}

// SinkStatus describes the local sink for the health check
type SinkStatus struct {
	Operative      bool
	DiskUsageBytes int64
	LastRotation   *time.Time
}

// EventMirror copies documents into the external index. It is best effort:
// it never returns an error and never blocks on the network.
type EventMirror interface {
	Mirror(template, id string, timestamp time.Time, doc interface{})
}

// EventIndex is the queryable side of the external index
type EventIndex interface {
	Ping(ctx context.Context) error
	AggregateAudit(ctx context.Context, query AuditQuery) (*AuditAggregation, error)
}

// AuditQuery selects audit events for a compliance report
type AuditQuery struct {
	OrganizationID string
	Start          time.Time
	End            time.Time
}

// AuditAggregation is the raw aggregation behind a compliance report
type AuditAggregation struct {
	Total      int64
	Categories []entity.Bucket
	Severities []entity.Bucket
	Users      []entity.Bucket
}

// CorrelationQuery selects recent events from the correlation store.
// Empty Action or Subject match any value. A zero Now uses the store clock.
type CorrelationQuery struct {
	Category entity.Category
	Action   string
	Subject  string
	Window   time.Duration
	Now      time.Time
}

// CorrelationStore is the in-memory sliding-window index
type CorrelationStore interface {
	Append(ev *entity.SecurityEvent)
	Query(q CorrelationQuery) []*entity.SecurityEvent
	KeyCount() int
}

// AlertFilter narrows alert listings
type AlertFilter struct {
	Severity     entity.Severity
	Acknowledged *bool
	Limit        int
}

// AlertRepository keeps alerts for acknowledgement and assignment
type AlertRepository interface {
	Save(ctx context.Context, alert *entity.SIEMAlert) error
	Get(ctx context.Context, alertID string) (*entity.SIEMAlert, error)
	List(ctx context.Context, filter AlertFilter) ([]*entity.SIEMAlert, error)
	Acknowledge(ctx context.Context, alertID, by string, at time.Time) (*entity.SIEMAlert, error)
	Assign(ctx context.Context, alertID, assignee string) (*entity.SIEMAlert, error)
}

// Notifier pages a human for HIGH and CRITICAL alerts
type Notifier interface {
	Notify(ctx context.Context, alert *entity.SIEMAlert) error
}
