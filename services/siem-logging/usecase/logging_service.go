package usecase

import (
	"context"
	"time"

	"github.com/isectech/security-logging/pkg/logging"
	"github.com/isectech/security-logging/pkg/metrics"
	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/common"
)

const (
	indexPingTimeout = 3 * time.Second
	reportTimeout    = 10 * time.Second
)

// Redactor encrypts sensitive detail fields
type Redactor interface {
	Redact(details map[string]interface{}) (map[string]interface{}, error)
}

// AlertEvaluator runs correlation rules against a committed event
type AlertEvaluator interface {
	Evaluate(ev *entity.SecurityEvent) []*entity.SIEMAlert
}

// AlertDispatcher delivers alerts without blocking on network channels
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert *entity.SIEMAlert)
}

// Dependencies collects the collaborators of LoggingService. Mirror and
// Index are nil when no external index is configured.
type Dependencies struct {
	Sink       repository.LogSink
	Redactor   Redactor
	Store      repository.CorrelationStore
	Engine     AlertEvaluator
	Dispatcher AlertDispatcher
	Mirror     repository.EventMirror
	Index      repository.EventIndex
	Warnings   []common.ConfigurationWarning
	Logger     *logging.Logger
	Metrics    *metrics.Collector
	Now        func() time.Time
}

// LoggingService is the ingestion, reporting and health entry point
type LoggingService struct {
	sink          repository.LogSink
	redactor      Redactor
	store         repository.CorrelationStore
	engine        AlertEvaluator
	dispatcher    AlertDispatcher
	mirror        repository.EventMirror
	index         repository.EventIndex
	warnings      []common.ConfigurationWarning
	retentionDays int
	logger        *logging.Logger
	metrics       *metrics.Collector
	now           func() time.Time
}

// NewLoggingService creates the service. retentionDays is stamped into the
// compliance block of every event.
func NewLoggingService(deps Dependencies, retentionDays int) *LoggingService {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	for _, w := range deps.Warnings {
		deps.Logger.Warn("Configuration warning", logging.String("code", w.Code), logging.String("message", w.Message))
	}

	return &LoggingService{
		sink:          deps.Sink,
		redactor:      deps.Redactor,
		store:         deps.Store,
		engine:        deps.Engine,
		dispatcher:    deps.Dispatcher,
		mirror:        deps.Mirror,
		index:         deps.Index,
		warnings:      deps.Warnings,
		retentionDays: retentionDays,
		logger:        deps.Logger.WithComponent("logging-service"),
		metrics:       deps.Metrics,
		now:           deps.Now,
	}
}

// LogSecurityEvent persists an event to the security stream. A returned
// error means the event was not durably written.
func (s *LoggingService) LogSecurityEvent(ctx context.Context, in entity.EventInput) (*entity.SecurityEvent, error) {
	return s.ingest(ctx, entity.StreamSecurity, in)
}

// LogAuditEvent persists a regulatory audit event to the audit stream
func (s *LoggingService) LogAuditEvent(ctx context.Context, in entity.EventInput) (*entity.SecurityEvent, error) {
	return s.ingest(ctx, entity.StreamAudit, in)
}

func (s *LoggingService) ingest(ctx context.Context, stream entity.Stream, in entity.EventInput) (*entity.SecurityEvent, error) {
	start := s.now()
	logger := s.logger.WithContext(ctx)

	ev := entity.BuildSecurityEvent(in, start, s.retentionDays)

	details, err := s.redactor.Redact(ev.Details)
	if err != nil {
		s.metrics.RecordDurableFailure(string(stream))
		logger.WithError(err).Error("Failed to encrypt sensitive fields",
			logging.String("event_id", ev.EventID),
			logging.String("stream", string(stream)))
		return nil, common.NewAppErrorWithCause(common.ErrCodeEncryptionFailed, "sensitive fields could not be encrypted", err)
	}
	ev.Details = details

	// The store append runs under the stream lock so per-key order matches
	// write order.
	err = s.sink.Append(ctx, stream, entity.NewEventEntry(stream, ev), func() {
		s.store.Append(ev)
	})
	if err != nil {
		s.metrics.RecordDurableFailure(string(stream))
		logger.WithError(err).Error("Failed to persist event",
			logging.String("event_id", ev.EventID),
			logging.String("stream", string(stream)))
		return nil, common.ErrDurability(string(stream), err)
	}

	if s.mirror != nil {
		s.mirror.Mirror(stream.IndexTemplate(), ev.EventID, ev.Timestamp, ev)
	}

	for _, alert := range s.engine.Evaluate(ev) {
		s.dispatcher.Dispatch(ctx, alert)
	}

	s.metrics.RecordIngest(string(stream), string(ev.Category), string(ev.Severity), s.now().Sub(start))
	s.metrics.SetCorrelationKeys(s.store.KeyCount())

	logger.Debug("Event persisted",
		logging.String("event_id", ev.EventID),
		logging.String("stream", string(stream)),
		logging.String("category", string(ev.Category)),
		logging.String("action", ev.Action),
		logging.String("severity", string(ev.Severity)))

	return ev, nil
}

// GenerateComplianceReport aggregates audit events of orgID between start
// and end. Only invalid input fails; an absent or failing index yields an
// empty report with a note.
func (s *LoggingService) GenerateComplianceReport(ctx context.Context, orgID string, start, end time.Time) (*entity.ComplianceReport, error) {
	switch {
	case orgID == "":
		return nil, common.ErrValidationFailed("organizationId is required")
	case start.IsZero() || end.IsZero():
		return nil, common.ErrValidationFailed("startDate and endDate are required")
	case start.After(end):
		return nil, common.ErrValidationFailed("startDate must not be after endDate")
	}

	start, end = start.UTC(), end.UTC()
	now := s.now().UTC()

	if s.index == nil {
		return entity.NewEmptyReport(orgID, start, end, now, "external index not configured"), nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	agg, err := s.index.AggregateAudit(queryCtx, repository.AuditQuery{
		OrganizationID: orgID,
		Start:          start,
		End:            end,
	})
	if err != nil {
		s.metrics.RecordMirrorFailure(entity.StreamAudit.IndexTemplate())
		s.logger.WithContext(ctx).Error("Compliance report query failed",
			logging.String("organization_id", orgID),
			logging.Error(common.ErrMirror(entity.StreamAudit.IndexTemplate(), err)))
		return entity.NewEmptyReport(orgID, start, end, now, "external index unavailable"), nil
	}

	report := entity.NewEmptyReport(orgID, start, end, now, "")
	report.TotalEvents = agg.Total
	report.Categories = nonNil(agg.Categories)
	report.Severities = nonNil(agg.Severities)
	report.Users = nonNil(agg.Users)
	return report, nil
}

// HealthCheck reports component status. It never fails; unreachable
// dependencies show as false and a degraded status.
func (s *LoggingService) HealthCheck(ctx context.Context) *entity.HealthStatus {
	sinkStatus := s.sink.Status()

	indexUp := false
	if s.index != nil {
		pingCtx, cancel := context.WithTimeout(ctx, indexPingTimeout)
		err := s.index.Ping(pingCtx)
		cancel()
		if err != nil {
			s.logger.Warn("External index unreachable", logging.Error(err))
		}
		indexUp = err == nil
	}

	status := &entity.HealthStatus{
		Status:          entity.HealthStateHealthy,
		Timestamp:       s.now().UTC(),
		LocalSink:       sinkStatus.Operative,
		Elasticsearch:   indexUp,
		RetentionDays:   s.retentionDays,
		CorrelationKeys: s.store.KeyCount(),
		DiskUsageBytes:  sinkStatus.DiskUsageBytes,
		LastRotation:    sinkStatus.LastRotation,
	}
	for _, w := range s.warnings {
		status.Warnings = append(status.Warnings, w.String())
	}

	if !sinkStatus.Operative || (s.index != nil && !indexUp) {
		status.Status = entity.HealthStateDegraded
	}
	return status
}

func nonNil(b []entity.Bucket) []entity.Bucket {
	if b == nil {
		return []entity.Bucket{}
	}
	return b
}
