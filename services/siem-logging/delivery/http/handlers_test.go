package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isectech/security-logging/pkg/health"
	"github.com/isectech/security-logging/pkg/metrics"
	"github.com/isectech/security-logging/services/siem-logging/config"
	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/common"
)

type fakeLogging struct {
	lastInput  entity.EventInput
	lastStream string
	ingestErr  error

	reportOrg   string
	reportStart time.Time
	reportEnd   time.Time
	reportErr   error
	health      *entity.HealthStatus
}

func (f *fakeLogging) record(stream string, in entity.EventInput) (*entity.SecurityEvent, error) {
	f.lastStream = stream
	f.lastInput = in
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return entity.BuildSecurityEvent(in, time.Now(), 2555), nil
}

func (f *fakeLogging) LogSecurityEvent(_ context.Context, in entity.EventInput) (*entity.SecurityEvent, error) {
	return f.record("security", in)
}

func (f *fakeLogging) LogAuditEvent(_ context.Context, in entity.EventInput) (*entity.SecurityEvent, error) {
	return f.record("audit", in)
}

func (f *fakeLogging) GenerateComplianceReport(_ context.Context, orgID string, start, end time.Time) (*entity.ComplianceReport, error) {
	f.reportOrg, f.reportStart, f.reportEnd = orgID, start, end
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return entity.NewEmptyReport(orgID, start, end, time.Now(), "external index not configured"), nil
}

func (f *fakeLogging) HealthCheck(context.Context) *entity.HealthStatus {
	return f.health
}

type fakeAlerts struct {
	filter repository.AlertFilter
	actor  string
	err    error
}

func (f *fakeAlerts) ListAlerts(_ context.Context, filter repository.AlertFilter) ([]*entity.SIEMAlert, error) {
	f.filter = filter
	return []*entity.SIEMAlert{}, f.err
}

func (f *fakeAlerts) GetAlert(_ context.Context, id string) (*entity.SIEMAlert, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &entity.SIEMAlert{AlertID: id}, nil
}

func (f *fakeAlerts) AcknowledgeAlert(_ context.Context, id, actor string) (*entity.SIEMAlert, error) {
	f.actor = actor
	if f.err != nil {
		return nil, f.err
	}
	return &entity.SIEMAlert{AlertID: id, Acknowledged: true, AcknowledgedBy: actor}, nil
}

func (f *fakeAlerts) AssignAlert(_ context.Context, id, assignee string) (*entity.SIEMAlert, error) {
	f.actor = assignee
	return &entity.SIEMAlert{AlertID: id, AssignedTo: assignee}, f.err
}

type fixture struct {
	logging *fakeLogging
	alerts  *fakeAlerts
	server  *HTTPServer
}

func newFixture(t *testing.T, cfg config.ServerConfig) *fixture {
	t.Helper()
	f := &fixture{
		logging: &fakeLogging{health: &entity.HealthStatus{Status: entity.HealthStateHealthy, LocalSink: true}},
		alerts:  &fakeAlerts{},
	}
	probes := health.NewManager("siem-logging", nil)
	require.NoError(t, probes.RegisterCheck(health.CheckConfig{Name: "process", Type: health.CheckTypeLiveness},
		func(context.Context) health.CheckResult { return health.CheckResult{Status: health.StatusHealthy} }))

	f.server = NewHTTPServer(cfg, NewHandlers(f.logging, f.alerts, probes), nil, metrics.NewCollector("test"))
	return f
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "siem-test/1.0")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLogSecurityEvent_Created(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec := f.do(http.MethodPost, "/api/v1/security/events", map[string]interface{}{
		"userId":   "alice",
		"category": "authentication",
		"action":   "FAILED_LOGIN",
		"severity": "MEDIUM",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body EventAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.EventID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, "security", f.logging.lastStream)
	assert.Equal(t, "FAILED_LOGIN", f.logging.lastInput.Action)
	assert.Equal(t, "siem-test/1.0", f.logging.lastInput.UserAgent)
	assert.NotEmpty(t, f.logging.lastInput.IPAddress)
}

func TestLogAuditEvent_RoutesToAudit(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	rec := f.do(http.MethodPost, "/api/v1/security/audit", map[string]interface{}{"action": "POLICY_UPDATED"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "audit", f.logging.lastStream)
}

func TestLogSecurityEvent_Errors(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/security/events", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.logging.ingestErr = common.ErrDurability("security", errors.New("disk full"))
	rec = f.do(http.MethodPost, "/api/v1/security/events", map[string]interface{}{"action": "X"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(common.ErrCodeDurability), body.Code)

	f.logging.ingestErr = errors.New("unexpected")
	rec = f.do(http.MethodPost, "/api/v1/security/events", map[string]interface{}{"action": "X"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "unexpected")
}

func TestIngestRateLimit(t *testing.T) {
	f := newFixture(t, config.ServerConfig{IngestRatePerSecond: 0.001, IngestBurst: 1})

	assert.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/security/events", map[string]interface{}{"action": "X"}).Code)
	rec := f.do(http.MethodPost, "/api/v1/security/events", map[string]interface{}{"action": "X"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// reporting is not rate limited
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/security/health", nil).Code)
}

func TestComplianceReport(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec := f.do(http.MethodGet, "/api/v1/security/compliance/report?organizationId=org-1&startDate=2026-10-01&endDate=2026-10-17", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "org-1", f.logging.reportOrg)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), f.logging.reportStart)
	assert.Equal(t, time.Date(2026, 10, 17, 23, 59, 59, 999999999, time.UTC), f.logging.reportEnd)

	var report entity.ComplianceReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "external index not configured", report.Note)

	rec = f.do(http.MethodGet, "/api/v1/security/compliance/report?organizationId=org-1&startDate=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.logging.reportErr = common.ErrValidationFailed("startDate must not be after endDate")
	rec = f.do(http.MethodGet, "/api/v1/security/compliance/report?organizationId=org-1&startDate=2026-10-17&endDate=2026-10-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthStatusCodes(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/security/health", nil).Code)

	f.logging.health = &entity.HealthStatus{Status: entity.HealthStateDegraded, LocalSink: true}
	degraded := f.do(http.MethodGet, "/api/v1/security/health", nil)
	assert.Equal(t, http.StatusOK, degraded.Code)
	assert.Contains(t, degraded.Body.String(), `"status":"degraded"`)

	f.logging.health = &entity.HealthStatus{Status: entity.HealthStateDegraded, LocalSink: false}
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/v1/security/health", nil).Code)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health/live", nil).Code)
}

func TestAlertRoutes(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec := f.do(http.MethodGet, "/api/v1/security/alerts?severity=HIGH&acknowledged=false&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entity.SeverityHigh, f.alerts.filter.Severity)
	require.NotNil(t, f.alerts.filter.Acknowledged)
	assert.False(t, *f.alerts.filter.Acknowledged)
	assert.Equal(t, 10, f.alerts.filter.Limit)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/security/alerts?acknowledged=maybe", nil).Code)

	rec = f.do(http.MethodPost, "/api/v1/security/alerts/a-1/acknowledge", AcknowledgeRequest{AcknowledgedBy: "analyst-7"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "analyst-7", f.alerts.actor)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/security/alerts/a-1/acknowledge", map[string]string{}).Code)

	rec = f.do(http.MethodPost, "/api/v1/security/alerts/a-1/assign", AssignRequest{AssignedTo: "tier2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tier2", f.alerts.actor)

	f.alerts.err = common.ErrNotFound("alert")
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/security/alerts/missing", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	f.do(http.MethodGet, "/api/v1/security/health", nil)

	rec := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_http_requests_total")
}
