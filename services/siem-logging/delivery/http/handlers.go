package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/isectech/security-logging/pkg/health"
	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/common"
)

// LoggingUsecase is the ingestion and reporting surface
type LoggingUsecase interface {
	LogSecurityEvent(ctx context.Context, in entity.EventInput) (*entity.SecurityEvent, error)
	LogAuditEvent(ctx context.Context, in entity.EventInput) (*entity.SecurityEvent, error)
	GenerateComplianceReport(ctx context.Context, orgID string, start, end time.Time) (*entity.ComplianceReport, error)
	HealthCheck(ctx context.Context) *entity.HealthStatus
}

// AlertUsecase is the alert registry surface
type AlertUsecase interface {
	ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]*entity.SIEMAlert, error)
	GetAlert(ctx context.Context, alertID string) (*entity.SIEMAlert, error)
	AcknowledgeAlert(ctx context.Context, alertID, actor string) (*entity.SIEMAlert, error)
	AssignAlert(ctx context.Context, alertID, assignee string) (*entity.SIEMAlert, error)
}

// Handlers contains the security logging HTTP handlers
type Handlers struct {
	logging LoggingUsecase
	alerts  AlertUsecase
	probes  *health.Manager
}

// NewHandlers creates the handler set
func NewHandlers(logging LoggingUsecase, alerts AlertUsecase, probes *health.Manager) *Handlers {
	return &Handlers{logging: logging, alerts: alerts, probes: probes}
}

// LogSecurityEvent handles POST /security/events
func (h *Handlers) LogSecurityEvent(c *gin.Context) {
	h.ingest(c, h.logging.LogSecurityEvent)
}

// LogAuditEvent handles POST /security/audit
func (h *Handlers) LogAuditEvent(c *gin.Context) {
	h.ingest(c, h.logging.LogAuditEvent)
}

func (h *Handlers) ingest(c *gin.Context, log func(context.Context, entity.EventInput) (*entity.SecurityEvent, error)) {
	var in entity.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid event payload",
			Code:    string(common.ErrCodeValidationFailed),
			Details: err.Error(),
		})
		return
	}

	if in.IPAddress == "" {
		in.IPAddress = c.ClientIP()
	}
	if in.UserAgent == "" {
		in.UserAgent = c.Request.UserAgent()
	}

	ev, err := log(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, EventAccepted{EventID: ev.EventID, Timestamp: ev.Timestamp})
}

// ComplianceReport handles GET /security/compliance/report
func (h *Handlers) ComplianceReport(c *gin.Context) {
	start, err := parseDate(c.Query("startDate"), false)
	if err != nil {
		respondError(c, common.ErrValidationFailed("startDate: "+err.Error()))
		return
	}
	end, err := parseDate(c.Query("endDate"), true)
	if err != nil {
		respondError(c, common.ErrValidationFailed("endDate: "+err.Error()))
		return
	}

	report, err := h.logging.GenerateComplianceReport(c.Request.Context(), c.Query("organizationId"), start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Health handles GET /security/health
func (h *Handlers) Health(c *gin.Context) {
	status := h.logging.HealthCheck(c.Request.Context())

	// a degraded but writable service still answers 200; the body carries
	// the status
	code := http.StatusOK
	if !status.LocalSink {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// ListAlerts handles GET /security/alerts
func (h *Handlers) ListAlerts(c *gin.Context) {
	filter := repository.AlertFilter{Severity: entity.Severity(c.Query("severity"))}

	if v := c.Query("acknowledged"); v != "" {
		acked, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, common.ErrValidationFailed("acknowledged must be true or false"))
			return
		}
		filter.Acknowledged = &acked
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			respondError(c, common.ErrValidationFailed("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.alerts.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: alerts})
}

// GetAlert handles GET /security/alerts/:id
func (h *Handlers) GetAlert(c *gin.Context) {
	alert, err := h.alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// AcknowledgeAlert handles POST /security/alerts/:id/acknowledge
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	var req AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, common.ErrValidationFailed(err.Error()))
		return
	}

	alert, err := h.alerts.AcknowledgeAlert(c.Request.Context(), c.Param("id"), req.AcknowledgedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// AssignAlert handles POST /security/alerts/:id/assign
func (h *Handlers) AssignAlert(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, common.ErrValidationFailed(err.Error()))
		return
	}

	alert, err := h.alerts.AssignAlert(c.Request.Context(), c.Param("id"), req.AssignedTo)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// Liveness handles GET /health/live
func (h *Handlers) Liveness(c *gin.Context) {
	h.probe(c, health.CheckTypeLiveness)
}

// Readiness handles GET /health/ready
func (h *Handlers) Readiness(c *gin.Context) {
	h.probe(c, health.CheckTypeReadiness)
}

func (h *Handlers) probe(c *gin.Context, checkType health.CheckType) {
	report := h.probes.Run(c.Request.Context(), checkType)

	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// respondError maps an AppError to its status code. Anything else is an
// internal error and its message is not exposed.
func respondError(c *gin.Context, err error) {
	appErr := common.GetAppError(err)
	if appErr == nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_server_error",
			Message: "An unexpected error occurred",
			Code:    string(common.ErrCodeInternal),
		})
		return
	}

	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: appErr.Message,
		Code:    string(appErr.Code),
		Details: appErr.Details,
	})
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain end date
// covers the whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
