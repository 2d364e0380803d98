package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/isectech/security-logging/pkg/logging"
	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/common"
)

const maxAlertPage = 500

// AlertService exposes the alert registry. Acknowledgement and assignment
// are the only changes an alert accepts after creation.
type AlertService struct {
	registry repository.AlertRepository
	logger   *logging.Logger
	now      func() time.Time
}

// NewAlertService creates an AlertService
func NewAlertService(registry repository.AlertRepository, logger *logging.Logger, now func() time.Time) *AlertService {
	if logger == nil {
		logger = logging.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &AlertService{
		registry: registry,
		logger:   logger.WithComponent("alert-service"),
		now:      now,
	}
}

// ListAlerts returns alerts newest first
func (s *AlertService) ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]*entity.SIEMAlert, error) {
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, common.ErrValidationFailed("unknown severity " + string(filter.Severity))
	}
	if filter.Limit <= 0 || filter.Limit > maxAlertPage {
		filter.Limit = maxAlertPage
	}
	return s.registry.List(ctx, filter)
}

// GetAlert returns a single alert
func (s *AlertService) GetAlert(ctx context.Context, alertID string) (*entity.SIEMAlert, error) {
	if strings.TrimSpace(alertID) == "" {
		return nil, common.ErrValidationFailed("alert id is required")
	}
	return s.registry.Get(ctx, alertID)
}

// AcknowledgeAlert marks the alert acknowledged by actor
func (s *AlertService) AcknowledgeAlert(ctx context.Context, alertID, actor string) (*entity.SIEMAlert, error) {
	if strings.TrimSpace(alertID) == "" || strings.TrimSpace(actor) == "" {
		return nil, common.ErrValidationFailed("alert id and acknowledgedBy are required")
	}

	alert, err := s.registry.Acknowledge(ctx, alertID, actor, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.LogAudit(actor, "ALERT_ACKNOWLEDGED", alertID, true,
		logging.String("rule_id", alert.RuleID),
		logging.String("severity", string(alert.Severity)))
	return alert, nil
}

// AssignAlert sets the analyst responsible for the alert
func (s *AlertService) AssignAlert(ctx context.Context, alertID, assignee string) (*entity.SIEMAlert, error) {
	if strings.TrimSpace(alertID) == "" || strings.TrimSpace(assignee) == "" {
		return nil, common.ErrValidationFailed("alert id and assignee are required")
	}

	alert, err := s.registry.Assign(ctx, alertID, assignee)
	if err != nil {
		return nil, err
	}

	s.logger.LogAudit(assignee, "ALERT_ASSIGNED", alertID, true,
		logging.String("rule_id", alert.RuleID))
	return alert, nil
}
