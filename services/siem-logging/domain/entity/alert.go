package entity

import (
	"time"

	"github.com/google/uuid"
)

// SIEMAlert is raised by a correlation rule. Only Acknowledged and
// AssignedTo change after creation.
type SIEMAlert struct {
	AlertID            string           `json:"alertId" msgpack:"alertId"`
	RuleID             string           `json:"ruleId" msgpack:"ruleId"`
	Title              string           `json:"title" msgpack:"title"`
	Description        string           `json:"description" msgpack:"description"`
	Severity           Severity         `json:"severity" msgpack:"severity"`
	Category           Category         `json:"category" msgpack:"category"`
	Subject            string           `json:"subject" msgpack:"subject"`
	Events             []*SecurityEvent `json:"events" msgpack:"events"`
	RiskScore          int              `json:"riskScore" msgpack:"riskScore"`
	RecommendedActions []string         `json:"recommendedActions" msgpack:"recommendedActions"`
	CreatedAt          time.Time        `json:"createdAt" msgpack:"createdAt"`
	Acknowledged       bool             `json:"acknowledged" msgpack:"acknowledged"`
	AcknowledgedBy     string           `json:"acknowledgedBy,omitempty" msgpack:"acknowledgedBy,omitempty"`
	AcknowledgedAt     *time.Time       `json:"acknowledgedAt,omitempty" msgpack:"acknowledgedAt,omitempty"`
	AssignedTo         string           `json:"assignedTo,omitempty" msgpack:"assignedTo,omitempty"`
}

// NewSIEMAlert creates an unacknowledged alert with a fresh identifier
func NewSIEMAlert(ruleID, title, description string, severity Severity, category Category, subject string,
	evidence []*SecurityEvent, riskScore int, actions []string, now time.Time) *SIEMAlert {
	return &SIEMAlert{
		AlertID:            uuid.New().String(),
		RuleID:             ruleID,
		Title:              title,
		Description:        description,
		Severity:           severity,
		Category:           category,
		Subject:            subject,
		Events:             evidence,
		RiskScore:          clampScore(riskScore),
		RecommendedActions: append([]string(nil), actions...),
		CreatedAt:          now.UTC(),
	}
}

// RequiresNotification reports whether a human should be paged
func (a *SIEMAlert) RequiresNotification() bool {
	return a.Severity.AtLeast(SeverityHigh)
}
