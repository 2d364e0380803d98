package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceSystem identifies this service on every persisted event
const SourceSystem = "isectech-siem-logging"

// UnknownIPAddress is recorded when the caller did not supply a source address
const UnknownIPAddress = "0.0.0.0"

// Severity represents the operational urgency of an event
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// AllSeverities lists severities from most to least urgent
var AllSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank orders severities, higher is more urgent. Unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// LogLevel maps a severity onto the level recorded on the log line
func (s Severity) LogLevel() string {
	switch s {
	case SeverityCritical, SeverityHigh:
		return "error"
	case SeverityMedium:
		return "warn"
	case SeverityLow, SeverityInfo:
		return "info"
	}
	return "info"
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s is as urgent as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity normalises user input, case-insensitively
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Category is the fixed event taxonomy
type Category string

const (
	CategoryAuthentication  Category = "authentication"
	CategoryAuthorization   Category = "authorization"
	CategoryDataAccess      Category = "data_access"
	CategorySystemChange    Category = "system_change"
	CategoryNetworkActivity Category = "network_activity"
	CategoryFileOperation   Category = "file_operation"
	CategoryCompliance      Category = "compliance"
	CategoryIncident        Category = "incident"
	CategoryVulnerability   Category = "vulnerability"
	CategoryThreatDetection Category = "threat_detection"
)

// AllCategories lists every category
var AllCategories = []Category{
	CategoryAuthentication,
	CategoryAuthorization,
	CategoryDataAccess,
	CategorySystemChange,
	CategoryNetworkActivity,
	CategoryFileOperation,
	CategoryCompliance,
	CategoryIncident,
	CategoryVulnerability,
	CategoryThreatDetection,
}

// Valid reports whether c is part of the taxonomy
func (c Category) Valid() bool {
	switch c {
	case CategoryAuthentication, CategoryAuthorization, CategoryDataAccess,
		CategorySystemChange, CategoryNetworkActivity, CategoryFileOperation,
		CategoryCompliance, CategoryIncident, CategoryVulnerability, CategoryThreatDetection:
		return true
	}
	return false
}

// ParseCategory normalises user input, case-insensitively
func ParseCategory(v string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(v)))
	return c, c.Valid()
}

// Classification is the data-handling label derived from severity
type Classification string

const (
	ClassificationTopSecret    Classification = "TOP_SECRET"
	ClassificationSecret       Classification = "SECRET"
	ClassificationConfidential Classification = "CONFIDENTIAL"
	ClassificationInternal     Classification = "INTERNAL"
)

// ClassificationFor maps a severity onto its classification label
func ClassificationFor(s Severity) Classification {
	switch s {
	case SeverityCritical:
		return ClassificationTopSecret
	case SeverityHigh:
		return ClassificationSecret
	case SeverityMedium:
		return ClassificationConfidential
	case SeverityLow, SeverityInfo:
		return ClassificationInternal
	}
	return ClassificationInternal
}

// Compliance is the derived retention and handling block
type Compliance struct {
	Retention      int            `json:"retention"`
	Classification Classification `json:"classification"`
	Encrypted      bool           `json:"encrypted"`
}

// SecurityEvent is the atomic unit of record. It is never edited after it
// has been written; corrections are logged as new events.
type SecurityEvent struct {
	Timestamp      time.Time              `json:"timestamp"`
	EventID        string                 `json:"eventId"`
	UserID         string                 `json:"userId,omitempty"`
	SessionID      string                 `json:"sessionId,omitempty"`
	OrganizationID string                 `json:"organizationId,omitempty"`
	Category       Category               `json:"category"`
	Action         string                 `json:"action"`
	Resource       string                 `json:"resource,omitempty"`
	ResourceID     string                 `json:"resourceId,omitempty"`
	Severity       Severity               `json:"severity"`
	IPAddress      string                 `json:"ipAddress"`
	UserAgent      string                 `json:"userAgent,omitempty"`
	Geolocation    string                 `json:"geolocation,omitempty"`
	Details        map[string]interface{} `json:"details"`
	RiskScore      *int                   `json:"riskScore,omitempty"`
	CorrelationID  string                 `json:"correlationId,omitempty"`
	SourceSystem   string                 `json:"sourceSystem"`
	Compliance     Compliance             `json:"compliance"`
}

// EventInput is the partial event accepted at ingestion
type EventInput struct {
	Timestamp      time.Time              `json:"timestamp"`
	UserID         string                 `json:"userId"`
	SessionID      string                 `json:"sessionId"`
	OrganizationID string                 `json:"organizationId"`
	Category       string                 `json:"category"`
	Action         string                 `json:"action"`
	Resource       string                 `json:"resource"`
	ResourceID     string                 `json:"resourceId"`
	Severity       string                 `json:"severity"`
	IPAddress      string                 `json:"ipAddress"`
	UserAgent      string                 `json:"userAgent"`
	Geolocation    string                 `json:"geolocation"`
	Details        map[string]interface{} `json:"details"`
	RiskScore      *int                   `json:"riskScore"`
	CorrelationID  string                 `json:"correlationId"`
}

// BuildSecurityEvent fills defaults and derives the compliance block. Unknown
// categories and severities fall back to the defaults rather than failing.
func BuildSecurityEvent(in EventInput, now time.Time, retentionDays int) *SecurityEvent {
	ev := &SecurityEvent{
		Timestamp:      in.Timestamp,
		EventID:        uuid.New().String(),
		UserID:         in.UserID,
		SessionID:      in.SessionID,
		OrganizationID: in.OrganizationID,
		Action:         in.Action,
		Resource:       in.Resource,
		ResourceID:     in.ResourceID,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		Geolocation:    in.Geolocation,
		CorrelationID:  in.CorrelationID,
		SourceSystem:   SourceSystem,
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	ev.Timestamp = ev.Timestamp.UTC()

	category, ok := ParseCategory(in.Category)
	if !ok {
		category = CategorySystemChange
	}
	ev.Category = category

	severity, ok := ParseSeverity(in.Severity)
	if !ok {
		severity = SeverityInfo
	}
	ev.Severity = severity

	if ev.IPAddress == "" {
		ev.IPAddress = UnknownIPAddress
	}

	ev.Details = make(map[string]interface{}, len(in.Details))
	for k, v := range in.Details {
		ev.Details[k] = v
	}

	if in.RiskScore != nil {
		score := clampScore(*in.RiskScore)
		ev.RiskScore = &score
	}

	ev.Compliance = Compliance{
		Retention:      retentionDays,
		Classification: ClassificationFor(severity),
		Encrypted:      true,
	}

	return ev
}

// Subject returns the identifier used for correlation, the user when known
// and the source address otherwise
func (e *SecurityEvent) Subject() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.IPAddress
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
