package entity

import "time"

// ReportPeriod echoes the requested range
type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Bucket is one (key, count) pair of a breakdown
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// ComplianceReport aggregates audit events for an organization
type ComplianceReport struct {
	OrganizationID string       `json:"organizationId"`
	Period         ReportPeriod `json:"period"`
	GeneratedAt    time.Time    `json:"generatedAt"`
	TotalEvents    int64        `json:"totalEvents"`
	Categories     []Bucket     `json:"categories"`
	Severities     []Bucket     `json:"severities"`
	Users          []Bucket     `json:"users"`
	Note           string       `json:"note,omitempty"`
}

// NewEmptyReport returns a zero-valued report carrying an explanatory note
func NewEmptyReport(orgID string, start, end, now time.Time, note string) *ComplianceReport {
	return &ComplianceReport{
		OrganizationID: orgID,
		Period:         ReportPeriod{Start: start, End: end},
		GeneratedAt:    now,
		Categories:     []Bucket{},
		Severities:     []Bucket{},
		Users:          []Bucket{},
		Note:           note,
	}
}
