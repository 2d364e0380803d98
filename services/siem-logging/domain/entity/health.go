package entity

import "time"

// HealthState summarises HealthStatus
type HealthState string

const (
	HealthStateHealthy  HealthState = "healthy"
	HealthStateDegraded HealthState = "degraded"
)

// HealthStatus is returned by the health check
type HealthStatus struct {
	Status          HealthState `json:"status"`
	Timestamp       time.Time   `json:"timestamp"`
	LocalSink       bool        `json:"localSink"`
	Elasticsearch   bool        `json:"elasticsearch"`
	RetentionDays   int         `json:"retentionDays"`
	CorrelationKeys int         `json:"correlationKeys"`
	DiskUsageBytes  int64       `json:"diskUsageBytes"`
	LastRotation    *time.Time  `json:"lastRotation,omitempty"`
	Warnings        []string    `json:"warnings,omitempty"`
}
