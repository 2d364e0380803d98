package entity

import "time"

// Stream is a logical log stream persisted by the sink
type Stream string

const (
	StreamApplication Stream = "application"
	StreamSecurity    Stream = "security"
	StreamAudit       Stream = "audit"
	StreamAlerts      Stream = "alerts"
)

// AllStreams lists every stream the sink manages
var AllStreams = []Stream{StreamApplication, StreamSecurity, StreamAudit, StreamAlerts}

// Encrypted reports whether sensitive fields are encrypted on this stream
func (s Stream) Encrypted() bool {
	switch s {
	case StreamSecurity, StreamAudit, StreamAlerts:
		return true
	case StreamApplication:
		return false
	}
	return true
}

// IndexTemplate names the external index family a stream mirrors into
func (s Stream) IndexTemplate() string {
	switch s {
	case StreamSecurity:
		return "security-events"
	case StreamAudit:
		return "audit-logs"
	case StreamAlerts:
		return "alerts"
	case StreamApplication:
		return "system-logs"
	}
	return "system-logs"
}

// LogEntry is one line written to the security, audit or alerts stream
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Stream    Stream         `json:"stream"`
	Message   string         `json:"message"`
	Event     *SecurityEvent `json:"event,omitempty"`
	Alert     *SIEMAlert     `json:"alert,omitempty"`
}

// NewEventEntry wraps an event for the given stream
func NewEventEntry(stream Stream, ev *SecurityEvent) *LogEntry {
	return &LogEntry{
		Timestamp: ev.Timestamp,
		Level:     ev.Severity.LogLevel(),
		Stream:    stream,
		Message:   string(ev.Category) + ":" + ev.Action,
		Event:     ev,
	}
}

// NewAlertEntry wraps an alert for the alerts stream
func NewAlertEntry(alert *SIEMAlert) *LogEntry {
	return &LogEntry{
		Timestamp: alert.CreatedAt,
		Level:     alert.Severity.LogLevel(),
		Stream:    StreamAlerts,
		Message:   alert.Title,
		Alert:     alert,
	}
}
