package http

import "time"

// ErrorResponse represents an error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a generic success body
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// EventAccepted is returned once an event is durably written
type EventAccepted struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

// AcknowledgeRequest acknowledges an alert
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy" binding:"required"`
}

// AssignRequest assigns an alert to an analyst
type AssignRequest struct {
	AssignedTo string `json:"assignedTo" binding:"required"`
}
