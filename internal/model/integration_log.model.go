package model

import "time"

// IntegrationLogEntry is an append-only record of one upstream call.
type IntegrationLogEntry struct {
	ID         int64     `json:"id"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	Action     string    `json:"action"`
	Request    string    `json:"request"`
	Response   string    `json:"response"`
	StatusCode int       `json:"status_code"`
	DurationMs int64     `json:"duration_ms"`
	Attempts   int       `json:"attempts"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
