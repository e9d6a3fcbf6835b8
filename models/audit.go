package models

import "time"

// CallAudit records one outbound API attempt. Append-only; written by the
// fetch layer, read only by monitoring.
type CallAudit struct {
	APIName        string    `ch:"api_name"`
	Endpoint       string    `ch:"endpoint"`
	StatusCode     int32     `ch:"status_code"` // 0 when no response was received
	Success        bool      `ch:"success"`
	ErrorMessage   string    `ch:"error_message"`
	ResponseTimeMs int64     `ch:"response_time_ms"`
	CalledAt       time.Time `ch:"called_at"`
}
