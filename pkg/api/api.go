// Package api contains shared JSON request/response structs used by the
// HTTP server and its clients.
package api

import "time"

// RunResponse represents a run in API responses.
type RunResponse struct {
	UUID     string     `json:"uuid"`
	Task     string     `json:"task"`
	Status   string     `json:"status"`
	Start    time.Time  `json:"start"`
	End      *time.Time `json:"end,omitempty"`
	ExitCode *int       `json:"exit_code,omitempty"`
}

// RunListResponse is the response body for run queries.
type RunListResponse struct {
	Runs []RunResponse `json:"runs"`
}

// StartRunResponse is the response body after launching a task.
type StartRunResponse struct {
	RunID string `json:"run_id"`
}

// LogsResponse is the response body for log queries.
type LogsResponse struct {
	RunID string `json:"run_id"`
	Logs  string `json:"logs"`
}

// CleanupResponse reports how many orphaned resources were removed.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
