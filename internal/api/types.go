package api

import "encoding/json"

// ExecuteRequest is the API-level request to run code in the sandbox.
type ExecuteRequest struct {
	Code      string          `json:"code"`
	Language  string          `json:"language"` // javascript, typescript, python, rust, go
	Input     json.RawMessage `json:"input,omitempty"`
	TimeoutMS int64           `json:"timeout_ms,omitempty"`
}

// ErrorResponse is returned for API-level errors (bad requests, auth).
// Execution-level failures come back inside the normalized outcome.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend bool   `json:"backend"`
	Uptime  string `json:"uptime"`
}

// LanguagesResponse lists the supported source languages.
type LanguagesResponse struct {
	Languages []string `json:"languages"`
}
