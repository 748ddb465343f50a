package runtime

import "time"

// Canonical outcome error codes. These are part of the caller contract
// and must stay stable across backends.
const (
	CodeNotAvailable     = "NOT_AVAILABLE"
	CodeCompilationError = "COMPILATION_ERROR"
	CodeExecutionError   = "EXECUTION_ERROR"
	CodeTimeout          = "TIMEOUT"
)

// Request describes one sandboxed run.
type Request struct {
	Code     string
	Language string
	Input    any           // opaque, JSON-serializable
	Timeout  time.Duration // zero means the configured default
}

// Outcome is the normalized result of a request, returned regardless of
// which phase or backend produced it. Success implies Error is nil;
// failure implies Error is present with a non-empty code.
type Outcome struct {
	Success  bool          `json:"success"`
	Output   any           `json:"output,omitempty"`
	Error    *OutcomeError `json:"error,omitempty"`
	Metadata Metadata      `json:"metadata"`
}

// OutcomeError describes why a request failed.
type OutcomeError struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// Metadata carries measured execution facts. ExecutionTimeMS is always
// the controller's own wall clock, so it is populated even when the
// backend failed before reporting anything.
type Metadata struct {
	ExecutionTimeMS int64 `json:"execution_time_ms"`
	MemoryUsedBytes int64 `json:"memory_used_bytes,omitempty"`
	CompileTimeMS   int64 `json:"compile_time_ms,omitempty"`
	WasmSizeBytes   int64 `json:"wasm_size_bytes,omitempty"`
}
