package sandbox

import (
	"context"
	"time"
)

// DispatchRequest carries one compiled module into a backend.
type DispatchRequest struct {
	Wasm         []byte
	Input        any    // opaque, JSON-serializable
	FunctionName string // exported function to run; empty means "main"
	Limits       Limits
	Timeout      time.Duration // wall-clock bound the backend should enforce
}

// Limits are the best-effort resource bounds passed to a backend. The
// remote service enforces the memory limit itself; the local runner uses
// it as an output buffer cap.
type Limits struct {
	MemoryBytes int64
}

// DispatchResult is what a backend reports for one run. It is backend
// shaped; the controller folds it into the normalized outcome.
type DispatchResult struct {
	Success       bool
	Output        any
	Error         string
	Stderr        string
	ExecutionTime time.Duration
	MemoryUsed    int64
}

// Backend is one of the interchangeable execution strategies. Selection
// happens once at startup; callers never see which variant is active.
type Backend interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
	HealthCheck(ctx context.Context) bool
	Close() error
}
