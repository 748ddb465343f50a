package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RemoteRunner dispatches modules to the external wasm execution service
// over HTTP. It is stateless per call and touches no local filesystem.
type RemoteRunner struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRemoteRunner creates a runner for the service at baseURL.
func NewRemoteRunner(baseURL, apiKey string) *RemoteRunner {
	return &RemoteRunner{
		baseURL: baseURL,
		apiKey:  apiKey,
		// Per-dispatch deadlines come from the request context; the client
		// timeout is only a backstop against a wedged connection.
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// remoteExecuteRequest mirrors the execution service's wire contract.
type remoteExecuteRequest struct {
	Wasm         string `json:"wasm"` // base64 encoded wasm binary
	Input        any    `json:"input"`
	FunctionName string `json:"function_name,omitempty"`
	MemoryLimit  int64  `json:"memory_limit,omitempty"`
	Timeout      int64  `json:"timeout,omitempty"` // milliseconds
}

type remoteExecuteResponse struct {
	Success       bool   `json:"success"`
	Output        any    `json:"output"`
	Error         string `json:"error"`
	ExecutionTime int64  `json:"execution_time"` // milliseconds
	MemoryUsed    int64  `json:"memory_used"`
}

func (r *RemoteRunner) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	execID := uuid.New().String()

	payload := remoteExecuteRequest{
		Wasm:         base64.StdEncoding.EncodeToString(req.Wasm),
		Input:        req.Input,
		FunctionName: req.FunctionName,
		MemoryLimit:  req.Limits.MemoryBytes,
		Timeout:      req.Timeout.Milliseconds(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &DispatchError{ExecID: execID, Op: "encode_request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, &DispatchError{ExecID: execID, Op: "build_request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	log.Debug().
		Str("exec_id", execID).
		Int("wasm_bytes", len(req.Wasm)).
		Dur("timeout", req.Timeout).
		Msg("dispatching to remote wasm service")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &DispatchError{ExecID: execID, Op: "http_request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &DispatchError{ExecID: execID, Op: "read_response", Err: err}
	}

	// The service reports failures in the response shape even on 4xx/5xx,
	// so decode first and only treat an undecodable body as a transport
	// level failure.
	var rr remoteExecuteResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, &DispatchError{
			ExecID: execID,
			Op:     "decode_response",
			Err:    fmt.Errorf("status %d: %w", resp.StatusCode, err),
		}
	}

	result := &DispatchResult{
		Success:       rr.Success,
		Output:        rr.Output,
		Error:         rr.Error,
		ExecutionTime: time.Duration(rr.ExecutionTime) * time.Millisecond,
		MemoryUsed:    rr.MemoryUsed,
	}
	if !rr.Success && result.Error == "" {
		result.Error = fmt.Sprintf("execution service returned status %d", resp.StatusCode)
	}
	return result, nil
}

// HealthCheck probes the service's readiness endpoint.
func (r *RemoteRunner) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (r *RemoteRunner) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
