// Package compiler talks to the external source-to-wasm compiler service.
// The compiler itself is a black box to this runtime: code and a language
// go in, a wasm binary (or a rejection) comes out.
package compiler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Artifact is the compiler output for one request. It is owned solely by
// the request that produced it and discarded after dispatch.
type Artifact struct {
	Bytes       []byte
	SizeBytes   int64
	CompileTime time.Duration
}

// Compiler translates source text in a given language into a wasm binary.
type Compiler interface {
	Compile(ctx context.Context, code, language string) (*Artifact, error)
}

// Func adapts a plain function to the Compiler interface.
type Func func(ctx context.Context, code, language string) (*Artifact, error)

func (f Func) Compile(ctx context.Context, code, language string) (*Artifact, error) {
	return f(ctx, code, language)
}

// CompileError is a compiler rejection: the source could not be translated.
// It is terminal for the request and never retried by the runtime.
type CompileError struct {
	Language string
	Message  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling %s: %s", e.Language, e.Message)
}

// HTTPCompiler is a Compiler backed by the compile service's HTTP API.
type HTTPCompiler struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPCompiler creates a compiler client for the given base URL.
func NewHTTPCompiler(baseURL, apiKey string, timeout time.Duration) *HTTPCompiler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCompiler{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type compileRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type compileResponse struct {
	Wasm        string `json:"wasm"` // base64 encoded wasm binary
	SizeBytes   int64  `json:"size_bytes"`
	CompileTime int64  `json:"compile_time"` // milliseconds
	Error       string `json:"error,omitempty"`
}

// Compile sends the source to the compile service. A service-reported
// rejection comes back as *CompileError; transport failures are plain errors.
func (c *HTTPCompiler) Compile(ctx context.Context, code, language string) (*Artifact, error) {
	body, err := json.Marshal(compileRequest{Code: code, Language: language})
	if err != nil {
		return nil, fmt.Errorf("encoding compile request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compile", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building compile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compile request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("reading compile response: %w", err)
	}

	var cr compileResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decoding compile response (status %d): %w", resp.StatusCode, err)
	}

	if cr.Error != "" {
		return nil, &CompileError{Language: language, Message: cr.Error}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &CompileError{
			Language: language,
			Message:  fmt.Sprintf("compile service returned status %d", resp.StatusCode),
		}
	}

	wasm, err := base64.StdEncoding.DecodeString(cr.Wasm)
	if err != nil {
		return nil, fmt.Errorf("decoding wasm payload: %w", err)
	}
	if len(wasm) == 0 {
		return nil, &CompileError{Language: language, Message: "compile service returned an empty module"}
	}

	size := cr.SizeBytes
	if size == 0 {
		size = int64(len(wasm))
	}

	return &Artifact{
		Bytes:       wasm,
		SizeBytes:   size,
		CompileTime: time.Duration(cr.CompileTime) * time.Millisecond,
	}, nil
}
