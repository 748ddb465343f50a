package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"wasm-sandbox/internal/monitor"
	"wasm-sandbox/internal/runtime"
)

// Executor is the controller capability the handlers need.
type Executor interface {
	Execute(ctx context.Context, req runtime.Request) *runtime.Outcome
	Languages() []string
	Healthy(ctx context.Context) bool
}

type Handlers struct {
	executor Executor
	metrics  *monitor.Metrics
}

func NewHandlers(executor Executor, metrics *monitor.Metrics) *Handlers {
	return &Handlers{
		executor: executor,
		metrics:  metrics,
	}
}

// HandleExecute accepts a snippet and returns the normalized execution
// outcome. Once a request is accepted, the response is always 200 with
// the outcome's success flag carrying the verdict; an empty code field is
// valid input (the compiler may still reject it).
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if req.Language == "" {
		writeError(w, "language is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	var input any
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &input); err != nil {
			writeError(w, "input must be valid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
	}

	execReq := runtime.Request{
		Code:     req.Code,
		Language: req.Language,
		Input:    input,
		Timeout:  time.Duration(req.TimeoutMS) * time.Millisecond,
	}

	outcome := h.executor.Execute(r.Context(), execReq)

	if !outcome.Success {
		log.Info().
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("language", req.Language).
			Str("code", outcome.Error.Code).
			Msg("execution failed")
	}

	writeJSON(w, http.StatusOK, outcome)
}

// HandleLanguages lists the supported source languages.
func (h *Handlers) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LanguagesResponse{Languages: h.executor.Languages()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
