// Package runtime orchestrates sandboxed execution: availability checks,
// compilation handoff, backend dispatch under a timeout race, and
// normalization of every outcome into one shape.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"wasm-sandbox/internal/compiler"
	"wasm-sandbox/internal/config"
	"wasm-sandbox/internal/language"
	"wasm-sandbox/internal/monitor"
	"wasm-sandbox/internal/sandbox"
)

// Controller drives one execution end to end. It is stateless across
// calls; any number of Execute calls may run concurrently sharing only
// the read-only config and the selected backend.
type Controller struct {
	cfg       *config.Config
	comp      compiler.Compiler
	backend   sandbox.Backend // nil means no backend configured
	languages *language.Registry
	tracer    *monitor.Tracer
	metrics   *monitor.Metrics
}

// NewController wires the controller. A nil backend is valid: every
// execution then fails fast as unavailable without touching the compiler.
func NewController(cfg *config.Config, comp compiler.Compiler, backend sandbox.Backend, metrics *monitor.Metrics) *Controller {
	return &Controller{
		cfg:       cfg,
		comp:      comp,
		backend:   backend,
		languages: language.NewRegistry(),
		tracer:    monitor.NewTracer(),
		metrics:   metrics,
	}
}

// Languages returns the canonical names of supported source languages.
func (c *Controller) Languages() []string {
	return c.languages.Names()
}

// Healthy probes the active backend; true with no backend means false.
func (c *Controller) Healthy(ctx context.Context) bool {
	if c.backend == nil {
		return false
	}
	return c.backend.HealthCheck(ctx)
}

// Execute runs one request through availability check, compilation,
// dispatch, and normalization. It never returns an error: every failure
// is folded into the outcome, and exactly one telemetry span is emitted
// per call.
func (c *Controller) Execute(ctx context.Context, req Request) *Outcome {
	start := time.Now()
	effective := c.effectiveTimeout(req.Timeout)

	ctx, span := c.tracer.StartSpan(ctx, "execute",
		monitor.AttrLanguage.String(req.Language),
		monitor.AttrTimeoutMS.Int64(effective.Milliseconds()),
		monitor.AttrCodeBytes.Int(len(req.Code)),
	)
	defer span.End()

	c.metrics.ActiveExecutions.Inc()
	defer c.metrics.ActiveExecutions.Dec()
	c.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))

	outcome := c.execute(ctx, span, req, effective, start)

	span.SetAttributes(
		monitor.AttrSuccess.Bool(outcome.Success),
		monitor.AttrExecutionMS.Int64(outcome.Metadata.ExecutionTimeMS),
	)
	if outcome.Metadata.MemoryUsedBytes > 0 {
		span.SetAttributes(monitor.AttrMemoryBytes.Int64(outcome.Metadata.MemoryUsedBytes))
	}

	status := "success"
	if outcome.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		status = outcome.Error.Code
		span.SetAttributes(monitor.AttrErrorCode.String(outcome.Error.Code))
		span.SetStatus(codes.Error, outcome.Error.Message)
		c.metrics.RecordError(outcome.Error.Code)
	}
	c.metrics.RecordExecution(req.Language, status, time.Since(start).Seconds())

	return outcome
}

func (c *Controller) execute(ctx context.Context, span trace.Span, req Request, effective time.Duration, start time.Time) *Outcome {
	// Availability is a local, non-blocking decision derived from config
	// at startup. No backend means the compiler is never invoked.
	if c.backend == nil || c.comp == nil {
		return failure(CodeNotAvailable, "no execution backend configured", nil, start)
	}

	lang, err := c.languages.Get(req.Language)
	if err != nil {
		return compileFailure(req.Language, err.Error(), start)
	}
	if err := lang.Validate(req.Code); err != nil {
		return compileFailure(lang.Name(), err.Error(), start)
	}

	artifact, err := c.comp.Compile(ctx, req.Code, lang.Name())
	if err != nil {
		span.RecordError(err)
		msg := err.Error()
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			msg = ce.Message
		}
		return compileFailure(lang.Name(), msg, start)
	}

	span.SetAttributes(
		monitor.AttrCompileMS.Int64(artifact.CompileTime.Milliseconds()),
		monitor.AttrWasmBytes.Int64(artifact.SizeBytes),
	)
	c.metrics.CompileDuration.WithLabelValues(lang.Name()).Observe(artifact.CompileTime.Seconds())
	c.metrics.WasmSizeBytes.Observe(float64(artifact.SizeBytes))

	outcome := c.dispatch(ctx, span, sandbox.DispatchRequest{
		Wasm:         artifact.Bytes,
		Input:        req.Input,
		FunctionName: "main",
		Limits:       sandbox.Limits{MemoryBytes: c.cfg.Runtime.MemoryLimitBytes},
		Timeout:      effective,
	}, effective, start)

	outcome.Metadata.CompileTimeMS = artifact.CompileTime.Milliseconds()
	outcome.Metadata.WasmSizeBytes = artifact.SizeBytes
	return outcome
}

// cancelGrace bounds how long a cancelled dispatch may take to observe
// the kill and release its temp artifacts before the timeout outcome is
// returned. It must exceed the local backend's wait delay.
const cancelGrace = 5 * time.Second

// dispatch races the backend call against an independent timer of the
// effective timeout. If the timer wins, the in-flight call is cancelled
// (subprocess killed, HTTP request aborted) and dispatch waits for the
// loser to finish its artifact cleanup before the timeout outcome is
// returned, so no temp files outlive the call.
func (c *Controller) dispatch(ctx context.Context, span trace.Span, dreq sandbox.DispatchRequest, effective time.Duration, start time.Time) *Outcome {
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type dispatched struct {
		result *sandbox.DispatchResult
		err    error
	}
	done := make(chan dispatched, 1)

	go func() {
		result, err := c.backend.Dispatch(dispatchCtx, dreq)
		done <- dispatched{result: result, err: err}
	}()

	timer := time.NewTimer(effective)
	defer timer.Stop()

	select {
	case d := <-done:
		return c.normalize(span, d.result, d.err, effective, start)
	case <-timer.C:
		cancel()
		log.Warn().Dur("timeout", effective).Msg("execution timed out, cancelling dispatch")
		select {
		case <-done:
		case <-time.After(cancelGrace):
			log.Error().Dur("grace", cancelGrace).Msg("cancelled dispatch did not stop in time")
		}
		return failure(CodeTimeout, "execution timed out after "+effective.String(), nil, start)
	}
}

// normalize folds a backend-shaped result or error into the shared
// outcome. The wall clock measured here is authoritative for
// execution_time_ms regardless of what the backend reported.
func (c *Controller) normalize(span trace.Span, result *sandbox.DispatchResult, err error, effective time.Duration, start time.Time) *Outcome {
	if err != nil {
		if sandbox.IsTimeout(err) {
			return failure(CodeTimeout, "execution timed out after "+effective.String(), nil, start)
		}
		span.RecordError(err)
		return failure(CodeExecutionError, err.Error(), nil, start)
	}

	if !result.Success {
		details := map[string]any{
			"execution_time_ms": result.ExecutionTime.Milliseconds(),
		}
		if result.MemoryUsed > 0 {
			details["memory_used_bytes"] = result.MemoryUsed
		}
		if result.Stderr != "" {
			details["stderr"] = result.Stderr
		}
		msg := result.Error
		if msg == "" {
			msg = "execution failed"
		}
		out := failure(CodeExecutionError, msg, details, start)
		out.Metadata.MemoryUsedBytes = result.MemoryUsed
		return out
	}

	if s, ok := result.Output.(string); ok {
		c.metrics.OutputSizeBytes.Observe(float64(len(s)))
	}

	return &Outcome{
		Success: true,
		Output:  result.Output,
		Metadata: Metadata{
			ExecutionTimeMS: time.Since(start).Milliseconds(),
			MemoryUsedBytes: result.MemoryUsed,
		},
	}
}

// effectiveTimeout clamps the requested timeout to the configured bounds,
// falling back to the default when unset.
func (c *Controller) effectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return c.cfg.Runtime.DefaultTimeout.Std()
	}
	if max := c.cfg.Runtime.MaxTimeout.Std(); requested > max {
		return max
	}
	return requested
}

func compileFailure(lang, msg string, start time.Time) *Outcome {
	return failure(CodeCompilationError, msg, map[string]any{
		"language": lang,
		"message":  msg,
	}, start)
}

func failure(code, msg string, details map[string]any, start time.Time) *Outcome {
	return &Outcome{
		Success: false,
		Error: &OutcomeError{
			Message: msg,
			Code:    code,
			Details: details,
		},
		Metadata: Metadata{
			ExecutionTimeMS: time.Since(start).Milliseconds(),
		},
	}
}
