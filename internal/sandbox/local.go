package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	minOutputCap = 64 << 10 // never truncate below 64KB even under tiny memory limits
	maxOutputCap = 8 << 20

	// waitDelay bounds how long Run may block after the runtime process is
	// killed: a child it spawned can keep the stdout pipe open, and without
	// a delay Wait would block until that child exits too.
	waitDelay = 2 * time.Second
)

// LocalRunner executes modules by spawning the local wasm runtime binary
// against temp files materialized by the ArtifactManager. The temp dir is
// the only shared resource across concurrent dispatches.
type LocalRunner struct {
	runtimePath string
	artifacts   *ArtifactManager
}

// NewLocalRunner creates a runner around the wasm runtime at runtimePath.
func NewLocalRunner(runtimePath string, artifacts *ArtifactManager) *LocalRunner {
	return &LocalRunner{
		runtimePath: runtimePath,
		artifacts:   artifacts,
	}
}

// Dispatch writes the module and its JSON input to temp files, runs the
// runtime binary with the wasm path as its first argument and the input
// path as its second, and parses trimmed stdout as JSON, falling back to
// the raw string for programs that don't emit JSON. Both temp files are
// deleted on every exit path. A timeout surfaces as ErrTimeout, never
// inferred from the exit code.
func (l *LocalRunner) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	execID := uuid.New().String()

	logger := log.With().
		Str("exec_id", execID).
		Int("wasm_bytes", len(req.Wasm)).
		Logger()

	wasmPath, err := l.artifacts.WriteArtifact(req.Wasm)
	if err != nil {
		return nil, &DispatchError{ExecID: execID, Op: "write_artifact", Err: err}
	}
	defer l.artifacts.Cleanup(wasmPath)

	inputPath, err := l.artifacts.WriteInput(req.Input)
	if err != nil {
		return nil, &DispatchError{ExecID: execID, Op: "write_input", Err: err}
	}
	defer l.artifacts.Cleanup(inputPath)

	execCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, l.runtimePath, wasmPath, inputPath) // #nosec G204 -- paths generated by ArtifactManager
	cmd.Env = []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin", "SANDBOX=true"}
	cmd.WaitDelay = waitDelay

	capBytes := outputCap(req.Limits.MemoryBytes)
	stdout := newCapWriter(capBytes)
	stderr := newCapWriter(capBytes / 4)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug().Str("wasm_path", wasmPath).Dur("timeout", req.Timeout).Msg("spawning wasm runtime")

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if execCtx.Err() != nil {
		// The context killed the process: either our own timer or the
		// caller's cancellation (which the controller uses when its race
		// timer wins). Both report as the distinct timeout signal.
		logger.Warn().Dur("duration", duration).Msg("wasm runtime killed by deadline")
		return &DispatchResult{
			Success:       false,
			Error:         fmt.Sprintf("execution exceeded %s timeout", req.Timeout),
			Stderr:        stderr.String(),
			ExecutionTime: duration,
		}, ErrTimeout
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			// The process never ran (binary unusable, fork failure).
			return nil, &DispatchError{ExecID: execID, Op: "spawn_runtime", Err: err}
		}

		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = fmt.Sprintf("wasm runtime exited with code %d", exitErr.ExitCode())
		}

		logger.Info().Int("exit_code", exitErr.ExitCode()).Dur("duration", duration).Msg("wasm execution failed")
		return &DispatchResult{
			Success:       false,
			Error:         msg,
			Stderr:        stderr.String(),
			ExecutionTime: duration,
		}, nil
	}

	logger.Info().Dur("duration", duration).Msg("wasm execution completed")
	return &DispatchResult{
		Success:       true,
		Output:        parseOutput(stdout.String()),
		Stderr:        stderr.String(),
		ExecutionTime: duration,
	}, nil
}

// HealthCheck reports whether the runtime binary is present and runnable.
func (l *LocalRunner) HealthCheck(_ context.Context) bool {
	info, err := os.Stat(l.runtimePath)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

func (l *LocalRunner) Close() error {
	return nil
}

// parseOutput interprets trimmed stdout as JSON when possible and falls
// back to the raw string otherwise; non-JSON output is not an error.
func parseOutput(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return trimmed
	}
	return v
}

// outputCap derives the stdout buffer cap from the memory limit. The cap
// is the local backend's coarse memory bound; the floor keeps legitimate
// output readable under small configured limits.
func outputCap(memoryBytes int64) int {
	switch {
	case memoryBytes <= 0:
		return 1 << 20
	case memoryBytes < minOutputCap:
		return minOutputCap
	case memoryBytes > maxOutputCap:
		return maxOutputCap
	default:
		return int(memoryBytes)
	}
}

// capWriter buffers writes up to a fixed cap and silently drops the rest,
// so a runaway program cannot balloon the host's memory through stdout.
type capWriter struct {
	buf       []byte
	max       int
	truncated bool
}

func newCapWriter(max int) *capWriter {
	return &capWriter{max: max}
}

func (w *capWriter) Write(p []byte) (int, error) {
	remaining := w.max - len(w.buf)
	if remaining > 0 {
		if len(p) <= remaining {
			w.buf = append(w.buf, p...)
		} else {
			w.buf = append(w.buf, p[:remaining]...)
			w.truncated = true
		}
	} else if len(p) > 0 {
		w.truncated = true
	}
	return len(p), nil
}

func (w *capWriter) String() string {
	if w.truncated {
		return string(w.buf) + "\n... [output truncated]"
	}
	return string(w.buf)
}
