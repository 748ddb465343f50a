package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"wasm-sandbox/internal/compiler"
	"wasm-sandbox/internal/config"
	"wasm-sandbox/internal/monitor"
	"wasm-sandbox/internal/sandbox"
)

// fakeCompiler counts calls and returns a canned artifact or error.
type fakeCompiler struct {
	calls    atomic.Int64
	artifact *compiler.Artifact
	err      error
}

func (f *fakeCompiler) Compile(ctx context.Context, code, lang string) (*compiler.Artifact, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.artifact, nil
}

// fakeBackend returns a canned result after an optional delay, honoring
// context cancellation the way real backends do. cleanup simulates the
// work a cancelled dispatch still does (killing the process, deleting
// artifacts) before it returns; finished flips once that work is done.
type fakeBackend struct {
	calls    atomic.Int64
	result   *sandbox.DispatchResult
	err      error
	delay    time.Duration
	cleanup  time.Duration
	finished atomic.Bool
	healthy  bool
}

func (f *fakeBackend) Dispatch(ctx context.Context, req sandbox.DispatchRequest) (*sandbox.DispatchResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			if f.cleanup > 0 {
				time.Sleep(f.cleanup)
			}
			f.finished.Store(true)
			return &sandbox.DispatchResult{Success: false, Error: "killed"}, sandbox.ErrTimeout
		}
	}
	f.finished.Store(true)
	return f.result, f.err
}

func (f *fakeBackend) HealthCheck(ctx context.Context) bool { return f.healthy }
func (f *fakeBackend) Close() error                         { return nil }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Runtime.DefaultTimeout = config.Duration(2 * time.Second)
	cfg.Runtime.MaxTimeout = config.Duration(5 * time.Second)
	return cfg
}

func okArtifact() *compiler.Artifact {
	return &compiler.Artifact{
		Bytes:       []byte("\x00asm"),
		SizeBytes:   4,
		CompileTime: 30 * time.Millisecond,
	}
}

func newTestController(comp compiler.Compiler, backend sandbox.Backend) *Controller {
	return NewController(testConfig(), comp, backend, monitor.NewMetrics())
}

func TestExecute_NoBackend(t *testing.T) {
	comp := &fakeCompiler{artifact: okArtifact()}
	ctrl := newTestController(comp, nil)

	out := ctrl.Execute(context.Background(), Request{Code: "1+1", Language: "javascript"})

	if out.Success {
		t.Fatal("Success = true without a backend")
	}
	if out.Error.Code != CodeNotAvailable {
		t.Errorf("Code = %q, want %q", out.Error.Code, CodeNotAvailable)
	}
	if n := comp.calls.Load(); n != 0 {
		t.Errorf("compiler invoked %d times, want 0", n)
	}
}

func TestExecute_NoCompiler(t *testing.T) {
	backend := &fakeBackend{result: &sandbox.DispatchResult{Success: true}}
	ctrl := newTestController(nil, backend)

	out := ctrl.Execute(context.Background(), Request{Code: "1+1", Language: "javascript"})

	if out.Error == nil || out.Error.Code != CodeNotAvailable {
		t.Fatalf("outcome = %+v, want NOT_AVAILABLE", out)
	}
	if n := backend.calls.Load(); n != 0 {
		t.Errorf("backend invoked %d times, want 0", n)
	}
}

func TestExecute_UnsupportedLanguage(t *testing.T) {
	comp := &fakeCompiler{artifact: okArtifact()}
	backend := &fakeBackend{result: &sandbox.DispatchResult{Success: true}}
	ctrl := newTestController(comp, backend)

	out := ctrl.Execute(context.Background(), Request{Code: "x", Language: "cobol"})

	if out.Error == nil || out.Error.Code != CodeCompilationError {
		t.Fatalf("outcome = %+v, want COMPILATION_ERROR", out)
	}
	if n := comp.calls.Load(); n != 0 {
		t.Errorf("compiler invoked %d times for unsupported language", n)
	}
}

func TestExecute_CompileFailureShortCircuits(t *testing.T) {
	comp := &fakeCompiler{err: &compiler.CompileError{Language: "rust", Message: "expected `;`"}}
	backend := &fakeBackend{result: &sandbox.DispatchResult{Success: true}}
	ctrl := newTestController(comp, backend)

	out := ctrl.Execute(context.Background(), Request{Code: "fn main(", Language: "rust"})

	if out.Success {
		t.Fatal("Success = true after compile failure")
	}
	if out.Error.Code != CodeCompilationError {
		t.Errorf("Code = %q, want %q", out.Error.Code, CodeCompilationError)
	}
	if out.Error.Message != "expected `;`" {
		t.Errorf("Message = %q, want compiler diagnostic", out.Error.Message)
	}
	if out.Error.Details["language"] != "rust" {
		t.Errorf("Details[language] = %v", out.Error.Details["language"])
	}
	if n := backend.calls.Load(); n != 0 {
		t.Errorf("backend invoked %d times after compile failure, want 0", n)
	}
}

func TestExecute_Success(t *testing.T) {
	comp := &fakeCompiler{artifact: okArtifact()}
	backend := &fakeBackend{result: &sandbox.DispatchResult{
		Success:       true,
		Output:        map[string]any{"result": float64(42)},
		ExecutionTime: 5 * time.Millisecond,
		MemoryUsed:    1 << 20,
	}}
	ctrl := newTestController(comp, backend)

	out := ctrl.Execute(context.Background(), Request{Code: "42", Language: "javascript"})

	if !out.Success {
		t.Fatalf("Success = false: %+v", out.Error)
	}
	if out.Error != nil {
		t.Errorf("Error = %+v, want nil", out.Error)
	}
	m, ok := out.Output.(map[string]any)
	if !ok || m["result"] != float64(42) {
		t.Errorf("Output = %#v", out.Output)
	}
	if out.Metadata.CompileTimeMS != 30 {
		t.Errorf("CompileTimeMS = %d, want 30", out.Metadata.CompileTimeMS)
	}
	if out.Metadata.WasmSizeBytes != 4 {
		t.Errorf("WasmSizeBytes = %d, want 4", out.Metadata.WasmSizeBytes)
	}
	if out.Metadata.MemoryUsedBytes != 1<<20 {
		t.Errorf("MemoryUsedBytes = %d", out.Metadata.MemoryUsedBytes)
	}
	if out.Metadata.ExecutionTimeMS < 0 {
		t.Errorf("ExecutionTimeMS = %d", out.Metadata.ExecutionTimeMS)
	}
}

func TestExecute_TimeoutWinsRace(t *testing.T) {
	comp := &fakeCompiler{artifact: okArtifact()}
	backend := &fakeBackend{
		delay:  10 * time.Second,
		result: &sandbox.DispatchResult{Success: true},
	}
	ctrl := newTestController(comp, backend)

	start := time.Now()
	out := ctrl.Execute(context.Background(), Request{
		Code:     "while(1){}",
		Language: "javascript",
		Timeout:  100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if out.Success {
		t.Fatal("Success = true for timed out execution")
	}
	if out.Error.Code != CodeTimeout {
		t.Errorf("Code = %q, want %q", out.Error.Code, CodeTimeout)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timeout outcome took %s, cancellation is not prompt", elapsed)
	}
}

func TestExecute_TimeoutWaitsForCancelledDispatch(t *testing.T) {
	comp := &fakeCompiler{artifact: okArtifact()}
	backend := &fakeBackend{
		delay:   10 * time.Second,
		cleanup: 300 * time.Millisecond,
		result:  &sandbox.DispatchResult{Success: true},
	}
	ctrl := newTestController(comp, backend)

	out := ctrl.Execute(context.Background(), Request{
		Code:     "while(1){}",
		Language: "javascript",
		Timeout:  100 * time.Millisecond,
	})

	if out.Error == nil || out.Error.Code != CodeTimeout {
		t.Fatalf("outcome = %+v, want TIMEOUT", out)
	}
	// The timeout outcome must not be reported while the cancelled
	// dispatch is still releasing its resources.
	if !backend.finished.Load() {
		t.Error("Execute returned before the cancelled dispatch finished")
	}
}

func TestExecute_BackendTimeoutError(t *testing.T) {
	comp := &fakeCompiler{artifact: okArtifact()}
	backend := &fakeBackend{err: sandbox.ErrTimeout, result: &sandbox.DispatchResult{Success: false}}
	ctrl := newTestController(comp, backend)

	out := ctrl.Execute(context.Background(), Request{Code: "x", Language: "python"})

	if out.Error == nil || out.Error.Code != CodeTimeout {
		t.Fatalf("outcome = %+v, want TIMEOUT", out)
	}
}

func TestExecute_BackendReportedFailure(t *testing.T) {
	comp := &fakeCompiler{artifact: okArtifact()}
	backend := &fakeBackend{result: &sandbox.DispatchResult{
		Success:       false,
		Error:         "wasm trap: unreachable",
		Stderr:        "panic at line 3",
		ExecutionTime: 8 * time.Millisecond,
	}}
	ctrl := newTestController(comp, backend)

	out := ctrl.Execute(context.Background(), Request{Code: "x", Language: "rust"})

	if out.Success {
		t.Fatal("Success = true for failed execution")
	}
	if out.Error.Code != CodeExecutionError {
		t.Errorf("Code = %q, want %q", out.Error.Code, CodeExecutionError)
	}
	if out.Error.Message != "wasm trap: unreachable" {
		t.Errorf("Message = %q", out.Error.Message)
	}
	if out.Error.Details["stderr"] != "panic at line 3" {
		t.Errorf("Details[stderr] = %v", out.Error.Details["stderr"])
	}
	if out.Error.Details["execution_time_ms"] != int64(8) {
		t.Errorf("Details[execution_time_ms] = %v", out.Error.Details["execution_time_ms"])
	}
}

func TestExecute_BackendError(t *testing.T) {
	comp := &fakeCompiler{artifact: okArtifact()}
	backend := &fakeBackend{err: errors.New("runtime binary vanished")}
	ctrl := newTestController(comp, backend)

	out := ctrl.Execute(context.Background(), Request{Code: "x", Language: "go"})

	if out.Error == nil || out.Error.Code != CodeExecutionError {
		t.Fatalf("outcome = %+v, want EXECUTION_ERROR", out)
	}
}

func TestEffectiveTimeout(t *testing.T) {
	ctrl := newTestController(nil, nil)

	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"unset uses default", 0, 2 * time.Second},
		{"negative uses default", -time.Second, 2 * time.Second},
		{"in range passes through", 3 * time.Second, 3 * time.Second},
		{"above max clamps", time.Minute, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ctrl.effectiveTimeout(tt.requested); got != tt.want {
				t.Errorf("effectiveTimeout(%s) = %s, want %s", tt.requested, got, tt.want)
			}
		})
	}
}

func TestLanguages(t *testing.T) {
	ctrl := newTestController(nil, nil)
	names := ctrl.Languages()
	if len(names) == 0 {
		t.Fatal("no languages reported")
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	for _, want := range []string{"javascript", "python", "rust"} {
		if !seen[want] {
			t.Errorf("Languages() missing %q", want)
		}
	}
}

func TestHealthy(t *testing.T) {
	if ctrl := newTestController(nil, nil); ctrl.Healthy(context.Background()) {
		t.Error("Healthy = true with no backend")
	}
	up := newTestController(nil, &fakeBackend{healthy: true})
	if !up.Healthy(context.Background()) {
		t.Error("Healthy = false with healthy backend")
	}
}
