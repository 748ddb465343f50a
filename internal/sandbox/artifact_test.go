package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteArtifact(t *testing.T) {
	m := NewArtifactManager(t.TempDir())

	wasm := []byte("\x00asm\x01\x00\x00\x00")
	path, err := m.WriteArtifact(wasm)
	if err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if string(data) != string(wasm) {
		t.Errorf("artifact content = %q, want %q", data, wasm)
	}
	if !strings.HasSuffix(path, ".wasm") {
		t.Errorf("artifact path %q missing .wasm suffix", path)
	}
}

func TestWriteInput(t *testing.T) {
	m := NewArtifactManager(t.TempDir())

	path, err := m.WriteInput(map[string]any{"n": 42})
	if err != nil {
		t.Fatalf("WriteInput: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading input: %v", err)
	}
	if string(data) != `{"n":42}` {
		t.Errorf("input content = %q, want %q", data, `{"n":42}`)
	}
}

func TestWriteInput_Unencodable(t *testing.T) {
	m := NewArtifactManager(t.TempDir())
	if _, err := m.WriteInput(make(chan int)); err == nil {
		t.Error("expected error for unencodable input")
	}
}

func TestUniqueFilenames(t *testing.T) {
	m := NewArtifactManager(t.TempDir())

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		path, err := m.WriteArtifact([]byte("x"))
		if err != nil {
			t.Fatal(err)
		}
		if seen[path] {
			t.Fatalf("duplicate artifact path %q", path)
		}
		seen[path] = true
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	m := NewArtifactManager(dir)

	wasmPath, err := m.WriteArtifact([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	inputPath, err := m.WriteInput("y")
	if err != nil {
		t.Fatal(err)
	}

	m.Cleanup(wasmPath, inputPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir has %d leftover files after cleanup", len(entries))
	}
}

func TestCleanup_MissingAndEmptyPaths(t *testing.T) {
	m := NewArtifactManager(t.TempDir())

	// Must swallow deletion errors: nonexistent and empty paths are no-ops.
	m.Cleanup(filepath.Join(t.TempDir(), "nope.wasm"), "", "/nonexistent/dir/file")
}

func TestDefaultDir(t *testing.T) {
	m := NewArtifactManager("")
	path, err := m.WriteArtifact([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Cleanup(path)

	if !strings.HasPrefix(path, os.TempDir()) {
		t.Errorf("artifact path %q not under system temp dir", path)
	}
}
