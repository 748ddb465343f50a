package compiler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPCompiler_Success(t *testing.T) {
	wasm := []byte("\x00asm\x01\x00\x00\x00")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/compile" {
			t.Errorf("path = %q, want /compile", r.URL.Path)
		}
		var req compileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Language != "javascript" {
			t.Errorf("language = %q, want javascript", req.Language)
		}
		json.NewEncoder(w).Encode(compileResponse{
			Wasm:        base64.StdEncoding.EncodeToString(wasm),
			SizeBytes:   int64(len(wasm)),
			CompileTime: 42,
		})
	}))
	defer srv.Close()

	c := NewHTTPCompiler(srv.URL, "", 5*time.Second)
	artifact, err := c.Compile(context.Background(), "1+1", "javascript")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if string(artifact.Bytes) != string(wasm) {
		t.Errorf("Bytes = %q, want %q", artifact.Bytes, wasm)
	}
	if artifact.SizeBytes != int64(len(wasm)) {
		t.Errorf("SizeBytes = %d, want %d", artifact.SizeBytes, len(wasm))
	}
	if artifact.CompileTime != 42*time.Millisecond {
		t.Errorf("CompileTime = %s, want 42ms", artifact.CompileTime)
	}
}

func TestHTTPCompiler_Rejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(compileResponse{Error: "SyntaxError: unexpected token"})
	}))
	defer srv.Close()

	c := NewHTTPCompiler(srv.URL, "", 5*time.Second)
	_, err := c.Compile(context.Background(), "def def def", "python")
	if err == nil {
		t.Fatal("expected error")
	}

	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %T, want *CompileError", err)
	}
	if ce.Language != "python" {
		t.Errorf("Language = %q, want python", ce.Language)
	}
	if ce.Message != "SyntaxError: unexpected token" {
		t.Errorf("Message = %q", ce.Message)
	}
}

func TestHTTPCompiler_EmptyModule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(compileResponse{Wasm: ""})
	}))
	defer srv.Close()

	c := NewHTTPCompiler(srv.URL, "", 5*time.Second)
	_, err := c.Compile(context.Background(), "1+1", "javascript")

	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CompileError", err)
	}
}

func TestHTTPCompiler_TransportError(t *testing.T) {
	c := NewHTTPCompiler("http://127.0.0.1:1", "", time.Second)
	_, err := c.Compile(context.Background(), "1+1", "javascript")
	if err == nil {
		t.Fatal("expected error for unreachable service")
	}

	var ce *CompileError
	if errors.As(err, &ce) {
		t.Error("transport failure should not be a CompileError")
	}
}

func TestHTTPCompiler_SizeDefaultsToPayload(t *testing.T) {
	wasm := []byte("\x00asm")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(compileResponse{
			Wasm: base64.StdEncoding.EncodeToString(wasm),
		})
	}))
	defer srv.Close()

	c := NewHTTPCompiler(srv.URL, "", 5*time.Second)
	artifact, err := c.Compile(context.Background(), "1+1", "rust")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if artifact.SizeBytes != int64(len(wasm)) {
		t.Errorf("SizeBytes = %d, want %d", artifact.SizeBytes, len(wasm))
	}
}

func TestFunc(t *testing.T) {
	called := false
	f := Func(func(ctx context.Context, code, language string) (*Artifact, error) {
		called = true
		return &Artifact{Bytes: []byte{1}}, nil
	})

	if _, err := f.Compile(context.Background(), "x", "go"); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("adapter did not invoke the function")
	}
}
