package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ArtifactManager materializes per-execution temp files (compiled wasm,
// JSON input) and deletes them afterwards. Filenames embed a random UUID
// so concurrent executions never collide; that uniqueness is the only
// concurrency mechanism the temp dir needs.
type ArtifactManager struct {
	dir string
}

// NewArtifactManager creates a manager writing into dir, or the system
// temp directory when dir is empty.
func NewArtifactManager(dir string) *ArtifactManager {
	if dir == "" {
		dir = os.TempDir()
	}
	return &ArtifactManager{dir: dir}
}

// WriteArtifact writes a compiled wasm module to a uniquely named file
// and returns its path.
func (m *ArtifactManager) WriteArtifact(wasm []byte) (string, error) {
	path := filepath.Join(m.dir, fmt.Sprintf("sandbox-%s.wasm", uuid.New().String()))
	if err := os.WriteFile(path, wasm, 0600); err != nil {
		return "", fmt.Errorf("writing wasm artifact: %w", err)
	}
	return path, nil
}

// WriteInput JSON-encodes the input value to a uniquely named file and
// returns its path.
func (m *ArtifactManager) WriteInput(input any) (string, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encoding input: %w", err)
	}
	path := filepath.Join(m.dir, fmt.Sprintf("sandbox-%s-input.json", uuid.New().String()))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("writing input file: %w", err)
	}
	return path, nil
}

// Cleanup deletes the given paths. Deletion failures are logged and
// swallowed: cleanup must never mask the primary execution result.
func (m *ArtifactManager) Cleanup(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to delete temp artifact")
		}
	}
}
