package sandbox

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"wasm-sandbox/internal/config"
)

// NewBackend builds the execution backend selected by the config. It runs
// once at process start; a nil backend with a nil error means none is
// configured and every execution will fail fast as unavailable.
func NewBackend(cfg *config.Config) (Backend, error) {
	switch cfg.Runtime.Backend {
	case config.BackendRemote:
		if cfg.Runtime.ServiceURL == "" {
			return nil, fmt.Errorf("%w: remote backend selected but runtime.service_url is empty", ErrMisconfigured)
		}
		log.Info().Str("service_url", cfg.Runtime.ServiceURL).Msg("using remote wasm backend")
		return NewRemoteRunner(cfg.Runtime.ServiceURL, cfg.Runtime.ServiceAPIKey), nil

	case config.BackendLocal:
		path := cfg.Runtime.LocalRuntimePath
		if path == "" {
			return nil, fmt.Errorf("%w: local backend selected but runtime.local_runtime_path is empty", ErrMisconfigured)
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return nil, fmt.Errorf("%w: local runtime binary %q not found", ErrMisconfigured, path)
		}
		log.Info().Str("runtime_path", path).Msg("using local wasm backend")
		return NewLocalRunner(path, NewArtifactManager(cfg.Runtime.TempDir)), nil

	case config.BackendNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrMisconfigured, cfg.Runtime.Backend)
	}
}
