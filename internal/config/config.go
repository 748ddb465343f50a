package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from YAML strings like "30s"
// or plain integers interpreted as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// BackendKind selects which execution backend the runtime drives.
type BackendKind string

const (
	BackendRemote BackendKind = "remote" // external WasmEdge HTTP service
	BackendLocal  BackendKind = "local"  // local wasm runtime subprocess
	BackendNone   BackendKind = "none"   // no backend; executions fail fast
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Compiler CompilerConfig `yaml:"compiler"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64    `yaml:"max_request_body_bytes"`
}

// RuntimeConfig controls backend selection and the execution envelope.
// It is read once at startup and never mutated afterwards; availability
// of the runtime derives purely from it.
type RuntimeConfig struct {
	Backend          BackendKind `yaml:"backend"`            // remote, local, or none
	ServiceURL       string      `yaml:"service_url"`        // remote backend endpoint
	ServiceAPIKey    string      `yaml:"service_api_key"`    // optional bearer key for the remote service
	LocalRuntimePath string      `yaml:"local_runtime_path"` // wasm runtime binary for the local backend
	DefaultTimeout   Duration    `yaml:"default_timeout"`
	MaxTimeout       Duration    `yaml:"max_timeout"`
	MemoryLimitBytes int64       `yaml:"memory_limit_bytes"`
	TempDir          string      `yaml:"temp_dir"` // empty means os.TempDir()
}

type CompilerConfig struct {
	URL     string   `yaml:"url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(65 * time.Second), // > max execution timeout + overhead
			ShutdownTimeout: Duration(30 * time.Second),
			MaxRequestBody:  4 << 20, // 4MB: source plus JSON input
		},
		Runtime: RuntimeConfig{
			Backend:          BackendNone,
			DefaultTimeout:   Duration(5 * time.Second),
			MaxTimeout:       Duration(60 * time.Second),
			MemoryLimitBytes: 128 << 20, // 128MB
		},
		Compiler: CompilerConfig{
			Timeout: Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// ApplyEnv overlays environment variables onto the config. The env surface
// mirrors what deployments set per-container without editing the YAML.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SANDBOX_BACKEND"); v != "" {
		c.Runtime.Backend = BackendKind(v)
	}
	if v := os.Getenv("WASM_SERVICE_URL"); v != "" {
		c.Runtime.ServiceURL = v
	}
	if v := os.Getenv("WASM_SERVICE_API_KEY"); v != "" {
		c.Runtime.ServiceAPIKey = v
	}
	if v := os.Getenv("WASM_RUNTIME_PATH"); v != "" {
		c.Runtime.LocalRuntimePath = v
	}
	if v := os.Getenv("WASM_COMPILER_URL"); v != "" {
		c.Compiler.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.Runtime.Backend {
	case BackendRemote, BackendLocal, BackendNone:
	default:
		return fmt.Errorf("runtime.backend must be remote, local, or none, got %q", c.Runtime.Backend)
	}
	if c.Runtime.DefaultTimeout <= 0 {
		return fmt.Errorf("runtime.default_timeout must be > 0")
	}
	if c.Runtime.DefaultTimeout > c.Runtime.MaxTimeout {
		return fmt.Errorf("runtime.default_timeout (%s) must be <= max_timeout (%s)",
			c.Runtime.DefaultTimeout, c.Runtime.MaxTimeout)
	}
	if c.Runtime.MemoryLimitBytes < 1<<20 {
		return fmt.Errorf("runtime.memory_limit_bytes must be >= 1MB, got %d", c.Runtime.MemoryLimitBytes)
	}
	if c.Runtime.TempDir != "" && !filepath.IsAbs(c.Runtime.TempDir) {
		return fmt.Errorf("runtime.temp_dir: %q must be an absolute path", c.Runtime.TempDir)
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
