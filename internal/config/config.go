// Package config loads the operator-facing configuration document: model
// gateway connection settings, the default model, the sandbox runner
// binary, logging level, and tracing export settings. This is distinct
// from the MCP server registry (internal/mcp's LoadRegistry), which is a
// read-only JSON document the core never writes to.
package config

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// CoreConfig is the top-level operator-facing configuration document.
type CoreConfig struct {
	Gateway         GatewayConfig   `yaml:"gateway"`
	Sandbox         SandboxConfig   `yaml:"sandbox"`
	MCPRegistryDir  string          `yaml:"mcp_registry_path"`
	DefaultModel    string          `yaml:"default_model"`
	Logging         LoggingConfig   `yaml:"logging"`
	Tracing         TracingConfig   `yaml:"tracing"`
	MaintenanceCron MaintenanceCron `yaml:"maintenance_cron"`
}

// GatewayConfig configures the chat-completions model gateway connection.
type GatewayConfig struct {
	BaseURL          string `yaml:"base_url"`
	BearerSecretName string `yaml:"bearer_secret_name"`
}

// SandboxConfig configures the code-mode sandbox's runner invocation.
type SandboxConfig struct {
	RunnerPath string        `yaml:"runner_path"`
	WallClock  time.Duration `yaml:"wall_clock"`
}

// LoggingConfig controls the slog backbone's level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MaintenanceCron configures the Manager's optional periodic registry
// re-read, additive to the explicit ListServers() reload path.
type MaintenanceCron struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// defaults applied after decoding, for fields an operator may reasonably
// omit.
func (c *CoreConfig) applyDefaults() {
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o"
	}
	if c.Sandbox.WallClock == 0 {
		c.Sandbox.WallClock = 120 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Load reads path (and any files it $includes) and decodes it into a
// CoreConfig with defaults applied.
func Load(path string) (*CoreConfig, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func decodeRawConfig(raw map[string]any) (*CoreConfig, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg CoreConfig
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return &cfg, nil
}
