package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/burrow/burrow.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "burrow", "burrow.yaml"))
	}

	paths = append(paths, "burrow.yaml")

	if envPath := os.Getenv("BURROW_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/burrow/burrow.yaml < ~/.config/burrow/burrow.yaml < ./burrow.yaml < $BURROW_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("BURROW_NGROK_AUTHTOKEN"); token != "" {
		cfg.Tunnel.AuthToken = token
	}
	if exe := os.Getenv("BURROW_NGROK_PATH"); exe != "" {
		cfg.Tunnel.Executable = exe
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// AgentEnv returns the environment handed to the tunnel agent, with the
// auth token mapped to the variable the agent reads.
func (t TunnelConfig) AgentEnv() map[string]string {
	env := make(map[string]string, len(t.Env)+1)
	for k, v := range t.Env {
		env[k] = v
	}
	if t.AuthToken != "" {
		env["NGROK_AUTHTOKEN"] = t.AuthToken
	}
	return env
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host == "0.0.0.0" {
		return fmt.Errorf("server.host must not be 0.0.0.0, the status API only listens on localhost")
	}

	switch cfg.Tunnel.Protocol {
	case "", "http", "https":
	default:
		return fmt.Errorf("tunnel.protocol must be http or https, got %q", cfg.Tunnel.Protocol)
	}

	if cfg.Tunnel.Port < 0 || cfg.Tunnel.Port > 65535 {
		return fmt.Errorf("tunnel.port must be between 1 and 65535, got %d", cfg.Tunnel.Port)
	}

	for _, s := range cfg.Tunnel.Require {
		if s != "http" && s != "https" {
			return fmt.Errorf("tunnel.require entries must be http or https, got %q", s)
		}
	}

	if cfg.Tunnel.Executable == "" {
		return fmt.Errorf("tunnel.executable must not be empty")
	}

	if cfg.Tunnel.DiscoveryTimeout <= 0 {
		return fmt.Errorf("tunnel.discovery_timeout must be positive")
	}

	if cfg.Tunnel.PollInterval <= 0 {
		return fmt.Errorf("tunnel.poll_interval must be positive")
	}

	if cfg.Tunnel.StopGrace < 0 {
		return fmt.Errorf("tunnel.stop_grace must not be negative")
	}

	if cfg.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Tunnel.Executable = ExpandHome(cfg.Tunnel.Executable)

	return nil
}
