package config

import "time"

// Config is the root configuration for burrow.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tunnel    TunnelConfig    `yaml:"tunnel"`
	Database  DatabaseConfig  `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// ServerConfig controls the local status API.
type ServerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// TunnelConfig describes the agent process and how its tunnel is discovered.
type TunnelConfig struct {
	Executable       string            `yaml:"executable"`
	Protocol         string            `yaml:"protocol"`
	Port             int               `yaml:"port"`
	Require          []string          `yaml:"require"`
	DiscoveryURL     string            `yaml:"discovery_url"`
	DiscoveryTimeout time.Duration     `yaml:"discovery_timeout"`
	PollInterval     time.Duration     `yaml:"poll_interval"`
	StopGrace        time.Duration     `yaml:"stop_grace"`
	Args             []string          `yaml:"args"`
	Env              map[string]string `yaml:"env"`
	AuthToken        string            `yaml:"authtoken"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:  true,
			Host:     "127.0.0.1",
			Port:     8421,
			LogLevel: "info",
		},
		Tunnel: TunnelConfig{
			Executable:       "ngrok",
			DiscoveryURL:     "http://127.0.0.1:4040/api/tunnels",
			DiscoveryTimeout: 5 * time.Second,
			PollInterval:     300 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Path:          "~/.config/burrow/burrow.db",
			RetentionDays: 30,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             20,
		},
		Monitor: MonitorConfig{
			Interval: time.Second,
		},
	}
}
