package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Version of the configuration file layout.
const currentVersion = 1

// WebSocket message handling modes.
const (
	ModeEcho      = "echo"
	ModeBroadcast = "broadcast"
)

// Config is the server configuration file.
type Config struct {
	Version   int             `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig controls the listener and HTTP sessions.
type ServerConfig struct {
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	DocRoot       string   `yaml:"doc_root"`
	DetectTimeout Duration `yaml:"detect_timeout"` // first bytes must arrive within this
	IdleTimeout   Duration `yaml:"idle_timeout"`   // rearmed before every request
	AcceptRate    float64  `yaml:"accept_rate"`    // new connections per second, 0 = unlimited
	AcceptBurst   int      `yaml:"accept_burst"`
	AnalysisDir   string   `yaml:"analysis_dir,omitempty"`
}

// WebSocketConfig controls upgraded sessions.
type WebSocketConfig struct {
	Mode           string   `yaml:"mode"` // echo or broadcast
	PingInterval   Duration `yaml:"ping_interval"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	MaxMessageSize int64    `yaml:"max_message_size"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // empty disables the endpoint
	Path string `yaml:"path"`
}

// DiscoveryConfig controls mDNS advertisement.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// Default returns a configuration with every field set.
func Default() *Config {
	return &Config{
		Version: currentVersion,
		Server: ServerConfig{
			Host:          "",
			Port:          8080,
			DocRoot:       ".",
			DetectTimeout: Duration(5 * time.Second),
			IdleTimeout:   Duration(5 * time.Second),
			AcceptBurst:   16,
		},
		WebSocket: WebSocketConfig{
			Mode:           ModeEcho,
			PingInterval:   Duration(30 * time.Second),
			WriteTimeout:   Duration(10 * time.Second),
			MaxMessageSize: 1 << 20,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Discovery: DiscoveryConfig{
			Instance: "flexgate",
		},
		LogLevel: "info",
	}
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	if c.Version != currentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, currentVersion)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.DocRoot == "" {
		return fmt.Errorf("doc_root must not be empty")
	}
	if c.Server.DetectTimeout <= 0 {
		return fmt.Errorf("detect_timeout must be positive")
	}
	if c.Server.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if c.Server.AcceptRate < 0 {
		return fmt.Errorf("accept_rate must not be negative")
	}
	if c.Server.AcceptRate > 0 && c.Server.AcceptBurst < 1 {
		return fmt.Errorf("accept_burst must be at least 1 when accept_rate is set")
	}
	switch c.WebSocket.Mode {
	case ModeEcho, ModeBroadcast:
	default:
		return fmt.Errorf("invalid websocket mode: %q (expected %q or %q)", c.WebSocket.Mode, ModeEcho, ModeBroadcast)
	}
	if c.WebSocket.PingInterval < 0 {
		return fmt.Errorf("ping_interval must not be negative")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive")
	}
	if c.Discovery.Enabled && c.Discovery.Instance == "" {
		return fmt.Errorf("discovery instance name must not be empty")
	}
	return nil
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts duration strings and plain integers (seconds).
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}
