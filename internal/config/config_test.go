package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	}
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if !strings.Contains(configDir, "flexgate") {
		t.Errorf("GetConfigDir() = %v, should contain 'flexgate'", configDir)
	}
	if runtime.GOOS == "linux" && configDir != filepath.Join("/tmp/xdg", "flexgate") {
		t.Errorf("GetConfigDir() = %v, want XDG based path", configDir)
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Server.DetectTimeout.D() != 5*time.Second {
		t.Errorf("DetectTimeout = %v, want 5s", cfg.Server.DetectTimeout)
	}
	if cfg.WebSocket.Mode != ModeEcho {
		t.Errorf("Mode = %q, want echo", cfg.WebSocket.Mode)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("Addr() = %q, want :8080", cfg.Addr())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestParsePartialFile(t *testing.T) {
	data := []byte(`
version: 1
server:
  port: 9000
  doc_root: /srv/www
  idle_timeout: 2m
websocket:
  mode: broadcast
  ping_interval: 15
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout.D() != 2*time.Minute {
		t.Errorf("IdleTimeout = %v, want 2m", cfg.Server.IdleTimeout)
	}
	if cfg.WebSocket.PingInterval.D() != 15*time.Second {
		t.Errorf("PingInterval = %v, want 15s", cfg.WebSocket.PingInterval)
	}
	if cfg.Server.DetectTimeout.D() != 5*time.Second {
		t.Errorf("DetectTimeout = %v, want default 5s", cfg.Server.DetectTimeout)
	}
	if cfg.WebSocket.Mode != ModeBroadcast {
		t.Errorf("Mode = %q, want broadcast", cfg.WebSocket.Mode)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad version":    "version: 2\n",
		"bad mode":       "websocket:\n  mode: relay\n",
		"bad port":       "server:\n  port: 70000\n",
		"zero idle":      "server:\n  idle_timeout: 0s\n",
		"bad duration":   "server:\n  idle_timeout: soon\n",
		"rate no burst":  "server:\n  accept_rate: 5\n  accept_burst: 0\n",
		"empty instance": "discovery:\n  enabled: true\n  instance: \"\"\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); err == nil {
				t.Errorf("Parse(%q) should fail", data)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Server.Port = 8181
	cfg.WebSocket.PingInterval = Duration(45 * time.Second)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ping_interval: 45s") {
		t.Errorf("saved file should contain duration string, got:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Server.Port != 8181 || loaded.WebSocket.PingInterval != cfg.WebSocket.PingInterval {
		t.Errorf("loaded = %+v, want port 8181 and ping 45s", loaded)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should be gone after Save")
	}
}

func TestWatchReportsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Default().Save(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { changes <- c }, nil)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	updated := Default()
	updated.LogLevel = "debug"
	if err := updated.Save(path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", c.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}
