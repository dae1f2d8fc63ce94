package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/flexgate/internal/config"
	"github.com/muurk/flexgate/internal/logging"
	"github.com/muurk/flexgate/internal/server"
)

// Serve command flags
var (
	host          string
	port          int
	docRoot       string
	wsMode        string
	logLevel      string
	analysisDir   string
	metricsAddr   string
	idleTimeout   time.Duration
	detectTimeout time.Duration
	pingInterval  time.Duration
	acceptRate    float64
	advertise     bool
	watchConfig   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start accepting connections.

Values from the configuration file are used unless a flag is given. With
--watch the file is watched and log level changes apply without a restart.

To capture received WebSocket messages for analysis, use --analysis-dir to
name a directory where JSONL capture files will be written.`,
	Example: `  # Serve the current directory on port 8080
  flexgate serve --doc-root . --port 8080

  # Relay every WebSocket message to all connected clients
  flexgate serve --mode broadcast

  # Expose Prometheus metrics and advertise over mDNS
  flexgate serve --metrics-addr 127.0.0.1:9100 --advertise

  # Debug logging with message capture
  flexgate serve --log-level debug --analysis-dir ./captures`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&host, "host", "", "Listen address (empty = all interfaces)")
	f.IntVar(&port, "port", 8080, "Listen port")
	f.StringVar(&docRoot, "doc-root", ".", "Directory served to HTTP clients")
	f.StringVar(&wsMode, "mode", config.ModeEcho, "WebSocket mode (echo, broadcast)")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&analysisDir, "analysis-dir", "", "Directory to write captured WebSocket messages (disabled if not specified)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Address for the Prometheus endpoint (disabled if not specified)")
	f.DurationVar(&idleTimeout, "idle-timeout", 5*time.Second, "Time allowed for each HTTP request to arrive")
	f.DurationVar(&detectTimeout, "detect-timeout", server.DefaultDetectTimeout, "Time allowed for a new connection's first bytes")
	f.DurationVar(&pingInterval, "ping-interval", 30*time.Second, "WebSocket keep-alive interval (0 disables)")
	f.Float64Var(&acceptRate, "accept-rate", 0, "Maximum new connections per second (0 = unlimited)")
	f.BoolVar(&advertise, "advertise", false, "Advertise the server over mDNS")
	f.BoolVar(&watchConfig, "watch", false, "Reload the log level when the configuration file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	fileCfg, err := config.Load(path)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, fileCfg)
	if err := fileCfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	if fileCfg.Server.AnalysisDir != "" {
		info, err := os.Stat(fileCfg.Server.AnalysisDir)
		if err == nil && !info.IsDir() {
			return fmt.Errorf("analysis path is not a directory: %s", fileCfg.Server.AnalysisDir)
		}
	}

	srv, err := server.New(server.FromFile(fileCfg))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if watchConfig {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go watchLogLevel(ctx, path)
	}

	return srv.Start()
}

// applyServeFlags copies explicitly set flags over the file values.
func applyServeFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		c.Server.Host = host
	}
	if f.Changed("port") {
		c.Server.Port = port
	}
	if f.Changed("doc-root") {
		c.Server.DocRoot = docRoot
	}
	if f.Changed("mode") {
		c.WebSocket.Mode = wsMode
	}
	if f.Changed("log-level") || c.LogLevel == "" {
		c.LogLevel = logLevel
	}
	if f.Changed("analysis-dir") {
		c.Server.AnalysisDir = analysisDir
	}
	if f.Changed("metrics-addr") {
		c.Metrics.Addr = metricsAddr
	}
	if f.Changed("idle-timeout") {
		c.Server.IdleTimeout = config.Duration(idleTimeout)
	}
	if f.Changed("detect-timeout") {
		c.Server.DetectTimeout = config.Duration(detectTimeout)
	}
	if f.Changed("ping-interval") {
		c.WebSocket.PingInterval = config.Duration(pingInterval)
	}
	if f.Changed("accept-rate") {
		c.Server.AcceptRate = acceptRate
	}
	if f.Changed("advertise") {
		c.Discovery.Enabled = advertise
	}
}

func watchLogLevel(ctx context.Context, path string) {
	logging.Info("Watching configuration", zap.String("path", path))
	err := config.Watch(ctx, path,
		func(c *config.Config) {
			if c.LogLevel != "" && c.LogLevel != logging.Level() {
				logging.SetLevel(c.LogLevel)
				logging.Info("Log level changed", zap.String("level", c.LogLevel))
			}
		},
		func(err error) {
			logging.Warn("Configuration reload failed", zap.Error(err))
		},
	)
	if err != nil {
		logging.Warn("Configuration watch stopped", zap.Error(err))
	}
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	path, err := config.GetConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to get config path: %w", err)
	}
	return path, nil
}
