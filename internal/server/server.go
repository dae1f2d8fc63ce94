package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/muurk/flexgate/internal/config"
	"github.com/muurk/flexgate/internal/discovery"
	"github.com/muurk/flexgate/internal/logging"
	"github.com/muurk/flexgate/internal/metrics"
	"github.com/muurk/flexgate/internal/version"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// shutdownGrace bounds how long Shutdown waits for sessions to unwind.
const shutdownGrace = 10 * time.Second

// Config holds the server configuration
type Config struct {
	Host          string
	Port          int
	DocRoot       string        // directory served to HTTP clients
	DetectTimeout time.Duration // first bytes must arrive within this
	IdleTimeout   time.Duration // HTTP sessions rearm this before each request
	AcceptRate    float64       // connections per second, 0 = unlimited
	AcceptBurst   int

	WebSocketMode  string // config.ModeEcho or config.ModeBroadcast
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64

	AnalysisDir string // Directory to write captured messages (empty = disabled)

	MetricsAddr string // empty disables the Prometheus endpoint
	MetricsPath string

	Discovery         bool
	DiscoveryInstance string

	LogLevel string

	// Reporter receives non-benign session endings. Nil logs them.
	Reporter FailureReporter
	// Metrics overrides the collector. Nil creates a fresh one.
	Metrics *metrics.Collector
}

// FromFile maps the configuration file onto a server Config.
func FromFile(c *config.Config) *Config {
	return &Config{
		Host:              c.Server.Host,
		Port:              c.Server.Port,
		DocRoot:           c.Server.DocRoot,
		DetectTimeout:     c.Server.DetectTimeout.D(),
		IdleTimeout:       c.Server.IdleTimeout.D(),
		AcceptRate:        c.Server.AcceptRate,
		AcceptBurst:       c.Server.AcceptBurst,
		WebSocketMode:     c.WebSocket.Mode,
		PingInterval:      c.WebSocket.PingInterval.D(),
		WriteTimeout:      c.WebSocket.WriteTimeout.D(),
		MaxMessageSize:    c.WebSocket.MaxMessageSize,
		AnalysisDir:       c.Server.AnalysisDir,
		MetricsAddr:       c.Metrics.Addr,
		MetricsPath:       c.Metrics.Path,
		Discovery:         c.Discovery.Enabled,
		DiscoveryInstance: c.Discovery.Instance,
		LogLevel:          c.LogLevel,
	}
}

func (c *Config) applyDefaults() {
	if c.DocRoot == "" {
		c.DocRoot = "."
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = DefaultDetectTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Second
	}
	if c.WebSocketMode == "" {
		c.WebSocketMode = config.ModeEcho
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.DiscoveryInstance == "" {
		c.DiscoveryInstance = "flexgate"
	}
	if c.AcceptBurst <= 0 {
		c.AcceptBurst = 1
	}
}

// Server accepts connections and hands each one to the protocol detector.
type Server struct {
	config   *Config
	listener net.Listener
	hub      *Hub
	metrics  *metrics.Collector
	reporter FailureReporter
	capture  *Capture
	limiter  *rate.Limiter

	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[net.Conn]string
	closing     atomic.Bool
}

// New creates a new Server instance
func New(cfg *Config) (*Server, error) {
	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	c := *cfg
	c.applyDefaults()
	if c.WebSocketMode != config.ModeEcho && c.WebSocketMode != config.ModeBroadcast {
		return nil, fmt.Errorf("unknown websocket mode %q", c.WebSocketMode)
	}

	capture, err := NewCapture(c.AnalysisDir)
	if err != nil {
		return nil, err
	}

	m := c.Metrics
	if m == nil {
		m = metrics.New()
	}
	reporter := c.Reporter
	if reporter == nil {
		reporter = logReporter{}
	}

	var limiter *rate.Limiter
	if c.AcceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.AcceptRate), c.AcceptBurst)
	}

	return &Server{
		config:      &c,
		hub:         NewHub(m),
		metrics:     m,
		reporter:    reporter,
		capture:     capture,
		limiter:     limiter,
		activeConns: make(map[net.Conn]string),
	}, nil
}

// Hub returns the state shared by WebSocket sessions.
func (s *Server) Hub() *Hub { return s.hub }

// Metrics returns the server's collector.
func (s *Server) Metrics() *metrics.Collector { return s.metrics }

// Addr returns the listener address once serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens on the configured address and blocks until a shutdown
// signal arrives or a component fails.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	logging.Info("Starting flexgate server",
		zap.String("addr", addr),
		zap.String("doc_root", s.config.DocRoot),
		zap.String("websocket_mode", s.config.WebSocketMode),
		zap.String("version", version.Version),
		zap.String("log_level", s.config.LogLevel),
	)
	if s.capture != nil {
		logging.Info("Capturing WebSocket messages", zap.String("filename", s.capture.Path()))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx, ln)
}

// Run serves ln together with the metrics endpoint and mDNS advertisement
// until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// An external Shutdown ends Serve with nil; stop the rest too.
		defer cancel()
		return s.Serve(gctx, ln)
	})

	if s.config.MetricsAddr != "" {
		g.Go(func() error { return s.serveMetrics(gctx) })
	}
	if s.config.Discovery {
		g.Go(func() error { return s.advertise(gctx, ln.Addr()) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutdown requested, stopping server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.Shutdown(sctx)
	})

	return g.Wait()
}

// Serve accepts connections from ln until ctx is cancelled or Shutdown is
// called. It returns nil on orderly stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logging.Info("Server listening for connections",
		zap.String("addr", ln.Addr().String()),
	)

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.closing.Store(true)
			_ = ln.Close()
		case <-stopped:
		}
	}()

	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			logging.Error("Failed to accept connection", zap.Error(err))
			return fmt.Errorf("accept: %w", err)
		}

		s.Accept(conn)
	}
}

// Accept takes ownership of raw and serves it on its own goroutine: the
// detector runs first, then the HTTP session it hands the connection to.
func (s *Server) Accept(raw net.Conn) {
	remote := "unknown"
	if addr := raw.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	s.mu.Lock()
	s.activeConns[raw] = remote
	s.mu.Unlock()

	s.metrics.ConnectionAccepted()
	logging.LogConnection(remote, "connection_accepted")

	if s.closing.Load() {
		_ = raw.Close()
		s.untrack(raw, remote)
		return
	}

	conn := NewConn(raw, func() { s.untrack(raw, remote) })
	s.goAsync(func() { s.handleConnection(conn) })
}

func (s *Server) untrack(raw net.Conn, remote string) {
	s.mu.Lock()
	delete(s.activeConns, raw)
	s.mu.Unlock()
	s.metrics.ConnectionClosed()
	logging.LogConnection(remote, "connection_closed")
}

// handleConnection runs protocol detection and dispatches on the outcome.
func (s *Server) handleConnection(conn *Conn) {
	remote := conn.RemoteAddr()

	det, err := Detect(conn, s.config.DetectTimeout)
	if err != nil {
		s.metrics.Detection("failed")
		peeked, _ := conn.Peek(conn.Buffered())
		logging.LogDetection(remote, "failed", peeked)
		_ = conn.Close()
		s.finish(KindOf(err), "detect", remote, err)
		return
	}

	peeked, _ := conn.Peek(conn.Buffered())
	logging.LogDetection(remote, det.String(), peeked)
	s.metrics.Detection(det.String())

	switch det {
	case Secured:
		_ = rejectTLS(conn)
		_ = conn.Close()
		s.finish(KindUpgradeUnsupported, "detect", remote, ErrSecuredUnsupported)
	default:
		newHTTPSession(s, conn.Release()).Run()
	}
}

// finish records how a connection or session ended. Benign endings are
// only debug-logged; everything else goes to the reporter.
func (s *Server) finish(kind ErrorKind, op, remote string, err error) {
	s.metrics.SessionEnded(kind.String())
	if kind.Benign() {
		logging.Debug("Session ended",
			zap.String("remote_addr", remote),
			zap.String("op", op),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
		return
	}
	s.reporter.ReportFailure(kind, op+" "+remote, &SessionError{
		Kind:       kind,
		Op:         op,
		RemoteAddr: remote,
		Err:        err,
	})
}

// goAsync runs fn as a tracked goroutine so Shutdown can wait for it.
func (s *Server) goAsync(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.config.MetricsPath, s.metrics.Handler())
	srv := &http.Server{
		Addr:              s.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.Info("Serving metrics",
		zap.String("addr", s.config.MetricsAddr),
		zap.String("path", s.config.MetricsPath),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

func (s *Server) advertise(ctx context.Context, addr net.Addr) error {
	port := s.config.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	adv, err := discovery.Advertise(s.config.DiscoveryInstance, port, map[string]string{
		"version": version.Version,
		"mode":    s.config.WebSocketMode,
	})
	if err != nil {
		// Multicast is often unavailable in containers; keep serving.
		logging.Warn("mDNS advertisement unavailable", zap.Error(err))
		return nil
	}
	logging.Info("Advertising over mDNS",
		zap.String("instance", s.config.DiscoveryInstance),
		zap.Int("port", port),
	)
	<-ctx.Done()
	adv.Shutdown()
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")
	s.closing.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.Error("Error closing listener", zap.Error(err))
		}
	}

	// Closing the raw connections makes every pending read and write fail;
	// sessions treat that as cancellation and unwind on their own.
	s.mu.Lock()
	for conn, addr := range s.activeConns {
		logging.Info("Closing active connection", zap.String("remote_addr", addr))
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	case <-time.After(shutdownGrace):
		logging.Warn("Shutdown timeout after 10 seconds, forcing close")
	}

	logging.Sync()
	return nil
}

// ActiveConnections returns the number of connections not yet closed.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}
