package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/muurk/flexgate/internal/discovery"
	"github.com/muurk/flexgate/internal/ui"
)

// Probe command flags
var (
	probePath     string
	probeWSPath   string
	probeMessage  string
	probeTimeout  time.Duration
	probeDiscover bool
	probeVerbose  bool
)

var probeCmd = &cobra.Command{
	Use:   "probe [host:port]",
	Short: "Check a running server",
	Long: `Probe a flexgate server the way a client would.

The probe fetches a document over HTTP, opens a WebSocket, sends a text
message and waits for it to come back. Each step is timed.

Without a target, --discover looks for servers advertised over mDNS and
probes the first one found.`,
	Example: `  # Probe a local server
  flexgate probe 127.0.0.1:8080

  # Fetch a specific document and show what was exchanged
  flexgate probe 127.0.0.1:8080 --path /index.html --verbose

  # Find a server on the local network
  flexgate probe --discover`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	f := probeCmd.Flags()
	f.StringVar(&probePath, "path", "/", "Document to GET")
	f.StringVar(&probeWSPath, "ws-path", "/", "Target for the WebSocket handshake")
	f.StringVar(&probeMessage, "message", "Howdy.", "Text sent over the WebSocket")
	f.DurationVar(&probeTimeout, "timeout", defaultProbeTimeout, "Timeout for each step")
	f.BoolVar(&probeDiscover, "discover", false, "Find the server over mDNS")
	f.BoolVar(&probeVerbose, "verbose", false, "Show the request and response transcript")
}

// probeOptions holds everything a probe needs, so it can run without cobra.
type probeOptions struct {
	Target   string
	Path     string
	WSPath   string
	Message  string
	Timeout  time.Duration
	Discover bool
}

const defaultProbeTimeout = 5 * time.Second

var probeSteps = []string{
	"Resolve target",
	"HTTP GET",
	"WebSocket handshake",
	"WebSocket echo",
}

func runProbe(cmd *cobra.Command, args []string) error {
	opts := probeOptions{
		Path:     probePath,
		WSPath:   probeWSPath,
		Message:  probeMessage,
		Timeout:  probeTimeout,
		Discover: probeDiscover,
	}
	if len(args) == 1 {
		opts.Target = args[0]
	}
	if opts.Target == "" && !opts.Discover {
		return errors.New("a target is required unless --discover is given")
	}

	target := opts.Target
	if target == "" {
		target = "(mDNS)"
	}
	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Probe",
		Command: "flexgate " + strings.Join(append([]string{"probe"}, args...), " "),
		Params: []ui.Param{
			{Key: "Target", Value: target},
			{Key: "Path", Value: opts.Path},
			{Key: "Timeout", Value: opts.Timeout.String()},
		},
		StepNames: probeSteps,
		Verbose:   probeVerbose,
		Output:    cmd.OutOrStdout(),
		Troubleshooting: []string{
			"Is 'flexgate serve' running on the target address?",
			"A 404 means the document is missing from the server's doc root",
			"Servers behind TLS terminators are not supported; probe the plain port",
			"mDNS discovery needs the server to run with --advertise",
		},
	})

	_, err := runner.Run(cmd.Context(), func(ctx context.Context, onStep ui.StepCallback, t *ui.Transcript) ([]ui.Param, error) {
		return probe(ctx, opts, onStep, t)
	})
	return err
}

// probe runs every step in order and stops at the first failure.
func probe(ctx context.Context, opts probeOptions, onStep ui.StepCallback, t *ui.Transcript) ([]ui.Param, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var details []ui.Param

	// Step 1: find the server
	onStep(1, ui.StepRunning, "")
	addr := opts.Target
	if addr == "" {
		inst, err := discoverServer(ctx, opts.Timeout)
		if err != nil {
			onStep(1, ui.StepFailed, "")
			return nil, err
		}
		addr = inst.Addr()
		t.Add(ui.Note, "discovered %s", inst)
		onStep(1, ui.StepComplete, inst.Name)
	} else {
		onStep(1, ui.StepSkipped, "given")
	}
	details = append(details, ui.Param{Key: "Server", Value: addr})
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}

	// Step 2: plain HTTP request
	onStep(2, ui.StepRunning, "")
	status, server, elapsed, err := probeHTTP(ctx, addr, opts, t)
	if err != nil {
		onStep(2, ui.StepFailed, "")
		return nil, err
	}
	onStep(2, ui.StepComplete, elapsed.Round(time.Microsecond).String())
	details = append(details, ui.Param{Key: "HTTP status", Value: status})
	if server != "" {
		details = append(details, ui.Param{Key: "Server header", Value: server})
	}

	// Step 3: upgrade
	onStep(3, ui.StepRunning, "")
	start := time.Now()
	ws, err := dialWebSocket(ctx, addr, opts, t)
	if err != nil {
		onStep(3, ui.StepFailed, "")
		return nil, err
	}
	defer func() { _ = ws.Close() }()
	onStep(3, ui.StepComplete, time.Since(start).Round(time.Microsecond).String())

	// Step 4: round trip
	onStep(4, ui.StepRunning, "")
	rtt, err := echo(ws, opts, t)
	if err != nil {
		onStep(4, ui.StepFailed, "")
		return nil, err
	}
	onStep(4, ui.StepComplete, rtt.Round(time.Microsecond).String())
	details = append(details, ui.Param{Key: "Echo RTT", Value: rtt.Round(time.Microsecond).String()})

	return details, nil
}

func discoverServer(ctx context.Context, timeout time.Duration) (*discovery.Instance, error) {
	var found []*discovery.Instance
	var err error
	if timeout > 0 {
		scanner := discovery.NewScanner()
		scanner.Timeout = timeout
		found, err = scanner.Scan(ctx)
	} else {
		found, err = discovery.QuickScan(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	if len(found) == 0 {
		return nil, errors.New("no flexgate servers found on the local network")
	}
	return found[0], nil
}

func probeHTTP(ctx context.Context, addr string, opts probeOptions, t *ui.Transcript) (status, server string, elapsed time.Duration, err error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	u := url.URL{Scheme: "http", Host: addr, Path: opts.Path}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to build request: %w", err)
	}
	t.Add(ui.Sent, "GET %s HTTP/1.1", u.RequestURI())

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to read response body: %w", err)
	}
	elapsed = time.Since(start)

	t.Add(ui.Received, "%s %s", resp.Proto, resp.Status)
	for _, k := range []string{"Server", "Content-Type", "Content-Length"} {
		if v := resp.Header.Get(k); v != "" {
			t.Add(ui.Received, "%s: %s", k, v)
		}
	}
	t.Add(ui.Note, "%d body bytes", len(body))

	if resp.StatusCode != http.StatusOK {
		return "", "", 0, fmt.Errorf("GET %s returned %s", opts.Path, resp.Status)
	}
	return resp.Status, resp.Header.Get("Server"), elapsed, nil
}

func dialWebSocket(ctx context.Context, addr string, opts probeOptions, t *ui.Transcript) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: opts.Timeout}
	u := url.URL{Scheme: "ws", Host: addr, Path: opts.WSPath}
	t.Add(ui.Sent, "GET %s (Upgrade: websocket)", u.RequestURI())

	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil {
		t.Add(ui.Received, "%s %s", resp.Proto, resp.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("WebSocket handshake failed: %w", err)
	}
	return ws, nil
}

// echo sends the probe message and waits for it to come back unchanged.
func echo(ws *websocket.Conn, opts probeOptions, t *ui.Transcript) (time.Duration, error) {
	deadline := time.Now().Add(opts.Timeout)
	_ = ws.SetWriteDeadline(deadline)
	_ = ws.SetReadDeadline(deadline)

	start := time.Now()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(opts.Message)); err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	t.Add(ui.Sent, "text %q", opts.Message)

	mt, data, err := ws.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("no echo received: %w", err)
	}
	rtt := time.Since(start)
	t.Add(ui.Received, "%s %q", messageTypeName(mt), data)

	if mt != websocket.TextMessage || string(data) != opts.Message {
		return 0, fmt.Errorf("echo mismatch: got %q, want %q", data, opts.Message)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.Add(ui.Sent, "close 1000")
	return rtt, nil
}

func messageTypeName(mt int) string {
	switch mt {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("type %d", mt)
	}
}
