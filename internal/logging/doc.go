// Package logging provides structured logging for the flexgate server.
//
// This package wraps a zap logger with convenience functions for common logging
// patterns used throughout the server, plus a few connection-specific helpers.
//
// # Log Levels
//
//   - Debug: preamble hex dumps, WebSocket payloads, benign closes
//   - Info: connection events, requests, responses, upgrades
//   - Warn: rejected connections, configuration reloads that failed
//   - Error: session failures reported through LogFailure
//
// # Structured Logging
//
//	logging.Info("WebSocket session started",
//	    zap.String("remote_addr", "192.168.1.100:51234"),
//	    zap.String("session_id", id),
//	)
//
// # Configuration
//
// Initialize logging at server startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When no level is given and FLEXGATE_LOG_LEVEL is unset the package stays
// silent. SetLevel adjusts a running logger and is used by config reloads.
//
// All functions are safe for concurrent use.
package logging
