// Package server accepts TCP connections and serves HTTP and WebSocket
// sessions on the same port.
//
// # Connection Flow
//
// Every accepted connection goes through three owners in turn:
//
//  1. The detector peeks at the first bytes. A TLS ClientHello is answered
//     with a handshake_failure alert and closed; anything else is plain.
//  2. An HTTPSession reads requests one at a time, answers each from the
//     document root, and rearms an idle deadline before every read.
//  3. A WebSocket upgrade request releases the connection to a
//     WebSocketSession, which echoes or broadcasts every message it reads.
//
// Ownership moves with Conn.Release. The previous owner keeps an inert
// handle and never touches the stream again; bytes it had already
// buffered move with the stream.
//
// # Error Handling
//
// Session endings are classified by ErrorKind. PeerClosed and
// CancelledByTimer are benign: idle timeouts, clean closes and shutdown
// are only debug-logged. Every other kind goes to the FailureReporter,
// which logs by default.
//
// # WebSocket Sessions
//
// A session's outbound queue is written by a single goroutine at a time,
// in enqueue order, and the front message stays queued until its write
// completes. Sessions join the Hub after their handshake and leave it when
// destroyed; Broadcast delivers to the sessions joined at call time.
// Destruction waits for the read loop, any write burst, any control reply
// and the keepalive timer to finish.
//
// # Usage Example
//
//	srv, err := server.New(&server.Config{
//	    Port:          8080,
//	    DocRoot:       "./public",
//	    WebSocketMode: config.ModeBroadcast,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Start blocks until SIGINT/SIGTERM or a fatal error
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// Shutdown stops the listener, closes every tracked connection and waits
// up to ten seconds for session goroutines to unwind.
package server
