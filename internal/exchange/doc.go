// Package exchange turns a parsed HTTP request into a response by serving
// static files from a document root.
//
// The HTTP session treats the result as opaque: it only asks a Response
// whether it keeps the connection alive, writes it, and closes it. Three
// shapes implement Response: an in-memory string body for error pages, an
// open file streamed from disk, and a header-only reply for HEAD.
//
// Targets must be absolute and may not contain "..". A target ending in "/"
// serves index.html from that directory.
package exchange
