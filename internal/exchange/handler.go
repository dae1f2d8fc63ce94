package exchange

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Error bodies sent to clients.
const (
	BodyUnknownMethod  = "Unknown HTTP-method"
	BodyIllegalTarget  = "Illegal request-target"
	BodyMalformed      = "Malformed request"
	BodyHeaderTooLarge = "Request header too large"
	notFoundFormat     = "The resource '%s' was not found."
	serverErrorFormat  = "An error occurred: '%s'"
	defaultContentType = "application/text"
)

// Handle serves req from the files below docRoot. It never returns nil;
// every failure is expressed as an error response.
func Handle(docRoot string, req *http.Request) Response {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return BadRequest(req, BodyUnknownMethod)
	}

	target := req.URL.Path
	if !legalTarget(target) || strings.Contains(req.RequestURI, "..") {
		return BadRequest(req, BodyIllegalTarget)
	}

	path := resolve(docRoot, target)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NotFound(req, target)
		}
		return ServerError(req, err.Error())
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return ServerError(req, err.Error())
	}
	if info.IsDir() {
		_ = f.Close()
		return NotFound(req, target)
	}

	contentType := MimeType(path)
	if req.Method == http.MethodHead {
		_ = f.Close()
		return newEmptyResponse(req, info.Size(), contentType)
	}
	return newFileResponse(req, f, info.Size(), contentType)
}

// BadRequest builds a 400 response. A nil req means the request could not
// be parsed, in which case the connection is always closed.
func BadRequest(req *http.Request, why string) Response {
	return newStringResponse(req, http.StatusBadRequest, req != nil && !req.Close, why)
}

// NotFound builds a 404 response for target.
func NotFound(req *http.Request, target string) Response {
	return newStringResponse(req, http.StatusNotFound, !req.Close, fmt.Sprintf(notFoundFormat, target))
}

// ServerError builds a 500 response describing what.
func ServerError(req *http.Request, what string) Response {
	return newStringResponse(req, http.StatusInternalServerError, !req.Close, fmt.Sprintf(serverErrorFormat, what))
}

// Reject builds a response with an arbitrary status that always closes
// the connection. Used when a request cannot be served at all, such as a
// failed protocol upgrade.
func Reject(req *http.Request, status int, why string) Response {
	return newStringResponse(req, status, false, why)
}

// legalTarget requires an absolute path without parent references.
func legalTarget(target string) bool {
	return target != "" && target[0] == '/' && !strings.Contains(target, "..")
}

func resolve(docRoot, target string) string {
	if strings.HasSuffix(target, "/") {
		target += "index.html"
	}
	return filepath.Join(docRoot, filepath.FromSlash(target))
}

var mimeTypes = map[string]string{
	".htm":  "text/html",
	".html": "text/html",
	".php":  "text/html",
	".css":  "text/css",
	".txt":  "text/plain",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".swf":  "application/x-shockwave-flash",
	".flv":  "video/x-flv",
	".png":  "image/png",
	".jpe":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".ico":  "image/vnd.microsoft.icon",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".svg":  "image/svg+xml",
	".svgz": "image/svg+xml",
}

// MimeType returns the content type for path based on its extension.
func MimeType(path string) string {
	if t, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return defaultContentType
}
