// Package statusline extracts the HTTP status from CGI-style responses.
//
// Worker processes answer with CGI response headers, which carry the status
// in a "Status:" header instead of an initial "HTTP/1.1 ..." line. A server
// fronting such workers needs the status to build a proper response line.
// The extractor buffers response data until the full header has been seen,
// then exposes the extracted status line and everything buffered so far.
package statusline

import (
	"bytes"
	"strings"
)

// reasonPhrases maps common HTTP status codes to their status messages.
// Stolen from Rack, which stole it from Mongrel.
var reasonPhrases = map[string]string{
	"100": "Continue",
	"101": "Switching Protocols",
	"200": "OK",
	"201": "Created",
	"202": "Accepted",
	"203": "Non-Authoritative Information",
	"204": "No Content",
	"205": "Reset Content",
	"206": "Partial Content",
	"300": "Multiple Choices",
	"301": "Moved Permanently",
	"302": "Found",
	"303": "See Other",
	"304": "Not Modified",
	"305": "Use Proxy",
	"307": "Temporary Redirect",
	"400": "Bad Request",
	"401": "Unauthorized",
	"402": "Payment Required",
	"403": "Forbidden",
	"404": "Not Found",
	"405": "Method Not Allowed",
	"406": "Not Acceptable",
	"407": "Proxy Authentication Required",
	"408": "Request Timeout",
	"409": "Conflict",
	"410": "Gone",
	"411": "Length Required",
	"412": "Precondition Failed",
	"413": "Request Entity Too Large",
	"414": "Request-URI Too Large",
	"415": "Unsupported Media Type",
	"416": "Requested Range Not Satisfiable",
	"417": "Expectation Failed",
	"500": "Internal Server Error",
	"501": "Not Implemented",
	"502": "Bad Gateway",
	"503": "Service Unavailable",
	"504": "Gateway Timeout",
	"505": "HTTP Version Not Supported",
}

const (
	statusHeader     = "Status: "
	crlf             = "\r\n"
	defaultStatus    = "200 OK\r\n"
	headerTerminator = "\r\n\r\n"
)

// Extractor incrementally consumes HTTP response data and extracts the
// status line from the header section.
//
// Keep calling Feed until it returns true, then read StatusLine and Buffer.
// It is safe to feed excess data; the body is buffered, never searched.
type Extractor struct {
	buffer      []byte
	searchStart int
	headerEnd   int
	headerDone  bool
	statusLine  string
}

// New creates an Extractor with the default status line "200 OK\r\n".
func New() *Extractor {
	return &Extractor{statusLine: defaultStatus}
}

// Feed appends response data and reports whether the full header has been
// received. Once it has returned true, further calls return true without
// buffering.
func (e *Extractor) Feed(data []byte) bool {
	if e.headerDone {
		return true
	}
	e.buffer = append(e.buffer, data...)

	// Incremental scan: bytes before searchStart have already been ruled
	// out, so refeeding never rescans them.
	for ; e.searchStart+3 < len(e.buffer); e.searchStart++ {
		if string(e.buffer[e.searchStart:e.searchStart+4]) == headerTerminator {
			e.headerDone = true
			e.headerEnd = e.searchStart + len(headerTerminator)
			e.extractStatusLine()
			return true
		}
	}
	return false
}

// extractStatusLine locates the Status header and rewrites statusLine.
// Without a Status header the default value stays in place.
func (e *Extractor) extractStatusLine() {
	header := e.buffer[:e.headerEnd]

	var start int
	if bytes.HasPrefix(header, []byte(statusHeader)) {
		start = len(statusHeader)
	} else {
		idx := bytes.Index(header, []byte(crlf+statusHeader))
		if idx < 0 {
			return
		}
		start = idx + len(crlf) + len(statusHeader)
	}

	end := bytes.Index(header[start:], []byte(crlf))
	if end < 0 {
		return
	}
	line := string(header[start : start+end+len(crlf)])

	// A recognized code yields a normalized "Code SP Reason CRLF" line;
	// anything else passes through as the helper wrote it.
	if len(line) >= 3 {
		if phrase, ok := reasonPhrases[line[:3]]; ok {
			line = line[:3] + " " + phrase + crlf
		}
	}
	e.statusLine = line
}

// StatusLine returns the extracted status line, including the trailing
// CRLF. The default is "200 OK\r\n" when no Status header was present.
func (e *Extractor) StatusLine() string {
	return e.statusLine
}

// StatusCode returns the numeric part of the status line, e.g. "404".
func (e *Extractor) StatusCode() string {
	if len(e.statusLine) < 3 {
		return ""
	}
	return strings.TrimSpace(e.statusLine[:3])
}

// Buffer returns all data fed so far.
func (e *Extractor) Buffer() []byte {
	return e.buffer
}
