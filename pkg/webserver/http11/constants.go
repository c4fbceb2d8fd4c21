// Package http11 implements the HTTP/1.1 message model used by the server:
// request parsing, an ordered case-insensitive header store and a
// single-use response writer.
//
// The package performs no routing and owns no sockets. One request and one
// response are exchanged per connection; chunked transfer coding and
// pipelining are not supported.
package http11

// Protocol constants
const (
	// Proto11 is the protocol version written on every status line.
	Proto11 = "HTTP/1.1"

	// Proto10 is accepted on request lines and answered with Proto11.
	Proto10 = "HTTP/1.0"

	crlf = "\r\n"
)

// Request limits (per RFC 7230 recommendations, same defaults as the engine
// this package grew out of).
const (
	// MaxRequestLineSize is the maximum size of the request line in bytes.
	MaxRequestLineSize = 8192

	// MaxHeadersSize is the maximum total size of the header section in bytes.
	MaxHeadersSize = 8192

	// MaxHeaders is the maximum number of header fields on a request.
	MaxHeaders = 100

	// MaxBodySize is the maximum accepted Content-Length (10 MB).
	MaxBodySize = 10 << 20
)

// Header names used by the parser and the lifecycle.
const (
	HeaderContentLength    = "Content-Length"
	HeaderContentType      = "Content-Type"
	HeaderContentEncoding  = "Content-Encoding"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderConnection       = "Connection"
	HeaderLocation         = "Location"
	HeaderSetCookie        = "Set-Cookie"
	HeaderCookie           = "Cookie"
	HeaderAccept           = "Accept"
	HeaderAcceptEncoding   = "Accept-Encoding"
	HeaderVary             = "Vary"
	HeaderHost             = "Host"
)

// Common Content-Type values
const (
	ContentTypePlain = "text/plain; charset=utf-8"
	ContentTypeHTML  = "text/html; charset=utf-8"
	ContentTypeJSON  = "application/json; charset=utf-8"
	ContentTypeForm  = "application/x-www-form-urlencoded"
)
