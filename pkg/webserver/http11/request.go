package http11

import (
	"strings"
)

// Request represents a parsed HTTP/1.1 request.
//
// A Request is immutable once constructed: every accessor returns a value or
// a copy, so handlers running concurrently on other connections can never
// observe each other's requests and a handler cannot alter what later
// observers see.
type Request struct {
	method      Method
	path        string
	query       string
	proto       string
	requestLine string
	header      Header
	body        []byte

	// contentLength is -1 when the header was absent
	contentLength int64
	remoteAddr    string
}

// NewRequest builds a request without going through the parser.
// The target is split into path and query the same way the parser does.
// It returns ErrUnsupportedMethod or ErrMalformedRequest under the same
// rules as Parse.
func NewRequest(method Method, target string, header Header, body []byte) (*Request, error) {
	if !method.Valid() {
		return nil, ErrUnsupportedMethod
	}
	path, query, err := splitTarget(target)
	if err != nil {
		return nil, err
	}

	req := &Request{
		method:        method,
		path:          path,
		query:         query,
		proto:         Proto11,
		requestLine:   method.String() + " " + target + " " + Proto11,
		header:        header.Clone(),
		contentLength: -1,
	}
	if len(body) > 0 {
		req.body = append([]byte(nil), body...)
		req.contentLength = int64(len(body))
	}
	return req, nil
}

// Method returns the request method.
func (r *Request) Method() Method {
	return r.method
}

// Path returns the request path without the query string.
func (r *Request) Path() string {
	return r.path
}

// Query returns the raw query string without the leading '?'.
func (r *Request) Query() string {
	return r.query
}

// Target returns the request target as it appeared on the request line.
func (r *Request) Target() string {
	if r.query == "" {
		return r.path
	}
	return r.path + "?" + r.query
}

// Proto returns the protocol version from the request line.
func (r *Request) Proto() string {
	return r.proto
}

// RequestLine returns the raw first line, retained for diagnostics.
func (r *Request) RequestLine() string {
	return r.requestLine
}

// Header returns a copy of the request headers.
func (r *Request) Header() Header {
	return r.header.Clone()
}

// HeaderValue returns the first value of the named header (case-insensitive).
func (r *Request) HeaderValue(name string) string {
	return r.header.Get(name)
}

// VisitHeaders calls visitor for each header in order without copying.
func (r *Request) VisitHeaders(visitor func(name, value string) bool) {
	r.header.VisitAll(visitor)
}

// Body returns a copy of the request body; empty if none was sent.
func (r *Request) Body() []byte {
	if len(r.body) == 0 {
		return []byte{}
	}
	return append([]byte(nil), r.body...)
}

// BodyString returns the body as a string.
func (r *Request) BodyString() string {
	return string(r.body)
}

// ContentLength returns the declared Content-Length, or -1 if absent.
func (r *Request) ContentLength() int64 {
	return r.contentLength
}

// RemoteAddr returns the peer address, if the request came off a connection.
func (r *Request) RemoteAddr() string {
	return r.remoteAddr
}

// WithRemoteAddr returns a shallow copy carrying the given peer address.
// The original request is left untouched.
func (r *Request) WithRemoteAddr(addr string) *Request {
	clone := *r
	clone.remoteAddr = addr
	return &clone
}

// Cookie returns the value of the named cookie from the Cookie header(s).
func (r *Request) Cookie(name string) (string, bool) {
	for _, line := range r.header.Values(HeaderCookie) {
		for _, pair := range strings.Split(line, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && k == name {
				return v, true
			}
		}
	}
	return "", false
}

// Equal reports whether two requests are structurally equal.
// The peer address is not compared.
func (r *Request) Equal(o *Request) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.method != o.method || r.path != o.path || r.query != o.query ||
		r.proto != o.proto || r.requestLine != o.requestLine ||
		r.contentLength != o.contentLength || string(r.body) != string(o.body) ||
		len(r.header.fields) != len(o.header.fields) {
		return false
	}
	for i, f := range r.header.fields {
		if f != o.header.fields[i] {
			return false
		}
	}
	return true
}

// splitTarget separates path and query and validates the path form.
// Origin-form targets must start with '/'; the asterisk-form "*" is accepted.
func splitTarget(target string) (path, query string, err error) {
	path, query, _ = strings.Cut(target, "?")
	if path == "" {
		return "", "", malformed("empty request path")
	}
	if path[0] != '/' && path != "*" {
		return "", "", malformed("request path %q must start with '/'", path)
	}
	return path, query, nil
}
