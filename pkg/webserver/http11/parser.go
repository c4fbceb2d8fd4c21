package http11

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Limits bounds how much of the stream the parser is willing to buffer.
// A zero field takes the package default.
type Limits struct {
	// MaxRequestLineSize bounds the request line, excluding CRLF.
	// Default: MaxRequestLineSize (8 KB)
	MaxRequestLineSize int `yaml:"max_request_line_size"`

	// MaxHeadersSize bounds the header section, including line terminators.
	// Default: MaxHeadersSize (8 KB)
	MaxHeadersSize int `yaml:"max_headers_size"`

	// MaxHeaders bounds the number of header fields.
	// Default: MaxHeaders (100)
	MaxHeaders int `yaml:"max_headers"`

	// MaxBodySize bounds Content-Length.
	// Default: MaxBodySize (10 MB)
	MaxBodySize int64 `yaml:"max_body_size"`
}

// DefaultLimits returns the default parser limits.
func DefaultLimits() Limits {
	return Limits{
		MaxRequestLineSize: MaxRequestLineSize,
		MaxHeadersSize:     MaxHeadersSize,
		MaxHeaders:         MaxHeaders,
		MaxBodySize:        MaxBodySize,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxRequestLineSize <= 0 {
		l.MaxRequestLineSize = d.MaxRequestLineSize
	}
	if l.MaxHeadersSize <= 0 {
		l.MaxHeadersSize = d.MaxHeadersSize
	}
	if l.MaxHeaders <= 0 {
		l.MaxHeaders = d.MaxHeaders
	}
	if l.MaxBodySize <= 0 {
		l.MaxBodySize = d.MaxBodySize
	}
	return l
}

// Parser reads exactly one HTTP/1.1 request from a stream.
//
// Framing rules:
//   - request line: exactly three whitespace-separated tokens
//   - header lines: "name: value", split on the first colon, value trimmed;
//     a line without a colon is rejected rather than dropped
//   - body: exactly Content-Length bytes; no Content-Length means no body,
//     even if the stream carries more data (chunked coding is not supported)
//
// A Parser holds no per-request state and is safe for concurrent use.
type Parser struct {
	limits Limits
}

// NewParser creates a parser with the given limits.
func NewParser(limits Limits) *Parser {
	return &Parser{limits: limits.withDefaults()}
}

var defaultParser = NewParser(Limits{})

// Parse reads one request from r using the default limits.
func Parse(r io.Reader) (*Request, error) {
	return defaultParser.Parse(r)
}

// Parse reads one request from r.
//
// Errors:
//   - ErrEmptyRequest: r yielded io.EOF before any byte
//   - ErrUnsupportedMethod: the method token is not recognised
//   - ErrMalformedRequest (or an error wrapping it): framing failed, including
//     EOF in the middle of the request
//   - *StreamError: any other read failure
//
// Bytes after the body are left unread in r (or in r's buffer, when r is not
// already a *bufio.Reader).
func (p *Parser) Parse(r io.Reader) (*Request, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	req := &Request{contentLength: -1}

	if err := p.parseRequestLine(br, req); err != nil {
		return nil, err
	}
	if err := p.parseHeaders(br, req); err != nil {
		return nil, err
	}
	if err := p.readBody(br, req); err != nil {
		return nil, err
	}
	return req, nil
}

// parseRequestLine parses "METHOD SP target SP version".
func (p *Parser) parseRequestLine(br *bufio.Reader, req *Request) error {
	line, n, err := readLine(br, p.limits.MaxRequestLineSize)
	if err != nil {
		if errors.Is(err, errLineTooLong) {
			return ErrRequestLineTooLarge
		}
		if err == io.EOF {
			if n == 0 {
				return ErrEmptyRequest
			}
			return malformed("unexpected EOF in request line")
		}
		return &StreamError{Err: err}
	}

	tokens := strings.Fields(line)
	if len(tokens) != 3 {
		return malformed("request line %q has %d tokens, want 3", line, len(tokens))
	}

	method := ParseMethod(tokens[0])
	if method == MethodUnknown {
		return ErrUnsupportedMethod
	}

	path, query, err := splitTarget(tokens[1])
	if err != nil {
		return err
	}

	proto := tokens[2]
	if proto != Proto11 && proto != Proto10 {
		return malformed("unsupported protocol version %q", proto)
	}

	req.method = method
	req.path = path
	req.query = query
	req.proto = proto
	req.requestLine = line
	return nil
}

// parseHeaders reads header lines up to and including the empty line.
func (p *Parser) parseHeaders(br *bufio.Reader, req *Request) error {
	total := 0
	contentLength := int64(-1)
	hasTransferEncoding := false

	for {
		remaining := p.limits.MaxHeadersSize - total
		if remaining <= 0 {
			return ErrHeadersTooLarge
		}

		line, n, err := readLine(br, remaining)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return ErrHeadersTooLarge
			}
			if err == io.EOF {
				return malformed("unexpected EOF in headers")
			}
			return &StreamError{Err: err}
		}
		total += n

		if line == "" {
			break
		}

		if req.header.Len() >= p.limits.MaxHeaders {
			return ErrHeadersTooLarge
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return malformed("header line %q has no colon", line)
		}
		// RFC 7230 §3.2.4: no whitespace between field name and colon, and
		// obsolete line folding is rejected.
		if name == "" || strings.ContainsAny(name, " \t") {
			return malformed("invalid header name %q", name)
		}
		value = strings.Trim(value, " \t")

		if err := req.header.Add(name, value); err != nil {
			return malformed("header %q: %v", name, err)
		}

		switch {
		case equalFold(name, HeaderContentLength):
			n, err := parseContentLength(value)
			if err != nil {
				return err
			}
			// Duplicate Content-Length headers must agree (RFC 7230 §3.3.3)
			if contentLength >= 0 && contentLength != n {
				return ErrInvalidContentLength
			}
			contentLength = n
		case equalFold(name, HeaderTransferEncoding):
			hasTransferEncoding = true
		}
	}

	// Content-Length together with Transfer-Encoding is a smuggling vector
	if contentLength >= 0 && hasTransferEncoding {
		return malformed("both Content-Length and Transfer-Encoding present")
	}
	if contentLength > p.limits.MaxBodySize {
		return ErrBodyTooLarge
	}

	req.contentLength = contentLength
	return nil
}

// readBody reads exactly Content-Length bytes.
func (p *Parser) readBody(br *bufio.Reader, req *Request) error {
	if req.contentLength <= 0 {
		return nil
	}

	body := make([]byte, req.contentLength)
	if _, err := io.ReadFull(br, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return malformed("body shorter than Content-Length %d", req.contentLength)
		}
		return &StreamError{Err: err}
	}
	req.body = body
	return nil
}

var errLineTooLong = errors.New("http11: line too long")

// readLine reads one line terminated by LF (CRLF preferred) and returns it
// without the terminator, together with the raw byte count consumed.
// similar to readLineSlice() in net/textproto/reader.go
func readLine(br *bufio.Reader, limit int) (string, int, error) {
	var line []byte
	for {
		frag, err := br.ReadSlice('\n')
		line = append(line, frag...)
		// +2 leaves room for the CRLF terminator
		if len(line) > limit+2 {
			return "", len(line), errLineTooLong
		}
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return "", len(line), err
	}

	n := len(line)
	line = line[:len(line)-1]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if len(line) > limit {
		return "", n, errLineTooLong
	}
	return string(line), n, nil
}

// parseContentLength accepts ASCII digits only: no sign, no spaces, no lists.
func parseContentLength(v string) (int64, error) {
	if v == "" {
		return -1, ErrInvalidContentLength
	}
	var n int64
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < '0' || c > '9' {
			return -1, ErrInvalidContentLength
		}
		// 18 digits cannot overflow int64
		if i >= 18 {
			return -1, ErrBodyTooLarge
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}
