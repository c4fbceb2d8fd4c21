package http11

import (
	"io"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// Response is an HTTP/1.1 response under construction.
//
// A handler mutates it; the connection lifecycle serializes it exactly once
// with Send. Status defaults to 200 OK. The response is bound to the output
// stream it was created with and must not outlive the connection.
//
// Once Send has run every mutator is a no-op (Write and the setters that
// return an error report ErrResponseSent), so nothing done afterwards is
// observable by the client.
type Response struct {
	w io.Writer

	status int
	header Header
	body   []byte

	sent         bool
	bytesWritten int64
}

// NewResponse creates a response bound to w.
func NewResponse(w io.Writer) *Response {
	return &Response{
		w:      w,
		status: StatusOK,
	}
}

// Status returns the status code. Defaults to 200.
func (r *Response) Status() int {
	return r.status
}

// SetStatus sets the status code.
func (r *Response) SetStatus(code int) error {
	if r.sent {
		return ErrResponseSent
	}
	if code < 100 || code > 999 {
		return ErrInvalidStatusCode
	}
	r.status = code
	return nil
}

// StatusLine returns the status line without CRLF, e.g. "HTTP/1.1 200 OK".
func (r *Response) StatusLine() string {
	return StatusLine(r.status)
}

// Header returns the response headers for modification.
// Headers must be set before Send.
func (r *Response) Header() *Header {
	return &r.header
}

// Body returns a copy of the body accumulated so far.
func (r *Response) Body() []byte {
	return append([]byte(nil), r.body...)
}

// BodyLen returns the body length in bytes.
func (r *Response) BodyLen() int {
	return len(r.body)
}

// Write appends data to the body. It implements io.Writer so templates and
// encoders can render straight into the response.
func (r *Response) Write(data []byte) (int, error) {
	if r.sent {
		return 0, ErrResponseSent
	}
	r.body = append(r.body, data...)
	return len(data), nil
}

// WriteString appends s to the body.
func (r *Response) WriteString(s string) (int, error) {
	if r.sent {
		return 0, ErrResponseSent
	}
	r.body = append(r.body, s...)
	return len(s), nil
}

// SetBody replaces the body.
func (r *Response) SetBody(body []byte) error {
	if r.sent {
		return ErrResponseSent
	}
	r.body = append(r.body[:0], body...)
	return nil
}

// WriteBytes sets status, Content-Type, Content-Length and body in one step.
func (r *Response) WriteBytes(statusCode int, contentType string, data []byte) error {
	if err := r.SetStatus(statusCode); err != nil {
		return err
	}
	if err := r.header.Set(HeaderContentType, contentType); err != nil {
		return err
	}
	if err := r.header.Set(HeaderContentLength, strconv.Itoa(len(data))); err != nil {
		return err
	}
	return r.SetBody(data)
}

// WriteText is a convenience method to write a plain text response.
func (r *Response) WriteText(statusCode int, text string) error {
	return r.WriteBytes(statusCode, ContentTypePlain, []byte(text))
}

// WriteHTML is a convenience method to write an HTML response.
func (r *Response) WriteHTML(statusCode int, html []byte) error {
	return r.WriteBytes(statusCode, ContentTypeHTML, html)
}

// WriteJSON is a convenience method to write an already encoded JSON body.
func (r *Response) WriteJSON(statusCode int, data []byte) error {
	return r.WriteBytes(statusCode, ContentTypeJSON, data)
}

// Redirect sets a 302 Found pointing at location with an empty body.
func (r *Response) Redirect(location string) error {
	if err := r.SetStatus(StatusFound); err != nil {
		return err
	}
	if err := r.header.Set(HeaderLocation, location); err != nil {
		return err
	}
	if err := r.header.Set(HeaderContentLength, "0"); err != nil {
		return err
	}
	return r.SetBody(nil)
}

// SetCookie appends a Set-Cookie header "name=value; attr1; attr2".
func (r *Response) SetCookie(name, value string, attrs ...string) error {
	if r.sent {
		return ErrResponseSent
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(value)
	for _, a := range attrs {
		b.WriteString("; ")
		b.WriteString(a)
	}
	return r.header.Add(HeaderSetCookie, b.String())
}

// Reset discards status, headers and body. Used by the dispatcher to replace
// whatever a failed handler left behind.
func (r *Response) Reset() error {
	if r.sent {
		return ErrResponseSent
	}
	r.status = StatusOK
	r.header.Reset()
	r.body = r.body[:0]
	return nil
}

// Sent reports whether Send has been called.
func (r *Response) Sent() bool {
	return r.sent
}

// BytesWritten returns the number of bytes handed to the stream by Send.
func (r *Response) BytesWritten() int64 {
	return r.bytesWritten
}

// Send serializes the response onto the bound stream: status line, each
// header as "name: value" in insertion order, a blank line, then the body
// verbatim. The whole message goes out in one Write, followed by Flush when
// the stream supports it.
//
// Send is single-use: a second call returns ErrResponseSent. Any I/O
// failure is returned as *WriteError; the response still counts as sent.
func (r *Response) Send() error {
	if r.sent {
		return ErrResponseSent
	}
	r.sent = true

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	r.appendTo(buf)

	n, err := r.w.Write(buf.B)
	r.bytesWritten = int64(n)
	if err != nil {
		return &WriteError{Err: err}
	}

	if flusher, ok := r.w.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			return &WriteError{Err: err}
		}
	}
	return nil
}

// Send serializes resp onto its bound stream. See Response.Send.
func Send(resp *Response) error {
	return resp.Send()
}

func (r *Response) appendTo(buf *bytebufferpool.ByteBuffer) {
	buf.WriteString(StatusLine(r.status))
	buf.WriteString(crlf)
	r.header.VisitAll(func(name, value string) bool {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString(crlf)
		return true
	})
	buf.WriteString(crlf)
	buf.Write(r.body)
}
