package http11

import (
	"errors"
	"fmt"
)

// Parser errors
var (
	// ErrEmptyRequest indicates the peer closed the stream before sending a byte.
	// No response is written for it.
	ErrEmptyRequest = errors.New("http11: empty request")

	// ErrMalformedRequest indicates the request could not be framed:
	// bad request line, bad header line or bad Content-Length.
	ErrMalformedRequest = errors.New("http11: malformed request")

	// ErrUnsupportedMethod indicates the method token is not recognised.
	ErrUnsupportedMethod = errors.New("http11: unsupported method")

	// ErrRequestLineTooLarge indicates the request line exceeds the configured limit.
	ErrRequestLineTooLarge = fmt.Errorf("%w: request line too large", ErrMalformedRequest)

	// ErrHeadersTooLarge indicates the header section exceeds the configured limits.
	ErrHeadersTooLarge = fmt.Errorf("%w: headers too large", ErrMalformedRequest)

	// ErrBodyTooLarge indicates Content-Length exceeds the configured limit.
	ErrBodyTooLarge = fmt.Errorf("%w: body too large", ErrMalformedRequest)

	// ErrInvalidContentLength indicates a negative, non-numeric or conflicting Content-Length.
	ErrInvalidContentLength = fmt.Errorf("%w: invalid Content-Length", ErrMalformedRequest)
)

// Message model errors
var (
	// ErrInvalidHeader indicates an empty header name or a name/value carrying CR or LF.
	ErrInvalidHeader = errors.New("http11: invalid header")

	// ErrResponseSent indicates the response was already serialized.
	ErrResponseSent = errors.New("http11: response already sent")

	// ErrInvalidStatusCode indicates a status code outside 100-999.
	ErrInvalidStatusCode = errors.New("http11: invalid status code")
)

// StreamError reports an I/O failure while reading a request from the peer.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("http11: read failed: %v", e.Err)
}

// Unwrap returns the underlying I/O error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// WriteError reports that a response could not be delivered to the peer.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("http11: write failed: %v", e.Err)
}

// Unwrap returns the underlying I/O error.
func (e *WriteError) Unwrap() error {
	return e.Err
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedRequest}, args...)...)
}
