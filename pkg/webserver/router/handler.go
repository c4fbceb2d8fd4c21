// Package router maps requests to handlers.
//
// A Table is an ordered list of bindings built once at startup and shared
// read-only by every connection. The first binding whose method equals the
// request method and whose pattern matches the whole path wins. A Dispatcher
// runs the winner and turns every failure into a response, so callers never
// see an error from it.
package router

import (
	"fmt"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
)

// Handler produces a response for a request.
//
// Handlers fill in resp and return. They must not call resp.Send; the
// connection does that once the dispatcher is done. A returned error (or a
// panic) discards whatever the handler wrote and yields a 500.
type Handler interface {
	Handle(req *http11.Request, resp *http11.Response) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(req *http11.Request, resp *http11.Response) error

// Handle calls f(req, resp).
func (f HandlerFunc) Handle(req *http11.Request, resp *http11.Response) error {
	return f(req, resp)
}

// HandlerError reports that the handler bound to Route failed.
// It never reaches the client; the dispatcher hands it to the caller for
// reporting only.
type HandlerError struct {
	Route string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("router: handler %q failed: %v", e.Route, e.Err)
}

// Unwrap returns the handler's error, or the *PanicError for a panic.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
