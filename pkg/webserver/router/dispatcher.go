package router

import (
	"runtime/debug"
	"time"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
)

// Bodies written by the dispatcher itself.
const (
	notFoundBody      = "Not Found"
	internalErrorBody = "Internal Server Error"
)

// Outcome describes what Dispatch did.
type Outcome struct {
	// Route is the name of the binding that ran; empty when nothing matched.
	Route    string
	Matched  bool
	Duration time.Duration

	// Err is the *HandlerError behind a 500, kept for reporting.
	// The response already reflects it.
	Err error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNotFound replaces the default 404 body. The status stays 404 whatever
// the handler sets, and a failing handler falls back to the default body.
func WithNotFound(h Handler) Option {
	return func(d *Dispatcher) {
		d.notFound = h
	}
}

// WithClock overrides the time source used for Outcome.Duration.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher runs the handler selected by a Table.
// It is safe for concurrent use.
type Dispatcher struct {
	table    *Table
	notFound Handler
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over table.
func NewDispatcher(table *Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table: table,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Table returns the route table.
func (d *Dispatcher) Table() *Table {
	return d.table
}

// Dispatch selects the first matching binding and invokes its handler
// exactly once. It never fails:
//   - no binding matches: 404, no handler runs
//   - the handler returns an error or panics: the response is reset to 500
//     and the cause is reported in Outcome.Err
func (d *Dispatcher) Dispatch(req *http11.Request, resp *http11.Response) Outcome {
	b, ok := d.table.Match(req.Method(), req.Path())
	if !ok {
		d.writeNotFound(req, resp)
		return Outcome{}
	}

	start := d.now()
	err := invoke(b.Handler, req, resp)
	out := Outcome{
		Route:    b.Name,
		Matched:  true,
		Duration: d.now().Sub(start),
	}
	if err != nil {
		out.Err = &HandlerError{Route: b.Name, Err: err}
		resp.Reset()
		resp.WriteText(http11.StatusInternalServerError, internalErrorBody)
	}
	return out
}

func (d *Dispatcher) writeNotFound(req *http11.Request, resp *http11.Response) {
	resp.Reset()
	if d.notFound != nil {
		if err := invoke(d.notFound, req, resp); err == nil {
			resp.SetStatus(http11.StatusNotFound)
			return
		}
		resp.Reset()
	}
	resp.WriteText(http11.StatusNotFound, notFoundBody)
}

// invoke runs h and converts a panic into a *PanicError.
func invoke(h Handler, req *http11.Request, resp *http11.Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Handle(req, resp)
}
