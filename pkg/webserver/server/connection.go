package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/router"
)

// State is the lifecycle state of a connection.
type State int32

const (
	// StateOpen is the state of an accepted connection before any byte is read.
	StateOpen State = iota
	// StateParsing indicates the request is being read off the stream.
	StateParsing
	// StateDispatching indicates the handler is running.
	StateDispatching
	// StateResponding indicates the response is being written.
	StateResponding
	// StateClosed is terminal.
	StateClosed
)

// String returns the string representation of the connection state
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateParsing:
		return "parsing"
	case StateDispatching:
		return "dispatching"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// After an error response the peer may still be sending. Up to
// maxDrainBytes of that input are discarded, for at most drainTimeout,
// before the socket closes; closing with unread input resets TCP
// connections and can destroy the response in flight.
const (
	maxDrainBytes = 256 << 10
	drainTimeout  = 500 * time.Millisecond
)

// Conn serves exactly one request/response exchange on an accepted
// connection and then closes it.
//
// The exchange runs as a chain of state functions:
//
//	parse -> dispatch -> respond -> close
//	parse (malformed / unsupported) -> respond(400 / 501) -> drain -> close
//	parse (empty / read failure) -> close
//
// There is no keep-alive and no timeout on any step except the bounded
// drain.
type Conn struct {
	state atomic.Int32

	id         uint64
	netConn    net.Conn
	remoteAddr string
	reader     *bufio.Reader
	writer     *bufio.Writer

	parser     *http11.Parser
	dispatcher *router.Dispatcher
	observer   observe.Observer
	now        func() time.Time

	start   time.Time
	req     *http11.Request
	resp    *http11.Response
	outcome router.Outcome
	err     error
	drain   bool
}

type stateFunc func(*Conn) stateFunc

// ConnConfig holds the per-connection dependencies.
type ConnConfig struct {
	ID              uint64
	Parser          *http11.Parser
	Dispatcher      *router.Dispatcher
	Observer        observe.Observer
	ReadBufferSize  int
	WriteBufferSize int
}

// NewConn wraps an accepted net.Conn. Serve must be called exactly once.
func NewConn(netConn net.Conn, config ConnConfig) *Conn {
	if config.Parser == nil {
		config.Parser = http11.NewParser(http11.Limits{})
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultBufferSize
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = DefaultBufferSize
	}

	c := &Conn{
		id:         config.ID,
		netConn:    netConn,
		reader:     bufio.NewReaderSize(netConn, config.ReadBufferSize),
		writer:     bufio.NewWriterSize(netConn, config.WriteBufferSize),
		parser:     config.Parser,
		dispatcher: config.Dispatcher,
		observer:   config.Observer,
		now:        time.Now,
	}
	if addr := netConn.RemoteAddr(); addr != nil {
		c.remoteAddr = addr.String()
	}
	c.state.Store(int32(StateOpen))
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// Serve runs the exchange and closes the connection on every path, panics
// included. It returns the error that ended the exchange abnormally; a
// peer that connects and sends nothing is not an error.
func (c *Conn) Serve() (err error) {
	c.start = c.now()

	defer func() {
		c.netConn.Close()
		c.setState(StateClosed)
	}()
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("server: connection panic: %w", &router.PanicError{Value: r, Stack: debug.Stack()})
			c.recoverResponse()
			c.emitPanic()
		}
		err = c.err
	}()

	for state := parseRequest; state != nil; {
		state = state(c)
	}
	return c.err
}

// state funcs

func parseRequest(c *Conn) stateFunc {
	c.setState(StateParsing)

	req, err := c.parser.Parse(c.reader)
	if err != nil {
		return c.parseFailed(err)
	}

	c.req = req.WithRemoteAddr(c.remoteAddr)
	c.emit(observe.Event{
		Kind:    observe.RequestReceived,
		Method:  c.req.Method().String(),
		Path:    c.req.Path(),
		Request: c.req,
	})
	return dispatchRequest
}

func dispatchRequest(c *Conn) stateFunc {
	c.setState(StateDispatching)

	c.resp = http11.NewResponse(c.writer)
	if c.dispatcher == nil {
		c.resp.WriteText(http11.StatusNotFound, http11.StatusText(http11.StatusNotFound))
	} else {
		c.outcome = c.dispatcher.Dispatch(c.req, c.resp)
	}

	if c.outcome.Err != nil {
		c.emit(observe.Event{
			Kind:   observe.HandlerFailed,
			Method: c.req.Method().String(),
			Path:   c.req.Path(),
			Route:  c.outcome.Route,
			Status: c.resp.Status(),
			Err:    c.outcome.Err,
			Stage:  observe.StageHandler,
		})
	}
	c.emit(observe.Event{
		Kind:     observe.RequestDispatched,
		Method:   c.req.Method().String(),
		Path:     c.req.Path(),
		Route:    c.outcome.Route,
		Status:   c.resp.Status(),
		Duration: c.outcome.Duration,
		Request:  c.req,
		Response: c.resp,
	})
	return sendResponse
}

func sendResponse(c *Conn) stateFunc {
	c.setState(StateResponding)

	finalize(c.resp)
	if err := c.resp.Send(); err != nil {
		c.err = err
		c.emitError(observe.StageWrite, err)
		return nil
	}

	ev := observe.Event{
		Kind:     observe.ResponseSent,
		Route:    c.outcome.Route,
		Status:   c.resp.Status(),
		Bytes:    c.resp.BytesWritten(),
		Duration: c.now().Sub(c.start),
		Response: c.resp,
	}
	if c.req != nil {
		ev.Method = c.req.Method().String()
		ev.Path = c.req.Path()
	}
	c.emit(ev)
	if c.drain {
		c.discardInput()
	}
	return nil
}

// discardInput half-closes the write side when the transport supports it,
// then reads off what the peer still has in flight.
func (c *Conn) discardInput() {
	if cw, ok := c.netConn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	c.netConn.SetReadDeadline(time.Now().Add(drainTimeout))
	io.CopyN(io.Discard, c.reader, maxDrainBytes)
}

// parseFailed decides whether a failed parse still gets a response.
func (c *Conn) parseFailed(err error) stateFunc {
	var streamErr *http11.StreamError

	switch {
	case errors.Is(err, http11.ErrEmptyRequest):
		return nil
	case errors.As(err, &streamErr):
		c.err = err
		c.emitError(observe.StageRead, err)
		return nil
	case errors.Is(err, http11.ErrUnsupportedMethod):
		c.err = err
		c.resp = errorResponse(c.writer, http11.StatusNotImplemented)
		c.drain = true
		c.emitError(observe.StageParse, err)
		return sendResponse
	default:
		c.err = err
		c.resp = errorResponse(c.writer, http11.StatusBadRequest)
		c.drain = true
		c.emitError(observe.StageParse, err)
		return sendResponse
	}
}

// recoverResponse makes a last attempt at a 500 when the lifecycle itself
// panicked before anything reached the peer.
func (c *Conn) recoverResponse() {
	if c.resp != nil && c.resp.Sent() {
		return
	}
	resp := errorResponse(c.writer, http11.StatusInternalServerError)
	finalize(resp)
	resp.Send()
}

func errorResponse(w *bufio.Writer, status int) *http11.Response {
	resp := http11.NewResponse(w)
	resp.WriteText(status, http11.StatusText(status))
	return resp
}

// finalize adds the framing headers every response on this server carries:
// the connection always closes after one exchange, and the body length is
// always declared.
func finalize(resp *http11.Response) {
	h := resp.Header()
	h.Set(http11.HeaderConnection, "close")
	if !h.Has(http11.HeaderContentLength) {
		h.Set(http11.HeaderContentLength, strconv.Itoa(resp.BodyLen()))
	}
}

func (c *Conn) emit(e observe.Event) {
	if c.observer == nil {
		return
	}
	e.ConnID = c.id
	e.RemoteAddr = c.remoteAddr
	c.observer.Observe(e)
}

// emitPanic reports a lifecycle panic. The observer may be what panicked,
// so a second panic is swallowed here.
func (c *Conn) emitPanic() {
	defer func() { recover() }()
	c.emitError(observe.StagePanic, c.err)
}

func (c *Conn) emitError(stage observe.Stage, err error) {
	ev := observe.Event{
		Kind:     observe.ConnectionError,
		Stage:    stage,
		Err:      err,
		Duration: c.now().Sub(c.start),
	}
	if c.req != nil {
		ev.Method = c.req.Method().String()
		ev.Path = c.req.Path()
	}
	if c.resp != nil {
		ev.Status = c.resp.Status()
	}
	c.emit(ev)
}
