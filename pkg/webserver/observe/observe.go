// Package observe defines the hook through which the connection lifecycle
// and the dispatcher report what happens to each exchange.
//
// Logging, metrics and tracing are all observers. Core code never logs on
// its own; a nil Observer means nobody is listening.
package observe

import (
	"time"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
)

// Kind identifies the lifecycle point an Event was emitted at.
type Kind uint8

const (
	// RequestReceived fires after a request was parsed successfully.
	RequestReceived Kind = iota + 1
	// RequestDispatched fires after the dispatcher ran, with the matched route.
	RequestDispatched
	// ResponseSent fires after the response was written to the peer.
	ResponseSent
	// ConnectionError fires when a connection ends abnormally.
	ConnectionError
	// HandlerFailed fires when a handler returned an error or panicked.
	HandlerFailed
)

func (k Kind) String() string {
	switch k {
	case RequestReceived:
		return "request_received"
	case RequestDispatched:
		return "request_dispatched"
	case ResponseSent:
		return "response_sent"
	case ConnectionError:
		return "connection_error"
	case HandlerFailed:
		return "handler_failed"
	default:
		return "unknown"
	}
}

// Stage names the phase of the exchange an error came from.
type Stage string

const (
	StageAccept   Stage = "accept"
	StageRead     Stage = "read"
	StageParse    Stage = "parse"
	StageDispatch Stage = "dispatch"
	StageHandler  Stage = "handler"
	StageWrite    Stage = "write"
	StagePanic    Stage = "panic"
)

// Event describes one lifecycle point of one connection.
// Fields that do not apply to the Kind are left zero.
type Event struct {
	Kind       Kind
	ConnID     uint64
	RemoteAddr string

	Method string
	Path   string
	// Route is the name of the matched binding; empty when nothing matched.
	Route string

	Status   int
	Bytes    int64
	Duration time.Duration

	Err   error
	Stage Stage

	// Request is set for RequestReceived and RequestDispatched.
	Request *http11.Request
	// Response is set for RequestDispatched and ResponseSent. Observers must
	// not mutate it.
	Response *http11.Response
}

// Observer receives lifecycle events. Implementations must be safe for
// concurrent use; every connection reports from its own goroutine.
type Observer interface {
	Observe(Event)
}

// Func adapts an ordinary function to the Observer interface.
type Func func(Event)

// Observe calls f(e).
func (f Func) Observe(e Event) {
	f(e)
}

// Nop discards every event.
var Nop Observer = Func(func(Event) {})

type multi []Observer

func (m multi) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Multi fans events out to every non-nil observer in order.
// It returns nil when no observer is left, so callers can keep treating
// nil as absent.
func Multi(observers ...Observer) Observer {
	var m multi
	for _, o := range observers {
		if o == nil {
			continue
		}
		if inner, ok := o.(multi); ok {
			m = append(m, inner...)
			continue
		}
		m = append(m, o)
	}
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	}
	return m
}

// Emit delivers e to o when o is not nil.
func Emit(o Observer, e Event) {
	if o != nil {
		o.Observe(e)
	}
}
