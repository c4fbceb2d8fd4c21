package router

import (
	"errors"
	"fmt"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
)

// Route table errors.
var (
	ErrNilPattern    = errors.New("router: binding has no pattern")
	ErrNilHandler    = errors.New("router: binding has no handler")
	ErrInvalidMethod = errors.New("router: binding has an invalid method")
)

// Binding associates a path pattern and a method with a handler.
type Binding struct {
	Pattern Pattern
	Method  http11.Method
	Handler Handler

	// Name identifies the route in logs and metrics.
	// Defaults to "<METHOD> <pattern>".
	Name string
}

// Bind builds a binding from a regular expression. It panics if expr does
// not compile, like regexp.MustCompile.
func Bind(expr string, method http11.Method, h Handler) Binding {
	return Binding{Pattern: MustRegexp(expr), Method: method, Handler: h}
}

// Named returns a copy of b with the given name.
func (b Binding) Named(name string) Binding {
	b.Name = name
	return b
}

// Table is an ordered, immutable list of bindings.
type Table struct {
	bindings []Binding
}

// NewTable validates and copies the bindings in the given order.
func NewTable(bindings ...Binding) (*Table, error) {
	t := &Table{bindings: make([]Binding, 0, len(bindings))}
	for i, b := range bindings {
		if b.Pattern == nil {
			return nil, fmt.Errorf("binding %d: %w", i, ErrNilPattern)
		}
		if b.Handler == nil {
			return nil, fmt.Errorf("binding %d (%s): %w", i, b.Pattern, ErrNilHandler)
		}
		if !b.Method.Valid() {
			return nil, fmt.Errorf("binding %d (%s): %w", i, b.Pattern, ErrInvalidMethod)
		}
		if b.Name == "" {
			b.Name = b.Method.String() + " " + b.Pattern.String()
		}
		t.bindings = append(t.bindings, b)
	}
	return t, nil
}

// Len returns the number of bindings.
func (t *Table) Len() int {
	return len(t.bindings)
}

// Bindings returns a copy of the bindings in registration order.
func (t *Table) Bindings() []Binding {
	out := make([]Binding, len(t.bindings))
	copy(out, t.bindings)
	return out
}

// Match returns the first binding, in registration order, whose method
// equals method and whose pattern matches path.
func (t *Table) Match(method http11.Method, path string) (Binding, bool) {
	for _, b := range t.bindings {
		if b.Method == method && b.Pattern.Match(path) {
			return b, true
		}
	}
	return Binding{}, false
}
