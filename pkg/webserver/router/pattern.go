package router

import (
	"regexp"
	"strings"
)

// Pattern decides whether a binding applies to a request path.
// Match must consider the whole path: a pattern for "/user/list" does not
// match "/user/list/extra".
type Pattern interface {
	Match(path string) bool
	String() string
}

type regexpPattern struct {
	expr string
	re   *regexp.Regexp
}

// Regexp compiles expr as a pattern that must match the entire path.
// The expression is anchored on both ends, so `\/css\/.+` matches
// "/css/style.css" but not "/static/css/style.css".
func Regexp(expr string) (Pattern, error) {
	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return nil, err
	}
	return &regexpPattern{expr: expr, re: re}, nil
}

// MustRegexp is like Regexp but panics if expr does not compile.
// Intended for route tables declared in code.
func MustRegexp(expr string) Pattern {
	p, err := Regexp(expr)
	if err != nil {
		panic("router: " + err.Error())
	}
	return p
}

func (p *regexpPattern) Match(path string) bool {
	return p.re.MatchString(path)
}

func (p *regexpPattern) String() string {
	return p.expr
}

// Exact matches one literal path.
type Exact string

func (e Exact) Match(path string) bool {
	return path == string(e)
}

func (e Exact) String() string {
	return string(e)
}

// Prefix matches every path that starts with the prefix followed by at
// least one more byte. Prefix("/css/") behaves like Regexp(`\/css\/.+`)
// for paths without line breaks.
type Prefix string

func (p Prefix) Match(path string) bool {
	return len(path) > len(p) && strings.HasPrefix(path, string(p))
}

func (p Prefix) String() string {
	return string(p) + "*"
}
