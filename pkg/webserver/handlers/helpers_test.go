package handlers

import (
	"bytes"
	"testing"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
)

// newRequest builds a request with alternating header name/value pairs.
func newRequest(t *testing.T, method http11.Method, target string, body string, headers ...string) *http11.Request {
	t.Helper()
	if len(headers)%2 != 0 {
		t.Fatalf("headers must be name/value pairs")
	}
	var h http11.Header
	for i := 0; i < len(headers); i += 2 {
		if err := h.Add(headers[i], headers[i+1]); err != nil {
			t.Fatalf("Header.Add(%q): %v", headers[i], err)
		}
	}
	req, err := http11.NewRequest(method, target, h, []byte(body))
	if err != nil {
		t.Fatalf("NewRequest(%s %s): %v", method, target, err)
	}
	return req
}

func newResponse() *http11.Response {
	return http11.NewResponse(&bytes.Buffer{})
}

// serve runs a handler and fails the test when it returns an error.
func serve(t *testing.T, h interface {
	Handle(*http11.Request, *http11.Response) error
}, req *http11.Request) *http11.Response {
	t.Helper()
	resp := newResponse()
	if err := h.Handle(req, resp); err != nil {
		t.Fatalf("Handle(%s) returned error: %v", req.RequestLine(), err)
	}
	return resp
}
