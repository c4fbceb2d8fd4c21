package server

import (
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe"
)

// peerConn is a net.Conn whose peer sent readData and receives into out.
// Setting writeErr makes every write fail.
type peerConn struct {
	readData io.Reader
	writeErr error

	mu          sync.Mutex
	out         strings.Builder
	closed      bool
	writeClosed bool
}

func newPeerConn(data string) *peerConn {
	return &peerConn{readData: strings.NewReader(data)}
}

func (c *peerConn) Read(b []byte) (int, error) { return c.readData.Read(b) }

func (c *peerConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.out.Write(b)
}

func (c *peerConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

var (
	serverAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
	clientAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345}
)

func (c *peerConn) LocalAddr() net.Addr              { return serverAddr }
func (c *peerConn) RemoteAddr() net.Addr             { return clientAddr }
func (c *peerConn) SetDeadline(time.Time) error      { return nil }
func (c *peerConn) SetReadDeadline(time.Time) error  { return nil }
func (c *peerConn) SetWriteDeadline(time.Time) error { return nil }

func (c *peerConn) CloseWrite() error {
	c.mu.Lock()
	c.writeClosed = c.writeClosed || !c.closed
	c.mu.Unlock()
	return nil
}

// WriteClosedFirst reports whether CloseWrite ran before Close.
func (c *peerConn) WriteClosedFirst() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeClosed
}

// Unread returns how many of the peer's bytes were never read.
func (c *peerConn) Unread() int {
	if r, ok := c.readData.(*strings.Reader); ok {
		return r.Len()
	}
	return 0
}

// Closed reports whether Close was called.
func (c *peerConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Written returns everything written so far.
func (c *peerConn) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

// recorder collects observer events.
type recorder struct {
	mu     sync.Mutex
	events []observe.Event
}

func (r *recorder) Observe(e observe.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []observe.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]observe.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) find(kind observe.Kind) (observe.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return observe.Event{}, false
}
