// Package server accepts TCP connections and runs one request/response
// exchange on each, in its own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/router"
)

// DefaultBufferSize is the per-connection read and write buffer size.
const DefaultBufferSize = 4096

// ErrNoDispatcher is returned by New when no dispatcher is given.
var ErrNoDispatcher = errors.New("server: dispatcher is required")

// Config configures a Server. Zero fields take the DefaultConfig values.
type Config struct {
	// Addr is the TCP listen address used by ListenAndServe.
	Addr string `yaml:"addr"`

	// MaxConcurrentConnections caps connections served at once. Accepting
	// pauses while the cap is reached. 0 disables the cap.
	MaxConcurrentConnections int `yaml:"max_concurrent_connections"`

	// ShutdownTimeout bounds how long a graceful shutdown waits for
	// in-flight connections before closing them.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// ReadBufferSize and WriteBufferSize size the per-connection bufio
	// reader and writer.
	ReadBufferSize  int `yaml:"read_buffer_size"`
	WriteBufferSize int `yaml:"write_buffer_size"`

	// Limits bounds request parsing.
	Limits http11.Limits `yaml:"limits"`

	// Observer receives lifecycle events. Optional.
	Observer observe.Observer `yaml:"-"`
}

// DefaultConfig listens on :8080 with no connection cap and a ten second
// shutdown grace period.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		ReadBufferSize:  DefaultBufferSize,
		WriteBufferSize: DefaultBufferSize,
		Limits:          http11.DefaultLimits(),
	}
}

// Stats are live counters. Every field is safe to read while the server
// runs.
type Stats struct {
	TotalConnections  atomic.Uint64 // accepted
	ActiveConnections atomic.Int64  // accepted and not yet closed
	TotalRequests     atomic.Uint64 // parsed successfully
	BytesWritten      atomic.Uint64 // response bytes handed to sockets
	AcceptErrors      atomic.Uint64
	ConnectionErrors  atomic.Uint64 // exchanges that ended abnormally

	StartTime time.Time
}

// Duration is the server's uptime.
func (s *Stats) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// RequestsPerSecond averages TotalRequests over the uptime.
func (s *Stats) RequestsPerSecond() float64 {
	secs := s.Duration().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.TotalRequests.Load()) / secs
}

// Server serves HTTP/1.1 exchanges through a router.Dispatcher.
type Server struct {
	config     Config
	dispatcher *router.Dispatcher
	parser     *http11.Parser
	stats      Stats
	nextID     atomic.Uint64

	// mu orders listener registration, wg.Add and stop against each other.
	mu       sync.Mutex
	listener net.Listener
	stopping atomic.Bool
	stopped  chan struct{}
	inflight sync.WaitGroup

	// live holds connections still being served, for forced close.
	liveMu sync.Mutex
	live   map[net.Conn]struct{}

	// slots is nil when MaxConcurrentConnections is 0.
	slots chan struct{}
}

// New creates a server. Zero config fields take their defaults.
func New(config Config, dispatcher *router.Dispatcher) (*Server, error) {
	if dispatcher == nil {
		return nil, ErrNoDispatcher
	}

	d := DefaultConfig()
	if config.Addr == "" {
		config.Addr = d.Addr
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = d.ShutdownTimeout
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = d.ReadBufferSize
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = d.WriteBufferSize
	}

	s := &Server{
		config:     config,
		dispatcher: dispatcher,
		parser:     http11.NewParser(config.Limits),
		stopped:    make(chan struct{}),
		live:       make(map[net.Conn]struct{}),
	}
	if n := config.MaxConcurrentConnections; n > 0 {
		s.slots = make(chan struct{}, n)
	}
	s.stats.StartTime = time.Now()
	return s, nil
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.config
}

// Stats returns the live counters.
func (s *Server) Stats() *Stats {
	return &s.stats
}

// ListenAndServe listens on Config.Addr and calls Serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on l until Shutdown or Close is called, in
// which case it returns nil. Any other accept failure that is not a
// timeout ends the loop with that error. A failing connection never stops
// the loop.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		l.Close()
		return nil
	}
	s.listener = l
	s.mu.Unlock()
	defer l.Close()

	var backoff time.Duration
	for {
		if !s.acquireSlot() {
			return nil
		}

		conn, err := l.Accept()
		if err != nil {
			s.releaseSlot()
			if s.stopping.Load() {
				return nil
			}
			s.stats.AcceptErrors.Add(1)
			observe.Emit(s.config.Observer, observe.Event{
				Kind:  observe.ConnectionError,
				Stage: observe.StageAccept,
				Err:   err,
			})

			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				return fmt.Errorf("server: accept: %w", err)
			}
			// Temporary failure: back off 5ms doubling up to 1s, as net/http does.
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.mu.Lock()
		if s.stopping.Load() {
			s.mu.Unlock()
			conn.Close()
			s.releaseSlot()
			return nil
		}
		s.inflight.Add(1)
		// Tracked before the goroutine starts so closeLive never misses it
		s.setLive(conn, true)
		s.mu.Unlock()

		s.stats.TotalConnections.Add(1)
		go s.handleConnection(conn)
	}
}

// acquireSlot blocks while the connection cap is reached. It reports false
// when the server stops while waiting.
func (s *Server) acquireSlot() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	case <-s.stopped:
		return false
	}
}

func (s *Server) releaseSlot() {
	if s.slots != nil {
		<-s.slots
	}
}

// handleConnection runs one exchange on a connection Serve already marked
// live, and releases everything it held.
func (s *Server) handleConnection(netConn net.Conn) {
	defer s.inflight.Done()
	defer s.releaseSlot()
	defer s.setLive(netConn, false)

	conn := NewConn(netConn, ConnConfig{
		ID:              s.nextID.Add(1),
		Parser:          s.parser,
		Dispatcher:      s.dispatcher,
		Observer:        observe.Multi(s.statsObserver(), s.config.Observer),
		ReadBufferSize:  s.config.ReadBufferSize,
		WriteBufferSize: s.config.WriteBufferSize,
	})
	if err := conn.Serve(); err != nil {
		s.stats.ConnectionErrors.Add(1)
	}
}

// statsObserver feeds request and byte counters from lifecycle events.
func (s *Server) statsObserver() observe.Observer {
	return observe.Func(func(e observe.Event) {
		switch e.Kind {
		case observe.RequestReceived:
			s.stats.TotalRequests.Add(1)
		case observe.ResponseSent:
			s.stats.BytesWritten.Add(uint64(e.Bytes))
		}
	})
}

func (s *Server) setLive(conn net.Conn, live bool) {
	s.liveMu.Lock()
	if live {
		s.live[conn] = struct{}{}
	} else {
		delete(s.live, conn)
	}
	s.liveMu.Unlock()

	if live {
		s.stats.ActiveConnections.Add(1)
	} else {
		s.stats.ActiveConnections.Add(-1)
	}
}

// closeLive closes every connection still being served. Their goroutines
// then fail on the next read or write and unwind.
func (s *Server) closeLive() {
	s.liveMu.Lock()
	conns := make([]net.Conn, 0, len(s.live))
	for conn := range s.live {
		conns = append(conns, conn)
	}
	s.liveMu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// stop flips the stopping flag and closes the listener. It reports false
// when the server was already stopping.
func (s *Server) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopping.CompareAndSwap(false, true) {
		return false
	}
	if s.listener != nil {
		s.listener.Close()
	}
	close(s.stopped)
	return true
}

// Shutdown stops accepting connections and waits for in-flight exchanges.
// When ctx expires first the remaining connections are closed and ctx's
// error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.stop() {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		s.closeLive()
		return ctx.Err()
	}
}

// Close stops accepting, closes every live connection and waits for their
// goroutines to return.
func (s *Server) Close() error {
	if !s.stop() {
		return nil
	}
	s.closeLive()
	s.inflight.Wait()
	return nil
}
