// Package zlog writes lifecycle events to a zerolog logger.
//
// One line per exchange at info level (method, path, route, status, bytes,
// duration); failures at warn or error; with Dump enabled the full request
// and response heads are logged at debug level.
package zlog

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/router"
)

// Config configures the observer.
type Config struct {
	// SkipPaths are paths that produce no access line (e.g. /metrics).
	// Failures on these paths are still logged.
	SkipPaths []string

	// Dump logs request line, headers and body on receipt, and the
	// response status line and headers after dispatch, at debug level.
	Dump bool

	// MaxDumpBody truncates dumped bodies. Default: 1024 bytes
	MaxDumpBody int
}

// Observer logs events to a zerolog.Logger.
type Observer struct {
	logger  zerolog.Logger
	skip    map[string]bool
	dump    bool
	maxBody int
}

// New returns an observer writing to logger.
func New(logger zerolog.Logger, config Config) *Observer {
	if config.MaxDumpBody <= 0 {
		config.MaxDumpBody = 1024
	}

	// Create skip map for O(1) lookup
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skip[path] = true
	}

	return &Observer{
		logger:  logger,
		skip:    skip,
		dump:    config.Dump,
		maxBody: config.MaxDumpBody,
	}
}

// Observe implements observe.Observer.
func (o *Observer) Observe(e observe.Event) {
	switch e.Kind {
	case observe.RequestReceived:
		if o.dump && e.Request != nil {
			o.dumpRequest(e)
		}
	case observe.RequestDispatched:
		if o.dump && e.Response != nil {
			o.dumpResponse(e)
		}
	case observe.ResponseSent:
		if o.skip[e.Path] {
			return
		}
		o.with(o.logger.Info(), e).
			Int("status", e.Status).
			Int64("bytes", e.Bytes).
			Dur("duration", e.Duration).
			Msg("request completed")
	case observe.HandlerFailed:
		ev := o.with(o.logger.Error(), e).Int("status", e.Status).Err(e.Err)
		var perr *router.PanicError
		if errors.As(e.Err, &perr) {
			ev = ev.Bytes("stack", perr.Stack)
		}
		ev.Msg("handler failed")
	case observe.ConnectionError:
		level := o.logger.Error()
		if e.Stage == observe.StageParse {
			// Client mistakes, not server faults
			level = o.logger.Warn()
		}
		o.with(level, e).
			Str("stage", string(e.Stage)).
			Int("status", e.Status).
			Err(e.Err).
			Msg("connection error")
	}
}

func (o *Observer) with(ev *zerolog.Event, e observe.Event) *zerolog.Event {
	ev = ev.Uint64("conn", e.ConnID)
	if e.RemoteAddr != "" {
		ev = ev.Str("remote", e.RemoteAddr)
	}
	if e.Method != "" {
		ev = ev.Str("method", e.Method)
	}
	if e.Path != "" {
		ev = ev.Str("path", e.Path)
	}
	if e.Route != "" {
		ev = ev.Str("route", e.Route)
	}
	return ev
}

func (o *Observer) dumpRequest(e observe.Event) {
	req := e.Request
	headers := zerolog.Dict()
	req.VisitHeaders(func(name, value string) bool {
		headers.Str(name, value)
		return true
	})
	o.with(o.logger.Debug(), e).
		Str("request_line", req.RequestLine()).
		Dict("headers", headers).
		Str("body", o.truncate(req.BodyString())).
		Msg("request received")
}

func (o *Observer) dumpResponse(e observe.Event) {
	resp := e.Response
	headers := zerolog.Dict()
	resp.Header().VisitAll(func(name, value string) bool {
		headers.Str(name, value)
		return true
	})
	o.with(o.logger.Debug(), e).
		Str("status_line", resp.StatusLine()).
		Dict("headers", headers).
		Int("body_len", resp.BodyLen()).
		Msg("response ready")
}

func (o *Observer) truncate(s string) string {
	if len(s) <= o.maxBody {
		return s
	}
	return s[:o.maxBody] + "..."
}

// NewLogger builds the process logger. format is "json" (default) or
// "console"; level is any zerolog level name.
func NewLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), err
		}
		lvl = parsed
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
