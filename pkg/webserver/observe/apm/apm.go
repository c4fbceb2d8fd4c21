// Package apm reports each exchange to New Relic as a web transaction.
package apm

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe"
)

// Config configures the New Relic application.
type Config struct {
	AppName string `yaml:"app_name"`
	License string `yaml:"license"`
	Enabled bool   `yaml:"enabled"`
}

// NewApplication starts a New Relic application whose agent logs go to
// logger.
func NewApplication(config Config, logger zerolog.Logger) (*newrelic.Application, error) {
	return newrelic.NewApplication(
		newrelic.ConfigAppName(config.AppName),
		newrelic.ConfigLicense(config.License),
		newrelic.ConfigEnabled(config.Enabled),
		newrelic.ConfigLogger(&agentLogger{logger: logger}),
	)
}

// Observer maps connection events onto transactions: one transaction per
// parsed request, named after the matched route.
type Observer struct {
	app *newrelic.Application

	mu   sync.Mutex
	txns map[uint64]*newrelic.Transaction
}

// New returns an observer reporting to app.
func New(app *newrelic.Application) *Observer {
	return &Observer{
		app:  app,
		txns: make(map[uint64]*newrelic.Transaction),
	}
}

// Observe implements observe.Observer.
func (o *Observer) Observe(e observe.Event) {
	switch e.Kind {
	case observe.RequestReceived:
		txn := o.app.StartTransaction(e.Method + " " + e.Path)
		if e.Request != nil {
			txn.SetWebRequest(webRequest(e.Request))
		}
		o.mu.Lock()
		o.txns[e.ConnID] = txn
		o.mu.Unlock()

	case observe.RequestDispatched:
		if txn := o.get(e.ConnID); txn != nil {
			name := e.Route
			if name == "" {
				name = "unmatched"
			}
			txn.SetName(name)
		}

	case observe.HandlerFailed:
		if txn := o.get(e.ConnID); txn != nil {
			txn.NoticeError(e.Err)
		}

	case observe.ResponseSent:
		if txn := o.take(e.ConnID); txn != nil {
			txn.SetWebResponse(nil).WriteHeader(e.Status)
			txn.End()
		}

	case observe.ConnectionError:
		if txn := o.take(e.ConnID); txn != nil {
			txn.NoticeError(e.Err)
			txn.End()
		}
	}
}

// Pending returns the number of open transactions.
func (o *Observer) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.txns)
}

func (o *Observer) get(id uint64) *newrelic.Transaction {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.txns[id]
}

func (o *Observer) take(id uint64) *newrelic.Transaction {
	o.mu.Lock()
	defer o.mu.Unlock()
	txn := o.txns[id]
	delete(o.txns, id)
	return txn
}

// webRequest converts the request head into the agent's representation.
func webRequest(req *http11.Request) newrelic.WebRequest {
	header := make(http.Header)
	req.VisitHeaders(func(name, value string) bool {
		header.Add(name, value)
		return true
	})
	return newrelic.WebRequest{
		Header:    header,
		URL:       &url.URL{Path: req.Path(), RawQuery: req.Query()},
		Method:    req.Method().String(),
		Transport: newrelic.TransportHTTP,
		Host:      req.HeaderValue(http11.HeaderHost),
	}
}

// agentLogger sends agent log messages to zerolog.
type agentLogger struct {
	logger zerolog.Logger
}

func (l *agentLogger) Error(msg string, c map[string]interface{}) {
	l.logger.Error().Fields(c).Msg(msg)
}

func (l *agentLogger) Warn(msg string, c map[string]interface{}) {
	l.logger.Warn().Fields(c).Msg(msg)
}

func (l *agentLogger) Info(msg string, c map[string]interface{}) {
	l.logger.Info().Fields(c).Msg(msg)
}

func (l *agentLogger) Debug(msg string, c map[string]interface{}) {
	l.logger.Debug().Fields(c).Msg(msg)
}

func (l *agentLogger) DebugEnabled() bool {
	return l.logger.GetLevel() <= zerolog.DebugLevel
}
