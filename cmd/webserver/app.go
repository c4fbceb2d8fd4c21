package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/config"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/handlers"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe/apm"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe/metrics"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe/zlog"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/router"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/server"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/session"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/user"
)

// app holds every long-lived component of the process.
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	registry  *prometheus.Registry
	nrApp     *newrelic.Application
	static    *handlers.Static
	templates *handlers.Static
	users     *user.MemoryStore
	sessions  *session.Issuer
	table     *router.Table
	server    *server.Server
}

func newApp(cfg config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	observers := []observe.Observer{
		zlog.New(logger, zlog.Config{
			SkipPaths: cfg.Log.SkipPaths,
			Dump:      cfg.Log.Dump,
		}),
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		observers = append(observers, metrics.New(a.registry))
	}

	if cfg.NewRelic.Enabled {
		a.nrApp, err = apm.NewApplication(cfg.NewRelic, logger.With().Str("component", "newrelic").Logger())
		if err != nil {
			return nil, fmt.Errorf("newrelic: %w", err)
		}
		observers = append(observers, apm.New(a.nrApp))
	}

	staticLogger := logger.With().Str("component", "static").Logger()
	a.static, err = handlers.NewStatic(handlers.StaticConfig{
		Root:         cfg.Static.Root,
		CacheEntries: cfg.Static.CacheEntries,
		CacheTTL:     cfg.Static.CacheTTL,
		Compress:     cfg.Static.Compress,
		Logger:       staticLogger,
	})
	if err != nil {
		return nil, err
	}
	a.templates, err = handlers.NewStatic(handlers.StaticConfig{
		Root:         cfg.Static.Templates,
		CacheEntries: cfg.Static.CacheEntries,
		CacheTTL:     cfg.Static.CacheTTL,
		Compress:     cfg.Static.Compress,
		Logger:       staticLogger,
	})
	if err != nil {
		return nil, err
	}

	a.users = user.NewMemoryStore()
	a.sessions, err = session.NewIssuer([]byte(cfg.Session.Secret), cfg.Session.TTL)
	if err != nil {
		return nil, err
	}

	a.table, err = router.NewTable(a.routes()...)
	if err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	serverCfg := cfg.Server
	serverCfg.Observer = observe.Multi(observers...)
	a.server, err = server.New(serverCfg, router.NewDispatcher(a.table))
	if err != nil {
		return nil, err
	}
	return a, nil
}

// routes returns the route table in match order. The first binding whose
// method and pattern both match wins.
func (a *app) routes() []router.Binding {
	cookie := handlers.CookieConfig{
		Name:   a.cfg.Session.CookieName,
		MaxAge: int(a.cfg.Session.TTL / time.Second),
	}
	userLogger := a.logger.With().Str("component", "user").Logger()

	bindings := []router.Binding{
		router.Bind(`/css/.+`, http11.MethodGET, a.static).Named("static"),
		router.Bind(`/js/.+`, http11.MethodGET, a.static).Named("static"),
		router.Bind(`/fonts/.+`, http11.MethodGET, a.static).Named("static"),
		router.Bind(`/.+\.html`, http11.MethodGET, a.templates).Named("html"),
		router.Bind(`/user/create`, http11.MethodPOST, &handlers.SignUp{
			Users:  a.users,
			Logger: userLogger,
		}).Named("signup"),
		router.Bind(`/user/login`, http11.MethodPOST, &handlers.Login{
			Users:    a.users,
			Sessions: a.sessions,
			Cookie:   cookie,
			Logger:   userLogger,
		}).Named("login"),
		router.Bind(`/user/list`, http11.MethodGET, &handlers.UserList{
			Users:    a.users,
			Sessions: a.sessions,
			Cookie:   cookie,
		}).Named("user list"),
	}

	if a.registry != nil {
		bindings = append(bindings, router.Binding{
			Pattern: router.Exact(a.cfg.Metrics.Path),
			Method:  http11.MethodGET,
			Handler: handlers.Metrics(a.registry),
			Name:    "metrics",
		})
	}

	return append(bindings, router.Binding{
		Pattern: router.Exact("/"),
		Method:  http11.MethodGET,
		Handler: handlers.Redirect(handlers.PathIndex),
		Name:    "index",
	})
}

// serve runs the server on ln until ctx is done, then shuts it down
// gracefully within the configured timeout.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().
			Str("addr", ln.Addr().String()).
			Int("routes", a.table.Len()).
			Msg("server listening")
		return a.server.Serve(ln)
	})

	if a.cfg.Static.Watch {
		for _, s := range []*handlers.Static{a.static, a.templates} {
			g.Go(func() error {
				if err := s.Watch(gctx); err != nil {
					// Serving stale files beats not serving.
					a.logger.Warn().Err(err).Str("root", s.Root()).Msg("static watcher stopped")
				}
				return nil
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		a.logger.Info().Dur("timeout", a.cfg.Server.ShutdownTimeout).Msg("shutting down")
		err := a.server.Shutdown(shutdownCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn().Msg("shutdown timed out; remaining connections were closed")
			return nil
		}
		return err
	})

	err := g.Wait()
	stats := a.server.Stats()
	a.logger.Info().
		Uint64("connections", stats.TotalConnections.Load()).
		Uint64("requests", stats.TotalRequests.Load()).
		Dur("uptime", stats.Duration()).
		Msg("server stopped")
	return err
}

// close releases caches and flushes the APM agent. Safe on a partly built
// app.
func (a *app) close() {
	if a.static != nil {
		a.static.Close()
	}
	if a.templates != nil {
		a.templates.Close()
	}
	if a.nrApp != nil {
		a.nrApp.Shutdown(5 * time.Second)
	}
}
