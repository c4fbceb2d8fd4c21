package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Static.Root = filepath.Join(base, "static")
	cfg.Static.Templates = filepath.Join(base, "templates")
	cfg.Session.Secret = testSecret
	cfg.Server.ShutdownTimeout = 2 * time.Second

	writeTree(t, cfg.Static.Root, map[string]string{
		"css/styles.css": "body{}",
		"js/app.js":      "alert(1)",
		"fonts/a.woff":   "wOFF",
	})
	writeTree(t, cfg.Static.Templates, map[string]string{
		"index.html":             "<h1>index</h1>",
		"user/form.html":         "<form></form>",
		"user/login.html":        "<form>login</form>",
		"user/login_failed.html": "<p>failed</p>",
	})
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

type testServer struct {
	client *fasthttp.Client
	logs   *bytes.Buffer
}

func startApp(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	logs := &bytes.Buffer{}
	a, err := newApp(cfg, zerolog.New(logs))
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}

	ln := fasthttputil.NewInmemoryListener()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("serve did not return after cancel")
		}
		a.close()
	})

	return &testServer{
		client: &fasthttp.Client{
			Dial: func(string) (net.Conn, error) { return ln.Dial() },
		},
		logs: logs,
	}
}

type result struct {
	status   int
	location string
	body     string
	cookie   string
}

func (s *testServer) do(t *testing.T, method, uri, body, cookie string) result {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://localhost" + uri)
	req.Header.SetMethod(method)
	if body != "" {
		req.Header.SetContentType("application/x-www-form-urlencoded")
		req.SetBodyString(body)
	}
	if cookie != "" {
		req.Header.SetCookie("session", cookie)
	}
	if err := s.client.DoTimeout(req, resp, 5*time.Second); err != nil {
		t.Fatalf("%s %s: %v", method, uri, err)
	}

	var c fasthttp.Cookie
	c.SetKey("session")
	r := result{
		status:   resp.StatusCode(),
		location: string(resp.Header.Peek("Location")),
		body:     string(resp.Body()),
	}
	if resp.Header.Cookie(&c) {
		r.cookie = string(c.Value())
	}
	return r
}

func TestAppEndToEnd(t *testing.T) {
	s := startApp(t, testConfig(t))

	steps := []struct {
		name     string
		method   string
		uri      string
		body     string
		status   int
		location string
		contains string
	}{
		{"root redirects", "GET", "/", "", 302, "/index.html", ""},
		{"index page", "GET", "/index.html", "", 200, "", "<h1>index</h1>"},
		{"nested page", "GET", "/user/form.html", "", 200, "", "<form></form>"},
		{"css", "GET", "/css/styles.css", "", 200, "", "body{}"},
		{"js", "GET", "/js/app.js", "", 200, "", "alert(1)"},
		{"font", "GET", "/fonts/a.woff", "", 200, "", "wOFF"},
		{"missing page", "GET", "/nope.html", "", 404, "", ""},
		{"unrouted", "GET", "/nothing", "", 404, "", ""},
		{"wrong method", "POST", "/index.html", "x=1", 404, "", ""},
		{"signup", "POST", "/user/create", "userId=javajigi&password=password&name=JaeSung&email=javajigi%40slipp.net", 302, "/index.html", ""},
		{"duplicate signup", "POST", "/user/create", "userId=javajigi&password=x&name=x&email=x", 409, "", ""},
		{"list without login", "GET", "/user/list", "", 302, "/user/login.html", ""},
		{"bad login", "POST", "/user/login", "userId=javajigi&password=nope", 302, "/user/login_failed.html", ""},
	}

	for _, st := range steps {
		r := s.do(t, st.method, st.uri, st.body, "")
		if r.status != st.status {
			t.Errorf("%s: status = %d, want %d", st.name, r.status, st.status)
		}
		if r.location != st.location {
			t.Errorf("%s: Location = %q, want %q", st.name, r.location, st.location)
		}
		if !strings.Contains(r.body, st.contains) {
			t.Errorf("%s: body %q missing %q", st.name, r.body, st.contains)
		}
	}

	login := s.do(t, "POST", "/user/login", "userId=javajigi&password=password", "")
	if login.status != 302 || login.location != "/index.html" || login.cookie == "" {
		t.Fatalf("login = %+v", login)
	}

	list := s.do(t, "GET", "/user/list", "", login.cookie)
	if list.status != 200 || !strings.Contains(list.body, "javajigi@slipp.net") {
		t.Errorf("user list = %d %q", list.status, list.body)
	}

	m := s.do(t, "GET", "/metrics", "", "")
	if m.status != 200 {
		t.Fatalf("metrics status = %d", m.status)
	}
	for _, want := range []string{
		`webserver_http_requests_total{method="GET",route="user list",status="200"} 1`,
		`webserver_http_requests_total{method="POST",route="signup",status="409"} 1`,
		`webserver_http_requests_total{method="GET",route="unmatched",status="404"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(m.body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestAppWithoutMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	s := startApp(t, cfg)

	if r := s.do(t, "GET", "/metrics", "", ""); r.status != 404 {
		t.Errorf("/metrics status = %d, want 404 when disabled", r.status)
	}
}

func TestNewAppRejectsMissingRoots(t *testing.T) {
	cfg := testConfig(t)
	cfg.Static.Templates = filepath.Join(t.TempDir(), "missing")
	if _, err := newApp(cfg, zerolog.Nop()); err == nil {
		t.Error("newApp accepted a missing templates root")
	}
}

func TestRoutesOrder(t *testing.T) {
	a, err := newApp(testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.close()

	var names []string
	for _, b := range a.table.Bindings() {
		names = append(names, b.Method.String()+" "+b.Name)
	}
	want := []string{
		"GET static", "GET static", "GET static", "GET html",
		"POST signup", "POST login", "GET user list", "GET metrics", "GET index",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("routes = %v, want %v", names, want)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webserver.yaml")
	os.WriteFile(path, []byte("server:\n  addr: \":9000\"\nlog:\n  level: warn\n"), 0o644)

	cfg, err := loadConfig([]string{"-config", path, "-static", "/srv/static", "-log-level", "debug"}, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Addr = %q, want :9000 from file", cfg.Server.Addr)
	}
	if cfg.Static.Root != "/srv/static" {
		t.Errorf("Static.Root = %q, want flag override", cfg.Static.Root)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want flag override", cfg.Log.Level)
	}
	if cfg.Static.Templates != "./templates" {
		t.Errorf("Static.Templates = %q, want default", cfg.Static.Templates)
	}

	t.Setenv(secretEnv, testSecret)
	cfg, err = loadConfig([]string{"-addr", ":7000"}, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Server.Addr != ":7000" || cfg.Session.Secret != testSecret {
		t.Errorf("cfg = addr %q secret %q", cfg.Server.Addr, cfg.Session.Secret)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig([]string{"-nope"}, io.Discard); err == nil {
		t.Error("unknown flag accepted")
	}
	if _, err := loadConfig([]string{"-h"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("-h err = %v, want flag.ErrHelp", err)
	}
	if _, err := loadConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard); err == nil {
		t.Error("missing config file accepted")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("unknown_section: 1\n"), 0o644)
	if _, err := loadConfig([]string{"-config", bad}, io.Discard); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	err := run(context.Background(), []string{"-static", "", "-log-level", "loud"}, io.Discard)
	if err == nil {
		t.Error("run accepted an invalid log level")
	}
}

func TestRandomSecret(t *testing.T) {
	a, err := randomSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := randomSecret()
	if len(a) != 64 || a == b {
		t.Errorf("randomSecret = %q, %q", a, b)
	}
}
