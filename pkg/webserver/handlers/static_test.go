package handlers

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
)

var largeCSS = strings.Repeat("body { margin: 0; padding: 0; color: #333; }\n", 40)

// newSite lays out a small static tree and returns its root.
func newSite(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "static")
	files := map[string]string{
		"index.html":         "<h1>hello</h1>",
		"css/styles.css":     largeCSS,
		"css/tiny.css":       "a{}",
		"js/app.js":          "console.log(1)",
		"fonts/glyph.woff":   "wOFF",
		"images/logo.png":    "\x89PNG",
		"user/list.html":     "<table></table>",
		"../secret.txt":      "top secret",
		"nested/dir/.keep":   "",
		"data/settings.json": `{"a":1}`,
	}
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newTestStatic(t *testing.T, root string, entries int, compress bool) *Static {
	t.Helper()
	s, err := NewStatic(StaticConfig{
		Root:         root,
		CacheEntries: entries,
		Compress:     compress,
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewStatic failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStaticServesFiles(t *testing.T) {
	s := newTestStatic(t, newSite(t), 16, false)

	tests := []struct {
		path        string
		contentType string
		body        string
	}{
		{"/index.html", "text/html; charset=utf-8", "<h1>hello</h1>"},
		{"/css/tiny.css", "text/css; charset=utf-8", "a{}"},
		{"/js/app.js", "text/javascript; charset=utf-8", "console.log(1)"},
		{"/fonts/glyph.woff", "font/woff", "wOFF"},
		{"/images/logo.png", "image/png", "\x89PNG"},
		{"/user/list.html", "text/html; charset=utf-8", "<table></table>"},
		{"/data/settings.json", "application/json; charset=utf-8", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := serve(t, s, newRequest(t, http11.MethodGET, tt.path, ""))
			if resp.Status() != http11.StatusOK {
				t.Fatalf("status = %d, want 200", resp.Status())
			}
			if got := resp.Header().Get(http11.HeaderContentType); got != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", got, tt.contentType)
			}
			if got := string(resp.Body()); got != tt.body {
				t.Errorf("body = %q, want %q", got, tt.body)
			}
			if got := resp.Header().Get(http11.HeaderContentLength); got != strconv.Itoa(len(tt.body)) {
				t.Errorf("Content-Length = %q, want %d", got, len(tt.body))
			}
			if resp.Header().Has(http11.HeaderContentEncoding) {
				t.Error("compression disabled but Content-Encoding set")
			}
		})
	}
}

func TestStaticNotFound(t *testing.T) {
	s := newTestStatic(t, newSite(t), 16, false)

	paths := []string{
		"/missing.css",
		"/css",
		"/css/",
		"/nested/dir",
		"/",
		"/../secret.txt",
		"/css/../../secret.txt",
		"/%2e%2e/secret.txt",
		"/..%2fsecret.txt",
		"/css/%zz",
		"/css%00/styles.css",
		"/..\\secret.txt",
	}

	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			resp := serve(t, s, newRequest(t, http11.MethodGET, p, ""))
			if resp.Status() != http11.StatusNotFound {
				t.Errorf("status = %d, want 404", resp.Status())
			}
			if strings.Contains(string(resp.Body()), "secret") {
				t.Error("file outside root leaked")
			}
		})
	}
}

func TestStaticSymlinks(t *testing.T) {
	root := newSite(t)
	secret := filepath.Join(filepath.Dir(root), "secret.txt")
	links := map[string]string{
		"leak.txt":      filepath.Join("..", "secret.txt"),
		"abs-leak.txt":  secret,
		"css/alias.css": "tiny.css",
		"outside":       filepath.Dir(root),
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(root, filepath.FromSlash(name))); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
	}
	s := newTestStatic(t, root, 16, false)

	for _, p := range []string{"/leak.txt", "/abs-leak.txt", "/outside/secret.txt"} {
		t.Run(p, func(t *testing.T) {
			resp := serve(t, s, newRequest(t, http11.MethodGET, p, ""))
			if resp.Status() != http11.StatusNotFound {
				t.Errorf("status = %d, want 404", resp.Status())
			}
			if strings.Contains(string(resp.Body()), "secret") {
				t.Error("file outside root leaked through a symlink")
			}
		})
	}

	resp := serve(t, s, newRequest(t, http11.MethodGET, "/css/alias.css", ""))
	if resp.Status() != http11.StatusOK || string(resp.Body()) != "a{}" {
		t.Errorf("link inside root: status %d body %q, want 200 %q", resp.Status(), resp.Body(), "a{}")
	}
}

func TestStaticCompression(t *testing.T) {
	s := newTestStatic(t, newSite(t), 16, true)

	tests := []struct {
		name     string
		accept   string
		encoding string
	}{
		{"none", "", ""},
		{"gzip", "gzip", "gzip"},
		{"br preferred", "gzip, deflate, br", "br"},
		{"br refused", "br;q=0, gzip", "gzip"},
		{"all refused", "br;q=0, gzip;q=0", ""},
		{"wildcard", "*", "br"},
		{"unknown only", "deflate", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.accept != "" {
				headers = []string{http11.HeaderAcceptEncoding, tt.accept}
			}
			resp := serve(t, s, newRequest(t, http11.MethodGET, "/css/styles.css", "", headers...))

			if got := resp.Header().Get(http11.HeaderContentEncoding); got != tt.encoding {
				t.Fatalf("Content-Encoding = %q, want %q", got, tt.encoding)
			}
			if got := resp.Header().Get(http11.HeaderVary); got != http11.HeaderAcceptEncoding {
				t.Errorf("Vary = %q, want Accept-Encoding", got)
			}
			if got := resp.Header().Get(http11.HeaderContentLength); got != strconv.Itoa(resp.BodyLen()) {
				t.Errorf("Content-Length = %q, body is %d bytes", got, resp.BodyLen())
			}

			body := decode(t, tt.encoding, resp.Body())
			if body != largeCSS {
				t.Errorf("decoded body mismatch (%d bytes, want %d)", len(body), len(largeCSS))
			}
		})
	}
}

func TestStaticCompressionSkipsSmallAndBinary(t *testing.T) {
	s := newTestStatic(t, newSite(t), 16, true)

	// Too small to compress, but the response still varies by coding
	resp := serve(t, s, newRequest(t, http11.MethodGET, "/css/tiny.css", "", http11.HeaderAcceptEncoding, "br"))
	if resp.Header().Has(http11.HeaderContentEncoding) {
		t.Error("tiny file was compressed")
	}
	if !resp.Header().Has(http11.HeaderVary) {
		t.Error("Vary missing on compressible type")
	}

	resp = serve(t, s, newRequest(t, http11.MethodGET, "/images/logo.png", "", http11.HeaderAcceptEncoding, "br"))
	if resp.Header().Has(http11.HeaderContentEncoding) || resp.Header().Has(http11.HeaderVary) {
		t.Error("binary file should not be negotiated")
	}
}

func TestStaticCache(t *testing.T) {
	root := newSite(t)
	s := newTestStatic(t, root, 16, false)

	get := func() string {
		return string(serve(t, s, newRequest(t, http11.MethodGET, "/js/app.js", "")).Body())
	}

	if got := get(); got != "console.log(1)" {
		t.Fatalf("body = %q", got)
	}
	if err := os.WriteFile(filepath.Join(root, "js", "app.js"), []byte("console.log(2)"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Served from cache until invalidated
	if got := get(); got != "console.log(1)" {
		t.Errorf("cached body = %q, want old content", got)
	}
	m := s.CacheMetrics()
	if m.Hits != 1 || m.Misses != 1 {
		t.Errorf("cache metrics = %+v, want 1 hit 1 miss", m)
	}

	s.Invalidate("/js/app.js")
	if got := get(); got != "console.log(2)" {
		t.Errorf("body after Invalidate = %q, want new content", got)
	}

	os.WriteFile(filepath.Join(root, "js", "app.js"), []byte("console.log(3)"), 0o644)
	s.InvalidateAll()
	if got := get(); got != "console.log(3)" {
		t.Errorf("body after InvalidateAll = %q, want new content", got)
	}
}

func TestStaticWithoutCache(t *testing.T) {
	root := newSite(t)
	s := newTestStatic(t, root, 0, false)

	serve(t, s, newRequest(t, http11.MethodGET, "/js/app.js", ""))
	os.WriteFile(filepath.Join(root, "js", "app.js"), []byte("fresh"), 0o644)

	resp := serve(t, s, newRequest(t, http11.MethodGET, "/js/app.js", ""))
	if got := string(resp.Body()); got != "fresh" {
		t.Errorf("body = %q, want fresh", got)
	}
	if m := s.CacheMetrics(); m.Hits != 0 || m.Misses != 0 {
		t.Errorf("uncached handler reported metrics %+v", m)
	}
}

func TestStaticWatch(t *testing.T) {
	root := newSite(t)
	s := newTestStatic(t, root, 16, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch returned %v", err)
		}
	}()

	file := filepath.Join(root, "css", "tiny.css")
	get := func() string {
		return string(serve(t, s, newRequest(t, http11.MethodGET, "/css/tiny.css", "")).Body())
	}
	if got := get(); got != "a{}" {
		t.Fatalf("body = %q", got)
	}

	// The watcher may not be registered yet, so keep writing until an
	// event lands.
	deadline := time.Now().Add(5 * time.Second)
	for get() != "b{}" {
		if time.Now().After(deadline) {
			t.Fatal("cache was never invalidated by the watcher")
		}
		if err := os.WriteFile(file, []byte("b{}"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Files in directories created after Watch started are picked up too
	dir := filepath.Join(root, "css", "themes")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	dark := filepath.Join(dir, "dark.css")
	os.WriteFile(dark, []byte("dark1"), 0o644)
	deadline = time.Now().Add(5 * time.Second)
	for {
		resp := serve(t, s, newRequest(t, http11.MethodGET, "/css/themes/dark.css", ""))
		if string(resp.Body()) == "dark2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("new directory was never watched")
		}
		os.WriteFile(dark, []byte("dark2"), 0o644)
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStaticConcurrentLoads(t *testing.T) {
	s := newTestStatic(t, newSite(t), 16, true)

	// Requests are immutable, so one can be shared
	req := newRequest(t, http11.MethodGET, "/css/styles.css", "")

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := newResponse()
			if err := s.Handle(req, resp); err != nil {
				errs <- err.Error()
				return
			}
			if string(resp.Body()) != largeCSS {
				errs <- "body mismatch"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestNewStaticRejectsBadRoot(t *testing.T) {
	if _, err := NewStatic(StaticConfig{Root: filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("missing root accepted")
	}

	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, nil, 0o644)
	if _, err := NewStatic(StaticConfig{Root: file}); err == nil {
		t.Error("file root accepted")
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/css/a.css", "/css/a.css", true},
		{"/css//a.css", "/css/a.css", true},
		{"/css/./a.css", "/css/a.css", true},
		{"/../a.css", "/a.css", true},
		{"/css/%61.css", "/css/a.css", true},
		{"/", "", false},
		{"/..", "", false},
		{"/%zz", "", false},
		{"/a%00b", "", false},
		{"/a\\b", "", false},
	}

	for _, tt := range tests {
		got, ok := cleanPath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("cleanPath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR")
	tests := []struct {
		name string
		body []byte
		want string
	}{
		{"/a.CSS", nil, "text/css; charset=utf-8"},
		{"/a.woff2", nil, "font/woff2"},
		{"/a.eot", nil, "application/vnd.ms-fontobject"},
		{"/a.unknown", nil, defaultContentType},
		{"/noext", nil, defaultContentType},
		{"/a.unknown", png, "image/png"},
		{"/noext", []byte("plain words"), "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		if got := contentTypeFor(tt.name, tt.body); got != tt.want {
			t.Errorf("contentTypeFor(%q, %d bytes) = %q, want %q", tt.name, len(tt.body), got, tt.want)
		}
	}
}

func decode(t *testing.T, encoding string, body []byte) string {
	t.Helper()
	var r io.Reader
	switch encoding {
	case "":
		return string(body)
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			t.Fatalf("gzip.NewReader: %v", err)
		}
		defer zr.Close()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	default:
		t.Fatalf("unexpected encoding %q", encoding)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("decode %s: %v", encoding, err)
	}
	return string(out)
}
