package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/fsnotify/fsnotify"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sync/singleflight"

	"github.com/htrucci/jwp-was-kakao/pkg/cache/memory"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
)

// Content codings offered for compressible files.
const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"
)

// minCompressSize is the smallest body worth compressing.
const minCompressSize = 256

// errNoFile marks a path that resolves to nothing servable. It becomes a
// 404, never a 500.
var errNoFile = errors.New("handlers: no such file")

// StaticConfig configures a Static handler.
type StaticConfig struct {
	// Root is the directory files are served from.
	Root string

	// CacheEntries bounds the number of cached files. 0 disables caching.
	CacheEntries int

	// CacheTTL expires cached files. 0 keeps them until invalidated.
	CacheTTL time.Duration

	// Compress enables br and gzip content coding for text-like files.
	Compress bool

	// Logger receives watcher diagnostics.
	Logger zerolog.Logger
}

// asset is a file body ready to serve, plus its precompressed variants.
type asset struct {
	contentType string
	body        []byte
	br          []byte
	gzip        []byte
	compress    bool
}

// Static serves GET requests for files under a root directory. The request
// path, percent-decoded and cleaned, is resolved against the root; nothing
// outside the root is reachable, through ".." or through symlinks.
// Symlinks that stay inside the root are followed. Directories and missing
// files are 404.
type Static struct {
	root     string
	compress bool
	logger   zerolog.Logger

	cache *memory.Cache[string, *asset]
	group singleflight.Group

	// generation is bumped on every invalidation so a load that raced a
	// file change does not repopulate the cache with stale bytes.
	generation atomic.Uint64
}

// NewStatic creates a static file handler. Root must be an existing
// directory.
func NewStatic(config StaticConfig) (*Static, error) {
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("handlers: static root %q: %w", config.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("handlers: static root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("handlers: static root %s is not a directory", root)
	}

	s := &Static{
		root:     root,
		compress: config.Compress,
		logger:   config.Logger,
	}
	if config.CacheEntries > 0 {
		s.cache = memory.New[string, *asset](memory.Config{
			MaxSize:         config.CacheEntries,
			DefaultTTL:      config.CacheTTL,
			CleanupInterval: config.CacheTTL,
		})
	}
	return s, nil
}

// Root returns the absolute directory files are served from.
func (s *Static) Root() string {
	return s.root
}

// Handle implements router.Handler.
func (s *Static) Handle(req *http11.Request, resp *http11.Response) error {
	name, ok := cleanPath(req.Path())
	if !ok {
		return notFound(resp)
	}

	a, err := s.lookup(name)
	if errors.Is(err, errNoFile) {
		return notFound(resp)
	}
	if err != nil {
		return err
	}

	body, encoding := a.body, ""
	if a.compress {
		encoding = negotiateEncoding(req.HeaderValue(http11.HeaderAcceptEncoding), a.br != nil, a.gzip != nil)
		switch encoding {
		case encodingBrotli:
			body = a.br
		case encodingGzip:
			body = a.gzip
		}
	}

	if err := resp.WriteBytes(http11.StatusOK, a.contentType, body); err != nil {
		return err
	}
	h := resp.Header()
	if a.compress {
		h.Set(http11.HeaderVary, http11.HeaderAcceptEncoding)
	}
	if encoding != "" {
		h.Set(http11.HeaderContentEncoding, encoding)
	}
	return nil
}

// Close releases the file cache.
func (s *Static) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// CacheMetrics returns the file cache counters. The zero value when caching
// is disabled.
func (s *Static) CacheMetrics() memory.Metrics {
	if s.cache == nil {
		return memory.Metrics{}
	}
	return s.cache.Metrics()
}

func (s *Static) lookup(name string) (*asset, error) {
	if s.cache != nil {
		if a, err := s.cache.Get(name); err == nil {
			return a, nil
		}
	}

	v, err, _ := s.group.Do(name, func() (any, error) {
		gen := s.generation.Load()
		a, err := s.load(name)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.generation.Load() == gen {
			s.cache.Set(name, a)
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*asset), nil
}

func (s *Static) load(name string) (*asset, error) {
	// OpenInRoot refuses symlinks that lead outside the root
	f, err := os.OpenInRoot(s.root, filepath.FromSlash(strings.TrimPrefix(name, "/")))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrPermission) {
			s.logger.Warn().Err(err).Str("path", name).Msg("static file refused")
		}
		return nil, errNoFile
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("handlers: stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil, errNoFile
	}

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("handlers: read %s: %w", name, err)
	}

	a := &asset{
		contentType: contentTypeFor(name, body),
		body:        body,
	}
	if s.compress && compressible(a.contentType) {
		a.compress = true
		if len(body) >= minCompressSize {
			if a.br, err = compressBrotli(body); err != nil {
				return nil, err
			}
			if a.gzip, err = compressGzip(body); err != nil {
				return nil, err
			}
			// Keep only variants that actually save bytes
			if len(a.br) >= len(body) {
				a.br = nil
			}
			if len(a.gzip) >= len(body) {
				a.gzip = nil
			}
		}
	}
	return a, nil
}

// Invalidate drops the cached copy of the file at the URL path name.
func (s *Static) Invalidate(name string) {
	s.generation.Add(1)
	if s.cache != nil {
		s.cache.Delete(name)
	}
}

// InvalidateAll empties the file cache.
func (s *Static) InvalidateAll() {
	s.generation.Add(1)
	if s.cache != nil {
		s.cache.Clear()
	}
}

// Watch invalidates cached files as they change on disk until ctx is done.
// New subdirectories are watched as they appear.
func (s *Static) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("handlers: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, s.root); err != nil {
		return err
	}
	s.logger.Debug().Str("root", s.root).Msg("watching static files")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Str("root", s.root).Msg("static watcher error")
		}
	}
}

func (s *Static) handleEvent(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A whole directory may be gone; no cheap way to know which keys
		// lived under it.
		s.InvalidateAll()
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addTree(watcher, ev.Name); err != nil {
				s.logger.Warn().Err(err).Str("dir", ev.Name).Msg("watch new directory")
			}
			return
		}
		s.invalidateFile(ev.Name)
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Chmod):
		s.invalidateFile(ev.Name)
	default:
		return
	}
	s.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("static cache invalidated")
}

func (s *Static) invalidateFile(file string) {
	rel, err := filepath.Rel(s.root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	s.Invalidate("/" + filepath.ToSlash(rel))
}

func addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(p); err != nil {
				return fmt.Errorf("handlers: watch %s: %w", p, err)
			}
		}
		return nil
	})
}

// cleanPath percent-decodes a request path and cleans it to a rooted
// slash path. It rejects paths that cannot name a file.
func cleanPath(p string) (string, bool) {
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", false
	}
	if strings.ContainsRune(decoded, 0) || strings.Contains(decoded, "\\") {
		return "", false
	}
	cleaned := path.Clean("/" + decoded)
	if cleaned == "/" {
		return "", false
	}
	return cleaned, true
}

// negotiateEncoding picks br over gzip when the client accepts it and the
// variant exists. q=0 refuses a coding.
func negotiateEncoding(accept string, haveBrotli, haveGzip bool) string {
	if accept == "" {
		return ""
	}
	var br, gz bool
	for _, part := range strings.Split(accept, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if refused(params) {
			continue
		}
		switch coding {
		case encodingBrotli:
			br = true
		case encodingGzip:
			gz = true
		case "*":
			br, gz = true, true
		}
	}
	switch {
	case br && haveBrotli:
		return encodingBrotli
	case gz && haveGzip:
		return encodingGzip
	}
	return ""
}

func refused(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || strings.TrimSpace(k) != "q" {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err != nil || q <= 0
	}
	return false
}

func compressBrotli(data []byte) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	w := brotli.NewWriterLevel(buf, brotli.DefaultCompression)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("handlers: brotli: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("handlers: brotli: %w", err)
	}
	return append([]byte(nil), buf.B...), nil
}

func compressGzip(data []byte) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	w, err := gzip.NewWriterLevel(buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("handlers: gzip: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("handlers: gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("handlers: gzip: %w", err)
	}
	return append([]byte(nil), buf.B...), nil
}

func notFound(resp *http11.Response) error {
	return resp.WriteText(http11.StatusNotFound, http11.StatusText(http11.StatusNotFound))
}
