package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"

	"geogate/internal/gate"

	"github.com/charmbracelet/log"
)

var ErrNoPublicBackend = errors.New("either UPSTREAM_URL or STATIC_DIR must be set")

// PublicHandler returns the application behind the gate: a reverse proxy
// to upstream when set, otherwise the files under staticDir.
func PublicHandler(upstream, staticDir string) (http.Handler, error) {
	if upstream != "" {
		target, err := url.Parse(upstream)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid upstream url %q", upstream)
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn("upstream request failed", "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusBadGateway)
		}
		log.Debug("Proxying public traffic", "upstream", target.String())
		return proxy, nil
	}

	if staticDir == "" {
		return nil, ErrNoPublicBackend
	}

	if abs, err := filepath.Abs(staticDir); err == nil {
		log.Debug("Serving static files", "dir", abs)
	}
	return staticHandler(staticDir), nil
}

const notFoundPage = "/404.html"

// staticSite serves existing files and answers 404 for anything else, so
// requests for missing paths reach the not-found observer. When the
// directory has a 404.html it is rendered through root as a sub-request.
type staticSite struct {
	dir   string
	files http.Handler
	root  http.Handler
}

func staticHandler(dir string) *staticSite {
	return &staticSite{dir: dir, files: http.FileServer(http.Dir(dir))}
}

func (s *staticSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.notFound(w, r)
		return
	}
	if !s.exists(r.URL.Path) {
		s.notFound(w, r)
		return
	}
	s.files.ServeHTTP(w, r)
}

func (s *staticSite) exists(urlPath string) bool {
	path := filepath.Join(s.dir, filepath.Clean("/"+urlPath))
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		_, err = os.Stat(filepath.Join(path, "index.html"))
		return err == nil
	}
	return true
}

func (s *staticSite) notFound(w http.ResponseWriter, r *http.Request) {
	if s.root == nil || gate.IsSubrequest(r.Context()) || !s.exists(notFoundPage) {
		http.NotFound(w, r)
		return
	}

	sub := r.Clone(gate.WithSubrequest(r.Context()))
	sub.Method = http.MethodGet
	sub.URL.Path = notFoundPage
	sub.URL.RawPath = ""
	sub.RequestURI = ""
	sub.Body = http.NoBody
	for _, header := range []string{"Range", "If-Range", "If-Modified-Since", "If-None-Match"} {
		sub.Header.Del(header)
	}
	s.root.ServeHTTP(&forcedStatusWriter{ResponseWriter: w, status: http.StatusNotFound}, sub)
}

// forcedStatusWriter writes status whatever the wrapped handler asks for.
type forcedStatusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (f *forcedStatusWriter) WriteHeader(int) {
	if f.wroteHeader {
		return
	}
	f.wroteHeader = true
	f.ResponseWriter.WriteHeader(f.status)
}

func (f *forcedStatusWriter) Write(b []byte) (int, error) {
	if !f.wroteHeader {
		f.WriteHeader(f.status)
	}
	return f.ResponseWriter.Write(b)
}

func (f *forcedStatusWriter) Unwrap() http.ResponseWriter {
	return f.ResponseWriter
}

// GatedHandler wraps app so that admission runs first and 404s from app
// feed the abuse tracker.
func GatedHandler(g *gate.Gate, app http.Handler) http.Handler {
	root := g.Middleware(g.NotFoundObserver(app))
	if site, ok := app.(*staticSite); ok {
		site.root = root
	}
	return root
}

// ServePublic serves the gated application on port until ctx is done.
func ServePublic(ctx context.Context, port int, handler http.Handler) error {
	log.Infof("Starting gated public server on port :%d", port)
	return serve(ctx, "public", fmt.Sprintf(":%d", port), handler)
}
