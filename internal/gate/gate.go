// Package gate admits or rejects inbound HTTP requests by client IP.
package gate

import (
	"context"
	"net/http"

	"geogate/internal/access"
	"geogate/internal/auth"
	"geogate/internal/config"
)

type Resolver interface {
	Resolve(ctx context.Context, ip string) access.Decision
}

type MissRecorder interface {
	RecordMiss(ctx context.Context, ip string)
}

type Gate struct {
	resolver      Resolver
	misses        MissRecorder
	settings      access.SettingsFunc
	authenticated func(*http.Request) bool
}

type Option func(*Gate)

// WithSettings replaces the configuration provider.
func WithSettings(settings access.SettingsFunc) Option {
	return func(g *Gate) {
		if settings != nil {
			g.settings = settings
		}
	}
}

// WithAuthenticator replaces the check for an authenticated principal.
func WithAuthenticator(check func(*http.Request) bool) Option {
	return func(g *Gate) {
		if check != nil {
			g.authenticated = check
		}
	}
}

func New(resolver Resolver, misses MissRecorder, opts ...Option) *Gate {
	g := &Gate{
		resolver:      resolver,
		misses:        misses,
		settings:      config.GetAccessFilter,
		authenticated: auth.IsAuthenticated,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Middleware answers 503 with an empty body for denied client IPs.
// Requests pass unchanged when the filter is disabled, the caller is
// authenticated, the request is a sub-request or no client IP is known.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := g.settings()
		if !filter.Enabled || IsSubrequest(r.Context()) || g.authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}

		ip := ClientIP(r, filter.TrustForwardedHeaders)
		if ip == "" {
			next.ServeHTTP(w, r)
			return
		}

		if g.resolver.Resolve(r.Context(), ip) == access.Deny {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NotFoundObserver reports every 404 written by next to the abuse tracker.
func (g *Gate) NotFoundObserver(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		if recorder.status != http.StatusNotFound || IsSubrequest(r.Context()) || g.misses == nil {
			return
		}

		filter := g.settings()
		if !filter.Track404 {
			return
		}
		if ip := ClientIP(r, filter.TrustForwardedHeaders); ip != "" {
			g.misses.RecordMiss(r.Context(), ip)
		}
	})
}

type subrequestKey struct{}

// WithSubrequest marks ctx as belonging to an internal sub-request, which
// the gate never re-evaluates.
func WithSubrequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, subrequestKey{}, true)
}

func IsSubrequest(ctx context.Context) bool {
	marked, _ := ctx.Value(subrequestKey{}).(bool)
	return marked
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
