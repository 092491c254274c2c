package middleware

import (
	"net/http"
	"strings"
)

// OriginMatcher reports whether a browser origin may use the API.
type OriginMatcher struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginMatcher builds a matcher. An empty list or "*" allows every origin.
func NewOriginMatcher(allowedOrigins ...string) OriginMatcher {
	m := OriginMatcher{
		allowAll: len(allowedOrigins) == 0,
		allowed:  make(map[string]struct{}, len(allowedOrigins)),
	}
	for _, o := range allowedOrigins {
		if o == "*" {
			m.allowAll = true
		}
		m.allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return m
}

// AllowAll reports whether the wildcard is in effect.
func (m OriginMatcher) AllowAll() bool {
	return m.allowAll
}

// Allowed reports whether origin is permitted.
func (m OriginMatcher) Allowed(origin string) bool {
	if m.allowAll {
		return true
	}
	_, ok := m.allowed[strings.TrimRight(origin, "/")]
	return ok
}

// CORS allows the browser front-end, served from another origin, to call the API.
func CORS(allowedOrigins ...string) func(http.Handler) http.Handler {
	origins := NewOriginMatcher(allowedOrigins...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && origins.Allowed(origin) {
				h := w.Header()
				if origins.AllowAll() {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
