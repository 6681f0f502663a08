package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
)

// recoverer turns a handler panic into a 500 error envelope.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", rec)
			writeError(w, http.StatusInternalServerError, fmt.Sprint(rec))
		}()
		next.ServeHTTP(w, r)
	})
}

type originPolicy struct {
	allowed  []string
	allowAll bool
}

// allows reports whether a cross-origin browser request from origin may read
// responses. Without an explicit list only loopback origins are trusted.
func (p originPolicy) allows(origin string) bool {
	if p.allowAll {
		return true
	}
	if len(p.allowed) > 0 {
		return slices.Contains(p.allowed, origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return isLoopback(u.Hostname())
}

// allowWebsocket is the CheckOrigin of the watch upgrader. Non-browser
// clients send no Origin; same-host pages are always accepted.
func (p originPolicy) allowWebsocket(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	return p.allows(origin)
}

func (p originPolicy) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && p.allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Keep-Alive")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
