/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, picked up by logging.Ctx
  2. RealIP:     Client address from proxy headers, only when the peer is
                 a trusted proxy; rate limits key on the resulting address
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Access log: zerolog line + Prometheus counters per route
  5. CORS:       Cross-origin requests from the app

ROUTE GROUPS:
  /webhooks/bitlabs     Partner callback, rate limited, bare text replies
  /api/*                Client API, rate limited, bearer token
  /api/admin/*          Operator API, X-Admin-Token
  /metrics              Prometheus
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticator, AdminOnly
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earnly/credit-engine/logging"
	"github.com/earnly/credit-engine/metrics"
)

// RouterConfig carries what the router needs besides the handler.
type RouterConfig struct {
	Auth             *Authenticator
	AdminToken       string
	Webhook          http.Handler // mounted at /webhooks/bitlabs when set
	CORSOrigins      []string
	RateLimit        int // API requests per minute per IP, 0 disables
	WebhookRateLimit int // webhook requests per minute per IP, 0 disables

	// TrustedProxies lists peer IPs whose X-Forwarded-For / X-Real-IP
	// headers are believed. Empty means the headers are ignored.
	TrustedProxies []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(realIP(cfg.TrustedProxies))
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.Webhook != nil {
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(cfg.WebhookRateLimit))
			r.Handle("/webhooks/bitlabs", cfg.Webhook)
		})
	}

	auth := cfg.Auth
	if auth == nil {
		auth = NewAuthenticator("", "")
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(cfg.RateLimit))

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Post("/redeem", h.Redeem)
			r.Get("/rewards", h.ListRewards)

			r.Route("/me", func(r chi.Router) {
				r.Get("/", h.GetProfile)
				r.Post("/", h.CreateProfile)
				r.Get("/earnings", h.ListEarnings)
				r.Get("/redemptions", h.ListRedemptions)
				r.Get("/notifications", h.ListNotifications)
				r.Post("/notifications/{id}/read", h.MarkNotificationRead)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminOnly(cfg.AdminToken))

			r.Post("/catalog/seed", h.SeedCatalog)
			r.Post("/rewards/{id}/codes", h.AddCodes)
			r.Post("/reclaim", h.TriggerReclaim)
			r.Get("/scenarios", h.ListScenarios)
			r.Post("/scenarios/load", h.LoadScenario)
		})
	})

	return r
}

func rateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(perMinute, time.Minute)
}

// realIP applies chi's RealIP for requests arriving from a trusted proxy.
// Anyone else keeps their socket address.
func realIP(trusted []string) func(http.Handler) http.Handler {
	proxies := make(map[string]bool, len(trusted))
	for _, p := range trusted {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			proxies[ip.String()] = true
		}
	}
	return func(next http.Handler) http.Handler {
		viaProxy := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(proxies) > 0 && proxies[peerIP(r.RemoteAddr)] {
				viaProxy.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

// accessLog logs each request and records it under its route pattern.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &metrics.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		elapsed := time.Since(start)
		metrics.RecordAPIRequest(r.Method, route, rec.Status, elapsed)

		ev := logging.Ctx(r.Context()).Info()
		if rec.Status >= http.StatusInternalServerError {
			ev = logging.Ctx(r.Context()).Warn()
		}
		ev.Str("method", r.Method).Str("route", route).Int("status", rec.Status).
			Dur("duration", elapsed).Str("remote", r.RemoteAddr).Msg("HTTP request")
	})
}
