package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sheetsight/analytics-backend/internal/adapter/httpserver"
	"github.com/sheetsight/analytics-backend/internal/adapter/observability"
	"github.com/sheetsight/analytics-backend/internal/config"
	"github.com/sheetsight/analytics-backend/internal/domain"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty or "*" input means "allow any origin".
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// RouterDeps collects the handlers and readiness checks the router needs.
type RouterDeps struct {
	TriggerSyncHandler http.HandlerFunc
	DBCheck             func(ctx domain.Context) error
	CacheCheck          func(ctx domain.Context) error
	SheetsCheck         func(ctx domain.Context) error
}

// BuildRouter constructs the HTTP handler for cmd/server: the internal sync
// trigger endpoint plus health/readiness/metrics surface.
func BuildRouter(cfg config.Config, deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Post("/trigger-sync", deps.TriggerSyncHandler)
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(deps))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return httpserver.SecurityHeaders(r)
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyzHandler reports 200 only when every dependency check passes,
// otherwise 503 with the first failing check named.
func readyzHandler(deps RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]func(domain.Context) error{
			"db":     deps.DBCheck,
			"cache":  deps.CacheCheck,
			"sheets": deps.SheetsCheck,
		}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not ready",
					"check":  name,
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
