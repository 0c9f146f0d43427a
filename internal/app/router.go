// Package app assembles the service: repositories, broker, services,
// background loops, and the HTTP router.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	httpserver "github.com/fairyhunter13/taskhub/internal/adapter/httpserver"
	"github.com/fairyhunter13/taskhub/internal/adapter/observability"
	"github.com/fairyhunter13/taskhub/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input allows any origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit mutating endpoints per client IP.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/tasks", srv.SubmitTaskHandler)
		wr.Delete("/tasks/{id}", srv.CancelTaskHandler)
		wr.Post("/alarms/{id}/acknowledge", srv.AcknowledgeAlarmHandler)
		wr.Post("/alarms/{id}/resolve", srv.ResolveAlarmHandler)
		wr.Post("/system/shutdown", srv.ShutdownHandler)
		wr.Post("/test/alarm", srv.TestAlarmHandler)
	})

	r.Get("/tasks", srv.ListTasksHandler)
	r.Get("/tasks/{id}", srv.GetTaskHandler)
	r.Get("/queues", srv.QueuesHandler)
	r.Get("/queues/{name}/health", srv.QueueHealthHandler)
	r.Get("/alarms", srv.AlarmsHandler)
	r.Get("/health", srv.HealthHandler)
	r.Get("/health/quick", srv.HealthQuickHandler)
	r.Get("/health/components", srv.HealthComponentsHandler)
	r.Get("/system/status", srv.SystemStatusHandler)

	r.Get("/healthz", srv.HealthzHandler)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	if cfg.AdminEnabled() {
		MountDashboard(r, srv)
	}

	handler := httpserver.SecurityHeaders(r)
	return otelhttp.NewHandler(handler, "http.server")
}

// MountDashboard wires the admin dashboard routes behind session auth.
func MountDashboard(r chi.Router, srv *httpserver.Server) {
	r.Get("/dashboard/login", srv.LoginPageHandler)
	r.Post("/dashboard/login", srv.LoginSubmitHandler)
	r.Get("/dashboard/logout", srv.LogoutHandler)
	r.Group(func(pr chi.Router) {
		pr.Use(srv.Sessions().AuthRequired)
		pr.Get("/dashboard", srv.DashboardHandler)
		pr.Get("/dashboard/api/overview", srv.DashboardOverviewAPIHandler)
	})
}
