package handlers

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/metrics"
)

// RouterConfig carries the HTTP-level settings
type RouterConfig struct {
	CORSAllowOrigins string
	StaticDir        string
	RequestTimeout   time.Duration
}

// ParseOrigins splits a comma-separated origin list. Empty means any origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	out := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// NewRouter builds the gateway HTTP handler
func NewRouter(cfg RouterConfig, chat *ChatHandler, status *StatusHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(AccessLog(logger))
	r.Use(metrics.HTTPMetricsMiddleware)
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Post("/generate", chat.HandleGenerate)
	r.Post("/generate-vent", chat.HandleGenerateVent)
	r.Get("/characters", chat.HandleCharacters)

	r.Get("/health", status.HandleHealth)
	r.Get("/health/credentials", status.HandleCredentials)
	r.Get("/stats/characters", status.HandleUsage)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
		} else {
			logger.Warn("static directory not found, front-end disabled", zap.String("dir", cfg.StaticDir))
		}
	}

	return r
}
