// Package api serves the status of a calibration run over HTTP
package api

import (
	"net/http"
	"time"

	"github.com/RMahshie/sigcal/internal/api/handlers"
	"github.com/RMahshie/sigcal/internal/config"
	"github.com/RMahshie/sigcal/internal/repository"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the status API
func NewRouter(cfg config.ServerConfig, source handlers.RunSource, repo repository.ResultRepository) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(zerologLogger())
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	humaConfig := huma.DefaultConfig("Signal Calibration API", Version)
	humaConfig.DocsPath = "/api/docs"
	api := humachi.New(router, humaConfig)

	RegisterRoutes(api, source, repo)
	return router
}

// NewServer returns an HTTP server for the status API
func NewServer(cfg config.ServerConfig, source handlers.RunSource, repo repository.ResultRepository) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, source, repo),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// zerologLogger returns a Chi middleware that logs HTTP requests using zerolog
func zerologLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_ip", r.RemoteAddr).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Msg("HTTP request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
