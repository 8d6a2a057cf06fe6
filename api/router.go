// Package api exposes the query service over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the handler's routes. apiLog receives one line per request
// and one per response.
func NewRouter(h *Handler, apiLog logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LogAPICalls(apiLog))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/search", h.SearchGet)
	r.Post("/search", h.SearchPost)
	r.Get("/stats", h.Stats)
	r.Get("/health", h.Health)
	return r
}

// LogAPICalls logs each request with its query parameters and each response
// with its status.
func LogAPICalls(log logrus.FieldLogger) func(http.Handler) http.Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := log.WithField("request_id", middleware.GetReqID(r.Context()))
			entry.Infof("Request: %s %s, Params: %v", r.Method, r.URL.String(), map[string][]string(r.URL.Query()))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				entry.WithFields(logrus.Fields{
					"status":   status,
					"bytes":    ww.BytesWritten(),
					"duration": time.Since(start).String(),
				}).Infof("Response: %d %s", status, r.URL.String())
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
