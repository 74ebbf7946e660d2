package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/ignite/mailgun-dsr-connector/internal/pkg/httputil"
	"github.com/ignite/mailgun-dsr-connector/internal/service/dsr"
)

// RequestIDHeader carries the DSR request ID in and out.
const RequestIDHeader = httputil.RequestIDHeader

// SetupRoutes builds the router. allowedOrigins empty means no CORS headers
// are sent to browsers.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
			ExposedHeaders: []string{RequestIDHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.HealthCheck)
	r.Get("/health/ready", h.Readiness)

	r.Route("/api/dsr", func(r chi.Router) {
		r.Post("/seed", h.Seed)
		r.Post("/access", h.Access)
		r.Post("/erasure", h.Erasure)
		r.Get("/audit", h.Audit)
	})

	return r
}

// requestID puts a DSR request ID on the context: the caller's X-Request-ID
// when it is a UUID, otherwise a fresh one. It is echoed on the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(dsr.WithRequestID(r.Context(), id)))
	})
}
