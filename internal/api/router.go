package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/kadrio/idphoto/internal/api/middleware"
	"github.com/kadrio/idphoto/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit       *mw.RateLimit
	UploadRateLimit *mw.RateLimit
	Breaker         *mw.Breaker

	HealthHandler        http.HandlerFunc
	UploadHandler        http.HandlerFunc
	StatusHandler        http.HandlerFunc
	SessionStatusHandler http.HandlerFunc
	DownloadHandler      http.HandlerFunc
	ClearHandler         http.HandlerFunc
	StatsHandler         http.HandlerFunc
}

// NewRouter builds the Chi router with the admission-control middleware
// stack and all routes. The upload route carries its own, stricter limiter
// on top of the shared one.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Admission-controlled routes
	r.Group(func(r chi.Router) {
		r.Use(mw.ResolveIdentity)
		if deps.Breaker != nil {
			r.Use(deps.Breaker.Protect)
		}
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		if deps.UploadRateLimit != nil {
			r.With(deps.UploadRateLimit.Limit).Post("/api/v1/upload", orNotImplemented(deps.UploadHandler))
		} else {
			r.Post("/api/v1/upload", orNotImplemented(deps.UploadHandler))
		}

		r.Get("/api/v1/status/{taskID}", orNotImplemented(deps.StatusHandler))
		r.Get("/api/v1/status/session/{sessionID}", orNotImplemented(deps.SessionStatusHandler))
		r.Get("/api/v1/output/{sessionID}/{filename}", orNotImplemented(deps.DownloadHandler))
		r.Post("/api/v1/clear", orNotImplemented(deps.ClearHandler))
		r.Get("/api/v1/stats", orNotImplemented(deps.StatsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
