package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadrio/idphoto/internal/api"
	mw "github.com/kadrio/idphoto/internal/api/middleware"
	"github.com/kadrio/idphoto/internal/limiter"
)

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.RemoteAddr = "192.0.2.4:54321"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestRouter_NotImplementedPlaceholders(t *testing.T) {
	router := api.NewRouter(api.Dependencies{})

	for _, path := range []string{
		"/api/v1/health",
		"/api/v1/status/some-task",
		"/api/v1/status/session/some-session-01",
		"/api/v1/output/some-session-01/file.jpg",
		"/api/v1/stats",
	} {
		w := get(router, path)
		assert.Equal(t, http.StatusNotImplemented, w.Code, path)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	router := api.NewRouter(api.Dependencies{})
	w := get(router, "/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_HealthSkipsAdmissionControl(t *testing.T) {
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(limiter.NewSlidingWindow(limiter.NewMemoryWindows(), 1, time.Minute, 0)),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		StatsHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	router := api.NewRouter(deps)

	// The shared limit of 1 is burned by the stats route...
	require.Equal(t, http.StatusOK, get(router, "/api/v1/stats").Code)
	require.Equal(t, http.StatusTooManyRequests, get(router, "/api/v1/stats").Code)

	// ...but health stays reachable.
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/api/v1/health").Code)
	}
}

func TestRouter_RateLimitHeadersOnLimitedRoutes(t *testing.T) {
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(limiter.NewSlidingWindow(limiter.NewMemoryWindows(), 10, time.Minute, 0)),
		StatsHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	router := api.NewRouter(deps)

	w := get(router, "/api/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRouter_UploadHasOwnLimiter(t *testing.T) {
	okFunc := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	deps := api.Dependencies{
		RateLimit:       mw.NewRateLimit(limiter.NewSlidingWindow(limiter.NewMemoryWindows(), 100, time.Minute, 0)),
		UploadRateLimit: mw.NewRateLimit(limiter.NewSlidingWindow(limiter.NewMemoryWindows(), 2, time.Minute, 0)),
		UploadHandler:   okFunc,
		StatsHandler:    okFunc,
	}
	router := api.NewRouter(deps)

	post := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/upload", nil)
		r.RemoteAddr = "192.0.2.4:54321"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, post().Code)
	require.Equal(t, http.StatusOK, post().Code)
	assert.Equal(t, http.StatusTooManyRequests, post().Code)

	// The shared limiter still has headroom for reads.
	assert.Equal(t, http.StatusOK, get(router, "/api/v1/stats").Code)
}

func TestRouter_BreakerShieldsAfterFailures(t *testing.T) {
	deps := api.Dependencies{
		Breaker: mw.NewBreaker(limiter.NewCircuitBreaker(2, time.Minute)),
		StatsHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	}
	router := api.NewRouter(deps)

	require.Equal(t, http.StatusInternalServerError, get(router, "/api/v1/stats").Code)
	require.Equal(t, http.StatusInternalServerError, get(router, "/api/v1/stats").Code)

	w := get(router, "/api/v1/stats")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRouter_RecoveryGuardsHandlers(t *testing.T) {
	deps := api.Dependencies{
		StatsHandler: func(http.ResponseWriter, *http.Request) {
			panic("handler blew up")
		},
	}
	router := api.NewRouter(deps)

	w := get(router, "/api/v1/stats")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
