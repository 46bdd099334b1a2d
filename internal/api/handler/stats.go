package handler

import (
	"net/http"

	"github.com/kadrio/idphoto/internal/api/response"
	"github.com/kadrio/idphoto/internal/registry"
)

// NewStatsHandler returns the handler for GET /api/v1/stats, exposing the
// registry's aggregate counters.
func NewStatsHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, reg.Stats())
	}
}
