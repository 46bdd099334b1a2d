package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kadrio/idphoto/internal/api/response"
	"github.com/kadrio/idphoto/internal/registry"
	"github.com/kadrio/idphoto/internal/storage"
)

// NewDownloadHandler returns the handler for
// GET /api/v1/output/{sessionID}/{filename}, serving a processed file as an
// attachment.
func NewDownloadHandler(files *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		filename := storage.SanitizeFilename(chi.URLParam(r, "filename"))

		if !storage.ValidSessionID(sessionID) || !files.Exists(sessionID, filename, storage.AreaOutput) {
			response.Error(w, http.StatusNotFound, "FILE_NOT_FOUND", "File not found", nil)
			return
		}

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, files.FilePath(sessionID, filename, storage.AreaOutput))
	}
}

// NewClearHandler returns the handler for POST /api/v1/clear. It removes the
// session's files and task records in one irreversible step.
func NewClearHandler(files *storage.Store, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := clearSessionID(r)
		if sessionID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "session_id is required", nil)
			return
		}
		if !storage.ValidSessionID(sessionID) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid session_id", nil)
			return
		}

		removed := reg.ClearSession(sessionID)
		if !files.ClearSession(sessionID) {
			response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to clear session data", nil)
			return
		}

		slog.Info("session cleared", "session_id", sessionID, "tasks_removed", removed)
		response.JSON(w, map[string]any{
			"message":       "Session cleared",
			"tasks_removed": removed,
		})
	}
}

func clearSessionID(r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return ""
		}
		return req.SessionID
	}
	return r.FormValue("session_id")
}
